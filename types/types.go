package types

import "strings"

// PlayerRef identifies the player script release a page was rendered with.
type PlayerRef struct {
	// ReleaseID is stable across plays and changes on every player redeploy.
	ReleaseID string
	ScriptURL string
}

// Format describes an available media format.
type Format struct {
	Itag            int
	URL             string
	Quality         string
	MimeType        string
	Bitrate         int
	SignatureCipher string
	// Adaptive is set for audio-only or video-only streams.
	Adaptive bool
}

// NeedsDecipher reports whether the format has no direct URL yet and carries
// a signatureCipher that must be deciphered to build one.
func (f Format) NeedsDecipher() bool {
	return strings.TrimSpace(f.URL) == "" && f.SignatureCipher != ""
}
