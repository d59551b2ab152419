package formats

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ytget/ytcipher/types"
)

var (
	// ErrUnsupportedExt is returned for a container other than mp4, webm, 3gp
	// or m4a.
	ErrUnsupportedExt = errors.New("unsupported container")
	// ErrNoFormat is returned when nothing in the list matches.
	ErrNoFormat = errors.New("no matching format")
)

// multiplexedLadder lists progressive itags from best to worst.
var multiplexedLadder = []int{22, 18, 43, 36, 17}

var selectableExts = map[string]bool{"mp4": true, "webm": true, "3gp": true, "m4a": true}

var heightRe = regexp.MustCompile(`([0-9]{3,4})p`)

// Adaptive is the best audio-only and video-only pair for one container.
// Either side is nil when the list has no stream of that kind.
type Adaptive struct {
	Audio *types.Format
	Video *types.Format
}

// BestAdaptive picks the highest bitrate audio and video streams among the
// adaptive formats whose container is ext. maxHeight bounds the video side;
// zero means no bound.
func BestAdaptive(formats []types.Format, ext string, maxHeight int) (Adaptive, error) {
	ext, err := normalizeExt(ext)
	if err != nil {
		return Adaptive{}, err
	}
	var best Adaptive
	for i := range formats {
		f := &formats[i]
		if !f.Adaptive {
			continue
		}
		switch {
		case mimeEquals(*f, "audio", ext):
			if best.Audio == nil || betterByBitrateThenHeight(*f, *best.Audio) {
				best.Audio = f
			}
		case mimeEquals(*f, "video", ext) && withinHeight(*f, 0, maxHeight):
			if best.Video == nil || betterByBitrateThenHeight(*f, *best.Video) {
				best.Video = f
			}
		}
	}
	if best.Audio == nil && best.Video == nil {
		return Adaptive{}, fmt.Errorf("%w: adaptive %s", ErrNoFormat, ext)
	}
	return best, nil
}

// BestMultiplexed returns the first progressive format in ext along the
// 22, 18, 43, 36, 17 itag ladder.
func BestMultiplexed(formats []types.Format, ext string) (*types.Format, error) {
	ext, err := normalizeExt(ext)
	if err != nil {
		return nil, err
	}
	for _, itag := range multiplexedLadder {
		for i := range formats {
			f := &formats[i]
			if !f.Adaptive && itagEquals(*f, itag) && mimeEquals(*f, "video", ext) {
				return f, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: multiplexed %s", ErrNoFormat, ext)
}

func normalizeExt(ext string) (string, error) {
	e := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
	if !selectableExts[e] {
		return "", fmt.Errorf("%w %q", ErrUnsupportedExt, ext)
	}
	return e, nil
}

// mediaType splits "video/mp4; codecs=..." into "video" and "mp4".
func mediaType(mime string) (string, string) {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	typ, sub, ok := strings.Cut(strings.TrimSpace(mime), "/")
	if !ok {
		return "", ""
	}
	return typ, sub
}

// mimeEquals reports whether f is of the given top level type in container
// ext. m4a names audio in an mp4 container and 3gp matches video/3gpp.
func mimeEquals(f types.Format, kind, ext string) bool {
	typ, sub := mediaType(f.MimeType)
	if typ != kind {
		return false
	}
	switch {
	case ext == "m4a" && kind == "audio":
		return sub == "mp4" || sub == "m4a"
	case ext == "3gp":
		return sub == "3gpp" || sub == "3gp"
	}
	return sub == ext
}

func itagEquals(f types.Format, itag int) bool {
	return itag > 0 && f.Itag == itag
}

// withinHeight checks the quality label height against [minHeight, maxHeight].
// A zero bound is ignored. A label without a height passes only when there
// is no minimum.
func withinHeight(f types.Format, minHeight, maxHeight int) bool {
	h := parseHeight(f.Quality)
	if minHeight > 0 && h < minHeight {
		return false
	}
	if maxHeight > 0 && h > maxHeight {
		return false
	}
	return true
}

func betterByBitrateThenHeight(candidate, current types.Format) bool {
	if candidate.Bitrate != current.Bitrate {
		return candidate.Bitrate > current.Bitrate
	}
	return parseHeight(candidate.Quality) > parseHeight(current.Quality)
}

func parseHeight(label string) int {
	m := heightRe.FindStringSubmatch(label)
	if len(m) >= 2 {
		if v, err := strconv.Atoi(m[1]); err == nil {
			return v
		}
	}
	return 0
}
