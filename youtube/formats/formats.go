// Package formats turns signatureCipher fields into playable stream URLs.
package formats

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/ytget/ytcipher/internal/logger"
	"github.com/ytget/ytcipher/types"
	"github.com/ytget/ytcipher/youtube/cipher"
)

const (
	defaultSignatureParam = "signature"
	rateBypassParam       = "ratebypass"
	rateBypassValue       = "yes"
)

// ErrMalformedCipher is returned for a signatureCipher without a signature
// or a URL.
var ErrMalformedCipher = errors.New("malformed signatureCipher")

// Cipher is a decoded signatureCipher value.
type Cipher struct {
	// Signature is the obfuscated value.
	Signature string
	// Param is the query parameter the deciphered value goes into.
	Param string
	URL   string
}

// ParseSignatureCipher decodes the s, sp and url fields. sp defaults to
// "signature".
func ParseSignatureCipher(sc string) (Cipher, error) {
	q, err := url.ParseQuery(sc)
	if err != nil {
		return Cipher{}, fmt.Errorf("parse signatureCipher: %w", err)
	}
	c := Cipher{Signature: q.Get("s"), Param: q.Get("sp"), URL: q.Get("url")}
	if c.Param == "" {
		c.Param = defaultSignatureParam
	}
	if c.Signature == "" || c.URL == "" {
		return Cipher{}, fmt.Errorf("%w: missing signature or url", ErrMalformedCipher)
	}
	return c, nil
}

// DecipherURL applies p to the signature in sc and returns the stream URL
// with the result set on the signature parameter. ratebypass=yes is added
// when absent.
func DecipherURL(p cipher.Program, sc string) (string, error) {
	c, err := ParseSignatureCipher(sc)
	if err != nil {
		return "", err
	}
	sig, err := cipher.Apply(c.Signature, p)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", fmt.Errorf("parse cipher url: %w", err)
	}
	q := u.Query()
	q.Set(c.Param, sig)
	if q.Get(rateBypassParam) == "" {
		q.Set(rateBypassParam, rateBypassValue)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// DecipherFormats fills URL for every format that needs it and returns how
// many were filled. A format that fails is left unchanged and its error is
// included in the joined result.
func DecipherFormats(p cipher.Program, formats []types.Format) (int, error) {
	log := logger.WithComponent(logger.ComponentFormat)
	var (
		done int
		errs []error
	)
	for i := range formats {
		if !formats[i].NeedsDecipher() {
			continue
		}
		u, err := DecipherURL(p, formats[i].SignatureCipher)
		if err != nil {
			log.Warn("decipher failed", map[string]any{"itag": formats[i].Itag, "error": err.Error()})
			errs = append(errs, fmt.Errorf("itag %d: %w", formats[i].Itag, err))
			continue
		}
		formats[i].URL = u
		done++
	}
	log.Debug("deciphered formats", map[string]any{"done": done, "failed": len(errs), "total": len(formats)})
	return done, errors.Join(errs...)
}

type rawFormat struct {
	Itag            int    `json:"itag"`
	URL             string `json:"url"`
	MimeType        string `json:"mimeType"`
	QualityLabel    string `json:"qualityLabel"`
	Quality         string `json:"quality"`
	Bitrate         int    `json:"bitrate"`
	SignatureCipher string `json:"signatureCipher"`
	Cipher          string `json:"cipher"`
}

type playerResponse struct {
	StreamingData struct {
		Formats         []rawFormat `json:"formats"`
		AdaptiveFormats []rawFormat `json:"adaptiveFormats"`
	} `json:"streamingData"`
}

// ParsePlayerResponse reads progressive and adaptive formats from a player
// response document.
func ParsePlayerResponse(data []byte) ([]types.Format, error) {
	var pr playerResponse
	if err := json.Unmarshal(data, &pr); err != nil {
		return nil, fmt.Errorf("decode player response: %w", err)
	}
	progressive := len(pr.StreamingData.Formats)
	all := append(pr.StreamingData.Formats, pr.StreamingData.AdaptiveFormats...)
	out := make([]types.Format, 0, len(all))
	for i, f := range all {
		quality := f.QualityLabel
		if quality == "" {
			quality = f.Quality
		}
		sc := f.SignatureCipher
		if sc == "" {
			sc = f.Cipher
		}
		out = append(out, types.Format{
			Itag:            f.Itag,
			URL:             f.URL,
			Quality:         quality,
			MimeType:        f.MimeType,
			Bitrate:         f.Bitrate,
			SignatureCipher: sc,
			Adaptive:        i >= progressive,
		})
	}
	return out, nil
}

// Label renders a short human readable description of f.
func Label(f types.Format) string {
	parts := []string{"itag=" + strconv.Itoa(f.Itag)}
	if f.Quality != "" {
		parts = append(parts, f.Quality)
	}
	if mime := strings.TrimSpace(f.MimeType); mime != "" {
		if i := strings.Index(mime, ";"); i >= 0 {
			mime = mime[:i]
		}
		parts = append(parts, mime)
	}
	return strings.Join(parts, " ")
}
