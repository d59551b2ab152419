// Package player finds the player release a watch page was rendered with.
package player

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	json "github.com/goccy/go-json"

	"github.com/ytget/ytcipher/errs"
	"github.com/ytget/ytcipher/internal/logger"
	"github.com/ytget/ytcipher/types"
	"github.com/ytget/ytcipher/youtube/cipher"
)

// BaseURL is the origin relative script paths are resolved against.
const BaseURL = "https://www.youtube.com"

const (
	videoIDLength = 11
	watchPath     = "/watch"
)

var (
	releasePatterns = []*regexp.Regexp{
		regexp.MustCompile(`"sts"\s*:\s*(\d+)`),
		regexp.MustCompile(`signatureTimestamp["']?\s*:\s*(\d+)`),
	}
	scriptPatterns = []*regexp.Regexp{
		regexp.MustCompile(`"jsUrl"\s*:\s*"([^"]+)"`),
		regexp.MustCompile(`"PLAYER_JS_URL"\s*:\s*"([^"]+)"`),
		regexp.MustCompile(`"js"\s*:\s*"([^"]*base\.js)"`),
	}
	playerPathRe = regexp.MustCompile(`/s/player/([a-zA-Z0-9_-]+)/`)
	videoIDRe    = regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`)
	jsUnescaper  = strings.NewReplacer(`\/`, `/`, `\u0026`, `&`)
)

// ExtractRef reads the release id and script URL from a watch page. The id
// comes from "sts" or signatureTimestamp, falling back to the /s/player/<id>/
// path segment of the script URL.
func ExtractRef(html string) (types.PlayerRef, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return types.PlayerRef{}, fmt.Errorf("parse watch page: %w", err)
	}

	var (
		ref     types.PlayerRef
		srcAttr string
	)
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if src, ok := s.Attr("src"); ok && srcAttr == "" && playerPathRe.MatchString(src) {
			srcAttr = src
		}
		text := s.Text()
		if ref.ReleaseID == "" {
			ref.ReleaseID = firstGroup(releasePatterns, text)
		}
		if ref.ScriptURL == "" {
			ref.ScriptURL = firstGroup(scriptPatterns, text)
		}
		return ref.ReleaseID == "" || ref.ScriptURL == ""
	})
	// pages served as bare JSON carry no script elements
	if ref.ReleaseID == "" {
		ref.ReleaseID = firstGroup(releasePatterns, html)
	}
	if ref.ScriptURL == "" {
		ref.ScriptURL = firstGroup(scriptPatterns, html)
	}
	if ref.ScriptURL == "" {
		ref.ScriptURL = srcAttr
	}
	if ref.ScriptURL == "" {
		return types.PlayerRef{}, fmt.Errorf("%w: no player script url in page", errs.ErrPlayerNotFound)
	}

	abs, err := resolveScriptURL(ref.ScriptURL)
	if err != nil {
		return types.PlayerRef{}, err
	}
	ref.ScriptURL = abs

	if ref.ReleaseID == "" {
		if m := playerPathRe.FindStringSubmatch(ref.ScriptURL); m != nil {
			ref.ReleaseID = m[1]
		}
	}
	if ref.ReleaseID == "" {
		return types.PlayerRef{}, fmt.Errorf("%w: no release id for %s", errs.ErrPlayerNotFound, ref.ScriptURL)
	}
	return ref, nil
}

func firstGroup(patterns []*regexp.Regexp, text string) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); m != nil && m[1] != "" {
			return m[1]
		}
	}
	return ""
}

func resolveScriptURL(raw string) (string, error) {
	raw = jsUnescaper.Replace(raw)
	base, _ := url.Parse(BaseURL)
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: bad script url %q: %v", errs.ErrPlayerNotFound, raw, err)
	}
	return base.ResolveReference(u).String(), nil
}

const playerResponseVar = "ytInitialPlayerResponse"

// ExtractPlayerResponse returns the JSON document assigned to
// ytInitialPlayerResponse in a watch page.
func ExtractPlayerResponse(html string) ([]byte, error) {
	for rest := html; ; {
		i := strings.Index(rest, playerResponseVar)
		if i < 0 {
			return nil, fmt.Errorf("%w: no %s in page", errs.ErrPlayerNotFound, playerResponseVar)
		}
		rest = rest[i+len(playerResponseVar):]
		tail := strings.TrimLeft(rest, " \t\r\n")
		if !strings.HasPrefix(tail, "=") {
			continue
		}
		tail = strings.TrimLeft(tail[1:], " \t\r\n")
		if !strings.HasPrefix(tail, "{") {
			continue
		}
		var raw json.RawMessage
		if err := json.NewDecoder(strings.NewReader(tail)).Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode %s: %w", playerResponseVar, err)
		}
		return raw, nil
	}
}

// Page is a fetched watch page.
type Page struct {
	VideoID string
	Ref     types.PlayerRef
	HTML    string
}

// FetchPage downloads the watch page for videoURL and extracts its player
// reference.
func FetchPage(ctx context.Context, f cipher.Fetcher, videoURL string) (*Page, error) {
	id, err := VideoID(videoURL)
	if err != nil {
		return nil, err
	}
	page := WatchURL(id)
	html, err := f.FetchText(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("fetch watch page %s: %w", page, err)
	}
	ref, err := ExtractRef(html)
	if err != nil {
		return nil, err
	}
	logger.WithComponent(logger.ComponentPlayer).Debug("player reference", map[string]any{
		"video":   id,
		"release": ref.ReleaseID,
		"script":  ref.ScriptURL,
	})
	return &Page{VideoID: id, Ref: ref, HTML: html}, nil
}

// FetchRef is FetchPage without the page body.
func FetchRef(ctx context.Context, f cipher.Fetcher, videoURL string) (types.PlayerRef, error) {
	p, err := FetchPage(ctx, f, videoURL)
	if err != nil {
		return types.PlayerRef{}, err
	}
	return p.Ref, nil
}

// WatchURL returns the canonical watch page for a video id.
func WatchURL(id string) string {
	return BaseURL + watchPath + "?v=" + url.QueryEscape(id)
}

// VideoID extracts the 11 character id from watch, short, embed and shorts
// URLs. A bare id is returned unchanged.
func VideoID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if videoIDRe.MatchString(raw) {
		return raw, nil
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrInvalidURL, err)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	var id string
	switch host {
	case "youtu.be":
		id = strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)[0]
	case "youtube.com", "music.youtube.com", "youtube-nocookie.com":
		switch {
		case strings.HasPrefix(u.Path, watchPath):
			id = u.Query().Get("v")
		case strings.HasPrefix(u.Path, "/embed/"), strings.HasPrefix(u.Path, "/shorts/"), strings.HasPrefix(u.Path, "/v/"):
			parts := strings.Split(strings.Trim(u.Path, "/"), "/")
			if len(parts) >= 2 {
				id = parts[1]
			}
		}
	}
	if len(id) != videoIDLength || !videoIDRe.MatchString(id) {
		return "", fmt.Errorf("%w: %s", errs.ErrInvalidURL, raw)
	}
	return id, nil
}
