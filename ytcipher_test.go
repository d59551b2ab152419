package ytcipher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ytget/ytcipher/errs"
	"github.com/ytget/ytcipher/internal/store"
	"github.com/ytget/ytcipher/pkg/client"
	"github.com/ytget/ytcipher/types"
	"github.com/ytget/ytcipher/youtube/cipher"
	"github.com/ytget/ytcipher/youtube/formats"
)

const playerScript = `var CK={XN:function(a,b){var c=a[0];a[0]=a[b%a.length];a[b%a.length]=c},
AE:function(a){a.reverse()},
ng:function(a,b){a.splice(0,b)}};
DK=function(a){a=a.split("");CK.ng(a,3);CK.AE(a,7);CK.XN(a,49);return a.join("")};
g.set("signature",DK(f.s))`

const shortScript = `var Q={r:function(a){a.reverse()}};
Z=function(a){a=a.split("");Q.r(a);return a.join("")};
g.set("signature",Z(f.s))`

const sig84 = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789ABCDEFGHIJKLMNOPQRSTUV"

// rewriteTransport sends every request to the test server.
type rewriteTransport struct {
	target *url.URL
}

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = rt.target.Scheme
	r.URL.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(r)
}

func newServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	sc := url.Values{}
	sc.Set("s", sig84)
	sc.Set("sp", "sig")
	sc.Set("url", "https://r1.googlevideo.com/videoplayback?itag=22")
	page := `<html><script>ytcfg.set({"sts":19834,"jsUrl":"\/s\/player\/4fcd6e4a\/base.js"});</script>` +
		`<script>var ytInitialPlayerResponse = {"streamingData":{"formats":[` +
		`{"itag":18,"mimeType":"video/mp4","url":"https://r1.googlevideo.com/videoplayback?itag=18"},` +
		`{"itag":22,"mimeType":"video/mp4","signatureCipher":"` + sc.Encode() + `"}]}};</script></html>`

	mux := http.NewServeMux()
	mux.HandleFunc("/s/player/4fcd6e4a/base.js", func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		_, _ = w.Write([]byte(playerScript))
	})
	mux.HandleFunc("/s/player/short/base.js", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(shortScript))
	})
	mux.HandleFunc("/watch", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("v") != "dQw4w9WgXcQ" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(page))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestEngine_Resolve(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, &hits)
	e := New().WithMemoryStore(0).WithVerify(true)

	ref := types.PlayerRef{ReleaseID: "19834", ScriptURL: srv.URL + "/s/player/4fcd6e4a/base.js"}
	p, err := e.Resolve(context.Background(), ref)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if p.Encode() != "s3 r w49" {
		t.Errorf("program = %q", p.Encode())
	}
	if _, err := e.Resolve(context.Background(), ref); err != nil {
		t.Fatalf("second Resolve error: %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("script fetched %d times, want 1", hits.Load())
	}

	got, err := e.Decipher(sig84, p)
	if err != nil {
		t.Fatalf("Decipher error: %v", err)
	}
	want, _ := cipher.Apply(sig84, p)
	if got != want {
		t.Errorf("Decipher = %q, want %q", got, want)
	}
}

func TestEngine_CacheFile(t *testing.T) {
	srv := newServer(t, nil)
	path := filepath.Join(t.TempDir(), "cache", "ciphers.json")
	e := New().WithCacheFile(path)

	ref := types.PlayerRef{ReleaseID: "19834", ScriptURL: srv.URL + "/s/player/4fcd6e4a/base.js"}
	if _, err := e.Resolve(context.Background(), ref); err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("cache file not written: %v", err)
	}
	if !strings.Contains(string(b), `"19834": "s3 r w49"`) {
		t.Errorf("cache file = %s", b)
	}

	// a second engine reads the file instead of fetching
	fs, _ := store.NewFileStore(path)
	offline := New().WithStore(fs)
	p, err := offline.Resolve(context.Background(), types.PlayerRef{ReleaseID: "19834", ScriptURL: "http://127.0.0.1:1/unreachable.js"})
	if err != nil || p.Encode() != "s3 r w49" {
		t.Errorf("offline Resolve = %q, %v", p.Encode(), err)
	}
}

func TestEngine_ResolveAll(t *testing.T) {
	srv := newServer(t, nil)
	e := New().WithMemoryStore(0).WithWorkers(2)

	refs := []types.PlayerRef{
		{ReleaseID: "1", ScriptURL: srv.URL + "/s/player/4fcd6e4a/base.js"},
		{ReleaseID: "2", ScriptURL: srv.URL + "/missing.js"},
		{ReleaseID: "3", ScriptURL: srv.URL + "/s/player/short/base.js"},
		{ReleaseID: "1", ScriptURL: srv.URL + "/s/player/4fcd6e4a/base.js"},
	}
	results := e.ResolveAll(context.Background(), refs)
	if len(results) != len(refs) {
		t.Fatalf("got %d results", len(results))
	}
	for i, r := range results {
		if r.Ref != refs[i] {
			t.Errorf("result %d out of order: %+v", i, r.Ref)
		}
	}
	if results[0].Err != nil || results[0].Program.Encode() != "s3 r w49" {
		t.Errorf("result 0 = %q, %v", results[0].Program.Encode(), results[0].Err)
	}
	if !cipher.IsFetchError(results[1].Err) {
		t.Errorf("result 1 error = %v", results[1].Err)
	}
	if results[2].Err != nil || results[2].Program.Encode() != "r" {
		t.Errorf("result 2 = %q, %v", results[2].Program.Encode(), results[2].Err)
	}
	if results[3].Err != nil || results[3].Program.Encode() != "s3 r w49" {
		t.Errorf("result 3 = %q, %v", results[3].Program.Encode(), results[3].Err)
	}
}

func TestEngine_ResolveVideo(t *testing.T) {
	srv := newServer(t, nil)
	target, _ := url.Parse(srv.URL)
	e := New().
		WithMemoryStore(0).
		WithHTTPClient(&http.Client{Transport: rewriteTransport{target: target}})

	v, err := e.ResolveVideo(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("ResolveVideo error: %v", err)
	}
	if v.ID != "dQw4w9WgXcQ" || v.Ref.ReleaseID != "19834" {
		t.Errorf("video = %+v", v)
	}
	if v.Ref.ScriptURL != "https://www.youtube.com/s/player/4fcd6e4a/base.js" {
		t.Errorf("script url = %q", v.Ref.ScriptURL)
	}
	if v.Program.Encode() != "s3 r w49" {
		t.Errorf("program = %q", v.Program.Encode())
	}
	if len(v.Formats) != 2 {
		t.Fatalf("got %d formats", len(v.Formats))
	}
	u, err := url.Parse(v.Formats[1].URL)
	if err != nil {
		t.Fatalf("format url: %v", err)
	}
	want, _ := cipher.Apply(sig84, v.Program)
	if u.Query().Get("sig") != want || u.Query().Get("ratebypass") != "yes" {
		t.Errorf("format 22 url = %s", v.Formats[1].URL)
	}

	if _, err := e.ResolveVideo(context.Background(), "https://example.com/nothing"); err == nil {
		t.Error("expected error for non-video url")
	}
}

func TestVideo_BestStreams(t *testing.T) {
	srv := newServer(t, nil)
	target, _ := url.Parse(srv.URL)
	e := New().
		WithMemoryStore(0).
		WithHTTPClient(&http.Client{Transport: rewriteTransport{target: target}})

	v, err := e.ResolveVideo(context.Background(), "dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("ResolveVideo error: %v", err)
	}
	f, err := v.BestMultiplexed("mp4")
	if err != nil {
		t.Fatalf("BestMultiplexed error: %v", err)
	}
	if f.Itag != 22 || !strings.Contains(f.URL, "sig=") {
		t.Errorf("best multiplexed = %+v", f)
	}
	if _, err := v.BestAdaptive("mp4", 0); !errors.Is(err, formats.ErrNoFormat) {
		t.Errorf("expected ErrNoFormat without adaptive streams, got %v", err)
	}
}

func TestEngine_ResolveVideoRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	target, _ := url.Parse(srv.URL)
	e := New().
		WithMemoryStore(0).
		WithClientConfig(client.Config{Retries: 1}).
		WithHTTPClient(&http.Client{Transport: rewriteTransport{target: target}})

	_, err := e.ResolveVideo(context.Background(), "dQw4w9WgXcQ")
	if !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestEngine_DecipherURL(t *testing.T) {
	sc := url.Values{}
	sc.Set("s", "abcdefgh")
	sc.Set("url", "https://r1.googlevideo.com/videoplayback")
	p := cipher.Program{{Kind: cipher.Slice, Arg: 2}, {Kind: cipher.Reverse}, {Kind: cipher.Swap, Arg: 3}}
	got, err := New().DecipherURL(p, sc.Encode())
	if err != nil {
		t.Fatalf("DecipherURL error: %v", err)
	}
	if !strings.Contains(got, "signature=egfhdc") {
		t.Errorf("DecipherURL = %q", got)
	}
}
