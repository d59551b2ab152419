package ytcipher

import (
	"context"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ytget/ytcipher/internal/logger"
	"github.com/ytget/ytcipher/internal/store"
	"github.com/ytget/ytcipher/pkg/client"
	"github.com/ytget/ytcipher/types"
	"github.com/ytget/ytcipher/youtube/cipher"
	"github.com/ytget/ytcipher/youtube/formats"
	"github.com/ytget/ytcipher/youtube/player"
)

const workersPerCPU = 5

// Options holds Engine configuration. Use the chainable setters on Engine to
// populate it.
type Options struct {
	HTTPClient   *http.Client
	ClientConfig client.Config
	CacheFile    string
	Store        cipher.Store
	Verify       bool
	Workers      int
}

// Result is the outcome of resolving one reference in ResolveAll.
type Result struct {
	Ref     types.PlayerRef
	Program cipher.Program
	Err     error
}

// Video is a resolved watch page.
type Video struct {
	ID      string
	Ref     types.PlayerRef
	Program cipher.Program
	// Formats is empty when the page carried no player response.
	Formats []types.Format
}

// BestAdaptive returns the highest bitrate audio and video streams in ext,
// with the video side at most maxHeight tall when maxHeight is positive.
func (v *Video) BestAdaptive(ext string, maxHeight int) (formats.Adaptive, error) {
	return formats.BestAdaptive(v.Formats, ext, maxHeight)
}

// BestMultiplexed returns the best progressive stream in ext.
func (v *Video) BestMultiplexed(ext string) (*types.Format, error) {
	return formats.BestMultiplexed(v.Formats, ext)
}

// Engine wires the HTTP client, program store and resolver together.
type Engine struct {
	options  Options
	once     sync.Once
	fetcher  *client.Client
	resolver *cipher.Resolver
	initErr  error
}

// startPprofServer starts a pprof server for debugging
func startPprofServer() {
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

		log := logger.WithComponent(logger.ComponentApp)
		log.Info("starting pprof server", map[string]any{"addr": ":6060"})
		if err := http.ListenAndServe(":6060", mux); err != nil {
			log.Error("pprof server stopped", map[string]any{"error": err.Error()})
		}
	}()
}

// New creates an Engine with default options: the default HTTP client, a
// FileStore at store.DefaultPath and NumCPU*5 workers.
func New() *Engine {
	if os.Getenv("YTCIPHER_PPROF") == "1" {
		startPprofServer()
	}
	return &Engine{}
}

// WithHTTPClient sets a custom HTTP client to be used for all network calls.
func (e *Engine) WithHTTPClient(c *http.Client) *Engine {
	e.options.HTTPClient = c
	return e
}

// WithClientConfig sets timeout, retry, user agent and proxy for the default
// client. Ignored when WithHTTPClient supplies the transport.
func (e *Engine) WithClientConfig(cfg client.Config) *Engine {
	e.options.ClientConfig = cfg
	return e
}

// WithStore sets the program store. It takes precedence over WithCacheFile.
func (e *Engine) WithStore(s cipher.Store) *Engine {
	e.options.Store = s
	return e
}

// WithMemoryStore keeps programs in memory only, for ttl (zero keeps them
// until exit).
func (e *Engine) WithMemoryStore(ttl time.Duration) *Engine {
	e.options.Store = store.NewMemoryStore(ttl)
	return e
}

// WithCacheFile sets the location of the program file.
func (e *Engine) WithCacheFile(path string) *Engine {
	e.options.CacheFile = strings.TrimSpace(path)
	return e
}

// WithVerify enables checking every new program against the routine it was
// decompiled from.
func (e *Engine) WithVerify(on bool) *Engine {
	e.options.Verify = on
	return e
}

// WithWorkers bounds ResolveAll concurrency. Zero or less selects NumCPU*5.
func (e *Engine) WithWorkers(n int) *Engine {
	e.options.Workers = n
	return e
}

func (e *Engine) init() error {
	e.once.Do(func() {
		c := client.NewWith(e.options.ClientConfig)
		if e.options.HTTPClient != nil {
			c.HTTPClient = e.options.HTTPClient
		}
		e.fetcher = c

		s := e.options.Store
		if s == nil {
			fs, err := store.NewFileStore(e.options.CacheFile)
			if err != nil {
				e.initErr = err
				return
			}
			logger.WithComponent(logger.ComponentApp).Debug("using program file", map[string]any{"path": fs.Path()})
			s = fs
		}
		e.resolver = cipher.NewResolver(c, s).WithVerify(e.options.Verify)
	})
	return e.initErr
}

// Resolve returns the program for ref.
func (e *Engine) Resolve(ctx context.Context, ref types.PlayerRef) (cipher.Program, error) {
	if err := e.init(); err != nil {
		return nil, err
	}
	return e.resolver.Resolve(ctx, ref)
}

// ResolveAll resolves refs concurrently. Results keep the order of refs and a
// failure for one ref does not stop the others.
func (e *Engine) ResolveAll(ctx context.Context, refs []types.PlayerRef) []Result {
	results := make([]Result, len(refs))
	if err := e.init(); err != nil {
		for i, ref := range refs {
			results[i] = Result{Ref: ref, Err: err}
		}
		return results
	}

	workers := e.options.Workers
	if workers <= 0 {
		workers = runtime.NumCPU() * workersPerCPU
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			p, err := e.resolver.Resolve(ctx, ref)
			results[i] = Result{Ref: ref, Program: p, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ResolveVideo fetches the watch page for videoURL, resolves the program of
// its player release and deciphers the formats the page lists.
func (e *Engine) ResolveVideo(ctx context.Context, videoURL string) (*Video, error) {
	if err := e.init(); err != nil {
		return nil, err
	}
	log := logger.WithComponent(logger.ComponentApp)

	page, err := player.FetchPage(ctx, e.fetcher, videoURL)
	if err != nil {
		return nil, err
	}
	p, err := e.resolver.Resolve(ctx, page.Ref)
	if err != nil {
		return nil, err
	}
	id := page.VideoID
	v := &Video{ID: id, Ref: page.Ref, Program: p}

	raw, err := player.ExtractPlayerResponse(page.HTML)
	if err != nil {
		log.Debug("no player response in page", map[string]any{"video": id, "error": err.Error()})
		return v, nil
	}
	list, err := formats.ParsePlayerResponse(raw)
	if err != nil {
		log.Warn("player response unreadable", map[string]any{"video": id, "error": err.Error()})
		return v, nil
	}
	if _, err := formats.DecipherFormats(p, list); err != nil {
		log.Warn("some formats could not be deciphered", map[string]any{"video": id, "error": err.Error()})
	}
	v.Formats = list
	return v, nil
}

// Decipher applies p to signature.
func (e *Engine) Decipher(signature string, p cipher.Program) (string, error) {
	return cipher.Apply(signature, p)
}

// DecipherURL builds the stream URL for a signatureCipher value.
func (e *Engine) DecipherURL(p cipher.Program, signatureCipher string) (string, error) {
	return formats.DecipherURL(p, signatureCipher)
}
