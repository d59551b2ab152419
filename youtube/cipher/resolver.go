package cipher

import (
	"context"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/ytget/ytcipher/internal/logger"
	"github.com/ytget/ytcipher/types"
)

// Fetcher retrieves the text of a player script.
type Fetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}

// Store persists compiled programs by release id. Lookup never fails: a
// value that cannot be read is reported as a miss.
type Store interface {
	Lookup(releaseID string) (Program, bool)
	Put(releaseID string, p Program) error
}

// Resolver turns a player reference into a Program, decompiling each release
// at most once per process and at most once ever when a durable Store is set.
type Resolver struct {
	fetcher Fetcher
	store   Store
	verify  bool
	group   singleflight.Group
}

// NewResolver creates a Resolver. A nil store disables persistence.
func NewResolver(f Fetcher, s Store) *Resolver {
	return &Resolver{fetcher: f, store: s}
}

// WithVerify makes every newly decompiled program pass Verify before it is
// stored.
func (r *Resolver) WithVerify(on bool) *Resolver {
	r.verify = on
	return r
}

// Resolve returns the program for ref, from the store when present.
// Concurrent misses for the same release share one fetch and decompile. A
// caller whose ctx ends stops waiting without failing the others; the shared
// fetch is bounded by the Fetcher's own timeout.
func (r *Resolver) Resolve(ctx context.Context, ref types.PlayerRef) (Program, error) {
	log := logger.WithComponent(logger.ComponentCipher)
	if p, ok := r.lookup(ref.ReleaseID); ok {
		log.Debug("program cache hit", map[string]any{"release": ref.ReleaseID})
		return p, nil
	}
	log.Debug("program cache miss", map[string]any{"release": ref.ReleaseID})

	key := ref.ReleaseID
	if key == "" {
		key = ref.ScriptURL
	}
	// The flight outlives any single caller: each waiter stops on its own ctx.
	flightCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key, func() (any, error) {
		// another caller may have stored it while we waited for the slot
		if p, ok := r.lookup(ref.ReleaseID); ok {
			return p, nil
		}
		return r.load(flightCtx, ref)
	})
	select {
	case <-ctx.Done():
		log.Debug("resolve abandoned", map[string]any{"release": ref.ReleaseID, "error": ctx.Err().Error()})
		return nil, NewError(ErrCodeFetchFailed, "resolve abandoned", map[string]any{"release": ref.ReleaseID}).Wrap(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		p := res.Val.(Program)
		if res.Shared {
			p = p.Clone()
		}
		return p, nil
	}
}

func (r *Resolver) lookup(releaseID string) (Program, bool) {
	if r.store == nil || releaseID == "" {
		return nil, false
	}
	return r.store.Lookup(releaseID)
}

func (r *Resolver) load(ctx context.Context, ref types.PlayerRef) (Program, error) {
	log := logger.WithComponent(logger.ComponentCipher)
	if strings.TrimSpace(ref.ScriptURL) == "" {
		return nil, NewError(ErrCodeFetchFailed, "player reference has no script URL", map[string]any{"release": ref.ReleaseID})
	}
	script, err := r.fetcher.FetchText(ctx, ref.ScriptURL)
	if err != nil {
		return nil, NewError(ErrCodeFetchFailed, "fetch player script", map[string]any{"url": ref.ScriptURL}).Wrap(err)
	}

	p, err := Decompile(script)
	if err != nil {
		log.Warn("decompile failed", map[string]any{"release": ref.ReleaseID, "error": err.Error()})
		return nil, err
	}
	if r.verify {
		if err := Verify(script, p); err != nil {
			log.Warn("verification failed", map[string]any{"release": ref.ReleaseID, "program": p.Encode()})
			return nil, err
		}
	}
	log.Info("decompiled signature routine", map[string]any{
		"release": ref.ReleaseID,
		"program": p.Encode(),
		"steps":   len(p),
	})

	if r.store != nil && ref.ReleaseID != "" {
		if err := r.store.Put(ref.ReleaseID, p); err != nil {
			if IsStoreError(err) {
				return nil, err
			}
			return nil, NewError(ErrCodeStoreWriteFailed, "persist program", map[string]any{"release": ref.ReleaseID}).Wrap(err)
		}
	}
	return p, nil
}

// Decipher applies p to signature.
func (r *Resolver) Decipher(signature string, p Program) (string, error) {
	return Apply(signature, p)
}
