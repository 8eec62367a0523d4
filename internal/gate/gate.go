// Package gate caches process-wide knowledge of whether the server-side
// relay is administratively enabled, consulted before proxy mode may be
// selected. Unknown is treated identically to disabled.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/papersync/papersync/internal/logutil"
)

// TTL is how long a fetched status stays fresh.
const TTL = 5 * time.Minute

// Kind names a relay capability.
type Kind string

const (
	KindLLM    Kind = "llm"
	KindWebDAV Kind = "webdav"
)

// Status is one fetched availability snapshot.
type Status struct {
	LLMEnabled    bool   `json:"llm_enabled"`
	WebDAVEnabled bool   `json:"webdav_enabled"`
	Message       string `json:"message,omitempty"`
}

// FetchFunc retrieves the current administrative flags. An error means
// availability could not be confirmed; the gate then reports everything
// disabled.
type FetchFunc func(ctx context.Context) (Status, error)

// Gate is the TTL cache over a FetchFunc. Safe for concurrent use; at
// most one fetch runs per staleness window.
type Gate struct {
	fetch  FetchFunc
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu        sync.Mutex
	status    Status
	fetchedAt time.Time
}

// Options configures a Gate.
type Options struct {
	// TTL overrides the freshness window. Defaults to TTL.
	TTL time.Duration

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// New builds a gate over the given fetcher.
func New(fetch FetchFunc, opts Options) (*Gate, error) {
	if fetch == nil {
		return nil, fmt.Errorf("fetch function is required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = TTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Gate{
		fetch:  fetch,
		ttl:    ttl,
		now:    now,
		logger: logutil.NoopIfNil(opts.Logger),
	}, nil
}

// Current returns the cached status, fetching when stale. A fetch
// failure yields a fail-closed status with an explanatory message, never
// an error.
func (g *Gate) Current(ctx context.Context) Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.fetchedAt.IsZero() && g.now().Sub(g.fetchedAt) < g.ttl {
		return g.status
	}

	status, err := g.fetch(ctx)
	if err != nil {
		g.logger.Warn("proxy status fetch failed, reporting disabled", "error", err)
		status = Status{
			LLMEnabled:    false,
			WebDAVEnabled: false,
			Message:       fmt.Sprintf("Relay availability could not be confirmed: %v", err),
		}
	}

	g.status = status
	g.fetchedAt = g.now()
	return g.status
}

// EnabledFor reports whether the relay is enabled for the given kind.
func (g *Gate) EnabledFor(ctx context.Context, kind Kind) bool {
	status := g.Current(ctx)
	switch kind {
	case KindLLM:
		return status.LLMEnabled
	case KindWebDAV:
		return status.WebDAVEnabled
	default:
		return false
	}
}

// Invalidate forces the next caller to fetch fresh status.
func (g *Gate) Invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchedAt = time.Time{}
}
