// Connection sources.
//
// A Storage never reads connection state from package-level globals.
// Instead it is handed a Source at construction: an already-open Backend,
// a URL dialled fresh for this one accessor, or a shared Provider that
// dials once per process and hands the same Backend to every accessor.
package docstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v4"
)

// DialFunc opens a connection to the document database at url. The couch
// package provides one; tests substitute their own.
type DialFunc func(ctx context.Context, url string) (Backend, error)

// Provider owns one shared Backend for the process. The first Connect
// dials; every later Connect returns the cached Backend regardless of any
// configuration change in between. Shutdown closes the Backend and makes
// the Provider unusable.
type Provider struct {
	dial DialFunc
	url  string

	mu      sync.Mutex
	backend Backend
	closed  bool
}

// NewProvider returns a Provider that dials url on first use.
func NewProvider(dial DialFunc, url string) *Provider {
	return &Provider{dial: dial, url: url}
}

// Connect returns the shared Backend, dialling it on the first call. If
// the dial fails nothing is cached and the next call dials again.
func (p *Provider) Connect(ctx context.Context) (Backend, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}
	if p.backend != nil {
		return p.backend, nil
	}
	if p.dial == nil || p.url == "" {
		return nil, ErrNotConfigured
	}

	b, err := p.dial(ctx, p.url)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	p.backend = b
	return b, nil
}

// Init dials the backend and waits for it to answer a ping, retrying with
// exponential backoff until ctx is cancelled or the retries are
// exhausted. Use at process start when the database may still be coming up.
// Individual operations after Init never retry.
func (p *Provider) Init(ctx context.Context) error {
	b, err := p.Connect(ctx)
	if err != nil {
		return err
	}

	ping := func() error { return b.Ping(ctx) }
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 8), ctx)
	if err := backoff.Retry(ping, bo); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	return nil
}

// Shutdown closes the shared Backend. Accessors holding this Provider
// fail with ErrClosed afterwards.
func (p *Provider) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.backend == nil {
		return nil
	}
	b := p.backend
	p.backend = nil
	return b.Close()
}

// Source selects where a Storage obtains its connection. The zero value
// is invalid; construct with Explicit, URL or Shared.
type Source struct {
	backend  Backend
	dial     DialFunc
	url      string
	provider *Provider
}

// Explicit wraps an already-open Backend.
func Explicit(b Backend) Source { return Source{backend: b} }

// URL dials url fresh for the accessor that holds this Source.
func URL(dial DialFunc, url string) Source { return Source{dial: dial, url: url} }

// Shared draws from a process-wide Provider.
func Shared(p *Provider) Source { return Source{provider: p} }

// connect resolves the Source to a usable Backend.
func (s Source) connect(ctx context.Context) (Backend, error) {
	switch {
	case s.backend != nil:
		return s.backend, nil
	case s.dial != nil && s.url != "":
		return s.dial(ctx, s.url)
	case s.provider != nil:
		return s.provider.Connect(ctx)
	}
	return nil, ErrNotConfigured
}
