package geo

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Source adapts a Provider into the read API used by the rest of the client.
// It enforces the capability preconditions, binds one-shot reads to a
// context, and tracks watch handles so cancellation is idempotent.
type Source struct {
	provider Provider

	mu      sync.Mutex
	watches map[string]func()
}

// NewSource wraps a positioning provider.
func NewSource(p Provider) *Source {
	return &Source{
		provider: p,
		watches:  make(map[string]func()),
	}
}

// WatchHandle identifies one active watch.
type WatchHandle struct {
	ID string
}

// Current performs a single position read. If ctx is cancelled before the
// provider answers, the late result is discarded and ctx.Err() is mapped to
// a Timeout error.
func (s *Source) Current(ctx context.Context, opts Options) (Coordinates, error) {
	if err := s.provider.Available(); err != nil {
		return Coordinates{}, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	type result struct {
		coords Coordinates
		err    error
	}
	// Buffered so the provider goroutine can finish after cancellation
	// without anyone reading the result.
	ch := make(chan result, 1)
	go func() {
		coords, err := s.provider.Current(ctx, opts)
		ch <- result{coords, err}
	}()

	select {
	case r := <-ch:
		return r.coords, r.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return Coordinates{}, Errf(Timeout, "position read exceeded %s", opts.Timeout)
		}
		return Coordinates{}, Errf(Unavailable, "position read cancelled")
	}
}

// Watch starts a continuous subscription. Each reading goes to onReading and
// each per-attempt failure to onError; a terminal error from the provider is
// returned immediately instead.
func (s *Source) Watch(opts Options, onReading func(Coordinates), onError func(*Error)) (*WatchHandle, error) {
	if err := s.provider.Available(); err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	stop, err := s.provider.Watch(opts, func(coords Coordinates, werr *Error) {
		if werr != nil {
			if onError != nil {
				onError(werr)
			}
			return
		}
		if onReading != nil {
			onReading(coords)
		}
	})
	if err != nil {
		return nil, err
	}

	handle := &WatchHandle{ID: uuid.NewString()}
	s.mu.Lock()
	s.watches[handle.ID] = stop
	s.mu.Unlock()
	return handle, nil
}

// Cancel stops a watch. Cancelling an already-cancelled or nil handle is a
// no-op.
func (s *Source) Cancel(h *WatchHandle) {
	if h == nil {
		return
	}
	s.mu.Lock()
	stop, ok := s.watches[h.ID]
	delete(s.watches, h.ID)
	s.mu.Unlock()
	if ok {
		stop()
	}
}

// CancelAll stops every active watch. Used during session teardown.
func (s *Source) CancelAll() {
	s.mu.Lock()
	stops := make([]func(), 0, len(s.watches))
	for id, stop := range s.watches {
		stops = append(stops, stop)
		delete(s.watches, id)
	}
	s.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
}
