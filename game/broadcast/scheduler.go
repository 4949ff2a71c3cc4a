package broadcast

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/policethief/realtime/game/session"
	"github.com/policethief/realtime/geo"
)

// DefaultInterval is the cadence of location reports while joined.
const DefaultInterval = 5 * time.Second

// Reporter is the slice of the session the scheduler drives.
type Reporter interface {
	Watch() (<-chan session.Snapshot, func())
	ReportLocation(coords geo.Coordinates) error
}

// Sampler is the slice of the location source the scheduler reads.
type Sampler interface {
	Current(ctx context.Context, opts geo.Options) (geo.Coordinates, error)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval overrides the report cadence.
func WithInterval(d time.Duration) Option {
	return func(b *Scheduler) {
		if d > 0 {
			b.interval = d
		}
	}
}

// WithGeoOptions sets the options passed to every sample.
func WithGeoOptions(opts geo.Options) Option {
	return func(b *Scheduler) { b.geoOpts = opts }
}

// WithErrorFunc receives sampling and reporting failures. The default logs.
func WithErrorFunc(fn func(error)) Option {
	return func(b *Scheduler) { b.onError = fn }
}

// Scheduler ties a location source to a session's ReportLocation.
type Scheduler struct {
	session  Reporter
	source   Sampler
	interval time.Duration
	geoOpts  geo.Options
	onError  func(error)

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

// New builds a scheduler; Start begins watching the session.
func New(sess Reporter, source Sampler, opts ...Option) *Scheduler {
	b := &Scheduler{
		session:  sess,
		source:   source,
		interval: DefaultInterval,
		geoOpts:  geo.Options{HighAccuracy: true},
		onError:  func(err error) { log.Printf("[broadcast] %v", err) },
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start launches the scheduler loop. Calling Start twice is a no-op.
func (b *Scheduler) Start() {
	b.startOnce.Do(func() { go b.run() })
}

// Stop cancels any pending tick and halts the loop. Idempotent, and safe to
// call before Start.
func (b *Scheduler) Stop() {
	b.stopOnce.Do(func() { close(b.done) })
	b.startOnce.Do(func() { close(b.stopped) })
	<-b.stopped
}

func (b *Scheduler) run() {
	defer close(b.stopped)

	snaps, cancelWatch := b.session.Watch()
	defer cancelWatch()

	var ticker *time.Ticker
	var tick <-chan time.Time
	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker = nil
			tick = nil
		}
	}
	defer stopTicker()

	for {
		select {
		case <-b.done:
			return

		case snap, ok := <-snaps:
			if !ok {
				return
			}
			if shouldReport(snap) {
				if ticker == nil {
					ticker = time.NewTicker(b.interval)
					tick = ticker.C
				}
			} else {
				stopTicker()
			}

		case <-tick:
			// A state change may be queued behind this tick; apply it
			// before sampling so a just-left session is never reported.
			select {
			case snap, ok := <-snaps:
				if !ok {
					return
				}
				if !shouldReport(snap) {
					stopTicker()
					continue
				}
			default:
			}
			if terminal := b.sample(); terminal {
				return
			}
		}
	}
}

func shouldReport(snap session.Snapshot) bool {
	return snap.Membership == session.Joined && snap.Connection == session.ConnConnected
}

// sample reads one position and reports it. The return value is true only
// for terminal capability failures, which end the scheduler.
func (b *Scheduler) sample() bool {
	timeout := b.geoOpts.Timeout
	if timeout <= 0 {
		timeout = b.interval
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	coords, err := b.source.Current(ctx, b.geoOpts)
	cancel()
	if err != nil {
		b.onError(err)
		var gerr *geo.Error
		return errors.As(err, &gerr) && gerr.Terminal()
	}

	if err := b.session.ReportLocation(coords); err != nil {
		// The session may have left or disconnected since the last
		// snapshot we saw; that rejection is expected, not a fault.
		if errors.Is(err, session.ErrStateViolation) || errors.Is(err, session.ErrNotConnected) {
			return false
		}
		b.onError(err)
	}
	return false
}
