package geo

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/policethief/realtime/validate"
)

// SimProvider is a software positioning provider that random-walks around a
// starting coordinate. It backs the CLI when no real capability exists and
// gives tests a deterministic-enough position stream.
type SimProvider struct {
	mu       sync.Mutex
	lat      float64
	lon      float64
	stepDeg  float64
	interval time.Duration
	rng      *rand.Rand
}

// NewSimProvider starts the walk at the given coordinate. stepDeg is the
// maximum per-step movement in degrees; interval is the watch emit cadence.
func NewSimProvider(lat, lon float64, stepDeg float64, interval time.Duration) *SimProvider {
	if stepDeg <= 0 {
		stepDeg = 0.0001
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &SimProvider{
		lat:      lat,
		lon:      lon,
		stepDeg:  stepDeg,
		interval: interval,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Available always succeeds; the simulator has no security requirement.
func (p *SimProvider) Available() error { return nil }

// Current advances the walk one step and returns the new position.
func (p *SimProvider) Current(ctx context.Context, opts Options) (Coordinates, error) {
	select {
	case <-ctx.Done():
		return Coordinates{}, Errf(Timeout, "simulated read cancelled")
	default:
	}
	return p.step(), nil
}

// Watch emits a reading every interval until stopped.
func (p *SimProvider) Watch(opts Options, emit func(Coordinates, *Error)) (func(), error) {
	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				emit(p.step(), nil)
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }, nil
}

func (p *SimProvider) step() Coordinates {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lat += (p.rng.Float64()*2 - 1) * p.stepDeg
	p.lon += (p.rng.Float64()*2 - 1) * p.stepDeg
	if p.lat > validate.MaxLatitude {
		p.lat = validate.MaxLatitude
	}
	if p.lat < validate.MinLatitude {
		p.lat = validate.MinLatitude
	}
	if p.lon > validate.MaxLongitude {
		p.lon = validate.MaxLongitude
	}
	if p.lon < validate.MinLongitude {
		p.lon = validate.MinLongitude
	}

	accuracy := 5.0 + p.rng.Float64()*10
	return Coordinates{
		Latitude:  p.lat,
		Longitude: p.lon,
		Accuracy:  &accuracy,
	}
}
