package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/policethief/realtime/game/session"
	"github.com/policethief/realtime/geo"
)

type fakeReporter struct {
	mu      sync.Mutex
	snaps   chan session.Snapshot
	reports []geo.Coordinates
	err     error
}

func newFakeReporter() *fakeReporter {
	return &fakeReporter{snaps: make(chan session.Snapshot, 8)}
}

func (f *fakeReporter) Watch() (<-chan session.Snapshot, func()) {
	return f.snaps, func() {}
}

func (f *fakeReporter) ReportLocation(coords geo.Coordinates) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.reports = append(f.reports, coords)
	return nil
}

func (f *fakeReporter) reportCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reports)
}

func (f *fakeReporter) push(m session.MembershipState, c session.ConnectionState) {
	f.snaps <- session.Snapshot{Membership: m, Connection: c}
}

type fakeSampler struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeSampler) Current(ctx context.Context, opts geo.Options) (geo.Coordinates, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return geo.Coordinates{}, f.err
	}
	return geo.Coordinates{Latitude: 37.5, Longitude: 127.0}, nil
}

func (f *fakeSampler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func waitCount(t *testing.T, count func() int, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if count() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("count stuck at %d, want >= %d", count(), want)
}

func TestSchedulerIdleWhileNotJoined(t *testing.T) {
	rep := newFakeReporter()
	smp := &fakeSampler{}
	sched := New(rep, smp, WithInterval(10*time.Millisecond))
	sched.Start()
	defer sched.Stop()

	rep.push(session.NotJoined, session.ConnConnected)
	time.Sleep(80 * time.Millisecond)

	if smp.callCount() != 0 || rep.reportCount() != 0 {
		t.Fatalf("scheduler sampled while not joined: samples=%d reports=%d",
			smp.callCount(), rep.reportCount())
	}
}

func TestSchedulerReportsWhileJoined(t *testing.T) {
	rep := newFakeReporter()
	smp := &fakeSampler{}
	sched := New(rep, smp, WithInterval(10*time.Millisecond))
	sched.Start()
	defer sched.Stop()

	rep.push(session.Joined, session.ConnConnected)
	waitCount(t, rep.reportCount, 3)
}

func TestSchedulerStopsOnLeaveAndDisconnect(t *testing.T) {
	tests := []struct {
		name       string
		membership session.MembershipState
		connection session.ConnectionState
	}{
		{"leave", session.NotJoined, session.ConnConnected},
		{"leave pending", session.LeavePending, session.ConnConnected},
		{"disconnect", session.Joined, session.ConnReconnectPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := newFakeReporter()
			smp := &fakeSampler{}
			sched := New(rep, smp, WithInterval(10*time.Millisecond))
			sched.Start()
			defer sched.Stop()

			rep.push(session.Joined, session.ConnConnected)
			waitCount(t, rep.reportCount, 2)

			rep.push(tt.membership, tt.connection)
			// Let the transition land, then confirm reporting stopped.
			time.Sleep(30 * time.Millisecond)
			count := rep.reportCount()
			time.Sleep(80 * time.Millisecond)
			if rep.reportCount() != count {
				t.Fatalf("reports continued after %s: %d -> %d", tt.name, count, rep.reportCount())
			}
		})
	}
}

func TestSchedulerResumesOnRejoin(t *testing.T) {
	rep := newFakeReporter()
	smp := &fakeSampler{}
	sched := New(rep, smp, WithInterval(10*time.Millisecond))
	sched.Start()
	defer sched.Stop()

	rep.push(session.Joined, session.ConnConnected)
	waitCount(t, rep.reportCount, 1)

	rep.push(session.Joined, session.ConnReconnectPending)
	time.Sleep(50 * time.Millisecond)
	stalled := rep.reportCount()

	// Reconnected but membership not re-confirmed: still no reports.
	rep.push(session.NotJoined, session.ConnConnected)
	time.Sleep(50 * time.Millisecond)
	if rep.reportCount() != stalled {
		t.Fatalf("reported before membership re-confirmed")
	}

	rep.push(session.Joined, session.ConnConnected)
	waitCount(t, rep.reportCount, stalled+1)
}

func TestSchedulerRetryableErrorKeepsTicking(t *testing.T) {
	rep := newFakeReporter()
	smp := &fakeSampler{err: geo.Errf(geo.Unavailable, "no fix")}

	var mu sync.Mutex
	var errs []error
	sched := New(rep, smp,
		WithInterval(10*time.Millisecond),
		WithErrorFunc(func(err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}))
	sched.Start()
	defer sched.Stop()

	rep.push(session.Joined, session.ConnConnected)
	waitCount(t, smp.callCount, 3)

	mu.Lock()
	defer mu.Unlock()
	if len(errs) == 0 {
		t.Fatal("retryable errors must be surfaced")
	}
	if rep.reportCount() != 0 {
		t.Fatal("failed samples must not be reported")
	}
}

func TestSchedulerTerminalErrorStops(t *testing.T) {
	rep := newFakeReporter()
	smp := &fakeSampler{err: geo.Errf(geo.Unsupported, "no capability")}

	errCh := make(chan error, 8)
	sched := New(rep, smp,
		WithInterval(10*time.Millisecond),
		WithErrorFunc(func(err error) { errCh <- err }))
	sched.Start()
	defer sched.Stop()

	rep.push(session.Joined, session.ConnConnected)

	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("terminal error never surfaced")
	}

	calls := smp.callCount()
	time.Sleep(80 * time.Millisecond)
	if smp.callCount() != calls {
		t.Fatal("scheduler kept sampling after terminal error")
	}
}

func TestSchedulerRejectionIsNotAFault(t *testing.T) {
	rep := newFakeReporter()
	rep.err = session.ErrStateViolation
	smp := &fakeSampler{}

	var mu sync.Mutex
	var errs []error
	sched := New(rep, smp,
		WithInterval(10*time.Millisecond),
		WithErrorFunc(func(err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}))
	sched.Start()
	defer sched.Stop()

	rep.push(session.Joined, session.ConnConnected)
	waitCount(t, smp.callCount, 2)

	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 0 {
		t.Fatalf("state rejection surfaced as fault: %v", errs)
	}
}

func TestSchedulerStopIdempotent(t *testing.T) {
	rep := newFakeReporter()
	sched := New(rep, &fakeSampler{}, WithInterval(10*time.Millisecond))
	sched.Start()
	sched.Stop()
	sched.Stop()

	neverStarted := New(rep, &fakeSampler{})
	neverStarted.Stop()
}
