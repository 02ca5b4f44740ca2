package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/goleak"
)

func TestParseSpec(t *testing.T) {
	for _, spec := range []string{DefaultSpec, "*/10 * * * * *", "*/5 * * * *", "@hourly"} {
		if _, err := ParseSpec(spec); err != nil {
			t.Errorf("ParseSpec(%q): %v", spec, err)
		}
	}
	for _, spec := range []string{"", "   ", "every ten seconds", "* * *"} {
		if _, err := ParseSpec(spec); err == nil {
			t.Errorf("ParseSpec(%q) should fail", spec)
		}
	}
}

func TestParseSpecSecondsField(t *testing.T) {
	sched, err := ParseSpec("*/10 * * * * *")
	if err != nil {
		t.Fatal(err)
	}
	from := time.Date(2024, 5, 1, 12, 0, 1, 0, time.UTC)
	if next := sched.Next(from); !next.Equal(from.Add(9 * time.Second)) {
		t.Fatalf("unexpected next run %v", next)
	}
}

func TestRecoversFromPanickingRun(t *testing.T) {
	var calls atomic.Int32
	s, err := New(DefaultSpec, func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			panic("first run explodes")
		}
		return nil
	}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	s.wrapped.Run()
	s.wrapped.Run()
	if calls.Load() != 2 {
		t.Fatalf("expected the second run after a panic, got %d calls", calls.Load())
	}
}

func TestSkipsOverlappingRuns(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	s, err := New(DefaultSpec, func(ctx context.Context) error {
		calls.Add(1)
		close(started)
		<-release
		return nil
	}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		s.wrapped.Run()
		close(done)
	}()
	<-started
	s.wrapped.Run()
	close(release)
	<-done
	if calls.Load() != 1 {
		t.Fatalf("overlapping run was not skipped, got %d calls", calls.Load())
	}
}

func TestJobErrorsDoNotStopSchedule(t *testing.T) {
	var calls atomic.Int32
	s, err := New(DefaultSpec, func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("list failed")
	}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	s.wrapped.Run()
	s.wrapped.Run()
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestRunFiresAndStopsCleanly(t *testing.T) {
	defer goleak.VerifyNone(t)

	fired := make(chan struct{}, 1)
	var sawCancel atomic.Bool
	s, err := New("* * * * * *", func(ctx context.Context) error {
		select {
		case fired <- struct{}{}:
		default:
		}
		<-ctx.Done()
		sawCancel.Store(true)
		return ctx.Err()
	}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("job never fired")
	}
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if !sawCancel.Load() {
		t.Fatal("running job was not canceled on stop")
	}
}
