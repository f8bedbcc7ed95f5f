package pump

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestStartRunImmediatelyFiresBeforeFirstInterval(t *testing.T) {
	var calls atomic.Int32
	p := New(func() (bool, error) {
		calls.Add(1)
		return true, nil
	}, 1, nil) // 1 Hz: without runImmediately the first call would take ~1s

	p.Start(true)
	defer p.Stop()

	deadline := time.After(200 * time.Millisecond)
	for calls.Load() < 1 {
		select {
		case <-deadline:
			t.Fatal("action was not invoked immediately")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestRateLimitBoundsCallFrequency(t *testing.T) {
	var calls atomic.Int32
	p := New(func() (bool, error) {
		calls.Add(1)
		return true, nil
	}, 50, nil) // 50 Hz -> 20ms apart

	p.Start(true)
	time.Sleep(110 * time.Millisecond)
	p.Stop()

	n := calls.Load()
	// 110ms at 50Hz should produce roughly 5-6 calls; assert it's bounded,
	// not unbounded (a bug that ignored the limiter would spin far higher).
	if n < 2 || n > 10 {
		t.Fatalf("calls = %d, want roughly 5-6 (bounded by the rate limiter)", n)
	}
}

func TestStopIsIdempotentAndPrompt(t *testing.T) {
	p := New(func() (bool, error) { return false, nil }, 1000, nil)
	p.Start(false)
	p.Stop()
	p.Stop() // must not panic or block

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second Stop() did not return promptly")
	}
}

func TestSignalWakesAPendingWait(t *testing.T) {
	var calls atomic.Int32
	p := New(func() (bool, error) {
		calls.Add(1)
		return true, nil
	}, 2, nil) // 2 Hz: a 500ms natural interval

	p.Start(true) // consumes the immediate call
	defer p.Stop()

	time.Sleep(20 * time.Millisecond)
	before := calls.Load()
	p.Signal()

	deadline := time.After(200 * time.Millisecond)
	for calls.Load() <= before {
		select {
		case <-deadline:
			t.Fatal("Signal did not shorten the wait before the natural interval elapsed")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestActionErrorIsReportedButPumpContinues(t *testing.T) {
	var errCount atomic.Int32
	var calls atomic.Int32
	boom := errors.New("capture failed")

	p := New(func() (bool, error) {
		n := calls.Add(1)
		if n == 1 {
			return false, boom
		}
		return true, nil
	}, 200, func(err error) {
		errCount.Add(1)
	})

	p.Start(true)
	defer p.Stop()

	deadline := time.After(300 * time.Millisecond)
	for calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("pump stopped invoking action after an error")
		case <-time.After(time.Millisecond):
		}
	}
	if errCount.Load() != 1 {
		t.Fatalf("errCount = %d, want 1", errCount.Load())
	}
}
