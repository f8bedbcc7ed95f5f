// Package pump implements the periodic update pump (spec.md §4.7): a single
// background task that invokes an action at a bounded rate, with a way to
// wake it early and a way to stop it promptly. Grounded on the teacher's
// ticker-paced captureLoop in internal/remote/desktop/ws_stream.go,
// generalized from a fixed-FPS image loop to a rate-limited generic action
// and given an explicit Signal() short-circuit the teacher's loop didn't need.
package pump

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Action is invoked on every pump tick. Its bool result indicates whether it
// actually did work (FramebufferSendChanges returns false when there is no
// pending request, for instance) — the pump itself doesn't interpret it, but
// callers often do for logging/metrics.
type Action func() (didWork bool, err error)

// Pump runs Action at most rateHz times per second until Stop is called.
// Grounded on the teacher's WsStreamSession: a done channel for shutdown, a
// sync.Once-guarded Stop, and a single goroutine running the loop.
type Pump struct {
	action  Action
	limiter *rate.Limiter

	signal chan struct{}
	done   chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	onError func(error)
}

// New builds a Pump. onError, if non-nil, receives errors returned by action;
// the pump does not stop itself on an action error (spec.md §4.7: capture
// errors are logged and swallowed, the session continues) — it's the
// caller's responsibility to decide whether an error is fatal and call Stop.
func New(action Action, rateHz float64, onError func(error)) *Pump {
	if rateHz <= 0 {
		rateHz = 1
	}
	return &Pump{
		action:  action,
		limiter: rate.NewLimiter(rate.Limit(rateHz), 1),
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		onError: onError,
	}
}

// Start launches the pump loop. The loop first spends the rate limiter's
// initial token; if runImmediately is true the first iteration then fires at
// once, otherwise it waits one rate interval or a Signal, whichever comes
// first. Start is idempotent; only the first call has any effect.
func (p *Pump) Start(runImmediately bool) {
	p.startOnce.Do(func() {
		go p.loop(runImmediately)
	})
}

func (p *Pump) loop(runImmediately bool) {
	p.limiter.Allow()
	if runImmediately {
		p.tick()
	}
	for {
		if !p.waitAndTick() {
			return
		}
	}
}

// waitAndTick blocks until either the rate limiter admits the next
// invocation or the pump is stopped, whichever comes first. A pending
// Signal shortens the wait to whatever the limiter already allows rather
// than sleeping for a reservation requested before the signal arrived.
// Returns false once the pump has been stopped.
func (p *Pump) waitAndTick() bool {
	reservation := p.limiter.Reserve()
	if !reservation.OK() {
		return false
	}
	delay := reservation.Delay()
	if delay <= 0 {
		p.tick()
		return true
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-p.done:
		reservation.Cancel()
		return false
	case <-p.signal:
		reservation.Cancel()
		p.tick()
		return true
	case <-timer.C:
		p.tick()
		return true
	}
}

func (p *Pump) tick() {
	select {
	case <-p.done:
		return
	default:
	}
	_, err := p.action()
	if err != nil && p.onError != nil {
		p.onError(err)
	}
}

// Signal short-circuits the next wait, causing the action to run as soon as
// the rate limiter allows (spec.md §4.7: "Signal() can short-circuit the
// next wait"). Non-blocking: a pending signal is coalesced.
func (p *Pump) Signal() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// Stop terminates the pump promptly and idempotently, mirroring the
// teacher's Stop()/stopOnce pattern.
func (p *Pump) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
	})
}
