package resilience

import (
	"sync/atomic"
	"time"
)

// CircuitState mirrors the standard three-state breaker.
type CircuitState int32

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// CircuitBreaker protects a remote endpoint the way
// eve.evalgo.org/network's load balancer falls back to "all backends" when
// none are healthy (a degenerate circuit-breaker pattern, per its own
// comment); this generalizes that into a real three-state breaker with a
// cooldown and a half-open trial request, used in front of the Remote CAS
// and REAPI clients (§2 Resilience layer).
type CircuitBreaker struct {
	failureThreshold int32
	cooldown         time.Duration

	state        atomic.Int32
	consecutive  atomic.Int32
	openedAt     atomic.Int64
	halfOpenLock atomic.Bool // true while a half-open trial is in flight
}

func NewCircuitBreaker(failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	cb := &CircuitBreaker{failureThreshold: int32(failureThreshold), cooldown: cooldown}
	cb.state.Store(int32(CircuitClosed))
	return cb
}

// Allow reports whether a request may proceed, transitioning Open ->
// HalfOpen once the cooldown elapses and admitting exactly one trial
// request in HalfOpen state.
func (cb *CircuitBreaker) Allow() bool {
	switch CircuitState(cb.state.Load()) {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(time.Unix(0, cb.openedAt.Load())) >= cb.cooldown {
			if cb.state.CompareAndSwap(int32(CircuitOpen), int32(CircuitHalfOpen)) {
				cb.halfOpenLock.Store(true)
				return true
			}
		}
		return false
	case CircuitHalfOpen:
		return cb.halfOpenLock.CompareAndSwap(false, true)
	default:
		return true
	}
}

// RecordSuccess closes the circuit and resets the failure streak.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.consecutive.Store(0)
	cb.state.Store(int32(CircuitClosed))
}

// RecordFailure increments the failure streak, tripping the breaker once
// the threshold is reached, and re-opens immediately on a failed
// half-open trial.
func (cb *CircuitBreaker) RecordFailure() {
	if CircuitState(cb.state.Load()) == CircuitHalfOpen {
		cb.trip()
		return
	}
	if cb.consecutive.Add(1) >= cb.failureThreshold {
		cb.trip()
	}
}

func (cb *CircuitBreaker) trip() {
	cb.openedAt.Store(time.Now().UnixNano())
	cb.state.Store(int32(CircuitOpen))
}

func (cb *CircuitBreaker) State() CircuitState { return CircuitState(cb.state.Load()) }
