// breaker.go - Circuit breaker around a blob store.
//
// After enough consecutive failures the breaker opens and calls fail fast
// with a configuration-style message, so uploads take the local fallback
// without waiting on a dead backend. After the cooldown one probe call is
// let through; its outcome closes or re-opens the circuit.
package blob

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CircuitState is the current state of a Breaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const circuitOpenMsg = "blob store unavailable: circuit breaker is open"

// Breaker is a Store decorator that stops calling next after maxFailures
// consecutive failures, for cooldown.
type Breaker struct {
	next        Store
	maxFailures int
	cooldown    time.Duration
	log         *slog.Logger
	now         func() time.Time

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time

	// probe identifies the half-open call in flight; 0 when none.
	probe    uint64
	probeSeq uint64
}

// WithBreaker wraps next in a circuit breaker.
func WithBreaker(next Store, maxFailures int, cooldown time.Duration, logger *slog.Logger) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		next:        next,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		log:         logger,
		now:         time.Now,
	}
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Put(ctx context.Context, targetKey, localPath string) PutResult {
	token, ok := b.acquire()
	if !ok {
		return putFailure(circuitOpenMsg)
	}
	res := b.next.Put(ctx, targetKey, localPath)
	b.release(token, res.Success)
	return res
}

func (b *Breaker) Delete(ctx context.Context, keyOrURL string) DeleteResult {
	token, ok := b.acquire()
	if !ok {
		return deleteFailure(circuitOpenMsg)
	}
	res := b.next.Delete(ctx, keyOrURL)
	b.release(token, res.Success)
	return res
}

// acquire reports whether a call may go through. A half-open probe gets a
// non-zero token that release must present.
func (b *Breaker) acquire() (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return 0, false
		}
		b.state = StateHalfOpen
		b.log.Info("blob_circuit_half_open")
		return b.startProbe(), true
	case StateHalfOpen:
		if b.probe != 0 {
			return 0, false
		}
		return b.startProbe(), true
	default:
		return 0, true
	}
}

func (b *Breaker) startProbe() uint64 {
	b.probeSeq++
	b.probe = b.probeSeq
	return b.probe
}

func (b *Breaker) release(token uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		// Calls admitted before the circuit opened do not decide the probe.
		if token == 0 || token != b.probe {
			return
		}
		b.probe = 0
	}
	if success {
		if b.state != StateClosed {
			b.log.Info("blob_circuit_closed")
		}
		b.state = StateClosed
		b.failures = 0
		return
	}

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.maxFailures {
		if b.state != StateOpen {
			b.log.Warn("blob_circuit_opened", "failures", b.failures, "cooldown", b.cooldown.String())
		}
		b.state = StateOpen
		b.openedAt = b.now()
	}
}
