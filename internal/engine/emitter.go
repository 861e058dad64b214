package engine

import (
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// emitInterval bounds DOWNLOADING emissions per file to roughly five per
// second no matter how fast the executor's poll loop runs.
const emitRate = rate.Limit(5)

type emitState struct {
	percent float64
	speed   string
	status  Status
	limiter *rate.Limiter
}

// ProgressEmitter coalesces noisy per-poll samples into a bounded-rate
// callback stream. Redundant DOWNLOADING samples (same status, <1.0 percent
// movement, same speed text) are suppressed; terminal statuses always emit.
type ProgressEmitter struct {
	mu   sync.Mutex
	last map[string]*emitState
}

func NewProgressEmitter() *ProgressEmitter {
	return &ProgressEmitter{last: make(map[string]*emitState)}
}

// Emit forwards one sample to cb if it clears the dedup and rate gates.
func (e *ProgressEmitter) Emit(cb ProgressFunc, filename string, percent float64, speed string, status Status) {
	if cb == nil {
		return
	}
	percent = clampPercent(percent)
	key := strings.TrimSpace(filename)
	if key == "" {
		key = "download.bin"
	}

	e.mu.Lock()
	if status.Terminal() {
		delete(e.last, key)
		e.mu.Unlock()
		cb(key, percent, speed, status)
		return
	}
	prev, ok := e.last[key]
	if !ok {
		prev = &emitState{percent: -1, limiter: rate.NewLimiter(emitRate, 1)}
		e.last[key] = prev
	}
	statusChanged := prev.status != status
	percentMoved := percent-prev.percent >= 1.0 || percent < prev.percent
	speedChanged := status == StatusDownloading && speed != prev.speed
	switch {
	case statusChanged, percentMoved:
	case speedChanged:
		// Speed-only updates additionally ride the per-file rate limiter.
		if !prev.limiter.Allow() {
			e.mu.Unlock()
			return
		}
	default:
		e.mu.Unlock()
		return
	}
	prev.percent = percent
	prev.speed = speed
	prev.status = status
	e.mu.Unlock()

	cb(key, percent, speed, status)
}

// Reset drops all per-file dedup state; used when a halted engine is reused
// for a fresh batch.
func (e *ProgressEmitter) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.last = make(map[string]*emitState)
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
