// Package cancel bounds long running query operations. Every query object
// is handed a shared Token; iterator loops, prefilter walks and fanout
// callbacks poll it per record and stop as soon as it fires.
package cancel

import (
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/kvsearch/internal/config"
)

// Token is polled by all long loops of a query.
type Token interface {
	// IsCancelled reports whether the operation should stop. Once true it
	// stays true.
	IsCancelled() bool
	// Cancel latches the token.
	Cancel()
}

// Timeouts counts deadline expirations process-wide, surfaced in FT._DEBUG.
var Timeouts atomic.Int64

// nowMs is swappable for tests.
var nowMs = func() int64 { return time.Now().UnixMilli() }

// onTime cancels once the monotonic clock passes a deadline. The clock is
// only read every timeout-poll-frequency polls; at the expected poll rates
// an unamortized clock read dominates the iterator body.
type onTime struct {
	cancelled  atomic.Bool
	deadlineMs int64
	count      int64
}

// WithTimeout creates a deadline token expiring timeoutMs from now.
func WithTimeout(timeoutMs int64) Token {
	return &onTime{deadlineMs: nowMs() + timeoutMs}
}

func (t *onTime) IsCancelled() bool {
	if t.cancelled.Load() {
		return true
	}
	t.count++
	if t.count >= config.TimeoutPollFrequency.Get() {
		t.count = 0
		if nowMs() >= t.deadlineMs || config.DebugForceTimeout.Get() {
			t.cancelled.Store(true)
			Timeouts.Add(1)
		}
	}
	return t.cancelled.Load()
}

func (t *onTime) Cancel() {
	t.cancelled.Store(true)
}

// manual is a token with no deadline, cancelled only explicitly. Used by
// unit tests and by internal operations that are bounded elsewhere.
type manual struct {
	cancelled atomic.Bool
}

// Manual creates a token with no deadline.
func Manual() Token { return &manual{} }

func (t *manual) IsCancelled() bool { return t.cancelled.Load() }
func (t *manual) Cancel()           { t.cancelled.Store(true) }
