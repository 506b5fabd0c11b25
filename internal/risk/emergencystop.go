package risk

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CloseAllFunc closes every open position. It is invoked exactly once per
// emergency stop activation.
type CloseAllFunc func(ctx context.Context, reason string) error

// EmergencyStop is a latch that halts all new trading once triggered.
// Concurrent triggers admit a single winner; the latch stays set until an
// operator calls Reset.
type EmergencyStop struct {
	mu        sync.Mutex
	triggered bool
	reason    string
	at        time.Time
	closeAll  CloseAllFunc
	logger    zerolog.Logger
}

// NewEmergencyStop creates an armed, untriggered stop.
func NewEmergencyStop(closeAll CloseAllFunc, logger zerolog.Logger) *EmergencyStop {
	return &EmergencyStop{closeAll: closeAll, logger: logger}
}

// Trigger sets the latch and runs the close-all callback. Returns true for
// the caller that won the latch; later callers get false and no side effects.
func (e *EmergencyStop) Trigger(ctx context.Context, reason string) bool {
	e.mu.Lock()
	if e.triggered {
		e.mu.Unlock()
		return false
	}
	e.triggered = true
	e.reason = reason
	e.at = time.Now()
	closeAll := e.closeAll
	e.mu.Unlock()

	e.logger.Error().Str("reason", reason).Msg("EMERGENCY STOP triggered, closing all positions")
	if closeAll != nil {
		if err := closeAll(ctx, reason); err != nil {
			// The latch stays set regardless. Positions that failed to
			// close are retried by the monitor loop.
			e.logger.Error().Err(err).Msg("emergency close-all failed")
		}
	}
	return true
}

// Triggered reports whether the stop is active.
func (e *EmergencyStop) Triggered() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.triggered
}

// Status returns the latch state, reason and trigger time.
func (e *EmergencyStop) Status() (bool, string, time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.triggered, e.reason, e.at
}

// Reset clears the latch. Only an explicit operator action calls this; the
// engine never resets itself.
func (e *EmergencyStop) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.triggered {
		return
	}
	e.triggered = false
	e.reason = ""
	e.at = time.Time{}
	e.logger.Warn().Msg("emergency stop reset by operator")
}
