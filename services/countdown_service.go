package services

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// CountdownService runs one cancellable one-shot timer per emergency for the
// pre-activation grace period. The registry owns every handle; callers only
// get Start, Cancel and IsActive.
type CountdownService struct {
	timers map[string]*countdownHandle
	mu     sync.Mutex
}

type countdownHandle struct {
	timer     *time.Timer
	cancelled atomic.Bool
}

func NewCountdownService() *CountdownService {
	return &CountdownService{
		timers: make(map[string]*countdownHandle),
	}
}

// Start schedules fire to run after delay. A second Start for the same
// emergency is ignored; the countdown is armed exactly once per trigger.
func (cs *CountdownService) Start(emergencyID string, delay time.Duration, fire func()) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, exists := cs.timers[emergencyID]; exists {
		logrus.Warnf("Countdown already running for emergency %s", emergencyID)
		return
	}

	handle := &countdownHandle{}
	handle.timer = time.AfterFunc(delay, func() {
		cs.mu.Lock()
		delete(cs.timers, emergencyID)
		cs.mu.Unlock()

		// A cancel that raced the timer firing wins: the callback body
		// must not run once the handle is marked cancelled.
		if handle.cancelled.Load() {
			logrus.Debugf("Countdown for emergency %s fired after cancellation, ignoring", emergencyID)
			return
		}

		fire()
	})
	cs.timers[emergencyID] = handle

	logrus.Infof("Countdown started for emergency %s (%s)", emergencyID, delay)
}

// Cancel stops the countdown. It is an idempotent no-op when no countdown is
// registered or the timer has already been processed.
func (cs *CountdownService) Cancel(emergencyID string) bool {
	cs.mu.Lock()
	handle, exists := cs.timers[emergencyID]
	if exists {
		delete(cs.timers, emergencyID)
	}
	cs.mu.Unlock()

	if !exists {
		return false
	}

	handle.cancelled.Store(true)
	stopped := handle.timer.Stop()

	logrus.Infof("Countdown cancelled for emergency %s (stopped=%v)", emergencyID, stopped)
	return true
}

// IsActive reports whether a countdown is currently registered.
func (cs *CountdownService) IsActive(emergencyID string) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	_, exists := cs.timers[emergencyID]
	return exists
}

// ActiveCount returns the number of running countdowns.
func (cs *CountdownService) ActiveCount() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.timers)
}

// Cleanup stops all countdowns during shutdown. Pending countdowns are not
// persisted; the startup recovery sweep re-derives them.
func (cs *CountdownService) Cleanup() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	logrus.Infof("Stopping %d countdown timers", len(cs.timers))

	for id, handle := range cs.timers {
		handle.cancelled.Store(true)
		handle.timer.Stop()
		delete(cs.timers, id)
	}
}
