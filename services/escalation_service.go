package services

import (
	"context"
	"lifeline/models"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// EscalationDispatcher is the slice of the dispatcher the escalation monitor
// needs: secondary-tier escalation and periodic follow-ups.
type EscalationDispatcher interface {
	DispatchEscalation(ctx context.Context, emergency *models.Emergency) (*models.NotificationBatch, error)
	DispatchFollowUp(ctx context.Context, emergency *models.Emergency, sequence int) (*models.NotificationBatch, error)
}

type EscalationConfig struct {
	Timeout          time.Duration
	FollowUpInterval time.Duration
	MaxFollowUps     int
	DispatchTimeout  time.Duration
}

// EscalationService watches active emergencies for acknowledgment. When the
// escalation timeout fires with no acknowledgment, it notifies the next
// responder tier and keeps sending follow-ups until someone responds, the
// emergency leaves ACTIVE, or the follow-up cap is reached.
type EscalationService struct {
	emergencyRepo emergencyReader
	ackRepo       ackCounter
	dispatcher    EscalationDispatcher
	config        EscalationConfig

	monitors map[string]*escalationMonitor
	mu       sync.Mutex
}

// Narrow read-side interfaces so tests can fake the stores.
type emergencyReader interface {
	GetByID(ctx context.Context, id string) (*models.Emergency, error)
}

type ackCounter interface {
	CountByEmergency(ctx context.Context, emergencyID string) (int64, error)
}

type escalationMonitor struct {
	timer          *time.Timer
	stopCh         chan struct{}
	stopped        atomic.Bool
	escalated      atomic.Bool
	followUpActive atomic.Bool
}

func NewEscalationService(
	emergencyRepo emergencyReader,
	ackRepo ackCounter,
	dispatcher EscalationDispatcher,
	config EscalationConfig,
) *EscalationService {
	if config.DispatchTimeout == 0 {
		config.DispatchTimeout = 30 * time.Second
	}

	return &EscalationService{
		emergencyRepo: emergencyRepo,
		ackRepo:       ackRepo,
		dispatcher:    dispatcher,
		config:        config,
		monitors:      make(map[string]*escalationMonitor),
	}
}

// StartMonitoring arms the escalation timeout for a newly ACTIVE emergency.
func (es *EscalationService) StartMonitoring(emergencyID string) {
	es.mu.Lock()
	defer es.mu.Unlock()

	if _, exists := es.monitors[emergencyID]; exists {
		logrus.Warnf("Already monitoring emergency %s for escalation", emergencyID)
		return
	}

	monitor := &escalationMonitor{
		stopCh: make(chan struct{}),
	}
	monitor.timer = time.AfterFunc(es.config.Timeout, func() {
		es.onEscalationTimeout(emergencyID, monitor)
	})
	es.monitors[emergencyID] = monitor

	logrus.Infof("Escalation monitoring started for emergency %s (timeout %s)", emergencyID, es.config.Timeout)
}

// Stop cancels the escalation timeout and any follow-up loop. It is safe to
// call from every path that ends monitoring (acknowledge, resolve, cancel)
// and any number of times; the atomic guard makes later calls no-ops.
func (es *EscalationService) Stop(emergencyID string) {
	es.mu.Lock()
	monitor, exists := es.monitors[emergencyID]
	if exists {
		delete(es.monitors, emergencyID)
	}
	es.mu.Unlock()

	if !exists {
		return
	}

	if monitor.stopped.CompareAndSwap(false, true) {
		monitor.timer.Stop()
		close(monitor.stopCh)
		logrus.Infof("Escalation monitoring stopped for emergency %s", emergencyID)
	}
}

// Status reports monitor state for operational visibility.
func (es *EscalationService) Status(emergencyID string) models.EscalationStatusResponse {
	es.mu.Lock()
	monitor, exists := es.monitors[emergencyID]
	es.mu.Unlock()

	status := models.EscalationStatusResponse{EmergencyID: emergencyID}
	if !exists || monitor.stopped.Load() {
		return status
	}

	status.Scheduled = !monitor.escalated.Load()
	status.FollowUpActive = monitor.followUpActive.Load()
	return status
}

// ActiveCount returns the number of monitored emergencies.
func (es *EscalationService) ActiveCount() int {
	es.mu.Lock()
	defer es.mu.Unlock()
	return len(es.monitors)
}

// Cleanup stops all monitors during shutdown.
func (es *EscalationService) Cleanup() {
	es.mu.Lock()
	monitors := es.monitors
	es.monitors = make(map[string]*escalationMonitor)
	es.mu.Unlock()

	logrus.Infof("Stopping %d escalation monitors", len(monitors))

	for _, monitor := range monitors {
		if monitor.stopped.CompareAndSwap(false, true) {
			monitor.timer.Stop()
			close(monitor.stopCh)
		}
	}
}

func (es *EscalationService) onEscalationTimeout(emergencyID string, monitor *escalationMonitor) {
	// An acknowledgment that landed before the timer fired wins the race.
	if monitor.stopped.Load() {
		return
	}
	monitor.escalated.Store(true)

	ctx, cancel := context.WithTimeout(context.Background(), es.config.DispatchTimeout)
	defer cancel()

	emergency, err := es.emergencyRepo.GetByID(ctx, emergencyID)
	if err != nil {
		logrus.Errorf("Escalation check failed to load emergency %s: %v", emergencyID, err)
		return
	}

	if !emergency.IsActive() {
		logrus.Infof("Emergency %s no longer active, skipping escalation", emergencyID)
		es.Stop(emergencyID)
		return
	}

	count, err := es.ackRepo.CountByEmergency(ctx, emergencyID)
	if err != nil {
		logrus.Errorf("Failed to count acknowledgments for emergency %s: %v", emergencyID, err)
		return
	}
	if count > 0 {
		logrus.Infof("Emergency %s has %d acknowledgments, no escalation needed", emergencyID, count)
		es.Stop(emergencyID)
		return
	}

	logrus.Warnf("No acknowledgment for emergency %s within %s, escalating", emergencyID, es.config.Timeout)

	if _, err := es.dispatcher.DispatchEscalation(ctx, emergency); err != nil {
		logrus.Errorf("Failed to dispatch escalation for emergency %s: %v", emergencyID, err)
	}

	go es.followUpLoop(emergencyID, monitor)
}

// followUpLoop re-notifies all contacts at a fixed interval until someone
// acknowledges, the emergency leaves ACTIVE, or the cap bounds the cost.
func (es *EscalationService) followUpLoop(emergencyID string, monitor *escalationMonitor) {
	monitor.followUpActive.Store(true)
	defer monitor.followUpActive.Store(false)

	ticker := time.NewTicker(es.config.FollowUpInterval)
	defer ticker.Stop()

	for sequence := 1; sequence <= es.config.MaxFollowUps; {
		select {
		case <-monitor.stopCh:
			return
		case <-ticker.C:
			if monitor.stopped.Load() {
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), es.config.DispatchTimeout)

			emergency, err := es.emergencyRepo.GetByID(ctx, emergencyID)
			if err != nil {
				logrus.Errorf("Follow-up failed to load emergency %s: %v", emergencyID, err)
				cancel()
				continue
			}
			if !emergency.IsActive() {
				cancel()
				es.Stop(emergencyID)
				return
			}

			if _, err := es.dispatcher.DispatchFollowUp(ctx, emergency, sequence); err != nil {
				logrus.Errorf("Failed to dispatch follow-up %d for emergency %s: %v", sequence, emergencyID, err)
			}
			cancel()
			sequence++
		}
	}

	logrus.Warnf("Follow-up cap (%d) reached for emergency %s", es.config.MaxFollowUps, emergencyID)
}
