package services

import (
	"context"
	"lifeline/interfaces"
	"lifeline/models"
	"lifeline/utils"
	"time"

	"github.com/sirupsen/logrus"
)

// countdownController and escalationController are the slices of the timer
// services the lifecycle needs, kept narrow so tests can fake them.
type countdownController interface {
	Start(emergencyID string, delay time.Duration, fire func())
	Cancel(emergencyID string) bool
}

type escalationController interface {
	StartMonitoring(emergencyID string)
	Stop(emergencyID string)
}

type LifecycleConfig struct {
	// DefaultCountdown applies to user-initiated triggers that do not
	// specify one; DeviceCountdown applies to automatic device triggers,
	// which get a longer window because nobody pressed a button.
	DefaultCountdown time.Duration
	DeviceCountdown  time.Duration
	ActivateTimeout  time.Duration
}

// LifecycleService owns every emergency state transition. All writes to one
// emergency happen under its keyed lock, so concurrent cancel/resolve/timer
// races serialize here instead of in the database.
type LifecycleService struct {
	emergencyRepo interfaces.EmergencyRepository
	ackRepo       interfaces.AcknowledgmentRepository
	resolver      interfaces.RecipientResolver
	publisher     interfaces.EventPublisher
	countdown     countdownController
	escalation    escalationController
	locks         *utils.KeyedMutex
	config        LifecycleConfig
}

func NewLifecycleService(
	emergencyRepo interfaces.EmergencyRepository,
	ackRepo interfaces.AcknowledgmentRepository,
	resolver interfaces.RecipientResolver,
	publisher interfaces.EventPublisher,
	countdown countdownController,
	escalation escalationController,
	config LifecycleConfig,
) *LifecycleService {
	if config.DefaultCountdown == 0 {
		config.DefaultCountdown = 10 * time.Second
	}
	if config.DeviceCountdown == 0 {
		config.DeviceCountdown = 30 * time.Second
	}
	if config.ActivateTimeout == 0 {
		config.ActivateTimeout = 30 * time.Second
	}

	return &LifecycleService{
		emergencyRepo: emergencyRepo,
		ackRepo:       ackRepo,
		resolver:      resolver,
		publisher:     publisher,
		countdown:     countdown,
		escalation:    escalation,
		locks:         utils.NewKeyedMutex(),
		config:        config,
	}
}

// Trigger creates a PENDING emergency for a user-initiated alarm and arms its
// cancellation countdown. An explicit countdown of zero activates immediately.
func (ls *LifecycleService) Trigger(ctx context.Context, userID string, req *models.TriggerEmergencyRequest) (*models.Emergency, error) {
	countdown := ls.config.DefaultCountdown
	if req.CountdownSeconds != nil {
		countdown = time.Duration(*req.CountdownSeconds) * time.Second
	}

	return ls.trigger(ctx, userID, models.TriggeredByUser, req.Type, req.Location, req.Message, countdown)
}

// TriggerFromDevice creates a PENDING emergency for an automatic device
// trigger (fall detection, crash sensor). The longer default countdown gives
// the user time to cancel a false positive.
func (ls *LifecycleService) TriggerFromDevice(ctx context.Context, req *models.DeviceTriggerRequest) (*models.Emergency, error) {
	countdown := ls.config.DeviceCountdown
	if req.CountdownSeconds != nil {
		countdown = time.Duration(*req.CountdownSeconds) * time.Second
	}

	logrus.Infof("Device %s triggered emergency for user %s", req.DeviceID, req.UserID)
	return ls.trigger(ctx, req.UserID, models.TriggeredByDevice, req.Type, req.Location, req.Message, countdown)
}

func (ls *LifecycleService) trigger(
	ctx context.Context,
	userID string,
	source models.TriggerSource,
	emergencyType models.EmergencyType,
	location models.Location,
	message string,
	countdown time.Duration,
) (*models.Emergency, error) {
	// The user-scoped lock makes the active-check plus insert atomic, so two
	// concurrent triggers cannot both pass the at-most-one-active check.
	userKey := "user:" + userID
	ls.locks.Lock(userKey)
	defer ls.locks.Unlock(userKey)

	existing, err := ls.emergencyRepo.GetActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		logrus.Warnf("User %s already has emergency %s in status %s", userID, existing.ID, existing.Status)
		return nil, utils.NewActiveEmergencyExistsError()
	}

	emergency := &models.Emergency{
		ID:               utils.GenerateUUID(),
		UserID:           userID,
		Type:             emergencyType,
		Status:           models.StatusPending,
		Location:         location,
		Message:          message,
		TriggeredBy:      source,
		CountdownSeconds: int(countdown / time.Second),
		CreatedAt:        time.Now(),
	}

	if err := ls.emergencyRepo.Create(ctx, emergency); err != nil {
		return nil, err
	}

	logrus.Infof("Emergency %s created for user %s (type=%s, countdown=%s)", emergency.ID, userID, emergencyType, countdown)

	if countdown <= 0 {
		if err := ls.Activate(ctx, emergency.ID); err != nil {
			logrus.Errorf("Immediate activation of emergency %s failed: %v", emergency.ID, err)
			return nil, err
		}
		return ls.emergencyRepo.GetByID(ctx, emergency.ID)
	}

	ls.armCountdown(emergency.ID, countdown)
	return emergency, nil
}

// armCountdown schedules activation when the grace period expires. The timer
// callback runs detached from any request, so it gets its own context.
func (ls *LifecycleService) armCountdown(emergencyID string, countdown time.Duration) {
	ls.countdown.Start(emergencyID, countdown, func() {
		ctx, cancel := context.WithTimeout(context.Background(), ls.config.ActivateTimeout)
		defer cancel()

		if err := ls.Activate(ctx, emergencyID); err != nil {
			logrus.Errorf("Countdown activation of emergency %s failed: %v", emergencyID, err)
		}
	})
}

// Activate moves a PENDING emergency to ACTIVE, publishes the activation
// event and starts escalation monitoring. Activating an emergency that is no
// longer PENDING is a no-op: a cancel that won the countdown race stays won.
func (ls *LifecycleService) Activate(ctx context.Context, emergencyID string) error {
	ls.locks.Lock(emergencyID)
	defer ls.locks.Unlock(emergencyID)

	emergency, err := ls.emergencyRepo.GetByID(ctx, emergencyID)
	if err != nil {
		return err
	}

	if !emergency.IsPending() {
		logrus.Infof("Emergency %s is %s, skipping activation", emergencyID, emergency.Status)
		return nil
	}

	if err := ls.emergencyRepo.UpdateStatus(ctx, emergencyID, models.StatusActive); err != nil {
		return err
	}

	now := time.Now()
	emergency.Status = models.StatusActive
	emergency.ActivatedAt = &now

	logrus.Infof("Emergency %s activated for user %s", emergencyID, emergency.UserID)

	// Recipient resolution failure must not block activation; the
	// dispatcher retries resolution when the snapshot arrives empty.
	recipients, err := ls.resolver.ResolveRecipients(ctx, emergency.UserID)
	if err != nil {
		logrus.Errorf("Failed to resolve recipients for emergency %s: %v", emergencyID, err)
		recipients = nil
	}

	event := &models.LifecycleEvent{
		EventID:     "activated:" + emergencyID,
		Kind:        models.EventEmergencyActivated,
		EmergencyID: emergencyID,
		UserID:      emergency.UserID,
		Type:        emergency.Type,
		Location:    emergency.Location,
		Message:     emergency.Message,
		TriggeredBy: emergency.TriggeredBy,
		Recipients:  recipients,
		Timestamp:   now,
	}
	if err := ls.publisher.Publish(ctx, event); err != nil {
		logrus.Errorf("Failed to publish activation event for emergency %s: %v", emergencyID, err)
	}

	ls.escalation.StartMonitoring(emergencyID)
	return nil
}

// Cancel stops a PENDING or ACTIVE emergency. Cancelling during the countdown
// wins the race against activation; cancelling a terminal emergency fails.
func (ls *LifecycleService) Cancel(ctx context.Context, emergencyID, reason string) (*models.Emergency, error) {
	ls.locks.Lock(emergencyID)
	defer ls.locks.Unlock(emergencyID)

	emergency, err := ls.emergencyRepo.GetByID(ctx, emergencyID)
	if err != nil {
		return nil, err
	}

	if !emergency.CanBeCancelled() {
		return nil, utils.NewEmergencyNotCancellableError()
	}

	if emergency.IsPending() {
		ls.countdown.Cancel(emergencyID)
	}

	if err := ls.emergencyRepo.Cancel(ctx, emergencyID, reason); err != nil {
		return nil, err
	}

	ls.escalation.Stop(emergencyID)

	now := time.Now()
	emergency.Status = models.StatusCancelled
	emergency.CancelledAt = &now
	emergency.CancellationReason = reason

	logrus.Infof("Emergency %s cancelled", emergencyID)

	event := &models.LifecycleEvent{
		EventID:     "cancelled:" + emergencyID,
		Kind:        models.EventEmergencyCancelled,
		EmergencyID: emergencyID,
		UserID:      emergency.UserID,
		Type:        emergency.Type,
		Location:    emergency.Location,
		TriggeredBy: emergency.TriggeredBy,
		Reason:      reason,
		Timestamp:   now,
	}
	if err := ls.publisher.Publish(ctx, event); err != nil {
		logrus.Errorf("Failed to publish cancellation event for emergency %s: %v", emergencyID, err)
	}

	return emergency, nil
}

// Resolve closes an ACTIVE emergency. PENDING emergencies cannot be resolved,
// only cancelled; terminal emergencies reject further transitions.
func (ls *LifecycleService) Resolve(ctx context.Context, emergencyID, notes string) (*models.Emergency, error) {
	ls.locks.Lock(emergencyID)
	defer ls.locks.Unlock(emergencyID)

	emergency, err := ls.emergencyRepo.GetByID(ctx, emergencyID)
	if err != nil {
		return nil, err
	}

	if !emergency.CanBeResolved() {
		return nil, utils.NewEmergencyNotActiveError()
	}

	if err := ls.emergencyRepo.Resolve(ctx, emergencyID, notes); err != nil {
		return nil, err
	}

	ls.escalation.Stop(emergencyID)

	now := time.Now()
	emergency.Status = models.StatusResolved
	emergency.ResolvedAt = &now
	emergency.ResolutionNotes = notes

	logrus.Infof("Emergency %s resolved after %s", emergencyID, emergency.Duration().Round(time.Second))

	event := &models.LifecycleEvent{
		EventID:     "resolved:" + emergencyID,
		Kind:        models.EventEmergencyResolved,
		EmergencyID: emergencyID,
		UserID:      emergency.UserID,
		Type:        emergency.Type,
		Location:    emergency.Location,
		TriggeredBy: emergency.TriggeredBy,
		Notes:       notes,
		Timestamp:   now,
	}
	if err := ls.publisher.Publish(ctx, event); err != nil {
		logrus.Errorf("Failed to publish resolution event for emergency %s: %v", emergencyID, err)
	}

	return emergency, nil
}

// Acknowledge records that a responder has seen an ACTIVE emergency and stops
// the escalation clock. One acknowledgment per responder per emergency. The
// keyed lock serializes the ACTIVE check with concurrent cancel/resolve, so an
// acknowledgment is never recorded against a terminal emergency.
func (ls *LifecycleService) Acknowledge(ctx context.Context, emergencyID string, req *models.AcknowledgeEmergencyRequest) (*models.Acknowledgment, error) {
	ls.locks.Lock(emergencyID)
	defer ls.locks.Unlock(emergencyID)

	emergency, err := ls.emergencyRepo.GetByID(ctx, emergencyID)
	if err != nil {
		return nil, err
	}

	if !emergency.IsActive() {
		return nil, utils.NewEmergencyNotActiveError()
	}

	ack := &models.Acknowledgment{
		ID:             utils.GenerateUUID(),
		EmergencyID:    emergencyID,
		ResponderID:    req.ResponderID,
		ResponderName:  req.ResponderName,
		AcknowledgedAt: time.Now(),
		Location:       req.Location,
		Message:        req.Message,
	}

	if err := ls.ackRepo.Create(ctx, ack); err != nil {
		return nil, err
	}

	logrus.Infof("Emergency %s acknowledged by responder %s", emergencyID, req.ResponderID)

	ls.escalation.Stop(emergencyID)
	return ack, nil
}

// GetEmergency returns one emergency with its acknowledgments.
func (ls *LifecycleService) GetEmergency(ctx context.Context, emergencyID string) (*models.EmergencyDetailResponse, error) {
	emergency, err := ls.emergencyRepo.GetByID(ctx, emergencyID)
	if err != nil {
		return nil, err
	}

	acks, err := ls.ackRepo.ListByEmergency(ctx, emergencyID)
	if err != nil {
		return nil, err
	}

	return &models.EmergencyDetailResponse{
		Emergency:       *emergency,
		Acknowledgments: acks,
	}, nil
}

// History returns a user's paginated emergency history.
func (ls *LifecycleService) History(ctx context.Context, filters models.EmergencyHistoryFilters) ([]models.Emergency, int64, error) {
	return ls.emergencyRepo.ListByUser(ctx, filters)
}

// RecoverInFlight re-arms timers for emergencies that were mid-lifecycle when
// the process last stopped. PENDING emergencies past their deadline activate
// immediately; the rest get the remaining countdown. ACTIVE emergencies get a
// fresh escalation window.
func (ls *LifecycleService) RecoverInFlight(ctx context.Context) error {
	pending, err := ls.emergencyRepo.ListByStatus(ctx, models.StatusPending)
	if err != nil {
		return err
	}

	for i := range pending {
		emergency := pending[i]
		deadline := emergency.CreatedAt.Add(time.Duration(emergency.CountdownSeconds) * time.Second)
		remaining := time.Until(deadline)

		if remaining <= 0 {
			logrus.Infof("Recovering emergency %s: countdown expired while down, activating", emergency.ID)
			if err := ls.Activate(ctx, emergency.ID); err != nil {
				logrus.Errorf("Recovery activation of emergency %s failed: %v", emergency.ID, err)
			}
			continue
		}

		logrus.Infof("Recovering emergency %s: re-arming countdown (%s remaining)", emergency.ID, remaining.Round(time.Second))
		ls.armCountdown(emergency.ID, remaining)
	}

	active, err := ls.emergencyRepo.ListByStatus(ctx, models.StatusActive)
	if err != nil {
		return err
	}

	for i := range active {
		ls.escalation.StartMonitoring(active[i].ID)
	}

	logrus.Infof("Recovery sweep complete: %d pending, %d active emergencies recovered", len(pending), len(active))
	return nil
}
