package services

import (
	"context"
	"lifeline/models"
	"lifeline/utils"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLifecycle(t *testing.T) (*LifecycleService, *fakeEmergencyStore, *fakeAckStore, *fakePublisher, *fakeCountdown, *fakeEscalation) {
	t.Helper()

	store := newFakeEmergencyStore()
	acks := newFakeAckStore()
	publisher := &fakePublisher{}
	countdown := newFakeCountdown()
	escalation := &fakeEscalation{}
	resolver := &fakeResolver{recipients: []models.Recipient{
		{ContactID: "c1", Name: "Ana", Tier: models.TierPrimary, PushToken: "tok-1", Phone: "+15550001"},
	}}

	service := NewLifecycleService(store, acks, resolver, publisher, countdown, escalation, LifecycleConfig{
		DefaultCountdown: 10 * time.Second,
		DeviceCountdown:  30 * time.Second,
	})
	return service, store, acks, publisher, countdown, escalation
}

func triggerRequest() *models.TriggerEmergencyRequest {
	return &models.TriggerEmergencyRequest{
		Type:     models.EmergencyTypeSOS,
		Location: models.Location{Latitude: 52.52, Longitude: 13.405, Timestamp: time.Now()},
	}
}

func TestTriggerCreatesPendingEmergency(t *testing.T) {
	service, _, _, _, countdown, _ := newTestLifecycle(t)

	emergency, err := service.Trigger(context.Background(), "user-1", triggerRequest())
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, emergency.Status)
	assert.Equal(t, models.TriggeredByUser, emergency.TriggeredBy)
	assert.Equal(t, 10, emergency.CountdownSeconds)
	assert.Equal(t, 10*time.Second, countdown.delays[emergency.ID])
}

func TestTriggerRejectsSecondEmergency(t *testing.T) {
	service, _, _, _, _, _ := newTestLifecycle(t)

	_, err := service.Trigger(context.Background(), "user-1", triggerRequest())
	require.NoError(t, err)

	_, err = service.Trigger(context.Background(), "user-1", triggerRequest())
	require.Error(t, err)
	assert.True(t, utils.HasErrorCode(err, utils.ErrCodeActiveEmergencyExists))
}

func TestTriggerAllowsSecondAfterTerminal(t *testing.T) {
	service, _, _, _, _, _ := newTestLifecycle(t)

	first, err := service.Trigger(context.Background(), "user-1", triggerRequest())
	require.NoError(t, err)

	_, err = service.Cancel(context.Background(), first.ID, "false alarm")
	require.NoError(t, err)

	_, err = service.Trigger(context.Background(), "user-1", triggerRequest())
	assert.NoError(t, err)
}

func TestDeviceTriggerUsesLongerCountdown(t *testing.T) {
	service, _, _, _, countdown, _ := newTestLifecycle(t)

	emergency, err := service.TriggerFromDevice(context.Background(), &models.DeviceTriggerRequest{
		UserID:   "user-1",
		DeviceID: "watch-7",
		Type:     models.EmergencyTypeFall,
		Location: models.Location{Latitude: 1, Longitude: 2, Timestamp: time.Now()},
	})
	require.NoError(t, err)

	assert.Equal(t, models.TriggeredByDevice, emergency.TriggeredBy)
	assert.Equal(t, 30*time.Second, countdown.delays[emergency.ID])
}

func TestCountdownExpiryActivates(t *testing.T) {
	service, store, _, publisher, countdown, escalation := newTestLifecycle(t)

	emergency, err := service.Trigger(context.Background(), "user-1", triggerRequest())
	require.NoError(t, err)

	countdown.fire(emergency.ID)

	assert.Equal(t, models.StatusActive, store.status(emergency.ID))
	assert.Contains(t, escalation.started, emergency.ID)

	events := publisher.published()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventEmergencyActivated, events[0].Kind)
	assert.Equal(t, "activated:"+emergency.ID, events[0].EventID)
	assert.NotEmpty(t, events[0].Recipients)
}

func TestCancelDuringCountdownWinsRace(t *testing.T) {
	service, store, _, publisher, countdown, _ := newTestLifecycle(t)

	emergency, err := service.Trigger(context.Background(), "user-1", triggerRequest())
	require.NoError(t, err)

	cancelled, err := service.Cancel(context.Background(), emergency.ID, "accidental")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	// A timer callback arriving after cancellation must not resurrect the
	// emergency.
	countdown.fire(emergency.ID)
	assert.Equal(t, models.StatusCancelled, store.status(emergency.ID))

	for _, event := range publisher.published() {
		assert.NotEqual(t, models.EventEmergencyActivated, event.Kind)
	}
}

func TestCancelActiveEmergency(t *testing.T) {
	service, store, _, _, countdown, escalation := newTestLifecycle(t)

	emergency, err := service.Trigger(context.Background(), "user-1", triggerRequest())
	require.NoError(t, err)
	countdown.fire(emergency.ID)

	_, err = service.Cancel(context.Background(), emergency.ID, "situation handled")
	require.NoError(t, err)

	assert.Equal(t, models.StatusCancelled, store.status(emergency.ID))
	assert.Equal(t, 1, escalation.stopCount(emergency.ID))
}

func TestCancelTerminalEmergencyFails(t *testing.T) {
	service, _, _, _, _, _ := newTestLifecycle(t)

	emergency, err := service.Trigger(context.Background(), "user-1", triggerRequest())
	require.NoError(t, err)

	_, err = service.Cancel(context.Background(), emergency.ID, "first")
	require.NoError(t, err)

	_, err = service.Cancel(context.Background(), emergency.ID, "second")
	require.Error(t, err)
	assert.True(t, utils.HasErrorCode(err, utils.ErrCodeEmergencyNotCancellable))
}

func TestResolveRequiresActive(t *testing.T) {
	service, _, _, _, _, _ := newTestLifecycle(t)

	emergency, err := service.Trigger(context.Background(), "user-1", triggerRequest())
	require.NoError(t, err)

	_, err = service.Resolve(context.Background(), emergency.ID, "too early")
	require.Error(t, err)
	assert.True(t, utils.HasErrorCode(err, utils.ErrCodeEmergencyNotActive))
}

func TestResolveActiveEmergency(t *testing.T) {
	service, store, _, publisher, countdown, escalation := newTestLifecycle(t)

	emergency, err := service.Trigger(context.Background(), "user-1", triggerRequest())
	require.NoError(t, err)
	countdown.fire(emergency.ID)

	resolved, err := service.Resolve(context.Background(), emergency.ID, "paramedics on site")
	require.NoError(t, err)

	assert.Equal(t, models.StatusResolved, resolved.Status)
	assert.Equal(t, "paramedics on site", resolved.ResolutionNotes)
	assert.Equal(t, models.StatusResolved, store.status(emergency.ID))
	assert.Equal(t, 1, escalation.stopCount(emergency.ID))

	events := publisher.published()
	assert.Equal(t, models.EventEmergencyResolved, events[len(events)-1].Kind)

	// Terminal states are mutually exclusive: a resolved emergency cannot
	// be cancelled afterwards.
	_, err = service.Cancel(context.Background(), emergency.ID, "late cancel")
	assert.True(t, utils.HasErrorCode(err, utils.ErrCodeEmergencyNotCancellable))
}

func TestAcknowledgeRequiresActive(t *testing.T) {
	service, _, _, _, _, _ := newTestLifecycle(t)

	emergency, err := service.Trigger(context.Background(), "user-1", triggerRequest())
	require.NoError(t, err)

	_, err = service.Acknowledge(context.Background(), emergency.ID, &models.AcknowledgeEmergencyRequest{
		ResponderID:   "resp-1",
		ResponderName: "Ben",
	})
	require.Error(t, err)
	assert.True(t, utils.HasErrorCode(err, utils.ErrCodeEmergencyNotActive))
}

func TestAcknowledgeStopsEscalationAndRejectsDuplicates(t *testing.T) {
	service, _, _, _, countdown, escalation := newTestLifecycle(t)

	emergency, err := service.Trigger(context.Background(), "user-1", triggerRequest())
	require.NoError(t, err)
	countdown.fire(emergency.ID)

	req := &models.AcknowledgeEmergencyRequest{ResponderID: "resp-1", ResponderName: "Ben"}

	ack, err := service.Acknowledge(context.Background(), emergency.ID, req)
	require.NoError(t, err)
	assert.Equal(t, "resp-1", ack.ResponderID)
	assert.Equal(t, 1, escalation.stopCount(emergency.ID))

	_, err = service.Acknowledge(context.Background(), emergency.ID, req)
	require.Error(t, err)
	assert.True(t, utils.HasErrorCode(err, utils.ErrCodeDuplicateAcknowledgment))

	// A different responder may still acknowledge.
	_, err = service.Acknowledge(context.Background(), emergency.ID, &models.AcknowledgeEmergencyRequest{
		ResponderID:   "resp-2",
		ResponderName: "Cara",
	})
	assert.NoError(t, err)
}

func TestRecoverInFlight(t *testing.T) {
	service, store, _, _, countdown, escalation := newTestLifecycle(t)

	now := time.Now()
	expired := &models.Emergency{
		ID:               "expired",
		UserID:           "user-a",
		Type:             models.EmergencyTypeSOS,
		Status:           models.StatusPending,
		CountdownSeconds: 5,
		CreatedAt:        now.Add(-time.Minute),
	}
	waiting := &models.Emergency{
		ID:               "waiting",
		UserID:           "user-b",
		Type:             models.EmergencyTypeSOS,
		Status:           models.StatusPending,
		CountdownSeconds: 120,
		CreatedAt:        now,
	}
	active := &models.Emergency{
		ID:     "running",
		UserID: "user-c",
		Type:   models.EmergencyTypeSOS,
		Status: models.StatusActive,
	}
	require.NoError(t, store.Create(context.Background(), expired))
	require.NoError(t, store.Create(context.Background(), waiting))
	require.NoError(t, store.Create(context.Background(), active))

	require.NoError(t, service.RecoverInFlight(context.Background()))

	// The expired countdown activates immediately.
	assert.Equal(t, models.StatusActive, store.status("expired"))
	assert.Contains(t, escalation.started, "expired")

	// The one still inside its window gets the remaining time re-armed.
	assert.Equal(t, models.StatusPending, store.status("waiting"))
	remaining, ok := countdown.delays["waiting"]
	require.True(t, ok)
	assert.Greater(t, remaining, 100*time.Second)
	assert.LessOrEqual(t, remaining, 120*time.Second)

	// Already-active emergencies get a fresh escalation window.
	assert.Contains(t, escalation.started, "running")
}

func TestTriggerWithExplicitZeroCountdownActivatesImmediately(t *testing.T) {
	service, store, _, publisher, countdown, _ := newTestLifecycle(t)

	zero := 0
	req := triggerRequest()
	req.CountdownSeconds = &zero

	emergency, err := service.Trigger(context.Background(), "user-1", req)
	require.NoError(t, err)

	// No grace period: the emergency is ACTIVE on return and no countdown
	// timer was armed.
	assert.Equal(t, models.StatusActive, store.status(emergency.ID))
	assert.Empty(t, countdown.delays)

	events := publisher.published()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventEmergencyActivated, events[0].Kind)
}

func TestTriggerOmittedCountdownUsesDefault(t *testing.T) {
	service, store, _, _, countdown, _ := newTestLifecycle(t)

	emergency, err := service.Trigger(context.Background(), "user-1", triggerRequest())
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, store.status(emergency.ID))
	assert.Equal(t, 10*time.Second, countdown.delays[emergency.ID])
}

func TestAcknowledgeSerializesWithResolve(t *testing.T) {
	store := newFakeEmergencyStore()
	acks := newGatedAckStore()
	publisher := &fakePublisher{}
	service := NewLifecycleService(store, acks, &fakeResolver{}, publisher, newFakeCountdown(), &fakeEscalation{}, LifecycleConfig{
		DefaultCountdown: 10 * time.Second,
		DeviceCountdown:  30 * time.Second,
	})

	require.NoError(t, store.Create(context.Background(), &models.Emergency{
		ID:     "em-1",
		UserID: "user-1",
		Type:   models.EmergencyTypeSOS,
		Status: models.StatusActive,
	}))

	ackDone := make(chan error, 1)
	go func() {
		_, err := service.Acknowledge(context.Background(), "em-1", &models.AcknowledgeEmergencyRequest{
			ResponderID:   "resp-1",
			ResponderName: "Ana",
		})
		ackDone <- err
	}()

	// Acknowledge has passed its ACTIVE check and is paused inside the ack
	// insert, still holding the emergency lock.
	<-acks.entered

	resolveDone := make(chan error, 1)
	go func() {
		_, err := service.Resolve(context.Background(), "em-1", "handled")
		resolveDone <- err
	}()

	// Resolve must queue behind the in-flight acknowledgment, not land
	// between its status check and its insert.
	select {
	case <-resolveDone:
		t.Fatal("resolve completed while acknowledge held the emergency lock")
	case <-time.After(50 * time.Millisecond):
	}

	close(acks.release)
	require.NoError(t, <-ackDone)
	require.NoError(t, <-resolveDone)

	// The acknowledgment landed while the emergency was still ACTIVE; the
	// resolve followed it.
	count, err := acks.CountByEmergency(context.Background(), "em-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, models.StatusResolved, store.status("em-1"))
}
