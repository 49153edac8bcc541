package services

import (
	"context"
	"lifeline/models"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu          sync.Mutex
	escalations []string
	followUps   []int
}

func (d *recordingDispatcher) DispatchEscalation(ctx context.Context, emergency *models.Emergency) (*models.NotificationBatch, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.escalations = append(d.escalations, emergency.ID)
	return &models.NotificationBatch{}, nil
}

func (d *recordingDispatcher) DispatchFollowUp(ctx context.Context, emergency *models.Emergency, sequence int) (*models.NotificationBatch, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.followUps = append(d.followUps, sequence)
	return &models.NotificationBatch{}, nil
}

func (d *recordingDispatcher) escalationCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.escalations)
}

func (d *recordingDispatcher) followUpCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.followUps)
}

func activeEmergencyStore(id string) *fakeEmergencyStore {
	store := newFakeEmergencyStore()
	store.Create(context.Background(), &models.Emergency{
		ID:     id,
		UserID: "user-1",
		Type:   models.EmergencyTypeSOS,
		Status: models.StatusActive,
	})
	return store
}

func TestEscalatesWhenUnacknowledged(t *testing.T) {
	store := activeEmergencyStore("em-1")
	dispatcher := &recordingDispatcher{}

	es := NewEscalationService(store, newFakeAckStore(), dispatcher, EscalationConfig{
		Timeout:          20 * time.Millisecond,
		FollowUpInterval: time.Minute,
		MaxFollowUps:     3,
	})
	es.StartMonitoring("em-1")
	defer es.Cleanup()

	assert.Eventually(t, func() bool { return dispatcher.escalationCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestAcknowledgmentBeforeTimeoutSkipsEscalation(t *testing.T) {
	store := activeEmergencyStore("em-1")
	acks := newFakeAckStore()
	require.NoError(t, acks.Create(context.Background(), &models.Acknowledgment{
		ID:          "a1",
		EmergencyID: "em-1",
		ResponderID: "resp-1",
	}))

	dispatcher := &recordingDispatcher{}
	es := NewEscalationService(store, acks, dispatcher, EscalationConfig{
		Timeout:          20 * time.Millisecond,
		FollowUpInterval: time.Minute,
		MaxFollowUps:     3,
	})
	es.StartMonitoring("em-1")
	defer es.Cleanup()

	// The timer fires, sees the acknowledgment and stands down.
	assert.Eventually(t, func() bool { return es.ActiveCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, dispatcher.escalationCount())
}

func TestStopPreventsEscalation(t *testing.T) {
	store := activeEmergencyStore("em-1")
	dispatcher := &recordingDispatcher{}

	es := NewEscalationService(store, newFakeAckStore(), dispatcher, EscalationConfig{
		Timeout:          30 * time.Millisecond,
		FollowUpInterval: time.Minute,
		MaxFollowUps:     3,
	})
	es.StartMonitoring("em-1")
	es.Stop("em-1")

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, dispatcher.escalationCount())
	assert.Equal(t, 0, es.ActiveCount())
}

func TestStopIsIdempotent(t *testing.T) {
	store := activeEmergencyStore("em-1")
	es := NewEscalationService(store, newFakeAckStore(), &recordingDispatcher{}, EscalationConfig{
		Timeout:          time.Minute,
		FollowUpInterval: time.Minute,
		MaxFollowUps:     3,
	})

	es.StartMonitoring("em-1")
	es.Stop("em-1")
	es.Stop("em-1")
	es.Stop("never-monitored")
}

func TestFollowUpsRunUntilCap(t *testing.T) {
	store := activeEmergencyStore("em-1")
	dispatcher := &recordingDispatcher{}

	es := NewEscalationService(store, newFakeAckStore(), dispatcher, EscalationConfig{
		Timeout:          10 * time.Millisecond,
		FollowUpInterval: 15 * time.Millisecond,
		MaxFollowUps:     2,
	})
	es.StartMonitoring("em-1")
	defer es.Cleanup()

	assert.Eventually(t, func() bool { return dispatcher.followUpCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	// The cap bounds the loop; no more follow-ups arrive.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 2, dispatcher.followUpCount())
	assert.Equal(t, []int{1, 2}, dispatcher.followUps)
}

func TestFollowUpsStopWhenEmergencyLeavesActive(t *testing.T) {
	store := activeEmergencyStore("em-1")
	dispatcher := &recordingDispatcher{}

	es := NewEscalationService(store, newFakeAckStore(), dispatcher, EscalationConfig{
		Timeout:          10 * time.Millisecond,
		FollowUpInterval: 15 * time.Millisecond,
		MaxFollowUps:     50,
	})
	es.StartMonitoring("em-1")
	defer es.Cleanup()

	assert.Eventually(t, func() bool { return dispatcher.escalationCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, store.Resolve(context.Background(), "em-1", "handled"))

	// The loop notices the terminal state and exits.
	assert.Eventually(t, func() bool { return es.ActiveCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	count := dispatcher.followUpCount()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, count, dispatcher.followUpCount())
}
