package services

import (
	"context"
	"lifeline/models"
	"lifeline/utils"
	"sync"
	"time"
)

// In-memory stores standing in for the mongo-backed repositories.

type fakeEmergencyStore struct {
	mu          sync.Mutex
	emergencies map[string]*models.Emergency
}

func newFakeEmergencyStore() *fakeEmergencyStore {
	return &fakeEmergencyStore{emergencies: make(map[string]*models.Emergency)}
}

func (f *fakeEmergencyStore) Create(ctx context.Context, emergency *models.Emergency) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *emergency
	f.emergencies[emergency.ID] = &clone
	return nil
}

func (f *fakeEmergencyStore) GetByID(ctx context.Context, id string) (*models.Emergency, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	emergency, ok := f.emergencies[id]
	if !ok {
		return nil, utils.NewEmergencyNotFoundError()
	}
	clone := *emergency
	return &clone, nil
}

func (f *fakeEmergencyStore) GetActiveByUser(ctx context.Context, userID string) (*models.Emergency, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, emergency := range f.emergencies {
		if emergency.UserID == userID && !emergency.IsTerminal() {
			clone := *emergency
			return &clone, nil
		}
	}
	return nil, nil
}

func (f *fakeEmergencyStore) UpdateStatus(ctx context.Context, id string, status models.EmergencyStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	emergency, ok := f.emergencies[id]
	if !ok {
		return utils.NewEmergencyNotFoundError()
	}
	emergency.Status = status
	now := time.Now()
	if status == models.StatusActive {
		emergency.ActivatedAt = &now
	}
	return nil
}

func (f *fakeEmergencyStore) Cancel(ctx context.Context, id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	emergency, ok := f.emergencies[id]
	if !ok {
		return utils.NewEmergencyNotFoundError()
	}
	now := time.Now()
	emergency.Status = models.StatusCancelled
	emergency.CancelledAt = &now
	emergency.CancellationReason = reason
	return nil
}

func (f *fakeEmergencyStore) Resolve(ctx context.Context, id, notes string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	emergency, ok := f.emergencies[id]
	if !ok {
		return utils.NewEmergencyNotFoundError()
	}
	now := time.Now()
	emergency.Status = models.StatusResolved
	emergency.ResolvedAt = &now
	emergency.ResolutionNotes = notes
	return nil
}

func (f *fakeEmergencyStore) ListByUser(ctx context.Context, filters models.EmergencyHistoryFilters) ([]models.Emergency, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []models.Emergency
	for _, emergency := range f.emergencies {
		if emergency.UserID == filters.UserID {
			result = append(result, *emergency)
		}
	}
	return result, int64(len(result)), nil
}

func (f *fakeEmergencyStore) ListByStatus(ctx context.Context, status models.EmergencyStatus) ([]models.Emergency, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []models.Emergency
	for _, emergency := range f.emergencies {
		if emergency.Status == status {
			result = append(result, *emergency)
		}
	}
	return result, nil
}

func (f *fakeEmergencyStore) status(id string) models.EmergencyStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.emergencies[id].Status
}

type fakeAckStore struct {
	mu   sync.Mutex
	acks map[string]*models.Acknowledgment
}

func newFakeAckStore() *fakeAckStore {
	return &fakeAckStore{acks: make(map[string]*models.Acknowledgment)}
}

func (f *fakeAckStore) Create(ctx context.Context, ack *models.Acknowledgment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := ack.EmergencyID + "|" + ack.ResponderID
	if _, exists := f.acks[key]; exists {
		return utils.NewDuplicateAcknowledgmentError()
	}
	f.acks[key] = ack
	return nil
}

func (f *fakeAckStore) CountByEmergency(ctx context.Context, emergencyID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, ack := range f.acks {
		if ack.EmergencyID == emergencyID {
			count++
		}
	}
	return count, nil
}

func (f *fakeAckStore) ListByEmergency(ctx context.Context, emergencyID string) ([]models.Acknowledgment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []models.Acknowledgment
	for _, ack := range f.acks {
		if ack.EmergencyID == emergencyID {
			result = append(result, *ack)
		}
	}
	return result, nil
}

// gatedAckStore pauses inside Create until released, letting tests hold an
// acknowledgment mid-insert while a concurrent transition races it.
type gatedAckStore struct {
	*fakeAckStore
	entered chan struct{}
	release chan struct{}
}

func newGatedAckStore() *gatedAckStore {
	return &gatedAckStore{
		fakeAckStore: newFakeAckStore(),
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
}

func (g *gatedAckStore) Create(ctx context.Context, ack *models.Acknowledgment) error {
	close(g.entered)
	<-g.release
	return g.fakeAckStore.Create(ctx, ack)
}

type fakeResolver struct {
	recipients []models.Recipient
	err        error
}

func (f *fakeResolver) ResolveRecipients(ctx context.Context, userID string) ([]models.Recipient, error) {
	return f.recipients, f.err
}

func (f *fakeResolver) ResolveTier(ctx context.Context, userID string, tier models.ContactTier) ([]models.Recipient, error) {
	if f.err != nil {
		return nil, f.err
	}
	var result []models.Recipient
	for _, r := range f.recipients {
		if r.Tier == tier {
			result = append(result, r)
		}
	}
	return result, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*models.LifecycleEvent
}

func (f *fakePublisher) Publish(ctx context.Context, event *models.LifecycleEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) published() []*models.LifecycleEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.LifecycleEvent(nil), f.events...)
}

// fakeCountdown records Start/Cancel calls and exposes the fire callback so
// tests can simulate timer expiry deterministically.
type fakeCountdown struct {
	mu        sync.Mutex
	fires     map[string]func()
	delays    map[string]time.Duration
	cancelled []string
}

func newFakeCountdown() *fakeCountdown {
	return &fakeCountdown{
		fires:  make(map[string]func()),
		delays: make(map[string]time.Duration),
	}
}

func (f *fakeCountdown) Start(emergencyID string, delay time.Duration, fire func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fires[emergencyID] = fire
	f.delays[emergencyID] = delay
}

func (f *fakeCountdown) Cancel(emergencyID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, emergencyID)
	_, exists := f.fires[emergencyID]
	delete(f.fires, emergencyID)
	return exists
}

func (f *fakeCountdown) fire(emergencyID string) {
	f.mu.Lock()
	fn := f.fires[emergencyID]
	delete(f.fires, emergencyID)
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type fakeEscalation struct {
	mu      sync.Mutex
	started []string
	stopped []string
}

func (f *fakeEscalation) StartMonitoring(emergencyID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, emergencyID)
}

func (f *fakeEscalation) Stop(emergencyID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, emergencyID)
}

func (f *fakeEscalation) stopCount(emergencyID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, id := range f.stopped {
		if id == emergencyID {
			count++
		}
	}
	return count
}
