package workers

import (
	"context"
	"lifeline/interfaces"
	"lifeline/models"
	"lifeline/services"
	"lifeline/utils"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DeliveryWorker is the fan-out worker pool. Jobs arrive on two queues and
// every worker drains the expedited queue before touching the standard one,
// so primary-tier and escalation traffic is never stuck behind bulk sends.
type DeliveryWorker struct {
	deliveryRepo interfaces.DeliveryRepository
	providers    map[models.Channel]interfaces.ChannelProvider
	retryPolicy  *services.RetryPolicy

	config DeliveryWorkerConfig

	expeditedQueue chan *models.DeliveryJob
	standardQueue  chan *models.DeliveryJob

	isRunning bool
	mutex     sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stats      DeliveryWorkerStats
	statsMutex sync.RWMutex
}

type DeliveryWorkerConfig struct {
	WorkerCount int           `json:"workerCount"`
	QueueSize   int           `json:"queueSize"`
	SendTimeout time.Duration `json:"sendTimeout"`
}

type DeliveryWorkerStats struct {
	JobsProcessed   int64     `json:"jobsProcessed"`
	JobsDelivered   int64     `json:"jobsDelivered"`
	JobsFailed      int64     `json:"jobsFailed"`
	JobsRetried     int64     `json:"jobsRetried"`
	Fallbacks       int64     `json:"fallbacks"`
	PushSent        int64     `json:"pushSent"`
	SMSSent         int64     `json:"smsSent"`
	EmailSent       int64     `json:"emailSent"`
	LastProcessedAt time.Time `json:"lastProcessedAt"`
	ExpeditedQueue  int       `json:"expeditedQueueLength"`
	StandardQueue   int       `json:"standardQueueLength"`
	StartTime       time.Time `json:"startTime"`
}

func NewDeliveryWorker(
	deliveryRepo interfaces.DeliveryRepository,
	providers map[models.Channel]interfaces.ChannelProvider,
	retryPolicy *services.RetryPolicy,
	config DeliveryWorkerConfig,
) *DeliveryWorker {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 5
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1000
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 15 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &DeliveryWorker{
		deliveryRepo:   deliveryRepo,
		providers:      providers,
		retryPolicy:    retryPolicy,
		config:         config,
		expeditedQueue: make(chan *models.DeliveryJob, config.QueueSize),
		standardQueue:  make(chan *models.DeliveryJob, config.QueueSize),
		ctx:            ctx,
		cancel:         cancel,
		stats: DeliveryWorkerStats{
			StartTime: time.Now(),
		},
	}
}

func (dw *DeliveryWorker) Start() error {
	dw.mutex.Lock()
	defer dw.mutex.Unlock()

	if dw.isRunning {
		return nil
	}
	dw.isRunning = true

	logrus.Infof("Starting Delivery Worker with %d workers", dw.config.WorkerCount)

	for i := 0; i < dw.config.WorkerCount; i++ {
		dw.wg.Add(1)
		go dw.worker(i)
	}

	logrus.Info("Delivery Worker started successfully")
	return nil
}

func (dw *DeliveryWorker) Stop() error {
	dw.mutex.Lock()
	if !dw.isRunning {
		dw.mutex.Unlock()
		return nil
	}
	dw.isRunning = false
	dw.mutex.Unlock()

	logrus.Info("Stopping Delivery Worker...")
	dw.cancel()
	dw.wg.Wait()
	logrus.Info("Delivery Worker stopped")
	return nil
}

// Submit queues a job for delivery. It implements interfaces.JobSubmitter.
func (dw *DeliveryWorker) Submit(job *models.DeliveryJob) error {
	queue := dw.standardQueue
	if job.Priority == models.PriorityExpedited {
		queue = dw.expeditedQueue
	}

	select {
	case queue <- job:
		return nil
	case <-dw.ctx.Done():
		return utils.NewInternalError("delivery worker is shut down")
	default:
		return utils.NewInternalError("delivery queue is full")
	}
}

func (dw *DeliveryWorker) worker(id int) {
	defer dw.wg.Done()

	logrus.Debugf("Delivery worker %d started", id)

	for {
		// Expedited jobs first. Only when that queue is empty does the
		// worker take standard work, and even then an expedited arrival
		// wins the select.
		select {
		case job := <-dw.expeditedQueue:
			dw.process(job)
			continue
		default:
		}

		select {
		case job := <-dw.expeditedQueue:
			dw.process(job)
		case job := <-dw.standardQueue:
			dw.process(job)
		case <-dw.ctx.Done():
			logrus.Debugf("Delivery worker %d stopping", id)
			return
		}
	}
}

func (dw *DeliveryWorker) process(job *models.DeliveryJob) {
	ctx, cancel := context.WithTimeout(dw.ctx, dw.config.SendTimeout)
	defer cancel()

	if err := dw.deliveryRepo.IncrementJobAttempts(ctx, job.ID); err != nil {
		logrus.Errorf("Failed to record attempt for job %s: %v", job.ID, err)
	}
	job.Attempts++

	provider, ok := dw.providers[job.Channel]
	if !ok {
		logrus.Errorf("No provider registered for channel %s, failing job %s", job.Channel, job.ID)
		dw.fail(job, "no provider for channel")
		return
	}

	result := provider.Send(ctx, job)

	dw.statsMutex.Lock()
	dw.stats.JobsProcessed++
	dw.stats.LastProcessedAt = time.Now()
	dw.statsMutex.Unlock()

	if result.Delivered {
		dw.deliver(job, result)
		return
	}

	job.LastError = result.ErrorCode
	dw.handleFailure(job, result)
}

func (dw *DeliveryWorker) deliver(job *models.DeliveryJob, result models.DeliveryResult) {
	ctx, cancel := context.WithTimeout(context.Background(), dw.config.SendTimeout)
	defer cancel()

	if err := dw.deliveryRepo.MarkJobDelivered(ctx, job); err != nil {
		logrus.Errorf("Failed to mark job %s delivered: %v", job.ID, err)
		return
	}

	dw.statsMutex.Lock()
	dw.stats.JobsDelivered++
	switch job.Channel {
	case models.ChannelPush:
		dw.stats.PushSent++
	case models.ChannelSMS:
		dw.stats.SMSSent++
	case models.ChannelEmail:
		dw.stats.EmailSent++
	}
	dw.statsMutex.Unlock()

	logrus.Infof("Job %s delivered via %s (message %s, attempt %d)", job.ID, job.Channel, result.MessageID, job.Attempts)
}

// handleFailure walks the failure ladder: retry on the same channel while the
// policy allows, then switch to the fallback channel, then fail terminally.
func (dw *DeliveryWorker) handleFailure(job *models.DeliveryJob, result models.DeliveryResult) {
	retryable := result.Retryable && !dw.retryPolicy.IsPermanent(result.ErrorCode)

	if retryable && dw.retryPolicy.ShouldRetry(job.Channel, job.Attempts, result.ErrorCode) {
		delay := dw.retryPolicy.NextBackoff(job.Channel, job.Attempts)
		logrus.Warnf("Job %s failed on %s (%s), retrying in %s (attempt %d)", job.ID, job.Channel, result.ErrorCode, delay.Round(time.Millisecond), job.Attempts)

		dw.statsMutex.Lock()
		dw.stats.JobsRetried++
		dw.statsMutex.Unlock()

		dw.requeueAfter(job, delay)
		return
	}

	if fallback, ok := dw.retryPolicy.FallbackChannel(job); ok {
		ctx, cancel := context.WithTimeout(context.Background(), dw.config.SendTimeout)
		defer cancel()

		if err := dw.deliveryRepo.SwitchJobChannel(ctx, job.ID, fallback); err != nil {
			logrus.Errorf("Failed to switch job %s to %s: %v", job.ID, fallback, err)
			dw.fail(job, result.ErrorCode)
			return
		}

		logrus.Warnf("Job %s exhausted %s (%s), falling back to %s", job.ID, job.Channel, result.ErrorCode, fallback)

		job.Channel = fallback
		job.Priority = models.PriorityExpedited
		job.Attempts = 0
		job.Status = models.JobStatusQueued

		dw.statsMutex.Lock()
		dw.stats.Fallbacks++
		dw.statsMutex.Unlock()

		if err := dw.Submit(job); err != nil {
			logrus.Errorf("Failed to requeue job %s on fallback channel: %v", job.ID, err)
			dw.fail(job, result.ErrorCode)
		}
		return
	}

	dw.fail(job, result.ErrorCode)
}

// requeueAfter re-submits the job once the backoff elapses. The delay timer
// lives outside the worker goroutine so a waiting retry never blocks a slot.
// The running check and wg.Add happen under the read lock so Stop cannot start
// waiting between them; a retry scheduled during shutdown is dropped and the
// job is picked up by the startup recovery sweep.
func (dw *DeliveryWorker) requeueAfter(job *models.DeliveryJob, delay time.Duration) {
	dw.mutex.RLock()
	if !dw.isRunning {
		dw.mutex.RUnlock()
		logrus.Warnf("Worker stopping, dropping retry of job %s", job.ID)
		return
	}
	dw.wg.Add(1)
	dw.mutex.RUnlock()

	go func() {
		defer dw.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
			if err := dw.Submit(job); err != nil {
				logrus.Errorf("Failed to requeue job %s after backoff: %v", job.ID, err)
				dw.fail(job, job.LastError)
			}
		case <-dw.ctx.Done():
		}
	}()
}

func (dw *DeliveryWorker) fail(job *models.DeliveryJob, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), dw.config.SendTimeout)
	defer cancel()

	if err := dw.deliveryRepo.MarkJobFailed(ctx, job, reason); err != nil {
		logrus.Errorf("Failed to mark job %s failed: %v", job.ID, err)
		return
	}

	dw.statsMutex.Lock()
	dw.stats.JobsFailed++
	dw.statsMutex.Unlock()

	logrus.Errorf("Job %s failed terminally on %s after %d attempts: %s", job.ID, job.Channel, job.Attempts, reason)
}

// GetStats returns a snapshot of worker metrics.
func (dw *DeliveryWorker) GetStats() DeliveryWorkerStats {
	dw.statsMutex.RLock()
	stats := dw.stats
	dw.statsMutex.RUnlock()

	stats.ExpeditedQueue = len(dw.expeditedQueue)
	stats.StandardQueue = len(dw.standardQueue)
	return stats
}

// IsHealthy reports whether the pool is running and keeping up.
func (dw *DeliveryWorker) IsHealthy() bool {
	dw.mutex.RLock()
	defer dw.mutex.RUnlock()
	return dw.isRunning && len(dw.expeditedQueue) < dw.config.QueueSize
}
