package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/solargatsby/airdroptool/internal/logging"
	"github.com/solargatsby/airdroptool/internal/models"
)

// RequestStore is the request surface the dispatcher needs.
type RequestStore interface {
	GetByID(ctx context.Context, id int64) (*models.AirdropRequest, error)
	Update(ctx context.Context, id int64, status models.RequestStatus, limit int64) error
}

// ResultStore is the receiver-row surface the dispatcher needs.
type ResultStore interface {
	UpsertMany(ctx context.Context, requestID int64, receivers []string) error
	Count(ctx context.Context, requestID int64) (int64, error)
	ResetFailed(ctx context.Context, requestID int64, receivers []string) error
}

// Invalidator drops cached request reads after a mutation.
type Invalidator interface {
	Invalidate(ctx context.Context, id, campaignID int64)
}

// DispatcherConfig wires the queue dispatcher.
type DispatcherConfig struct {
	Queue    *Queue
	Requests RequestStore
	Results  ResultStore
	Cache    Invalidator // optional
	Interval time.Duration
}

// Dispatcher drains the queue one intent per tick. The deliberately slow drain
// spreads receiver-row writes out so a burst of large campaigns cannot starve
// the engine's store access.
type Dispatcher struct {
	queue    *Queue
	requests RequestStore
	results  ResultStore
	cache    Invalidator
	interval time.Duration

	logger  *logging.Logger
	running bool
	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewDispatcher creates a queue dispatcher.
func NewDispatcher(cfg *DispatcherConfig, logger *logging.Logger) (*Dispatcher, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if cfg.Requests == nil {
		return nil, fmt.Errorf("request store cannot be nil")
	}
	if cfg.Results == nil {
		return nil, fmt.Errorf("result store cannot be nil")
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}

	return &Dispatcher{
		queue:    cfg.Queue,
		requests: cfg.Requests,
		results:  cfg.Results,
		cache:    cfg.Cache,
		interval: interval,
		logger:   logger.WithField("component", "dispatcher"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins the drain loop.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher is already running")
	}
	d.running = true
	d.mu.Unlock()

	d.logger.WithField("interval", d.interval).Info("Starting queue dispatcher")
	go d.drainLoop(ctx)
	return nil
}

// Stop signals the loop to finish and waits for it.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher is not running")
	}
	d.mu.Unlock()

	close(d.stopCh)

	select {
	case <-d.doneCh:
		d.logger.Info("Queue dispatcher stopped")
	case <-ctx.Done():
		return ctx.Err()
	}

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
	return nil
}

func (d *Dispatcher) drainLoop(ctx context.Context) {
	defer close(d.doneCh)

	ctx = logging.WithLogger(ctx, d.logger)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			intent, ok := d.queue.take()
			if !ok {
				continue
			}
			if err := d.Apply(ctx, intent); err != nil {
				d.logger.WithError(err).Error("Failed to apply queued intent")
			}
		}
	}
}

// Apply executes one intent against the store.
func (d *Dispatcher) Apply(ctx context.Context, intent Intent) error {
	switch v := intent.(type) {
	case NewCampaign:
		return d.applyNewCampaign(ctx, v)
	case RetryCampaign:
		return d.applyRetryCampaign(ctx, v)
	default:
		return fmt.Errorf("unknown intent type %T", intent)
	}
}

// applyNewCampaign writes receiver rows and activates the request. The limit is
// widened, never shrunk: it covers the requested limit, every receiver ever
// added, and whatever the row already carried.
func (d *Dispatcher) applyNewCampaign(ctx context.Context, v NewCampaign) error {
	request, err := d.requests.GetByID(ctx, v.RequestID)
	if err != nil {
		return err
	}
	if request == nil {
		d.logger.WithField("request_id", v.RequestID).Warn("Queued campaign no longer exists, dropping")
		return nil
	}
	if request.Status == models.RequestCanceled {
		d.logger.WithField("request_id", v.RequestID).Info("Campaign canceled while queued, dropping")
		return nil
	}

	if err := d.results.UpsertMany(ctx, v.RequestID, v.Receivers); err != nil {
		return err
	}

	count, err := d.results.Count(ctx, v.RequestID)
	if err != nil {
		return err
	}
	limit := v.Limit
	if count > limit {
		limit = count
	}
	if request.Limit > limit {
		limit = request.Limit
	}

	status := request.Status
	if status == models.RequestInit || status == models.RequestCompleted {
		status = models.RequestPending
	}

	if err := d.requests.Update(ctx, v.RequestID, status, limit); err != nil {
		return err
	}
	d.invalidate(ctx, request)

	d.logger.WithFields(map[string]interface{}{
		"request_id": v.RequestID,
		"receivers":  len(v.Receivers),
		"limit":      limit,
		"status":     status.String(),
	}).Info("Campaign admitted")
	return nil
}

// applyRetryCampaign resets failed receivers and reactivates a completed
// request so the engine picks it up again.
func (d *Dispatcher) applyRetryCampaign(ctx context.Context, v RetryCampaign) error {
	request, err := d.requests.GetByID(ctx, v.RequestID)
	if err != nil {
		return err
	}
	if request == nil {
		d.logger.WithField("request_id", v.RequestID).Warn("Queued retry no longer exists, dropping")
		return nil
	}
	if request.Status == models.RequestCanceled {
		d.logger.WithField("request_id", v.RequestID).Info("Campaign canceled while queued, dropping retry")
		return nil
	}

	if err := d.results.ResetFailed(ctx, v.RequestID, v.Receivers); err != nil {
		return err
	}

	if request.Status == models.RequestCompleted {
		if err := d.requests.Update(ctx, v.RequestID, models.RequestPending, request.Limit); err != nil {
			return err
		}
	}
	d.invalidate(ctx, request)

	d.logger.WithFields(map[string]interface{}{
		"request_id": v.RequestID,
		"receivers":  len(v.Receivers),
	}).Info("Campaign retry admitted")
	return nil
}

func (d *Dispatcher) invalidate(ctx context.Context, request *models.AirdropRequest) {
	if d.cache != nil {
		d.cache.Invalidate(ctx, request.ID, request.CampaignID)
	}
}
