// Package engine runs the per-target submission loop: it drains active airdrop
// requests batch by batch, submits each batch to the ledger, and settles
// per-receiver outcomes from transaction receipts.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/solargatsby/airdroptool/internal/chain"
	"github.com/solargatsby/airdroptool/internal/config"
	"github.com/solargatsby/airdroptool/internal/logging"
	"github.com/solargatsby/airdroptool/internal/models"
	"github.com/solargatsby/airdroptool/internal/retry"
	"github.com/solargatsby/airdroptool/internal/storage"
	"github.com/solargatsby/airdroptool/internal/types"
)

// RequestStore is the request persistence surface the engine needs.
type RequestStore interface {
	TakeNext(ctx context.Context, airdropName string) (*models.AirdropRequest, error)
	GetByID(ctx context.Context, id int64) (*models.AirdropRequest, error)
	Update(ctx context.Context, id int64, status models.RequestStatus, limit int64) error
}

// ResultStore is the per-receiver outcome surface the engine needs.
type ResultStore interface {
	List(ctx context.Context, requestID int64, filter storage.ResultFilter, page types.PageOptions) ([]*models.AirdropResult, types.PageResult, error)
	UpdateByReceivers(ctx context.Context, requestID int64, status models.ResultStatus, txHash, errorMsg string, receivers []string) error
}

// EventSink receives best-effort audit events for batch outcome transitions.
type EventSink interface {
	Append(ctx context.Context, event *storage.AirdropEvent) error
}

// Invalidator drops cached request reads after the engine mutates a row.
type Invalidator interface {
	Invalidate(ctx context.Context, id, campaignID int64)
}

// HandlerConfig wires one submission handler.
type HandlerConfig struct {
	Target       config.AirdropTarget
	Requests     RequestStore
	Results      ResultStore
	Ledger       chain.LedgerClient
	Events       EventSink   // optional
	Cache        Invalidator // optional
	PollInterval time.Duration
	BatchSize    int

	// Retry budgets; defaults apply when nil.
	SubmissionRetry   *retry.Config
	ConfirmationRetry *retry.Config
}

// Handler is the submission loop for one target. Exactly one handler runs per
// target: TakeNext is a peek, not an exclusive claim, so two handlers on the
// same target would double-submit.
type Handler struct {
	target   config.AirdropTarget
	requests RequestStore
	results  ResultStore
	ledger   chain.LedgerClient
	events   EventSink
	cache    Invalidator

	pollInterval      time.Duration
	batchSize         int
	submissionRetry   *retry.Config
	confirmationRetry *retry.Config

	logger  *logging.Logger
	running bool
	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewHandler creates a submission handler for one target.
func NewHandler(cfg *HandlerConfig, logger *logging.Logger) (*Handler, error) {
	if cfg.Requests == nil {
		return nil, fmt.Errorf("request store cannot be nil")
	}
	if cfg.Results == nil {
		return nil, fmt.Errorf("result store cannot be nil")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger client cannot be nil")
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	submissionRetry := cfg.SubmissionRetry
	if submissionRetry == nil {
		submissionRetry = retry.SubmissionConfig()
	}
	confirmationRetry := cfg.ConfirmationRetry
	if confirmationRetry == nil {
		confirmationRetry = retry.ConfirmationConfig()
	}

	return &Handler{
		target:            cfg.Target,
		requests:          cfg.Requests,
		results:           cfg.Results,
		ledger:            cfg.Ledger,
		events:            cfg.Events,
		cache:             cfg.Cache,
		pollInterval:      pollInterval,
		batchSize:         batchSize,
		submissionRetry:   submissionRetry,
		confirmationRetry: confirmationRetry,
		logger: logger.WithFields(map[string]interface{}{
			"component": "engine",
			"target":    cfg.Target.Name,
			"chain":     cfg.Target.Chain,
		}),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start begins the poll loop.
func (h *Handler) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return fmt.Errorf("handler for target %s is already running", h.target.Name)
	}
	h.running = true
	h.mu.Unlock()

	h.logger.WithField("pollInterval", h.pollInterval).Info("Starting airdrop handler")
	go h.pollLoop(ctx)
	return nil
}

// Stop signals the loop to finish and waits for it.
func (h *Handler) Stop(ctx context.Context) error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return fmt.Errorf("handler for target %s is not running", h.target.Name)
	}
	h.mu.Unlock()

	close(h.stopCh)

	select {
	case <-h.doneCh:
		h.logger.Info("Airdrop handler stopped")
	case <-ctx.Done():
		return ctx.Err()
	}

	h.mu.Lock()
	h.running = false
	h.mu.Unlock()
	return nil
}

func (h *Handler) pollLoop(ctx context.Context) {
	defer close(h.doneCh)

	ctx = logging.WithLogger(ctx, h.logger)
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.runCycle(ctx); err != nil {
				h.logger.WithError(err).Error("Airdrop cycle failed")
			}
		}
	}
}

// runCycle takes the next active request and drains it. Errors are returned
// for logging only; the loop always continues with the next tick.
func (h *Handler) runCycle(ctx context.Context) error {
	request, err := h.requests.TakeNext(ctx, h.target.Name)
	if err != nil {
		return err
	}
	if request == nil {
		return nil
	}

	logger := h.logger.WithFields(map[string]interface{}{
		"request_id":  request.ID,
		"campaign_id": request.CampaignID,
	})
	ctx = logging.WithLogger(ctx, logger)
	logger.WithField("status", request.Status.String()).Info("Picked up airdrop request")

	if request.Status == models.RequestPending {
		if err := h.updateRequest(ctx, request, models.RequestProcessing); err != nil {
			return err
		}
	}

	return h.drainRequest(ctx, request.ID)
}

// drainRequest works the request until every receiver is settled, the request
// is canceled, or the batch cannot make progress. Each iteration re-reads the
// request row and fetches the first page of unsettled receivers, so external
// cancellation and newly added receivers are both observed between batches.
func (h *Handler) drainRequest(ctx context.Context, requestID int64) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-h.stopCh:
			return nil
		default:
		}

		request, err := h.requests.GetByID(ctx, requestID)
		if err != nil {
			return err
		}
		if request == nil {
			return fmt.Errorf("airdrop request %d disappeared", requestID)
		}
		if request.Status == models.RequestCanceled {
			logging.FromContext(ctx).Info("Airdrop request canceled, abandoning remaining receivers")
			return nil
		}

		rows, _, err := h.results.List(ctx, requestID, storage.ResultFilter{
			Statuses: models.NonTerminalResultStatuses(),
		}, types.PageOptions{PageNo: 0, Size: h.batchSize})
		if err != nil {
			return err
		}

		if len(rows) == 0 {
			logging.FromContext(ctx).Info("All receivers settled, completing airdrop request")
			return h.updateRequest(ctx, request, models.RequestCompleted)
		}

		inFlight, fresh := partitionBatch(rows)

		// Settle checkpointed submissions before creating new ones. These are
		// batches a previous run submitted but never confirmed. A batch that
		// still cannot be settled ends the cycle; the next tick resumes it.
		if len(inFlight) > 0 {
			for txHash, receivers := range inFlight {
				if !h.confirmBatch(ctx, request, txHash, receivers) {
					return fmt.Errorf("request %d: batch %s still unsettled, deferring", requestID, txHash)
				}
			}
			continue
		}

		if err := h.submitBatch(ctx, request, fresh); err != nil {
			return err
		}
	}
}

// partitionBatch splits a page into checkpointed in-flight groups keyed by
// transaction hash and fresh receivers awaiting submission. Processing rows
// without a hash never reached the submission checkpoint and are treated as
// fresh again.
func partitionBatch(rows []*models.AirdropResult) (map[string][]string, []string) {
	inFlight := make(map[string][]string)
	var fresh []string
	for _, row := range rows {
		if row.Status == models.ResultProcessing && row.TxHash != "" {
			inFlight[row.TxHash] = append(inFlight[row.TxHash], row.Receiver)
		} else {
			fresh = append(fresh, row.Receiver)
		}
	}
	return inFlight, fresh
}

// submitBatch pushes one batch to the ledger. Submission exhaustion marks the
// whole batch Failed; a successful broadcast checkpoints Processing plus the
// transaction hash before confirmation starts, so a crash between the two
// never resubmits the batch.
func (h *Handler) submitBatch(ctx context.Context, request *models.AirdropRequest, receivers []string) error {
	if len(receivers) == 0 {
		return nil
	}
	logger := logging.FromContext(ctx).WithField("receivers", len(receivers))

	submission := chain.BatchSubmission{
		CampaignID: request.CampaignID,
		Limit:      request.Limit,
		Receivers:  receivers,
		TokenURI:   request.TokenURI,
	}

	var txHash string
	result := retry.WithFixedInterval(ctx, h.submissionRetry, func(ctx context.Context, attempt int) error {
		hash, err := h.ledger.SubmitBatch(ctx, submission)
		if err != nil {
			return err
		}
		txHash = hash
		return nil
	})

	if !result.Success {
		logger.WithError(result.LastError).Error("Batch submission exhausted retries, failing batch")
		if err := h.results.UpdateByReceivers(ctx, request.ID, models.ResultFailed, "",
			truncateError(result.LastError), receivers); err != nil {
			return err
		}
		h.appendEvent(ctx, request, "", models.ResultFailed, len(receivers), truncateError(result.LastError))
		return nil
	}

	if err := h.results.UpdateByReceivers(ctx, request.ID, models.ResultProcessing, txHash, "", receivers); err != nil {
		// The transaction is already broadcast. Without the checkpoint the rows
		// would be resubmitted on the next cycle, so surface this loudly.
		logger.WithError(err).WithField("tx_hash", txHash).Error("Failed to checkpoint submitted batch")
		return err
	}
	h.appendEvent(ctx, request, txHash, models.ResultProcessing, len(receivers), "")

	if !h.confirmBatch(ctx, request, txHash, receivers) {
		return fmt.Errorf("request %d: batch %s still unsettled, deferring", request.ID, txHash)
	}
	return nil
}

// confirmBatch polls for the receipt of one submitted batch and settles its
// receivers, reporting whether the batch reached a terminal outcome. Poll
// exhaustion fails the batch with the last observed error; the Processing
// checkpoint survives only a shutdown interruption or a failed settle write,
// so a later cycle resumes confirmation instead of resubmitting.
func (h *Handler) confirmBatch(ctx context.Context, request *models.AirdropRequest, txHash string, receivers []string) bool {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"tx_hash":   txHash,
		"receivers": len(receivers),
	})

	var receipt *chain.Receipt
	result := retry.WithFixedInterval(ctx, h.confirmationRetry, func(ctx context.Context, attempt int) error {
		r, err := h.ledger.GetReceipt(ctx, txHash)
		if err != nil {
			return err
		}
		if r == nil {
			return fmt.Errorf("transaction %s not yet settled", txHash)
		}
		receipt = r
		return nil
	})

	if !result.Success {
		if ctx.Err() != nil {
			logger.WithError(result.LastError).Warn("Receipt polling interrupted, leaving batch checkpointed")
			return false
		}
		errorMsg := truncateError(result.LastError)
		logger.WithError(result.LastError).Error("Receipt polling exhausted retries, failing batch")
		if err := h.results.UpdateByReceivers(ctx, request.ID, models.ResultFailed, txHash, errorMsg, receivers); err != nil {
			logger.WithError(err).Error("Failed to settle unconfirmed batch")
			return false
		}
		h.appendEvent(ctx, request, txHash, models.ResultFailed, len(receivers), errorMsg)
		return true
	}

	status := models.ResultSuccess
	errorMsg := ""
	if !receipt.Success() {
		status = models.ResultFailed
		errorMsg = fmt.Sprintf("transaction %s reverted in block %d", txHash, receipt.BlockNumber)
	}

	if err := h.results.UpdateByReceivers(ctx, request.ID, status, txHash, errorMsg, receivers); err != nil {
		logger.WithError(err).Error("Failed to settle confirmed batch")
		return false
	}
	h.appendEvent(ctx, request, txHash, status, len(receivers), errorMsg)
	logger.WithField("status", status.String()).Info("Batch settled")
	return true
}

func (h *Handler) updateRequest(ctx context.Context, request *models.AirdropRequest, status models.RequestStatus) error {
	if err := h.requests.Update(ctx, request.ID, status, request.Limit); err != nil {
		return err
	}
	if h.cache != nil {
		h.cache.Invalidate(ctx, request.ID, request.CampaignID)
	}
	return nil
}

func (h *Handler) appendEvent(ctx context.Context, request *models.AirdropRequest, txHash string, status models.ResultStatus, receiverCount int, errorMsg string) {
	if h.events == nil {
		return
	}
	event := &storage.AirdropEvent{
		RequestID:     request.ID,
		CampaignID:    request.CampaignID,
		AirdropName:   request.AirdropName,
		Chain:         string(request.Chain),
		TxHash:        txHash,
		Status:        status,
		ReceiverCount: receiverCount,
		ErrorMsg:      errorMsg,
	}
	if err := h.events.Append(ctx, event); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Audit event append failed")
	}
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return msg
}
