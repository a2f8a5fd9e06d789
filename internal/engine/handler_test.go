package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solargatsby/airdroptool/internal/chain"
	"github.com/solargatsby/airdroptool/internal/config"
	"github.com/solargatsby/airdroptool/internal/logging"
	"github.com/solargatsby/airdroptool/internal/models"
	"github.com/solargatsby/airdroptool/internal/retry"
	"github.com/solargatsby/airdroptool/internal/storage"
	"github.com/solargatsby/airdroptool/internal/types"
)

type memRequestStore struct {
	mu       sync.Mutex
	requests map[int64]*models.AirdropRequest
}

func newMemRequestStore(requests ...*models.AirdropRequest) *memRequestStore {
	store := &memRequestStore{requests: make(map[int64]*models.AirdropRequest)}
	for _, request := range requests {
		copied := *request
		store.requests[request.ID] = &copied
	}
	return store
}

func (s *memRequestStore) TakeNext(ctx context.Context, airdropName string) (*models.AirdropRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*models.AirdropRequest
	for _, request := range s.requests {
		if request.AirdropName != airdropName {
			continue
		}
		if request.Status == models.RequestPending || request.Status == models.RequestProcessing {
			candidates = append(candidates, request)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if (candidates[i].Status == models.RequestProcessing) != (candidates[j].Status == models.RequestProcessing) {
			return candidates[i].Status == models.RequestProcessing
		}
		return candidates[i].ID < candidates[j].ID
	})
	copied := *candidates[0]
	return &copied, nil
}

func (s *memRequestStore) GetByID(ctx context.Context, id int64) (*models.AirdropRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	request, ok := s.requests[id]
	if !ok {
		return nil, nil
	}
	copied := *request
	return &copied, nil
}

func (s *memRequestStore) Update(ctx context.Context, id int64, status models.RequestStatus, limit int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	request, ok := s.requests[id]
	if !ok {
		return fmt.Errorf("request %d not found", id)
	}
	request.Status = status
	request.Limit = limit
	return nil
}

func (s *memRequestStore) status(id int64) models.RequestStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[id].Status
}

type memResultStore struct {
	mu   sync.Mutex
	rows []*models.AirdropResult
}

func newMemResultStore(requestID int64, receivers ...string) *memResultStore {
	store := &memResultStore{}
	for i, receiver := range receivers {
		store.rows = append(store.rows, &models.AirdropResult{
			ID:        int64(i + 1),
			RequestID: requestID,
			Receiver:  receiver,
			Status:    models.ResultPending,
		})
	}
	return store
}

func (s *memResultStore) List(ctx context.Context, requestID int64, filter storage.ResultFilter, page types.PageOptions) ([]*models.AirdropResult, types.PageResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	page = page.Normalize()
	wanted := make(map[models.ResultStatus]bool)
	for _, status := range filter.Statuses {
		wanted[status] = true
	}

	var matched []*models.AirdropResult
	for _, row := range s.rows {
		if row.RequestID != requestID {
			continue
		}
		if len(wanted) > 0 && !wanted[row.Status] {
			continue
		}
		copied := *row
		matched = append(matched, &copied)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	result := types.PageResult{PageNo: page.PageNo, Size: page.Size, Total: len(matched)}
	start := page.PageNo * page.Size
	if start >= len(matched) {
		return nil, result, nil
	}
	end := start + page.Size
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], result, nil
}

func (s *memResultStore) UpdateByReceivers(ctx context.Context, requestID int64, status models.ResultStatus, txHash, errorMsg string, receivers []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	named := make(map[string]bool)
	for _, receiver := range receivers {
		named[receiver] = true
	}
	for _, row := range s.rows {
		if row.RequestID == requestID && named[row.Receiver] {
			row.Status = status
			row.TxHash = txHash
			row.ErrorMsg = errorMsg
		}
	}
	return nil
}

func (s *memResultStore) byReceiver(receiver string) *models.AirdropResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.Receiver == receiver {
			copied := *row
			return &copied
		}
	}
	return nil
}

type fakeLedger struct {
	mu           sync.Mutex
	submits      int
	failSubmits  int // fail the first N submissions
	pendingPolls int // report not-settled for the first N receipt polls
	polls        int
	revert       bool
	lastBatch    chain.BatchSubmission
}

func (l *fakeLedger) SubmitBatch(ctx context.Context, submission chain.BatchSubmission) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submits++
	if l.submits <= l.failSubmits {
		return "", errors.New("nonce too low")
	}
	l.lastBatch = submission
	return fmt.Sprintf("0xtx%04d", l.submits), nil
}

func (l *fakeLedger) GetReceipt(ctx context.Context, txHash string) (*chain.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.polls++
	if l.polls <= l.pendingPolls {
		return nil, nil
	}
	status := chain.ReceiptStatusSuccess
	if l.revert {
		status = chain.ReceiptStatusFailed
	}
	return &chain.Receipt{TxHash: txHash, Status: status, BlockNumber: 1234}, nil
}

func (l *fakeLedger) Close() {}

func newTestHandler(t *testing.T, requests *memRequestStore, results ResultStore, ledger chain.LedgerClient) *Handler {
	t.Helper()

	handler, err := NewHandler(&HandlerConfig{
		Target: config.AirdropTarget{
			Name:  "taskon_nft",
			Chain: "polygon",
		},
		Requests:          requests,
		Results:           results,
		Ledger:            ledger,
		PollInterval:      time.Millisecond,
		BatchSize:         2,
		SubmissionRetry:   &retry.Config{MaxAttempts: 3, Interval: time.Millisecond},
		ConfirmationRetry: &retry.Config{MaxAttempts: 5, Interval: time.Millisecond},
	}, logging.NewLogger(logging.LevelError, logging.FormatText))
	require.NoError(t, err)
	return handler
}

func pendingRequest(id int64) *models.AirdropRequest {
	return &models.AirdropRequest{
		ID:          id,
		CampaignID:  1000 + id,
		AirdropName: "taskon_nft",
		Chain:       "polygon",
		TokenURI:    "ipfs://metadata",
		Limit:       3,
		Status:      models.RequestPending,
	}
}

func TestHandlerDrainsRequestToCompletion(t *testing.T) {
	requests := newMemRequestStore(pendingRequest(1))
	results := newMemResultStore(1, "0xaaa", "0xbbb", "0xccc")
	ledger := &fakeLedger{}
	handler := newTestHandler(t, requests, results, ledger)

	require.NoError(t, handler.runCycle(context.Background()))

	assert.Equal(t, models.RequestCompleted, requests.status(1))
	for _, receiver := range []string{"0xaaa", "0xbbb", "0xccc"} {
		row := results.byReceiver(receiver)
		require.NotNil(t, row)
		assert.Equal(t, models.ResultSuccess, row.Status, receiver)
		assert.NotEmpty(t, row.TxHash)
		assert.Empty(t, row.ErrorMsg)
	}

	// Batch size 2 and three receivers means two submissions.
	assert.Equal(t, 2, ledger.submits)
	assert.Equal(t, int64(1001), ledger.lastBatch.CampaignID)
	assert.Equal(t, "ipfs://metadata", ledger.lastBatch.TokenURI)
}

func TestHandlerSubmissionExhaustionFailsBatch(t *testing.T) {
	requests := newMemRequestStore(pendingRequest(1))
	results := newMemResultStore(1, "0xaaa", "0xbbb")
	ledger := &fakeLedger{failSubmits: 100}
	handler := newTestHandler(t, requests, results, ledger)

	require.NoError(t, handler.runCycle(context.Background()))

	// Every attempt failed; the batch is terminal and the request drains empty.
	assert.Equal(t, models.RequestCompleted, requests.status(1))
	for _, receiver := range []string{"0xaaa", "0xbbb"} {
		row := results.byReceiver(receiver)
		require.NotNil(t, row)
		assert.Equal(t, models.ResultFailed, row.Status)
		assert.Empty(t, row.TxHash)
		assert.Contains(t, row.ErrorMsg, "nonce too low")
	}
	assert.Equal(t, 3, ledger.submits)
}

func TestHandlerRevertedReceiptFailsBatch(t *testing.T) {
	requests := newMemRequestStore(pendingRequest(1))
	results := newMemResultStore(1, "0xaaa")
	ledger := &fakeLedger{revert: true}
	handler := newTestHandler(t, requests, results, ledger)

	require.NoError(t, handler.runCycle(context.Background()))

	row := results.byReceiver("0xaaa")
	require.NotNil(t, row)
	assert.Equal(t, models.ResultFailed, row.Status)
	assert.Contains(t, row.ErrorMsg, "reverted")
	assert.NotEmpty(t, row.TxHash)
	assert.Equal(t, models.RequestCompleted, requests.status(1))
}

func TestHandlerResumesCheckpointedBatchWithoutResubmitting(t *testing.T) {
	request := pendingRequest(1)
	request.Status = models.RequestProcessing
	requests := newMemRequestStore(request)

	// Simulate a crash after the submission checkpoint: rows are Processing
	// and carry the transaction hash, but no receipt was ever observed.
	results := newMemResultStore(1, "0xaaa", "0xbbb")
	require.NoError(t, results.UpdateByReceivers(context.Background(), 1,
		models.ResultProcessing, "0xdeadbeef", "", []string{"0xaaa", "0xbbb"}))

	ledger := &fakeLedger{}
	handler := newTestHandler(t, requests, results, ledger)

	require.NoError(t, handler.runCycle(context.Background()))

	assert.Equal(t, 0, ledger.submits, "checkpointed batch must not be resubmitted")
	for _, receiver := range []string{"0xaaa", "0xbbb"} {
		row := results.byReceiver(receiver)
		require.NotNil(t, row)
		assert.Equal(t, models.ResultSuccess, row.Status)
		assert.Equal(t, "0xdeadbeef", row.TxHash)
	}
	assert.Equal(t, models.RequestCompleted, requests.status(1))
}

func TestHandlerConfirmationExhaustionFailsBatch(t *testing.T) {
	requests := newMemRequestStore(pendingRequest(1))
	results := newMemResultStore(1, "0xaaa")
	ledger := &fakeLedger{pendingPolls: 100}
	handler := newTestHandler(t, requests, results, ledger)

	require.NoError(t, handler.runCycle(context.Background()))

	// A receipt that never arrives within the budget is a terminal failure,
	// not a row to re-poll forever. The campaign still drains to completion.
	row := results.byReceiver("0xaaa")
	require.NotNil(t, row)
	assert.Equal(t, models.ResultFailed, row.Status)
	assert.NotEmpty(t, row.TxHash)
	assert.Contains(t, row.ErrorMsg, "not yet settled")
	assert.Equal(t, models.RequestCompleted, requests.status(1))
	assert.Equal(t, 5, ledger.polls, "poll budget must be spent exactly once")

	// The next cycle must not re-pick the settled batch.
	require.NoError(t, handler.runCycle(context.Background()))
	assert.Equal(t, 5, ledger.polls)
	assert.Equal(t, 1, ledger.submits, "failed batch must not be resubmitted")
}

// interruptingLedger cancels the run context on the first receipt poll,
// simulating a shutdown landing mid-confirmation.
type interruptingLedger struct {
	fakeLedger
	cancel context.CancelFunc
}

func (l *interruptingLedger) GetReceipt(ctx context.Context, txHash string) (*chain.Receipt, error) {
	l.cancel()
	return nil, nil
}

func TestHandlerShutdownLeavesBatchCheckpointed(t *testing.T) {
	requests := newMemRequestStore(pendingRequest(1))
	results := newMemResultStore(1, "0xaaa")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ledger := &interruptingLedger{cancel: cancel}
	handler := newTestHandler(t, requests, results, ledger)

	err := handler.runCycle(ctx)
	require.Error(t, err)

	// An interrupted confirmation is not a failure: the checkpoint stays so
	// the next run resumes polling instead of resubmitting.
	row := results.byReceiver("0xaaa")
	require.NotNil(t, row)
	assert.Equal(t, models.ResultProcessing, row.Status)
	assert.NotEmpty(t, row.TxHash)
	assert.Empty(t, row.ErrorMsg)
	assert.NotEqual(t, models.RequestCompleted, requests.status(1))
}

// cancelingResultStore flips the request to Canceled once the first batch
// settles, simulating an external cancel landing between batches.
type cancelingResultStore struct {
	*memResultStore
	requests  *memRequestStore
	requestID int64
	once      sync.Once
}

func (s *cancelingResultStore) UpdateByReceivers(ctx context.Context, requestID int64, status models.ResultStatus, txHash, errorMsg string, receivers []string) error {
	err := s.memResultStore.UpdateByReceivers(ctx, requestID, status, txHash, errorMsg, receivers)
	if status.IsTerminal() {
		s.once.Do(func() {
			_ = s.requests.Update(ctx, s.requestID, models.RequestCanceled, 0)
		})
	}
	return err
}

func TestHandlerObservesCancelBetweenBatches(t *testing.T) {
	requests := newMemRequestStore(pendingRequest(1))
	inner := newMemResultStore(1, "0xaaa", "0xbbb", "0xccc")
	results := &cancelingResultStore{memResultStore: inner, requests: requests, requestID: 1}
	ledger := &fakeLedger{}
	handler := newTestHandler(t, requests, results, ledger)

	require.NoError(t, handler.runCycle(context.Background()))

	// The first batch of two settled before the cancel; the third receiver
	// was never submitted.
	assert.Equal(t, 1, ledger.submits)
	assert.Equal(t, models.RequestCanceled, requests.status(1))
	row := inner.byReceiver("0xccc")
	require.NotNil(t, row)
	assert.Equal(t, models.ResultPending, row.Status)
}

func TestHandlerStartStop(t *testing.T) {
	requests := newMemRequestStore()
	results := &memResultStore{}
	handler := newTestHandler(t, requests, results, &fakeLedger{})

	ctx := context.Background()
	require.NoError(t, handler.Start(ctx))
	require.Error(t, handler.Start(ctx), "double start must fail")

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, handler.Stop(stopCtx))
	require.Error(t, handler.Stop(stopCtx), "double stop must fail")
}
