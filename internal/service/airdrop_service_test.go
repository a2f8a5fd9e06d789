package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solargatsby/airdroptool/internal/config"
	apperrors "github.com/solargatsby/airdroptool/internal/errors"
	"github.com/solargatsby/airdroptool/internal/logging"
	"github.com/solargatsby/airdroptool/internal/models"
	"github.com/solargatsby/airdroptool/internal/queue"
	"github.com/solargatsby/airdroptool/internal/storage"
	"github.com/solargatsby/airdroptool/internal/types"
)

type memStore struct {
	nextID   int64
	requests map[int64]*models.AirdropRequest // keyed by campaign id
	results  map[int64][]*models.AirdropResult
}

func newMemStore() *memStore {
	return &memStore{
		nextID:   1,
		requests: make(map[int64]*models.AirdropRequest),
		results:  make(map[int64][]*models.AirdropResult),
	}
}

func (s *memStore) Create(ctx context.Context, request *models.AirdropRequest) (int64, error) {
	if _, exists := s.requests[request.CampaignID]; exists {
		return 0, apperrors.NewDuplicateCampaignError(request.CampaignID)
	}
	request.ID = s.nextID
	s.nextID++
	copied := *request
	s.requests[request.CampaignID] = &copied
	return request.ID, nil
}

func (s *memStore) GetByCampaignID(ctx context.Context, campaignID int64) (*models.AirdropRequest, error) {
	request, ok := s.requests[campaignID]
	if !ok {
		return nil, nil
	}
	copied := *request
	return &copied, nil
}

func (s *memStore) GetByID(ctx context.Context, id int64) (*models.AirdropRequest, error) {
	for _, request := range s.requests {
		if request.ID == id {
			copied := *request
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *memStore) Update(ctx context.Context, id int64, status models.RequestStatus, limit int64) error {
	for _, request := range s.requests {
		if request.ID == id {
			request.Status = status
			request.Limit = limit
			return nil
		}
	}
	return apperrors.NewNotFoundError("airdrop request", id)
}

func (s *memStore) List(ctx context.Context, filter storage.RequestFilter, page types.PageOptions) ([]*models.AirdropRequest, types.PageResult, error) {
	page = page.Normalize()
	var matched []*models.AirdropRequest
	for _, request := range s.requests {
		copied := *request
		matched = append(matched, &copied)
	}
	return matched, types.PageResult{PageNo: page.PageNo, Size: page.Size, Total: len(matched)}, nil
}

type resultLister struct {
	rows map[int64][]*models.AirdropResult
}

func (l *resultLister) List(ctx context.Context, requestID int64, filter storage.ResultFilter, page types.PageOptions) ([]*models.AirdropResult, types.PageResult, error) {
	page = page.Normalize()
	rows := l.rows[requestID]
	return rows, types.PageResult{PageNo: page.PageNo, Size: page.Size, Total: len(rows)}, nil
}

type recordingQueue struct {
	intents []queue.Intent
	err     error
}

func (q *recordingQueue) Enqueue(ctx context.Context, intent queue.Intent) error {
	if q.err != nil {
		return q.err
	}
	q.intents = append(q.intents, intent)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Airdrops: []config.AirdropTarget{
			{
				Name:            "taskon_nft",
				Category:        "taskon",
				Chain:           "polygon",
				ContractAddress: "0x1111111111111111111111111111111111111111",
			},
		},
	}
}

func newService(t *testing.T) (*AirdropService, *memStore, *recordingQueue) {
	t.Helper()
	store := newMemStore()
	q := &recordingQueue{}
	lister := &resultLister{rows: store.results}
	svc := NewAirdropService(testConfig(), store, store, lister, q, nil,
		logging.NewLogger(logging.LevelError, logging.FormatText))
	return svc, store, q
}

const (
	addrA = "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	addrB = "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
)

func TestNewAirdropCreatesRequestAndQueuesReceivers(t *testing.T) {
	svc, store, q := newService(t)

	request, err := svc.NewAirdrop(context.Background(), NewAirdropParams{
		CampaignID: 100,
		Chain:      "polygon",
		Receivers:  []string{addrA, addrB},
		Limit:      10,
		TokenURI:   "ipfs://metadata",
	})
	require.NoError(t, err)
	require.NotNil(t, request)

	assert.Equal(t, models.RequestInit, request.Status)
	assert.Equal(t, "taskon_nft", request.AirdropName)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", request.ContractAddress)

	stored, _ := store.GetByCampaignID(context.Background(), 100)
	require.NotNil(t, stored)

	require.Len(t, q.intents, 1)
	intent, ok := q.intents[0].(queue.NewCampaign)
	require.True(t, ok)
	assert.Equal(t, request.ID, intent.RequestID)
	assert.Equal(t, []string{addrA, addrB}, intent.Receivers)
	assert.Equal(t, int64(10), intent.Limit)
}

func TestNewAirdropAddsReceiversToExistingCampaign(t *testing.T) {
	svc, _, q := newService(t)
	ctx := context.Background()

	first, err := svc.NewAirdrop(ctx, NewAirdropParams{
		CampaignID: 100, Chain: "polygon", Receivers: []string{addrA},
	})
	require.NoError(t, err)

	second, err := svc.NewAirdrop(ctx, NewAirdropParams{
		CampaignID: 100, Chain: "polygon", Receivers: []string{addrB},
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "same campaign resolves to same request")
	assert.Len(t, q.intents, 2)
}

func TestNewAirdropValidation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		params NewAirdropParams
	}{
		{"zero campaign id", NewAirdropParams{Chain: "polygon", Receivers: []string{addrA}}},
		{"no receivers", NewAirdropParams{CampaignID: 1, Chain: "polygon"}},
		{"bad address", NewAirdropParams{CampaignID: 1, Chain: "polygon", Receivers: []string{"not-an-address"}}},
		{"short address", NewAirdropParams{CampaignID: 1, Chain: "polygon", Receivers: []string{"0x1234"}}},
		{"unknown chain", NewAirdropParams{CampaignID: 1, Chain: "unknown", Receivers: []string{addrA}}},
		{"negative limit", NewAirdropParams{CampaignID: 1, Chain: "polygon", Receivers: []string{addrA}, Limit: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.NewAirdrop(ctx, tt.params)
			require.Error(t, err)
			catErr := apperrors.Categorize(err)
			assert.Equal(t, apperrors.CategoryValidation, catErr.Category)
		})
	}
}

func TestNewAirdropDedupesReceivers(t *testing.T) {
	svc, _, q := newService(t)

	_, err := svc.NewAirdrop(context.Background(), NewAirdropParams{
		CampaignID: 100,
		Chain:      "polygon",
		Receivers:  []string{addrA, strings.ToLower(addrA), addrB},
	})
	require.NoError(t, err)

	intent := q.intents[0].(queue.NewCampaign)
	assert.Equal(t, []string{addrA, addrB}, intent.Receivers)
}

func TestNewAirdropRejectsCanceledCampaign(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	request, err := svc.NewAirdrop(ctx, NewAirdropParams{
		CampaignID: 100, Chain: "polygon", Receivers: []string{addrA},
	})
	require.NoError(t, err)
	require.NoError(t, store.Update(ctx, request.ID, models.RequestCanceled, 0))

	_, err = svc.NewAirdrop(ctx, NewAirdropParams{
		CampaignID: 100, Chain: "polygon", Receivers: []string{addrB},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestRetryAirdrop(t *testing.T) {
	svc, _, q := newService(t)
	ctx := context.Background()

	created, err := svc.NewAirdrop(ctx, NewAirdropParams{
		CampaignID: 100, Chain: "polygon", Receivers: []string{addrA},
	})
	require.NoError(t, err)

	request, err := svc.RetryAirdrop(ctx, 100, nil)
	require.NoError(t, err)
	assert.Equal(t, created.ID, request.ID)

	intent, ok := q.intents[len(q.intents)-1].(queue.RetryCampaign)
	require.True(t, ok)
	assert.Equal(t, created.ID, intent.RequestID)
	assert.Empty(t, intent.Receivers)
}

func TestRetryAirdropNotFound(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.RetryAirdrop(context.Background(), 999, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestCancelAirdrop(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	created, err := svc.NewAirdrop(ctx, NewAirdropParams{
		CampaignID: 100, Chain: "polygon", Receivers: []string{addrA},
	})
	require.NoError(t, err)

	request, err := svc.CancelAirdrop(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, models.RequestCanceled, request.Status)

	stored, _ := store.GetByID(ctx, created.ID)
	assert.Equal(t, models.RequestCanceled, stored.Status)

	// Cancel is not idempotent: the second call is a conflict.
	_, err = svc.CancelAirdrop(ctx, 100)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestCancelAirdropRejectsCompleted(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	created, err := svc.NewAirdrop(ctx, NewAirdropParams{
		CampaignID: 100, Chain: "polygon", Receivers: []string{addrA},
	})
	require.NoError(t, err)
	require.NoError(t, store.Update(ctx, created.ID, models.RequestCompleted, 1))

	_, err = svc.CancelAirdrop(ctx, 100)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestGetRequestNotFound(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.GetRequest(context.Background(), 12345)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestGetRequestByID(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	created, err := svc.NewAirdrop(ctx, NewAirdropParams{
		CampaignID: 100, Chain: "polygon", Receivers: []string{addrA},
	})
	require.NoError(t, err)

	request, err := svc.GetRequestByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), request.CampaignID)

	_, err = svc.GetRequestByID(ctx, 9999)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestGetResults(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	created, err := svc.NewAirdrop(ctx, NewAirdropParams{
		CampaignID: 100, Chain: "polygon", Receivers: []string{addrA},
	})
	require.NoError(t, err)

	store.results[created.ID] = []*models.AirdropResult{
		{ID: 1, RequestID: created.ID, Receiver: addrA, Status: models.ResultSuccess},
	}

	rows, pageResult, err := svc.GetResults(ctx, 100, storage.ResultFilter{}, types.PageOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, pageResult.Total)
	assert.Equal(t, addrA, rows[0].Receiver)
}
