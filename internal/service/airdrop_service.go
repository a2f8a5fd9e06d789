// Package service implements the airdrop domain operations exposed by the API.
package service

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/solargatsby/airdroptool/internal/config"
	apperrors "github.com/solargatsby/airdroptool/internal/errors"
	"github.com/solargatsby/airdroptool/internal/logging"
	"github.com/solargatsby/airdroptool/internal/models"
	"github.com/solargatsby/airdroptool/internal/queue"
	"github.com/solargatsby/airdroptool/internal/storage"
	"github.com/solargatsby/airdroptool/internal/types"
)

var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// RequestStore is the request persistence surface the service writes through.
type RequestStore interface {
	Create(ctx context.Context, request *models.AirdropRequest) (int64, error)
	GetByCampaignID(ctx context.Context, campaignID int64) (*models.AirdropRequest, error)
	Update(ctx context.Context, id int64, status models.RequestStatus, limit int64) error
	List(ctx context.Context, filter storage.RequestFilter, page types.PageOptions) ([]*models.AirdropRequest, types.PageResult, error)
}

// RequestReader serves point reads, normally through the Redis cache.
type RequestReader interface {
	GetByID(ctx context.Context, id int64) (*models.AirdropRequest, error)
	GetByCampaignID(ctx context.Context, campaignID int64) (*models.AirdropRequest, error)
}

// ResultStore is the receiver-outcome read surface.
type ResultStore interface {
	List(ctx context.Context, requestID int64, filter storage.ResultFilter, page types.PageOptions) ([]*models.AirdropResult, types.PageResult, error)
}

// Enqueuer admits work into the dispatch queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, intent queue.Intent) error
}

// Invalidator drops cached request reads after a mutation.
type Invalidator interface {
	Invalidate(ctx context.Context, id, campaignID int64)
}

// AirdropService exposes campaign admission, retry, cancel and read operations.
type AirdropService struct {
	cfg      *config.Config
	requests RequestStore
	reader   RequestReader
	results  ResultStore
	queue    Enqueuer
	cache    Invalidator // optional
	logger   *logging.Logger
}

// NewAirdropService creates the airdrop service.
func NewAirdropService(
	cfg *config.Config,
	requests RequestStore,
	reader RequestReader,
	results ResultStore,
	enqueuer Enqueuer,
	cache Invalidator,
	logger *logging.Logger,
) *AirdropService {
	return &AirdropService{
		cfg:      cfg,
		requests: requests,
		reader:   reader,
		results:  results,
		queue:    enqueuer,
		cache:    cache,
		logger:   logger.WithField("component", "airdrop_service"),
	}
}

// NewAirdropParams carries the caller input for campaign admission.
type NewAirdropParams struct {
	CampaignID int64
	Chain      string
	Receivers  []string
	Limit      int64
	TokenURI   string
	StartTime  time.Time
}

// NewAirdrop resolves or creates the request row for a campaign and queues its
// receivers for admission. Re-posting an existing campaign adds receivers; a
// canceled campaign rejects further additions.
func (s *AirdropService) NewAirdrop(ctx context.Context, params NewAirdropParams) (*models.AirdropRequest, error) {
	if params.CampaignID <= 0 {
		return nil, apperrors.NewValidationError("campaignId", "must be a positive integer")
	}
	receivers, err := normalizeReceivers(params.Receivers)
	if err != nil {
		return nil, err
	}
	if params.Limit < 0 {
		return nil, apperrors.NewValidationError("limit", "must not be negative")
	}

	target, ok := s.cfg.TargetForChain(params.Chain)
	if !ok {
		return nil, apperrors.NewValidationError("chain", "no airdrop target configured for chain "+params.Chain)
	}

	request, err := s.requests.GetByCampaignID(ctx, params.CampaignID)
	if err != nil {
		return nil, err
	}

	if request == nil {
		request = &models.AirdropRequest{
			CampaignID:      params.CampaignID,
			AirdropName:     target.Name,
			Category:        target.Category,
			Chain:           types.Chain(target.Chain),
			ContractAddress: target.ContractAddress,
			TokenURI:        params.TokenURI,
			Limit:           params.Limit,
			Status:          models.RequestInit,
			StartTime:       params.StartTime,
		}
		id, err := s.requests.Create(ctx, request)
		if err != nil {
			return nil, err
		}
		request.ID = id
		s.logger.WithFields(map[string]interface{}{
			"request_id":  id,
			"campaign_id": params.CampaignID,
			"chain":       target.Chain,
			"receivers":   len(receivers),
		}).Info("Airdrop request created")
	} else {
		if request.Status == models.RequestCanceled {
			return nil, apperrors.NewConflictError("cannot add receivers to a canceled campaign")
		}
		if string(request.Chain) != target.Chain {
			return nil, apperrors.NewValidationError("chain",
				"campaign is bound to chain "+string(request.Chain))
		}
	}

	intent := queue.NewCampaign{
		RequestID: request.ID,
		Receivers: receivers,
		Limit:     params.Limit,
	}
	if err := s.queue.Enqueue(ctx, intent); err != nil {
		return nil, err
	}
	return request, nil
}

// RetryAirdrop queues failed receivers of a campaign for another attempt. An
// empty receiver list retries every failed receiver.
func (s *AirdropService) RetryAirdrop(ctx context.Context, campaignID int64, receivers []string) (*models.AirdropRequest, error) {
	var err error
	if len(receivers) > 0 {
		receivers, err = normalizeReceivers(receivers)
		if err != nil {
			return nil, err
		}
	}

	request, err := s.requests.GetByCampaignID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, apperrors.NewNotFoundError("campaign", campaignID)
	}
	if request.Status == models.RequestCanceled {
		return nil, apperrors.NewConflictError("cannot retry a canceled campaign")
	}

	intent := queue.RetryCampaign{RequestID: request.ID, Receivers: receivers}
	if err := s.queue.Enqueue(ctx, intent); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"request_id":  request.ID,
		"campaign_id": campaignID,
		"receivers":   len(receivers),
	}).Info("Airdrop retry queued")
	return request, nil
}

// CancelAirdrop marks a campaign canceled. Completed and already canceled
// campaigns reject cancellation; receivers already submitted stay on their way.
func (s *AirdropService) CancelAirdrop(ctx context.Context, campaignID int64) (*models.AirdropRequest, error) {
	request, err := s.requests.GetByCampaignID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, apperrors.NewNotFoundError("campaign", campaignID)
	}
	if !request.CanCancel() {
		return nil, apperrors.NewConflictError(
			"campaign in status " + request.Status.String() + " cannot be canceled")
	}

	if err := s.requests.Update(ctx, request.ID, models.RequestCanceled, request.Limit); err != nil {
		return nil, err
	}
	request.Status = models.RequestCanceled
	if s.cache != nil {
		s.cache.Invalidate(ctx, request.ID, request.CampaignID)
	}

	s.logger.WithFields(map[string]interface{}{
		"request_id":  request.ID,
		"campaign_id": campaignID,
	}).Info("Airdrop request canceled")
	return request, nil
}

// GetRequest returns the request for a campaign, or a not-found error.
func (s *AirdropService) GetRequest(ctx context.Context, campaignID int64) (*models.AirdropRequest, error) {
	request, err := s.reader.GetByCampaignID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, apperrors.NewNotFoundError("campaign", campaignID)
	}
	return request, nil
}

// GetRequestByID returns the request by internal id, or a not-found error.
func (s *AirdropService) GetRequestByID(ctx context.Context, id int64) (*models.AirdropRequest, error) {
	request, err := s.reader.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, apperrors.NewNotFoundError("airdrop request", id)
	}
	return request, nil
}

// ListRequests returns one page of requests matching the filter.
func (s *AirdropService) ListRequests(ctx context.Context, filter storage.RequestFilter, page types.PageOptions) ([]*models.AirdropRequest, types.PageResult, error) {
	return s.requests.List(ctx, filter, page)
}

// GetResults returns one page of per-receiver outcomes for a campaign.
func (s *AirdropService) GetResults(ctx context.Context, campaignID int64, filter storage.ResultFilter, page types.PageOptions) ([]*models.AirdropResult, types.PageResult, error) {
	request, err := s.reader.GetByCampaignID(ctx, campaignID)
	if err != nil {
		return nil, types.PageResult{}, err
	}
	if request == nil {
		return nil, types.PageResult{}, apperrors.NewNotFoundError("campaign", campaignID)
	}
	return s.results.List(ctx, request.ID, filter, page)
}

// normalizeReceivers validates and dedupes receiver addresses, preserving the
// first-seen spelling of each address.
func normalizeReceivers(receivers []string) ([]string, error) {
	if len(receivers) == 0 {
		return nil, apperrors.NewValidationError("receivers", "at least one receiver is required")
	}

	seen := make(map[string]bool, len(receivers))
	normalized := make([]string, 0, len(receivers))
	for _, receiver := range receivers {
		receiver = strings.TrimSpace(receiver)
		if !addressPattern.MatchString(receiver) {
			return nil, apperrors.NewValidationError("receivers", "invalid address "+receiver)
		}
		key := strings.ToLower(receiver)
		if seen[key] {
			continue
		}
		seen[key] = true
		normalized = append(normalized, receiver)
	}
	return normalized, nil
}
