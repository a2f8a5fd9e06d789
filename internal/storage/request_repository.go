package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/solargatsby/airdroptool/internal/errors"
	"github.com/solargatsby/airdroptool/internal/models"
	"github.com/solargatsby/airdroptool/internal/types"
)

// pgUniqueViolation is the Postgres error code for unique constraint violations.
const pgUniqueViolation = "23505"

// RequestRepository handles airdrop request persistence
type RequestRepository struct {
	db *PostgresDB
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(db *PostgresDB) *RequestRepository {
	return &RequestRepository{db: db}
}

// RequestFilter narrows a request listing.
type RequestFilter struct {
	Statuses    []models.RequestStatus
	Chain       string
	AirdropName string
	Category    string
}

// Create inserts a new airdrop request and returns its id. The request is
// created with status Init unless the caller overrides it. Inserting a second
// request for the same campaign id fails with a DUPLICATE_CAMPAIGN conflict.
func (r *RequestRepository) Create(ctx context.Context, request *models.AirdropRequest) (int64, error) {
	now := time.Now().UTC()

	query := `
		INSERT INTO airdrop_requests (
			campaign_id, airdrop_name, category, chain, contract_address,
			token_uri, recipient_limit, status, start_time, create_at, update_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	var id int64
	err := r.db.Pool().QueryRow(ctx, query,
		request.CampaignID,
		request.AirdropName,
		request.Category,
		request.Chain,
		request.ContractAddress,
		request.TokenURI,
		request.Limit,
		request.Status,
		request.StartTime,
		now,
		now,
	).Scan(&id)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return 0, apperrors.NewDuplicateCampaignError(request.CampaignID)
		}
		return 0, apperrors.NewStorageError("create airdrop request", err)
	}

	request.ID = id
	request.CreateAt = now
	request.UpdateAt = now
	return id, nil
}

// Update overwrites the status and recipient limit of a request.
// Last-writer-wins: there is no optimistic concurrency token, so callers are
// expected to re-read immediately before mutating derived fields.
func (r *RequestRepository) Update(ctx context.Context, id int64, status models.RequestStatus, limit int64) error {
	query := `
		UPDATE airdrop_requests
		SET status = $2, recipient_limit = $3, update_at = $4
		WHERE id = $1
	`

	_, err := r.db.Pool().Exec(ctx, query, id, status, limit, time.Now().UTC())
	if err != nil {
		return apperrors.NewStorageError("update airdrop request", err)
	}
	return nil
}

const requestColumns = `
	id, campaign_id, airdrop_name, category, chain, contract_address,
	token_uri, recipient_limit, status, start_time, create_at, update_at
`

func scanRequest(row pgx.Row) (*models.AirdropRequest, error) {
	var request models.AirdropRequest
	err := row.Scan(
		&request.ID,
		&request.CampaignID,
		&request.AirdropName,
		&request.Category,
		&request.Chain,
		&request.ContractAddress,
		&request.TokenURI,
		&request.Limit,
		&request.Status,
		&request.StartTime,
		&request.CreateAt,
		&request.UpdateAt,
	)
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// GetByID retrieves a request by its internal id. Not found returns (nil, nil).
func (r *RequestRepository) GetByID(ctx context.Context, id int64) (*models.AirdropRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM airdrop_requests WHERE id = $1`

	request, err := scanRequest(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.NewStorageError("get airdrop request by id", err)
	}
	return request, nil
}

// GetByCampaignID retrieves a request by its external campaign id.
// Not found returns (nil, nil).
func (r *RequestRepository) GetByCampaignID(ctx context.Context, campaignID int64) (*models.AirdropRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM airdrop_requests WHERE campaign_id = $1`

	request, err := scanRequest(r.db.Pool().QueryRow(ctx, query, campaignID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.NewStorageError("get airdrop request by campaign id", err)
	}
	return request, nil
}

// TakeNext peeks the next eligible request for a handler: Pending or Processing
// requests for the handler's airdrop name, Processing first so in-flight work
// resumes before new work starts, then lowest id. The row is not mutated or
// leased; the engine transitions status itself after deciding to act.
func (r *RequestRepository) TakeNext(ctx context.Context, airdropName string) (*models.AirdropRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM airdrop_requests
		WHERE airdrop_name = $1 AND status = ANY($2)
		ORDER BY (status = $3) DESC, id ASC
		LIMIT 1
	`

	statuses := []int{int(models.RequestPending), int(models.RequestProcessing)}
	request, err := scanRequest(r.db.Pool().QueryRow(ctx, query, airdropName, statuses, models.RequestProcessing))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.NewStorageError("take next airdrop request", err)
	}
	return request, nil
}

// List returns one page of requests matching the filter, newest first, together
// with the total row count for the filter.
func (r *RequestRepository) List(ctx context.Context, filter RequestFilter, page types.PageOptions) ([]*models.AirdropRequest, types.PageResult, error) {
	page = page.Normalize()
	result := types.PageResult{PageNo: page.PageNo, Size: page.Size}

	where := "TRUE"
	args := []interface{}{}
	if len(filter.Statuses) != 0 {
		statuses := make([]int, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = int(s)
		}
		args = append(args, statuses)
		where += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	if filter.Chain != "" {
		args = append(args, filter.Chain)
		where += fmt.Sprintf(" AND chain = $%d", len(args))
	}
	if filter.AirdropName != "" {
		args = append(args, filter.AirdropName)
		where += fmt.Sprintf(" AND airdrop_name = $%d", len(args))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		where += fmt.Sprintf(" AND category = $%d", len(args))
	}

	countQuery := `SELECT COUNT(*) FROM airdrop_requests WHERE ` + where
	if err := r.db.Pool().QueryRow(ctx, countQuery, args...).Scan(&result.Total); err != nil {
		return nil, result, apperrors.NewStorageError("count airdrop requests", err)
	}

	args = append(args, page.Size, page.Offset())
	listQuery := fmt.Sprintf(
		`SELECT %s FROM airdrop_requests WHERE %s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		requestColumns, where, len(args)-1, len(args),
	)

	rows, err := r.db.Pool().Query(ctx, listQuery, args...)
	if err != nil {
		return nil, result, apperrors.NewStorageError("list airdrop requests", err)
	}
	defer rows.Close()

	requests := make([]*models.AirdropRequest, 0, page.Size)
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, result, apperrors.NewStorageError("scan airdrop request", err)
		}
		requests = append(requests, request)
	}
	if err := rows.Err(); err != nil {
		return nil, result, apperrors.NewStorageError("list airdrop requests", err)
	}

	return requests, result, nil
}
