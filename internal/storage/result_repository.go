package storage

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/solargatsby/airdroptool/internal/errors"
	"github.com/solargatsby/airdroptool/internal/models"
	"github.com/solargatsby/airdroptool/internal/types"
)

// ResultRepository handles per-receiver airdrop outcome persistence
type ResultRepository struct {
	db *PostgresDB
}

// NewResultRepository creates a new result repository
func NewResultRepository(db *PostgresDB) *ResultRepository {
	return &ResultRepository{db: db}
}

// ResultFilter narrows an outcome listing within one request.
type ResultFilter struct {
	Statuses  []models.ResultStatus
	Receivers []string
}

// UpsertMany inserts outcome rows with status Init for the given receivers.
// A row that already exists for (request_id, receiver) keeps its current status
// and annotations; only its update_at timestamp is touched. This is the
// deliberate add-or-touch upsert, not a status reset.
func (r *ResultRepository) UpsertMany(ctx context.Context, requestID int64, receivers []string) error {
	if len(receivers) == 0 {
		return nil
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO airdrop_results (request_id, receiver, status, tx_hash, error_msg, create_at, update_at)
		SELECT $1, unnest($2::text[]), $3, '', '', $4, $4
		ON CONFLICT (request_id, receiver)
		DO UPDATE SET update_at = EXCLUDED.update_at
	`

	_, err := r.db.Pool().Exec(ctx, query, requestID, receivers, models.ResultInit, now)
	if err != nil {
		return apperrors.NewStorageError("upsert airdrop results", err)
	}
	return nil
}

// UpdateByReceivers records a shared outcome for all named receivers within a
// request in one call: status, the transaction hash the batch was submitted
// under, and the error text (empty on success).
func (r *ResultRepository) UpdateByReceivers(ctx context.Context, requestID int64, status models.ResultStatus, txHash, errorMsg string, receivers []string) error {
	if len(receivers) == 0 {
		return nil
	}

	query := `
		UPDATE airdrop_results
		SET status = $2, tx_hash = $3, error_msg = $4, update_at = $5
		WHERE request_id = $1 AND receiver = ANY($6)
	`

	_, err := r.db.Pool().Exec(ctx, query, requestID, status, txHash, errorMsg, time.Now().UTC(), receivers)
	if err != nil {
		return apperrors.NewStorageError("update airdrop results", err)
	}
	return nil
}

// ResetFailed sets matching Failed rows back to Init, clearing the transaction
// hash and error text. When receivers is empty, every Failed row in the request
// qualifies.
func (r *ResultRepository) ResetFailed(ctx context.Context, requestID int64, receivers []string) error {
	query := `
		UPDATE airdrop_results
		SET status = $2, tx_hash = '', error_msg = '', update_at = $3
		WHERE request_id = $1 AND status = $4
	`
	args := []interface{}{requestID, models.ResultInit, time.Now().UTC(), models.ResultFailed}

	if len(receivers) != 0 {
		args = append(args, receivers)
		query += fmt.Sprintf(" AND receiver = ANY($%d)", len(args))
	}

	_, err := r.db.Pool().Exec(ctx, query, args...)
	if err != nil {
		return apperrors.NewStorageError("reset failed airdrop results", err)
	}
	return nil
}

// Count returns the number of outcome rows for a request.
func (r *ResultRepository) Count(ctx context.Context, requestID int64) (int64, error) {
	var count int64
	err := r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM airdrop_results WHERE request_id = $1`, requestID,
	).Scan(&count)
	if err != nil {
		return 0, apperrors.NewStorageError("count airdrop results", err)
	}
	return count, nil
}

// List returns one page of outcome rows for a request, ordered by ascending id
// for stable page walking, together with the total row count for the filter.
func (r *ResultRepository) List(ctx context.Context, requestID int64, filter ResultFilter, page types.PageOptions) ([]*models.AirdropResult, types.PageResult, error) {
	page = page.Normalize()
	result := types.PageResult{PageNo: page.PageNo, Size: page.Size}

	where := "request_id = $1"
	args := []interface{}{requestID}
	if len(filter.Statuses) != 0 {
		statuses := make([]int, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = int(s)
		}
		args = append(args, statuses)
		where += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	if len(filter.Receivers) != 0 {
		args = append(args, filter.Receivers)
		where += fmt.Sprintf(" AND receiver = ANY($%d)", len(args))
	}

	countQuery := `SELECT COUNT(*) FROM airdrop_results WHERE ` + where
	if err := r.db.Pool().QueryRow(ctx, countQuery, args...).Scan(&result.Total); err != nil {
		return nil, result, apperrors.NewStorageError("count airdrop results", err)
	}

	args = append(args, page.Size, page.Offset())
	listQuery := fmt.Sprintf(`
		SELECT id, request_id, receiver, status, tx_hash, error_msg, create_at, update_at
		FROM airdrop_results
		WHERE %s
		ORDER BY id ASC
		LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args),
	)

	rows, err := r.db.Pool().Query(ctx, listQuery, args...)
	if err != nil {
		return nil, result, apperrors.NewStorageError("list airdrop results", err)
	}
	defer rows.Close()

	results := make([]*models.AirdropResult, 0, page.Size)
	for rows.Next() {
		var row models.AirdropResult
		if err := rows.Scan(
			&row.ID,
			&row.RequestID,
			&row.Receiver,
			&row.Status,
			&row.TxHash,
			&row.ErrorMsg,
			&row.CreateAt,
			&row.UpdateAt,
		); err != nil {
			return nil, result, apperrors.NewStorageError("scan airdrop result", err)
		}
		results = append(results, &row)
	}
	if err := rows.Err(); err != nil {
		return nil, result, apperrors.NewStorageError("list airdrop results", err)
	}

	return results, result, nil
}
