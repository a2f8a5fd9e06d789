package storage

import (
	"context"
	"time"

	"github.com/solargatsby/airdroptool/internal/models"
)

// AirdropEvent is one append-only audit record of a batch outcome transition.
type AirdropEvent struct {
	RequestID     int64
	CampaignID    int64
	AirdropName   string
	Chain         string
	TxHash        string
	Status        models.ResultStatus
	ReceiverCount int
	ErrorMsg      string
	EventTime     time.Time
}

// EventRepository appends airdrop audit events to ClickHouse. Writes are
// best-effort: callers log failures and move on.
type EventRepository struct {
	db *ClickHouseDB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *ClickHouseDB) *EventRepository {
	return &EventRepository{db: db}
}

// InitSchema creates the events table if it does not exist.
func (r *EventRepository) InitSchema(ctx context.Context) error {
	return r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS airdrop_events (
			request_id     Int64,
			campaign_id    Int64,
			airdrop_name   String,
			chain          String,
			tx_hash        String,
			status         Int32,
			receiver_count Int32,
			error_msg      String,
			event_time     DateTime
		) ENGINE = MergeTree()
		ORDER BY (request_id, event_time)
	`)
}

// Append records a single event.
func (r *EventRepository) Append(ctx context.Context, event *AirdropEvent) error {
	if event.EventTime.IsZero() {
		event.EventTime = time.Now().UTC()
	}

	return r.db.Exec(ctx, `
		INSERT INTO airdrop_events
			(request_id, campaign_id, airdrop_name, chain, tx_hash, status, receiver_count, error_msg, event_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.RequestID,
		event.CampaignID,
		event.AirdropName,
		event.Chain,
		event.TxHash,
		int32(event.Status),
		int32(event.ReceiverCount),
		event.ErrorMsg,
		event.EventTime,
	)
}
