// Package queue admits airdrop work into the store ahead of the engine. The
// dispatcher is the only writer that moves a request into Pending, so the
// engine never sees a campaign whose receiver rows are still being written.
package queue

import (
	"context"

	apperrors "github.com/solargatsby/airdroptool/internal/errors"
)

// Intent is one unit of admission work. The concrete types below are the only
// implementations.
type Intent interface {
	intent()
}

// NewCampaign admits receivers for a campaign, either a brand new one or an
// existing one being topped up.
type NewCampaign struct {
	RequestID int64
	Receivers []string
	Limit     int64
}

func (NewCampaign) intent() {}

// RetryCampaign resets failed receivers of a campaign back to unsubmitted.
// An empty receiver list retries every failed receiver.
type RetryCampaign struct {
	RequestID int64
	Receivers []string
}

func (RetryCampaign) intent() {}

// Queue is a bounded in-memory work queue. Admission is fail-fast: a full
// queue rejects instead of blocking the API handler.
type Queue struct {
	ch chan Intent
}

// NewQueue creates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Queue{ch: make(chan Intent, capacity)}
}

// Enqueue adds an intent, failing immediately when the queue is full.
func (q *Queue) Enqueue(ctx context.Context, intent Intent) error {
	select {
	case q.ch <- intent:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return apperrors.NewInternalError("work queue is full", nil)
	}
}

// Len returns the number of queued intents.
func (q *Queue) Len() int {
	return len(q.ch)
}

func (q *Queue) take() (Intent, bool) {
	select {
	case intent := <-q.ch:
		return intent, true
	default:
		return nil, false
	}
}
