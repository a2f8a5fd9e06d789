// Package models defines the persistent entities of the airdrop tool.
package models

import (
	"time"

	"github.com/solargatsby/airdroptool/internal/types"
)

// RequestStatus is the lifecycle status of an airdrop request. Values are
// integer-coded in storage.
type RequestStatus int

const (
	RequestInit       RequestStatus = 0
	RequestPending    RequestStatus = 1
	RequestProcessing RequestStatus = 2
	RequestCompleted  RequestStatus = 3
	RequestCanceled   RequestStatus = 4
)

// String returns a human-readable status name for logs.
func (s RequestStatus) String() string {
	switch s {
	case RequestInit:
		return "init"
	case RequestPending:
		return "pending"
	case RequestProcessing:
		return "processing"
	case RequestCompleted:
		return "completed"
	case RequestCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the request can still be picked up by the engine.
// Canceled is the only truly terminal state: a Completed request may be
// reactivated by adding new receivers or an explicit retry.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestCanceled
}

// AirdropRequest is one airdrop campaign targeting a single network/contract.
// campaign_id is the caller-supplied external identifier and is unique: there is
// at most one request row per external campaign.
type AirdropRequest struct {
	ID              int64         `json:"id" db:"id"`
	CampaignID      int64         `json:"campaignId" db:"campaign_id"`
	AirdropName     string        `json:"airdropName" db:"airdrop_name"`
	Category        string        `json:"category" db:"category"`
	Chain           types.Chain   `json:"chain" db:"chain"`
	ContractAddress string        `json:"contractAddress" db:"contract_address"`
	TokenURI        string        `json:"tokenURI" db:"token_uri"`
	Limit           int64         `json:"limit" db:"recipient_limit"`
	Status          RequestStatus `json:"status" db:"status"`
	StartTime       time.Time     `json:"startTime" db:"start_time"`
	CreateAt        time.Time     `json:"createAt" db:"create_at"`
	UpdateAt        time.Time     `json:"updateAt" db:"update_at"`
}

// CanCancel reports whether a cancel request is a valid transition. Completed
// and Canceled requests reject cancellation with a domain conflict.
func (r *AirdropRequest) CanCancel() bool {
	return r.Status != RequestCompleted && r.Status != RequestCanceled
}
