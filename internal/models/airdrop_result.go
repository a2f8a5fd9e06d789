package models

import "time"

// ResultStatus is the per-receiver delivery status. Values are integer-coded in
// storage.
type ResultStatus int

const (
	ResultInit       ResultStatus = 0
	ResultPending    ResultStatus = 1
	ResultProcessing ResultStatus = 2
	ResultSuccess    ResultStatus = 3
	ResultFailed     ResultStatus = 4
)

// String returns a human-readable status name for logs.
func (s ResultStatus) String() string {
	switch s {
	case ResultInit:
		return "init"
	case ResultPending:
		return "pending"
	case ResultProcessing:
		return "processing"
	case ResultSuccess:
		return "success"
	case ResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the receiver outcome is resolved.
func (s ResultStatus) IsTerminal() bool {
	return s == ResultSuccess || s == ResultFailed
}

// NonTerminalResultStatuses lists the statuses the engine still has work for.
// Init and Pending are treated identically by the batching step: both mean
// "not yet submitted".
func NonTerminalResultStatuses() []ResultStatus {
	return []ResultStatus{ResultInit, ResultPending, ResultProcessing}
}

// AirdropResult is the delivery record for one receiver within a campaign.
// (request_id, receiver) is unique: re-adding a receiver merges into the
// existing row.
type AirdropResult struct {
	ID        int64        `json:"id" db:"id"`
	RequestID int64        `json:"requestId" db:"request_id"`
	Receiver  string       `json:"receiver" db:"receiver"`
	Status    ResultStatus `json:"status" db:"status"`
	TxHash    string       `json:"txHash" db:"tx_hash"`
	ErrorMsg  string       `json:"errorMsg" db:"error_msg"`
	CreateAt  time.Time    `json:"createAt" db:"create_at"`
	UpdateAt  time.Time    `json:"updateAt" db:"update_at"`
}
