// Package chain talks to the distribution ledger. The engine only sees the
// LedgerClient interface; the EVM implementation lives in evm.go.
package chain

import (
	"context"
	"math/big"
)

// Receipt status values as reported by the ledger.
const (
	ReceiptStatusFailed  = uint64(0)
	ReceiptStatusSuccess = uint64(1)
)

// FeeData carries the fee quote for one submission. Legacy targets fill
// GasPrice; dynamic-fee targets fill GasFeeCap and GasTipCap.
type FeeData struct {
	GasPrice  *big.Int
	GasFeeCap *big.Int
	GasTipCap *big.Int
}

// BatchSubmission is one contract call distributing to a batch of receivers.
type BatchSubmission struct {
	CampaignID int64
	Limit      int64
	Receivers  []string
	TokenURI   string
}

// Receipt is the confirmed outcome of a submitted transaction.
type Receipt struct {
	TxHash      string
	Status      uint64
	BlockNumber uint64
	GasUsed     uint64
}

// Success reports whether the transaction executed without reverting.
func (r *Receipt) Success() bool {
	return r != nil && r.Status == ReceiptStatusSuccess
}

// LedgerClient submits airdrop batches and observes their settlement.
type LedgerClient interface {
	// SubmitBatch signs and broadcasts one batch call and returns the
	// transaction hash. The hash is valid even before the transaction settles.
	SubmitBatch(ctx context.Context, submission BatchSubmission) (string, error)

	// GetReceipt returns the settlement receipt for a transaction, or
	// (nil, nil) while it is still pending.
	GetReceipt(ctx context.Context, txHash string) (*Receipt, error)

	// Close releases the underlying connection.
	Close()
}
