// Package chains implements per-chain balance/transaction lookup, address
// validation, and transfer execution behind one Adapter interface.
package chains

import (
	"context"
	"fmt"
	"math/big"

	"wallet-backend/internal/models"
)

// Confirmation the verdict of an incoming-payment lookup. Absence of a match is not
// an error: adapters return Confirmed=false and never propagate lookup failures.
type Confirmation struct {
	Confirmed     bool   `json:"confirmed"`
	TxHash        string `json:"tx_hash,omitempty"`
	Confirmations uint64 `json:"confirmations"`
}

// Recipient one target of a transfer, amount in smallest units
type Recipient struct {
	Address string
	Amount  *big.Int
}

// Adapter chain-specific operations. Amounts cross this boundary as integer
// smallest units (wei, sat, lamport, stroop, planck, fri).
type Adapter interface {
	// Chain returns the chain tag this adapter serves
	Chain() models.Chain

	// ValidateAddress chain-specific format/checksum validation
	ValidateAddress(address string) bool

	// FindIncomingPayment searches recent chain activity for a transfer to address
	// satisfying expected (chain-specific tolerance). Soft failures inside a lookup
	// strategy are logged and the next strategy is tried; a total failure returns
	// Confirmed=false with a nil error.
	FindIncomingPayment(ctx context.Context, address string, expected *big.Int, network models.Network) (Confirmation, error)

	// ExecuteTransfer signs and broadcasts a single transfer, returning the tx hash.
	// Failures are *TransferError.
	ExecuteTransfer(ctx context.Context, privateKey, toAddress string, amount *big.Int, network models.Network) (string, error)

	// GetBalance returns the spendable balance of address in smallest units
	GetBalance(ctx context.Context, address string, network models.Network) (*big.Int, error)

	// EstimateFee returns a conservative per-transfer fee estimate in smallest
	// units, used by the split engine's pre-flight balance gate
	EstimateFee(ctx context.Context, network models.Network) (*big.Int, error)
}

// BatchAdapter implemented by UTXO chains: one transaction with N outputs, all
// recipients share one tx hash and succeed or fail together.
type BatchAdapter interface {
	Adapter
	ExecuteBatchTransfer(ctx context.Context, privateKey string, recipients []Recipient, network models.Network) (string, error)
}

// TransferErrorKind transfer failure category
type TransferErrorKind string

const (
	TransferErrInvalidAddress      TransferErrorKind = "invalid_recipient_address"
	TransferErrBelowDust           TransferErrorKind = "amount_below_dust_threshold"
	TransferErrInsufficientBalance TransferErrorKind = "insufficient_sender_balance"
	TransferErrSigningFailed       TransferErrorKind = "signing_failure"
	TransferErrBroadcastRejected   TransferErrorKind = "broadcast_rejected"
	TransferErrUnreachable         TransferErrorKind = "provider_unreachable"
)

// TransferError typed transfer failure surfaced per recipient
type TransferError struct {
	Kind    TransferErrorKind
	Chain   models.Chain
	Message string
	Err     error
}

func (e *TransferError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s transfer failed (%s): %s", e.Chain, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s transfer failed (%s)", e.Chain, e.Kind)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// NewTransferError builds a typed transfer error
func NewTransferError(chain models.Chain, kind TransferErrorKind, message string, err error) *TransferError {
	return &TransferError{Kind: kind, Chain: chain, Message: message, Err: err}
}

// Registry maps chain tags to adapters. Constructed once at startup and passed
// explicitly; no lazily-initialized global SDK handles.
type Registry struct {
	adapters map[models.Chain]Adapter
}

// NewRegistry creates an empty adapter registry
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[models.Chain]Adapter)}
}

// Register binds an adapter to a chain tag. The same adapter may serve several
// tags (Ethereum also handles erc20 and bnb).
func (r *Registry) Register(chain models.Chain, adapter Adapter) {
	r.adapters[chain] = adapter
}

// Get returns the adapter for a chain
func (r *Registry) Get(chain models.Chain) (Adapter, error) {
	adapter, ok := r.adapters[chain]
	if !ok {
		return nil, fmt.Errorf("unsupported chain: %s", chain)
	}
	return adapter, nil
}

// GetBatch returns the batch adapter for a UTXO chain
func (r *Registry) GetBatch(chain models.Chain) (BatchAdapter, error) {
	adapter, err := r.Get(chain)
	if err != nil {
		return nil, err
	}
	batch, ok := adapter.(BatchAdapter)
	if !ok {
		return nil, fmt.Errorf("chain %s does not support batch transfers", chain)
	}
	return batch, nil
}

// SupportsBatch reports whether a chain settles split payments as one multi-output
// transaction
func (r *Registry) SupportsBatch(chain models.Chain) bool {
	adapter, err := r.Get(chain)
	if err != nil {
		return false
	}
	_, ok := adapter.(BatchAdapter)
	return ok
}
