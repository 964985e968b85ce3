package models

import (
	"time"
)

// Chain supported blockchain identifier
type Chain string

const (
	ChainEthereum Chain = "ethereum"
	ChainERC20    Chain = "erc20" // token transfers on Ethereum, same adapter
	ChainBNB      Chain = "bnb"   // EVM-compatible, shares the Ethereum adapter
	ChainBitcoin  Chain = "bitcoin"
	ChainSolana   Chain = "solana"
	ChainStellar  Chain = "stellar"
	ChainPolkadot Chain = "polkadot"
	ChainStarknet Chain = "starknet"
)

// AllChains every chain the backend accepts on a payment intent
var AllChains = []Chain{
	ChainEthereum, ChainERC20, ChainBNB, ChainBitcoin,
	ChainSolana, ChainStellar, ChainPolkadot, ChainStarknet,
}

// IsValid reports whether c is a supported chain
func (c Chain) IsValid() bool {
	for _, chain := range AllChains {
		if c == chain {
			return true
		}
	}
	return false
}

// Network mainnet or testnet
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
)

// IsValid reports whether n is a supported network
func (n Network) IsValid() bool {
	return n == NetworkMainnet || n == NetworkTestnet
}

// PaymentStatus payment intent status enum
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
)

// IsTerminal reports whether the status admits no further transitions
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusCancelled
}

// PaymentIntent a request for an amount on one chain/network to be paid to one address.
// Status only ever moves PENDING -> COMPLETED or PENDING -> CANCELLED; TxHash is written
// exactly once, at the PENDING -> COMPLETED transition.
type PaymentIntent struct {
	ID          string        `json:"id" gorm:"primaryKey"`
	UserID      string        `json:"user_id" gorm:"not null;index:idx_payment_user_status"`
	Chain       Chain         `json:"chain" gorm:"type:varchar(20);not null"`
	Network     Network       `json:"network" gorm:"type:varchar(10);not null"`
	Address     string        `json:"address" gorm:"type:varchar(128);not null;index"`
	Amount      string        `json:"amount" gorm:"type:numeric(38,18);not null"` // display units, fixed precision
	Status      PaymentStatus `json:"status" gorm:"type:varchar(12);not null;index:idx_payment_user_status"`
	TxHash      string        `json:"tx_hash,omitempty" gorm:"type:varchar(128)"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// SplitStatus split template status enum
type SplitStatus string

const (
	SplitStatusActive   SplitStatus = "ACTIVE"
	SplitStatusInactive SplitStatus = "INACTIVE"
)

// SplitTemplate a reusable one-to-many disbursement plan. TotalAmount is recomputed
// from recipients at creation time, never trusted from input. ExecutionCount only
// increments.
type SplitTemplate struct {
	ID              string      `json:"id" gorm:"primaryKey"`
	UserID          string      `json:"user_id" gorm:"not null;index"`
	Chain           Chain       `json:"chain" gorm:"type:varchar(20);not null"`
	Network         Network     `json:"network" gorm:"type:varchar(10);not null"`
	FromAddress     string      `json:"from_address" gorm:"type:varchar(128);not null"`
	TotalAmount     string      `json:"total_amount" gorm:"type:numeric(38,18);not null"`
	TotalRecipients int         `json:"total_recipients" gorm:"not null"`
	Status          SplitStatus `json:"status" gorm:"type:varchar(10);not null"`
	ExecutionCount  int         `json:"execution_count" gorm:"default:0"`
	LastExecutedAt  *time.Time  `json:"last_executed_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`

	Recipients []SplitRecipient `json:"recipients,omitempty" gorm:"foreignKey:SplitPaymentID"`
}

// SplitRecipient one target of a SplitTemplate. IsActive is a soft-delete flag; only
// active recipients participate in execution.
type SplitRecipient struct {
	ID               string    `json:"id" gorm:"primaryKey"`
	SplitPaymentID   string    `json:"split_payment_id" gorm:"not null;index"`
	RecipientAddress string    `json:"recipient_address" gorm:"type:varchar(128);not null"`
	Amount           string    `json:"amount" gorm:"type:numeric(38,18);not null"`
	IsActive         bool      `json:"is_active" gorm:"default:true"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ExecutionStatus split execution status enum
type ExecutionStatus string

const (
	ExecutionStatusProcessing      ExecutionStatus = "PROCESSING"
	ExecutionStatusCompleted       ExecutionStatus = "COMPLETED"
	ExecutionStatusPartiallyFailed ExecutionStatus = "PARTIALLY_FAILED"
	ExecutionStatusFailed          ExecutionStatus = "FAILED"
)

// DeriveExecutionStatus computes the post-hoc execution status from per-recipient
// counts: FAILED if nothing succeeded, COMPLETED if nothing failed, else partial.
func DeriveExecutionStatus(successCount, failCount int) ExecutionStatus {
	switch {
	case successCount == 0:
		return ExecutionStatusFailed
	case failCount == 0:
		return ExecutionStatusCompleted
	default:
		return ExecutionStatusPartiallyFailed
	}
}

// SplitExecution one historical run of a SplitTemplate. TotalRecipients is a snapshot
// of the active recipient count at dispatch time, not a live join. Immutable once
// CompletedAt is set.
type SplitExecution struct {
	ID                 string          `json:"id" gorm:"primaryKey"`
	SplitPaymentID     string          `json:"split_payment_id" gorm:"not null;index"`
	TotalAmount        string          `json:"total_amount" gorm:"type:numeric(38,18);not null"`
	TotalRecipients    int             `json:"total_recipients" gorm:"not null"`
	Status             ExecutionStatus `json:"status" gorm:"type:varchar(20);not null"`
	SuccessfulPayments int             `json:"successful_payments" gorm:"default:0"`
	FailedPayments     int             `json:"failed_payments" gorm:"default:0"`
	CreatedAt          time.Time       `json:"created_at"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`

	Results []SplitExecutionResult `json:"results,omitempty" gorm:"foreignKey:ExecutionID"`
}

// ResultStatus per-recipient outcome status
type ResultStatus string

const (
	ResultStatusSuccess ResultStatus = "SUCCESS"
	ResultStatusFailed  ResultStatus = "FAILED"
)

// SplitExecutionResult one recipient's outcome within a SplitExecution, stored in the
// same order the recipients were dispatched.
type SplitExecutionResult struct {
	ID               string       `json:"id" gorm:"primaryKey"`
	ExecutionID      string       `json:"execution_id" gorm:"not null;index"`
	RecipientAddress string       `json:"recipient_address" gorm:"type:varchar(128);not null"`
	Amount           string       `json:"amount" gorm:"type:numeric(38,18);not null"`
	Status           ResultStatus `json:"status" gorm:"type:varchar(10);not null"`
	TxHash           string       `json:"tx_hash,omitempty" gorm:"type:varchar(128)"`
	ErrorMessage     string       `json:"error_message,omitempty" gorm:"type:text"`
	ProcessedAt      time.Time    `json:"processed_at"`
}

// LedgerEntry a credited receive, deduplicated by TxHash so repeated confirmation
// checks never double-record.
type LedgerEntry struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"user_id" gorm:"not null;index"`
	Chain     Chain     `json:"chain" gorm:"type:varchar(20);not null"`
	Network   Network   `json:"network" gorm:"type:varchar(10);not null"`
	Kind      string    `json:"kind" gorm:"type:varchar(16);not null"` // "receive"
	Amount    string    `json:"amount" gorm:"type:numeric(38,18);not null"`
	ToAddress string    `json:"to_address" gorm:"type:varchar(128);not null"`
	TxHash    string    `json:"tx_hash" gorm:"type:varchar(128);not null;uniqueIndex:idx_ledger_tx_hash"`
	CreatedAt time.Time `json:"created_at"`
}

// User the slice of the user record this core needs: the transaction PIN hash and an
// optional TOTP secret for split execution. Profile/KYC live in another service.
type User struct {
	ID                 string    `json:"id" gorm:"primaryKey"`
	TransactionPinHash string    `json:"-" gorm:"type:varchar(100)"`
	TOTPSecret         string    `json:"-" gorm:"type:varchar(64)"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
