// Package services implements the payment confirmation, split execution, and
// payment monitoring engines on top of the repositories and chain adapters.
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"wallet-backend/internal/chains"
	"wallet-backend/internal/metrics"
	"wallet-backend/internal/models"
	"wallet-backend/internal/repository"
	"wallet-backend/internal/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Notifier publishes user-facing events. Satisfied by clients.NotifierClient;
// delivery failures are logged and never fail the producing operation.
type Notifier interface {
	Publish(userID, notificationType string, data interface{}) error
}

// ConfirmationResult the verdict of one confirmation check
type ConfirmationResult struct {
	PaymentID     string               `json:"payment_id"`
	Status        models.PaymentStatus `json:"status"`
	Confirmed     bool                 `json:"confirmed"`
	TxHash        string               `json:"tx_hash,omitempty"`
	Confirmations uint64               `json:"confirmations"`
}

// PendingCheckResult one entry of a monitorAllPending sweep
type PendingCheckResult struct {
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"` // completed | pending | error
	TxHash    string `json:"tx_hash,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ConfirmationService checks pending payment intents for on-chain settlement and
// drives the PENDING -> COMPLETED transition.
type ConfirmationService struct {
	payments repository.PaymentRepository
	ledger   repository.LedgerRepository
	registry *chains.Registry
	notifier Notifier
}

// NewConfirmationService creates the confirmation engine
func NewConfirmationService(
	payments repository.PaymentRepository,
	ledger repository.LedgerRepository,
	registry *chains.Registry,
	notifier Notifier,
) *ConfirmationService {
	return &ConfirmationService{
		payments: payments,
		ledger:   ledger,
		registry: registry,
		notifier: notifier,
	}
}

// CheckPayment runs one confirmation check for a payment intent. Terminal intents
// return immediately without touching the chain, which makes repeated checks
// idempotent and cheap.
func (s *ConfirmationService) CheckPayment(ctx context.Context, paymentID string) (*ConfirmationResult, error) {
	intent, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("payment %s not found: %w", paymentID, err)
	}

	// terminal fast path: no chain call, no state change
	if intent.Status.IsTerminal() {
		return &ConfirmationResult{
			PaymentID: intent.ID,
			Status:    intent.Status,
			Confirmed: intent.Status == models.PaymentStatusCompleted,
			TxHash:    intent.TxHash,
		}, nil
	}

	adapter, err := s.registry.Get(intent.Chain)
	if err != nil {
		return nil, err
	}
	expected, err := utils.ToSmallestUnit(intent.Amount, utils.DecimalsFor(intent.Chain))
	if err != nil {
		return nil, fmt.Errorf("invalid amount on payment %s: %w", paymentID, err)
	}

	metrics.ConfirmationChecks.WithLabelValues(string(intent.Chain), string(intent.Network)).Inc()
	start := time.Now()
	confirmation, err := adapter.FindIncomingPayment(ctx, intent.Address, expected, intent.Network)
	metrics.ConfirmationCheckDuration.WithLabelValues(string(intent.Chain)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("confirmation lookup failed for %s: %w", paymentID, err)
	}

	if !confirmation.Confirmed {
		return &ConfirmationResult{
			PaymentID:     intent.ID,
			Status:        models.PaymentStatusPending,
			Confirmed:     false,
			TxHash:        confirmation.TxHash,
			Confirmations: confirmation.Confirmations,
		}, nil
	}

	if err := s.complete(ctx, intent, confirmation); err != nil {
		return nil, err
	}
	return &ConfirmationResult{
		PaymentID:     intent.ID,
		Status:        models.PaymentStatusCompleted,
		Confirmed:     true,
		TxHash:        confirmation.TxHash,
		Confirmations: confirmation.Confirmations,
	}, nil
}

// complete performs the PENDING -> COMPLETED transition, records the ledger entry
// and emits the notification
func (s *ConfirmationService) complete(ctx context.Context, intent *models.PaymentIntent, confirmation chains.Confirmation) error {
	completedAt := time.Now().UTC()
	err := s.payments.MarkCompleted(ctx, intent.ID, confirmation.TxHash, completedAt)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// a concurrent check won the transition; nothing further to do
		log.Printf("ℹ️ [Confirm] Payment %s already transitioned, skipping", intent.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to complete payment %s: %w", intent.ID, err)
	}
	metrics.PaymentsCompleted.WithLabelValues(string(intent.Chain), string(intent.Network)).Inc()
	log.Printf("✅ [Confirm] Payment %s completed: chain=%s txHash=%s confirmations=%d",
		intent.ID, intent.Chain, confirmation.TxHash, confirmation.Confirmations)

	created, err := s.ledger.CreateIfAbsent(ctx, &models.LedgerEntry{
		ID:        uuid.NewString(),
		UserID:    intent.UserID,
		Chain:     intent.Chain,
		Network:   intent.Network,
		Kind:      "receive",
		Amount:    intent.Amount,
		ToAddress: intent.Address,
		TxHash:    confirmation.TxHash,
		CreatedAt: completedAt,
	})
	if err != nil {
		// the payment is already completed; surface the ledger failure but do not
		// attempt to roll the status back
		log.Printf("❌ [Confirm] Ledger write failed for payment %s: %v", intent.ID, err)
		return fmt.Errorf("ledger write failed: %w", err)
	}
	if !created {
		log.Printf("ℹ️ [Confirm] Ledger entry for tx %s already exists, deduplicated", confirmation.TxHash)
	}

	if s.notifier != nil {
		if err := s.notifier.Publish(intent.UserID, "payment_completed", map[string]interface{}{
			"payment_id":    intent.ID,
			"chain":         intent.Chain,
			"network":       intent.Network,
			"amount":        intent.Amount,
			"tx_hash":       confirmation.TxHash,
			"confirmations": confirmation.Confirmations,
		}); err != nil {
			log.Printf("⚠️ [Confirm] Notification publish failed for payment %s: %v", intent.ID, err)
		}
	}
	return nil
}

// MonitorAllPending checks every PENDING intent once. Each intent is wrapped
// individually so one failure never aborts the sweep; used for on-demand sweeps and
// startup recovery.
func (s *ConfirmationService) MonitorAllPending(ctx context.Context) []PendingCheckResult {
	intents, err := s.payments.FindPending(ctx)
	if err != nil {
		log.Printf("❌ [Confirm] Failed to list pending payments: %v", err)
		return nil
	}

	results := make([]PendingCheckResult, 0, len(intents))
	for _, intent := range intents {
		result, err := s.CheckPayment(ctx, intent.ID)
		if err != nil {
			results = append(results, PendingCheckResult{
				PaymentID: intent.ID,
				Status:    "error",
				Error:     err.Error(),
			})
			continue
		}
		status := "pending"
		if result.Confirmed {
			status = "completed"
		}
		results = append(results, PendingCheckResult{
			PaymentID: intent.ID,
			Status:    status,
			TxHash:    result.TxHash,
		})
	}
	return results
}
