package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"wallet-backend/internal/chains"
	"wallet-backend/internal/models"
	"wallet-backend/internal/repository"
	"wallet-backend/internal/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrInvalidChain the chain tag is not supported
	ErrInvalidChain = errors.New("unsupported chain")
	// ErrInvalidNetwork the network is not mainnet/testnet
	ErrInvalidNetwork = errors.New("unsupported network")
	// ErrInvalidAddress the address fails chain-specific validation
	ErrInvalidAddress = errors.New("invalid address for chain")
	// ErrPaymentNotCancellable the intent already reached a terminal state
	ErrPaymentNotCancellable = errors.New("payment is not pending")
)

// PaymentService creates and cancels payment intents and arms the monitor for
// newly created ones.
type PaymentService struct {
	payments repository.PaymentRepository
	registry *chains.Registry
	monitor  *PaymentMonitorService
}

// NewPaymentService creates the payment intent service
func NewPaymentService(payments repository.PaymentRepository, registry *chains.Registry, monitor *PaymentMonitorService) *PaymentService {
	return &PaymentService{payments: payments, registry: registry, monitor: monitor}
}

// CreateIntent validates and persists a new PENDING payment intent, then starts
// monitoring it
func (s *PaymentService) CreateIntent(ctx context.Context, userID string, chain models.Chain, network models.Network, address, amount string) (*models.PaymentIntent, error) {
	if !chain.IsValid() {
		return nil, ErrInvalidChain
	}
	if !network.IsValid() {
		return nil, ErrInvalidNetwork
	}
	adapter, err := s.registry.Get(chain)
	if err != nil {
		return nil, ErrInvalidChain
	}
	if !adapter.ValidateAddress(address) {
		return nil, ErrInvalidAddress
	}
	// reject malformed/negative amounts up front
	if _, err := utils.ToSmallestUnit(amount, utils.DecimalsFor(chain)); err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}

	intent := &models.PaymentIntent{
		ID:        uuid.NewString(),
		UserID:    userID,
		Chain:     chain,
		Network:   network,
		Address:   address,
		Amount:    amount,
		Status:    models.PaymentStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.payments.Create(ctx, intent); err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}
	log.Printf("✅ [Payment] Intent %s created: chain=%s network=%s amount=%s", intent.ID, chain, network, amount)

	if s.monitor != nil {
		s.monitor.StartMonitoring(intent.ID)
	}
	return intent, nil
}

// GetIntent fetches one payment intent
func (s *PaymentService) GetIntent(ctx context.Context, id string) (*models.PaymentIntent, error) {
	return s.payments.GetByID(ctx, id)
}

// ListIntents fetches a user's payment intents, newest first
func (s *PaymentService) ListIntents(ctx context.Context, userID string) ([]*models.PaymentIntent, error) {
	return s.payments.FindByUser(ctx, userID)
}

// CancelIntent performs the user-initiated PENDING -> CANCELLED transition and
// tears down the intent's monitor
func (s *PaymentService) CancelIntent(ctx context.Context, id, userID string) error {
	intent, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if intent.UserID != userID {
		return gorm.ErrRecordNotFound
	}
	if err := s.payments.MarkCancelled(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPaymentNotCancellable
		}
		return err
	}
	if s.monitor != nil {
		s.monitor.StopMonitoring(id)
	}
	log.Printf("🚫 [Payment] Intent %s cancelled by user %s", id, userID)
	return nil
}
