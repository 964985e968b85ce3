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

// ErrNoRecipients a template needs at least one recipient
var ErrNoRecipients = errors.New("split template requires at least one recipient")

// RecipientInput one recipient in a template creation request
type RecipientInput struct {
	Address string `json:"address" binding:"required"`
	Amount  string `json:"amount" binding:"required"`
}

// SplitTemplateService manages split template lifecycle: creation, status
// toggling, and recipient toggling. Execution lives in SplitExecutionService.
type SplitTemplateService struct {
	splits   repository.SplitRepository
	registry *chains.Registry
}

// NewSplitTemplateService creates the template service
func NewSplitTemplateService(splits repository.SplitRepository, registry *chains.Registry) *SplitTemplateService {
	return &SplitTemplateService{splits: splits, registry: registry}
}

// CreateTemplate validates every recipient and persists the template. TotalAmount
// is recomputed from the recipient list, never trusted from the request.
func (s *SplitTemplateService) CreateTemplate(ctx context.Context, userID string, chain models.Chain, network models.Network, fromAddress string, recipients []RecipientInput) (*models.SplitTemplate, error) {
	if !chain.IsValid() {
		return nil, ErrInvalidChain
	}
	if !network.IsValid() {
		return nil, ErrInvalidNetwork
	}
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}
	adapter, err := s.registry.Get(chain)
	if err != nil {
		return nil, ErrInvalidChain
	}
	if !adapter.ValidateAddress(fromAddress) {
		return nil, fmt.Errorf("%w: sender %s", ErrInvalidAddress, fromAddress)
	}

	decimals := utils.DecimalsFor(chain)
	now := time.Now().UTC()
	templateID := uuid.NewString()
	rows := make([]models.SplitRecipient, 0, len(recipients))
	amounts := make([]string, 0, len(recipients))
	for _, recipient := range recipients {
		if !adapter.ValidateAddress(recipient.Address) {
			return nil, fmt.Errorf("%w: recipient %s", ErrInvalidAddress, recipient.Address)
		}
		if _, err := utils.ToSmallestUnit(recipient.Amount, decimals); err != nil {
			return nil, fmt.Errorf("invalid amount for recipient %s: %w", recipient.Address, err)
		}
		if chain == models.ChainBitcoin {
			if err := validateBitcoinDust(recipient.Amount); err != nil {
				return nil, fmt.Errorf("recipient %s: %w", recipient.Address, err)
			}
		}
		rows = append(rows, models.SplitRecipient{
			ID:               uuid.NewString(),
			SplitPaymentID:   templateID,
			RecipientAddress: recipient.Address,
			Amount:           recipient.Amount,
			IsActive:         true,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
		amounts = append(amounts, recipient.Amount)
	}

	totalAmount, err := utils.SumAmounts(amounts, decimals)
	if err != nil {
		return nil, fmt.Errorf("failed to sum recipient amounts: %w", err)
	}

	template := &models.SplitTemplate{
		ID:              templateID,
		UserID:          userID,
		Chain:           chain,
		Network:         network,
		FromAddress:     fromAddress,
		TotalAmount:     totalAmount,
		TotalRecipients: len(rows),
		Status:          models.SplitStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.splits.CreateTemplate(ctx, template, rows); err != nil {
		return nil, fmt.Errorf("failed to create split template: %w", err)
	}
	template.Recipients = rows
	log.Printf("✅ [Split] Template %s created: chain=%s recipients=%d total=%s", template.ID, chain, len(rows), totalAmount)
	return template, nil
}

// validateBitcoinDust rejects outputs below the 546 sat relay dust threshold at
// template creation, before any chain call can fail on them
func validateBitcoinDust(amount string) error {
	sats, err := utils.ToSmallestUnit(amount, utils.DecimalsFor(models.ChainBitcoin))
	if err != nil {
		return err
	}
	if sats.Int64() < chains.DustThresholdSats {
		return fmt.Errorf("amount %s below dust threshold (%d sats)", amount, chains.DustThresholdSats)
	}
	return nil
}

// GetTemplate fetches one template with its recipients, enforcing ownership
func (s *SplitTemplateService) GetTemplate(ctx context.Context, id, userID string) (*models.SplitTemplate, error) {
	template, err := s.splits.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if template.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return template, nil
}

// ListTemplates fetches a user's templates, newest first
func (s *SplitTemplateService) ListTemplates(ctx context.Context, userID string) ([]*models.SplitTemplate, error) {
	return s.splits.FindTemplatesByUser(ctx, userID)
}

// ToggleTemplate flips a template between ACTIVE and INACTIVE
func (s *SplitTemplateService) ToggleTemplate(ctx context.Context, id, userID string) (models.SplitStatus, error) {
	template, err := s.GetTemplate(ctx, id, userID)
	if err != nil {
		return "", err
	}
	next := models.SplitStatusActive
	if template.Status == models.SplitStatusActive {
		next = models.SplitStatusInactive
	}
	if err := s.splits.SetTemplateStatus(ctx, id, next); err != nil {
		return "", err
	}
	log.Printf("🔄 [Split] Template %s toggled to %s", id, next)
	return next, nil
}

// ToggleRecipient flips one recipient's active flag; the change takes effect on
// the next execution run, not any in-flight one
func (s *SplitTemplateService) ToggleRecipient(ctx context.Context, templateID, recipientID, userID string) (bool, error) {
	template, err := s.GetTemplate(ctx, templateID, userID)
	if err != nil {
		return false, err
	}
	for _, recipient := range template.Recipients {
		if recipient.ID == recipientID {
			next := !recipient.IsActive
			if err := s.splits.SetRecipientActive(ctx, recipientID, next); err != nil {
				return false, err
			}
			return next, nil
		}
	}
	return false, gorm.ErrRecordNotFound
}

// ListExecutions fetches the execution history of a template
func (s *SplitTemplateService) ListExecutions(ctx context.Context, templateID, userID string) ([]*models.SplitExecution, error) {
	if _, err := s.GetTemplate(ctx, templateID, userID); err != nil {
		return nil, err
	}
	return s.splits.FindExecutions(ctx, templateID)
}
