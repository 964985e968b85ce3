package services

import (
	"context"

	"wallet-backend/internal/models"
	"wallet-backend/internal/repository"
)

// LedgerService read access to the credited-receive ledger. Writes happen inside
// the confirmation engine only.
type LedgerService struct {
	ledger repository.LedgerRepository
}

// NewLedgerService creates the ledger service
func NewLedgerService(ledger repository.LedgerRepository) *LedgerService {
	return &LedgerService{ledger: ledger}
}

// ListEntries fetches a user's ledger entries, newest first
func (s *LedgerService) ListEntries(ctx context.Context, userID string) ([]*models.LedgerEntry, error) {
	return s.ledger.FindByUser(ctx, userID)
}

// HasTxHash reports whether a receive was already credited for a tx hash
func (s *LedgerService) HasTxHash(ctx context.Context, txHash string) (bool, error) {
	return s.ledger.ExistsByTxHash(ctx, txHash)
}
