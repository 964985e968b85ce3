package repository

import (
	"context"
	"errors"

	"wallet-backend/internal/models"

	"gorm.io/gorm"
)

// LedgerRepository defines the interface for ledger entry data access
type LedgerRepository interface {
	// CreateIfAbsent inserts a ledger entry unless one already exists for the same
	// tx hash. Returns (false, nil) when the entry was deduplicated.
	CreateIfAbsent(ctx context.Context, entry *models.LedgerEntry) (bool, error)
	ExistsByTxHash(ctx context.Context, txHash string) (bool, error)
	FindByUser(ctx context.Context, userID string) ([]*models.LedgerEntry, error)
}

type ledgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository creates a new LedgerRepository instance
func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) CreateIfAbsent(ctx context.Context, entry *models.LedgerEntry) (bool, error) {
	// check-then-insert inside one transaction; the unique index on tx_hash backs
	// this up against races between concurrent confirmation checks
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.LedgerEntry
		err := tx.Where("tx_hash = ?", entry.TxHash).First(&existing).Error
		if err == nil {
			return nil // already recorded
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}

func (r *ledgerRepository) ExistsByTxHash(ctx context.Context, txHash string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("tx_hash = ?", txHash).
		Count(&count).Error
	return count > 0, err
}

func (r *ledgerRepository) FindByUser(ctx context.Context, userID string) ([]*models.LedgerEntry, error) {
	var entries []*models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&entries).Error
	return entries, err
}
