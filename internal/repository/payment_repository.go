// Package repository provides data access interfaces and implementations
package repository

import (
	"context"
	"time"

	"wallet-backend/internal/models"

	"gorm.io/gorm"
)

// PaymentRepository defines the interface for PaymentIntent data access
type PaymentRepository interface {
	Create(ctx context.Context, intent *models.PaymentIntent) error
	GetByID(ctx context.Context, id string) (*models.PaymentIntent, error)
	FindPending(ctx context.Context) ([]*models.PaymentIntent, error)
	FindByUser(ctx context.Context, userID string) ([]*models.PaymentIntent, error)

	// MarkCompleted flips a PENDING intent to COMPLETED, setting tx_hash and
	// completed_at in one conditional update. Returns gorm.ErrRecordNotFound when
	// the intent was no longer PENDING (already completed or cancelled), which
	// keeps the transition monotonic under concurrent checks.
	MarkCompleted(ctx context.Context, id, txHash string, completedAt time.Time) error

	// MarkCancelled flips a PENDING intent to CANCELLED (user-initiated only)
	MarkCancelled(ctx context.Context, id string) error
}

type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a new PaymentRepository instance
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) Create(ctx context.Context, intent *models.PaymentIntent) error {
	return r.db.WithContext(ctx).Create(intent).Error
}

func (r *paymentRepository) GetByID(ctx context.Context, id string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&intent).Error
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *paymentRepository) FindPending(ctx context.Context) ([]*models.PaymentIntent, error) {
	var intents []*models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("status = ?", models.PaymentStatusPending).
		Order("created_at ASC").
		Find(&intents).Error
	return intents, err
}

func (r *paymentRepository) FindByUser(ctx context.Context, userID string) ([]*models.PaymentIntent, error) {
	var intents []*models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&intents).Error
	return intents, err
}

func (r *paymentRepository) MarkCompleted(ctx context.Context, id, txHash string, completedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("id = ? AND status = ?", id, models.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":       models.PaymentStatusCompleted,
			"tx_hash":      txHash,
			"completed_at": completedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *paymentRepository) MarkCancelled(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("id = ? AND status = ?", id, models.PaymentStatusPending).
		Update("status", models.PaymentStatusCancelled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
