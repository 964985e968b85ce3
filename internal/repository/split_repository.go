package repository

import (
	"context"
	"time"

	"wallet-backend/internal/models"

	"gorm.io/gorm"
)

// SplitRepository defines the interface for split template/execution data access
type SplitRepository interface {
	CreateTemplate(ctx context.Context, template *models.SplitTemplate, recipients []models.SplitRecipient) error
	GetTemplate(ctx context.Context, id string) (*models.SplitTemplate, error)
	FindTemplatesByUser(ctx context.Context, userID string) ([]*models.SplitTemplate, error)
	SetTemplateStatus(ctx context.Context, id string, status models.SplitStatus) error
	SetRecipientActive(ctx context.Context, recipientID string, active bool) error

	// ActiveRecipients returns the active recipients of a template in creation order.
	// The split engine snapshots this list once per run.
	ActiveRecipients(ctx context.Context, templateID string) ([]models.SplitRecipient, error)

	CreateExecution(ctx context.Context, execution *models.SplitExecution) error
	FinalizeExecution(ctx context.Context, execution *models.SplitExecution, results []models.SplitExecutionResult) error
	GetExecution(ctx context.Context, id string) (*models.SplitExecution, error)
	FindExecutions(ctx context.Context, templateID string) ([]*models.SplitExecution, error)

	// BumpExecutionCounters increments execution_count and stamps last_executed_at
	// after a batch run completes
	BumpExecutionCounters(ctx context.Context, templateID string, at time.Time) error
}

type splitRepository struct {
	db *gorm.DB
}

// NewSplitRepository creates a new SplitRepository instance
func NewSplitRepository(db *gorm.DB) SplitRepository {
	return &splitRepository{db: db}
}

func (r *splitRepository) CreateTemplate(ctx context.Context, template *models.SplitTemplate, recipients []models.SplitRecipient) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(template).Error; err != nil {
			return err
		}
		if len(recipients) > 0 {
			if err := tx.Create(&recipients).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *splitRepository) GetTemplate(ctx context.Context, id string) (*models.SplitTemplate, error) {
	var template models.SplitTemplate
	err := r.db.WithContext(ctx).
		Preload("Recipients").
		Where("id = ?", id).
		First(&template).Error
	if err != nil {
		return nil, err
	}
	return &template, nil
}

func (r *splitRepository) FindTemplatesByUser(ctx context.Context, userID string) ([]*models.SplitTemplate, error) {
	var templates []*models.SplitTemplate
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&templates).Error
	return templates, err
}

func (r *splitRepository) SetTemplateStatus(ctx context.Context, id string, status models.SplitStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.SplitTemplate{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now()}).Error
}

func (r *splitRepository) SetRecipientActive(ctx context.Context, recipientID string, active bool) error {
	return r.db.WithContext(ctx).
		Model(&models.SplitRecipient{}).
		Where("id = ?", recipientID).
		Updates(map[string]interface{}{"is_active": active, "updated_at": time.Now()}).Error
}

func (r *splitRepository) ActiveRecipients(ctx context.Context, templateID string) ([]models.SplitRecipient, error) {
	var recipients []models.SplitRecipient
	err := r.db.WithContext(ctx).
		Where("split_payment_id = ? AND is_active = ?", templateID, true).
		Order("created_at ASC").
		Find(&recipients).Error
	return recipients, err
}

func (r *splitRepository) CreateExecution(ctx context.Context, execution *models.SplitExecution) error {
	return r.db.WithContext(ctx).Create(execution).Error
}

func (r *splitRepository) FinalizeExecution(ctx context.Context, execution *models.SplitExecution, results []models.SplitExecutionResult) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(results) > 0 {
			if err := tx.Create(&results).Error; err != nil {
				return err
			}
		}
		return tx.Model(&models.SplitExecution{}).
			Where("id = ?", execution.ID).
			Updates(map[string]interface{}{
				"status":              execution.Status,
				"successful_payments": execution.SuccessfulPayments,
				"failed_payments":     execution.FailedPayments,
				"completed_at":        execution.CompletedAt,
			}).Error
	})
}

func (r *splitRepository) GetExecution(ctx context.Context, id string) (*models.SplitExecution, error) {
	var execution models.SplitExecution
	err := r.db.WithContext(ctx).
		Preload("Results").
		Where("id = ?", id).
		First(&execution).Error
	if err != nil {
		return nil, err
	}
	return &execution, nil
}

func (r *splitRepository) FindExecutions(ctx context.Context, templateID string) ([]*models.SplitExecution, error) {
	var executions []*models.SplitExecution
	err := r.db.WithContext(ctx).
		Where("split_payment_id = ?", templateID).
		Order("created_at DESC").
		Find(&executions).Error
	return executions, err
}

func (r *splitRepository) BumpExecutionCounters(ctx context.Context, templateID string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.SplitTemplate{}).
		Where("id = ?", templateID).
		Updates(map[string]interface{}{
			"execution_count":  gorm.Expr("execution_count + 1"),
			"last_executed_at": at,
			"updated_at":       at,
		}).Error
}
