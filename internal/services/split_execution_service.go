package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"wallet-backend/internal/chains"
	"wallet-backend/internal/config"
	"wallet-backend/internal/metrics"
	"wallet-backend/internal/models"
	"wallet-backend/internal/repository"
	"wallet-backend/internal/utils"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

// KeyDecryptor fetches decrypted key material from the external signing service.
// Satisfied by clients.SignerClient.
type KeyDecryptor interface {
	DecryptKey(ctx context.Context, userID, chain, network, address string) (string, error)
}

var (
	// ErrPinMismatch the transaction PIN did not match the stored hash
	ErrPinMismatch = errors.New("transaction PIN mismatch")
	// ErrTOTPMismatch the TOTP code was missing or invalid
	ErrTOTPMismatch = errors.New("invalid TOTP code")
	// ErrTemplateInactive the split template is not ACTIVE
	ErrTemplateInactive = errors.New("split template is inactive")
	// ErrNoActiveRecipients the template has no active recipients to pay
	ErrNoActiveRecipients = errors.New("split template has no active recipients")
	// ErrNotTemplateOwner the caller does not own the template
	ErrNotTemplateOwner = errors.New("split template belongs to another user")
	// ErrInsufficientSenderBalance pre-flight gate: the whole batch is aborted with
	// zero transfers attempted
	ErrInsufficientSenderBalance = errors.New("insufficient sender balance for split execution")
)

// SplitExecutionService executes one run of a SplitTemplate: PIN gate, pre-flight
// balance gate, then sequential per-recipient transfers for account chains or one
// multi-output transaction for UTXO chains.
type SplitExecutionService struct {
	splits   repository.SplitRepository
	users    repository.UserRepository
	registry *chains.Registry
	signer   KeyDecryptor
	notifier Notifier

	// one mutex per sender address serializes concurrent executions from the same
	// account, preventing nonce/sequence collisions
	senderLocks   map[string]*sync.Mutex
	senderLocksMu sync.Mutex
}

// NewSplitExecutionService creates the split execution engine
func NewSplitExecutionService(
	splits repository.SplitRepository,
	users repository.UserRepository,
	registry *chains.Registry,
	signer KeyDecryptor,
	notifier Notifier,
) *SplitExecutionService {
	return &SplitExecutionService{
		splits:      splits,
		users:       users,
		registry:    registry,
		signer:      signer,
		notifier:    notifier,
		senderLocks: make(map[string]*sync.Mutex),
	}
}

// senderLock returns the mutex for one sender address, creating it on first use
func (s *SplitExecutionService) senderLock(address string) *sync.Mutex {
	s.senderLocksMu.Lock()
	defer s.senderLocksMu.Unlock()
	lock, ok := s.senderLocks[address]
	if !ok {
		lock = &sync.Mutex{}
		s.senderLocks[address] = lock
	}
	return lock
}

// dispatchItem one recipient prepared for dispatch
type dispatchItem struct {
	address string
	amount  *big.Int
	display string // original decimal string, stored on the result row
}

// ExecuteSplit runs one split execution end to end and returns the persisted
// execution record with its per-recipient results.
func (s *SplitExecutionService) ExecuteSplit(ctx context.Context, templateID, userID, pin, totpCode string) (*models.SplitExecution, error) {
	template, err := s.splits.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("split template %s not found: %w", templateID, err)
	}
	if template.UserID != userID {
		return nil, ErrNotTemplateOwner
	}
	if template.Status != models.SplitStatusActive {
		return nil, ErrTemplateInactive
	}

	// snapshot the active recipients once; toggles after this point affect the
	// next run, not this one
	recipients, err := s.splits.ActiveRecipients(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load recipients: %w", err)
	}
	if len(recipients) == 0 {
		return nil, ErrNoActiveRecipients
	}

	if err := s.verifyPin(ctx, userID, pin, totpCode); err != nil {
		return nil, err
	}

	decimals := utils.DecimalsFor(template.Chain)
	items := make([]dispatchItem, 0, len(recipients))
	total := new(big.Int)
	for _, recipient := range recipients {
		amount, err := utils.ToSmallestUnit(recipient.Amount, decimals)
		if err != nil {
			return nil, fmt.Errorf("invalid amount for recipient %s: %w", recipient.RecipientAddress, err)
		}
		items = append(items, dispatchItem{
			address: recipient.RecipientAddress,
			amount:  amount,
			display: recipient.Amount,
		})
		total.Add(total, amount)
	}

	adapter, err := s.registry.Get(template.Chain)
	if err != nil {
		return nil, err
	}
	cfg, err := config.GetChainNetworkConfig(string(template.Chain), string(template.Network))
	if err != nil {
		return nil, err
	}

	lock := s.senderLock(template.FromAddress)
	lock.Lock()
	defer lock.Unlock()

	useBatch := s.registry.SupportsBatch(template.Chain)
	if !useBatch {
		if err := s.preflightBalance(ctx, adapter, template, total, len(items)); err != nil {
			return nil, err
		}
	}

	// decrypted key stays in this frame; never persisted or logged
	privateKey, err := s.signer.DecryptKey(ctx, userID, string(template.Chain), string(template.Network), template.FromAddress)
	if err != nil {
		return nil, fmt.Errorf("key decryption failed: %w", err)
	}

	execution := &models.SplitExecution{
		ID:              uuid.NewString(),
		SplitPaymentID:  template.ID,
		TotalAmount:     template.TotalAmount,
		TotalRecipients: len(items),
		Status:          models.ExecutionStatusProcessing,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.splits.CreateExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to create execution record: %w", err)
	}

	var results []models.SplitExecutionResult
	if useBatch {
		results = s.dispatchBatch(ctx, template, execution.ID, privateKey, items)
	} else {
		results = s.dispatchSequential(ctx, adapter, template, execution.ID, privateKey, items, cfg.InterTxDelayMS)
	}

	successCount, failCount := 0, 0
	for _, result := range results {
		if result.Status == models.ResultStatusSuccess {
			successCount++
		} else {
			failCount++
		}
	}
	completedAt := time.Now().UTC()
	execution.Status = models.DeriveExecutionStatus(successCount, failCount)
	execution.SuccessfulPayments = successCount
	execution.FailedPayments = failCount
	execution.CompletedAt = &completedAt
	execution.Results = results

	if err := s.splits.FinalizeExecution(ctx, execution, results); err != nil {
		return nil, fmt.Errorf("failed to finalize execution %s: %w", execution.ID, err)
	}
	// counters move only after the full batch completed; a crash before this point
	// leaves them unchanged (at-least-once attempt semantic)
	if err := s.splits.BumpExecutionCounters(ctx, template.ID, completedAt); err != nil {
		log.Printf("❌ [Split] Failed to bump counters for template %s: %v", template.ID, err)
	}

	metrics.SplitExecutions.WithLabelValues(string(template.Chain), string(execution.Status)).Inc()
	log.Printf("✅ [Split] Execution %s finished: template=%s status=%s success=%d failed=%d",
		execution.ID, template.ID, execution.Status, successCount, failCount)

	if s.notifier != nil {
		if err := s.notifier.Publish(userID, "split_executed", map[string]interface{}{
			"execution_id":        execution.ID,
			"template_id":         template.ID,
			"chain":               template.Chain,
			"status":              execution.Status,
			"successful_payments": successCount,
			"failed_payments":     failCount,
		}); err != nil {
			log.Printf("⚠️ [Split] Notification publish failed for execution %s: %v", execution.ID, err)
		}
	}
	return execution, nil
}

// verifyPin enforces the transaction PIN (and TOTP when the user has one enrolled)
// unless the deployment explicitly bypasses the check
func (s *SplitExecutionService) verifyPin(ctx context.Context, userID, pin, totpCode string) error {
	if config.AppConfig != nil && config.AppConfig.Split.BypassPinCheck {
		log.Printf("⚠️ [Split] PIN check bypassed by configuration")
		return nil
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("user %s not found: %w", userID, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.TransactionPinHash), []byte(pin)); err != nil {
		return ErrPinMismatch
	}
	if user.TOTPSecret != "" {
		if totpCode == "" || !totp.Validate(totpCode, user.TOTPSecret) {
			return ErrTOTPMismatch
		}
	}
	return nil
}

// preflightBalance is the all-or-nothing gate for account chains: required total
// plus a conservative per-transfer fee for every recipient must fit in the sender
// balance, otherwise the run aborts with zero transfers attempted
func (s *SplitExecutionService) preflightBalance(ctx context.Context, adapter chains.Adapter, template *models.SplitTemplate, total *big.Int, transferCount int) error {
	balance, err := adapter.GetBalance(ctx, template.FromAddress, template.Network)
	if err != nil {
		return fmt.Errorf("pre-flight balance check failed: %w", err)
	}
	fee, err := adapter.EstimateFee(ctx, template.Network)
	if err != nil {
		return fmt.Errorf("pre-flight fee estimate failed: %w", err)
	}

	required := new(big.Int).Set(total)
	required.Add(required, new(big.Int).Mul(fee, big.NewInt(int64(transferCount))))
	if balance.Cmp(required) < 0 {
		log.Printf("❌ [Split] Pre-flight gate failed for %s: balance=%s required=%s",
			template.FromAddress, balance.String(), required.String())
		return fmt.Errorf("%w: balance %s, required %s", ErrInsufficientSenderBalance, balance.String(), required.String())
	}
	return nil
}

// dispatchSequential processes recipients strictly in input order, one broadcast
// awaited before the next, with an inter-transaction delay to avoid provider rate
// limits. One recipient's failure never stops the remaining recipients.
func (s *SplitExecutionService) dispatchSequential(ctx context.Context, adapter chains.Adapter, template *models.SplitTemplate, executionID, privateKey string, items []dispatchItem, delayMS int) []models.SplitExecutionResult {
	results := make([]models.SplitExecutionResult, 0, len(items))
	for i, item := range items {
		result := models.SplitExecutionResult{
			ID:               uuid.NewString(),
			ExecutionID:      executionID,
			RecipientAddress: item.address,
			Amount:           item.display,
			ProcessedAt:      time.Now().UTC(),
		}

		txHash, err := adapter.ExecuteTransfer(ctx, privateKey, item.address, item.amount, template.Network)
		if err != nil {
			result.Status = models.ResultStatusFailed
			result.ErrorMessage = err.Error()
			metrics.SplitTransfers.WithLabelValues(string(template.Chain), "failed").Inc()
			log.Printf("❌ [Split] Transfer %d/%d failed: to=%s err=%v", i+1, len(items), item.address, err)
		} else {
			result.Status = models.ResultStatusSuccess
			result.TxHash = txHash
			metrics.SplitTransfers.WithLabelValues(string(template.Chain), "success").Inc()
			log.Printf("✅ [Split] Transfer %d/%d sent: to=%s txHash=%s", i+1, len(items), item.address, txHash)
		}
		results = append(results, result)

		if i < len(items)-1 && delayMS > 0 {
			select {
			case <-ctx.Done():
				// record the remaining recipients as not attempted
				for _, rest := range items[i+1:] {
					results = append(results, models.SplitExecutionResult{
						ID:               uuid.NewString(),
						ExecutionID:      executionID,
						RecipientAddress: rest.address,
						Amount:           rest.display,
						Status:           models.ResultStatusFailed,
						ErrorMessage:     "execution cancelled: " + ctx.Err().Error(),
						ProcessedAt:      time.Now().UTC(),
					})
					metrics.SplitTransfers.WithLabelValues(string(template.Chain), "failed").Inc()
				}
				return results
			case <-time.After(time.Duration(delayMS) * time.Millisecond):
			}
		}
	}
	return results
}

// dispatchBatch builds one multi-output transaction for UTXO chains: every
// recipient shares one tx hash and one outcome
func (s *SplitExecutionService) dispatchBatch(ctx context.Context, template *models.SplitTemplate, executionID, privateKey string, items []dispatchItem) []models.SplitExecutionResult {
	batchAdapter, err := s.registry.GetBatch(template.Chain)
	results := make([]models.SplitExecutionResult, 0, len(items))

	var txHash string
	if err == nil {
		recipients := make([]chains.Recipient, 0, len(items))
		for _, item := range items {
			recipients = append(recipients, chains.Recipient{Address: item.address, Amount: item.amount})
		}
		txHash, err = batchAdapter.ExecuteBatchTransfer(ctx, privateKey, recipients, template.Network)
	}

	processedAt := time.Now().UTC()
	for _, item := range items {
		result := models.SplitExecutionResult{
			ID:               uuid.NewString(),
			ExecutionID:      executionID,
			RecipientAddress: item.address,
			Amount:           item.display,
			ProcessedAt:      processedAt,
		}
		if err != nil {
			result.Status = models.ResultStatusFailed
			result.ErrorMessage = err.Error()
			metrics.SplitTransfers.WithLabelValues(string(template.Chain), "failed").Inc()
		} else {
			result.Status = models.ResultStatusSuccess
			result.TxHash = txHash
			metrics.SplitTransfers.WithLabelValues(string(template.Chain), "success").Inc()
		}
		results = append(results, result)
	}
	if err != nil {
		log.Printf("❌ [Split] Batch transfer failed for template %s: %v", template.ID, err)
	} else {
		log.Printf("✅ [Split] Batch transfer sent for template %s: txHash=%s recipients=%d", template.ID, txHash, len(items))
	}
	return results
}
