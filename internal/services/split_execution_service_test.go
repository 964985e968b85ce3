package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"wallet-backend/internal/chains"
	"wallet-backend/internal/config"
	"wallet-backend/internal/models"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testPin = "123456"

func testUser(t *testing.T, totpSecret string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPin), bcrypt.MinCost)
	require.NoError(t, err)
	return &models.User{ID: "user-1", TransactionPinHash: string(hash), TOTPSecret: totpSecret}
}

func seedTemplate(t *testing.T, splits *fakeSplitRepo, chain models.Chain, recipientAmounts map[string]string) *models.SplitTemplate {
	t.Helper()
	now := time.Now().UTC()
	template := &models.SplitTemplate{
		ID:          "tpl-1",
		UserID:      "user-1",
		Chain:       chain,
		Network:     models.NetworkMainnet,
		FromAddress: "sender-address",
		TotalAmount: "1",
		Status:      models.SplitStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	recipients := make([]models.SplitRecipient, 0, len(recipientAmounts))
	for i := 1; ; i++ {
		address := fmt.Sprintf("recipient-%d", i)
		amount, ok := recipientAmounts[address]
		if !ok {
			break
		}
		recipients = append(recipients, models.SplitRecipient{
			ID:               fmt.Sprintf("rec-%d", i),
			SplitPaymentID:   template.ID,
			RecipientAddress: address,
			Amount:           amount,
			IsActive:         true,
			CreatedAt:        now,
		})
	}
	template.TotalRecipients = len(recipients)
	require.NoError(t, splits.CreateTemplate(context.Background(), template, recipients))
	return template
}

func newSplitService(t *testing.T, adapter chains.Adapter, user *models.User) (*SplitExecutionService, *fakeSplitRepo, *fakeSigner, *fakeNotifier) {
	t.Helper()
	splits := newFakeSplitRepo()
	users := &fakeUserRepo{users: map[string]*models.User{}}
	if user != nil {
		users.users[user.ID] = user
	}
	registry := chains.NewRegistry()
	registry.Register(adapter.Chain(), adapter)
	signer := &fakeSigner{}
	notifier := &fakeNotifier{}
	service := NewSplitExecutionService(splits, users, registry, signer, notifier)
	return service, splits, signer, notifier
}

func TestExecuteSplitSequentialSuccess(t *testing.T) {
	setServiceConfig(t, "ethereum")
	adapter := newFakeAdapter(models.ChainEthereum)
	adapter.balance = big.NewInt(0).Mul(big.NewInt(10), big.NewInt(1e18)) // 10 ETH
	service, splits, signer, notifier := newSplitService(t, adapter, testUser(t, ""))

	seedTemplate(t, splits, models.ChainEthereum, map[string]string{
		"recipient-1": "0.5",
		"recipient-2": "0.25",
		"recipient-3": "0.25",
	})

	execution, err := service.ExecuteSplit(context.Background(), "tpl-1", "user-1", testPin, "")
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, 3, execution.SuccessfulPayments)
	assert.Equal(t, 0, execution.FailedPayments)
	require.NotNil(t, execution.CompletedAt)

	// strict input order, one result per recipient
	assert.Equal(t, []string{"recipient-1", "recipient-2", "recipient-3"}, adapter.transfers())
	require.Len(t, execution.Results, 3)
	for i, result := range execution.Results {
		assert.Equal(t, fmt.Sprintf("recipient-%d", i+1), result.RecipientAddress)
		assert.Equal(t, models.ResultStatusSuccess, result.Status)
		assert.NotEmpty(t, result.TxHash)
	}

	assert.Equal(t, 1, signer.calls)
	assert.Equal(t, 1, splits.bumped["tpl-1"])

	events := notifier.published()
	require.Len(t, events, 1)
	assert.Equal(t, "split_executed", events[0].kind)
}

// one recipient's failure never stops the recipients after it
func TestExecuteSplitPerRecipientIndependence(t *testing.T) {
	setServiceConfig(t, "ethereum")
	adapter := newFakeAdapter(models.ChainEthereum)
	adapter.balance = big.NewInt(0).Mul(big.NewInt(10), big.NewInt(1e18))
	adapter.transferFn = func(toAddress string, amount *big.Int) (string, error) {
		if toAddress == "recipient-2" {
			return "", errors.New("broadcast rejected")
		}
		return "tx-" + toAddress, nil
	}
	service, splits, _, _ := newSplitService(t, adapter, testUser(t, ""))

	seedTemplate(t, splits, models.ChainEthereum, map[string]string{
		"recipient-1": "0.1",
		"recipient-2": "0.1",
		"recipient-3": "0.1",
	})

	execution, err := service.ExecuteSplit(context.Background(), "tpl-1", "user-1", testPin, "")
	require.NoError(t, err)

	// recipient-3 was still attempted after recipient-2 failed
	assert.Equal(t, []string{"recipient-1", "recipient-2", "recipient-3"}, adapter.transfers())
	assert.Equal(t, models.ExecutionStatusPartiallyFailed, execution.Status)
	assert.Equal(t, 2, execution.SuccessfulPayments)
	assert.Equal(t, 1, execution.FailedPayments)

	require.Len(t, execution.Results, 3)
	assert.Equal(t, models.ResultStatusSuccess, execution.Results[0].Status)
	assert.Equal(t, models.ResultStatusFailed, execution.Results[1].Status)
	assert.Contains(t, execution.Results[1].ErrorMessage, "broadcast rejected")
	assert.Equal(t, models.ResultStatusSuccess, execution.Results[2].Status)
}

func TestExecuteSplitAllTransfersFailed(t *testing.T) {
	setServiceConfig(t, "ethereum")
	adapter := newFakeAdapter(models.ChainEthereum)
	adapter.balance = big.NewInt(0).Mul(big.NewInt(10), big.NewInt(1e18))
	adapter.transferFn = func(toAddress string, amount *big.Int) (string, error) {
		return "", errors.New("node down")
	}
	service, splits, _, _ := newSplitService(t, adapter, testUser(t, ""))

	seedTemplate(t, splits, models.ChainEthereum, map[string]string{
		"recipient-1": "0.1",
		"recipient-2": "0.1",
	})

	execution, err := service.ExecuteSplit(context.Background(), "tpl-1", "user-1", testPin, "")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, 0, execution.SuccessfulPayments)
	assert.Equal(t, 2, execution.FailedPayments)
}

// the pre-flight gate aborts the whole run before anything is attempted: no
// transfers, no key decryption, no execution record
func TestExecuteSplitPreflightInsufficientBalance(t *testing.T) {
	setServiceConfig(t, "ethereum")
	adapter := newFakeAdapter(models.ChainEthereum)
	adapter.balance = big.NewInt(1) // 1 wei against a 0.2 ETH total
	adapter.fee = big.NewInt(21000)
	service, splits, signer, _ := newSplitService(t, adapter, testUser(t, ""))

	seedTemplate(t, splits, models.ChainEthereum, map[string]string{
		"recipient-1": "0.1",
		"recipient-2": "0.1",
	})

	_, err := service.ExecuteSplit(context.Background(), "tpl-1", "user-1", testPin, "")
	require.ErrorIs(t, err, ErrInsufficientSenderBalance)

	assert.Empty(t, adapter.transfers())
	assert.Equal(t, 0, signer.calls)
	assert.Equal(t, 0, splits.executionCount())
	assert.Equal(t, 0, splits.bumped["tpl-1"])
}

func TestExecuteSplitPinMismatch(t *testing.T) {
	setServiceConfig(t, "ethereum")
	adapter := newFakeAdapter(models.ChainEthereum)
	service, splits, signer, _ := newSplitService(t, adapter, testUser(t, ""))

	seedTemplate(t, splits, models.ChainEthereum, map[string]string{"recipient-1": "0.1"})

	_, err := service.ExecuteSplit(context.Background(), "tpl-1", "user-1", "000000", "")
	require.ErrorIs(t, err, ErrPinMismatch)
	assert.Empty(t, adapter.transfers())
	assert.Equal(t, 0, signer.calls)
}

func TestExecuteSplitTOTP(t *testing.T) {
	secret := "JBSWY3DPEHPK3PXP"

	t.Run("missing code rejected when enrolled", func(t *testing.T) {
		setServiceConfig(t, "ethereum")
		adapter := newFakeAdapter(models.ChainEthereum)
		service, splits, _, _ := newSplitService(t, adapter, testUser(t, secret))
		seedTemplate(t, splits, models.ChainEthereum, map[string]string{"recipient-1": "0.1"})

		_, err := service.ExecuteSplit(context.Background(), "tpl-1", "user-1", testPin, "")
		assert.ErrorIs(t, err, ErrTOTPMismatch)
	})

	t.Run("valid code accepted", func(t *testing.T) {
		setServiceConfig(t, "ethereum")
		adapter := newFakeAdapter(models.ChainEthereum)
		adapter.balance = big.NewInt(0).Mul(big.NewInt(10), big.NewInt(1e18))
		service, splits, _, _ := newSplitService(t, adapter, testUser(t, secret))
		seedTemplate(t, splits, models.ChainEthereum, map[string]string{"recipient-1": "0.1"})

		code, err := totp.GenerateCode(secret, time.Now())
		require.NoError(t, err)

		execution, err := service.ExecuteSplit(context.Background(), "tpl-1", "user-1", testPin, code)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	})
}

func TestExecuteSplitOwnershipAndState(t *testing.T) {
	setServiceConfig(t, "ethereum")
	adapter := newFakeAdapter(models.ChainEthereum)
	service, splits, _, _ := newSplitService(t, adapter, testUser(t, ""))
	seedTemplate(t, splits, models.ChainEthereum, map[string]string{"recipient-1": "0.1"})

	t.Run("foreign user", func(t *testing.T) {
		_, err := service.ExecuteSplit(context.Background(), "tpl-1", "someone-else", testPin, "")
		assert.ErrorIs(t, err, ErrNotTemplateOwner)
	})

	t.Run("inactive template", func(t *testing.T) {
		require.NoError(t, splits.SetTemplateStatus(context.Background(), "tpl-1", models.SplitStatusInactive))
		_, err := service.ExecuteSplit(context.Background(), "tpl-1", "user-1", testPin, "")
		assert.ErrorIs(t, err, ErrTemplateInactive)
		require.NoError(t, splits.SetTemplateStatus(context.Background(), "tpl-1", models.SplitStatusActive))
	})

	t.Run("no active recipients", func(t *testing.T) {
		require.NoError(t, splits.SetRecipientActive(context.Background(), "rec-1", false))
		_, err := service.ExecuteSplit(context.Background(), "tpl-1", "user-1", testPin, "")
		assert.ErrorIs(t, err, ErrNoActiveRecipients)
	})
}

// a deactivated recipient is excluded from the snapshot; the others still run
func TestExecuteSplitSkipsInactiveRecipients(t *testing.T) {
	setServiceConfig(t, "ethereum")
	adapter := newFakeAdapter(models.ChainEthereum)
	adapter.balance = big.NewInt(0).Mul(big.NewInt(10), big.NewInt(1e18))
	service, splits, _, _ := newSplitService(t, adapter, testUser(t, ""))

	seedTemplate(t, splits, models.ChainEthereum, map[string]string{
		"recipient-1": "0.1",
		"recipient-2": "0.1",
		"recipient-3": "0.1",
	})
	require.NoError(t, splits.SetRecipientActive(context.Background(), "rec-2", false))

	execution, err := service.ExecuteSplit(context.Background(), "tpl-1", "user-1", testPin, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"recipient-1", "recipient-3"}, adapter.transfers())
	assert.Equal(t, 2, execution.TotalRecipients)
	assert.Equal(t, 2, execution.SuccessfulPayments)
}

func TestExecuteSplitBatchSharedOutcome(t *testing.T) {
	setServiceConfig(t, "bitcoin")

	t.Run("success shares one tx hash", func(t *testing.T) {
		base := newFakeAdapter(models.ChainBitcoin)
		adapter := &fakeBatchAdapter{fakeAdapter: base, batchFn: func(recipients []chains.Recipient) (string, error) {
			return "batch-txid", nil
		}}
		service, splits, _, _ := newSplitService(t, adapter, testUser(t, ""))
		seedTemplate(t, splits, models.ChainBitcoin, map[string]string{
			"recipient-1": "0.0001",
			"recipient-2": "0.0002",
		})

		execution, err := service.ExecuteSplit(context.Background(), "tpl-1", "user-1", testPin, "")
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
		require.Len(t, execution.Results, 2)
		for _, result := range execution.Results {
			assert.Equal(t, "batch-txid", result.TxHash)
			assert.Equal(t, models.ResultStatusSuccess, result.Status)
		}
		// the per-recipient path was never used
		assert.Empty(t, base.transfers())
	})

	t.Run("failure fails every recipient at once", func(t *testing.T) {
		base := newFakeAdapter(models.ChainBitcoin)
		adapter := &fakeBatchAdapter{fakeAdapter: base, batchFn: func(recipients []chains.Recipient) (string, error) {
			return "", errors.New("tx rejected")
		}}
		service, splits, _, _ := newSplitService(t, adapter, testUser(t, ""))
		seedTemplate(t, splits, models.ChainBitcoin, map[string]string{
			"recipient-1": "0.0001",
			"recipient-2": "0.0002",
		})

		execution, err := service.ExecuteSplit(context.Background(), "tpl-1", "user-1", testPin, "")
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
		require.Len(t, execution.Results, 2)
		for _, result := range execution.Results {
			assert.Equal(t, models.ResultStatusFailed, result.Status)
			assert.Contains(t, result.ErrorMessage, "tx rejected")
		}
	})
}

func TestExecuteSplitPinBypassConfig(t *testing.T) {
	setServiceConfig(t, "ethereum")
	config.AppConfig.Split.BypassPinCheck = true

	adapter := newFakeAdapter(models.ChainEthereum)
	adapter.balance = big.NewInt(0).Mul(big.NewInt(10), big.NewInt(1e18))
	// no user record at all: the bypass must skip the lookup entirely
	service, splits, _, _ := newSplitService(t, adapter, nil)
	seedTemplate(t, splits, models.ChainEthereum, map[string]string{"recipient-1": "0.1"})

	execution, err := service.ExecuteSplit(context.Background(), "tpl-1", "user-1", "whatever", "")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
}
