package services

import (
	"context"
	"testing"
	"time"

	"wallet-backend/internal/chains"
	"wallet-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMonitorFixture(t *testing.T, confirmed bool) (*PaymentMonitorService, *fakePaymentRepo, *fakeAdapter) {
	t.Helper()
	payments := newFakePaymentRepo()
	adapter := newFakeAdapter(models.ChainEthereum)
	if confirmed {
		adapter.confirmation = chains.Confirmation{Confirmed: true, TxHash: "0xabc", Confirmations: 5}
	}
	registry := chains.NewRegistry()
	registry.Register(models.ChainEthereum, adapter)
	confirmation := NewConfirmationService(payments, newFakeLedgerRepo(), registry, nil)
	monitor := NewPaymentMonitorService(confirmation, payments, 1)
	t.Cleanup(monitor.Stop)
	return monitor, payments, adapter
}

func TestStartMonitoringIdempotent(t *testing.T) {
	monitor, payments, _ := newMonitorFixture(t, false)
	seedIntent(t, payments, models.PaymentStatusPending)

	monitor.StartMonitoring("pay-1")
	monitor.StartMonitoring("pay-1")
	monitor.StartMonitoring("pay-1")

	assert.Equal(t, 1, monitor.ActiveCount())

	monitor.StopMonitoring("pay-1")
	assert.Equal(t, 0, monitor.ActiveCount())
	// stopping an unmonitored intent is a no-op
	monitor.StopMonitoring("pay-1")
	assert.Equal(t, 0, monitor.ActiveCount())
}

// a timer tears itself down once the intent reaches a terminal state
func TestMonitorRemovesItselfOnCompletion(t *testing.T) {
	monitor, payments, _ := newMonitorFixture(t, true)
	seedIntent(t, payments, models.PaymentStatusPending)

	monitor.StartMonitoring("pay-1")

	require.Eventually(t, func() bool {
		return monitor.ActiveCount() == 0
	}, 2*time.Second, 10*time.Millisecond, "monitor should remove itself after the immediate check completes the intent")

	stored, err := payments.GetByID(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, stored.Status)
}

func TestMonitorStaysArmedWhileUnconfirmed(t *testing.T) {
	monitor, payments, adapter := newMonitorFixture(t, false)
	seedIntent(t, payments, models.PaymentStatusPending)

	monitor.StartMonitoring("pay-1")

	// the immediate check runs but finds nothing; the timer stays armed
	require.Eventually(t, func() bool {
		return adapter.findCallCount() >= 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, monitor.ActiveCount())
}

func TestRecoverPendingArmsAllPendingIntents(t *testing.T) {
	monitor, payments, _ := newMonitorFixture(t, false)

	require.NoError(t, payments.Create(context.Background(), &models.PaymentIntent{
		ID: "pay-a", UserID: "user-1", Chain: models.ChainEthereum, Network: models.NetworkMainnet,
		Address: "0x8ba1f109551bd432803012645ac136ddd64dba72", Amount: "1", Status: models.PaymentStatusPending,
	}))
	require.NoError(t, payments.Create(context.Background(), &models.PaymentIntent{
		ID: "pay-b", UserID: "user-1", Chain: models.ChainEthereum, Network: models.NetworkMainnet,
		Address: "0x8ba1f109551bd432803012645ac136ddd64dba72", Amount: "2", Status: models.PaymentStatusPending,
	}))
	require.NoError(t, payments.Create(context.Background(), &models.PaymentIntent{
		ID: "pay-done", UserID: "user-1", Chain: models.ChainEthereum, Network: models.NetworkMainnet,
		Address: "0x8ba1f109551bd432803012645ac136ddd64dba72", Amount: "3", Status: models.PaymentStatusCompleted,
	}))

	require.NoError(t, monitor.RecoverPending(context.Background()))
	assert.Equal(t, 2, monitor.ActiveCount())
}
