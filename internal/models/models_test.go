package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveExecutionStatus(t *testing.T) {
	tests := []struct {
		name         string
		successCount int
		failCount    int
		want         ExecutionStatus
	}{
		{"all succeeded", 5, 0, ExecutionStatusCompleted},
		{"all failed", 0, 5, ExecutionStatusFailed},
		{"mixed", 3, 2, ExecutionStatusPartiallyFailed},
		{"single success", 1, 0, ExecutionStatusCompleted},
		{"single failure", 0, 1, ExecutionStatusFailed},
		{"zero recipients degenerate", 0, 0, ExecutionStatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveExecutionStatus(tt.successCount, tt.failCount))
		})
	}
}

func TestPaymentStatusIsTerminal(t *testing.T) {
	assert.False(t, PaymentStatusPending.IsTerminal())
	assert.True(t, PaymentStatusCompleted.IsTerminal())
	assert.True(t, PaymentStatusCancelled.IsTerminal())
}

func TestChainIsValid(t *testing.T) {
	for _, chain := range AllChains {
		assert.True(t, chain.IsValid(), string(chain))
	}
	assert.False(t, Chain("dogecoin").IsValid())
	assert.False(t, Chain("").IsValid())
}

func TestNetworkIsValid(t *testing.T) {
	assert.True(t, NetworkMainnet.IsValid())
	assert.True(t, NetworkTestnet.IsValid())
	assert.False(t, Network("devnet").IsValid())
}
