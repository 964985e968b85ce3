package services

import (
	"context"
	"testing"

	"wallet-backend/internal/chains"
	"wallet-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTemplateFixture(t *testing.T, chain models.Chain) (*SplitTemplateService, *fakeSplitRepo) {
	t.Helper()
	splits := newFakeSplitRepo()
	registry := chains.NewRegistry()
	registry.Register(chain, newFakeAdapter(chain))
	return NewSplitTemplateService(splits, registry), splits
}

func TestCreateTemplateRecomputesTotal(t *testing.T) {
	service, _ := newTemplateFixture(t, models.ChainEthereum)

	template, err := service.CreateTemplate(context.Background(), "user-1",
		models.ChainEthereum, models.NetworkMainnet, "sender", []RecipientInput{
			{Address: "alice", Amount: "0.1"},
			{Address: "bob", Amount: "0.2"},
			{Address: "carol", Amount: "0.3"},
		})
	require.NoError(t, err)

	assert.Equal(t, "0.6", template.TotalAmount)
	assert.Equal(t, 3, template.TotalRecipients)
	assert.Equal(t, models.SplitStatusActive, template.Status)
	require.Len(t, template.Recipients, 3)
	for _, recipient := range template.Recipients {
		assert.True(t, recipient.IsActive)
	}
}

func TestCreateTemplateValidation(t *testing.T) {
	service, _ := newTemplateFixture(t, models.ChainEthereum)
	ctx := context.Background()

	_, err := service.CreateTemplate(ctx, "user-1", models.Chain("nope"), models.NetworkMainnet, "sender", []RecipientInput{{Address: "a", Amount: "1"}})
	assert.ErrorIs(t, err, ErrInvalidChain)

	_, err = service.CreateTemplate(ctx, "user-1", models.ChainEthereum, models.NetworkMainnet, "sender", nil)
	assert.ErrorIs(t, err, ErrNoRecipients)

	_, err = service.CreateTemplate(ctx, "user-1", models.ChainEthereum, models.NetworkMainnet, "", []RecipientInput{{Address: "a", Amount: "1"}})
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = service.CreateTemplate(ctx, "user-1", models.ChainEthereum, models.NetworkMainnet, "sender", []RecipientInput{{Address: "", Amount: "1"}})
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = service.CreateTemplate(ctx, "user-1", models.ChainEthereum, models.NetworkMainnet, "sender", []RecipientInput{{Address: "a", Amount: "bogus"}})
	assert.Error(t, err)
}

// bitcoin recipients below the dust threshold are rejected at creation, long
// before any execution can fail on them
func TestCreateTemplateBitcoinDustGate(t *testing.T) {
	service, _ := newTemplateFixture(t, models.ChainBitcoin)
	ctx := context.Background()

	_, err := service.CreateTemplate(ctx, "user-1", models.ChainBitcoin, models.NetworkMainnet, "sender",
		[]RecipientInput{{Address: "a", Amount: "0.00000545"}}) // 545 sat
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dust")

	template, err := service.CreateTemplate(ctx, "user-1", models.ChainBitcoin, models.NetworkMainnet, "sender",
		[]RecipientInput{{Address: "a", Amount: "0.00000546"}}) // exactly at the floor
	require.NoError(t, err)
	assert.Equal(t, 1, template.TotalRecipients)
}

func TestToggleTemplate(t *testing.T) {
	service, _ := newTemplateFixture(t, models.ChainEthereum)

	template, err := service.CreateTemplate(context.Background(), "user-1",
		models.ChainEthereum, models.NetworkMainnet, "sender", []RecipientInput{{Address: "a", Amount: "1"}})
	require.NoError(t, err)

	status, err := service.ToggleTemplate(context.Background(), template.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.SplitStatusInactive, status)

	status, err = service.ToggleTemplate(context.Background(), template.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.SplitStatusActive, status)

	_, err = service.ToggleTemplate(context.Background(), template.ID, "user-2")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestToggleRecipient(t *testing.T) {
	service, splits := newTemplateFixture(t, models.ChainEthereum)

	template, err := service.CreateTemplate(context.Background(), "user-1",
		models.ChainEthereum, models.NetworkMainnet, "sender", []RecipientInput{
			{Address: "a", Amount: "1"},
			{Address: "b", Amount: "2"},
		})
	require.NoError(t, err)
	recipientID := template.Recipients[0].ID

	active, err := service.ToggleRecipient(context.Background(), template.ID, recipientID, "user-1")
	require.NoError(t, err)
	assert.False(t, active)

	remaining, err := splits.ActiveRecipients(context.Background(), template.ID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "b", remaining[0].RecipientAddress)

	_, err = service.ToggleRecipient(context.Background(), template.ID, "unknown", "user-1")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
