package utils

import (
	"math/big"
	"testing"

	"wallet-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToSmallestUnit(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals int
		want     string
		wantErr  bool
	}{
		{"one eth", "1", 18, "1000000000000000000", false},
		{"fraction", "0.001", 18, "1000000000000000", false},
		{"btc dust boundary", "0.00000546", 8, "546", false},
		{"full precision", "1.23456789", 8, "123456789", false},
		{"trailing dot", "5.", 8, "500000000", false},
		{"leading dot", ".5", 8, "50000000", false},
		{"zero", "0", 8, "0", false},
		{"too many decimals", "0.000000001", 8, "", true},
		{"negative", "-1", 8, "", true},
		{"empty", "", 8, "", true},
		{"garbage", "abc", 8, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToSmallestUnit(tt.amount, tt.decimals)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestFromSmallestUnit(t *testing.T) {
	assert.Equal(t, "1", FromSmallestUnit(big.NewInt(1000000000000000000), 18))
	assert.Equal(t, "0.001", FromSmallestUnit(big.NewInt(1000000000000000), 18))
	assert.Equal(t, "0.00000546", FromSmallestUnit(big.NewInt(546), 8))
	assert.Equal(t, "0", FromSmallestUnit(big.NewInt(0), 8))
	assert.Equal(t, "0", FromSmallestUnit(nil, 8))
}

func TestRoundTrip(t *testing.T) {
	for _, amount := range []string{"1", "0.001", "123.456", "0.00000546"} {
		v, err := ToSmallestUnit(amount, 8)
		require.NoError(t, err)
		assert.Equal(t, amount, FromSmallestUnit(v, 8))
	}
}

func TestMeetsExpectedWithTolerance(t *testing.T) {
	expected := big.NewInt(10000)
	tests := []struct {
		name         string
		actual       int64
		tolerancePct int64
		want         bool
	}{
		{"exact", 10000, 1, true},
		{"overpayment", 20000, 1, true},
		{"exactly 99 percent", 9900, 1, true},
		{"one unit under the boundary", 9899, 1, false},
		{"zero tolerance exact", 10000, 0, true},
		{"zero tolerance one under", 9999, 0, false},
		{"zero actual", 0, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MeetsExpectedWithTolerance(big.NewInt(tt.actual), expected, tt.tolerancePct))
		})
	}
	assert.False(t, MeetsExpectedWithTolerance(nil, expected, 1))
	assert.False(t, MeetsExpectedWithTolerance(big.NewInt(1), nil, 1))
}

// the boundary must hold on amounts far beyond int64 too
func TestMeetsExpectedWithToleranceBigValues(t *testing.T) {
	expected, ok := new(big.Int).SetString("1000000000000000000000000", 10) // 1M tokens at 18 decimals
	require.True(t, ok)
	boundary := new(big.Int).Mul(expected, big.NewInt(99))
	boundary.Div(boundary, big.NewInt(100))

	assert.True(t, MeetsExpectedWithTolerance(boundary, expected, 1))
	under := new(big.Int).Sub(boundary, big.NewInt(1))
	assert.False(t, MeetsExpectedWithTolerance(under, expected, 1))
}

func TestSumAmounts(t *testing.T) {
	total, err := SumAmounts([]string{"0.1", "0.2", "0.3"}, 8)
	require.NoError(t, err)
	assert.Equal(t, "0.6", total)

	_, err = SumAmounts([]string{"0.1", "bad"}, 8)
	assert.Error(t, err)
}

func TestDecimalsFor(t *testing.T) {
	assert.Equal(t, 18, DecimalsFor(models.ChainEthereum))
	assert.Equal(t, 8, DecimalsFor(models.ChainBitcoin))
	assert.Equal(t, 9, DecimalsFor(models.ChainSolana))
	assert.Equal(t, 7, DecimalsFor(models.ChainStellar))
	assert.Equal(t, 10, DecimalsFor(models.ChainPolkadot))
	assert.Equal(t, 18, DecimalsFor(models.Chain("unknown")))
}
