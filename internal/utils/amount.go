package utils

import (
	"fmt"
	"math/big"
	"strings"

	"wallet-backend/internal/models"
)

// ChainDecimals smallest-unit exponent per chain (wei, sat, lamport, stroop, planck, fri)
var ChainDecimals = map[models.Chain]int{
	models.ChainEthereum: 18,
	models.ChainERC20:    6, // USDT/USDC default; overridable per token in config
	models.ChainBNB:      18,
	models.ChainBitcoin:  8,
	models.ChainSolana:   9,
	models.ChainStellar:  7,
	models.ChainPolkadot: 10,
	models.ChainStarknet: 18,
}

// DecimalsFor returns the smallest-unit exponent for a chain
func DecimalsFor(chain models.Chain) int {
	if d, ok := ChainDecimals[chain]; ok {
		return d
	}
	return 18
}

// ToSmallestUnit converts a fixed-precision decimal string ("0.001") to integer
// smallest units. All amount arithmetic happens on these integers; floats never
// touch money.
func ToSmallestUnit(amount string, decimals int) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("empty amount")
	}
	neg := strings.HasPrefix(amount, "-")
	if neg {
		return nil, fmt.Errorf("negative amount: %s", amount)
	}

	intPart := amount
	fracPart := ""
	if idx := strings.Index(amount, "."); idx >= 0 {
		intPart = amount[:idx]
		fracPart = amount[idx+1:]
	}
	if intPart == "" {
		intPart = "0"
	}
	if len(fracPart) > decimals {
		return nil, fmt.Errorf("amount %s exceeds %d decimal places", amount, decimals)
	}
	fracPart += strings.Repeat("0", decimals-len(fracPart))

	combined := intPart + fracPart
	value, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", amount)
	}
	return value, nil
}

// FromSmallestUnit converts integer smallest units back to a decimal string for
// display/persistence. Trailing zeros in the fraction are trimmed.
func FromSmallestUnit(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}
	s := value.String()
	if decimals == 0 {
		return s
	}
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	intPart := s[:len(s)-decimals]
	fracPart := strings.TrimRight(s[len(s)-decimals:], "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}

// MeetsExpectedWithTolerance reports whether actual satisfies expected given an
// allowed shortfall in percent. tolerancePct=1 accepts actual >= 99% of expected;
// overpayment always satisfies. Comparison is exact integer math so the boundary
// (actual*100 == expected*(100-pct)) confirms and one unit less does not.
func MeetsExpectedWithTolerance(actual, expected *big.Int, tolerancePct int64) bool {
	if actual == nil || expected == nil {
		return false
	}
	lhs := new(big.Int).Mul(actual, big.NewInt(100))
	rhs := new(big.Int).Mul(expected, big.NewInt(100-tolerancePct))
	return lhs.Cmp(rhs) >= 0
}

// SumAmounts adds fixed-precision decimal strings in smallest units and returns the
// total as a decimal string. Used to recompute SplitTemplate.TotalAmount.
func SumAmounts(amounts []string, decimals int) (string, error) {
	total := new(big.Int)
	for _, a := range amounts {
		v, err := ToSmallestUnit(a, decimals)
		if err != nil {
			return "", err
		}
		total.Add(total, v)
	}
	return FromSmallestUnit(total, decimals), nil
}
