package utils

import (
	"regexp"
	"strings"
)

var (
	evmAddressPattern      = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	btcBase58Pattern       = regexp.MustCompile(`^[13mn2][a-km-zA-HJ-NP-Z1-9]{25,34}$`)
	btcBech32Pattern       = regexp.MustCompile(`^(bc1|tb1)[ac-hj-np-z02-9]{11,71}$`)
	solanaBase58Pattern    = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
	stellarAccountPattern  = regexp.MustCompile(`^G[A-Z2-7]{55}$`)
	polkadotSS58Pattern    = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{46,48}$`)
	starknetAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{1,64}$`)
)

// IsEvmAddress check 0x-prefixed 20-byte address
func IsEvmAddress(address string) bool {
	return evmAddressPattern.MatchString(address)
}

// IsBitcoinAddress check base58 (P2PKH/P2SH) or bech32 address, mainnet or testnet
func IsBitcoinAddress(address string) bool {
	return btcBase58Pattern.MatchString(address) || btcBech32Pattern.MatchString(strings.ToLower(address))
}

// IsSolanaAddress check base58-encoded 32-byte public key
func IsSolanaAddress(address string) bool {
	return solanaBase58Pattern.MatchString(address)
}

// IsStellarAddress check Stellar account ID (G + 55 base32 chars)
func IsStellarAddress(address string) bool {
	return stellarAccountPattern.MatchString(address)
}

// IsPolkadotAddress check SS58-encoded address
func IsPolkadotAddress(address string) bool {
	return polkadotSS58Pattern.MatchString(address)
}

// IsStarknetAddress check 0x-prefixed felt address. Accepts unpadded forms; callers
// must normalize with NormalizeStarknetAddress before any comparison or lookup.
func IsStarknetAddress(address string) bool {
	if !starknetAddressPattern.MatchString(address) {
		return false
	}
	// must fit in 64 hex digits but be long enough to be an account, not a felt literal
	return len(address) >= 2+50 && len(address) <= 2+64
}

// NormalizeStarknetAddress zero-pads a Starknet address to exactly 0x + 64 lowercase
// hex digits. Unpadded Starknet addresses are a known bug source: explorers and
// wallets drop leading zeros inconsistently, so every comparison goes through here.
func NormalizeStarknetAddress(address string) string {
	hexPart := strings.TrimPrefix(strings.ToLower(address), "0x")
	if len(hexPart) > 64 {
		hexPart = hexPart[len(hexPart)-64:]
	}
	return "0x" + strings.Repeat("0", 64-len(hexPart)) + hexPart
}

// StarknetAddressesEqual compares two Starknet addresses after padding normalization
func StarknetAddressesEqual(a, b string) bool {
	return NormalizeStarknetAddress(a) == NormalizeStarknetAddress(b)
}

// NormalizeEvmAddress lowercases and 0x-prefixes an EVM address
func NormalizeEvmAddress(address string) string {
	addr := strings.ToLower(address)
	if !strings.HasPrefix(addr, "0x") {
		addr = "0x" + addr
	}
	return addr
}
