package chains

import (
	"testing"

	"wallet-backend/internal/config"
)

// setChainConfig installs a single-chain mainnet config for the duration of one
// test, restoring whatever was there before.
func setChainConfig(t *testing.T, chain string, network config.ChainNetworkConfig) {
	t.Helper()
	previous := config.AppConfig
	config.AppConfig = &config.Config{
		Chains: map[string]config.ChainConfig{
			chain: {
				Enabled:  true,
				Networks: map[string]config.ChainNetworkConfig{"mainnet": network},
			},
		},
	}
	t.Cleanup(func() { config.AppConfig = previous })
}
