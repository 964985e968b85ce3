package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	Server   ServerConfig           `yaml:"server"`
	Database DatabaseConfig         `yaml:"database"`
	NATS     NATSConfig             `yaml:"nats"`
	JWT      JWTConfig              `yaml:"jwt"`
	Signer   SignerConfig           `yaml:"signer"`
	Monitor  MonitorConfig          `yaml:"monitor"`
	Split    SplitConfig            `yaml:"split"`
	CORS     CORSConfig             `yaml:"cors"`
	Chains   map[string]ChainConfig `yaml:"chains"` // keyed by chain name (ethereum, bitcoin, ...)
}

// ServerConfig server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig database configuration
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// NATSConfig NATS message server configuration
type NATSConfig struct {
	URL           string `yaml:"url"`
	Timeout       int    `yaml:"timeout"`
	ReconnectWait int    `yaml:"reconnect_wait"`
	MaxReconnects int    `yaml:"max_reconnects"`
}

// JWTConfig JWT auth configuration
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// SignerConfig signing service configuration (opaque key decryption)
type SignerConfig struct {
	ServiceURL string `yaml:"serviceUrl"`
	AuthToken  string `yaml:"authToken"`
	Timeout    int    `yaml:"timeout"` // seconds
}

// MonitorConfig payment monitor configuration
type MonitorConfig struct {
	IntervalSeconds int `yaml:"intervalSeconds"` // per-intent check interval, default 30
}

// SplitConfig split execution configuration
type SplitConfig struct {
	BypassPinCheck bool `yaml:"bypassPinCheck"` // test/staging only
}

// CORSConfig CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge"`
}

// ChainConfig per-chain configuration
type ChainConfig struct {
	Enabled  bool                          `yaml:"enabled"`
	Networks map[string]ChainNetworkConfig `yaml:"networks"` // mainnet / testnet
}

// ChainNetworkConfig per-network endpoints and tuning for one chain
type ChainNetworkConfig struct {
	ChainID             int64    `yaml:"chainId"`      // EVM chains
	RPCEndpoints        []string `yaml:"rpcEndpoints"` // tried in order on failure
	ExplorerURL         string   `yaml:"explorerUrl"`  // etherscan / blockstream / horizon / voyager base
	ExplorerAPIKey      string   `yaml:"explorerApiKey"`
	FallbackExplorerURL string   `yaml:"fallbackExplorerUrl"` // starkscan / subscan
	FallbackAPIKey      string   `yaml:"fallbackApiKey"`
	TokenContracts      []string `yaml:"tokenContracts"` // ERC-20 / Starknet token contract addresses
	InterTxDelayMS      int      `yaml:"interTxDelayMs"` // pause between sequential split transfers
	RequestTimeoutSec   int      `yaml:"requestTimeoutSec"`

	// Polkadot recent-block scan bounds
	ScanBlockWindow  int `yaml:"scanBlockWindow"`  // default 64
	ScanDeadlineSec  int `yaml:"scanDeadlineSec"`  // default 8
	ScanConcurrency  int `yaml:"scanConcurrency"`  // default 8
	SS58Prefix       int `yaml:"ss58Prefix"`       // 0 mainnet, 42 westend
	AccountAddress   string `yaml:"accountAddress"` // Starknet account contract for outbound transfers
}

var AppConfig *Config

// LoadConfig loads configuration from a YAML file and applies env overrides
func LoadConfig(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
			log.Printf("🔧 Using local configuration file: config.local.yaml")
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	overrideFromEnv(&config)
	applyDefaults(&config)

	log.Printf("✅ Configuration loaded from %s (%d chains configured)", configPath, len(config.Chains))
	AppConfig = &config
	return nil
}

// overrideFromEnv applies environment variable overrides on top of the YAML config
func overrideFromEnv(config *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.JWT.Secret = secret
	}
	if signerURL := os.Getenv("SIGNER_SERVICE_URL"); signerURL != "" {
		config.Signer.ServiceURL = signerURL
	}
	if signerToken := os.Getenv("SIGNER_AUTH_TOKEN"); signerToken != "" {
		config.Signer.AuthToken = signerToken
	}
	if interval := os.Getenv("MONITOR_INTERVAL_SECONDS"); interval != "" {
		if v, err := strconv.Atoi(interval); err == nil {
			config.Monitor.IntervalSeconds = v
		}
	}
	if bypass := os.Getenv("SPLIT_BYPASS_PIN_CHECK"); bypass != "" {
		config.Split.BypassPinCheck = bypass == "true"
	}

	// Per-chain overrides: <CHAIN>_RPC_ENDPOINTS, <CHAIN>_EXPLORER_API_KEY apply to
	// the mainnet network of that chain.
	for chainName, chainConfig := range config.Chains {
		upper := strings.ToUpper(chainName)
		network, ok := chainConfig.Networks["mainnet"]
		if !ok {
			continue
		}
		if endpoints := os.Getenv(upper + "_RPC_ENDPOINTS"); endpoints != "" {
			network.RPCEndpoints = strings.Split(endpoints, ",")
		}
		if apiKey := os.Getenv(upper + "_EXPLORER_API_KEY"); apiKey != "" {
			network.ExplorerAPIKey = apiKey
		}
		if apiKey := os.Getenv(upper + "_FALLBACK_API_KEY"); apiKey != "" {
			network.FallbackAPIKey = apiKey
		}
		chainConfig.Networks["mainnet"] = network
		config.Chains[chainName] = chainConfig
	}
}

// applyDefaults fills tuning values the YAML omitted
func applyDefaults(config *Config) {
	if config.Monitor.IntervalSeconds <= 0 {
		config.Monitor.IntervalSeconds = 30
	}
	for chainName, chainConfig := range config.Chains {
		for networkName, network := range chainConfig.Networks {
			if network.RequestTimeoutSec <= 0 {
				network.RequestTimeoutSec = 15
			}
			if network.ScanBlockWindow <= 0 {
				network.ScanBlockWindow = 64
			}
			if network.ScanDeadlineSec <= 0 {
				network.ScanDeadlineSec = 8
			}
			if network.ScanConcurrency <= 0 {
				network.ScanConcurrency = 8
			}
			chainConfig.Networks[networkName] = network
		}
		config.Chains[chainName] = chainConfig
	}
}

// GetChainNetworkConfig returns the configuration for one chain+network,
// enforcing the enabled flag
func GetChainNetworkConfig(chain, network string) (*ChainNetworkConfig, error) {
	if AppConfig == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	chainConfig, exists := AppConfig.Chains[chain]
	if !exists {
		return nil, fmt.Errorf("chain %s not found in config", chain)
	}
	if !chainConfig.Enabled {
		return nil, fmt.Errorf("chain %s is disabled", chain)
	}
	networkConfig, exists := chainConfig.Networks[network]
	if !exists {
		return nil, fmt.Errorf("network %s not configured for chain %s", network, chain)
	}
	return &networkConfig, nil
}
