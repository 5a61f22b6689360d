// Copyright 2025 Jinn Network
//
// Package config loads worker configuration from named environment
// variables into a flat struct, the same shape as the teacher's
// pkg/config/config.go: no defaults for secrets and an explicit Validate
// pass. No configuration file is read; list-valued settings are
// comma-separated environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the worker process.
//
// CRITICAL: only the variable names documented below are read. There are no
// silent aliases; operators who set ETHEREUM_RPC_URL instead of
// ETHEREUM_URL will see an explicit Validate() error, not silent fallback.
type Config struct {
	// Chain (C4)
	EthereumURL        string // ETHEREUM_URL
	EthChainID         int64  // ETH_CHAIN_ID
	EthPrivateKeyPath  string // ETH_PRIVATE_KEY_PATH — path to the encrypted keystore (spec §4.1)
	KeystorePassphrase string // KEYSTORE_PASSPHRASE — decrypts EthPrivateKeyPath (spec §4.1)
	ServiceID          int64  // SERVICE_ID
	MarketplaceAddress string // MARKETPLACE_ADDRESS
	RegistryAddress    string // SERVICE_REGISTRY_ADDRESS
	StakingAddress     string // STAKING_ADDRESS
	SafeAddress        string // SAFE_ADDRESS — the owning service's Safe multisig
	MechAddress        string // MECH_ADDRESS — this operator's own mech
	// SafeConfirmations and EOAConfirmations are read (default 1) but not
	// consulted by pkg/chain: every submission waits until its transaction
	// is mined and returns the receipt, whatever these values are.
	SafeConfirmations int // SAFE_CONFIRMATIONS (§9 open question)
	EOAConfirmations  int // EOA_CONFIRMATIONS

	// Indexer (C5/C6)
	IndexerURL string // INDEXER_URL (GraphQL endpoint)

	// Content store (C2)
	IPFSGatewayURL  string        // IPFS_GATEWAY_URL
	BlockstorePath  string        // BLOCKSTORE_PATH
	GatewayTimeout  time.Duration // derived, not an env var: fixed at 10s per spec §5
	GatewayMaxRetry int           // fixed at 3 per spec §4.2

	// Peer overlay (C3)
	ListenMultiaddr  string   // P2P_LISTEN_MULTIADDR
	TrustedPeerIDs   []string // TRUSTED_PEER_IDS (comma separated)
	StakeCacheTTL    time.Duration // fixed at 5m per spec §4.3

	// Credential broker
	CredentialBrokerURL string // CREDENTIAL_BROKER_URL

	// Local ledger (database)
	DatabaseURL string // DATABASE_URL (postgres DSN); empty disables persistence

	// Server
	HealthAddr  string // HEALTH_ADDR (default ":8080")
	MetricsAddr string // METRICS_ADDR (default ":9090")

	// Claim loop (C5)
	TickInterval time.Duration // TICK_INTERVAL_SECONDS, default 5s
	InFlightCap  int           // IN_FLIGHT_CAP, default 1

	// Git sub-pipeline (C7)
	WorkspacePath string // WORKSPACE_PATH
	SSHHostAlias  string // SSH_HOST_ALIAS (optional rewrite, spec §4.6)

	// Agent
	AgentWallClockTimeout time.Duration // AGENT_TIMEOUT_SECONDS, default 600s
	AgentBinary           string        // AGENT_BINARY
	ReflectionEnabled     bool          // REFLECTION_ENABLED, default true

	// AvailableTools is this worker's own tool registry (spec §4.6 step 4:
	// "required tools are missing from the worker's registry"); comma
	// separated in AVAILABLE_TOOLS.
	AvailableTools []string

	LogLevel string // LOG_LEVEL
}

// Load reads configuration from environment variables. Call Validate after
// Load to ensure required configuration is present — Load itself never
// fails on a missing secret so that partial configs can still be inspected;
// it fails only on a malformed ETH_CHAIN_ID or SERVICE_ID.
func Load() (*Config, error) {
	cfg := &Config{
		EthereumURL:         os.Getenv("ETHEREUM_URL"),
		EthPrivateKeyPath:   os.Getenv("ETH_PRIVATE_KEY_PATH"),
		KeystorePassphrase:  os.Getenv("KEYSTORE_PASSPHRASE"),
		MarketplaceAddress:  os.Getenv("MARKETPLACE_ADDRESS"),
		RegistryAddress:     os.Getenv("SERVICE_REGISTRY_ADDRESS"),
		StakingAddress:      os.Getenv("STAKING_ADDRESS"),
		SafeAddress:         os.Getenv("SAFE_ADDRESS"),
		MechAddress:         os.Getenv("MECH_ADDRESS"),
		IndexerURL:          os.Getenv("INDEXER_URL"),
		IPFSGatewayURL:      os.Getenv("IPFS_GATEWAY_URL"),
		BlockstorePath:      envOr("BLOCKSTORE_PATH", "./data/blockstore"),
		GatewayTimeout:      10 * time.Second,
		GatewayMaxRetry:     3,
		ListenMultiaddr:     envOr("P2P_LISTEN_MULTIADDR", "/ip4/0.0.0.0/tcp/4001"),
		StakeCacheTTL:       5 * time.Minute,
		CredentialBrokerURL: os.Getenv("CREDENTIAL_BROKER_URL"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		HealthAddr:          envOr("HEALTH_ADDR", ":8080"),
		MetricsAddr:         envOr("METRICS_ADDR", ":9090"),
		WorkspacePath:       envOr("WORKSPACE_PATH", "./data/workspace"),
		SSHHostAlias:        os.Getenv("SSH_HOST_ALIAS"),
		AgentBinary:         os.Getenv("AGENT_BINARY"),
		LogLevel:            envOr("LOG_LEVEL", "info"),
	}

	if v := os.Getenv("ETH_CHAIN_ID"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ETH_CHAIN_ID: %w", err)
		}
		cfg.EthChainID = n
	}
	if v := os.Getenv("SERVICE_ID"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("SERVICE_ID: %w", err)
		}
		cfg.ServiceID = n
	}
	cfg.SafeConfirmations = envInt("SAFE_CONFIRMATIONS", 1)
	cfg.EOAConfirmations = envInt("EOA_CONFIRMATIONS", 1)
	cfg.TickInterval = time.Duration(envInt("TICK_INTERVAL_SECONDS", 5)) * time.Second
	cfg.InFlightCap = envInt("IN_FLIGHT_CAP", 1)
	cfg.AgentWallClockTimeout = time.Duration(envInt("AGENT_TIMEOUT_SECONDS", 600)) * time.Second
	cfg.ReflectionEnabled = envOr("REFLECTION_ENABLED", "true") == "true"

	if v := os.Getenv("TRUSTED_PEER_IDS"); v != "" {
		cfg.TrustedPeerIDs = strings.Split(v, ",")
	}
	if v := os.Getenv("AVAILABLE_TOOLS"); v != "" {
		cfg.AvailableTools = strings.Split(v, ",")
	}

	return cfg, nil
}

// Validate ensures all required configuration is present; it returns every
// missing item joined, rather than failing on the first one, so operators
// fix their environment in one pass.
func (c *Config) Validate() error {
	var missing []string
	required := map[string]string{
		"ETHEREUM_URL":             c.EthereumURL,
		"ETH_PRIVATE_KEY_PATH":     c.EthPrivateKeyPath,
		"KEYSTORE_PASSPHRASE":      c.KeystorePassphrase,
		"MARKETPLACE_ADDRESS":      c.MarketplaceAddress,
		"SERVICE_REGISTRY_ADDRESS": c.RegistryAddress,
		"STAKING_ADDRESS":          c.StakingAddress,
		"SAFE_ADDRESS":             c.SafeAddress,
		"MECH_ADDRESS":             c.MechAddress,
		"INDEXER_URL":              c.IndexerURL,
	}
	for name, val := range required {
		if val == "" {
			missing = append(missing, name)
		}
	}
	if c.EthChainID == 0 {
		missing = append(missing, "ETH_CHAIN_ID")
	}
	if c.ServiceID == 0 {
		missing = append(missing, "SERVICE_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
