// Package config reads the mint node configuration file and environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml"
)

const (
	DefaultRPCListenAddress   = "127.0.0.1:3338"
	DefaultAdminListenAddress = "127.0.0.1:4448"

	DefaultMaxOrder          = 32
	DefaultQuoteTTL          = 3600
	DefaultMeltFee           = 1
	DefaultCacheTTL          = 300
	DefaultCacheCapacity     = 100_000
	DefaultMaxReorgDepth     = 10
	DefaultGaugeInterval     = 30
	DefaultReconcileInterval = 30
	DefaultCursorPath        = "data"
)

type MethodLimits struct {
	Method    string `toml:"method"`
	Unit      string `toml:"unit"`
	MinAmount uint64 `toml:"min-amount"`
	MaxAmount uint64 `toml:"max-amount"`
}

type Custom struct {
	LogLevel string `toml:"log-level"`
	Info     struct {
		Name            string            `toml:"name"`
		Description     string            `toml:"description"`
		LongDescription string            `toml:"long-description"`
		Motd            string            `toml:"motd"`
		IconURL         string            `toml:"icon-url"`
		URLs            []string          `toml:"urls"`
		Contact         map[string]string `toml:"contact"`
	} `toml:"info"`
	Mint struct {
		Units []string `toml:"units"`
		// number of keys per keyset, amounts 2^0 .. 2^(max-order-1)
		MaxOrder uint `toml:"max-order"`
		// seconds
		QuoteTTL        int64          `toml:"quote-ttl"`
		MeltFee         uint64         `toml:"melt-fee"`
		MeltFeePpk      uint64         `toml:"melt-fee-ppk"`
		MintingDisabled bool           `toml:"mint-disabled"`
		MeltingDisabled bool           `toml:"melt-disabled"`
		MintLimits      []MethodLimits `toml:"mint-limits"`
		MeltLimits      []MethodLimits `toml:"melt-limits"`
	} `toml:"mint"`
	Cache struct {
		// seconds
		TTL      int64 `toml:"ttl"`
		Capacity int   `toml:"capacity"`
	} `toml:"cache"`
	Liquidity struct {
		Backend                string            `toml:"backend"`
		ChainId                string            `toml:"chain-id"`
		CashierURL             string            `toml:"cashier-url"`
		CashierAccountAddress  string            `toml:"cashier-account-address"`
		InvoicePaymentContract string            `toml:"invoice-payment-contract"`
		TokenContracts         map[string]string `toml:"token-contracts"`
	} `toml:"liquidity"`
	Indexer struct {
		StreamURL     string `toml:"stream-url"`
		CursorPath    string `toml:"cursor-path"`
		StartBlock    uint64 `toml:"start-block"`
		MaxReorgDepth uint64 `toml:"max-reorg-depth"`
	} `toml:"indexer"`
	Background struct {
		// seconds
		GaugeInterval     int64 `toml:"gauge-interval"`
		ReconcileInterval int64 `toml:"reconcile-interval"`
	} `toml:"background"`
	Admin struct {
		ListenAddress string `toml:"listen-address"`
	} `toml:"admin"`
}

func Initialize(file string) (*Custom, error) {
	f, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var config Custom
	if err := toml.Unmarshal(f, &config); err != nil {
		return nil, fmt.Errorf("invalid config file: %v", err)
	}
	config.setDefaults()
	return &config, nil
}

func (c *Custom) setDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if len(c.Mint.Units) == 0 {
		c.Mint.Units = []string{"strk"}
	}
	if c.Mint.MaxOrder == 0 {
		c.Mint.MaxOrder = DefaultMaxOrder
	}
	if c.Mint.QuoteTTL == 0 {
		c.Mint.QuoteTTL = DefaultQuoteTTL
	}
	if c.Mint.MeltFee == 0 {
		c.Mint.MeltFee = DefaultMeltFee
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	if c.Cache.Capacity == 0 {
		c.Cache.Capacity = DefaultCacheCapacity
	}
	if c.Liquidity.Backend == "" {
		c.Liquidity.Backend = "starknet"
	}
	if c.Indexer.CursorPath == "" {
		c.Indexer.CursorPath = DefaultCursorPath
	}
	if c.Indexer.MaxReorgDepth == 0 {
		c.Indexer.MaxReorgDepth = DefaultMaxReorgDepth
	}
	if c.Background.GaugeInterval == 0 {
		c.Background.GaugeInterval = DefaultGaugeInterval
	}
	if c.Background.ReconcileInterval == 0 {
		c.Background.ReconcileInterval = DefaultReconcileInterval
	}
	if c.Admin.ListenAddress == "" {
		c.Admin.ListenAddress = DefaultAdminListenAddress
	}
}

func (c *Custom) QuoteTTL() time.Duration {
	return time.Duration(c.Mint.QuoteTTL) * time.Second
}

func (c *Custom) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTL) * time.Second
}

func (c *Custom) GaugeInterval() time.Duration {
	return time.Duration(c.Background.GaugeInterval) * time.Second
}

func (c *Custom) ReconcileInterval() time.Duration {
	return time.Duration(c.Background.ReconcileInterval) * time.Second
}

// Env holds the settings that are read from the environment.
type Env struct {
	DatabaseURL      string
	SignerURL        string
	SignerSeedPhrase string
	IndexerToken     string
	RPCListenAddress string
	AdminToken       string
}

// LoadEnv reads the environment, loading a .env file first if one exists.
func LoadEnv() (Env, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Env{}, fmt.Errorf("error loading .env file: %v", err)
	}

	env := Env{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SignerURL:        os.Getenv("SIGNER_URL"),
		SignerSeedPhrase: os.Getenv("SIGNER_SEED_PHRASE"),
		IndexerToken:     os.Getenv("INDEXER_TOKEN"),
		RPCListenAddress: os.Getenv("RPC_LISTEN_ADDRESS"),
		AdminToken:       os.Getenv("ADMIN_TOKEN"),
	}
	if env.DatabaseURL == "" {
		return Env{}, errors.New("DATABASE_URL cannot be empty")
	}
	if env.SignerURL == "" && env.SignerSeedPhrase == "" {
		return Env{}, errors.New("one of SIGNER_URL or SIGNER_SEED_PHRASE must be set")
	}
	if env.RPCListenAddress == "" {
		env.RPCListenAddress = DefaultRPCListenAddress
	}
	return env, nil
}
