package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	require := require.New(t)

	custom, err := Initialize("./config.example.toml")
	require.Nil(err)

	require.Equal("debug", custom.LogLevel)
	require.Equal("starknuts", custom.Info.Name)
	require.Equal("mint@example.com", custom.Info.Contact["email"])

	require.Equal([]string{"strk", "millistrk"}, custom.Mint.Units)
	require.Equal(uint(32), custom.Mint.MaxOrder)
	require.Equal(10*time.Minute, custom.QuoteTTL())
	require.Equal(uint64(2), custom.Mint.MeltFee)
	require.Equal(uint64(5), custom.Mint.MeltFeePpk)
	require.Len(custom.Mint.MintLimits, 1)
	require.Equal(uint64(10000), custom.Mint.MintLimits[0].MaxAmount)
	require.Equal("strk", custom.Mint.MeltLimits[0].Unit)

	require.Equal(2*time.Minute, custom.CacheTTL())
	require.Equal(DefaultCacheCapacity, custom.Cache.Capacity)

	require.Equal("SN_SEPOLIA", custom.Liquidity.ChainId)
	require.Equal("0x04718f5a0fc34cc1af16a1cdee98ffb20c31f5cd61d6ab07201858f4287c938d", custom.Liquidity.TokenContracts["strk"])

	require.Equal(uint64(1000), custom.Indexer.StartBlock)
	require.Equal(uint64(DefaultMaxReorgDepth), custom.Indexer.MaxReorgDepth)
	require.Equal(30*time.Second, custom.GaugeInterval())
	require.Equal("127.0.0.1:9999", custom.Admin.ListenAddress)
}

func TestConfigDefaults(t *testing.T) {
	require := require.New(t)

	path := t.TempDir() + "/empty.toml"
	require.Nil(os.WriteFile(path, []byte(""), 0600))

	custom, err := Initialize(path)
	require.Nil(err)
	require.Equal("info", custom.LogLevel)
	require.Equal([]string{"strk"}, custom.Mint.Units)
	require.Equal(uint64(DefaultMeltFee), custom.Mint.MeltFee)
	require.Equal("starknet", custom.Liquidity.Backend)
	require.Equal(DefaultAdminListenAddress, custom.Admin.ListenAddress)
}

func TestLoadEnv(t *testing.T) {
	require := require.New(t)

	t.Setenv("DATABASE_URL", "")
	t.Setenv("SIGNER_URL", "")
	t.Setenv("SIGNER_SEED_PHRASE", "")
	_, err := LoadEnv()
	require.NotNil(err)

	t.Setenv("DATABASE_URL", "sqlite:///tmp/mint")
	_, err = LoadEnv()
	require.NotNil(err)

	t.Setenv("SIGNER_URL", "127.0.0.1:10001")
	t.Setenv("RPC_LISTEN_ADDRESS", "")
	env, err := LoadEnv()
	require.Nil(err)
	require.Equal("sqlite:///tmp/mint", env.DatabaseURL)
	require.Equal(DefaultRPCListenAddress, env.RPCListenAddress)
}
