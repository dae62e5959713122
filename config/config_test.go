package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
rpc_url: http://localhost:8545
chain_id: 31337
pool_address: "0x0000000000000000000000000000000000000c01"
oracle_address: "0x0000000000000000000000000000000000000c02"
tokens:
  - address: "0x0000000000000000000000000000000000000a01"
    symbol: WETH
    decimals: 18
  - address: "0x0000000000000000000000000000000000000a02"
    symbol: USDC
    decimals: 6
poll_interval: 30s
watch_addresses:
  - "0x00000000000000000000000000000000000000f1"
web_addr: ":9090"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, int64(31337), cfg.ChainID)
	require.Equal(t, 30*time.Second, cfg.PollInterval)
	require.Equal(t, ":9090", cfg.WebAddr)
	require.Len(t, cfg.Tokens, 2)
	require.Equal(t, "USDC", cfg.Tokens[1].Symbol)
	require.EqualValues(t, 6, cfg.Tokens[1].Decimals)
	require.Len(t, cfg.WatchAddresses, 1)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
rpc_url: http://localhost:8545
pool_address: "0x0000000000000000000000000000000000000c01"
oracle_address: "0x0000000000000000000000000000000000000c02"
tokens:
  - address: "0x0000000000000000000000000000000000000a01"
    symbol: WETH
    decimals: 18
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, int64(defaultChainID), cfg.ChainID)
	require.Equal(t, defaultPollInterval, cfg.PollInterval)
	require.Equal(t, defaultSettleDelay, cfg.SettleDelay)
	require.Equal(t, int64(defaultLiqThresholdBps), cfg.DefaultLiqThresholdBps)
	require.Equal(t, defaultWebAddr, cfg.WebAddr)
}

func TestLoad_RejectsBadAddresses(t *testing.T) {
	path := writeConfig(t, `
rpc_url: http://localhost:8545
pool_address: "not-an-address"
oracle_address: "0x0000000000000000000000000000000000000c02"
tokens:
  - address: "0x0000000000000000000000000000000000000a01"
    symbol: WETH
    decimals: 18
`)

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "pool_address")
}

func TestLoad_RequiresTokens(t *testing.T) {
	path := writeConfig(t, `
rpc_url: http://localhost:8545
pool_address: "0x0000000000000000000000000000000000000c01"
oracle_address: "0x0000000000000000000000000000000000000c02"
`)

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "tokens")
}

func TestLoad_SignerKeyFromEnv(t *testing.T) {
	t.Setenv(SignerKeyEnv, "0xdeadbeef")

	path := writeConfig(t, `
rpc_url: http://localhost:8545
pool_address: "0x0000000000000000000000000000000000000c01"
oracle_address: "0x0000000000000000000000000000000000000c02"
tokens:
  - address: "0x0000000000000000000000000000000000000a01"
    symbol: WETH
    decimals: 18
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0xdeadbeef", cfg.SignerKey)
}
