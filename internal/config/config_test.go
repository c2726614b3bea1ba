package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	coreAddr   = "0x0000000000000000000000000000000000000c01"
	proxyAddr  = "0x0000000000000000000000000000000000000c02"
	moduleAddr = "0x0000000000000000000000000000000000000c03"
	basketAddr = "0x0000000000000000000000000000000000000b01"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Contracts.Core = coreAddr
	cfg.Contracts.TransferProxy = proxyAddr
	cfg.Contracts.AuctionModule = moduleAddr
	cfg.Wallet.PrivateKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	return cfg
}

func TestDefaultsNeedOnlyAddressesAndKey(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	bare := Defaults()
	err := bare.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contracts.core: address must be set")
	assert.Contains(t, err.Error(), "wallet: either private_key or encrypted_key_path")
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "trade"
	cfg.LogLevel = "loud"
	cfg.Watch.Baskets = []string{"not-an-address"}
	cfg.Contracts.Managers = map[string]string{basketAddr: "hedge_fund"}
	cfg.Allocation.StartPrice = "1.5"
	cfg.Notify.WebhookURL = "https://hooks.example"
	cfg.Wallet.Address = "0xoperator"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown log_level "loud"`,
		`watch.baskets: "not-an-address" is not a hex address`,
		"notify: webhook_secret is required",
		"wallet.address",
	} {
		assert.Contains(t, err.Error(), want)
	}

	// Wallet checks only apply to submitting modes.
	cfg = validConfig()
	cfg.Mode = "watch"
	cfg.Wallet.PrivateKey = ""
	cfg.Allocation.StartPrice = "1.5"
	assert.NoError(t, cfg.Validate())
}

func TestModeRequirements(t *testing.T) {
	cases := []struct {
		mode                     string
		s3                       bool
		wallet, chain, archiving bool
	}{
		{"server", false, true, true, false},
		{"watch", false, false, true, false},
		{"archive", false, false, false, true},
		{"full", false, true, true, false},
		{"full", true, true, true, true},
	}
	for _, tc := range cases {
		cfg := Config{Mode: tc.mode, S3: S3Config{Enabled: tc.s3}}
		assert.Equal(t, tc.wallet, cfg.NeedsWallet(), tc.mode)
		assert.Equal(t, tc.chain, cfg.NeedsChain(), tc.mode)
		assert.Equal(t, tc.archiving, cfg.NeedsArchive(), tc.mode)
	}
}

func TestLoadAppliesFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "watch"

[ethereum]
rpc_url = "http://node:8545"
chain_id = 5

[watch]
baskets = ["`+basketAddr+`"]
interval = "30s"

[contracts.managers]
"`+coreAddr+`" = "social_trading_v2"
`), 0o600))

	t.Setenv("SETREBAL_ETHEREUM_CHAIN_ID", "11155111")
	t.Setenv("SETREBAL_MINING_TIMEOUT", "90s")
	t.Setenv("SETREBAL_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "watch", cfg.Mode)
	assert.Equal(t, "http://node:8545", cfg.Ethereum.RPCURL)
	assert.EqualValues(t, 11155111, cfg.Ethereum.ChainID)
	assert.Equal(t, 30*time.Second, cfg.Watch.Interval.Duration)
	assert.Equal(t, 90*time.Second, cfg.Mining.Timeout.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "social_trading_v2", cfg.Contracts.Managers[coreAddr])
	// Untouched sections keep their defaults.
	assert.Equal(t, 1024, cfg.Cache.LRUSize)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Supabase.Password = "pw"
	cfg.Server.APIKey = "key"
	cfg.Contracts.Managers = map[string]string{coreAddr: "social_trading"}

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.Supabase.Password)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Empty(t, red.Notify.WebhookSecret)

	red.Contracts.Managers[coreAddr] = "changed"
	red.Server.CORSOrigins[0] = "changed"
	assert.Equal(t, "social_trading", cfg.Contracts.Managers[coreAddr])
	assert.NotEqual(t, "changed", cfg.Server.CORSOrigins[0])
	assert.NotEqual(t, "***", cfg.Wallet.PrivateKey)
}

func TestParseHelpers(t *testing.T) {
	assert.NotZero(t, Address(coreAddr))
	assert.Zero(t, Address("nope"))
	assert.Len(t, Addresses([]string{coreAddr, "", "bad", proxyAddr}), 2)
	assert.Nil(t, Amount(""))
	assert.Nil(t, Amount("1e18"))
	assert.Equal(t, uint64(500), Amount("500").Uint64())
}
