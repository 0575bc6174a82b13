package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alejandrodnm/opinionmarket/config"
	"github.com/alejandrodnm/opinionmarket/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const treasuryHex = "0x0000000000000000000000000000000000007ea5"

const sample = `
market:
  treasury: "0x0000000000000000000000000000000000007ea5"
  min_initial_price: "2"
  pool_creation_fee: "0.5"
  platform_fee_bps: 150
  max_trades_per_block: 4
  block_duration: 2s
  min_pool_duration: 12h
  regimes:
    parabolic: {min_bps: 3000, max_bps: 8000}
  weights:
    hot: [20, 60, 10, 10]
  admins: ["0x000000000000000000000000000000000000ad01"]
  moderators: ["0x000000000000000000000000000000000000a0d0"]
api:
  jwt_secret: "s3cret"
redis:
  enabled: true
  stream: "market:events"
`

func TestParse_MarketParams(t *testing.T) {
	cfg, err := config.Parse([]byte(sample))
	require.NoError(t, err)

	p, err := cfg.Market.Params()
	require.NoError(t, err)

	assert.Equal(t, domain.Units(2), p.MinInitialPrice)
	assert.Equal(t, domain.Units(100), p.MaxInitialPrice, "default kept")
	assert.Equal(t, domain.Amount(500_000), p.PoolCreationFee)
	assert.Equal(t, int64(150), p.Fees.PlatformBps)
	assert.Equal(t, int64(300), p.Fees.CreatorBps)
	assert.Equal(t, 4, p.MaxTradesPerBlock)
	assert.Equal(t, 2*time.Second, p.BlockDuration)
	assert.Equal(t, 12*time.Hour, p.MinPoolDuration)
	assert.Equal(t, domain.RegimeBand{MinBps: 3000, MaxBps: 8000}, p.Pricing.Bands[domain.RegimeParabolic])
	assert.Equal(t, [4]int{20, 60, 10, 10}, p.Pricing.Weights[domain.ActivityHot])
	assert.Equal(t, common.HexToAddress(treasuryHex), p.Treasury)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := config.Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.Equal(t, "opinionmarket.db", cfg.Storage.DSN)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "market:events", cfg.Redis.Stream)
	assert.Positive(t, cfg.API.Burst)
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("MAX_TRADES_PER_BLOCK", "7")

	cfg, err := config.Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "from-env", cfg.API.JWTSecret)
	assert.Equal(t, 7, cfg.Market.MaxTradesPerBlock)
}

func TestMarketConfig_Roles(t *testing.T) {
	cfg, err := config.Parse([]byte(sample))
	require.NoError(t, err)

	roles, err := cfg.Market.Roles()
	require.NoError(t, err)
	require.Len(t, roles[domain.CapAdmin], 1)
	assert.Equal(t, common.HexToAddress("0x000000000000000000000000000000000000ad01"), roles[domain.CapAdmin][0])
	assert.Len(t, roles[domain.CapModerator], 1)
	assert.Empty(t, roles[domain.CapTreasury])
}

func TestMarketConfig_ParamsErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.MarketConfig
	}{
		{"missing treasury", config.MarketConfig{}},
		{"bad amount", config.MarketConfig{Treasury: treasuryHex, PoolCreationFee: "1.0000001"}},
		{"bad treasury", config.MarketConfig{Treasury: "nope"}},
		{"unknown regime", config.MarketConfig{Treasury: treasuryHex, Regimes: map[string]config.BandConfig{"moon": {}}}},
		{"short weights", config.MarketConfig{Treasury: treasuryHex, Weights: map[string][]int{"cold": {50, 50}}}},
		{"weights not 100", config.MarketConfig{Treasury: treasuryHex, Weights: map[string][]int{"cold": {50, 50, 10, 0}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cfg.Params()
			require.Error(t, err)
		})
	}
}

func TestLoad_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.API.JWTSecret)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
