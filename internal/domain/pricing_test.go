package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextPrice_Deterministic(t *testing.T) {
	cfg := DefaultPricingConfig()
	for nonce := uint64(0); nonce < 50; nonce++ {
		a := cfg.NextPrice(Units(5), ActivityWarm, false, nonce)
		b := cfg.NextPrice(Units(5), ActivityWarm, false, nonce)
		assert.Equal(t, a, b, "nonce %d", nonce)
	}
}

func TestNextPrice_NonceChangesDraw(t *testing.T) {
	cfg := DefaultPricingConfig()
	seen := map[Amount]bool{}
	for nonce := uint64(0); nonce < 50; nonce++ {
		seen[cfg.NextPrice(Units(10), ActivityCold, false, nonce).Price] = true
	}
	assert.Greater(t, len(seen), 10, "distintos nonces deberían dar precios distintos")
}

func TestNextPrice_CompetitiveBand(t *testing.T) {
	cfg := DefaultPricingConfig()
	last := Units(5)
	for nonce := uint64(0); nonce < 500; nonce++ {
		q := cfg.NextPrice(last, ActivityCold, true, nonce)
		assert.Equal(t, RegimeCompetitive, q.Regime)
		assert.GreaterOrEqual(t, int64(q.Price)*100, int64(last)*108, "nonce %d", nonce)
		assert.LessOrEqual(t, int64(q.Price)*100, int64(last)*112, "nonce %d", nonce)
	}
}

func TestNextPrice_CompetitiveBandOddPrice(t *testing.T) {
	cfg := DefaultPricingConfig()
	last := Amount(5_432_101)
	for nonce := uint64(0); nonce < 200; nonce++ {
		q := cfg.NextPrice(last, ActivityHot, true, nonce)
		// Suelo redondeado hacia arriba y techo hacia abajo.
		assert.GreaterOrEqual(t, int64(q.Price)*100, int64(last)*108, "nonce %d", nonce)
		assert.LessOrEqual(t, int64(q.Price)*100, int64(last)*112, "nonce %d", nonce)
	}
}

func TestNextPrice_CompetitiveCeilingRoundsDown(t *testing.T) {
	cfg := DefaultPricingConfig()
	cfg.CompetitiveMinBps = 1200
	last := Amount(5_432_101)
	q := cfg.NextPrice(last, ActivityHot, true, 442)
	// 5432101 × 1.12 = 6083953.12
	assert.Equal(t, Amount(6_083_953), q.Price)
}

func TestNextPrice_SaturatesNearMaxInt64(t *testing.T) {
	cfg := DefaultPricingConfig()
	last := Amount(8_500_000_000_000_000_000)
	for nonce := uint64(0); nonce < 50; nonce++ {
		q := cfg.NextPrice(last, ActivityHot, true, nonce)
		assert.GreaterOrEqual(t, q.Price, last, "nonce %d", nonce)
	}
	// Con nonce 1 la subida no cabe en int64.
	assert.Equal(t, Amount(math.MaxInt64), cfg.NextPrice(last, ActivityHot, true, 1).Price)
}

func TestNextPrice_ChangeWithinRegimeBand(t *testing.T) {
	cfg := DefaultPricingConfig()
	for _, level := range []ActivityLevel{ActivityCold, ActivityWarm, ActivityHot} {
		for nonce := uint64(0); nonce < 300; nonce++ {
			q := cfg.NextPrice(Units(50), level, false, nonce)
			band := cfg.Bands[q.Regime]
			assert.GreaterOrEqual(t, q.ChangeBps, band.MinBps)
			assert.LessOrEqual(t, q.ChangeBps, band.MaxBps)
		}
	}
}

func TestNextPrice_NeverBelowMinPrice(t *testing.T) {
	cfg := DefaultPricingConfig()
	for nonce := uint64(0); nonce < 500; nonce++ {
		q := cfg.NextPrice(cfg.MinPrice, ActivityCold, false, nonce)
		assert.GreaterOrEqual(t, q.Price, cfg.MinPrice)
	}
}

func TestNextPrice_SingleRegimeTable(t *testing.T) {
	cfg := DefaultPricingConfig()
	cfg.Weights[ActivityCold] = [regimeCount]int{0, 100, 0, 0}
	for nonce := uint64(0); nonce < 100; nonce++ {
		q := cfg.NextPrice(Units(10), ActivityCold, false, nonce)
		assert.Equal(t, RegimeBullish, q.Regime)
		assert.Greater(t, q.Price, Units(10))
	}
}

func TestNextPrice_RegimeMixFollowsWeights(t *testing.T) {
	cfg := DefaultPricingConfig()
	counts := map[Regime]int{}
	const n = 4000
	for nonce := uint64(0); nonce < n; nonce++ {
		counts[cfg.NextPrice(Units(10), ActivityHot, false, nonce).Regime]++
	}
	// HOT: 15/62/13/10, margen amplio: solo se comprueba la forma.
	assert.InDelta(t, 0.62, float64(counts[RegimeBullish])/n, 0.05)
	assert.InDelta(t, 0.15, float64(counts[RegimeConsolidation])/n, 0.05)
	assert.InDelta(t, 0.10, float64(counts[RegimeParabolic])/n, 0.04)
}

// --- applyChange ---

func TestApplyChange_RoundsUpIncreases(t *testing.T) {
	cfg := DefaultPricingConfig()
	cfg.MinPrice = 1
	assert.Equal(t, Amount(4), cfg.applyChange(3, 1))
}

func TestApplyChange_RoundsDecreasesTowardZero(t *testing.T) {
	cfg := DefaultPricingConfig()
	cfg.MinPrice = 1
	// 9999 × -1bps = -0.9999 → se trunca a 0, el precio no baja.
	assert.Equal(t, Amount(9_999), cfg.applyChange(9_999, -1))
}

func TestApplyChange_SaturatesOnOverflow(t *testing.T) {
	cfg := DefaultPricingConfig()
	assert.Equal(t, Amount(math.MaxInt64), cfg.applyChange(math.MaxInt64-10, 1))
	assert.Equal(t, Amount(math.MaxInt64), cfg.applyChange(math.MaxInt64, 10_000))
}

func TestApplyChange_ClampsToFloor(t *testing.T) {
	cfg := DefaultPricingConfig()
	assert.Equal(t, cfg.MinPrice, cfg.applyChange(cfg.MinPrice, -2000))
}

// --- Activity ---

func TestActivity_Thresholds(t *testing.T) {
	cfg := DefaultPricingConfig()
	assert.Equal(t, ActivityCold, cfg.Activity(0))
	assert.Equal(t, ActivityCold, cfg.Activity(2))
	assert.Equal(t, ActivityWarm, cfg.Activity(3))
	assert.Equal(t, ActivityWarm, cfg.Activity(8))
	assert.Equal(t, ActivityHot, cfg.Activity(9))
}

// --- Validate ---

func TestPricingConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultPricingConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*PricingConfig)
	}{
		{"weights not 100", func(c *PricingConfig) { c.Weights[ActivityWarm][0] = 30 }},
		{"negative weight", func(c *PricingConfig) { c.Weights[ActivityHot] = [regimeCount]int{-5, 72, 23, 10} }},
		{"band inverted", func(c *PricingConfig) { c.Bands[RegimeBullish] = RegimeBand{MinBps: 10, MaxBps: 5} }},
		{"band wipes price", func(c *PricingConfig) { c.Bands[RegimeCorrection].MinBps = -10_000 }},
		{"competitive inverted", func(c *PricingConfig) { c.CompetitiveMinBps = 1300 }},
		{"zero min price", func(c *PricingConfig) { c.MinPrice = 0 }},
		{"bad thresholds", func(c *PricingConfig) { c.HotTraders = c.WarmTraders }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultPricingConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidParams)
		})
	}
}
