package domain

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// ActivityLevel resume cuántos traders distintos actuaron en la ventana de competencia.
type ActivityLevel int

const (
	ActivityCold ActivityLevel = iota
	ActivityWarm
	ActivityHot
)

func (l ActivityLevel) String() string {
	switch l {
	case ActivityCold:
		return "COLD"
	case ActivityWarm:
		return "WARM"
	case ActivityHot:
		return "HOT"
	default:
		return fmt.Sprintf("ActivityLevel(%d)", int(l))
	}
}

// Regime es la banda de variación de precio elegida para un trade.
type Regime int

const (
	RegimeConsolidation Regime = iota
	RegimeBullish
	RegimeCorrection
	RegimeParabolic
	// RegimeCompetitive no sale de la tabla: marca el suelo competitivo.
	RegimeCompetitive
)

const regimeCount = 4

func (r Regime) String() string {
	switch r {
	case RegimeConsolidation:
		return "CONSOLIDATION"
	case RegimeBullish:
		return "BULLISH"
	case RegimeCorrection:
		return "CORRECTION"
	case RegimeParabolic:
		return "PARABOLIC"
	case RegimeCompetitive:
		return "COMPETITIVE"
	default:
		return fmt.Sprintf("Regime(%d)", int(r))
	}
}

// RegimeBand es el rango de variación (bps, con signo) de un régimen. Ambos extremos incluidos.
type RegimeBand struct {
	MinBps int64
	MaxBps int64
}

// PricingConfig es el contrato económico del motor de precios.
type PricingConfig struct {
	Bands   [regimeCount]RegimeBand
	Weights [3][regimeCount]int // por ActivityLevel, suman 100

	CompetitiveMinBps int64
	CompetitiveMaxBps int64

	MinPrice    Amount // suelo absoluto de nextPrice
	WarmTraders int    // traders distintos para WARM
	HotTraders  int    // traders distintos para HOT
}

// DefaultPricingConfig devuelve la tabla de regímenes por defecto.
func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		Bands: [regimeCount]RegimeBand{
			RegimeConsolidation: {MinBps: -1000, MaxBps: 1500},
			RegimeBullish:       {MinBps: 500, MaxBps: 4000},
			RegimeCorrection:    {MinBps: -2000, MaxBps: 500},
			RegimeParabolic:     {MinBps: 4000, MaxBps: 10000},
		},
		Weights: [3][regimeCount]int{
			ActivityCold: {40, 45, 13, 2},
			ActivityWarm: {25, 60, 13, 2},
			ActivityHot:  {15, 62, 13, 10},
		},
		CompetitiveMinBps: 800,
		CompetitiveMaxBps: 1200,
		MinPrice:          Unit,
		WarmTraders:       3,
		HotTraders:        9,
	}
}

// Validate comprueba que la tabla sea utilizable.
func (c PricingConfig) Validate() error {
	for level, weights := range c.Weights {
		total := 0
		for _, w := range weights {
			if w < 0 {
				return fmt.Errorf("%w: negative weight for %s", ErrInvalidParams, ActivityLevel(level))
			}
			total += w
		}
		if total != 100 {
			return fmt.Errorf("%w: weights for %s sum to %d, want 100", ErrInvalidParams, ActivityLevel(level), total)
		}
	}
	for r, band := range c.Bands {
		if band.MinBps > band.MaxBps {
			return fmt.Errorf("%w: band %s min > max", ErrInvalidParams, Regime(r))
		}
		if band.MinBps <= -bpsDenominator {
			return fmt.Errorf("%w: band %s drops price to zero", ErrInvalidParams, Regime(r))
		}
	}
	if c.CompetitiveMinBps < 0 || c.CompetitiveMinBps > c.CompetitiveMaxBps {
		return fmt.Errorf("%w: competitive band %d..%d", ErrInvalidParams, c.CompetitiveMinBps, c.CompetitiveMaxBps)
	}
	if c.MinPrice <= 0 {
		return fmt.Errorf("%w: min price must be positive", ErrInvalidParams)
	}
	if c.WarmTraders <= 0 || c.HotTraders <= c.WarmTraders {
		return fmt.Errorf("%w: activity thresholds %d/%d", ErrInvalidParams, c.WarmTraders, c.HotTraders)
	}
	return nil
}

// Activity convierte un número de traders distintos en nivel de actividad.
func (c PricingConfig) Activity(distinctTraders int) ActivityLevel {
	switch {
	case distinctTraders >= c.HotTraders:
		return ActivityHot
	case distinctTraders >= c.WarmTraders:
		return ActivityWarm
	default:
		return ActivityCold
	}
}

// PriceQuote es el resultado del motor de precios.
type PriceQuote struct {
	Price     Amount
	Regime    Regime
	ChangeBps int64
}

// NextPrice calcula el siguiente precio a partir del último pagado.
//
// Es una función pura de (lastPrice, level, competitive, nonce): mismos inputs,
// mismo resultado. Con competitive=true se descarta la tabla y se aplica una
// subida garantizada dentro de [CompetitiveMinBps, CompetitiveMaxBps].
// No se llama al crear una opinión: ahí nextPrice = initialPrice.
func (c PricingConfig) NextPrice(lastPrice Amount, level ActivityLevel, competitive bool, nonce uint64) PriceQuote {
	if competitive {
		_, mag := draw(nonce, lastPrice, level, drawCompetitive)
		bps := pickInBand(RegimeBand{MinBps: c.CompetitiveMinBps, MaxBps: c.CompetitiveMaxBps}, mag)
		price := c.applyChange(lastPrice, bps)
		// El techo redondea hacia abajo: la subida nunca pasa de CompetitiveMaxBps.
		if ceiling := addSaturating(lastPrice, lastPrice.MulBps(c.CompetitiveMaxBps)); price > ceiling && ceiling >= c.MinPrice {
			price = ceiling
		}
		return PriceQuote{
			Price:     price,
			Regime:    RegimeCompetitive,
			ChangeBps: bps,
		}
	}

	if level < ActivityCold || level > ActivityHot {
		level = ActivityCold
	}
	roll, mag := draw(nonce, lastPrice, level, drawRegime)
	regime := pickRegime(c.Weights[level], roll)
	bps := pickInBand(c.Bands[regime], mag)
	return PriceQuote{
		Price:     c.applyChange(lastPrice, bps),
		Regime:    regime,
		ChangeBps: bps,
	}
}

// applyChange aplica bps a lastPrice. Las subidas redondean hacia arriba y las
// bajadas hacia cero, así el redondeo nunca empuja el precio hacia el suelo.
// La suma se satura en MaxInt64.
func (c PricingConfig) applyChange(lastPrice Amount, bps int64) Amount {
	var next Amount
	if bps >= 0 {
		next = addSaturating(lastPrice, lastPrice.MulBpsCeil(bps))
	} else {
		next = addSaturating(lastPrice, lastPrice.MulBps(bps))
	}
	if next < c.MinPrice {
		next = c.MinPrice
	}
	return next
}

const (
	drawRegime      byte = 0x01
	drawCompetitive byte = 0x02
)

// draw deriva dos enteros pseudoaleatorios de keccak256(nonce, lastPrice, level, purpose).
func draw(nonce uint64, lastPrice Amount, level ActivityLevel, purpose byte) (roll, magnitude uint64) {
	var buf [18]byte
	binary.BigEndian.PutUint64(buf[0:8], nonce)
	binary.BigEndian.PutUint64(buf[8:16], uint64(lastPrice))
	buf[16] = byte(level)
	buf[17] = purpose
	h := crypto.Keccak256(buf[:])
	return binary.BigEndian.Uint64(h[0:8]), binary.BigEndian.Uint64(h[8:16])
}

func pickRegime(weights [regimeCount]int, roll uint64) Regime {
	total := 0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return RegimeConsolidation
	}
	r := int(roll % uint64(total))
	for i, w := range weights {
		if r < w {
			return Regime(i)
		}
		r -= w
	}
	return RegimeConsolidation
}

func pickInBand(band RegimeBand, magnitude uint64) int64 {
	span := uint64(band.MaxBps-band.MinBps) + 1
	return band.MinBps + int64(magnitude%span)
}
