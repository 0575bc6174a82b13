package domain

import (
	"fmt"
	"slices"
	"time"
)

// Params es la superficie de configuración económica del mercado.
// Se fija al arrancar y solo cambia por UpdateParams (rol ADMIN).
type Params struct {
	MinInitialPrice Amount
	MaxInitialPrice Amount

	Fees    FeeConfig
	Pricing PricingConfig

	PoolCreationFee      Amount
	PoolContributionFee  Amount
	MicroAmountThreshold Amount // restos por debajo se consideran completos
	MinPoolDuration      time.Duration
	MaxPoolDuration      time.Duration

	MaxTradesPerBlock int
	BlockDuration     time.Duration

	CompetitionWindow time.Duration

	MaxQuestionLen    int
	MaxAnswerLen      int
	MaxDescriptionLen int
	MaxPoolNameLen    int
	MinCategories     int
	MaxCategories     int
	Categories        []string

	Treasury Identity // destino fijo de comisiones de plataforma y creación
}

// DefaultCategories es la lista de categorías admitidas por defecto.
var DefaultCategories = []string{
	"Crypto", "Politics", "Science", "Technology", "Sports", "Entertainment",
	"Culture", "Business", "Economics", "World", "Other",
}

// DefaultParams devuelve los parámetros por defecto. Treasury queda vacío: hay que fijarlo.
func DefaultParams() Params {
	return Params{
		MinInitialPrice: Units(1),
		MaxInitialPrice: Units(100),
		Fees: FeeConfig{
			PlatformBps:    200,
			CreatorBps:     300,
			CreationFeeBps: 2000,
			MinCreationFee: Units(5),
		},
		Pricing:              DefaultPricingConfig(),
		PoolCreationFee:      Units(5),
		PoolContributionFee:  Units(1),
		MicroAmountThreshold: 10_000,
		MinPoolDuration:      24 * time.Hour,
		MaxPoolDuration:      60 * 24 * time.Hour,
		MaxTradesPerBlock:    10,
		BlockDuration:        time.Second,
		CompetitionWindow:    DefaultCompetitionWindow,
		MaxQuestionLen:       120,
		MaxAnswerLen:         60,
		MaxDescriptionLen:    240,
		MaxPoolNameLen:       48,
		MinCategories:        1,
		MaxCategories:        3,
		Categories:           slices.Clone(DefaultCategories),
	}
}

// Validate comprueba la coherencia de los parámetros.
func (p Params) Validate() error {
	if p.MinInitialPrice <= 0 || p.MaxInitialPrice < p.MinInitialPrice {
		return fmt.Errorf("%w: initial price bounds %s..%s", ErrInvalidParams, p.MinInitialPrice, p.MaxInitialPrice)
	}
	if p.Fees.PlatformBps < 0 || p.Fees.CreatorBps < 0 || p.Fees.PlatformBps+p.Fees.CreatorBps > bpsDenominator {
		return fmt.Errorf("%w: fee bps %d+%d", ErrInvalidParams, p.Fees.PlatformBps, p.Fees.CreatorBps)
	}
	if p.Fees.CreationFeeBps < 0 || p.Fees.MinCreationFee < 0 {
		return fmt.Errorf("%w: creation fee", ErrInvalidParams)
	}
	if err := p.Pricing.Validate(); err != nil {
		return err
	}
	if p.PoolCreationFee < 0 || p.PoolContributionFee < 0 || p.MicroAmountThreshold < 0 {
		return fmt.Errorf("%w: pool fees", ErrInvalidParams)
	}
	if p.MinPoolDuration <= 0 || p.MaxPoolDuration < p.MinPoolDuration {
		return fmt.Errorf("%w: pool duration %s..%s", ErrInvalidParams, p.MinPoolDuration, p.MaxPoolDuration)
	}
	if p.MaxTradesPerBlock <= 0 || p.BlockDuration <= 0 {
		return fmt.Errorf("%w: rate limit %d per %s", ErrInvalidParams, p.MaxTradesPerBlock, p.BlockDuration)
	}
	if p.CompetitionWindow <= 0 {
		return fmt.Errorf("%w: competition window", ErrInvalidParams)
	}
	if p.MaxQuestionLen <= 0 || p.MaxAnswerLen <= 0 || p.MaxDescriptionLen <= 0 || p.MaxPoolNameLen <= 0 {
		return fmt.Errorf("%w: text limits", ErrInvalidParams)
	}
	if p.MinCategories < 1 || p.MaxCategories < p.MinCategories {
		return fmt.Errorf("%w: category bounds %d..%d", ErrInvalidParams, p.MinCategories, p.MaxCategories)
	}
	if len(p.Categories) == 0 {
		return fmt.Errorf("%w: no categories", ErrInvalidParams)
	}
	if p.Treasury == NoIdentity {
		return fmt.Errorf("%w: treasury not set", ErrInvalidParams)
	}
	return nil
}

// CleanCategories valida el conjunto de categorías elegido al crear una opinión.
func (p Params) CleanCategories(categories []string) ([]string, error) {
	if len(categories) < p.MinCategories || len(categories) > p.MaxCategories {
		return nil, fmt.Errorf("%w: got %d, want %d..%d", ErrInvalidCategoryCount, len(categories), p.MinCategories, p.MaxCategories)
	}
	out := make([]string, 0, len(categories))
	for _, c := range categories {
		if !slices.Contains(p.Categories, c) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, c)
		}
		if slices.Contains(out, c) {
			return nil, fmt.Errorf("%w: duplicate %q", ErrInvalidCategory, c)
		}
		out = append(out, c)
	}
	return out, nil
}
