package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validParams() Params {
	p := DefaultParams()
	p.Treasury = carol
	return p
}

func TestParams_DefaultsValid(t *testing.T) {
	require.NoError(t, validParams().Validate())
	assert.ErrorIs(t, DefaultParams().Validate(), ErrInvalidParams, "treasury vacío")
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"inverted price bounds", func(p *Params) { p.MaxInitialPrice = p.MinInitialPrice - 1 }},
		{"fees over 100%", func(p *Params) { p.Fees.PlatformBps = 9_900 }},
		{"pool durations", func(p *Params) { p.MaxPoolDuration = p.MinPoolDuration / 2 }},
		{"rate limit", func(p *Params) { p.MaxTradesPerBlock = 0 }},
		{"no categories", func(p *Params) { p.Categories = nil }},
		{"category bounds", func(p *Params) { p.MaxCategories = 0 }},
		{"pricing", func(p *Params) { p.Pricing.MinPrice = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)
			assert.ErrorIs(t, p.Validate(), ErrInvalidParams)
		})
	}
}

func TestParams_CleanCategories(t *testing.T) {
	p := validParams()

	got, err := p.CleanCategories([]string{"Crypto", "Science"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Crypto", "Science"}, got)

	_, err = p.CleanCategories(nil)
	assert.ErrorIs(t, err, ErrInvalidCategoryCount)

	_, err = p.CleanCategories([]string{"Crypto", "Science", "Sports", "World"})
	assert.ErrorIs(t, err, ErrInvalidCategoryCount)

	_, err = p.CleanCategories([]string{"Crypto", "Crypto"})
	assert.ErrorIs(t, err, ErrInvalidCategory)

	_, err = p.CleanCategories([]string{"Gossip"})
	assert.ErrorIs(t, err, ErrInvalidCategory)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(fmt.Errorf("x: %w", ErrInvalidInitialPrice)))
	assert.Equal(t, KindConflict, KindOf(ErrSameOwner))
	assert.Equal(t, KindAuthorization, KindOf(ErrUnauthorized))
	assert.Equal(t, KindResource, KindOf(&InsufficientFundsError{Required: 5, Available: 1}))
	assert.Equal(t, KindResource, KindOf(&RateLimitError{Limit: 3}))
	assert.Equal(t, KindNotFound, KindOf(ErrPoolNotFound))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestParseIdentity(t *testing.T) {
	id, err := ParseIdentity("0x00000000000000000000000000000000000a11ce")
	require.NoError(t, err)
	assert.Equal(t, alice, id)

	_, err = ParseIdentity("alice")
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	_, err = ParseIdentity("0x0000000000000000000000000000000000000000")
	assert.ErrorIs(t, err, ErrInvalidIdentity)
}
