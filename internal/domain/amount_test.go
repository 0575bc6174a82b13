package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmount_String(t *testing.T) {
	assert.Equal(t, "5", Units(5).String())
	assert.Equal(t, "0.0105", Amount(10_500).String())
	assert.Equal(t, "-1.5", Amount(-1_500_000).String())
}

func TestAmount_MulBps(t *testing.T) {
	assert.Equal(t, Amount(1), Amount(99).MulBps(200))
	assert.Equal(t, Amount(2), Amount(99).MulBpsCeil(200))
	assert.Equal(t, Amount(-1), Amount(99).MulBps(-200))
	assert.Equal(t, Amount(-2), Amount(99).MulBpsCeil(-200))
	assert.Equal(t, Amount(500), Amount(5_000).MulBpsCeil(1000))
}

func TestAmount_MulBpsSaturates(t *testing.T) {
	assert.Equal(t, Amount(math.MaxInt64), Amount(math.MaxInt64).MulBps(20_000))
}

func TestCheckedAdd(t *testing.T) {
	sum, err := CheckedAdd(Units(2), Units(3))
	require.NoError(t, err)
	assert.Equal(t, Units(5), sum)

	_, err = CheckedAdd(math.MaxInt64, 1)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = CheckedAdd(math.MinInt64, -1)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    Amount
		wantErr bool
	}{
		{in: "5", want: Units(5)},
		{in: "0.0105", want: 10_500},
		{in: "2.500000", want: 2_500_000},
		{in: "0.0000001", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "99999999999999999999", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
