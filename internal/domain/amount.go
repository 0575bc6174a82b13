package domain

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/shopspring/decimal"
)

// Decimals es la escala de punto fijo de todos los importes (micro-unidades).
const Decimals = 6

// Unit es una unidad entera expresada en micro-unidades.
const Unit Amount = 1_000_000

// bpsDenominator es la base de los porcentajes expresados en basis points.
const bpsDenominator = 10_000

// Amount es un importe en micro-unidades. Nunca se usa float para dinero.
type Amount int64

// Units convierte unidades enteras a Amount.
func Units(n int64) Amount {
	return Amount(n) * Unit
}

// String renderiza el importe en unidades ("5", "0.0105").
func (a Amount) String() string {
	return decimal.New(int64(a), -Decimals).String()
}

// Decimal devuelve el importe como decimal en unidades.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -Decimals)
}

// ParseAmount convierte un importe en unidades ("2.5") a micro-unidades.
// Rechaza más de Decimals decimales y valores fuera de rango.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	micros := d.Shift(Decimals)
	if !micros.IsInteger() {
		return 0, fmt.Errorf("%w: more than %d decimals in %q", ErrInvalidAmount, Decimals, s)
	}
	if micros.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || micros.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, s)
	}
	return Amount(micros.IntPart()), nil
}

// MulBps devuelve a × bps / 10000 redondeando hacia cero.
// Usa aritmética de 128 bits para no desbordar con precios altos.
func (a Amount) MulBps(bps int64) Amount {
	q, _ := mulDiv(a, bps)
	return q
}

// MulBpsCeil devuelve a × bps / 10000 redondeando hacia arriba (en magnitud).
func (a Amount) MulBpsCeil(bps int64) Amount {
	q, rem := mulDiv(a, bps)
	if rem != 0 {
		if (a < 0) != (bps < 0) {
			return q - 1
		}
		return q + 1
	}
	return q
}

// mulDiv calcula a×bps/10000 con signo, devolviendo cociente truncado y si hubo resto.
func mulDiv(a Amount, bps int64) (Amount, uint64) {
	neg := (a < 0) != (bps < 0)
	ua, ub := abs64(int64(a)), abs64(bps)
	hi, lo := bits.Mul64(ua, ub)
	if hi >= bpsDenominator {
		// El resultado no cabe en 64 bits: saturamos.
		if neg {
			return Amount(-1 << 63), 0
		}
		return Amount(1<<63 - 1), 0
	}
	q, rem := bits.Div64(hi, lo, bpsDenominator)
	if q > 1<<63-1 {
		return Amount(1<<63 - 1), 0
	}
	if neg {
		return -Amount(q), rem
	}
	return Amount(q), rem
}

// CheckedAdd devuelve a+b o ErrInvalidAmount si la suma desborda int64.
func CheckedAdd(a, b Amount) (Amount, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, fmt.Errorf("%w: %s + %s overflows", ErrInvalidAmount, a, b)
	}
	return a + b, nil
}

// addSaturating suma a y b fijando el resultado en los extremos de int64.
func addSaturating(a, b Amount) Amount {
	sum, err := CheckedAdd(a, b)
	if err == nil {
		return sum
	}
	if b > 0 {
		return math.MaxInt64
	}
	return math.MinInt64
}

func abs64(v int64) uint64 {
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}

// MaxAmount devuelve el mayor de dos importes.
func MaxAmount(a, b Amount) Amount {
	if a > b {
		return a
	}
	return b
}

// MinAmount devuelve el menor de dos importes.
func MinAmount(a, b Amount) Amount {
	if a < b {
		return a
	}
	return b
}
