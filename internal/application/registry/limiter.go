package registry

import (
	"time"

	"github.com/alejandrodnm/opinionmarket/internal/domain"
)

// blockLimiter cuenta los trades del bloque actual en todo el registry.
// Un bloque es un intervalo fijo de BlockDuration alineado al epoch.
type blockLimiter struct {
	block int64
	count int
}

func blockOf(now time.Time, d time.Duration) int64 {
	return now.UnixNano() / int64(d)
}

// check devuelve *domain.RateLimitError si el bloque de now ya está lleno.
func (l *blockLimiter) check(now time.Time, limit int, d time.Duration) error {
	b := blockOf(now, d)
	if b != l.block || l.count < limit {
		return nil
	}
	return &domain.RateLimitError{
		Limit:   limit,
		RetryAt: time.Unix(0, (b+1)*int64(d)),
	}
}

// record anota un trade aceptado en el bloque de now.
func (l *blockLimiter) record(now time.Time, d time.Duration) {
	b := blockOf(now, d)
	if b != l.block {
		l.block = b
		l.count = 0
	}
	l.count++
}
