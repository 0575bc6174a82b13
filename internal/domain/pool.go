package domain

import (
	"bytes"
	"maps"
	"slices"
	"time"
)

// PoolStatus es el ciclo de vida de un pool: ACTIVE → EXECUTED | EXPIRED.
type PoolStatus string

const (
	PoolActive   PoolStatus = "ACTIVE"
	PoolExecuted PoolStatus = "EXECUTED"
	PoolExpired  PoolStatus = "EXPIRED"
)

// Terminal devuelve true para los estados sin salida.
func (s PoolStatus) Terminal() bool {
	return s == PoolExecuted || s == PoolExpired
}

// CanTransition devuelve true si el cambio de estado es válido.
func (s PoolStatus) CanTransition(to PoolStatus) bool {
	return s == PoolActive && to.Terminal()
}

// poolToleranceDivisor fija la tolerancia en el 0.01% del objetivo.
const poolToleranceDivisor = 10_000

// PoolTolerance devuelve la holgura admitida sobre el objetivo de un pool.
func PoolTolerance(target Amount) Amount {
	return target / poolToleranceDivisor
}

// Pool es un vehículo de crowdfunding para cambiar la respuesta de una opinión.
type Pool struct {
	ID                  uint64
	OpinionID           uint64
	Creator             Identity
	Name                string
	ProposedAnswer      string
	ProposedDescription string

	TargetPrice Amount // fijado al crear; nunca se recalcula
	TotalAmount Amount // no decrece mientras está ACTIVE
	Deadline    time.Time
	Status      PoolStatus

	Contributions map[Identity]Amount
	Withdrawn     map[Identity]bool

	CreatedAt  time.Time
	ExecutedAt time.Time
}

// Identity devuelve la identidad bajo la que el pool posee la respuesta.
func (p Pool) Identity() Identity {
	return PoolIdentity(p.ID)
}

// Tolerance devuelve la holgura del pool (TargetPrice / 10000).
func (p Pool) Tolerance() Amount {
	return PoolTolerance(p.TargetPrice)
}

// Remaining devuelve lo que falta para llegar exactamente al objetivo.
func (p Pool) Remaining() Amount {
	if p.TotalAmount >= p.TargetPrice {
		return 0
	}
	return p.TargetPrice - p.TotalAmount
}

// Capacity devuelve cuánto más puede aceptar el pool sin pasar objetivo + tolerancia.
func (p Pool) Capacity() Amount {
	left := p.TargetPrice + p.Tolerance() - p.TotalAmount
	if left < 0 {
		return 0
	}
	return left
}

// CanComplete devuelve true si el resto está dentro de la tolerancia o por
// debajo del umbral micro; en ese caso el hueco se cubre gratis.
func (p Pool) CanComplete(microThreshold Amount) bool {
	r := p.Remaining()
	return r <= p.Tolerance() || r < microThreshold
}

// Open devuelve true si el pool acepta aportaciones en now.
func (p Pool) Open(now time.Time) bool {
	return p.Status == PoolActive && now.Before(p.Deadline)
}

// Contributors devuelve los contribuyentes en orden estable.
func (p Pool) Contributors() []Identity {
	out := slices.Collect(maps.Keys(p.Contributions))
	slices.SortFunc(out, func(x, y Identity) int { return bytes.Compare(x[:], y[:]) })
	return out
}

// Clone devuelve una copia profunda.
func (p Pool) Clone() Pool {
	p.Contributions = maps.Clone(p.Contributions)
	p.Withdrawn = maps.Clone(p.Withdrawn)
	return p
}
