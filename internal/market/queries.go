package market

import (
	"context"
	"fmt"
	"slices"

	"github.com/alejandrodnm/opinionmarket/internal/application/pools"
	"github.com/alejandrodnm/opinionmarket/internal/application/registry"
	"github.com/alejandrodnm/opinionmarket/internal/domain"
)

// Opinion devuelve los detalles de una opinión.
func (m *Market) Opinion(id uint64) (domain.Opinion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.Opinion(id)
}

// Opinions devuelve todas las opiniones.
func (m *Market) Opinions() []domain.Opinion {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.Opinions()
}

// AnswerHistory devuelve el historial de respuestas de una opinión.
func (m *Market) AnswerHistory(id uint64) ([]domain.AnswerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.AnswerHistory(id)
}

// CompetitionStatus devuelve si la opinión está disputada y por quién.
func (m *Market) CompetitionStatus(id uint64) (registry.CompetitionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.Competition(id, m.now())
}

// QuestionsForSale devuelve las preguntas listadas para venta.
func (m *Market) QuestionsForSale() []domain.Opinion {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.ForSale()
}

// PoolDetails devuelve el pool, el precio actual de su opinión, lo que falta y el tiempo restante.
func (m *Market) PoolDetails(id uint64) (pools.Details, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pools.Details(id, m.now())
}

// PoolsForOpinion devuelve los pools abiertos alguna vez sobre una opinión.
func (m *Market) PoolsForOpinion(opinionID uint64) ([]domain.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.registry.Opinion(opinionID); err != nil {
		return nil, err
	}
	return m.pools.ForOpinion(opinionID), nil
}

// Pools devuelve todos los pools.
func (m *Market) Pools() []domain.Pool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pools.Pools()
}

// OwnerName resuelve el dueño de una respuesta para mostrarlo: el nombre del
// pool si es la identidad de un pool, la dirección en otro caso.
func (m *Market) OwnerName(owner domain.Identity) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name, ok := m.pools.PoolName(owner); ok {
		return name
	}
	return owner.Hex()
}

// Account devuelve el saldo de una identidad.
func (m *Market) Account(id domain.Identity) domain.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.Account(id)
}

// Accounts devuelve todas las cuentas con saldo.
func (m *Market) Accounts() []domain.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.Accounts()
}

// Supply devuelve el valor total custodiado por el mercado.
func (m *Market) Supply() domain.Amount {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.Supply()
}

// Params devuelve una copia de los parámetros vigentes.
func (m *Market) Params() domain.Params {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := *m.params
	p.Categories = slices.Clone(p.Categories)
	return p
}

// Roles devuelve los miembros de cada permiso.
func (m *Market) Roles() map[domain.Capability][]domain.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roles()
}

// HasRole devuelve true si id tiene el permiso.
func (m *Market) HasRole(id domain.Identity, c domain.Capability) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.access.Has(id, c)
}

// Events devuelve eventos persistidos con seq > afterSeq. Sin storage no hay historial.
func (m *Market) Events(ctx context.Context, afterSeq uint64, limit int) ([]domain.Event, error) {
	if m.storage == nil {
		return nil, nil
	}
	events, err := m.storage.ListEvents(ctx, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("market.Events: %w", err)
	}
	return events, nil
}

// Seq devuelve la posición del último evento emitido.
func (m *Market) Seq() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq
}

// ContributorsOf devuelve los contribuyentes de un pool, ordenados.
func (m *Market) ContributorsOf(poolID uint64) ([]domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.pools.Pool(poolID)
	if err != nil {
		return nil, err
	}
	return p.Contributors(), nil
}
