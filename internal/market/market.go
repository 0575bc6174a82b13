// Package market es la fachada del mercado de opiniones.
//
// Todas las operaciones pasan por un único mutex: el mercado procesa una
// secuencia global y estrictamente ordenada. Cada operación confirmada se
// persiste y se publica antes de soltar el lock, así los eventos salen en orden.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/opinionmarket/internal/application/ledger"
	"github.com/alejandrodnm/opinionmarket/internal/application/moderation"
	"github.com/alejandrodnm/opinionmarket/internal/application/pools"
	"github.com/alejandrodnm/opinionmarket/internal/application/registry"
	"github.com/alejandrodnm/opinionmarket/internal/domain"
	"github.com/alejandrodnm/opinionmarket/internal/ports"
)

// Option configura un Market.
type Option func(*Market)

// WithClock reemplaza el reloj (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Market) { m.now = now }
}

// WithStorage persiste cada operación confirmada.
func WithStorage(s ports.Storage) Option {
	return func(m *Market) { m.storage = s }
}

// WithPublisher añade un destino para los eventos.
func WithPublisher(p ports.EventPublisher) Option {
	return func(m *Market) { m.publishers = append(m.publishers, p) }
}

// Market compone ledger, registry, pools y moderación bajo un solo orden.
type Market struct {
	mu  sync.Mutex
	now func() time.Time

	params *domain.Params // compartido con los motores; solo cambia en UpdateParams
	access *domain.AccessControl

	ledger     *ledger.Ledger
	registry   *registry.Registry
	pools      *pools.Engine
	moderation *moderation.Controller

	storage    ports.Storage
	publishers []ports.EventPublisher

	seq        uint64
	rolesDirty bool
}

// New crea un mercado vacío con los parámetros dados.
func New(params domain.Params, opts ...Option) (*Market, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("market.New: %w", err)
	}
	m := &Market{
		now:    time.Now,
		params: &params,
		access: domain.NewAccessControl(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.ledger = ledger.New(m.params)
	m.registry = registry.New(m.params, m.ledger, m.access)
	m.pools = pools.New(m.params, m.registry, m.ledger)
	m.moderation = moderation.New(m.access, m.registry)
	return m, nil
}

// Restore reconstruye el estado desde el storage. Se llama una vez al arrancar.
// Las ventanas de competencia y el límite por bloque empiezan vacíos.
func (m *Market) Restore(ctx context.Context) error {
	if m.storage == nil {
		return nil
	}
	snap, err := m.storage.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("market.Restore: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.ledger.Restore(snap.Accounts)
	m.registry.Restore(snap.Opinions, snap.Nonce)
	m.pools.Restore(snap.Pools)
	for c, ids := range snap.Roles {
		for _, id := range ids {
			m.access.Grant(id, c)
		}
	}
	m.seq = snap.Seq

	slog.Info("market restored",
		"opinions", len(snap.Opinions),
		"pools", len(snap.Pools),
		"accounts", len(snap.Accounts),
		"seq", snap.Seq,
		"nonce", snap.Nonce,
	)
	return nil
}

// BootstrapRole concede un permiso sin comprobar al llamante. Solo para la
// configuración inicial (admins y moderadores del fichero de config).
func (m *Market) BootstrapRole(ctx context.Context, id domain.Identity, c domain.Capability) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.access.Grant(id, c) {
		m.rolesDirty = true
		m.commit(ctx, nil)
		slog.Info("role bootstrapped", "identity", id.Hex(), "capability", c)
	}
}

// commit numera los eventos, persiste lo modificado y publica. Se llama con el lock tomado.
// Los fallos aquí no deshacen la operación: el estado en memoria es la fuente de verdad.
func (m *Market) commit(ctx context.Context, events []domain.Event) {
	for i := range events {
		m.seq++
		events[i].Seq = m.seq
	}

	opinions := m.registry.TakeDirty()
	poolList := m.pools.TakeDirty()
	accounts := m.ledger.TakeDirty()
	rolesDirty := m.rolesDirty
	m.rolesDirty = false

	if m.storage != nil {
		m.persist(ctx, opinions, poolList, accounts, rolesDirty, events)
	}
	if len(events) == 0 {
		return
	}
	m.publish(ctx, events)
}

// publish entrega los eventos a todos los destinos en paralelo y espera a que
// terminen: con el lock tomado, cada destino los recibe en orden global.
func (m *Market) publish(ctx context.Context, events []domain.Event) {
	var wg sync.WaitGroup
	for _, p := range m.publishers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Publish(ctx, events); err != nil {
				slog.Warn("event publish failed", "err", err, "events", len(events), "first_seq", events[0].Seq)
			}
		}()
	}
	wg.Wait()
}

func (m *Market) persist(ctx context.Context, opinions []domain.Opinion, poolList []domain.Pool, accounts []domain.Account, roles bool, events []domain.Event) {
	for _, op := range opinions {
		if err := m.storage.SaveOpinion(ctx, op); err != nil {
			slog.Warn("persist opinion failed", "opinion_id", op.ID, "err", err)
		}
	}
	for _, p := range poolList {
		if err := m.storage.SavePool(ctx, p); err != nil {
			slog.Warn("persist pool failed", "pool_id", p.ID, "err", err)
		}
	}
	if len(accounts) > 0 {
		if err := m.storage.SaveAccounts(ctx, accounts); err != nil {
			slog.Warn("persist accounts failed", "accounts", len(accounts), "err", err)
		}
	}
	if roles {
		if err := m.storage.SaveRoles(ctx, m.roles()); err != nil {
			slog.Warn("persist roles failed", "err", err)
		}
	}
	if len(events) > 0 {
		if err := m.storage.AppendEvents(ctx, events, m.seq, m.registry.Nonce()); err != nil {
			slog.Warn("persist events failed", "first_seq", events[0].Seq, "err", err)
		}
	}
}

func (m *Market) roles() map[domain.Capability][]domain.Identity {
	return map[domain.Capability][]domain.Identity{
		domain.CapAdmin:     m.access.Members(domain.CapAdmin),
		domain.CapModerator: m.access.Members(domain.CapModerator),
		domain.CapTreasury:  m.access.Members(domain.CapTreasury),
	}
}

// shareRewards reparte entre contribuyentes lo cobrado por un pool desplazado.
func (m *Market) shareRewards(trade ports.Trade, now time.Time) []domain.Event {
	rewards, err := m.pools.ShareRewards(trade.PreviousOwner)
	if err != nil {
		slog.Error("pool reward sharing failed", "opinion_id", trade.OpinionID, "err", err)
		return nil
	}
	events := make([]domain.Event, 0, len(rewards))
	for _, r := range rewards {
		events = append(events, rewardEvent(trade, r, now))
	}
	return events
}
