package market

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/alejandrodnm/opinionmarket/internal/application/pools"
	"github.com/alejandrodnm/opinionmarket/internal/application/registry"
	"github.com/alejandrodnm/opinionmarket/internal/domain"
	"github.com/alejandrodnm/opinionmarket/internal/ports"
)

// requireCaller rechaza la identidad vacía y las identidades de pools:
// un pool solo actúa a través del motor de pools.
func (m *Market) requireCaller(caller domain.Identity) error {
	if caller == domain.NoIdentity {
		return fmt.Errorf("market: %w: empty caller", domain.ErrInvalidIdentity)
	}
	if _, ok := m.pools.PoolName(caller); ok {
		return fmt.Errorf("market: %w: %s is a pool identity", domain.ErrUnauthorized, caller.Hex())
	}
	return nil
}

// Deposit abona amount al saldo gastable del llamante.
func (m *Market) Deposit(ctx context.Context, caller domain.Identity, amount domain.Amount) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireCaller(caller); err != nil {
		return domain.Account{}, err
	}
	if err := m.ledger.Deposit(caller, amount); err != nil {
		return domain.Account{}, err
	}
	m.commit(ctx, []domain.Event{fundsEvent(domain.EventFundsDeposited, caller, amount, m.now())})
	return m.ledger.Account(caller), nil
}

// Withdraw saca amount del saldo gastable del llamante.
func (m *Market) Withdraw(ctx context.Context, caller domain.Identity, amount domain.Amount) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireCaller(caller); err != nil {
		return domain.Account{}, err
	}
	if err := m.ledger.Withdraw(caller, amount); err != nil {
		return domain.Account{}, err
	}
	m.commit(ctx, []domain.Event{fundsEvent(domain.EventFundsWithdrawn, caller, amount, m.now())})
	return m.ledger.Account(caller), nil
}

// ClaimFees pasa todo lo reclamable del llamante a su saldo gastable.
func (m *Market) ClaimFees(ctx context.Context, caller domain.Identity) (domain.Amount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireCaller(caller); err != nil {
		return 0, err
	}
	claimed, err := m.ledger.Claim(caller)
	if err != nil {
		return 0, err
	}
	m.commit(ctx, []domain.Event{fundsEvent(domain.EventFeesClaimed, caller, claimed, m.now())})
	return claimed, nil
}

// WithdrawTreasury mueve amount de la tesorería a `to`. Requiere TREASURY.
func (m *Market) WithdrawTreasury(ctx context.Context, caller, to domain.Identity, amount domain.Amount) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.access.Require(caller, domain.CapTreasury); err != nil {
		return domain.Account{}, fmt.Errorf("market.WithdrawTreasury: %w", err)
	}
	if to == domain.NoIdentity || amount <= 0 {
		return domain.Account{}, fmt.Errorf("market.WithdrawTreasury: %w: %s to %s", domain.ErrInvalidAmount, amount, to.Hex())
	}
	if err := m.ledger.Transfer(m.params.Treasury, to, amount); err != nil {
		return domain.Account{}, fmt.Errorf("market.WithdrawTreasury: %w", err)
	}
	e := fundsEvent(domain.EventFundsWithdrawn, caller, amount, m.now())
	e.Counterparty = to
	e.Detail = "treasury"
	m.commit(ctx, []domain.Event{e})
	return m.ledger.Account(m.params.Treasury), nil
}

// CreateOpinion publica una pregunta con su respuesta inicial.
func (m *Market) CreateOpinion(ctx context.Context, caller domain.Identity, req registry.CreateRequest) (registry.Creation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireCaller(caller); err != nil {
		return registry.Creation{}, err
	}
	now := m.now()
	c, err := m.registry.Create(caller, req, now)
	if err != nil {
		return registry.Creation{}, err
	}
	m.commit(ctx, creationEvents(c, now))
	return c, nil
}

// SubmitAnswer compra la respuesta de una opinión al nextPrice vigente.
func (m *Market) SubmitAnswer(ctx context.Context, caller domain.Identity, req registry.SubmitRequest) (ports.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireCaller(caller); err != nil {
		return ports.Trade{}, err
	}
	now := m.now()
	trade, err := m.registry.Submit(caller, req, now)
	if err != nil {
		return ports.Trade{}, err
	}
	op, _ := m.registry.Opinion(trade.OpinionID)
	events := tradeEvents(trade, op.CurrentAnswer, now)
	events = append(events, m.shareRewards(trade, now)...)
	m.commit(ctx, events)
	return trade, nil
}

// DeactivateOpinion bloquea nuevos envíos y pools sobre la opinión.
func (m *Market) DeactivateOpinion(ctx context.Context, caller domain.Identity, id uint64) (domain.Opinion, error) {
	return m.setActive(ctx, caller, id, false)
}

// ReactivateOpinion vuelve a abrir la opinión.
func (m *Market) ReactivateOpinion(ctx context.Context, caller domain.Identity, id uint64) (domain.Opinion, error) {
	return m.setActive(ctx, caller, id, true)
}

func (m *Market) setActive(ctx context.Context, caller domain.Identity, id uint64, active bool) (domain.Opinion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, err := m.registry.SetActive(caller, id, active)
	if err != nil {
		return domain.Opinion{}, err
	}
	t := domain.EventOpinionDeactivated
	if active {
		t = domain.EventOpinionReactivated
	}
	m.commit(ctx, []domain.Event{opinionEvent(t, caller, op, m.now())})
	return op, nil
}

// ListQuestionForSale pone la pregunta a la venta por price.
func (m *Market) ListQuestionForSale(ctx context.Context, caller domain.Identity, id uint64, price domain.Amount) (domain.Opinion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, err := m.registry.ListForSale(caller, id, price)
	if err != nil {
		return domain.Opinion{}, err
	}
	m.commit(ctx, []domain.Event{opinionEvent(domain.EventQuestionListed, caller, op, m.now())})
	return op, nil
}

// CancelQuestionSale retira la pregunta de la venta.
func (m *Market) CancelQuestionSale(ctx context.Context, caller domain.Identity, id uint64) (domain.Opinion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, err := m.registry.CancelSale(caller, id)
	if err != nil {
		return domain.Opinion{}, err
	}
	m.commit(ctx, []domain.Event{opinionEvent(domain.EventQuestionSaleCancel, caller, op, m.now())})
	return op, nil
}

// BuyQuestion compra la propiedad de la pregunta. expected = 0 acepta el precio listado.
func (m *Market) BuyQuestion(ctx context.Context, caller domain.Identity, id uint64, expected domain.Amount) (registry.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireCaller(caller); err != nil {
		return registry.Sale{}, err
	}
	sale, err := m.registry.BuyQuestion(caller, id, expected)
	if err != nil {
		return registry.Sale{}, err
	}
	m.commit(ctx, []domain.Event{saleEvent(sale, m.now())})
	return sale, nil
}

// ModerateAnswer revierte la respuesta a la original del creador. Requiere MODERATOR.
func (m *Market) ModerateAnswer(ctx context.Context, caller domain.Identity, id uint64, reason string) (registry.Moderation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	mod, err := m.moderation.ModerateAnswer(caller, id, reason, now)
	if err != nil {
		return registry.Moderation{}, err
	}
	m.commit(ctx, []domain.Event{moderationEvent(caller, mod, now)})
	return mod, nil
}

// CreatePool abre un pool para cambiar la respuesta de una opinión.
func (m *Market) CreatePool(ctx context.Context, caller domain.Identity, req pools.CreateRequest) (pools.Contribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireCaller(caller); err != nil {
		return pools.Contribution{}, err
	}
	now := m.now()
	c, err := m.pools.Create(caller, req, now)
	if err != nil {
		return pools.Contribution{}, err
	}
	created := poolEvent(domain.EventPoolCreated, caller, c.Pool, now)
	created.Amount = c.Amount
	created.PlatformFee = c.Fee
	created.Detail = c.Pool.Name
	events := []domain.Event{created}
	if c.Execution != nil {
		events = append(events, m.executionEvents(caller, *c.Execution, now)...)
	}
	m.commit(ctx, events)
	return c, nil
}

// ContributeToPool aporta amount (más la comisión fija) a un pool activo.
func (m *Market) ContributeToPool(ctx context.Context, caller domain.Identity, poolID uint64, amount domain.Amount) (pools.Contribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireCaller(caller); err != nil {
		return pools.Contribution{}, err
	}
	now := m.now()
	c, err := m.pools.Contribute(caller, poolID, amount, now)
	if err != nil {
		return pools.Contribution{}, err
	}
	events := []domain.Event{contributionEvent(c, now)}
	if c.Execution != nil {
		events = append(events, m.executionEvents(caller, *c.Execution, now)...)
	}
	m.commit(ctx, events)
	return c, nil
}

// CompletePool ejecuta un pool que está dentro de la tolerancia de su objetivo.
func (m *Market) CompletePool(ctx context.Context, caller domain.Identity, poolID uint64) (pools.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	x, err := m.pools.Complete(caller, poolID, now)
	if err != nil {
		return pools.Execution{}, err
	}
	m.commit(ctx, m.executionEvents(caller, x, now))
	return x, nil
}

// ExpirePool marca como expirado un pool vencido.
func (m *Market) ExpirePool(ctx context.Context, caller domain.Identity, poolID uint64) (domain.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	p, err := m.pools.Expire(caller, poolID, now)
	if err != nil {
		return domain.Pool{}, err
	}
	e := poolEvent(domain.EventPoolExpired, caller, p, now)
	e.Amount = p.TotalAmount
	m.commit(ctx, []domain.Event{e})
	return p, nil
}

// ExpireDuePools expira todos los pools activos con el plazo vencido.
// Lo usa el barrido periódico; el actor de los eventos es la identidad vacía.
func (m *Market) ExpireDuePools(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var events []domain.Event
	for _, p := range m.pools.Pools() {
		if p.Status != domain.PoolActive || now.Before(p.Deadline) {
			continue
		}
		expired, err := m.pools.Expire(domain.NoIdentity, p.ID, now)
		if err != nil {
			slog.Warn("pool sweep failed", "pool_id", p.ID, "err", err)
			continue
		}
		e := poolEvent(domain.EventPoolExpired, domain.NoIdentity, expired, now)
		e.Amount = expired.TotalAmount
		events = append(events, e)
	}
	if len(events) > 0 {
		m.commit(ctx, events)
	}
	return len(events)
}

// WithdrawFromPool devuelve la aportación del llamante a un pool expirado.
func (m *Market) WithdrawFromPool(ctx context.Context, caller domain.Identity, poolID uint64) (domain.Amount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	amount, err := m.pools.Withdraw(caller, poolID)
	if err != nil {
		return 0, err
	}
	p, _ := m.pools.Pool(poolID)
	e := poolEvent(domain.EventPoolWithdrawn, caller, p, m.now())
	e.Amount = amount
	m.commit(ctx, []domain.Event{e})
	return amount, nil
}

// UpdateParams reemplaza los parámetros económicos. Requiere ADMIN.
func (m *Market) UpdateParams(ctx context.Context, caller domain.Identity, p domain.Params) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.access.Require(caller, domain.CapAdmin); err != nil {
		return fmt.Errorf("market.UpdateParams: %w", err)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("market.UpdateParams: %w", err)
	}
	p.Categories = slices.Clone(p.Categories)
	oldTreasury := m.params.Treasury
	*m.params = p
	m.registry.ApplyParams()

	now := m.now()
	events := []domain.Event{domain.NewEvent(domain.EventParamsUpdated, caller, now)}
	events[0].Counterparty = p.Treasury
	// El saldo acumulado sigue a la tesorería: WithdrawTreasury solo lee la vigente.
	if moved := m.ledger.MoveBalance(oldTreasury, p.Treasury); moved > 0 {
		e := domain.NewEvent(domain.EventTreasuryMoved, caller, now)
		e.Counterparty = p.Treasury
		e.Amount = moved
		e.Detail = oldTreasury.Hex()
		events = append(events, e)
	}
	slog.Info("params updated", "by", caller.Hex(), "treasury", p.Treasury.Hex(), "old_treasury", oldTreasury.Hex())
	m.commit(ctx, events)
	return nil
}

// GrantRole concede un permiso. Requiere ADMIN. Conceder uno ya concedido no hace nada.
func (m *Market) GrantRole(ctx context.Context, caller, target domain.Identity, c domain.Capability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.access.Require(caller, domain.CapAdmin); err != nil {
		return fmt.Errorf("market.GrantRole: %w", err)
	}
	if target == domain.NoIdentity {
		return fmt.Errorf("market.GrantRole: %w", domain.ErrInvalidIdentity)
	}
	if !m.access.Grant(target, c) {
		return nil
	}
	m.rolesDirty = true
	e := domain.NewEvent(domain.EventRoleGranted, caller, m.now())
	e.Counterparty = target
	e.Detail = string(c)
	m.commit(ctx, []domain.Event{e})
	return nil
}

// RevokeRole retira un permiso. Requiere ADMIN. El último admin no se puede retirar.
func (m *Market) RevokeRole(ctx context.Context, caller, target domain.Identity, c domain.Capability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.access.Require(caller, domain.CapAdmin); err != nil {
		return fmt.Errorf("market.RevokeRole: %w", err)
	}
	if c == domain.CapAdmin && m.access.Has(target, c) && len(m.access.Members(c)) == 1 {
		return fmt.Errorf("market.RevokeRole: %w: cannot revoke the last admin", domain.ErrInvalidParams)
	}
	if !m.access.Revoke(target, c) {
		return nil
	}
	m.rolesDirty = true
	e := domain.NewEvent(domain.EventRoleRevoked, caller, m.now())
	e.Counterparty = target
	e.Detail = string(c)
	m.commit(ctx, []domain.Event{e})
	return nil
}
