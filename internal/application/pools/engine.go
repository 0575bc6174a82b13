// Package pools implementa el crowdfunding de cambios de respuesta.
//
// Un pool guarda solo el ID de su opinión y habla con el registry a través de
// ports.OpinionMarket. El dinero aportado vive en el saldo de la identidad del pool.
package pools

import (
	"fmt"
	"log/slog"
	"maps"
	"math/bits"
	"slices"
	"time"

	"github.com/alejandrodnm/opinionmarket/internal/domain"
	"github.com/alejandrodnm/opinionmarket/internal/ports"
)

// CreateRequest son los datos de un pool nuevo.
type CreateRequest struct {
	OpinionID           uint64
	ProposedAnswer      string
	ProposedDescription string
	Name                string
	Deadline            time.Time
	InitialContribution domain.Amount
}

// Execution es la compra de la respuesta por parte de un pool.
type Execution struct {
	Pool  domain.Pool
	Trade ports.Trade
}

// Contribution es el resultado de una aportación (o de la creación del pool).
type Contribution struct {
	Pool        domain.Pool
	Contributor domain.Identity
	Amount      domain.Amount // aceptado, nunca más que lo que faltaba
	Fee         domain.Amount
	Execution   *Execution // no nil si la aportación completó el pool
}

// Reward es la parte de un contribuyente en lo cobrado por su pool.
type Reward struct {
	PoolID      uint64
	Contributor domain.Identity
	Amount      domain.Amount
}

// Details es la vista de un pool para lectores externos.
type Details struct {
	Pool          domain.Pool
	CurrentPrice  domain.Amount // nextPrice actual de la opinión
	Remaining     domain.Amount
	TimeRemaining time.Duration
}

// Engine es el dueño de los pools. No es seguro para uso concurrente.
type Engine struct {
	params *domain.Params
	market ports.OpinionMarket
	funds  ports.Funds

	pools      map[uint64]*domain.Pool
	byIdentity map[domain.Identity]uint64
	lastID     uint64
	dirty      map[uint64]struct{}
}

// New crea un Engine vacío.
func New(params *domain.Params, market ports.OpinionMarket, funds ports.Funds) *Engine {
	return &Engine{
		params:     params,
		market:     market,
		funds:      funds,
		pools:      make(map[uint64]*domain.Pool),
		byIdentity: make(map[domain.Identity]uint64),
		dirty:      make(map[uint64]struct{}),
	}
}

// Create abre un pool con objetivo = nextPrice actual de la opinión.
// Cobra la comisión de creación más la aportación inicial.
func (e *Engine) Create(creator domain.Identity, req CreateRequest, now time.Time) (Contribution, error) {
	p := e.params
	op, err := e.market.Opinion(req.OpinionID)
	if err != nil {
		return Contribution{}, fmt.Errorf("pools.Create: %w", err)
	}
	if !op.IsActive {
		return Contribution{}, fmt.Errorf("pools.Create: opinion %d: %w", op.ID, domain.ErrOpinionInactive)
	}
	answer, err := domain.CleanText("proposed answer", req.ProposedAnswer, p.MaxAnswerLen, true)
	if err != nil {
		return Contribution{}, fmt.Errorf("pools.Create: %w", err)
	}
	description, err := domain.CleanText("proposed description", req.ProposedDescription, p.MaxDescriptionLen, false)
	if err != nil {
		return Contribution{}, fmt.Errorf("pools.Create: %w", err)
	}
	name, err := domain.CleanText("pool name", req.Name, p.MaxPoolNameLen, true)
	if err != nil {
		return Contribution{}, fmt.Errorf("pools.Create: %w", err)
	}
	if answer == op.CurrentAnswer {
		return Contribution{}, fmt.Errorf("pools.Create: opinion %d: %w", op.ID, domain.ErrSameAnswer)
	}
	switch d := req.Deadline.Sub(now); {
	case d < p.MinPoolDuration:
		return Contribution{}, fmt.Errorf("pools.Create: %w: %s from now, min %s", domain.ErrDeadlineTooSoon, d, p.MinPoolDuration)
	case d > p.MaxPoolDuration:
		return Contribution{}, fmt.Errorf("pools.Create: %w: %s from now, max %s", domain.ErrDeadlineTooFar, d, p.MaxPoolDuration)
	}
	if req.InitialContribution <= 0 {
		return Contribution{}, fmt.Errorf("pools.Create: %w: initial contribution %s", domain.ErrInvalidAmount, req.InitialContribution)
	}

	pool := &domain.Pool{
		ID:                  e.lastID + 1,
		OpinionID:           op.ID,
		Creator:             creator,
		Name:                name,
		ProposedAnswer:      answer,
		ProposedDescription: description,
		TargetPrice:         op.NextPrice,
		Deadline:            req.Deadline,
		Status:              domain.PoolActive,
		Contributions:       make(map[domain.Identity]domain.Amount),
		Withdrawn:           make(map[domain.Identity]bool),
		CreatedAt:           now,
	}
	c, err := e.fund(pool, creator, req.InitialContribution, p.PoolCreationFee, now)
	if err != nil {
		return Contribution{}, fmt.Errorf("pools.Create: %w", err)
	}

	e.lastID = pool.ID
	e.pools[pool.ID] = pool
	e.byIdentity[pool.Identity()] = pool.ID
	e.touch(pool.ID)
	c.Pool = pool.Clone()

	slog.Info("pool created",
		"pool_id", pool.ID,
		"opinion_id", op.ID,
		"creator", creator.Hex(),
		"target", pool.TargetPrice,
		"deadline", pool.Deadline,
	)
	return c, nil
}

// Contribute añade amount al pool. Lo que exceda lo que falta para el objetivo no se cobra.
// Si el total llega al objetivo, el pool se ejecuta en la misma operación.
func (e *Engine) Contribute(caller domain.Identity, poolID uint64, amount domain.Amount, now time.Time) (Contribution, error) {
	pool, err := e.get(poolID)
	if err != nil {
		return Contribution{}, fmt.Errorf("pools.Contribute: %w", err)
	}
	if err := e.requireOpen(pool, now); err != nil {
		return Contribution{}, fmt.Errorf("pools.Contribute: %w", err)
	}
	if amount <= 0 {
		return Contribution{}, fmt.Errorf("pools.Contribute: %w: amount %s", domain.ErrInvalidAmount, amount)
	}
	c, err := e.fund(pool, caller, amount, e.params.PoolContributionFee, now)
	if err != nil {
		return Contribution{}, fmt.Errorf("pools.Contribute: %w", err)
	}
	e.touch(pool.ID)
	c.Pool = pool.Clone()
	return c, nil
}

// fund cobra fee + aportación a contributor y, si se alcanza el objetivo, ejecuta.
// Si la ejecución falla, la aportación se devuelve y el pool queda como estaba.
func (e *Engine) fund(pool *domain.Pool, contributor domain.Identity, amount, fee domain.Amount, now time.Time) (Contribution, error) {
	accepted := domain.MinAmount(amount, pool.Remaining())
	if accepted <= 0 {
		return Contribution{}, fmt.Errorf("%w: pool %d is fully funded", domain.ErrInvalidAmount, pool.ID)
	}
	if err := e.funds.Require(contributor, accepted+fee); err != nil {
		return Contribution{}, err
	}
	if err := e.funds.Transfer(contributor, pool.Identity(), accepted); err != nil {
		return Contribution{}, err
	}

	pool.TotalAmount += accepted
	pool.Contributions[contributor] += accepted

	var exec *Execution
	if pool.TotalAmount >= pool.TargetPrice {
		x, err := e.execute(pool, now)
		if err != nil {
			pool.TotalAmount -= accepted
			pool.Contributions[contributor] -= accepted
			if pool.Contributions[contributor] == 0 {
				delete(pool.Contributions, contributor)
			}
			if rerr := e.funds.Transfer(pool.Identity(), contributor, accepted); rerr != nil {
				return Contribution{}, fmt.Errorf("refund after failed execution: %w (execution: %v)", rerr, err)
			}
			return Contribution{}, fmt.Errorf("execute: %w", err)
		}
		exec = &x
	}

	if err := e.funds.PayTreasury(contributor, fee); err != nil {
		return Contribution{}, err
	}

	slog.Debug("pool contribution",
		"pool_id", pool.ID,
		"contributor", contributor.Hex(),
		"amount", accepted,
		"total", pool.TotalAmount,
		"target", pool.TargetPrice,
	)
	return Contribution{
		Contributor: contributor,
		Amount:      accepted,
		Fee:         fee,
		Execution:   exec,
	}, nil
}

// Complete ejecuta un pool cuyo resto está dentro de la tolerancia o por debajo
// del umbral micro. El hueco no se cobra: se compra al total aportado.
func (e *Engine) Complete(caller domain.Identity, poolID uint64, now time.Time) (Execution, error) {
	pool, err := e.get(poolID)
	if err != nil {
		return Execution{}, fmt.Errorf("pools.Complete: %w", err)
	}
	if err := e.requireOpen(pool, now); err != nil {
		return Execution{}, fmt.Errorf("pools.Complete: %w", err)
	}
	if !pool.CanComplete(e.params.MicroAmountThreshold) {
		return Execution{}, fmt.Errorf("pools.Complete: %w", &domain.TargetNotReachedError{Remaining: pool.Remaining()})
	}
	x, err := e.execute(pool, now)
	if err != nil {
		return Execution{}, fmt.Errorf("pools.Complete: %w", err)
	}
	slog.Info("pool completed", "pool_id", pool.ID, "by", caller.Hex(), "gap", pool.TargetPrice-pool.TotalAmount)
	return x, nil
}

// execute compra la respuesta para el pool con todo lo aportado.
func (e *Engine) execute(pool *domain.Pool, now time.Time) (Execution, error) {
	trade, err := e.market.Acquire(ports.Acquisition{
		OpinionID:   pool.OpinionID,
		Buyer:       pool.Identity(),
		Answer:      pool.ProposedAnswer,
		Description: pool.ProposedDescription,
		Price:       pool.TotalAmount,
	}, now)
	if err != nil {
		return Execution{}, err
	}
	pool.Status = domain.PoolExecuted
	pool.ExecutedAt = now
	e.touch(pool.ID)

	slog.Info("pool executed",
		"pool_id", pool.ID,
		"opinion_id", pool.OpinionID,
		"price", trade.Price,
		"contributors", len(pool.Contributions),
	)
	return Execution{Pool: pool.Clone(), Trade: trade}, nil
}

// Expire marca como EXPIRED un pool activo cuyo plazo ha vencido. Cualquiera puede llamarlo.
func (e *Engine) Expire(caller domain.Identity, poolID uint64, now time.Time) (domain.Pool, error) {
	pool, err := e.get(poolID)
	if err != nil {
		return domain.Pool{}, fmt.Errorf("pools.Expire: %w", err)
	}
	if !pool.Status.CanTransition(domain.PoolExpired) {
		return domain.Pool{}, fmt.Errorf("pools.Expire: pool %d is %s: %w", pool.ID, pool.Status, domain.ErrPoolNotActive)
	}
	if now.Before(pool.Deadline) {
		return domain.Pool{}, fmt.Errorf("pools.Expire: pool %d until %s: %w", pool.ID, pool.Deadline, domain.ErrPoolNotExpirable)
	}
	pool.Status = domain.PoolExpired
	e.touch(pool.ID)
	slog.Info("pool expired", "pool_id", pool.ID, "by", caller.Hex(), "total", pool.TotalAmount)
	return pool.Clone(), nil
}

// Withdraw devuelve al llamante su aportación a un pool expirado. Solo una vez.
func (e *Engine) Withdraw(caller domain.Identity, poolID uint64) (domain.Amount, error) {
	pool, err := e.get(poolID)
	if err != nil {
		return 0, fmt.Errorf("pools.Withdraw: %w", err)
	}
	if pool.Status != domain.PoolExpired {
		return 0, fmt.Errorf("pools.Withdraw: pool %d is %s: %w", pool.ID, pool.Status, domain.ErrPoolNotExpired)
	}
	amount := pool.Contributions[caller]
	if amount == 0 || pool.Withdrawn[caller] {
		return 0, fmt.Errorf("pools.Withdraw: pool %d: %w", pool.ID, domain.ErrNothingToWithdraw)
	}
	if err := e.funds.Transfer(pool.Identity(), caller, amount); err != nil {
		return 0, fmt.Errorf("pools.Withdraw: %w", err)
	}
	pool.Withdrawn[caller] = true
	e.touch(pool.ID)
	return amount, nil
}

// ShareRewards reparte lo reclamable acumulado por la identidad de un pool entre
// sus contribuyentes, a prorrata. El resto de la división va al creador del pool.
// Para identidades que no son de un pool no hace nada.
func (e *Engine) ShareRewards(owner domain.Identity) ([]Reward, error) {
	id, ok := e.byIdentity[owner]
	if !ok {
		return nil, nil
	}
	pool := e.pools[id]
	total := e.funds.Claimable(owner)
	if total <= 0 || pool.TotalAmount <= 0 {
		return nil, nil
	}

	var (
		rewards []Reward
		paid    domain.Amount
	)
	for _, c := range pool.Contributors() {
		share := proRata(total, pool.Contributions[c], pool.TotalAmount)
		if share == 0 {
			continue
		}
		rewards = append(rewards, Reward{PoolID: id, Contributor: c, Amount: share})
		paid += share
	}
	if rest := total - paid; rest > 0 {
		rewards = append(rewards, Reward{PoolID: id, Contributor: pool.Creator, Amount: rest})
	}
	for _, r := range rewards {
		if err := e.funds.MoveClaimable(owner, r.Contributor, r.Amount); err != nil {
			return nil, fmt.Errorf("pools.ShareRewards: pool %d: %w", id, err)
		}
	}
	slog.Debug("pool rewards shared", "pool_id", id, "total", total, "recipients", len(rewards))
	return rewards, nil
}

// proRata devuelve total × part / whole truncado, sin desbordar.
func proRata(total, part, whole domain.Amount) domain.Amount {
	hi, lo := bits.Mul64(uint64(total), uint64(part))
	q, _ := bits.Div64(hi, lo, uint64(whole))
	return domain.Amount(q)
}

// Pool devuelve una copia del pool.
func (e *Engine) Pool(id uint64) (domain.Pool, error) {
	pool, err := e.get(id)
	if err != nil {
		return domain.Pool{}, err
	}
	return pool.Clone(), nil
}

// Details devuelve el pool junto con el precio actual de su opinión y lo que falta.
func (e *Engine) Details(id uint64, now time.Time) (Details, error) {
	pool, err := e.get(id)
	if err != nil {
		return Details{}, err
	}
	op, err := e.market.Opinion(pool.OpinionID)
	if err != nil {
		return Details{}, err
	}
	left := time.Duration(0)
	if pool.Status == domain.PoolActive && now.Before(pool.Deadline) {
		left = pool.Deadline.Sub(now)
	}
	return Details{
		Pool:          pool.Clone(),
		CurrentPrice:  op.NextPrice,
		Remaining:     pool.Remaining(),
		TimeRemaining: left,
	}, nil
}

// ForOpinion devuelve los pools de una opinión, por ID.
func (e *Engine) ForOpinion(opinionID uint64) []domain.Pool {
	var out []domain.Pool
	for _, id := range e.ids() {
		if p := e.pools[id]; p.OpinionID == opinionID {
			out = append(out, p.Clone())
		}
	}
	return out
}

// Pools devuelve todos los pools, por ID.
func (e *Engine) Pools() []domain.Pool {
	out := make([]domain.Pool, 0, len(e.pools))
	for _, id := range e.ids() {
		out = append(out, e.pools[id].Clone())
	}
	return out
}

// PoolName resuelve la identidad de un pool a su nombre, para mostrar dueños de respuestas.
func (e *Engine) PoolName(owner domain.Identity) (string, bool) {
	id, ok := e.byIdentity[owner]
	if !ok {
		return "", false
	}
	return e.pools[id].Name, true
}

// TakeDirty devuelve los pools modificados desde la última llamada.
func (e *Engine) TakeDirty() []domain.Pool {
	ids := slices.Sorted(maps.Keys(e.dirty))
	clear(e.dirty)
	out := make([]domain.Pool, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.pools[id].Clone())
	}
	return out
}

// Restore reemplaza los pools con el estado persistido.
func (e *Engine) Restore(pools []domain.Pool) {
	clear(e.pools)
	clear(e.byIdentity)
	clear(e.dirty)
	e.lastID = 0
	for _, p := range pools {
		p := p.Clone()
		if p.Contributions == nil {
			p.Contributions = make(map[domain.Identity]domain.Amount)
		}
		if p.Withdrawn == nil {
			p.Withdrawn = make(map[domain.Identity]bool)
		}
		e.pools[p.ID] = &p
		e.byIdentity[p.Identity()] = p.ID
		e.lastID = max(e.lastID, p.ID)
	}
}

func (e *Engine) requireOpen(pool *domain.Pool, now time.Time) error {
	if pool.Status != domain.PoolActive {
		return fmt.Errorf("pool %d is %s: %w", pool.ID, pool.Status, domain.ErrPoolNotActive)
	}
	if !now.Before(pool.Deadline) {
		return fmt.Errorf("pool %d: %w", pool.ID, domain.ErrPoolDeadlinePassed)
	}
	return nil
}

func (e *Engine) get(id uint64) (*domain.Pool, error) {
	pool, ok := e.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", domain.ErrPoolNotFound, id)
	}
	return pool, nil
}

func (e *Engine) ids() []uint64 {
	return slices.Sorted(maps.Keys(e.pools))
}

func (e *Engine) touch(id uint64) {
	e.dirty[id] = struct{}{}
}
