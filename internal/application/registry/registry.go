// Package registry es el dueño único del estado de las opiniones.
//
// Cada operación sigue el mismo orden: validar, calcular, cobrar (atómico en el
// ledger) y solo entonces mutar. Si algo falla antes de mutar, no queda rastro.
package registry

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/alejandrodnm/opinionmarket/internal/domain"
	"github.com/alejandrodnm/opinionmarket/internal/ports"
)

// CreateRequest son los datos de una opinión nueva.
type CreateRequest struct {
	Question     string
	Answer       string
	Description  string
	InitialPrice domain.Amount
	Categories   []string
}

// SubmitRequest es un envío de respuesta. ExpectedPrice = 0 acepta el nextPrice vigente.
type SubmitRequest struct {
	OpinionID     uint64
	Answer        string
	Description   string
	ExpectedPrice domain.Amount
}

// Creation es el resultado de crear una opinión.
type Creation struct {
	Opinion     domain.Opinion
	CreationFee domain.Amount
}

// Sale es el resultado de la compra de una pregunta.
type Sale struct {
	OpinionID    uint64
	Seller       domain.Identity
	Buyer        domain.Identity
	Price        domain.Amount
	PlatformFee  domain.Amount
	SellerAmount domain.Amount
}

// Moderation es el resultado de revertir una respuesta.
type Moderation struct {
	OpinionID     uint64
	PreviousOwner domain.Identity
	Entry         domain.AnswerEntry
	NextPrice     domain.Amount
}

// CompetitionStatus resume la ventana de competencia de una opinión.
type CompetitionStatus struct {
	OpinionID     uint64
	IsCompetitive bool
	TraderCount   int
	Traders       []domain.Identity
	Activity      domain.ActivityLevel
}

// Registry contiene las opiniones, el tracker de competencia, el nonce de trades
// y el límite de trades por bloque. No es seguro para uso concurrente.
type Registry struct {
	params  *domain.Params
	funds   ports.Funds
	access  *domain.AccessControl
	tracker *domain.CompetitionTracker
	limiter blockLimiter

	opinions map[uint64]*domain.Opinion
	lastID   uint64
	nonce    uint64
	dirty    map[uint64]struct{}
}

// New crea un registry vacío.
func New(params *domain.Params, funds ports.Funds, access *domain.AccessControl) *Registry {
	return &Registry{
		params:   params,
		funds:    funds,
		access:   access,
		tracker:  domain.NewCompetitionTracker(params.CompetitionWindow),
		opinions: make(map[uint64]*domain.Opinion),
		dirty:    make(map[uint64]struct{}),
	}
}

var _ ports.OpinionMarket = (*Registry)(nil)

// Create valida y registra una opinión nueva cobrando la comisión de creación.
// lastPrice y nextPrice quedan iguales al precio inicial: no se consulta el motor de precios.
func (r *Registry) Create(creator domain.Identity, req CreateRequest, now time.Time) (Creation, error) {
	p := r.params
	if req.InitialPrice < p.MinInitialPrice || req.InitialPrice > p.MaxInitialPrice {
		return Creation{}, fmt.Errorf("registry.Create: %w: %s not in %s..%s",
			domain.ErrInvalidInitialPrice, req.InitialPrice, p.MinInitialPrice, p.MaxInitialPrice)
	}
	categories, err := p.CleanCategories(req.Categories)
	if err != nil {
		return Creation{}, fmt.Errorf("registry.Create: %w", err)
	}
	question, err := domain.CleanText("question", req.Question, p.MaxQuestionLen, true)
	if err != nil {
		return Creation{}, fmt.Errorf("registry.Create: %w", err)
	}
	answer, description, err := r.cleanAnswer(req.Answer, req.Description)
	if err != nil {
		return Creation{}, fmt.Errorf("registry.Create: %w", err)
	}

	fee := p.Fees.CreationFee(req.InitialPrice)
	if err := r.funds.PayTreasury(creator, fee); err != nil {
		return Creation{}, fmt.Errorf("registry.Create: creation fee: %w", err)
	}

	r.lastID++
	op := &domain.Opinion{
		ID:                       r.lastID,
		Question:                 question,
		Creator:                  creator,
		QuestionOwner:            creator,
		CurrentAnswerOwner:       creator,
		CurrentAnswer:            answer,
		CurrentAnswerDescription: description,
		LastPrice:                req.InitialPrice,
		NextPrice:                req.InitialPrice,
		IsActive:                 true,
		Categories:               categories,
		AnswerHistory: []domain.AnswerEntry{{
			Answer:      answer,
			Description: description,
			Owner:       creator,
			Price:       req.InitialPrice,
			Timestamp:   now,
		}},
		CreatedAt: now,
	}
	r.opinions[op.ID] = op
	r.touch(op.ID)

	slog.Info("opinion created",
		"opinion_id", op.ID,
		"creator", creator.Hex(),
		"initial_price", req.InitialPrice,
		"creation_fee", fee,
	)
	return Creation{Opinion: op.Clone(), CreationFee: fee}, nil
}

// Submit compra la respuesta de una opinión pagando exactamente su nextPrice.
func (r *Registry) Submit(trader domain.Identity, req SubmitRequest, now time.Time) (ports.Trade, error) {
	op, err := r.get(req.OpinionID)
	if err != nil {
		return ports.Trade{}, fmt.Errorf("registry.Submit: %w", err)
	}
	answer, description, err := r.cleanAnswer(req.Answer, req.Description)
	if err != nil {
		return ports.Trade{}, fmt.Errorf("registry.Submit: %w", err)
	}
	if req.ExpectedPrice != 0 && req.ExpectedPrice != op.NextPrice {
		return ports.Trade{}, fmt.Errorf("registry.Submit: %w",
			&domain.PriceMismatchError{Expected: req.ExpectedPrice, Required: op.NextPrice})
	}
	trade, err := r.trade(op, trader, op.NextPrice, answer, description, now)
	if err != nil {
		return ports.Trade{}, fmt.Errorf("registry.Submit: %w", err)
	}
	return trade, nil
}

// Acquire compra la respuesta a un precio fijado por el llamante (ejecución de un pool).
func (r *Registry) Acquire(req ports.Acquisition, now time.Time) (ports.Trade, error) {
	op, err := r.get(req.OpinionID)
	if err != nil {
		return ports.Trade{}, fmt.Errorf("registry.Acquire: %w", err)
	}
	if req.Price <= 0 {
		return ports.Trade{}, fmt.Errorf("registry.Acquire: %w: price %s", domain.ErrInvalidAmount, req.Price)
	}
	answer, description, err := r.cleanAnswer(req.Answer, req.Description)
	if err != nil {
		return ports.Trade{}, fmt.Errorf("registry.Acquire: %w", err)
	}
	trade, err := r.trade(op, req.Buyer, req.Price, answer, description, now)
	if err != nil {
		return ports.Trade{}, fmt.Errorf("registry.Acquire: %w", err)
	}
	return trade, nil
}

// trade aplica un cambio de respuesta pagado. Todas las comprobaciones ocurren
// antes del cobro; tras el cobro nada puede fallar.
func (r *Registry) trade(op *domain.Opinion, buyer domain.Identity, price domain.Amount, answer, description string, now time.Time) (ports.Trade, error) {
	if !op.IsActive {
		return ports.Trade{}, fmt.Errorf("opinion %d: %w", op.ID, domain.ErrOpinionInactive)
	}
	if buyer == op.CurrentAnswerOwner {
		return ports.Trade{}, fmt.Errorf("opinion %d: %w", op.ID, domain.ErrSameOwner)
	}
	if err := r.limiter.check(now, r.params.MaxTradesPerBlock, r.params.BlockDuration); err != nil {
		return ports.Trade{}, err
	}

	competitive := r.tracker.IsCompetitive(op.ID, buyer, now)
	activity := r.params.Pricing.Activity(r.tracker.DistinctTraders(op.ID, now))
	nonce := r.nonce + 1
	quote := r.params.Pricing.NextPrice(price, activity, competitive, nonce)
	dist := r.params.Fees.Distribute(price)

	previous := op.CurrentAnswerOwner
	if err := r.funds.Distribute(buyer, dist, op.QuestionOwner, previous); err != nil {
		return ports.Trade{}, err
	}

	r.nonce = nonce
	r.limiter.record(now, r.params.BlockDuration)
	r.tracker.RecordTrader(op.ID, buyer, now)

	op.AnswerHistory = append(op.AnswerHistory, domain.AnswerEntry{
		Answer:      answer,
		Description: description,
		Owner:       buyer,
		Price:       price,
		Timestamp:   now,
	})
	op.CurrentAnswer = answer
	op.CurrentAnswerDescription = description
	op.CurrentAnswerOwner = buyer
	op.LastPrice = price
	op.NextPrice = quote.Price
	op.TotalVolume += price
	r.touch(op.ID)

	slog.Info("answer submitted",
		"opinion_id", op.ID,
		"buyer", buyer.Hex(),
		"price", price,
		"next_price", quote.Price,
		"regime", quote.Regime,
		"competitive", competitive,
	)
	return ports.Trade{
		OpinionID:     op.ID,
		Buyer:         buyer,
		PreviousOwner: previous,
		QuestionOwner: op.QuestionOwner,
		Price:         price,
		Fees:          dist,
		Quote:         quote,
		Competitive:   competitive,
		Activity:      activity,
		Nonce:         nonce,
	}, nil
}

// SetActive activa o desactiva una opinión. Solo el creador, un admin o un moderador.
func (r *Registry) SetActive(caller domain.Identity, id uint64, active bool) (domain.Opinion, error) {
	op, err := r.get(id)
	if err != nil {
		return domain.Opinion{}, fmt.Errorf("registry.SetActive: %w", err)
	}
	if caller != op.Creator && !r.access.Has(caller, domain.CapAdmin) && !r.access.Has(caller, domain.CapModerator) {
		return domain.Opinion{}, fmt.Errorf("registry.SetActive: %w: %s is not creator of opinion %d",
			domain.ErrUnauthorized, caller.Hex(), id)
	}
	switch {
	case active && op.IsActive:
		return domain.Opinion{}, fmt.Errorf("registry.SetActive: opinion %d: %w", id, domain.ErrOpinionActive)
	case !active && !op.IsActive:
		return domain.Opinion{}, fmt.Errorf("registry.SetActive: opinion %d: %w", id, domain.ErrOpinionInactive)
	}
	op.IsActive = active
	r.touch(id)
	slog.Info("opinion activity changed", "opinion_id", id, "active", active, "by", caller.Hex())
	return op.Clone(), nil
}

// ListForSale pone la pregunta a la venta. Solo el dueño de la pregunta.
func (r *Registry) ListForSale(caller domain.Identity, id uint64, price domain.Amount) (domain.Opinion, error) {
	op, err := r.get(id)
	if err != nil {
		return domain.Opinion{}, fmt.Errorf("registry.ListForSale: %w", err)
	}
	if caller != op.QuestionOwner {
		return domain.Opinion{}, fmt.Errorf("registry.ListForSale: %w: %s does not own question %d",
			domain.ErrUnauthorized, caller.Hex(), id)
	}
	if price <= 0 {
		return domain.Opinion{}, fmt.Errorf("registry.ListForSale: %w: sale price %s", domain.ErrInvalidAmount, price)
	}
	op.SalePrice = price
	r.touch(id)
	return op.Clone(), nil
}

// CancelSale retira la pregunta de la venta.
func (r *Registry) CancelSale(caller domain.Identity, id uint64) (domain.Opinion, error) {
	op, err := r.get(id)
	if err != nil {
		return domain.Opinion{}, fmt.Errorf("registry.CancelSale: %w", err)
	}
	if caller != op.QuestionOwner {
		return domain.Opinion{}, fmt.Errorf("registry.CancelSale: %w: %s does not own question %d",
			domain.ErrUnauthorized, caller.Hex(), id)
	}
	if !op.ForSale() {
		return domain.Opinion{}, fmt.Errorf("registry.CancelSale: opinion %d: %w", id, domain.ErrNotForSale)
	}
	op.SalePrice = 0
	r.touch(id)
	return op.Clone(), nil
}

// BuyQuestion transfiere la propiedad de la pregunta al comprador.
// El comprador paga salePrice: la parte de plataforma a tesorería y el resto al vendedor (reclamable).
func (r *Registry) BuyQuestion(buyer domain.Identity, id uint64, expected domain.Amount) (Sale, error) {
	op, err := r.get(id)
	if err != nil {
		return Sale{}, fmt.Errorf("registry.BuyQuestion: %w", err)
	}
	if !op.ForSale() {
		return Sale{}, fmt.Errorf("registry.BuyQuestion: opinion %d: %w", id, domain.ErrNotForSale)
	}
	if buyer == op.QuestionOwner {
		return Sale{}, fmt.Errorf("registry.BuyQuestion: opinion %d: %w", id, domain.ErrSameOwner)
	}
	if expected != 0 && expected != op.SalePrice {
		return Sale{}, fmt.Errorf("registry.BuyQuestion: %w",
			&domain.PriceMismatchError{Expected: expected, Required: op.SalePrice})
	}

	price := op.SalePrice
	platform, rest := r.params.Fees.PlatformCut(price)
	seller := op.QuestionOwner
	dist := domain.FeeDistribution{PlatformFee: platform, OwnerAmount: rest}
	if err := r.funds.Distribute(buyer, dist, seller, seller); err != nil {
		return Sale{}, fmt.Errorf("registry.BuyQuestion: %w", err)
	}

	op.QuestionOwner = buyer
	op.SalePrice = 0
	op.TotalVolume += price
	r.touch(id)

	slog.Info("question sold", "opinion_id", id, "seller", seller.Hex(), "buyer", buyer.Hex(), "price", price)
	return Sale{
		OpinionID:    id,
		Seller:       seller,
		Buyer:        buyer,
		Price:        price,
		PlatformFee:  platform,
		SellerAmount: rest,
	}, nil
}

// ApplyModeration revierte la respuesta vigente a la original del creador.
// No toca lastPrice ni nextPrice. La autorización la comprueba el llamante.
func (r *Registry) ApplyModeration(id uint64, reason string, now time.Time) (Moderation, error) {
	op, err := r.get(id)
	if err != nil {
		return Moderation{}, fmt.Errorf("registry.ApplyModeration: %w", err)
	}
	if op.CurrentAnswerOwner == op.Creator {
		return Moderation{}, fmt.Errorf("registry.ApplyModeration: opinion %d: %w", id, domain.ErrNothingToModerate)
	}
	reason, err = domain.CleanText("reason", reason, r.params.MaxDescriptionLen, false)
	if err != nil {
		return Moderation{}, fmt.Errorf("registry.ApplyModeration: %w", err)
	}

	previous := op.CurrentAnswerOwner
	entry := domain.AnswerEntry{
		Answer:      domain.ModeratedMarker,
		Description: reason,
		Owner:       previous,
		Timestamp:   now,
		Moderated:   true,
	}
	original := op.OriginalAnswer()
	op.AnswerHistory = append(op.AnswerHistory, entry)
	op.CurrentAnswer = original.Answer
	op.CurrentAnswerDescription = original.Description
	op.CurrentAnswerOwner = op.Creator
	r.touch(id)

	return Moderation{
		OpinionID:     id,
		PreviousOwner: previous,
		Entry:         entry,
		NextPrice:     op.NextPrice,
	}, nil
}

// Opinion devuelve una copia de la opinión.
func (r *Registry) Opinion(id uint64) (domain.Opinion, error) {
	op, err := r.get(id)
	if err != nil {
		return domain.Opinion{}, err
	}
	return op.Clone(), nil
}

// AnswerHistory devuelve el historial completo de respuestas.
func (r *Registry) AnswerHistory(id uint64) ([]domain.AnswerEntry, error) {
	op, err := r.get(id)
	if err != nil {
		return nil, err
	}
	return slices.Clone(op.AnswerHistory), nil
}

// Competition devuelve el estado de la ventana de competencia en now.
func (r *Registry) Competition(id uint64, now time.Time) (CompetitionStatus, error) {
	if _, err := r.get(id); err != nil {
		return CompetitionStatus{}, err
	}
	traders := r.tracker.Traders(id, now)
	return CompetitionStatus{
		OpinionID:     id,
		IsCompetitive: len(traders) >= 2,
		TraderCount:   len(traders),
		Traders:       traders,
		Activity:      r.params.Pricing.Activity(len(traders)),
	}, nil
}

// ForSale devuelve las opiniones cuya pregunta está a la venta, por ID.
func (r *Registry) ForSale() []domain.Opinion {
	var out []domain.Opinion
	for _, id := range r.ids() {
		if op := r.opinions[id]; op.ForSale() {
			out = append(out, op.Clone())
		}
	}
	return out
}

// Opinions devuelve todas las opiniones, por ID.
func (r *Registry) Opinions() []domain.Opinion {
	out := make([]domain.Opinion, 0, len(r.opinions))
	for _, id := range r.ids() {
		out = append(out, r.opinions[id].Clone())
	}
	return out
}

// Nonce devuelve el contador de trades aceptados.
func (r *Registry) Nonce() uint64 {
	return r.nonce
}

// ApplyParams recoge los cambios de parámetros que afectan a estado propio.
func (r *Registry) ApplyParams() {
	r.tracker.SetWindow(r.params.CompetitionWindow)
}

// TakeDirty devuelve las opiniones modificadas desde la última llamada.
func (r *Registry) TakeDirty() []domain.Opinion {
	ids := slices.Sorted(maps.Keys(r.dirty))
	clear(r.dirty)
	out := make([]domain.Opinion, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.opinions[id].Clone())
	}
	return out
}

// Restore reemplaza las opiniones y el nonce con el estado persistido.
// La ventana de competencia y el límite por bloque arrancan vacíos.
func (r *Registry) Restore(opinions []domain.Opinion, nonce uint64) {
	clear(r.opinions)
	clear(r.dirty)
	r.lastID = 0
	for _, op := range opinions {
		op := op.Clone()
		r.opinions[op.ID] = &op
		r.lastID = max(r.lastID, op.ID)
	}
	r.nonce = nonce
	r.tracker = domain.NewCompetitionTracker(r.params.CompetitionWindow)
	r.limiter = blockLimiter{}
}

func (r *Registry) get(id uint64) (*domain.Opinion, error) {
	op, ok := r.opinions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", domain.ErrOpinionNotFound, id)
	}
	return op, nil
}

func (r *Registry) ids() []uint64 {
	return slices.Sorted(maps.Keys(r.opinions))
}

func (r *Registry) touch(id uint64) {
	r.dirty[id] = struct{}{}
}

func (r *Registry) cleanAnswer(answer, description string) (string, string, error) {
	a, err := domain.CleanText("answer", answer, r.params.MaxAnswerLen, true)
	if err != nil {
		return "", "", err
	}
	d, err := domain.CleanText("description", description, r.params.MaxDescriptionLen, false)
	if err != nil {
		return "", "", err
	}
	return a, d, nil
}
