package market

import (
	"time"

	"github.com/alejandrodnm/opinionmarket/internal/application/pools"
	"github.com/alejandrodnm/opinionmarket/internal/application/registry"
	"github.com/alejandrodnm/opinionmarket/internal/domain"
	"github.com/alejandrodnm/opinionmarket/internal/ports"
)

func creationEvents(c registry.Creation, now time.Time) []domain.Event {
	op := c.Opinion
	e := domain.NewEvent(domain.EventOpinionCreated, op.Creator, now)
	e.OpinionID = op.ID
	e.Amount = c.CreationFee
	e.PlatformFee = c.CreationFee
	e.Price = op.LastPrice
	e.NextPrice = op.NextPrice
	e.Detail = op.Question
	return []domain.Event{e}
}

// tradeEvents describe un cambio de respuesta pagado: el envío y su reparto.
func tradeEvents(t ports.Trade, answer string, now time.Time) []domain.Event {
	submitted := domain.NewEvent(domain.EventAnswerSubmitted, t.Buyer, now)
	submitted.OpinionID = t.OpinionID
	submitted.Counterparty = t.PreviousOwner
	submitted.Amount = t.Price
	submitted.Price = t.Price
	submitted.NextPrice = t.Quote.Price
	submitted.Regime = t.Quote.Regime.String()
	submitted.Detail = answer

	fees := domain.NewEvent(domain.EventFeesDistributed, t.Buyer, now)
	fees.OpinionID = t.OpinionID
	fees.Counterparty = t.QuestionOwner
	fees.Amount = t.Price
	fees.PlatformFee = t.Fees.PlatformFee
	fees.CreatorFee = t.Fees.CreatorFee
	fees.OwnerAmount = t.Fees.OwnerAmount
	return []domain.Event{submitted, fees}
}

func rewardEvent(t ports.Trade, r pools.Reward, now time.Time) domain.Event {
	e := domain.NewEvent(domain.EventFeesDistributed, t.PreviousOwner, now)
	e.OpinionID = t.OpinionID
	e.PoolID = r.PoolID
	e.Counterparty = r.Contributor
	e.Amount = r.Amount
	e.OwnerAmount = r.Amount
	e.Detail = "pool-reward"
	return e
}

func opinionEvent(t domain.EventType, actor domain.Identity, op domain.Opinion, now time.Time) domain.Event {
	e := domain.NewEvent(t, actor, now)
	e.OpinionID = op.ID
	e.Price = op.SalePrice
	e.NextPrice = op.NextPrice
	return e
}

func saleEvent(s registry.Sale, now time.Time) domain.Event {
	e := domain.NewEvent(domain.EventQuestionSale, s.Buyer, now)
	e.OpinionID = s.OpinionID
	e.Counterparty = s.Seller
	e.Amount = s.Price
	e.Price = s.Price
	e.PlatformFee = s.PlatformFee
	e.OwnerAmount = s.SellerAmount
	return e
}

func moderationEvent(moderator domain.Identity, m registry.Moderation, now time.Time) domain.Event {
	e := domain.NewEvent(domain.EventAnswerModerated, moderator, now)
	e.OpinionID = m.OpinionID
	e.Counterparty = m.PreviousOwner
	e.NextPrice = m.NextPrice
	e.Detail = m.Entry.Description
	return e
}

func poolEvent(t domain.EventType, actor domain.Identity, p domain.Pool, now time.Time) domain.Event {
	e := domain.NewEvent(t, actor, now)
	e.OpinionID = p.OpinionID
	e.PoolID = p.ID
	e.Counterparty = p.Identity()
	e.Price = p.TargetPrice
	return e
}

func contributionEvent(c pools.Contribution, now time.Time) domain.Event {
	e := poolEvent(domain.EventPoolContributed, c.Contributor, c.Pool, now)
	e.Amount = c.Amount
	e.PlatformFee = c.Fee
	return e
}

// executionEvents describe la compra de un pool: el cambio de estado y el trade.
func (m *Market) executionEvents(actor domain.Identity, x pools.Execution, now time.Time) []domain.Event {
	executed := poolEvent(domain.EventPoolExecuted, actor, x.Pool, now)
	executed.Amount = x.Trade.Price
	executed.NextPrice = x.Trade.Quote.Price
	executed.Regime = x.Trade.Quote.Regime.String()
	executed.Detail = x.Pool.ProposedAnswer

	events := []domain.Event{executed}
	events = append(events, tradeEvents(x.Trade, x.Pool.ProposedAnswer, now)...)
	return append(events, m.shareRewards(x.Trade, now)...)
}

func fundsEvent(t domain.EventType, actor domain.Identity, amount domain.Amount, now time.Time) domain.Event {
	e := domain.NewEvent(t, actor, now)
	e.Amount = amount
	return e
}
