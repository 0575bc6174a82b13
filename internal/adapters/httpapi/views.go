package httpapi

import (
	"time"

	"github.com/alejandrodnm/opinionmarket/internal/application/pools"
	"github.com/alejandrodnm/opinionmarket/internal/application/registry"
	"github.com/alejandrodnm/opinionmarket/internal/domain"
	"github.com/alejandrodnm/opinionmarket/internal/ports"
)

// Los importes viajan como decimales en unidades ("12.5").

type opinionView struct {
	ID                 uint64    `json:"id"`
	Question           string    `json:"question"`
	Creator            string    `json:"creator"`
	QuestionOwner      string    `json:"question_owner"`
	CurrentAnswerOwner string    `json:"current_answer_owner"`
	OwnerName          string    `json:"owner_name"`
	CurrentAnswer      string    `json:"current_answer"`
	Description        string    `json:"description"`
	LastPrice          string    `json:"last_price"`
	NextPrice          string    `json:"next_price"`
	SalePrice          string    `json:"sale_price"`
	TotalVolume        string    `json:"total_volume"`
	IsActive           bool      `json:"is_active"`
	Categories         []string  `json:"categories"`
	CreatedAt          time.Time `json:"created_at"`
}

func (s *Server) opinionView(o domain.Opinion) opinionView {
	return opinionView{
		ID:                 o.ID,
		Question:           o.Question,
		Creator:            o.Creator.Hex(),
		QuestionOwner:      o.QuestionOwner.Hex(),
		CurrentAnswerOwner: o.CurrentAnswerOwner.Hex(),
		OwnerName:          s.market.OwnerName(o.CurrentAnswerOwner),
		CurrentAnswer:      o.CurrentAnswer,
		Description:        o.CurrentAnswerDescription,
		LastPrice:          o.LastPrice.String(),
		NextPrice:          o.NextPrice.String(),
		SalePrice:          o.SalePrice.String(),
		TotalVolume:        o.TotalVolume.String(),
		IsActive:           o.IsActive,
		Categories:         o.Categories,
		CreatedAt:          o.CreatedAt,
	}
}

type answerView struct {
	Answer      string    `json:"answer"`
	Description string    `json:"description"`
	Owner       string    `json:"owner"`
	Price       string    `json:"price"`
	Timestamp   time.Time `json:"timestamp"`
	Moderated   bool      `json:"moderated"`
}

func answerViews(entries []domain.AnswerEntry) []answerView {
	out := make([]answerView, 0, len(entries))
	for _, e := range entries {
		out = append(out, answerView{
			Answer:      e.Answer,
			Description: e.Description,
			Owner:       e.Owner.Hex(),
			Price:       e.Price.String(),
			Timestamp:   e.Timestamp,
			Moderated:   e.Moderated,
		})
	}
	return out
}

type competitionView struct {
	OpinionID     uint64   `json:"opinion_id"`
	IsCompetitive bool     `json:"is_competitive"`
	TraderCount   int      `json:"trader_count"`
	Traders       []string `json:"traders"`
	Activity      string   `json:"activity"`
}

func newCompetitionView(st registry.CompetitionStatus) competitionView {
	return competitionView{
		OpinionID:     st.OpinionID,
		IsCompetitive: st.IsCompetitive,
		TraderCount:   st.TraderCount,
		Traders:       hexes(st.Traders),
		Activity:      st.Activity.String(),
	}
}

type poolView struct {
	ID                  uint64     `json:"id"`
	OpinionID           uint64     `json:"opinion_id"`
	Creator             string     `json:"creator"`
	Identity            string     `json:"identity"`
	Name                string     `json:"name"`
	ProposedAnswer      string     `json:"proposed_answer"`
	ProposedDescription string     `json:"proposed_description"`
	TargetPrice         string     `json:"target_price"`
	TotalAmount         string     `json:"total_amount"`
	Remaining           string     `json:"remaining"`
	Deadline            time.Time  `json:"deadline"`
	Status              string     `json:"status"`
	Contributors        []string   `json:"contributors"`
	CreatedAt           time.Time  `json:"created_at"`
	ExecutedAt          *time.Time `json:"executed_at,omitempty"`
}

func newPoolView(p domain.Pool) poolView {
	v := poolView{
		ID:                  p.ID,
		OpinionID:           p.OpinionID,
		Creator:             p.Creator.Hex(),
		Identity:            p.Identity().Hex(),
		Name:                p.Name,
		ProposedAnswer:      p.ProposedAnswer,
		ProposedDescription: p.ProposedDescription,
		TargetPrice:         p.TargetPrice.String(),
		TotalAmount:         p.TotalAmount.String(),
		Remaining:           p.Remaining().String(),
		Deadline:            p.Deadline,
		Status:              string(p.Status),
		Contributors:        hexes(p.Contributors()),
		CreatedAt:           p.CreatedAt,
	}
	if !p.ExecutedAt.IsZero() {
		at := p.ExecutedAt
		v.ExecutedAt = &at
	}
	return v
}

type poolDetailsView struct {
	poolView
	CurrentPrice         string `json:"current_price"`
	TimeRemainingSeconds int64  `json:"time_remaining_seconds"`
}

func newPoolDetailsView(d pools.Details) poolDetailsView {
	return poolDetailsView{
		poolView:             newPoolView(d.Pool),
		CurrentPrice:         d.CurrentPrice.String(),
		TimeRemainingSeconds: int64(d.TimeRemaining / time.Second),
	}
}

type accountView struct {
	Identity  string `json:"identity"`
	Balance   string `json:"balance"`
	Claimable string `json:"claimable"`
}

func newAccountView(a domain.Account) accountView {
	return accountView{Identity: a.Identity.Hex(), Balance: a.Balance.String(), Claimable: a.Claimable.String()}
}

type tradeView struct {
	OpinionID     uint64 `json:"opinion_id"`
	Buyer         string `json:"buyer"`
	PreviousOwner string `json:"previous_owner"`
	Price         string `json:"price"`
	PlatformFee   string `json:"platform_fee"`
	CreatorFee    string `json:"creator_fee"`
	OwnerAmount   string `json:"owner_amount"`
	NextPrice     string `json:"next_price"`
	Regime        string `json:"regime"`
	Competitive   bool   `json:"competitive"`
	Activity      string `json:"activity"`
}

func newTradeView(t ports.Trade) tradeView {
	return tradeView{
		OpinionID:     t.OpinionID,
		Buyer:         t.Buyer.Hex(),
		PreviousOwner: t.PreviousOwner.Hex(),
		Price:         t.Price.String(),
		PlatformFee:   t.Fees.PlatformFee.String(),
		CreatorFee:    t.Fees.CreatorFee.String(),
		OwnerAmount:   t.Fees.OwnerAmount.String(),
		NextPrice:     t.Quote.Price.String(),
		Regime:        t.Quote.Regime.String(),
		Competitive:   t.Competitive,
		Activity:      t.Activity.String(),
	}
}

type contributionView struct {
	Pool      poolView   `json:"pool"`
	Amount    string     `json:"amount"`
	Fee       string     `json:"fee"`
	Executed  bool       `json:"executed"`
	Execution *tradeView `json:"execution,omitempty"`
}

func newContributionView(c pools.Contribution) contributionView {
	v := contributionView{
		Pool:   newPoolView(c.Pool),
		Amount: c.Amount.String(),
		Fee:    c.Fee.String(),
	}
	if c.Execution != nil {
		tv := newTradeView(c.Execution.Trade)
		v.Executed = true
		v.Execution = &tv
		v.Pool = newPoolView(c.Execution.Pool)
	}
	return v
}

type saleView struct {
	OpinionID    uint64 `json:"opinion_id"`
	Seller       string `json:"seller"`
	Buyer        string `json:"buyer"`
	Price        string `json:"price"`
	PlatformFee  string `json:"platform_fee"`
	SellerAmount string `json:"seller_amount"`
}

func newSaleView(s registry.Sale) saleView {
	return saleView{
		OpinionID:    s.OpinionID,
		Seller:       s.Seller.Hex(),
		Buyer:        s.Buyer.Hex(),
		Price:        s.Price.String(),
		PlatformFee:  s.PlatformFee.String(),
		SellerAmount: s.SellerAmount.String(),
	}
}

type paramsView struct {
	MinInitialPrice      string   `json:"min_initial_price"`
	MaxInitialPrice      string   `json:"max_initial_price"`
	PlatformFeeBps       int64    `json:"platform_fee_bps"`
	CreatorFeeBps        int64    `json:"creator_fee_bps"`
	CreationFeeBps       int64    `json:"creation_fee_bps"`
	MinCreationFee       string   `json:"min_creation_fee"`
	PoolCreationFee      string   `json:"pool_creation_fee"`
	PoolContributionFee  string   `json:"pool_contribution_fee"`
	MaxTradesPerBlock    int      `json:"max_trades_per_block"`
	BlockDurationMillis  int64    `json:"block_duration_ms"`
	MinPoolDurationHours float64  `json:"min_pool_duration_hours"`
	MaxPoolDurationHours float64  `json:"max_pool_duration_hours"`
	Categories           []string `json:"categories"`
	Treasury             string   `json:"treasury"`
}

func newParamsView(p domain.Params) paramsView {
	return paramsView{
		MinInitialPrice:      p.MinInitialPrice.String(),
		MaxInitialPrice:      p.MaxInitialPrice.String(),
		PlatformFeeBps:       p.Fees.PlatformBps,
		CreatorFeeBps:        p.Fees.CreatorBps,
		CreationFeeBps:       p.Fees.CreationFeeBps,
		MinCreationFee:       p.Fees.MinCreationFee.String(),
		PoolCreationFee:      p.PoolCreationFee.String(),
		PoolContributionFee:  p.PoolContributionFee.String(),
		MaxTradesPerBlock:    p.MaxTradesPerBlock,
		BlockDurationMillis:  p.BlockDuration.Milliseconds(),
		MinPoolDurationHours: p.MinPoolDuration.Hours(),
		MaxPoolDurationHours: p.MaxPoolDuration.Hours(),
		Categories:           p.Categories,
		Treasury:             p.Treasury.Hex(),
	}
}

func hexes(ids []domain.Identity) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.Hex())
	}
	return out
}
