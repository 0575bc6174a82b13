package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/alejandrodnm/opinionmarket/internal/application/pools"
	"github.com/alejandrodnm/opinionmarket/internal/application/registry"
	"github.com/alejandrodnm/opinionmarket/internal/domain"
	"github.com/labstack/echo/v4"
)

const defaultEventPage = 100

var errInvalidID = errors.New("invalid id")

type createOpinionRequest struct {
	Question     string   `json:"question"`
	Answer       string   `json:"answer"`
	Description  string   `json:"description"`
	InitialPrice string   `json:"initial_price"`
	Categories   []string `json:"categories"`
}

type submitAnswerRequest struct {
	Answer        string `json:"answer"`
	Description   string `json:"description"`
	ExpectedPrice string `json:"expected_price"`
}

type priceRequest struct {
	Price string `json:"price"`
}

type buyRequest struct {
	ExpectedPrice string `json:"expected_price"`
}

type moderateRequest struct {
	Reason string `json:"reason"`
}

type createPoolRequest struct {
	OpinionID           uint64    `json:"opinion_id"`
	ProposedAnswer      string    `json:"proposed_answer"`
	ProposedDescription string    `json:"proposed_description"`
	Name                string    `json:"name"`
	Deadline            time.Time `json:"deadline"`
	InitialContribution string    `json:"initial_contribution"`
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type treasuryRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type roleRequest struct {
	Identity   string `json:"identity"`
	Capability string `json:"capability"`
}

type paramsPatch struct {
	PlatformFeeBps      *int64  `json:"platform_fee_bps"`
	CreatorFeeBps       *int64  `json:"creator_fee_bps"`
	CreationFeeBps      *int64  `json:"creation_fee_bps"`
	MinCreationFee      *string `json:"min_creation_fee"`
	PoolCreationFee     *string `json:"pool_creation_fee"`
	PoolContributionFee *string `json:"pool_contribution_fee"`
	MaxTradesPerBlock   *int    `json:"max_trades_per_block"`
	MinInitialPrice     *string `json:"min_initial_price"`
	MaxInitialPrice     *string `json:"max_initial_price"`
}

// --- lecturas ---

func (s *Server) handleListOpinions(c echo.Context) error {
	ops := s.market.Opinions()
	out := make([]opinionView, 0, len(ops))
	for _, o := range ops {
		out = append(out, s.opinionView(o))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetOpinion(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	o, err := s.market.Opinion(id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, s.opinionView(o))
}

func (s *Server) handleAnswerHistory(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	h, err := s.market.AnswerHistory(id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, answerViews(h))
}

func (s *Server) handleCompetition(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	st, err := s.market.CompetitionStatus(id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, newCompetitionView(st))
}

func (s *Server) handlePoolsForOpinion(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	list, err := s.market.PoolsForOpinion(id)
	if err != nil {
		return writeError(c, err)
	}
	out := make([]poolView, 0, len(list))
	for _, p := range list {
		out = append(out, newPoolView(p))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleQuestionsForSale(c echo.Context) error {
	ops := s.market.QuestionsForSale()
	out := make([]opinionView, 0, len(ops))
	for _, o := range ops {
		out = append(out, s.opinionView(o))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetPool(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	d, err := s.market.PoolDetails(id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, newPoolDetailsView(d))
}

func (s *Server) handleGetAccount(c echo.Context) error {
	id, err := domain.ParseIdentity(c.Param("addr"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, newAccountView(s.market.Account(id)))
}

func (s *Server) handleEvents(c echo.Context) error {
	after, err := queryUint(c, "after", 0)
	if err != nil {
		return badRequest(c, "invalid after")
	}
	limit, err := queryUint(c, "limit", defaultEventPage)
	if err != nil || limit == 0 {
		return badRequest(c, "invalid limit")
	}
	events, err := s.market.Events(c.Request().Context(), after, int(min(limit, 1000)))
	if err != nil {
		return writeError(c, err)
	}
	if events == nil {
		events = []domain.Event{}
	}
	return c.JSON(http.StatusOK, events)
}

func (s *Server) handleGetParams(c echo.Context) error {
	return c.JSON(http.StatusOK, newParamsView(s.market.Params()))
}

// --- opiniones ---

func (s *Server) handleCreateOpinion(c echo.Context) error {
	var req createOpinionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	price, err := domain.ParseAmount(req.InitialPrice)
	if err != nil {
		return writeError(c, err)
	}
	created, err := s.market.CreateOpinion(c.Request().Context(), caller(c), registry.CreateRequest{
		Question:     req.Question,
		Answer:       req.Answer,
		Description:  req.Description,
		InitialPrice: price,
		Categories:   req.Categories,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"opinion":      s.opinionView(created.Opinion),
		"creation_fee": created.CreationFee.String(),
	})
}

func (s *Server) handleSubmitAnswer(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	var req submitAnswerRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	expected, err := optionalAmount(req.ExpectedPrice)
	if err != nil {
		return writeError(c, err)
	}
	trade, err := s.market.SubmitAnswer(c.Request().Context(), caller(c), registry.SubmitRequest{
		OpinionID:     id,
		Answer:        req.Answer,
		Description:   req.Description,
		ExpectedPrice: expected,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, newTradeView(trade))
}

func (s *Server) handleDeactivate(c echo.Context) error {
	return s.setActive(c, false)
}

func (s *Server) handleReactivate(c echo.Context) error {
	return s.setActive(c, true)
}

func (s *Server) setActive(c echo.Context, active bool) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	var o domain.Opinion
	if active {
		o, err = s.market.ReactivateOpinion(c.Request().Context(), caller(c), id)
	} else {
		o, err = s.market.DeactivateOpinion(c.Request().Context(), caller(c), id)
	}
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, s.opinionView(o))
}

func (s *Server) handleListForSale(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	var req priceRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	price, err := domain.ParseAmount(req.Price)
	if err != nil {
		return writeError(c, err)
	}
	o, err := s.market.ListQuestionForSale(c.Request().Context(), caller(c), id, price)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, s.opinionView(o))
}

func (s *Server) handleCancelSale(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	o, err := s.market.CancelQuestionSale(c.Request().Context(), caller(c), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, s.opinionView(o))
}

func (s *Server) handleBuyQuestion(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	var req buyRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	expected, err := optionalAmount(req.ExpectedPrice)
	if err != nil {
		return writeError(c, err)
	}
	sale, err := s.market.BuyQuestion(c.Request().Context(), caller(c), id, expected)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, newSaleView(sale))
}

func (s *Server) handleModerate(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	var req moderateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	mod, err := s.market.ModerateAnswer(c.Request().Context(), caller(c), id, req.Reason)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"opinion_id":     mod.OpinionID,
		"previous_owner": mod.PreviousOwner.Hex(),
		"restored":       answerViews([]domain.AnswerEntry{mod.Entry})[0],
		"next_price":     mod.NextPrice.String(),
	})
}

// --- pools ---

func (s *Server) handleCreatePool(c echo.Context) error {
	var req createPoolRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	initial, err := domain.ParseAmount(req.InitialContribution)
	if err != nil {
		return writeError(c, err)
	}
	contrib, err := s.market.CreatePool(c.Request().Context(), caller(c), pools.CreateRequest{
		OpinionID:           req.OpinionID,
		ProposedAnswer:      req.ProposedAnswer,
		ProposedDescription: req.ProposedDescription,
		Name:                req.Name,
		Deadline:            req.Deadline,
		InitialContribution: initial,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, newContributionView(contrib))
}

func (s *Server) handleContribute(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	var req amountRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		return writeError(c, err)
	}
	contrib, err := s.market.ContributeToPool(c.Request().Context(), caller(c), id, amount)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, newContributionView(contrib))
}

func (s *Server) handleCompletePool(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	x, err := s.market.CompletePool(c.Request().Context(), caller(c), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"pool":  newPoolView(x.Pool),
		"trade": newTradeView(x.Trade),
	})
}

func (s *Server) handleExpirePool(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	p, err := s.market.ExpirePool(c.Request().Context(), caller(c), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, newPoolView(p))
}

func (s *Server) handleWithdrawFromPool(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	amount, err := s.market.WithdrawFromPool(c.Request().Context(), caller(c), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"amount": amount.String()})
}

// --- cuentas ---

func (s *Server) handleDeposit(c echo.Context) error {
	var req amountRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		return writeError(c, err)
	}
	acc, err := s.market.Deposit(c.Request().Context(), caller(c), amount)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, newAccountView(acc))
}

func (s *Server) handleWithdraw(c echo.Context) error {
	var req amountRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		return writeError(c, err)
	}
	acc, err := s.market.Withdraw(c.Request().Context(), caller(c), amount)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, newAccountView(acc))
}

func (s *Server) handleClaim(c echo.Context) error {
	claimed, err := s.market.ClaimFees(c.Request().Context(), caller(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"claimed": claimed.String()})
}

// --- administración ---

func (s *Server) handleUpdateParams(c echo.Context) error {
	var patch paramsPatch
	if err := c.Bind(&patch); err != nil {
		return badRequest(c, "invalid request")
	}
	p := s.market.Params()
	if err := patch.apply(&p); err != nil {
		return writeError(c, err)
	}
	if err := s.market.UpdateParams(c.Request().Context(), caller(c), p); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, newParamsView(s.market.Params()))
}

func (p paramsPatch) apply(dst *domain.Params) error {
	if p.PlatformFeeBps != nil {
		dst.Fees.PlatformBps = *p.PlatformFeeBps
	}
	if p.CreatorFeeBps != nil {
		dst.Fees.CreatorBps = *p.CreatorFeeBps
	}
	if p.CreationFeeBps != nil {
		dst.Fees.CreationFeeBps = *p.CreationFeeBps
	}
	if p.MaxTradesPerBlock != nil {
		dst.MaxTradesPerBlock = *p.MaxTradesPerBlock
	}
	amounts := []struct {
		src *string
		dst *domain.Amount
	}{
		{p.MinCreationFee, &dst.Fees.MinCreationFee},
		{p.PoolCreationFee, &dst.PoolCreationFee},
		{p.PoolContributionFee, &dst.PoolContributionFee},
		{p.MinInitialPrice, &dst.MinInitialPrice},
		{p.MaxInitialPrice, &dst.MaxInitialPrice},
	}
	for _, a := range amounts {
		if a.src == nil {
			continue
		}
		v, err := domain.ParseAmount(*a.src)
		if err != nil {
			return err
		}
		*a.dst = v
	}
	return nil
}

func (s *Server) handleGrantRole(c echo.Context) error {
	target, capability, err := bindRole(c)
	if err != nil {
		return writeError(c, err)
	}
	if err := s.market.GrantRole(c.Request().Context(), caller(c), target, capability); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRevokeRole(c echo.Context) error {
	target, capability, err := bindRole(c)
	if err != nil {
		return writeError(c, err)
	}
	if err := s.market.RevokeRole(c.Request().Context(), caller(c), target, capability); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func bindRole(c echo.Context) (domain.Identity, domain.Capability, error) {
	var req roleRequest
	if err := c.Bind(&req); err != nil {
		return domain.NoIdentity, "", domain.ErrInvalidParams
	}
	id, err := domain.ParseIdentity(req.Identity)
	if err != nil {
		return domain.NoIdentity, "", err
	}
	capability, err := domain.ParseCapability(req.Capability)
	if err != nil {
		return domain.NoIdentity, "", err
	}
	return id, capability, nil
}

func (s *Server) handleWithdrawTreasury(c echo.Context) error {
	var req treasuryRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	to, err := domain.ParseIdentity(req.To)
	if err != nil {
		return writeError(c, err)
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		return writeError(c, err)
	}
	acc, err := s.market.WithdrawTreasury(c.Request().Context(), caller(c), to, amount)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, newAccountView(acc))
}

// --- helpers ---

func pathID(c echo.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, errInvalidID
	}
	return id, nil
}

func queryUint(c echo.Context, name string, def uint64) (uint64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}

// optionalAmount trata la cadena vacía como "sin precio esperado".
func optionalAmount(s string) (domain.Amount, error) {
	if s == "" {
		return 0, nil
	}
	return domain.ParseAmount(s)
}
