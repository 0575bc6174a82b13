package market_test

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/opinionmarket/internal/application/pools"
	"github.com/alejandrodnm/opinionmarket/internal/application/registry"
	"github.com/alejandrodnm/opinionmarket/internal/domain"
	"github.com/alejandrodnm/opinionmarket/internal/market"
)

var (
	admin     = common.HexToAddress("0x000000000000000000000000000000000000ad01")
	moderator = common.HexToAddress("0x000000000000000000000000000000000000a0d0")
	treasury  = common.HexToAddress("0x0000000000000000000000000000000000007ea5")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol     = common.HexToAddress("0x00000000000000000000000000000000000ca201")
	dave      = common.HexToAddress("0x000000000000000000000000000000000000da7e")

	t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

const deposit = 1_000

type harness struct {
	m     *market.Market
	clock *clock
	pub   *recorder
	store *memStorage
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	p := domain.DefaultParams()
	p.Treasury = treasury
	h := &harness{clock: newClock(t0), pub: &recorder{}, store: newMemStorage()}

	m, err := market.New(p,
		market.WithClock(h.clock.Now),
		market.WithStorage(h.store),
		market.WithPublisher(h.pub),
	)
	require.NoError(t, err)
	h.m = m
	m.BootstrapRole(ctx, admin, domain.CapAdmin)
	m.BootstrapRole(ctx, moderator, domain.CapModerator)
	for _, id := range []domain.Identity{alice, bob, carol, dave} {
		_, err := m.Deposit(ctx, id, domain.Units(deposit))
		require.NoError(t, err)
	}
	h.pub.events = nil
	return h
}

func (h *harness) createOpinion(t *testing.T, creator domain.Identity, price domain.Amount) domain.Opinion {
	t.Helper()
	c, err := h.m.CreateOpinion(context.Background(), creator, registry.CreateRequest{
		Question:     "Who wins the league?",
		Answer:       "Madrid",
		Description:  "deep squad",
		InitialPrice: price,
		Categories:   []string{"Sports"},
	})
	require.NoError(t, err)
	return c.Opinion
}

func (h *harness) submit(t *testing.T, trader domain.Identity, id uint64, answer string) {
	t.Helper()
	h.clock.Advance(time.Minute)
	_, err := h.m.SubmitAnswer(context.Background(), trader, registry.SubmitRequest{OpinionID: id, Answer: answer})
	require.NoError(t, err)
}

func TestMarket_NewRejectsInvalidParams(t *testing.T) {
	_, err := market.New(domain.DefaultParams())
	assert.ErrorIs(t, err, domain.ErrInvalidParams, "treasury is required")
}

func TestScenarioA_CreationFeeFloor(t *testing.T) {
	h := newHarness(t)

	c, err := h.m.CreateOpinion(context.Background(), alice, registry.CreateRequest{
		Question: "Who wins the league?", Answer: "Madrid", InitialPrice: 5_000_000, Categories: []string{"Sports"},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.Amount(5_000_000), c.CreationFee)
	assert.Equal(t, domain.Amount(5_000_000), c.Opinion.NextPrice)
	assert.Equal(t, domain.Amount(5_000_000), c.Opinion.LastPrice)
	assert.Equal(t, domain.Units(5), h.m.Account(treasury).Balance)
	assert.Equal(t, []domain.EventType{domain.EventOpinionCreated}, h.pub.types())
}

func TestScenarioB_CompetitiveFloor(t *testing.T) {
	h := newHarness(t)
	op := h.createOpinion(t, alice, domain.Units(10))

	h.submit(t, bob, op.ID, "Barcelona")
	before, err := h.m.Opinion(op.ID)
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	trade, err := h.m.SubmitAnswer(context.Background(), carol, registry.SubmitRequest{
		OpinionID: op.ID, Answer: "Atletico", ExpectedPrice: before.NextPrice,
	})
	require.NoError(t, err)
	assert.True(t, trade.Competitive)
	assert.Equal(t, before.NextPrice, trade.Price)

	after, err := h.m.Opinion(op.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, int64(after.NextPrice), int64(trade.Price)*108/100)

	st, err := h.m.CompetitionStatus(op.ID)
	require.NoError(t, err)
	assert.True(t, st.IsCompetitive)
	assert.Equal(t, 2, st.TraderCount)
}

func TestScenarioC_PoolCompletesWithinTolerance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	op := h.createOpinion(t, alice, domain.Units(10))

	c, err := h.m.CreatePool(ctx, bob, pools.CreateRequest{
		OpinionID:           op.ID,
		ProposedAnswer:      "Girona",
		Name:                "Girona believers",
		Deadline:            t0.Add(7 * 24 * time.Hour),
		InitialContribution: 5_000_000,
	})
	require.NoError(t, err)
	require.Equal(t, domain.Amount(10_000_000), c.Pool.TargetPrice)

	_, err = h.m.ContributeToPool(ctx, carol, c.Pool.ID, 4_999_500)
	require.NoError(t, err)

	d, err := h.m.PoolDetails(c.Pool.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(9_999_500), d.Pool.TotalAmount)
	assert.Equal(t, domain.Amount(500), d.Remaining)

	x, err := h.m.CompletePool(ctx, dave, c.Pool.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PoolExecuted, x.Pool.Status)

	got, err := h.m.Opinion(op.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Pool.Identity(), got.CurrentAnswerOwner)
	assert.Equal(t, "Girona", got.CurrentAnswer)
	assert.Equal(t, "Girona believers", h.m.OwnerName(got.CurrentAnswerOwner))
	assert.Equal(t, alice.Hex(), h.m.OwnerName(alice))

	assert.Equal(t, []domain.EventType{
		domain.EventOpinionCreated,
		domain.EventPoolCreated,
		domain.EventPoolContributed,
		domain.EventPoolExecuted,
		domain.EventAnswerSubmitted,
		domain.EventFeesDistributed,
	}, h.pub.types())
}

func TestScenarioD_CreatorFeesFollowQuestionOwner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	op := h.createOpinion(t, alice, domain.Units(10))

	_, err := h.m.ListQuestionForSale(ctx, alice, op.ID, domain.Units(20))
	require.NoError(t, err)
	require.Len(t, h.m.QuestionsForSale(), 1)
	_, err = h.m.BuyQuestion(ctx, bob, op.ID, domain.Units(20))
	require.NoError(t, err)
	assert.Empty(t, h.m.QuestionsForSale())

	aliceBefore := h.m.Account(alice).Claimable
	bobBefore := h.m.Account(bob).Claimable

	h.clock.Advance(time.Minute)
	trade, err := h.m.SubmitAnswer(ctx, carol, registry.SubmitRequest{OpinionID: op.ID, Answer: "Bilbao"})
	require.NoError(t, err)

	assert.Equal(t, bobBefore+trade.Fees.CreatorFee, h.m.Account(bob).Claimable)
	// alice sigue cobrando como dueña anterior de la respuesta, no como creadora.
	assert.Equal(t, aliceBefore+trade.Fees.OwnerAmount, h.m.Account(alice).Claimable)
}

func TestScenarioE_ModerationRestoresCreatorAnswer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	op := h.createOpinion(t, alice, domain.Units(10))
	h.submit(t, bob, op.ID, "offensive")
	before, err := h.m.Opinion(op.ID)
	require.NoError(t, err)

	_, err = h.m.ModerateAnswer(ctx, bob, op.ID, "self-moderation")
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = h.m.ModerateAnswer(ctx, moderator, op.ID, "abusive content")
	require.NoError(t, err)

	got, err := h.m.Opinion(op.ID)
	require.NoError(t, err)
	history, err := h.m.AnswerHistory(op.ID)
	require.NoError(t, err)
	assert.Equal(t, history[0].Answer, got.CurrentAnswer)
	assert.Equal(t, alice, got.CurrentAnswerOwner)
	assert.Equal(t, before.NextPrice, got.NextPrice)

	_, err = h.m.ModerateAnswer(ctx, moderator, op.ID, "again")
	assert.ErrorIs(t, err, domain.ErrNothingToModerate)
}

func TestMarket_ValueIsConserved(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	op := h.createOpinion(t, alice, domain.Units(7))
	h.submit(t, bob, op.ID, "one")
	h.submit(t, carol, op.ID, "two")
	h.submit(t, dave, op.ID, "three")

	c, err := h.m.CreatePool(ctx, alice, pools.CreateRequest{
		OpinionID: op.ID, ProposedAnswer: "pooled", Name: "p", Deadline: t0.Add(48 * time.Hour), InitialContribution: domain.Units(1),
	})
	require.NoError(t, err)
	_, err = h.m.ContributeToPool(ctx, bob, c.Pool.ID, domain.Units(1_000_000))
	require.NoError(t, err)
	h.submit(t, carol, op.ID, "after pool")

	_, err = h.m.ClaimFees(ctx, alice)
	require.NoError(t, err)
	_, err = h.m.Withdraw(ctx, alice, domain.Units(10))
	require.NoError(t, err)

	assert.Equal(t, domain.Units(4*deposit-10), h.m.Supply())
	assert.Zero(t, h.m.Account(c.Pool.Identity()).Total(), "pool rewards are fully shared")
}

func TestMarket_PoolExpiryRefunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	op := h.createOpinion(t, alice, domain.Units(10))
	c, err := h.m.CreatePool(ctx, bob, pools.CreateRequest{
		OpinionID: op.ID, ProposedAnswer: "x", Name: "p", Deadline: t0.Add(24 * time.Hour), InitialContribution: domain.Units(2),
	})
	require.NoError(t, err)

	_, err = h.m.ExpirePool(ctx, carol, c.Pool.ID)
	require.ErrorIs(t, err, domain.ErrPoolNotExpirable)

	h.clock.Advance(24 * time.Hour)
	_, err = h.m.ExpirePool(ctx, carol, c.Pool.ID)
	require.NoError(t, err)

	got, err := h.m.WithdrawFromPool(ctx, bob, c.Pool.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Units(2), got)
	assert.Equal(t, domain.Units(deposit-5), h.m.Account(bob).Balance, "creation fee is not refunded")

	_, err = h.m.WithdrawFromPool(ctx, bob, c.Pool.ID)
	assert.ErrorIs(t, err, domain.ErrNothingToWithdraw)
}

func TestMarket_ExpireDuePools(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	op := h.createOpinion(t, alice, domain.Units(10))
	short, err := h.m.CreatePool(ctx, bob, pools.CreateRequest{
		OpinionID: op.ID, ProposedAnswer: "x", Name: "short", Deadline: t0.Add(24 * time.Hour), InitialContribution: domain.Units(2),
	})
	require.NoError(t, err)
	long, err := h.m.CreatePool(ctx, carol, pools.CreateRequest{
		OpinionID: op.ID, ProposedAnswer: "y", Name: "long", Deadline: t0.Add(72 * time.Hour), InitialContribution: domain.Units(2),
	})
	require.NoError(t, err)

	assert.Zero(t, h.m.ExpireDuePools(ctx))

	h.clock.Advance(25 * time.Hour)
	h.pub.events = nil
	assert.Equal(t, 1, h.m.ExpireDuePools(ctx))
	assert.Equal(t, []domain.EventType{domain.EventPoolExpired}, h.pub.types())

	d, err := h.m.PoolDetails(short.Pool.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PoolExpired, d.Pool.Status)
	d, err = h.m.PoolDetails(long.Pool.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PoolActive, d.Pool.Status)

	assert.Zero(t, h.m.ExpireDuePools(ctx), "already expired pools are skipped")
}

func TestMarket_EventsAreSequenced(t *testing.T) {
	h := newHarness(t)
	op := h.createOpinion(t, alice, domain.Units(10))
	h.submit(t, bob, op.ID, "one")

	require.Len(t, h.pub.events, 3)
	for i := 1; i < len(h.pub.events); i++ {
		assert.Equal(t, h.pub.events[i-1].Seq+1, h.pub.events[i].Seq)
	}
	assert.Equal(t, h.m.Seq(), h.pub.events[2].Seq)

	stored, err := h.m.Events(context.Background(), h.pub.events[0].Seq, 10)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, domain.EventAnswerSubmitted, stored[0].Type)
	assert.Equal(t, alice, stored[0].Counterparty)
}

func TestMarket_PublishFailureDoesNotFailOperation(t *testing.T) {
	h := newHarness(t)
	h.pub.fail = true

	op := h.createOpinion(t, alice, domain.Units(3))
	got, err := h.m.Opinion(op.ID)
	require.NoError(t, err)
	assert.Equal(t, op.ID, got.ID)
	assert.Len(t, h.pub.events, 1)
}

func TestMarket_FailedOperationEmitsNothing(t *testing.T) {
	h := newHarness(t)
	op := h.createOpinion(t, alice, domain.Units(3))
	seq := h.m.Seq()

	_, err := h.m.SubmitAnswer(context.Background(), alice, registry.SubmitRequest{OpinionID: op.ID, Answer: "mine"})
	require.ErrorIs(t, err, domain.ErrSameOwner)
	assert.Equal(t, seq, h.m.Seq())
	assert.Len(t, h.pub.events, 1)
}

func TestMarket_RejectsPoolIdentityCaller(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	op := h.createOpinion(t, alice, domain.Units(3))
	c, err := h.m.CreatePool(ctx, bob, pools.CreateRequest{
		OpinionID: op.ID, ProposedAnswer: "x", Name: "p", Deadline: t0.Add(48 * time.Hour), InitialContribution: 1,
	})
	require.NoError(t, err)

	_, err = h.m.Deposit(ctx, c.Pool.Identity(), domain.Units(1))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = h.m.Deposit(ctx, domain.NoIdentity, domain.Units(1))
	assert.ErrorIs(t, err, domain.ErrInvalidIdentity)
}

func TestMarket_UpdateParams(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p := h.m.Params()
	p.Fees.PlatformBps = 100
	p.MaxTradesPerBlock = 1

	require.ErrorIs(t, h.m.UpdateParams(ctx, alice, p), domain.ErrUnauthorized)
	bad := p
	bad.Pricing.Weights[0][0] = 99
	require.ErrorIs(t, h.m.UpdateParams(ctx, admin, bad), domain.ErrInvalidParams)

	require.NoError(t, h.m.UpdateParams(ctx, admin, p))
	assert.Equal(t, int64(100), h.m.Params().Fees.PlatformBps)

	a := h.createOpinion(t, alice, domain.Units(2))
	b := h.createOpinion(t, alice, domain.Units(2))
	_, err := h.m.SubmitAnswer(ctx, bob, registry.SubmitRequest{OpinionID: a.ID, Answer: "x"})
	require.NoError(t, err)
	_, err = h.m.SubmitAnswer(ctx, carol, registry.SubmitRequest{OpinionID: b.ID, Answer: "y"})
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestMarket_UpdateParamsMovesTreasuryBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createOpinion(t, alice, domain.Units(2))
	accrued := h.m.Account(treasury).Balance
	require.Positive(t, accrued)

	newTreasury := common.HexToAddress("0x0000000000000000000000000000000000007ea6")
	p := h.m.Params()
	p.Treasury = newTreasury
	h.pub.events = nil
	require.NoError(t, h.m.UpdateParams(ctx, admin, p))

	assert.Zero(t, h.m.Account(treasury).Balance)
	assert.Equal(t, accrued, h.m.Account(newTreasury).Balance)
	assert.Equal(t, []domain.EventType{domain.EventParamsUpdated, domain.EventTreasuryMoved}, h.pub.types())
	assert.Equal(t, accrued, h.pub.events[1].Amount)

	require.NoError(t, h.m.GrantRole(ctx, admin, bob, domain.CapTreasury))
	acct, err := h.m.WithdrawTreasury(ctx, bob, bob, accrued)
	require.NoError(t, err)
	assert.Zero(t, acct.Balance)
	assert.Equal(t, domain.Units(deposit)+accrued, h.m.Account(bob).Balance)

	// Sin cambio de tesorería no se mueve nada.
	h.pub.events = nil
	require.NoError(t, h.m.UpdateParams(ctx, admin, p))
	assert.Equal(t, []domain.EventType{domain.EventParamsUpdated}, h.pub.types())
}

func TestMarket_RolesAndTreasury(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.createOpinion(t, alice, domain.Units(2))

	_, err := h.m.WithdrawTreasury(ctx, bob, bob, domain.Units(1))
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	require.ErrorIs(t, h.m.GrantRole(ctx, bob, bob, domain.CapTreasury), domain.ErrUnauthorized)
	require.NoError(t, h.m.GrantRole(ctx, admin, bob, domain.CapTreasury))
	assert.True(t, h.m.HasRole(bob, domain.CapTreasury))

	acct, err := h.m.WithdrawTreasury(ctx, bob, bob, domain.Units(5))
	require.NoError(t, err)
	assert.Zero(t, acct.Balance)
	assert.Equal(t, domain.Units(deposit+5), h.m.Account(bob).Balance)

	require.ErrorIs(t, h.m.RevokeRole(ctx, admin, admin, domain.CapAdmin), domain.ErrInvalidParams)
	require.NoError(t, h.m.RevokeRole(ctx, admin, bob, domain.CapTreasury))
	assert.False(t, h.m.HasRole(bob, domain.CapTreasury))
	assert.Equal(t, []domain.Identity{admin}, h.m.Roles()[domain.CapAdmin])
}

func TestMarket_RestoreFromStorage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	op := h.createOpinion(t, alice, domain.Units(10))
	h.submit(t, bob, op.ID, "Barcelona")
	c, err := h.m.CreatePool(ctx, carol, pools.CreateRequest{
		OpinionID: op.ID, ProposedAnswer: "Betis", Name: "verdiblancos", Deadline: t0.Add(48 * time.Hour), InitialContribution: domain.Units(1),
	})
	require.NoError(t, err)

	p := domain.DefaultParams()
	p.Treasury = treasury
	restored, err := market.New(p, market.WithClock(h.clock.Now), market.WithStorage(h.store))
	require.NoError(t, err)
	require.NoError(t, restored.Restore(ctx))

	got, err := restored.Opinion(op.ID)
	require.NoError(t, err)
	want, _ := h.m.Opinion(op.ID)
	assert.Equal(t, want, got)
	assert.Equal(t, h.m.Accounts(), restored.Accounts())
	assert.Equal(t, h.m.Seq(), restored.Seq())
	assert.True(t, restored.HasRole(moderator, domain.CapModerator))
	assert.Equal(t, "verdiblancos", restored.OwnerName(c.Pool.Identity()))

	// El nonce y el precio siguen desde donde quedaron.
	h.clock.Advance(time.Minute)
	t1, err := h.m.SubmitAnswer(ctx, dave, registry.SubmitRequest{OpinionID: op.ID, Answer: "Sevilla"})
	require.NoError(t, err)
	t2, err := restored.SubmitAnswer(ctx, dave, registry.SubmitRequest{OpinionID: op.ID, Answer: "Sevilla"})
	require.NoError(t, err)
	assert.Equal(t, t1.Nonce, t2.Nonce)
	assert.Equal(t, t1.Price, t2.Price)
}

func TestMarket_FansOutToAllPublishers(t *testing.T) {
	p := domain.DefaultParams()
	p.Treasury = treasury
	first, second := &recorder{fail: true}, &recorder{}
	m, err := market.New(p, market.WithClock(newClock(t0).Now), market.WithPublisher(first), market.WithPublisher(second))
	require.NoError(t, err)

	_, err = m.Deposit(context.Background(), alice, domain.Units(5))
	require.NoError(t, err)

	assert.Equal(t, []domain.EventType{domain.EventFundsDeposited}, first.types())
	assert.Equal(t, first.events, second.events, "a failing publisher does not starve the others")
}
