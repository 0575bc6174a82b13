package storage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/opinionmarket/internal/adapters/storage"
	"github.com/alejandrodnm/opinionmarket/internal/domain"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")

	t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

func makeOpinion(id uint64) domain.Opinion {
	return domain.Opinion{
		ID:                       id,
		Question:                 "Best L2?",
		Creator:                  alice,
		QuestionOwner:            alice,
		CurrentAnswerOwner:       bob,
		CurrentAnswer:            "Arbitrum",
		CurrentAnswerDescription: "fees",
		LastPrice:                domain.Units(10),
		NextPrice:                11_234_567,
		TotalVolume:              domain.Units(10),
		IsActive:                 true,
		Categories:               []string{"Crypto", "Technology"},
		AnswerHistory: []domain.AnswerEntry{
			{Answer: "Base", Owner: alice, Price: domain.Units(10), Timestamp: t0},
			{Answer: "Arbitrum", Description: "fees", Owner: bob, Price: domain.Units(10), Timestamp: t0.Add(time.Minute)},
		},
		CreatedAt: t0,
	}
}

func newStorage(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteStorage_Migrations(t *testing.T) {
	db := newStorage(t)

	v, err := db.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestSQLiteStorage_ReopenKeepsStateAndSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market.db")
	ctx := context.Background()

	db, err := storage.NewSQLiteStorage(path)
	require.NoError(t, err)
	require.NoError(t, db.SaveOpinion(ctx, makeOpinion(1)))
	require.NoError(t, db.Close())

	db, err = storage.NewSQLiteStorage(path)
	require.NoError(t, err)
	defer db.Close()

	v, err := db.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v, "migrations must not re-run")

	snap, err := db.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Opinions, 1)
}

func TestSQLiteStorage_SaveAndLoadOpinion(t *testing.T) {
	db := newStorage(t)
	ctx := context.Background()

	op := makeOpinion(1)
	require.NoError(t, db.SaveOpinion(ctx, op))

	// Segundo guardado: moderación añade una entrada y cambia el dueño.
	op.AnswerHistory = append(op.AnswerHistory, domain.AnswerEntry{
		Answer: domain.ModeratedMarker, Description: "spam", Owner: bob, Timestamp: t0.Add(2 * time.Minute), Moderated: true,
	})
	op.CurrentAnswerOwner = alice
	op.CurrentAnswer = "Base"
	op.SalePrice = domain.Units(3)
	require.NoError(t, db.SaveOpinion(ctx, op))

	snap, err := db.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Opinions, 1)
	got := snap.Opinions[0]

	assert.Equal(t, op.ID, got.ID)
	assert.Equal(t, alice, got.CurrentAnswerOwner)
	assert.Equal(t, "Base", got.CurrentAnswer)
	assert.Equal(t, domain.Amount(11_234_567), got.NextPrice)
	assert.Equal(t, domain.Units(3), got.SalePrice)
	assert.Equal(t, []string{"Crypto", "Technology"}, got.Categories)
	assert.True(t, got.CreatedAt.Equal(t0))
	require.Len(t, got.AnswerHistory, 3)
	assert.True(t, got.AnswerHistory[2].Moderated)
	assert.Equal(t, "spam", got.AnswerHistory[2].Description)
	assert.True(t, got.AnswerHistory[1].Timestamp.Equal(t0.Add(time.Minute)))
}

func TestSQLiteStorage_SaveAndLoadPool(t *testing.T) {
	db := newStorage(t)
	ctx := context.Background()

	p := domain.Pool{
		ID:             3,
		OpinionID:      1,
		Creator:        alice,
		Name:           "fans",
		ProposedAnswer: "Optimism",
		TargetPrice:    domain.Units(10),
		TotalAmount:    domain.Units(4),
		Deadline:       t0.Add(48 * time.Hour),
		Status:         domain.PoolExpired,
		Contributions:  map[domain.Identity]domain.Amount{alice: domain.Units(3), bob: domain.Units(1)},
		Withdrawn:      map[domain.Identity]bool{bob: true},
		CreatedAt:      t0,
	}
	require.NoError(t, db.SavePool(ctx, p))

	snap, err := db.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Pools, 1)
	got := snap.Pools[0]
	assert.Equal(t, domain.PoolExpired, got.Status)
	assert.Equal(t, p.Contributions, got.Contributions)
	assert.Equal(t, p.Withdrawn, got.Withdrawn)
	assert.True(t, got.ExecutedAt.IsZero())
	assert.True(t, got.Deadline.Equal(p.Deadline))
}

func TestSQLiteStorage_AccountsAndRoles(t *testing.T) {
	db := newStorage(t)
	ctx := context.Background()

	require.NoError(t, db.SaveAccounts(ctx, []domain.Account{
		{Identity: alice, Balance: domain.Units(5)},
		{Identity: bob, Claimable: 7},
	}))
	require.NoError(t, db.SaveAccounts(ctx, []domain.Account{{Identity: alice, Balance: domain.Units(2), Claimable: 1}}))
	require.NoError(t, db.SaveAccounts(ctx, nil))

	require.NoError(t, db.SaveRoles(ctx, map[domain.Capability][]domain.Identity{
		domain.CapAdmin:     {alice},
		domain.CapModerator: {alice, bob},
	}))
	require.NoError(t, db.SaveRoles(ctx, map[domain.Capability][]domain.Identity{
		domain.CapModerator: {bob},
	}))

	snap, err := db.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.Account{
		{Identity: alice, Balance: domain.Units(2), Claimable: 1},
		{Identity: bob, Claimable: 7},
	}, snap.Accounts)
	assert.Equal(t, []domain.Identity{alice}, snap.Roles[domain.CapAdmin])
	assert.Equal(t, []domain.Identity{bob}, snap.Roles[domain.CapModerator])
}

func TestSQLiteStorage_EventLog(t *testing.T) {
	db := newStorage(t)
	ctx := context.Background()

	var events []domain.Event
	for i := 1; i <= 5; i++ {
		e := domain.NewEvent(domain.EventAnswerSubmitted, alice, t0.Add(time.Duration(i)*time.Second))
		e.Seq = uint64(i)
		e.OpinionID = 1
		e.Counterparty = bob
		e.Price = domain.Units(int64(i))
		e.Regime = domain.RegimeBullish.String()
		events = append(events, e)
	}
	require.NoError(t, db.AppendEvents(ctx, events[:3], 3, 2))
	require.NoError(t, db.AppendEvents(ctx, events[3:], 5, 4))

	got, err := db.ListEvents(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(3), got[0].Seq)
	assert.Equal(t, events[2].ID, got[0].ID)
	assert.Equal(t, bob, got[0].Counterparty)
	assert.Equal(t, domain.Units(3), got[0].Price)
	assert.Equal(t, "BULLISH", got[0].Regime)
	assert.True(t, got[0].At.Equal(events[2].At))

	all, err := db.ListEvents(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	snap, err := db.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), snap.Seq)
	assert.Equal(t, uint64(4), snap.Nonce)

	assert.Error(t, db.AppendEvents(ctx, events[:1], 5, 4), "seq is unique")
}

func TestSQLiteStorage_EmptySnapshot(t *testing.T) {
	db := newStorage(t)

	snap, err := db.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Opinions)
	assert.Empty(t, snap.Pools)
	assert.Zero(t, snap.Seq)
}
