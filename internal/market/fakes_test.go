package market_test

import (
	"cmp"
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/alejandrodnm/opinionmarket/internal/domain"
)

// clock es un reloj manual para los tests.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *clock { return &clock{now: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recorder guarda todo lo publicado. Con fail=true devuelve error pero guarda igual.
type recorder struct {
	events []domain.Event
	fail   bool
}

func (r *recorder) Publish(_ context.Context, events []domain.Event) error {
	r.events = append(r.events, events...)
	if r.fail {
		return errors.New("broker down")
	}
	return nil
}

func (r *recorder) types() []domain.EventType {
	out := make([]domain.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// memStorage implementa ports.Storage en memoria.
type memStorage struct {
	opinions map[uint64]domain.Opinion
	pools    map[uint64]domain.Pool
	accounts map[domain.Identity]domain.Account
	roles    map[domain.Capability][]domain.Identity
	events   []domain.Event
	seq      uint64
	nonce    uint64
}

func newMemStorage() *memStorage {
	return &memStorage{
		opinions: make(map[uint64]domain.Opinion),
		pools:    make(map[uint64]domain.Pool),
		accounts: make(map[domain.Identity]domain.Account),
	}
}

func (s *memStorage) SaveOpinion(_ context.Context, op domain.Opinion) error {
	s.opinions[op.ID] = op.Clone()
	return nil
}

func (s *memStorage) SavePool(_ context.Context, p domain.Pool) error {
	s.pools[p.ID] = p.Clone()
	return nil
}

func (s *memStorage) SaveAccounts(_ context.Context, accounts []domain.Account) error {
	for _, a := range accounts {
		s.accounts[a.Identity] = a
	}
	return nil
}

func (s *memStorage) SaveRoles(_ context.Context, roles map[domain.Capability][]domain.Identity) error {
	s.roles = maps.Clone(roles)
	return nil
}

func (s *memStorage) AppendEvents(_ context.Context, events []domain.Event, seq, nonce uint64) error {
	s.events = append(s.events, events...)
	s.seq, s.nonce = seq, nonce
	return nil
}

func (s *memStorage) ListEvents(_ context.Context, afterSeq uint64, limit int) ([]domain.Event, error) {
	var out []domain.Event
	for _, e := range s.events {
		if e.Seq > afterSeq && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStorage) LoadSnapshot(context.Context) (domain.Snapshot, error) {
	snap := domain.Snapshot{Roles: s.roles, Seq: s.seq, Nonce: s.nonce}
	for _, op := range s.opinions {
		snap.Opinions = append(snap.Opinions, op)
	}
	for _, p := range s.pools {
		snap.Pools = append(snap.Pools, p)
	}
	for _, a := range s.accounts {
		snap.Accounts = append(snap.Accounts, a)
	}
	slices.SortFunc(snap.Opinions, func(a, b domain.Opinion) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(snap.Pools, func(a, b domain.Pool) int { return cmp.Compare(a.ID, b.ID) })
	return snap, nil
}

func (s *memStorage) Close() error { return nil }
