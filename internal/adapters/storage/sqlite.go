package storage

// sqlite.go: espejo persistente del estado del mercado.
//
// Estrategia:
//   - Una fila por opinión, pool y cuenta (UPSERT). El historial de respuestas y las
//     aportaciones van en tablas hijas que se reescriben completas en cada guardado.
//   - `events`: log append-only con la secuencia global como clave.
//   - `meta`: último seq y nonce del registry, para continuar tras un reinicio.
//   - Importes como INTEGER (unidades mínimas) y tiempos como unix nanos: sin pérdidas.
//   - El esquema evoluciona con migraciones versionadas en `schema_migrations`.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/opinionmarket/internal/domain"
	"github.com/alejandrodnm/opinionmarket/internal/ports"
)

const defaultEventPage = 100

// SQLiteStorage implementa ports.Storage usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB
}

var _ ports.Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada y aplica las migraciones pendientes.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if err := migrate(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// SchemaVersion devuelve la última migración aplicada.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("storage.SchemaVersion: %w", err)
	}
	return v, nil
}

// SaveOpinion hace upsert de la opinión y reescribe su historial.
func (s *SQLiteStorage) SaveOpinion(ctx context.Context, op domain.Opinion) error {
	categories, err := json.Marshal(op.Categories)
	if err != nil {
		return fmt.Errorf("storage.SaveOpinion: encode categories: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveOpinion: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO opinions
			(id, question, creator, question_owner, answer_owner, answer, answer_description,
			 last_price, next_price, sale_price, total_volume, is_active, categories, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			question_owner     = excluded.question_owner,
			answer_owner       = excluded.answer_owner,
			answer             = excluded.answer,
			answer_description = excluded.answer_description,
			last_price         = excluded.last_price,
			next_price         = excluded.next_price,
			sale_price         = excluded.sale_price,
			total_volume       = excluded.total_volume,
			is_active          = excluded.is_active
	`,
		op.ID, op.Question, op.Creator.Hex(), op.QuestionOwner.Hex(), op.CurrentAnswerOwner.Hex(),
		op.CurrentAnswer, op.CurrentAnswerDescription,
		int64(op.LastPrice), int64(op.NextPrice), int64(op.SalePrice), int64(op.TotalVolume),
		boolInt(op.IsActive), string(categories), toNanos(op.CreatedAt),
	); err != nil {
		return fmt.Errorf("storage.SaveOpinion: upsert %d: %w", op.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM answer_history WHERE opinion_id = ?`, op.ID); err != nil {
		return fmt.Errorf("storage.SaveOpinion: clear history %d: %w", op.ID, err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO answer_history (opinion_id, idx, answer, description, owner, price, at, moderated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("storage.SaveOpinion: prepare history: %w", err)
	}
	defer stmt.Close()
	for i, h := range op.AnswerHistory {
		if _, err := stmt.ExecContext(ctx,
			op.ID, i, h.Answer, h.Description, h.Owner.Hex(), int64(h.Price), toNanos(h.Timestamp), boolInt(h.Moderated),
		); err != nil {
			return fmt.Errorf("storage.SaveOpinion: insert history %d/%d: %w", op.ID, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveOpinion: commit: %w", err)
	}
	return nil
}

// SavePool hace upsert del pool y reescribe sus aportaciones.
func (s *SQLiteStorage) SavePool(ctx context.Context, p domain.Pool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SavePool: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pools
			(id, opinion_id, creator, name, proposed_answer, proposed_description,
			 target_price, total_amount, deadline, status, created_at, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			total_amount = excluded.total_amount,
			status       = excluded.status,
			executed_at  = excluded.executed_at
	`,
		p.ID, p.OpinionID, p.Creator.Hex(), p.Name, p.ProposedAnswer, p.ProposedDescription,
		int64(p.TargetPrice), int64(p.TotalAmount), toNanos(p.Deadline), string(p.Status),
		toNanos(p.CreatedAt), toNanos(p.ExecutedAt),
	); err != nil {
		return fmt.Errorf("storage.SavePool: upsert %d: %w", p.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pool_contributions WHERE pool_id = ?`, p.ID); err != nil {
		return fmt.Errorf("storage.SavePool: clear contributions %d: %w", p.ID, err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pool_contributions (pool_id, contributor, amount, withdrawn) VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("storage.SavePool: prepare contributions: %w", err)
	}
	defer stmt.Close()
	for _, c := range p.Contributors() {
		if _, err := stmt.ExecContext(ctx, p.ID, c.Hex(), int64(p.Contributions[c]), boolInt(p.Withdrawn[c])); err != nil {
			return fmt.Errorf("storage.SavePool: insert contribution %d/%s: %w", p.ID, c.Hex(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SavePool: commit: %w", err)
	}
	return nil
}

// SaveAccounts hace upsert de los saldos dados.
func (s *SQLiteStorage) SaveAccounts(ctx context.Context, accounts []domain.Account) error {
	if len(accounts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveAccounts: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO accounts (identity, balance, claimable) VALUES (?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			balance   = excluded.balance,
			claimable = excluded.claimable
	`)
	if err != nil {
		return fmt.Errorf("storage.SaveAccounts: prepare: %w", err)
	}
	defer stmt.Close()
	for _, a := range accounts {
		if _, err := stmt.ExecContext(ctx, a.Identity.Hex(), int64(a.Balance), int64(a.Claimable)); err != nil {
			return fmt.Errorf("storage.SaveAccounts: upsert %s: %w", a.Identity.Hex(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveAccounts: commit: %w", err)
	}
	return nil
}

// SaveRoles reemplaza todos los miembros de los permisos dados.
func (s *SQLiteStorage) SaveRoles(ctx context.Context, roles map[domain.Capability][]domain.Identity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveRoles: begin tx: %w", err)
	}
	defer tx.Rollback()

	for c, ids := range roles {
		if _, err := tx.ExecContext(ctx, `DELETE FROM roles WHERE capability = ?`, string(c)); err != nil {
			return fmt.Errorf("storage.SaveRoles: clear %s: %w", c, err)
		}
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO roles (capability, identity) VALUES (?, ?)`, string(c), id.Hex(),
			); err != nil {
				return fmt.Errorf("storage.SaveRoles: insert %s/%s: %w", c, id.Hex(), err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveRoles: commit: %w", err)
	}
	return nil
}

// AppendEvents añade eventos al log y guarda el seq y el nonce en la misma transacción.
func (s *SQLiteStorage) AppendEvents(ctx context.Context, events []domain.Event, seq, nonce uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.AppendEvents: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events
			(seq, id, type, opinion_id, pool_id, actor, counterparty, amount, platform_fee,
			 creator_fee, owner_amount, price, next_price, regime, detail, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("storage.AppendEvents: prepare: %w", err)
	}
	defer stmt.Close()
	for _, e := range events {
		if _, err := stmt.ExecContext(ctx,
			e.Seq, e.ID.String(), string(e.Type), e.OpinionID, e.PoolID, e.Actor.Hex(), e.Counterparty.Hex(),
			int64(e.Amount), int64(e.PlatformFee), int64(e.CreatorFee), int64(e.OwnerAmount),
			int64(e.Price), int64(e.NextPrice), e.Regime, e.Detail, toNanos(e.At),
		); err != nil {
			return fmt.Errorf("storage.AppendEvents: insert seq %d: %w", e.Seq, err)
		}
	}

	if err := setMeta(ctx, tx, "seq", seq); err != nil {
		return fmt.Errorf("storage.AppendEvents: %w", err)
	}
	if err := setMeta(ctx, tx, "nonce", nonce); err != nil {
		return fmt.Errorf("storage.AppendEvents: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.AppendEvents: commit: %w", err)
	}
	return nil
}

// ListEvents devuelve los eventos con seq > afterSeq en orden ascendente.
func (s *SQLiteStorage) ListEvents(ctx context.Context, afterSeq uint64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = defaultEventPage
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, type, opinion_id, pool_id, actor, counterparty, amount, platform_fee,
		       creator_fee, owner_amount, price, next_price, regime, detail, at
		FROM events
		WHERE seq > ?
		ORDER BY seq
		LIMIT ?
	`, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.ListEvents: query: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			e                                             domain.Event
			id, typ, actor, counterparty                  string
			amount, platform, creator, owner, price, next int64
			at                                            int64
		)
		if err := rows.Scan(
			&e.Seq, &id, &typ, &e.OpinionID, &e.PoolID, &actor, &counterparty,
			&amount, &platform, &creator, &owner, &price, &next, &e.Regime, &e.Detail, &at,
		); err != nil {
			return nil, fmt.Errorf("storage.ListEvents: scan row: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("storage.ListEvents: event %d id: %w", e.Seq, err)
		}
		e.Type = domain.EventType(typ)
		e.Actor = common.HexToAddress(actor)
		e.Counterparty = common.HexToAddress(counterparty)
		e.Amount = domain.Amount(amount)
		e.PlatformFee = domain.Amount(platform)
		e.CreatorFee = domain.Amount(creator)
		e.OwnerAmount = domain.Amount(owner)
		e.Price = domain.Amount(price)
		e.NextPrice = domain.Amount(next)
		e.At = fromNanos(at)
		events = append(events, e)
	}
	return events, rows.Err()
}

// LoadSnapshot lee todo el estado persistido.
func (s *SQLiteStorage) LoadSnapshot(ctx context.Context) (domain.Snapshot, error) {
	var (
		snap domain.Snapshot
		err  error
	)
	if snap.Opinions, err = s.loadOpinions(ctx); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Pools, err = s.loadPools(ctx); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Accounts, err = s.loadAccounts(ctx); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Roles, err = s.loadRoles(ctx); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Seq, err = s.meta(ctx, "seq"); err != nil {
		return domain.Snapshot{}, err
	}
	if snap.Nonce, err = s.meta(ctx, "nonce"); err != nil {
		return domain.Snapshot{}, err
	}
	slog.Debug("snapshot loaded", "opinions", len(snap.Opinions), "pools", len(snap.Pools), "seq", snap.Seq)
	return snap, nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

func (s *SQLiteStorage) loadOpinions(ctx context.Context) ([]domain.Opinion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, question, creator, question_owner, answer_owner, answer, answer_description,
		       last_price, next_price, sale_price, total_volume, is_active, categories, created_at
		FROM opinions ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("storage.loadOpinions: query: %w", err)
	}
	defer rows.Close()

	var (
		opinions []domain.Opinion
		index    = make(map[uint64]int)
	)
	for rows.Next() {
		var (
			op                                  domain.Opinion
			creator, qOwner, aOwner, categories string
			last, next, sale, volume, created   int64
			active                              int
		)
		if err := rows.Scan(
			&op.ID, &op.Question, &creator, &qOwner, &aOwner, &op.CurrentAnswer, &op.CurrentAnswerDescription,
			&last, &next, &sale, &volume, &active, &categories, &created,
		); err != nil {
			return nil, fmt.Errorf("storage.loadOpinions: scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(categories), &op.Categories); err != nil {
			return nil, fmt.Errorf("storage.loadOpinions: opinion %d categories: %w", op.ID, err)
		}
		op.Creator = common.HexToAddress(creator)
		op.QuestionOwner = common.HexToAddress(qOwner)
		op.CurrentAnswerOwner = common.HexToAddress(aOwner)
		op.LastPrice = domain.Amount(last)
		op.NextPrice = domain.Amount(next)
		op.SalePrice = domain.Amount(sale)
		op.TotalVolume = domain.Amount(volume)
		op.IsActive = active == 1
		op.CreatedAt = fromNanos(created)
		index[op.ID] = len(opinions)
		opinions = append(opinions, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage.loadOpinions: %w", err)
	}

	hist, err := s.db.QueryContext(ctx, `
		SELECT opinion_id, answer, description, owner, price, at, moderated
		FROM answer_history ORDER BY opinion_id, idx
	`)
	if err != nil {
		return nil, fmt.Errorf("storage.loadOpinions: query history: %w", err)
	}
	defer hist.Close()
	for hist.Next() {
		var (
			id        uint64
			h         domain.AnswerEntry
			owner     string
			price, at int64
			moderated int
		)
		if err := hist.Scan(&id, &h.Answer, &h.Description, &owner, &price, &at, &moderated); err != nil {
			return nil, fmt.Errorf("storage.loadOpinions: scan history: %w", err)
		}
		i, ok := index[id]
		if !ok {
			continue
		}
		h.Owner = common.HexToAddress(owner)
		h.Price = domain.Amount(price)
		h.Timestamp = fromNanos(at)
		h.Moderated = moderated == 1
		opinions[i].AnswerHistory = append(opinions[i].AnswerHistory, h)
	}
	return opinions, hist.Err()
}

func (s *SQLiteStorage) loadPools(ctx context.Context) ([]domain.Pool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, opinion_id, creator, name, proposed_answer, proposed_description,
		       target_price, total_amount, deadline, status, created_at, executed_at
		FROM pools ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("storage.loadPools: query: %w", err)
	}
	defer rows.Close()

	var (
		pools []domain.Pool
		index = make(map[uint64]int)
	)
	for rows.Next() {
		var (
			p                                    domain.Pool
			creator, status                      string
			target, total, deadline, created, ex int64
		)
		if err := rows.Scan(
			&p.ID, &p.OpinionID, &creator, &p.Name, &p.ProposedAnswer, &p.ProposedDescription,
			&target, &total, &deadline, &status, &created, &ex,
		); err != nil {
			return nil, fmt.Errorf("storage.loadPools: scan row: %w", err)
		}
		p.Creator = common.HexToAddress(creator)
		p.TargetPrice = domain.Amount(target)
		p.TotalAmount = domain.Amount(total)
		p.Deadline = fromNanos(deadline)
		p.Status = domain.PoolStatus(status)
		p.CreatedAt = fromNanos(created)
		p.ExecutedAt = fromNanos(ex)
		p.Contributions = make(map[domain.Identity]domain.Amount)
		p.Withdrawn = make(map[domain.Identity]bool)
		index[p.ID] = len(pools)
		pools = append(pools, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage.loadPools: %w", err)
	}

	contrib, err := s.db.QueryContext(ctx, `SELECT pool_id, contributor, amount, withdrawn FROM pool_contributions`)
	if err != nil {
		return nil, fmt.Errorf("storage.loadPools: query contributions: %w", err)
	}
	defer contrib.Close()
	for contrib.Next() {
		var (
			id          uint64
			contributor string
			amount      int64
			withdrawn   int
		)
		if err := contrib.Scan(&id, &contributor, &amount, &withdrawn); err != nil {
			return nil, fmt.Errorf("storage.loadPools: scan contribution: %w", err)
		}
		i, ok := index[id]
		if !ok {
			continue
		}
		c := common.HexToAddress(contributor)
		pools[i].Contributions[c] = domain.Amount(amount)
		if withdrawn == 1 {
			pools[i].Withdrawn[c] = true
		}
	}
	return pools, contrib.Err()
}

func (s *SQLiteStorage) loadAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT identity, balance, claimable FROM accounts ORDER BY identity`)
	if err != nil {
		return nil, fmt.Errorf("storage.loadAccounts: query: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var (
			id                 string
			balance, claimable int64
		)
		if err := rows.Scan(&id, &balance, &claimable); err != nil {
			return nil, fmt.Errorf("storage.loadAccounts: scan row: %w", err)
		}
		accounts = append(accounts, domain.Account{
			Identity:  common.HexToAddress(id),
			Balance:   domain.Amount(balance),
			Claimable: domain.Amount(claimable),
		})
	}
	return accounts, rows.Err()
}

func (s *SQLiteStorage) loadRoles(ctx context.Context) (map[domain.Capability][]domain.Identity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT capability, identity FROM roles ORDER BY capability, identity`)
	if err != nil {
		return nil, fmt.Errorf("storage.loadRoles: query: %w", err)
	}
	defer rows.Close()

	roles := make(map[domain.Capability][]domain.Identity)
	for rows.Next() {
		var c, id string
		if err := rows.Scan(&c, &id); err != nil {
			return nil, fmt.Errorf("storage.loadRoles: scan row: %w", err)
		}
		roles[domain.Capability(c)] = append(roles[domain.Capability(c)], common.HexToAddress(id))
	}
	return roles, rows.Err()
}

func (s *SQLiteStorage) meta(ctx context.Context, key string) (uint64, error) {
	var v uint64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("storage.meta: %s: %w", key, err)
	}
	return v, nil
}

func setMeta(ctx context.Context, tx *sql.Tx, key string, value uint64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value); err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// toNanos guarda el tiempo cero como 0.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
