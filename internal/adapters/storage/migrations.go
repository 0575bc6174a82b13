package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// migration es un cambio de esquema que se aplica una sola vez, en orden de versión.
type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "market state",
		stmts: []string{
			`CREATE TABLE opinions (
				id                 INTEGER PRIMARY KEY,
				question           TEXT    NOT NULL,
				creator            TEXT    NOT NULL,
				question_owner     TEXT    NOT NULL,
				answer_owner       TEXT    NOT NULL,
				answer             TEXT    NOT NULL,
				answer_description TEXT    NOT NULL DEFAULT '',
				last_price         INTEGER NOT NULL,
				next_price         INTEGER NOT NULL,
				sale_price         INTEGER NOT NULL DEFAULT 0,
				total_volume       INTEGER NOT NULL DEFAULT 0,
				is_active          INTEGER NOT NULL DEFAULT 1,
				categories         TEXT    NOT NULL DEFAULT '[]',
				created_at         INTEGER NOT NULL
			)`,
			`CREATE TABLE answer_history (
				opinion_id  INTEGER NOT NULL REFERENCES opinions(id),
				idx         INTEGER NOT NULL,
				answer      TEXT    NOT NULL,
				description TEXT    NOT NULL DEFAULT '',
				owner       TEXT    NOT NULL,
				price       INTEGER NOT NULL,
				at          INTEGER NOT NULL,
				moderated   INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (opinion_id, idx)
			)`,
			`CREATE TABLE pools (
				id                   INTEGER PRIMARY KEY,
				opinion_id           INTEGER NOT NULL REFERENCES opinions(id),
				creator              TEXT    NOT NULL,
				name                 TEXT    NOT NULL,
				proposed_answer      TEXT    NOT NULL,
				proposed_description TEXT    NOT NULL DEFAULT '',
				target_price         INTEGER NOT NULL,
				total_amount         INTEGER NOT NULL,
				deadline             INTEGER NOT NULL,
				status               TEXT    NOT NULL,
				created_at           INTEGER NOT NULL,
				executed_at          INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE pool_contributions (
				pool_id     INTEGER NOT NULL REFERENCES pools(id),
				contributor TEXT    NOT NULL,
				amount      INTEGER NOT NULL,
				withdrawn   INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (pool_id, contributor)
			)`,
			`CREATE TABLE accounts (
				identity  TEXT PRIMARY KEY,
				balance   INTEGER NOT NULL DEFAULT 0,
				claimable INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE roles (
				capability TEXT NOT NULL,
				identity   TEXT NOT NULL,
				PRIMARY KEY (capability, identity)
			)`,
			`CREATE TABLE events (
				seq          INTEGER PRIMARY KEY,
				id           TEXT    NOT NULL,
				type         TEXT    NOT NULL,
				opinion_id   INTEGER NOT NULL DEFAULT 0,
				pool_id      INTEGER NOT NULL DEFAULT 0,
				actor        TEXT    NOT NULL,
				counterparty TEXT    NOT NULL,
				amount       INTEGER NOT NULL DEFAULT 0,
				platform_fee INTEGER NOT NULL DEFAULT 0,
				creator_fee  INTEGER NOT NULL DEFAULT 0,
				owner_amount INTEGER NOT NULL DEFAULT 0,
				price        INTEGER NOT NULL DEFAULT 0,
				next_price   INTEGER NOT NULL DEFAULT 0,
				regime       TEXT    NOT NULL DEFAULT '',
				detail       TEXT    NOT NULL DEFAULT '',
				at           INTEGER NOT NULL
			)`,
			`CREATE TABLE meta (
				key   TEXT PRIMARY KEY,
				value INTEGER NOT NULL
			)`,
		},
	},
	{
		version: 2,
		name:    "lookup indexes",
		stmts: []string{
			`CREATE INDEX idx_pools_opinion  ON pools(opinion_id)`,
			`CREATE INDEX idx_events_opinion ON events(opinion_id)`,
			`CREATE INDEX idx_events_type    ON events(type)`,
			`CREATE INDEX idx_opinions_sale  ON opinions(sale_price) WHERE sale_price > 0`,
		},
	},
}

// migrate aplica, cada una en su transacción, las migraciones que faltan.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT    NOT NULL,
			applied_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("migrate: create schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("migrate: read version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return err
		}
		slog.Info("schema migrated", "version", m.version, "name", m.name)
	}
	return nil
}

func apply(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate %d: begin tx: %w", m.version, err)
	}
	defer tx.Rollback()

	for _, stmt := range m.stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %d (%s): %w", m.version, m.name, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
		m.version, m.name, time.Now().UTC().UnixNano(),
	); err != nil {
		return fmt.Errorf("migrate %d: record: %w", m.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate %d: commit: %w", m.version, err)
	}
	return nil
}
