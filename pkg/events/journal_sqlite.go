// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jllopis/kairos-npc/pkg/core"
	"github.com/jllopis/kairos-npc/pkg/errors"
)

// SQLiteJournal persists envelopes in SQLite.
type SQLiteJournal struct {
	db *sql.DB
}

// OpenSQLiteJournal opens path with the modernc driver and ensures the
// schema.
func OpenSQLiteJournal(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	j, err := NewSQLiteJournal(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// NewSQLiteJournal wraps an open database and ensures the schema.
func NewSQLiteJournal(db *sql.DB) (*SQLiteJournal, error) {
	if db == nil {
		return nil, errors.New(errors.CodeConfiguration, "journal db is nil", nil)
	}
	if err := ensureJournalSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteJournal{db: db}, nil
}

// Record stores a single envelope.
func (s *SQLiteJournal) Record(ctx context.Context, env Envelope) error {
	payload, err := encodePayload(env.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO npc_events (id, name, agent_id, scope, radius, payload_json, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		env.ID,
		env.Name,
		env.AgentID,
		string(env.Scope),
		env.Radius,
		string(payload),
		env.TS.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// List returns envelopes matching filter, oldest first.
func (s *SQLiteJournal) List(ctx context.Context, filter Filter) ([]Envelope, error) {
	query := `SELECT id, name, agent_id, scope, radius, payload_json, ts FROM npc_events`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.Name != "" {
		addFilter("name = ?", filter.Name)
	}
	if filter.AgentID != "" {
		addFilter("agent_id = ?", filter.AgentID)
	}
	if !filter.Since.IsZero() {
		addFilter("ts >= ?", filter.Since.UTC().Format(time.RFC3339Nano))
	}
	query += where + " ORDER BY ts ASC, rowid ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Envelope
	for rows.Next() {
		var (
			env         Envelope
			scope       string
			payloadJSON string
			ts          string
		)
		if err := rows.Scan(&env.ID, &env.Name, &env.AgentID, &scope, &env.Radius, &payloadJSON, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		env.Scope = core.EventScope(scope)
		if payload, err := decodePayload([]byte(payloadJSON)); err == nil {
			env.Payload = payload
		}
		env.TS, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// Close closes the underlying database.
func (s *SQLiteJournal) Close() error {
	return s.db.Close()
}

func ensureJournalSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS npc_events (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			scope TEXT NOT NULL,
			radius REAL,
			payload_json TEXT,
			ts TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_npc_events_agent ON npc_events(agent_id);
		CREATE INDEX IF NOT EXISTS idx_npc_events_name ON npc_events(name);
	`)
	if err != nil {
		return fmt.Errorf("ensure journal schema: %w", err)
	}
	return nil
}
