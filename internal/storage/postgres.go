// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/jeranaias/parley/internal/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS parley_users (
    user_id        TEXT PRIMARY KEY,
    is_dark_mode   BOOLEAN NOT NULL DEFAULT FALSE,
    selected_model TEXT NOT NULL DEFAULT '',
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS parley_conversations (
    user_id         TEXT NOT NULL,
    conversation_id TEXT NOT NULL,
    title           TEXT NOT NULL,
    messages        JSONB NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (user_id, conversation_id)
);
CREATE INDEX IF NOT EXISTS parley_conversations_recent
    ON parley_conversations (user_id, updated_at DESC);`

// PostgresDocumentStore keeps per-user documents in PostgreSQL.
type PostgresDocumentStore struct {
	db *sql.DB
}

// OpenPostgres opens a PostgreSQL connection using the pgx stdlib driver,
// verifies connectivity and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresDocumentStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create postgres schema: %w", err)
	}
	return &PostgresDocumentStore{db: db}, nil
}

// NewPostgresWithDB wraps an existing connection. The schema must exist.
func NewPostgresWithDB(db *sql.DB) *PostgresDocumentStore {
	return &PostgresDocumentStore{db: db}
}

// GetPreferences implements DocumentStore.
func (p *PostgresDocumentStore) GetPreferences(ctx context.Context, userID string) (model.Preferences, bool, error) {
	var prefs model.Preferences
	err := p.db.QueryRowContext(ctx, `
        SELECT is_dark_mode, selected_model FROM parley_users WHERE user_id = $1
    `, userID).Scan(&prefs.ThemeIsDark, &prefs.SelectedModelID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Preferences{}, false, nil
	}
	if err != nil {
		return model.Preferences{}, false, err
	}
	return prefs, true, nil
}

// PutPreferences implements DocumentStore.
func (p *PostgresDocumentStore) PutPreferences(ctx context.Context, userID string, prefs model.Preferences) error {
	_, err := p.db.ExecContext(ctx, `
        INSERT INTO parley_users (user_id, is_dark_mode, selected_model, updated_at)
        VALUES ($1, $2, $3, now())
        ON CONFLICT (user_id) DO UPDATE
        SET is_dark_mode = EXCLUDED.is_dark_mode,
            selected_model = EXCLUDED.selected_model,
            updated_at = now()
    `, userID, prefs.ThemeIsDark, prefs.SelectedModelID)
	return err
}

// ListConversations implements DocumentStore.
func (p *PostgresDocumentStore) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	rows, err := p.db.QueryContext(ctx, `
        SELECT conversation_id, title, messages, created_at, updated_at
        FROM parley_conversations
        WHERE user_id = $1
        ORDER BY updated_at DESC
    `, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Conversation{}
	for rows.Next() {
		var (
			c       model.Conversation
			raw     []byte
			created time.Time
			updated time.Time
		)
		if err := rows.Scan(&c.ID, &c.Title, &raw, &created, &updated); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &c.Messages); err != nil {
			return nil, fmt.Errorf("conversation %s: decode messages: %w", c.ID, err)
		}
		c.CreatedAt = created
		c.UpdatedAt = updated
		out = append(out, c)
	}
	return out, rows.Err()
}

// PutConversation implements DocumentStore.
func (p *PostgresDocumentStore) PutConversation(ctx context.Context, userID string, conv model.Conversation) error {
	msgs := conv.Messages
	if msgs == nil {
		msgs = []model.Message{}
	}
	raw, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("%w: encode messages: %v", ErrRejected, err)
	}
	_, err = p.db.ExecContext(ctx, `
        INSERT INTO parley_conversations (user_id, conversation_id, title, messages, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (user_id, conversation_id) DO UPDATE
        SET title = EXCLUDED.title,
            messages = EXCLUDED.messages,
            created_at = EXCLUDED.created_at,
            updated_at = EXCLUDED.updated_at
    `, userID, conv.ID, conv.Title, string(raw), conv.CreatedAt, conv.UpdatedAt)
	return err
}

// DeleteConversation implements DocumentStore.
func (p *PostgresDocumentStore) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	_, err := p.db.ExecContext(ctx, `
        DELETE FROM parley_conversations WHERE user_id = $1 AND conversation_id = $2
    `, userID, conversationID)
	return err
}

// Close closes the connection pool.
func (p *PostgresDocumentStore) Close() error {
	return p.db.Close()
}
