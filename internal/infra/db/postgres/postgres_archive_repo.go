// File: internal/infra/db/postgres/postgres_archive_repo.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"merch-copilot/internal/domain"
	"merch-copilot/internal/domain/model"
	"merch-copilot/internal/domain/ports/repository"
)

// ArchiveRepo keeps completed transcripts in Postgres, independent of the
// per-session slot. Schema:
//
//	CREATE TABLE conversations (
//	  id         TEXT PRIMARY KEY,
//	  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
//	CREATE TABLE conversation_messages (
//	  conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
//	  message_id      TEXT NOT NULL,
//	  role            TEXT NOT NULL,
//	  text            TEXT NOT NULL,
//	  ts              BIGINT NOT NULL,
//	  PRIMARY KEY (conversation_id, message_id)
//	);
var _ repository.ConversationArchive = (*ArchiveRepo)(nil)

type ArchiveRepo struct {
	pool *pgxpool.Pool
}

func NewArchiveRepo(pool *pgxpool.Pool) *ArchiveRepo {
	return &ArchiveRepo{pool: pool}
}

func (r *ArchiveRepo) Save(ctx context.Context, c *model.Conversation) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const qConv = `
INSERT INTO conversations (id, updated_at)
VALUES ($1, NOW())
ON CONFLICT (id) DO UPDATE SET updated_at = NOW();`
	if _, err := tx.Exec(ctx, qConv, c.ID); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}

	const qMsg = `
INSERT INTO conversation_messages (conversation_id, message_id, role, text, ts)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (conversation_id, message_id) DO NOTHING;`
	for _, m := range c.Messages {
		if _, err := tx.Exec(ctx, qMsg, c.ID, m.ID, m.Role, m.Text, m.Timestamp); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (r *ArchiveRepo) Find(ctx context.Context, id string) (*model.Conversation, error) {
	const qConv = `SELECT id FROM conversations WHERE id = $1;`
	var convID string
	if err := r.pool.QueryRow(ctx, qConv, id).Scan(&convID); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find conversation: %w", err)
	}

	const qMsgs = `
SELECT message_id, role, text, ts
  FROM conversation_messages
 WHERE conversation_id = $1
 ORDER BY ts ASC, message_id ASC;`
	rows, err := r.pool.Query(ctx, qMsgs, id)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	c := &model.Conversation{ID: convID}
	for rows.Next() {
		var m model.ChatMessage
		if err := rows.Scan(&m.ID, &m.Role, &m.Text, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		c.Messages = append(c.Messages, m)
	}
	return c, rows.Err()
}

func (r *ArchiveRepo) Recent(ctx context.Context, limit int) ([]repository.ArchivedConversation, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT c.id, c.updated_at, COUNT(m.message_id)
  FROM conversations c
  LEFT JOIN conversation_messages m ON m.conversation_id = c.id
 GROUP BY c.id, c.updated_at
 ORDER BY c.updated_at DESC
 LIMIT $1;`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var out []repository.ArchivedConversation
	for rows.Next() {
		var a repository.ArchivedConversation
		var ts time.Time
		if err := rows.Scan(&a.ID, &ts, &a.Messages); err != nil {
			return nil, fmt.Errorf("scan recent: %w", err)
		}
		a.UpdatedAt = ts
		out = append(out, a)
	}
	return out, rows.Err()
}
