// Package postgres implements qanat.ConversationStore on PostgreSQL via
// the pgx connection pool. Suitable when several service instances share
// one conversation database.
package postgres

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	qanat "github.com/nevindra/qanat"
)

// DB is the subset of pgxpool.Pool the store uses. pgxmock's pool
// satisfies it too, which keeps the store testable without a server.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

var _ DB = (*pgxpool.Pool)(nil)

// Store implements qanat.ConversationStore backed by PostgreSQL.
// It takes ownership of the pool and closes it on Close.
type Store struct {
	db DB
}

var _ qanat.ConversationStore = (*Store)(nil)

// New creates a Store over an existing connection pool.
func New(db DB) *Store {
	return &Store{db: db}
}

// Connect opens a pgx pool for dsn and wraps it in a Store. Init must
// still be called before serving.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, &qanat.ErrStore{Op: "connect", Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &qanat.ErrStore{Op: "connect", Err: err}
	}
	return New(pool), nil
}

// Init creates the messages table and its indexes. Idempotent.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			user_id TEXT,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			sources TEXT,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_user ON messages(user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at)`,
	}
	for _, ddl := range stmts {
		if _, err := s.db.Exec(ctx, ddl); err != nil {
			return &qanat.ErrStore{Op: "init", Err: err}
		}
	}
	return nil
}

// Append writes one row and returns the assigned id.
func (s *Store) Append(ctx context.Context, m qanat.Message) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx,
		`INSERT INTO messages (conversation_id, user_id, role, content, sources, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		m.ConversationID, nullable(m.UserID), m.Role, m.Content, nullable(m.Sources), m.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, &qanat.ErrStore{Op: "append", Err: err}
	}
	return id, nil
}

// AppendTurn writes the user row and the assistant row of one turn inside
// a single transaction: either both rows land or neither does.
func (s *Store) AppendTurn(ctx context.Context, user, assistant qanat.Message) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return &qanat.ErrStore{Op: "append_turn", Err: err}
	}
	defer tx.Rollback(ctx)

	const stmt = `INSERT INTO messages (conversation_id, user_id, role, content, sources, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`
	for _, m := range []qanat.Message{user, assistant} {
		if _, err := tx.Exec(ctx, stmt,
			m.ConversationID, nullable(m.UserID), m.Role, m.Content, nullable(m.Sources), m.CreatedAt,
		); err != nil {
			return &qanat.ErrStore{Op: "append_turn", Err: err}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return &qanat.ErrStore{Op: "append_turn", Err: err}
	}
	return nil
}

// Tail returns the last n messages of a conversation, newest first.
func (s *Store) Tail(ctx context.Context, conversationID string, n int) ([]qanat.Message, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, conversation_id, user_id, role, content, sources, created_at
		 FROM messages WHERE conversation_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT $2`,
		conversationID, n,
	)
	if err != nil {
		return nil, &qanat.ErrStore{Op: "tail", Err: err}
	}
	defer rows.Close()
	return collectMessages(rows, "tail")
}

// History returns all messages of a conversation, oldest first.
func (s *Store) History(ctx context.Context, conversationID string) ([]qanat.Message, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, conversation_id, user_id, role, content, sources, created_at
		 FROM messages WHERE conversation_id = $1
		 ORDER BY created_at ASC, id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, &qanat.ErrStore{Op: "history", Err: err}
	}
	defer rows.Close()
	return collectMessages(rows, "history")
}

// ConversationsFor returns the distinct conversation ids that have at
// least one message for userID and start with prefix, most recent first.
func (s *Store) ConversationsFor(ctx context.Context, userID, prefix string) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT conversation_id FROM messages
		 WHERE user_id = $1 AND conversation_id LIKE $2
		 GROUP BY conversation_id
		 ORDER BY MAX(created_at) DESC, conversation_id`,
		userID, prefix+"%",
	)
	if err != nil {
		return nil, &qanat.ErrStore{Op: "conversations", Err: err}
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &qanat.ErrStore{Op: "conversations", Err: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &qanat.ErrStore{Op: "conversations", Err: err}
	}
	return ids, nil
}

// Delete removes every row of a conversation.
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1`, conversationID); err != nil {
		return &qanat.ErrStore{Op: "delete", Err: err}
	}
	return nil
}

// Clear removes every row of every conversation.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM messages`); err != nil {
		return &qanat.ErrStore{Op: "clear", Err: err}
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

// nullable maps "" to NULL so optional columns stay empty in the schema
// rather than holding empty strings.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func collectMessages(rows pgx.Rows, op string) ([]qanat.Message, error) {
	var out []qanat.Message
	for rows.Next() {
		var m qanat.Message
		var userID, sources sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &userID, &m.Role, &m.Content, &sources, &m.CreatedAt); err != nil {
			return nil, &qanat.ErrStore{Op: op, Err: err}
		}
		m.UserID = userID.String
		m.Sources = sources.String
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &qanat.ErrStore{Op: op, Err: err}
	}
	return out, nil
}
