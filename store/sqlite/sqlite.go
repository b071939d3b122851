// Package sqlite implements qanat.ConversationStore on a local SQLite
// file using the pure-Go driver. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	qanat "github.com/nevindra/qanat"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. If not set, no logs
// are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements qanat.ConversationStore backed by a local SQLite file.
// Rows are append-only; a conversation exists by virtue of its rows.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ qanat.ConversationStore = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates the messages table and its indexes. Idempotent.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			user_id TEXT,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			sources TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_user ON messages(user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at)`,
	}
	for _, ddl := range stmts {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return &qanat.ErrStore{Op: "init", Err: err}
		}
	}
	s.logger.Debug("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// Append writes one row and returns the assigned id.
func (s *Store) Append(ctx context.Context, m qanat.Message) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, user_id, role, content, sources, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ConversationID, nullable(m.UserID), m.Role, m.Content, nullable(m.Sources), m.CreatedAt,
	)
	if err != nil {
		return 0, &qanat.ErrStore{Op: "append", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &qanat.ErrStore{Op: "append", Err: err}
	}
	s.logger.Debug("sqlite: message appended", "id", id, "conversation_id", m.ConversationID, "role", m.Role)
	return id, nil
}

// AppendTurn writes the user row and the assistant row of one turn inside
// a single transaction: either both rows land or neither does.
func (s *Store) AppendTurn(ctx context.Context, user, assistant qanat.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &qanat.ErrStore{Op: "append_turn", Err: err}
	}
	defer tx.Rollback()

	const stmt = `INSERT INTO messages (conversation_id, user_id, role, content, sources, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`
	for _, m := range []qanat.Message{user, assistant} {
		if _, err := tx.ExecContext(ctx, stmt,
			m.ConversationID, nullable(m.UserID), m.Role, m.Content, nullable(m.Sources), m.CreatedAt,
		); err != nil {
			return &qanat.ErrStore{Op: "append_turn", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &qanat.ErrStore{Op: "append_turn", Err: err}
	}
	s.logger.Debug("sqlite: turn appended", "conversation_id", user.ConversationID)
	return nil
}

// Tail returns the last n messages of a conversation, newest first.
func (s *Store) Tail(ctx context.Context, conversationID string, n int) ([]qanat.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, user_id, role, content, sources, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
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
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, user_id, role, content, sources, created_at
		 FROM messages WHERE conversation_id = ?
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
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id FROM messages
		 WHERE user_id = ? AND conversation_id LIKE ?
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
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return &qanat.ErrStore{Op: "delete", Err: err}
	}
	if n, err := res.RowsAffected(); err == nil {
		s.logger.Debug("sqlite: conversation deleted", "conversation_id", conversationID, "rows", n)
	}
	return nil
}

// Clear removes every row of every conversation.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return &qanat.ErrStore{Op: "clear", Err: err}
	}
	s.logger.Debug("sqlite: store cleared")
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// nullable maps "" to NULL so optional columns stay empty in the schema
// rather than holding empty strings.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func collectMessages(rows *sql.Rows, op string) ([]qanat.Message, error) {
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
