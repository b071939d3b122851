package qanat

import "context"

// ConversationStore is the append-only persistence layer for messages.
// Rows are never mutated; a conversation exists by virtue of its rows and
// is destroyed by Delete. Implementations: store/sqlite, store/postgres.
type ConversationStore interface {
	// Append writes one row and returns the assigned id.
	Append(ctx context.Context, m Message) (int64, error)
	// AppendTurn writes the user row and the assistant row of one turn
	// inside a single transaction: either both rows land or neither does.
	AppendTurn(ctx context.Context, user, assistant Message) error
	// Tail returns the last n messages of a conversation, newest first.
	Tail(ctx context.Context, conversationID string, n int) ([]Message, error)
	// History returns all messages of a conversation, oldest first.
	History(ctx context.Context, conversationID string) ([]Message, error)
	// ConversationsFor returns the distinct conversation ids that have at
	// least one message for userID and start with prefix, ordered by most
	// recent activity descending.
	ConversationsFor(ctx context.Context, userID, prefix string) ([]string, error)
	// Delete removes every row of a conversation.
	Delete(ctx context.Context, conversationID string) error
	// Clear removes every row of every conversation.
	Clear(ctx context.Context) error

	// Init creates tables and indexes; idempotent.
	Init(ctx context.Context) error
	Close() error
}
