package qanat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Conversation id prefixes. The prefix marks the path that created the
// conversation and never changes afterwards.
const (
	AgentConversationPrefix = "agent-"
	ChatConversationPrefix  = "chat-"
)

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewConversationID generates a fresh conversation id with the given
// kind prefix.
func NewConversationID(prefix string) string {
	return prefix + NewID()
}

// HasConversationPrefix reports whether id carries the given kind prefix.
func HasConversationPrefix(id, prefix string) bool {
	return strings.HasPrefix(id, prefix)
}

// NowUnix returns current time as Unix seconds.
func NowUnix() int64 {
	return time.Now().Unix()
}
