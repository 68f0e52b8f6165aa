package bus

import (
	"strings"
	"time"
)

// Event kinds, grouped by the prefix subscribers filter on.
const (
	KindStatusChanged = "session.status_changed"
	KindQRGenerated   = "session.qr_generated"
	KindLoggedOut     = "session.logged_out"
	KindReconnecting  = "session.reconnecting"
	KindCredsSaved    = "session.credentials_saved"

	KindChatsUpserted = "directory.chats_upserted"

	KindRelayCompleted = "relay.completed"

	KindOutboxSent   = "outbox.sent"
	KindOutboxFailed = "outbox.failed"
)

// Event is one published occurrence. Payload type depends on Kind.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Topic returns the prefix of kind up to and including the first dot, or
// kind itself when it has none.
func Topic(kind string) string {
	if i := strings.IndexByte(kind, '.'); i >= 0 {
		return kind[:i+1]
	}
	return kind
}
