package store

// Chat is a persisted directory record plus the last relayed message.
type Chat struct {
	JID                string
	Kind               string
	Name               string
	Metadata           map[string]string
	LastMessageAt      int64
	LastMessagePreview string
	LastSenderJID      string
	UpdatedAt          int64
}

// Direction of a journal entry.
const (
	Inbound  = "inbound"
	Outbound = "outbound"
)

// JournalEntry is one relayed or sent message.
type JournalEntry struct {
	ID        string
	Direction string
	ChatJID   string
	MsgID     string
	SenderJID string
	PushName  string
	FromMe    bool
	Body      string
	MediaType string
	Outcome   string
	ReplyID   string
	Receipt   bool
	Deleted   bool
	Error     string
	CreatedAt int64
}
