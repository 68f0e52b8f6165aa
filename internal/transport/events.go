package transport

import "time"

// Event is one of ConnectionUpdate, CredentialsUpdate, MessageBatch or ChatsUpsert.
type Event interface {
	eventKind() string
}

// Connection is the connection field of a ConnectionUpdate. An empty value
// means the update carries no connection change (e.g. a bare QR challenge).
type Connection string

const (
	ConnectionNone       Connection = ""
	ConnectionConnecting Connection = "connecting"
	ConnectionOpen       Connection = "open"
	ConnectionClose      Connection = "close"
)

// DisconnectReason explains a ConnectionClose update.
type DisconnectReason int

const (
	ReasonUnknown DisconnectReason = iota
	ReasonConnectionLost
	ReasonConnectFailure
	ReasonReplaced
	ReasonChallengeExpired
	ReasonLoggedOut
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonConnectionLost:
		return "connection_lost"
	case ReasonConnectFailure:
		return "connect_failure"
	case ReasonReplaced:
		return "replaced"
	case ReasonChallengeExpired:
		return "challenge_expired"
	case ReasonLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// ConnectionUpdate reports a connection state change and/or a QR challenge.
type ConnectionUpdate struct {
	Connection Connection
	QR         string
	Reason     DisconnectReason
	Err        error
}

// CredentialsUpdate carries the full, current credential blob.
type CredentialsUpdate struct {
	Blob []byte
}

// BatchKind tags a MessageBatch as live or replayed.
type BatchKind string

const (
	BatchNotify  BatchKind = "notify"
	BatchHistory BatchKind = "history"
)

// MessageBatch is a group of messages delivered together.
type MessageBatch struct {
	Kind     BatchKind
	Messages []*Message
}

// ChatKind distinguishes person and group chats.
type ChatKind string

const (
	ChatPerson ChatKind = "person"
	ChatGroup  ChatKind = "group"
)

// ChatInfo is a chat seen by the Transport (history sync, joins, contacts).
type ChatInfo struct {
	ID       string
	Kind     ChatKind
	Name     string
	Metadata map[string]string
}

// ChatsUpsert announces chats that were created or changed.
type ChatsUpsert struct {
	Chats []ChatInfo
}

func (ConnectionUpdate) eventKind() string  { return "connection.update" }
func (CredentialsUpdate) eventKind() string { return "creds.update" }
func (MessageBatch) eventKind() string      { return "messages.upsert" }
func (ChatsUpsert) eventKind() string       { return "chats.upsert" }

// MessageKey identifies a message within a chat.
type MessageKey struct {
	ChatID      string
	ID          string
	FromMe      bool
	Participant string
}

// MediaKind is the kind of attached media.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
)

// Valid reports whether k is a supported media kind.
func (k MediaKind) Valid() bool {
	switch k {
	case MediaImage, MediaVideo, MediaDocument:
		return true
	}
	return false
}

// MediaRef describes downloadable media on an inbound message. Handle is
// owned by the Transport that produced the message.
type MediaRef struct {
	Kind     MediaKind
	Mimetype string
	FileName string
	Caption  string
	Handle   any
}

// Message is an inbound message as produced by the Transport.
type Message struct {
	Key          MessageKey
	Sender       string
	PushName     string
	IsGroup      bool
	Conversation string
	ExtendedText string
	Media        *MediaRef
	Timestamp    time.Time
}

// Text returns the best-effort text payload: plain conversation text, then
// extended text, then the media caption.
func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	if m.Conversation != "" {
		return m.Conversation
	}
	if m.ExtendedText != "" {
		return m.ExtendedText
	}
	if m.Media != nil {
		return m.Media.Caption
	}
	return ""
}

// Content is an outgoing message payload. Exactly one of Text-only or Media
// is sent; when Media is set, Text becomes its caption.
type Content struct {
	Text  string
	Media *Media
	Quote *Quote
}

// Media is outgoing media.
type Media struct {
	Kind     MediaKind
	Data     []byte
	FileName string
	Mimetype string
}

// Quote references a message being replied to.
type Quote struct {
	MessageID   string
	ChatID      string
	Participant string
	FromMe      bool
	Preview     string
}
