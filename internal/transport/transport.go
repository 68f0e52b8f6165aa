// Package transport defines the boundary between the relay core and the
// chat network connection. The core never talks to the network directly:
// it dials a Transport, receives its events through a single callback and
// issues sends, downloads and receipts through the returned handle.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrNotInitialized is returned when an operation needs a live Transport
// handle and there is none (before Start, after Stop, or between reconnects).
var ErrNotInitialized = errors.New("transport not initialized")

// Server suffixes for qualified chat identifiers.
const (
	PersonServer = "s.whatsapp.net"
	GroupServer  = "g.us"
)

// Handler receives Transport events. Implementations should return quickly.
type Handler func(Event)

// Dialer creates a connected Transport. Events produced by the returned
// Transport are delivered to handler until Close is called.
type Dialer interface {
	Dial(ctx context.Context, creds *Credentials, handler Handler) (Transport, error)
}

// Transport is a live session handle.
type Transport interface {
	SendMessage(ctx context.Context, chatID string, content Content) (MessageHandle, error)
	DownloadMedia(ctx context.Context, msg *Message) ([]byte, error)
	SendReceipt(ctx context.Context, chatID, participant string, messageIDs []string, kind ReceiptType) error
	DeleteMessage(ctx context.Context, key MessageKey) error
	GroupMetadata(ctx context.Context, groupID string) (*GroupMetadata, error)
	Logout(ctx context.Context) error
	Close()
}

// Credentials is the opaque session blob persisted between runs. Only the
// Transport understands Blob.
type Credentials struct {
	Version   int
	Blob      []byte
	UpdatedAt time.Time
}

// GroupMetadata is the subset of group information the relay uses.
type GroupMetadata struct {
	ID           string
	Subject      string
	Topic        string
	Owner        string
	Participants []string
	CreatedAt    time.Time
}

// GroupLookup is a cache hook consulted before fetching group metadata over
// the network. It reports false on a miss.
type GroupLookup interface {
	Get(groupID string) (*GroupMetadata, bool)
	Add(groupID string, md *GroupMetadata)
}

// ReceiptType selects the acknowledgment sent by SendReceipt.
type ReceiptType string

const (
	ReceiptRead   ReceiptType = "read"
	ReceiptPlayed ReceiptType = "played"
)

// MessageHandle identifies a message accepted by the network.
type MessageHandle struct {
	ID        string
	ChatID    string
	Timestamp time.Time
}
