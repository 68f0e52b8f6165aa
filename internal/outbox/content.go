package outbox

import (
	"errors"
	"fmt"

	"github.com/matheus3301/wpprelay/internal/transport"
)

var (
	// ErrInvalidRequest is the parent of every request validation error.
	ErrInvalidRequest = errors.New("invalid send request")
	ErrEmptyRecipient = fmt.Errorf("%w: empty recipient", ErrInvalidRequest)
	ErrEmptyMessage   = fmt.Errorf("%w: message has no text or media", ErrInvalidRequest)
	ErrInvalidMedia   = fmt.Errorf("%w: media", ErrInvalidRequest)
)

// previewLen bounds the synthetic text of a quoted message.
const previewLen = 20

// Request is an outbound send.
type Request struct {
	ChatID  string
	Text    string
	Options Options
	// Origin names the caller for logging and the journal ("api", "relay").
	Origin string
}

// Options are optional send modifiers.
type Options struct {
	QuotedMessageID string
	Media           *transport.Media
}

// BuildContent validates req and builds the content sent to chatID. Exactly
// one kind is produced: text alone, or media with the text as caption.
func BuildContent(chatID string, req Request) (transport.Content, error) {
	var c transport.Content
	if m := req.Options.Media; m != nil {
		if !m.Kind.Valid() {
			return c, fmt.Errorf("%w: unsupported type %q", ErrInvalidMedia, m.Kind)
		}
		if len(m.Data) == 0 {
			return c, fmt.Errorf("%w: empty data", ErrInvalidMedia)
		}
		media := *m
		c.Media = &media
	} else if req.Text == "" {
		return c, ErrEmptyMessage
	}
	c.Text = req.Text

	if id := req.Options.QuotedMessageID; id != "" {
		c.Quote = &transport.Quote{
			MessageID: id,
			ChatID:    chatID,
			Preview:   Preview(req.Text),
		}
	}
	return c, nil
}

// Preview truncates text to the quoted-message preview length.
func Preview(text string) string {
	r := []rune(text)
	if len(r) <= previewLen {
		return text
	}
	return string(r[:previewLen]) + "..."
}
