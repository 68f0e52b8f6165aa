// Package outbox composes and sends outbound messages.
package outbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/matheus3301/wpprelay/internal/bus"
	"github.com/matheus3301/wpprelay/internal/metrics"
	"github.com/matheus3301/wpprelay/internal/transport"
)

// TransportSource hands out the live Transport, or transport.ErrNotInitialized.
type TransportSource interface {
	Transport() (transport.Transport, error)
}

// SendError wraps every failure of Send with the resolved recipient.
type SendError struct {
	ChatID string
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s: %v", e.ChatID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// SendResult is the payload of bus.KindOutboxSent and bus.KindOutboxFailed.
type SendResult struct {
	ChatID    string
	MessageID string
	Text      string
	MediaKind transport.MediaKind
	Origin    string
	Error     string
	At        time.Time
}

// Config bounds outbound traffic.
type Config struct {
	Rate    float64 // sends per second, 0 disables limiting
	Burst   int
	Timeout time.Duration
}

// Composer resolves recipients, builds content and sends it.
type Composer struct {
	src     TransportSource
	dir     Directory
	limiter *rate.Limiter
	timeout time.Duration
	bus     *bus.Bus
	logger  *zap.Logger
}

// NewComposer creates a Composer.
func NewComposer(src TransportSource, dir Directory, b *bus.Bus, logger *zap.Logger, cfg Config) *Composer {
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Composer{
		src:     src,
		dir:     dir,
		limiter: rate.NewLimiter(limit, burst),
		timeout: timeout,
		bus:     b,
		logger:  logger,
	}
}

// Send delivers req. All errors are *SendError; validation failures match
// ErrInvalidRequest and a missing session matches transport.ErrNotInitialized.
func (c *Composer) Send(ctx context.Context, req Request) (transport.MessageHandle, error) {
	if req.ChatID == "" {
		return transport.MessageHandle{}, &SendError{Err: ErrEmptyRecipient}
	}
	chatID := ResolveJID(req.ChatID, c.dir)

	content, err := BuildContent(chatID, req)
	if err != nil {
		return transport.MessageHandle{}, &SendError{ChatID: chatID, Err: err}
	}

	tr, err := c.src.Transport()
	if err != nil {
		return transport.MessageHandle{}, &SendError{ChatID: chatID, Err: err}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return transport.MessageHandle{}, &SendError{ChatID: chatID, Err: fmt.Errorf("rate limit: %w", err)}
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	h, err := tr.SendMessage(sendCtx, chatID, content)
	result := SendResult{
		ChatID:    chatID,
		MessageID: h.ID,
		Text:      content.Text,
		Origin:    req.Origin,
		At:        time.Now(),
	}
	if content.Media != nil {
		result.MediaKind = content.Media.Kind
	}
	if err != nil {
		result.Error = err.Error()
		metrics.OutboundSend(false)
		c.bus.Emit(bus.KindOutboxFailed, result)
		c.logger.Error("send failed",
			zap.String("chat", chatID),
			zap.String("origin", req.Origin),
			zap.Error(err),
		)
		return transport.MessageHandle{}, &SendError{ChatID: chatID, Err: err}
	}

	metrics.OutboundSend(true)
	c.bus.Emit(bus.KindOutboxSent, result)
	c.logger.Info("message sent",
		zap.String("chat", chatID),
		zap.String("id", h.ID),
		zap.String("origin", req.Origin),
	)
	return h, nil
}
