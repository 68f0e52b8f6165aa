// Package relay forwards inbound messages to the webhook and answers with
// its reply.
package relay

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/wpprelay/internal/bus"
	"github.com/matheus3301/wpprelay/internal/directory"
	"github.com/matheus3301/wpprelay/internal/metrics"
	"github.com/matheus3301/wpprelay/internal/outbox"
	"github.com/matheus3301/wpprelay/internal/transport"
	"github.com/matheus3301/wpprelay/internal/webhook"
)

// Outcome classifies a relayed message.
type Outcome string

const (
	OutcomeReplied       Outcome = "replied"
	OutcomeAcknowledged  Outcome = "acknowledged"
	OutcomeReplyFailed   Outcome = "reply_failed"
	OutcomeWebhookFailed Outcome = "webhook_failed"
	OutcomeNoSession     Outcome = "no_session"
)

// Result is the payload of bus.KindRelayCompleted.
type Result struct {
	ID          string
	ChatID      string
	MessageID   string
	Sender      string
	PushName    string
	FromMe      bool
	Text        string
	MediaKind   transport.MediaKind
	Outcome     Outcome
	ReplyID     string
	Receipt     bool
	Deleted     bool
	Error       string
	MessageTime time.Time
	At          time.Time
}

// Sender sends replies.
type Sender interface {
	Send(ctx context.Context, req outbox.Request) (transport.MessageHandle, error)
}

// Config tunes the pipeline.
type Config struct {
	DeleteImagesAfterReply bool
}

// Pipeline consumes Transport events. Notify batches are relayed message by
// message on the pool; history batches and chat upserts only feed the
// directory.
type Pipeline struct {
	src    outbox.TransportSource
	hook   webhook.Poster
	sender Sender
	dir    *directory.Directory
	pool   *Pool
	bus    *bus.Bus
	logger *zap.Logger
	cfg    Config
}

// NewPipeline creates a Pipeline. pool must be started by the caller.
func NewPipeline(src outbox.TransportSource, hook webhook.Poster, sender Sender, dir *directory.Directory, pool *Pool, b *bus.Bus, logger *zap.Logger, cfg Config) *Pipeline {
	return &Pipeline{
		src:    src,
		hook:   hook,
		sender: sender,
		dir:    dir,
		pool:   pool,
		bus:    b,
		logger: logger,
		cfg:    cfg,
	}
}

// Handle is a transport.Handler.
func (p *Pipeline) Handle(evt transport.Event) {
	switch e := evt.(type) {
	case transport.MessageBatch:
		p.handleBatch(e)
	case transport.ChatsUpsert:
		p.recordChats(e.Chats)
	}
}

func (p *Pipeline) handleBatch(batch transport.MessageBatch) {
	p.recordChats(chatsOf(batch.Messages))
	if batch.Kind != transport.BatchNotify {
		p.logger.Debug("skipping non-notify batch",
			zap.String("kind", string(batch.Kind)),
			zap.Int("messages", len(batch.Messages)),
		)
		return
	}
	for _, msg := range batch.Messages {
		if msg == nil {
			continue
		}
		err := p.pool.Submit(msg.Key.ChatID, func(ctx context.Context) {
			p.Process(ctx, msg)
		})
		if err != nil {
			p.logger.Warn("dropping message", zap.String("chat", msg.Key.ChatID), zap.Error(err))
		}
	}
}

func (p *Pipeline) recordChats(chats []transport.ChatInfo) {
	if len(chats) == 0 {
		return
	}
	records := p.dir.UpsertChats(chats)
	p.bus.Emit(bus.KindChatsUpserted, records)
}

func chatsOf(msgs []*transport.Message) []transport.ChatInfo {
	seen := make(map[string]bool, len(msgs))
	var out []transport.ChatInfo
	for _, m := range msgs {
		if m == nil || m.Key.ChatID == "" || seen[m.Key.ChatID] {
			continue
		}
		seen[m.Key.ChatID] = true
		info := transport.ChatInfo{ID: m.Key.ChatID, Kind: transport.ChatPerson}
		if m.IsGroup {
			info.Kind = transport.ChatGroup
		} else if !m.Key.FromMe {
			info.Name = m.PushName
		}
		out = append(out, info)
	}
	return out
}

// Process relays a single message. Failures are logged and reported in the
// returned Result, never propagated.
func (p *Pipeline) Process(ctx context.Context, msg *transport.Message) Result {
	res := Result{
		ID:          uuid.NewString(),
		ChatID:      msg.Key.ChatID,
		MessageID:   msg.Key.ID,
		Sender:      msg.Sender,
		PushName:    msg.PushName,
		FromMe:      msg.Key.FromMe,
		Text:        msg.Text(),
		MessageTime: msg.Timestamp,
	}
	log := p.logger.With(
		zap.String("chat", msg.Key.ChatID),
		zap.String("msg_id", msg.Key.ID),
		zap.String("relay_id", res.ID),
	)
	defer func() {
		res.At = time.Now()
		metrics.Relayed(string(res.Outcome))
		p.bus.Emit(bus.KindRelayCompleted, res)
	}()

	tr, err := p.src.Transport()
	if err != nil {
		log.Warn("no session for relay", zap.Error(err))
		res.Outcome = OutcomeNoSession
		res.Error = err.Error()
		return res
	}

	payload := p.buildPayload(ctx, tr, msg, log)
	if msg.Media != nil && payload.Media != "" {
		res.MediaKind = msg.Media.Kind
	}

	start := time.Now()
	reply, err := p.hook.Post(ctx, payload)
	metrics.ObserveWebhook(time.Since(start))

	replied := false
	switch {
	case err != nil:
		log.Error("webhook call failed", zap.Error(err))
		res.Outcome = OutcomeWebhookFailed
		res.Error = err.Error()
	case reply.Message == "":
		res.Outcome = OutcomeAcknowledged
	default:
		h, err := p.sender.Send(ctx, outbox.Request{
			ChatID: msg.Key.ChatID,
			Text:   reply.Message,
			Origin: "relay",
		})
		if err != nil {
			log.Error("reply send failed", zap.Error(err))
			res.Outcome = OutcomeReplyFailed
			res.Error = err.Error()
		} else {
			res.Outcome = OutcomeReplied
			res.ReplyID = h.ID
			replied = true
		}
	}

	if !msg.Key.FromMe {
		err := tr.SendReceipt(ctx, msg.Key.ChatID, msg.Key.Participant, []string{msg.Key.ID}, transport.ReceiptRead)
		if err != nil {
			log.Warn("read receipt failed", zap.Error(err))
		} else {
			res.Receipt = true
		}
	}

	if replied && p.cfg.DeleteImagesAfterReply && !msg.Key.FromMe &&
		msg.Media != nil && msg.Media.Kind == transport.MediaImage {
		if err := tr.DeleteMessage(ctx, msg.Key); err != nil {
			log.Warn("delete after reply failed", zap.Error(err))
		} else {
			res.Deleted = true
		}
	}

	log.Info("message relayed", zap.String("outcome", string(res.Outcome)))
	return res
}

func (p *Pipeline) buildPayload(ctx context.Context, tr transport.Transport, msg *transport.Message, log *zap.Logger) *webhook.Payload {
	payload := &webhook.Payload{
		From:      msg.Key.ChatID,
		FromMe:    msg.Key.FromMe,
		Message:   msg.Text(),
		MessageID: msg.Key.ID,
		PushName:  msg.PushName,
	}
	if !msg.Key.FromMe && msg.Key.Participant != "" {
		payload.Participant = msg.Key.Participant
	}
	if !msg.Timestamp.IsZero() {
		payload.Timestamp = msg.Timestamp.Unix()
	}

	if msg.IsGroup {
		md, err := tr.GroupMetadata(ctx, msg.Key.ChatID)
		if err != nil {
			log.Debug("group metadata unavailable", zap.Error(err))
		} else if md != nil {
			payload.GroupName = md.Subject
		}
	}

	if msg.Media != nil && msg.Media.Kind.Valid() {
		data, err := tr.DownloadMedia(ctx, msg)
		if err != nil {
			log.Warn("media download failed, relaying text only", zap.Error(err))
		} else {
			payload.Media = base64.StdEncoding.EncodeToString(data)
			payload.MediaType = string(msg.Media.Kind)
		}
	}
	return payload
}
