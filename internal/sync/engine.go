package sync

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/wpprelay/internal/bus"
	"github.com/matheus3301/wpprelay/internal/directory"
	"github.com/matheus3301/wpprelay/internal/outbox"
	"github.com/matheus3301/wpprelay/internal/relay"
	"github.com/matheus3301/wpprelay/internal/store"
)

const previewLen = 100

// Engine persists directory, relay and outbox events into the store. The
// relay path only publishes on the bus and never waits on the database.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a new sync engine.
func NewEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to the persisted event namespaces.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})

	dirCh, unsubDir := e.bus.Subscribe("directory.", 256)
	relayCh, unsubRelay := e.bus.Subscribe("relay.", 256)
	outCh, unsubOut := e.bus.Subscribe("outbox.", 256)

	go func() {
		defer close(e.done)
		defer unsubDir()
		defer unsubRelay()
		defer unsubOut()
		for {
			select {
			case evt := <-dirCh:
				e.handleEvent(evt)
			case evt := <-relayCh:
				e.handleEvent(evt)
			case evt := <-outCh:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine and waits for the loop to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindChatsUpserted:
		records, ok := evt.Payload.([]directory.Record)
		if !ok {
			return
		}
		if err := e.IngestChats(records); err != nil {
			e.logger.Error("failed to ingest chats", zap.Error(err), zap.Int("count", len(records)))
		}
	case bus.KindRelayCompleted:
		res, ok := evt.Payload.(relay.Result)
		if !ok {
			return
		}
		if err := e.RecordRelay(res); err != nil {
			e.logger.Error("failed to journal relay", zap.Error(err), zap.String("msg_id", res.MessageID))
		}
	case bus.KindOutboxSent, bus.KindOutboxFailed:
		res, ok := evt.Payload.(outbox.SendResult)
		if !ok {
			return
		}
		if err := e.RecordSend(res); err != nil {
			e.logger.Error("failed to journal send", zap.Error(err), zap.String("chat", res.ChatID))
		}
	}
}

// IngestChats stores directory records (idempotent).
func (e *Engine) IngestChats(records []directory.Record) error {
	chats := make([]store.Chat, 0, len(records))
	for _, r := range records {
		chats = append(chats, store.Chat{
			JID:       r.ID,
			Kind:      string(r.Kind),
			Name:      r.Name,
			Metadata:  r.Metadata,
			UpdatedAt: r.UpdatedAt.UnixMilli(),
		})
	}
	if err := e.db.BulkUpsertChats(chats); err != nil {
		return fmt.Errorf("upsert chats: %w", err)
	}
	return nil
}

// RecordRelay journals a relayed message and updates the chat's last message.
func (e *Engine) RecordRelay(res relay.Result) error {
	at := res.MessageTime
	if at.IsZero() {
		at = res.At
	}
	if err := e.db.RecordLastMessage(res.ChatID, truncate(res.Text, previewLen), res.Sender, at.UnixMilli()); err != nil {
		return fmt.Errorf("record last message: %w", err)
	}
	entry := &store.JournalEntry{
		ID:        res.ID,
		Direction: store.Inbound,
		ChatJID:   res.ChatID,
		MsgID:     res.MessageID,
		SenderJID: res.Sender,
		PushName:  res.PushName,
		FromMe:    res.FromMe,
		Body:      res.Text,
		MediaType: string(res.MediaKind),
		Outcome:   string(res.Outcome),
		ReplyID:   res.ReplyID,
		Receipt:   res.Receipt,
		Deleted:   res.Deleted,
		Error:     res.Error,
		CreatedAt: res.At.UnixMilli(),
	}
	if err := e.db.AppendJournal(entry); err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return nil
}

// RecordSend journals an outbound send.
func (e *Engine) RecordSend(res outbox.SendResult) error {
	outcome := "sent"
	if res.Error != "" {
		outcome = "failed"
	}
	entry := &store.JournalEntry{
		ID:        uuid.NewString(),
		Direction: store.Outbound,
		ChatJID:   res.ChatID,
		MsgID:     res.MessageID,
		FromMe:    true,
		Body:      res.Text,
		MediaType: string(res.MediaKind),
		Outcome:   outcome,
		Error:     res.Error,
		CreatedAt: res.At.UnixMilli(),
	}
	if err := e.db.AppendJournal(entry); err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return nil
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
