package wa

import (
	"errors"

	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"

	"github.com/matheus3301/wpprelay/internal/transport"
)

// EventHandler translates whatsmeow events into Transport events.
type EventHandler struct {
	emit     transport.Handler
	groups   transport.GroupLookup
	identity func() identity
	logger   *zap.Logger
}

// NewEventHandler creates a translator that forwards to emit. identity
// returns the current device identity for credential updates.
func NewEventHandler(emit transport.Handler, groups transport.GroupLookup, identity func() identity, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		emit:     emit,
		groups:   groups,
		identity: identity,
		logger:   logger,
	}
}

// Handle is the whatsmeow event handler function.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		h.logger.Info("WhatsApp connected")
		h.emit(transport.ConnectionUpdate{Connection: transport.ConnectionOpen})
	case *events.Disconnected:
		h.logger.Warn("WhatsApp disconnected")
		h.closed(transport.ReasonConnectionLost, nil)
	case *events.StreamReplaced:
		h.logger.Warn("WhatsApp stream replaced by another connection")
		h.closed(transport.ReasonReplaced, nil)
	case *events.LoggedOut:
		h.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		h.closed(transport.ReasonLoggedOut, nil)
	case *events.ConnectFailure:
		if evt.Reason.IsLoggedOut() {
			h.closed(transport.ReasonLoggedOut, errors.New(evt.Reason.String()))
			return
		}
		h.closed(transport.ReasonConnectFailure, errors.New(evt.Reason.String()))
	case *events.TemporaryBan:
		h.closed(transport.ReasonConnectFailure, errors.New(evt.String()))
	case *events.PairSuccess:
		h.logger.Info("paired", zap.String("jid", evt.ID.String()), zap.String("platform", evt.Platform))
		id := identity{JID: evt.ID.String(), Platform: evt.Platform, BusinessName: evt.BusinessName}
		if !evt.LID.IsEmpty() {
			id.LID = evt.LID.String()
		}
		h.emit(transport.CredentialsUpdate{Blob: encodeIdentity(id)})
	case *events.PushNameSetting:
		if h.identity != nil {
			h.emit(transport.CredentialsUpdate{Blob: encodeIdentity(h.identity())})
		}
	case *events.Message:
		h.emit(transport.MessageBatch{
			Kind:     transport.BatchNotify,
			Messages: []*transport.Message{ParseLiveMessage(evt)},
		})
	case *events.HistorySync:
		h.handleHistorySync(evt)
	case *events.JoinedGroup:
		md := groupMetadata(&evt.GroupInfo)
		if h.groups != nil {
			h.groups.Add(md.ID, md)
		}
		h.emit(transport.ChatsUpsert{Chats: []transport.ChatInfo{groupChat(md)}})
	case *events.GroupInfo:
		if evt.Name != nil {
			h.emit(transport.ChatsUpsert{Chats: []transport.ChatInfo{{
				ID:   evt.JID.String(),
				Kind: transport.ChatGroup,
				Name: evt.Name.Name,
			}}})
		}
	case *events.Contact:
		if name := evt.Action.GetFullName(); name != "" {
			h.emit(transport.ChatsUpsert{Chats: []transport.ChatInfo{personChat(evt.JID, name)}})
		}
	case *events.PushName:
		if evt.NewPushName != "" {
			h.emit(transport.ChatsUpsert{Chats: []transport.ChatInfo{personChat(evt.JID, evt.NewPushName)}})
		}
	}
}

func (h *EventHandler) closed(reason transport.DisconnectReason, err error) {
	h.emit(transport.ConnectionUpdate{
		Connection: transport.ConnectionClose,
		Reason:     reason,
		Err:        err,
	})
}

func (h *EventHandler) handleHistorySync(evt *events.HistorySync) {
	data := evt.Data
	if data == nil {
		return
	}

	var msgs []*transport.Message
	var chats []transport.ChatInfo
	for _, conv := range data.GetConversations() {
		chat, err := types.ParseJID(conv.GetID())
		if err != nil {
			h.logger.Debug("skipping history conversation", zap.String("id", conv.GetID()), zap.Error(err))
			continue
		}
		info := transport.ChatInfo{ID: chat.String(), Kind: transport.ChatPerson, Name: conv.GetName()}
		if chat.Server == types.GroupServer {
			info.Kind = transport.ChatGroup
		}
		chats = append(chats, info)

		for _, hm := range conv.GetMessages() {
			wm := hm.GetMessage()
			if wm == nil || wm.GetMessage() == nil {
				continue
			}
			msgs = append(msgs, ParseHistoryMessage(chat, wm))
		}
	}

	if len(chats) > 0 {
		h.emit(transport.ChatsUpsert{Chats: chats})
	}
	if len(msgs) > 0 {
		h.emit(transport.MessageBatch{Kind: transport.BatchHistory, Messages: msgs})
	}
}

func groupMetadata(gi *types.GroupInfo) *transport.GroupMetadata {
	md := &transport.GroupMetadata{
		ID:        gi.JID.String(),
		Subject:   gi.Name,
		Topic:     gi.Topic,
		CreatedAt: gi.GroupCreated,
	}
	if !gi.OwnerJID.IsEmpty() {
		md.Owner = gi.OwnerJID.String()
	}
	for _, p := range gi.Participants {
		md.Participants = append(md.Participants, p.JID.String())
	}
	return md
}

func groupChat(md *transport.GroupMetadata) transport.ChatInfo {
	info := transport.ChatInfo{ID: md.ID, Kind: transport.ChatGroup, Name: md.Subject}
	if md.Topic != "" || md.Owner != "" {
		info.Metadata = map[string]string{}
		if md.Topic != "" {
			info.Metadata["topic"] = md.Topic
		}
		if md.Owner != "" {
			info.Metadata["owner"] = md.Owner
		}
	}
	return info
}

func personChat(jid types.JID, name string) transport.ChatInfo {
	return transport.ChatInfo{ID: jid.ToNonAD().String(), Kind: transport.ChatPerson, Name: name}
}
