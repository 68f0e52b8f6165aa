package wa

import (
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/matheus3301/wpprelay/internal/transport"
)

// ParseLiveMessage normalizes a live whatsmeow message event.
func ParseLiveMessage(evt *events.Message) *transport.Message {
	info := evt.Info
	m := &transport.Message{
		Key: transport.MessageKey{
			ChatID: info.Chat.String(),
			ID:     info.ID,
			FromMe: info.IsFromMe,
		},
		Sender:    info.Sender.ToNonAD().String(),
		PushName:  info.PushName,
		IsGroup:   info.IsGroup,
		Timestamp: info.Timestamp,
	}
	if info.IsGroup {
		m.Key.Participant = info.Sender.ToNonAD().String()
	}
	fillContent(m, evt.Message)
	return m
}

// ParseHistoryMessage normalizes a history sync message of chat.
func ParseHistoryMessage(chat types.JID, wm *waWeb.WebMessageInfo) *transport.Message {
	key := wm.GetKey()
	isGroup := chat.Server == types.GroupServer
	m := &transport.Message{
		Key: transport.MessageKey{
			ChatID: chat.String(),
			ID:     key.GetID(),
			FromMe: key.GetFromMe(),
		},
		PushName:  wm.GetPushName(),
		IsGroup:   isGroup,
		Timestamp: time.Unix(int64(wm.GetMessageTimestamp()), 0),
	}
	switch {
	case isGroup && key.GetParticipant() != "":
		m.Key.Participant = key.GetParticipant()
		m.Sender = key.GetParticipant()
	case isGroup && wm.GetParticipant() != "":
		m.Key.Participant = wm.GetParticipant()
		m.Sender = wm.GetParticipant()
	default:
		m.Sender = chat.String()
	}
	fillContent(m, wm.GetMessage())
	return m
}

func fillContent(m *transport.Message, msg *waE2E.Message) {
	if msg == nil {
		return
	}
	m.Conversation = msg.GetConversation()
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		m.ExtendedText = ext.GetText()
	}
	m.Media = mediaRef(msg)
}

func mediaRef(msg *waE2E.Message) *transport.MediaRef {
	switch {
	case msg.GetImageMessage() != nil:
		im := msg.GetImageMessage()
		return &transport.MediaRef{
			Kind:     transport.MediaImage,
			Mimetype: im.GetMimetype(),
			Caption:  im.GetCaption(),
			Handle:   im,
		}
	case msg.GetVideoMessage() != nil:
		vm := msg.GetVideoMessage()
		return &transport.MediaRef{
			Kind:     transport.MediaVideo,
			Mimetype: vm.GetMimetype(),
			Caption:  vm.GetCaption(),
			Handle:   vm,
		}
	case msg.GetDocumentMessage() != nil:
		dm := msg.GetDocumentMessage()
		return &transport.MediaRef{
			Kind:     transport.MediaDocument,
			Mimetype: dm.GetMimetype(),
			FileName: dm.GetFileName(),
			Caption:  dm.GetCaption(),
			Handle:   dm,
		}
	}
	return nil
}
