package wa

import (
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/matheus3301/wpprelay/internal/transport"
)

func TestMediaRef(t *testing.T) {
	tests := []struct {
		name    string
		msg     *waE2E.Message
		want    transport.MediaKind
		caption string
	}{
		{"text", &waE2E.Message{Conversation: proto.String("hi")}, "", ""},
		{"image", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("pic")}}, transport.MediaImage, "pic"},
		{"video", &waE2E.Message{VideoMessage: &waE2E.VideoMessage{Caption: proto.String("clip")}}, transport.MediaVideo, "clip"},
		{"document", &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{FileName: proto.String("a.pdf")}}, transport.MediaDocument, ""},
		{"audio is not relayed as media", &waE2E.Message{AudioMessage: &waE2E.AudioMessage{}}, "", ""},
		{"sticker is not relayed as media", &waE2E.Message{StickerMessage: &waE2E.StickerMessage{}}, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := mediaRef(tt.msg)
			if tt.want == "" {
				if ref != nil {
					t.Errorf("mediaRef() = %+v, want nil", ref)
				}
				return
			}
			if ref == nil {
				t.Fatalf("mediaRef() = nil, want %s", tt.want)
			}
			if ref.Kind != tt.want || ref.Caption != tt.caption {
				t.Errorf("mediaRef() = %+v", ref)
			}
			if ref.Handle == nil {
				t.Error("media handle not set")
			}
		})
	}
}

func TestParseLiveMessage(t *testing.T) {
	ts := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	evt := &events.Message{
		Info: types.MessageInfo{
			PushName:  "Alice",
			Timestamp: ts,
			MessageSource: types.MessageSource{
				Chat:     types.JID{User: "chat", Server: "s.whatsapp.net"},
				Sender:   types.JID{User: "sender", Server: "s.whatsapp.net", Device: 3},
				IsFromMe: true,
			},
			ID: "MSG123",
		},
		Message: &waE2E.Message{Conversation: proto.String("hello world")},
	}

	m := ParseLiveMessage(evt)

	if m.Key.ChatID != "chat@s.whatsapp.net" {
		t.Errorf("ChatID = %q", m.Key.ChatID)
	}
	if m.Key.ID != "MSG123" || !m.Key.FromMe {
		t.Errorf("key = %+v", m.Key)
	}
	if m.Sender != "sender@s.whatsapp.net" {
		t.Errorf("Sender = %q, want device suffix stripped", m.Sender)
	}
	if m.Key.Participant != "" {
		t.Errorf("Participant = %q, want empty outside groups", m.Key.Participant)
	}
	if m.Text() != "hello world" || m.PushName != "Alice" || !m.Timestamp.Equal(ts) {
		t.Errorf("message = %+v", m)
	}
}

func TestParseLiveGroupMessage(t *testing.T) {
	evt := &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:    types.JID{User: "120363", Server: "g.us"},
				Sender:  types.JID{User: "5511", Server: "s.whatsapp.net"},
				IsGroup: true,
			},
			ID: "G1",
		},
		Message: &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("ext")}},
	}

	m := ParseLiveMessage(evt)
	if !m.IsGroup || m.Key.Participant != "5511@s.whatsapp.net" {
		t.Errorf("group message = %+v", m)
	}
	if m.Text() != "ext" {
		t.Errorf("Text() = %q, want ext", m.Text())
	}
}

func TestParseLiveMessageNilContent(t *testing.T) {
	m := ParseLiveMessage(&events.Message{Info: types.MessageInfo{ID: "X"}})
	if m.Text() != "" || m.Media != nil {
		t.Errorf("message = %+v, want empty content", m)
	}
}

func TestParseHistoryMessage(t *testing.T) {
	ts := uint64(1700000000)
	chat := types.JID{User: "120363", Server: types.GroupServer}
	wm := &waWeb.WebMessageInfo{
		Key: &waCommon.MessageKey{
			ID:          proto.String("H1"),
			FromMe:      proto.Bool(false),
			RemoteJID:   proto.String("120363@g.us"),
			Participant: proto.String("5511@s.whatsapp.net"),
		},
		MessageTimestamp: &ts,
		Message:          &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("old pic")}},
	}

	m := ParseHistoryMessage(chat, wm)
	if m.Key.ChatID != "120363@g.us" || m.Key.ID != "H1" {
		t.Errorf("key = %+v", m.Key)
	}
	if m.Key.Participant != "5511@s.whatsapp.net" || m.Sender != "5511@s.whatsapp.net" {
		t.Errorf("participant/sender = %q/%q", m.Key.Participant, m.Sender)
	}
	if m.Timestamp.Unix() != 1700000000 {
		t.Errorf("Timestamp = %v", m.Timestamp)
	}
	if m.Media == nil || m.Text() != "old pic" {
		t.Errorf("content = %+v", m)
	}
}
