package wa

import (
	"context"
	"fmt"

	"github.com/gabriel-vasile/mimetype"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"

	"github.com/matheus3301/wpprelay/internal/transport"
)

// Uploader encrypts and uploads media. *whatsmeow.Client implements it.
type Uploader interface {
	Upload(ctx context.Context, plaintext []byte, appInfo whatsmeow.MediaType) (whatsmeow.UploadResponse, error)
}

// BuildMessage converts outgoing content into a whatsmeow message, uploading
// media through up when present.
func BuildMessage(ctx context.Context, up Uploader, c transport.Content) (*waE2E.Message, error) {
	ctxInfo := contextInfo(c.Quote)

	if c.Media == nil {
		if ctxInfo == nil {
			return &waE2E.Message{Conversation: proto.String(c.Text)}, nil
		}
		return &waE2E.Message{
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{
				Text:        proto.String(c.Text),
				ContextInfo: ctxInfo,
			},
		}, nil
	}

	m := c.Media
	mt := m.Mimetype
	if mt == "" {
		mt = mimetype.Detect(m.Data).String()
	}

	var appInfo whatsmeow.MediaType
	switch m.Kind {
	case transport.MediaImage:
		appInfo = whatsmeow.MediaImage
	case transport.MediaVideo:
		appInfo = whatsmeow.MediaVideo
	case transport.MediaDocument:
		appInfo = whatsmeow.MediaDocument
	default:
		return nil, fmt.Errorf("unsupported media kind %q", m.Kind)
	}

	uploaded, err := up.Upload(ctx, m.Data, appInfo)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", m.Kind, err)
	}

	var caption *string
	if c.Text != "" {
		caption = proto.String(c.Text)
	}

	switch m.Kind {
	case transport.MediaImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       caption,
			Mimetype:      proto.String(mt),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
			ContextInfo:   ctxInfo,
		}}, nil
	case transport.MediaVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       caption,
			Mimetype:      proto.String(mt),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
			ContextInfo:   ctxInfo,
		}}, nil
	default:
		name := m.FileName
		if name == "" {
			name = "file"
			if known := mimetype.Lookup(mt); known != nil {
				name += known.Extension()
			}
		}
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Caption:       caption,
			Title:         proto.String(name),
			FileName:      proto.String(name),
			Mimetype:      proto.String(mt),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
			ContextInfo:   ctxInfo,
		}}, nil
	}
}

func contextInfo(q *transport.Quote) *waE2E.ContextInfo {
	if q == nil || q.MessageID == "" {
		return nil
	}
	ci := &waE2E.ContextInfo{
		StanzaID:      proto.String(q.MessageID),
		QuotedMessage: &waE2E.Message{Conversation: proto.String(q.Preview)},
	}
	if q.Participant != "" {
		ci.Participant = proto.String(q.Participant)
	}
	if q.ChatID != "" {
		ci.RemoteJID = proto.String(q.ChatID)
	}
	return ci
}
