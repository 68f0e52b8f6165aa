package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/matheus3301/wpprelay/internal/outbox"
	"github.com/matheus3301/wpprelay/internal/status"
	"github.com/matheus3301/wpprelay/internal/store"
	"github.com/matheus3301/wpprelay/internal/transport"
)

const maxSendBody = 32 << 20

// StatusName maps a connection state to the name reported by the control
// surface. Open is reported as "ready".
func StatusName(s status.State) string {
	switch s {
	case status.Open:
		return "ready"
	case status.Connecting, status.Close:
		return string(s)
	default:
		return string(status.Unknown)
	}
}

type statusResponse struct {
	Status string  `json:"status"`
	QRCode *string `json:"qrCode"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{Status: StatusName(s.status.Status())}
	if qr, ok := s.status.Challenge(); ok {
		resp.QRCode = &qr
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	qr, ok := s.status.Challenge()
	if !ok {
		respondError(w, http.StatusNotFound, errors.New("no pending QR challenge"))
		return
	}
	size := parseIntDefault(r.URL.Query().Get("size"), 256)
	if size > 1024 {
		size = 1024
	}
	png, err := qrcode.Encode(qr, qrcode.Medium, size)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Errorf("render qr: %w", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

type sendRequest struct {
	JID     string       `json:"jid"`
	Message string       `json:"message"`
	Options *sendOptions `json:"options,omitempty"`
}

type sendOptions struct {
	QuotedMessageID string     `json:"quotedMessageId,omitempty"`
	Media           *sendMedia `json:"media,omitempty"`
}

type sendMedia struct {
	Data     string `json:"data"`
	Type     string `json:"type"`
	FileName string `json:"filename,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
}

type sendResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var body sendRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSendBody))
	if err := dec.Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}

	req, err := body.toRequest()
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	h, err := s.sender.Send(r.Context(), req)
	if err != nil {
		code := sendErrorStatus(err)
		if code >= 500 {
			s.logger.Warn("send via control surface failed", zap.String("jid", body.JID), zap.Error(err))
		}
		respondError(w, code, err)
		return
	}
	respondJSON(w, http.StatusOK, sendResponse{Success: true, Message: "Message sent", ID: h.ID})
}

func (b sendRequest) toRequest() (outbox.Request, error) {
	req := outbox.Request{ChatID: b.JID, Text: b.Message, Origin: "api"}
	if b.Options == nil {
		return req, nil
	}
	req.Options.QuotedMessageID = b.Options.QuotedMessageID
	if m := b.Options.Media; m != nil {
		data, err := base64.StdEncoding.DecodeString(m.Data)
		if err != nil {
			return req, fmt.Errorf("%w: data is not base64: %v", outbox.ErrInvalidMedia, err)
		}
		req.Options.Media = &transport.Media{
			Kind:     transport.MediaKind(m.Type),
			Data:     data,
			FileName: m.FileName,
			Mimetype: m.Mimetype,
		}
	}
	return req, nil
}

func sendErrorStatus(err error) int {
	switch {
	case errors.Is(err, outbox.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, transport.ErrNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type sessionResponse struct {
	Session   string           `json:"session"`
	Status    string           `json:"status"`
	UptimeMs  int64            `json:"uptimeMs"`
	ChatCount int64            `json:"chatCount"`
	Outcomes  map[string]int64 `json:"outcomes"`
	Schema    uint             `json:"schemaVersion,omitempty"`
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	resp := sessionResponse{
		Session:  s.opts.SessionName,
		Status:   StatusName(s.status.Status()),
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
	}
	if s.db != nil {
		if n, err := s.db.ChatCount(); err == nil {
			resp.ChatCount = n
		}
		if counts, err := s.db.OutcomeCounts(); err == nil {
			resp.Outcomes = counts
		}
		if v, err := s.db.SchemaVersion(); err == nil {
			resp.Schema = v
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

type chatJSON struct {
	JID                string            `json:"jid"`
	Kind               string            `json:"kind"`
	Name               string            `json:"name,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	LastMessagePreview string            `json:"lastMessagePreview,omitempty"`
	LastMessageAt      int64             `json:"lastMessageAt,omitempty"`
	LastSender         string            `json:"lastSender,omitempty"`
}

func chatToJSON(c *store.Chat) chatJSON {
	return chatJSON{
		JID:                c.JID,
		Kind:               c.Kind,
		Name:               c.Name,
		Metadata:           c.Metadata,
		LastMessagePreview: c.LastMessagePreview,
		LastMessageAt:      c.LastMessageAt,
		LastSender:         c.LastSenderJID,
	}
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New("store unavailable"))
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 50)
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)

	chats, err := s.db.ListChats(limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Errorf("list chats: %w", err))
		return
	}
	out := make([]chatJSON, 0, len(chats))
	for i := range chats {
		out = append(out, chatToJSON(&chats[i]))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"chats":   out,
		"hasMore": len(chats) == limit,
	})
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New("store unavailable"))
		return
	}
	jid := chi.URLParam(r, "jid")
	c, err := s.db.GetChat(jid)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Errorf("get chat: %w", err))
		return
	}
	if c == nil {
		respondError(w, http.StatusNotFound, fmt.Errorf("chat %q not found", jid))
		return
	}
	respondJSON(w, http.StatusOK, chatToJSON(c))
}

type journalJSON struct {
	ID        string `json:"id"`
	Direction string `json:"direction"`
	Chat      string `json:"chat"`
	MessageID string `json:"messageId,omitempty"`
	Sender    string `json:"sender,omitempty"`
	PushName  string `json:"pushName,omitempty"`
	FromMe    bool   `json:"fromMe"`
	Body      string `json:"body,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
	Outcome   string `json:"outcome"`
	ReplyID   string `json:"replyId,omitempty"`
	Receipt   bool   `json:"receipt"`
	Deleted   bool   `json:"deleted"`
	Error     string `json:"error,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New("store unavailable"))
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 50)
	entries, err := s.db.RecentJournal(r.URL.Query().Get("chat"), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Errorf("read journal: %w", err))
		return
	}
	out := make([]journalJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, journalJSON{
			ID:        e.ID,
			Direction: e.Direction,
			Chat:      e.ChatJID,
			MessageID: e.MsgID,
			Sender:    e.SenderJID,
			PushName:  e.PushName,
			FromMe:    e.FromMe,
			Body:      e.Body,
			MediaType: e.MediaType,
			Outcome:   e.Outcome,
			ReplyID:   e.ReplyID,
			Receipt:   e.Receipt,
			Deleted:   e.Deleted,
			Error:     e.Error,
			CreatedAt: e.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": out})
}
