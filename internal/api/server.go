// Package api serves the HTTP control surface: connection status, the
// pending QR challenge, outbound sends and read access to the relay store.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/matheus3301/wpprelay/internal/metrics"
	"github.com/matheus3301/wpprelay/internal/outbox"
	"github.com/matheus3301/wpprelay/internal/status"
	"github.com/matheus3301/wpprelay/internal/store"
	"github.com/matheus3301/wpprelay/internal/transport"
	"github.com/matheus3301/wpprelay/internal/webhook"
)

// StatusSource reports the connection state and pending challenge.
// *connection.Manager implements it.
type StatusSource interface {
	Status() status.State
	Challenge() (string, bool)
}

// Sender sends outbound messages. *outbox.Composer implements it.
type Sender interface {
	Send(ctx context.Context, req outbox.Request) (transport.MessageHandle, error)
}

// Store is the read side of the relay database. *store.DB implements it.
type Store interface {
	ListChats(limit, offset int) ([]store.Chat, error)
	GetChat(jid string) (*store.Chat, error)
	ChatCount() (int64, error)
	RecentJournal(chatJID string, limit int) ([]store.JournalEntry, error)
	OutcomeCounts() (map[string]int64, error)
	SchemaVersion() (uint, error)
}

// Options configure the Server.
type Options struct {
	Addr        string
	APIKey      string // empty disables the x-api-key check
	SessionName string
}

// Server is the control surface HTTP server.
type Server struct {
	opts      Options
	status    StatusSource
	sender    Sender
	db        Store
	logger    *zap.Logger
	startedAt time.Time
	http      *http.Server
	listener  net.Listener
}

// NewServer creates a Server. db may be nil, which disables the store routes.
func NewServer(opts Options, st StatusSource, sender Sender, db Store, logger *zap.Logger) *Server {
	s := &Server{
		opts:      opts,
		status:    st,
		sender:    sender,
		db:        db,
		logger:    logger,
		startedAt: time.Now(),
	}
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(s.recoverMiddleware)

	router.Get("/healthz", s.handleHealth)
	router.Handle("/metrics", metrics.Handler())

	router.Route("/api/whatsapp", func(r chi.Router) {
		r.Use(s.apiKeyMiddleware)
		r.Get("/status", s.handleStatus)
		r.Get("/qr.png", s.handleQR)
		r.Post("/send", s.handleSend)
		r.Get("/session", s.handleSession)
		r.Get("/chats", s.handleListChats)
		r.Get("/chats/{jid}", s.handleGetChat)
		r.Get("/journal", s.handleJournal)
	})
	return router
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	s.listener = ln
	s.logger.Info("HTTP server starting", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.opts.Addr
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("HTTP server stopping")
	return s.http.Shutdown(ctx)
}

func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	if s.opts.APIKey == "" {
		return next
	}
	want := []byte(s.opts.APIKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get(webhook.APIKeyHeader))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			respondError(w, http.StatusUnauthorized, errors.New("invalid api key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panic",
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec),
				)
				respondError(w, http.StatusInternalServerError, errors.New("internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
