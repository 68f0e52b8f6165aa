// Package connection owns the session lifecycle: it dials the Transport with
// stored credentials, tracks the connection state, persists credential
// updates and schedules reconnects after non-logout disconnects.
package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wpprelay/internal/bus"
	"github.com/matheus3301/wpprelay/internal/credstore"
	"github.com/matheus3301/wpprelay/internal/metrics"
	"github.com/matheus3301/wpprelay/internal/status"
	"github.com/matheus3301/wpprelay/internal/transport"
)

// ErrLoggedOut is returned by Transport after the account logged the session
// out. It matches transport.ErrNotInitialized with errors.Is.
var ErrLoggedOut = fmt.Errorf("session logged out: %w", transport.ErrNotInitialized)

// Config controls reconnect and shutdown behavior.
type Config struct {
	Backoff      Backoff
	MaxAttempts  int // 0 retries forever
	LogoutOnStop bool
}

// ReconnectInfo is the payload of bus.KindReconnecting.
type ReconnectInfo struct {
	Attempt int
	Delay   time.Duration
	Reason  transport.DisconnectReason
}

// Manager is the Connection Manager. Events reach subscribers only while
// they belong to the current connection generation.
type Manager struct {
	dialer  transport.Dialer
	creds   credstore.Store
	machine *status.Machine
	bus     *bus.Bus
	log     *zap.Logger
	cfg     Config

	dialMu sync.Mutex

	mu        sync.Mutex
	tr        transport.Transport
	gen       uint64
	dialing   bool
	started   bool
	stopped   bool
	loggedOut bool
	attempts  int
	timer     *time.Timer
	ctx       context.Context
	cancel    context.CancelFunc
	handlers  []transport.Handler
}

// NewManager creates a Connection Manager. Nothing is dialed until Start.
func NewManager(dialer transport.Dialer, creds credstore.Store, machine *status.Machine, b *bus.Bus, logger *zap.Logger, cfg Config) *Manager {
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff.Base = time.Second
	}
	if cfg.Backoff.Max <= 0 {
		cfg.Backoff.Max = time.Minute
	}
	return &Manager{
		dialer:  dialer,
		creds:   creds,
		machine: machine,
		bus:     b,
		log:     logger,
		cfg:     cfg,
	}
}

// Subscribe registers h for message batches and chat upserts. Subscribers
// must be registered before Start.
func (m *Manager) Subscribe(h transport.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Status returns the current connection state.
func (m *Manager) Status() status.State {
	return m.machine.Current()
}

// Challenge returns the pending QR challenge, if any.
func (m *Manager) Challenge() (string, bool) {
	return m.machine.Challenge()
}

// Transport returns the live Transport handle.
func (m *Manager) Transport() (transport.Transport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tr != nil {
		return m.tr, nil
	}
	if m.loggedOut {
		return nil, ErrLoggedOut
	}
	return nil, transport.ErrNotInitialized
}

// Start dials the Transport. It is a no-op while a session is live or
// being dialed. A failed dial schedules a retry and returns the error.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.tr != nil || m.dialing || (m.started && !m.stopped && m.timer != nil) {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.stopped = false
	m.loggedOut = false
	m.attempts = 0
	if m.cancel != nil {
		m.cancel()
	}
	m.ctx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	m.mu.Unlock()

	return m.connect()
}

// Stop releases the Transport, logging out first when configured. Pending
// reconnects are cancelled and a dial completing after Stop is closed.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.stopped = true
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	tr := m.tr
	m.tr = nil
	cancel := m.cancel
	m.mu.Unlock()

	var err error
	if tr != nil {
		if m.cfg.LogoutOnStop {
			if err = tr.Logout(ctx); err != nil {
				m.log.Warn("logout on stop failed", zap.Error(err))
			} else if err = m.creds.Clear(ctx); err != nil {
				m.log.Warn("clear credentials failed", zap.Error(err))
			}
		}
		tr.Close()
	}
	if cancel != nil {
		cancel()
	}
	m.setState(transport.ConnectionUpdate{Connection: transport.ConnectionClose})
	m.log.Info("connection stopped")
	return err
}

func (m *Manager) connect() error {
	m.dialMu.Lock()
	defer m.dialMu.Unlock()

	m.mu.Lock()
	if m.stopped || m.loggedOut || m.tr != nil {
		m.mu.Unlock()
		return nil
	}
	m.dialing = true
	m.gen++
	gen := m.gen
	ctx := m.ctx
	m.mu.Unlock()

	tr, err := m.dial(ctx, gen)

	m.mu.Lock()
	m.dialing = false
	if err != nil {
		stopped := m.stopped
		m.mu.Unlock()
		if !stopped {
			m.log.Warn("connect failed", zap.Error(err))
			m.scheduleReconnect(transport.ReasonConnectFailure)
		}
		return fmt.Errorf("connect: %w", err)
	}
	if m.stopped || gen != m.gen {
		m.mu.Unlock()
		tr.Close()
		return nil
	}
	m.tr = tr
	m.mu.Unlock()
	return nil
}

func (m *Manager) dial(ctx context.Context, gen uint64) (transport.Transport, error) {
	creds, err := m.creds.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	tr, err := m.dialer.Dial(ctx, creds, m.handlerFor(gen))
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return tr, nil
}

func (m *Manager) handlerFor(gen uint64) transport.Handler {
	return func(evt transport.Event) {
		m.mu.Lock()
		current := gen == m.gen && !m.stopped
		handlers := m.handlers
		m.mu.Unlock()
		if !current {
			return
		}

		switch e := evt.(type) {
		case transport.CredentialsUpdate:
			m.saveCredentials(e)
		case transport.ConnectionUpdate:
			m.handleConnection(gen, e)
		default:
			for _, h := range handlers {
				h(evt)
			}
		}
	}
}

func (m *Manager) saveCredentials(e transport.CredentialsUpdate) {
	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()

	err := m.creds.Save(ctx, &transport.Credentials{Blob: e.Blob})
	if err != nil {
		m.log.Error("save credentials failed", zap.Error(err))
		return
	}
	m.bus.Emit(bus.KindCredsSaved, nil)
}

func (m *Manager) handleConnection(gen uint64, e transport.ConnectionUpdate) {
	state := m.setState(e)
	if e.QR != "" {
		m.log.Info("pairing challenge received")
	}

	switch e.Connection {
	case transport.ConnectionOpen:
		m.mu.Lock()
		m.attempts = 0
		m.mu.Unlock()
		m.log.Info("connection open")
	case transport.ConnectionClose:
		m.release(gen)
		if e.Reason == transport.ReasonLoggedOut {
			m.handleLoggedOut()
			return
		}
		m.log.Warn("connection closed",
			zap.String("reason", e.Reason.String()),
			zap.String("state", string(state)),
			zap.Error(e.Err),
		)
		m.scheduleReconnect(e.Reason)
	}
}

// release drops the handle of generation gen so that later events of that
// Transport are discarded.
func (m *Manager) release(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	tr := m.tr
	m.tr = nil
	m.gen++
	m.mu.Unlock()

	if tr != nil {
		go tr.Close()
	}
}

func (m *Manager) handleLoggedOut() {
	m.mu.Lock()
	m.loggedOut = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	ctx := m.ctx
	m.mu.Unlock()

	if err := m.creds.Clear(ctx); err != nil {
		m.log.Error("clear credentials failed", zap.Error(err))
	}
	m.log.Warn("session logged out, not reconnecting")
	m.bus.Emit(bus.KindLoggedOut, nil)
}

func (m *Manager) scheduleReconnect(reason transport.DisconnectReason) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped || m.loggedOut {
		return
	}
	if m.cfg.MaxAttempts > 0 && m.attempts >= m.cfg.MaxAttempts {
		m.log.Error("reconnect attempts exhausted", zap.Int("attempts", m.attempts))
		return
	}
	m.attempts++
	attempt := m.attempts
	delay := m.cfg.Backoff.Delay(attempt)

	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		m.timer = nil
		m.mu.Unlock()
		if err := m.connect(); err != nil {
			m.log.Debug("reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		}
	})

	metrics.ReconnectScheduled()
	m.bus.Emit(bus.KindReconnecting, ReconnectInfo{Attempt: attempt, Delay: delay, Reason: reason})
	m.log.Info("reconnect scheduled", zap.Int("attempt", attempt), zap.Duration("delay", delay))
}

func (m *Manager) setState(u transport.ConnectionUpdate) status.State {
	state := m.machine.Apply(u)
	metrics.SetConnectionState(string(state))
	return state
}
