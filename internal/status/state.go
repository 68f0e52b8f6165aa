package status

import (
	"sync"
	"time"

	"github.com/matheus3301/wpprelay/internal/bus"
	"github.com/matheus3301/wpprelay/internal/transport"
)

// State represents the connection state of the session.
type State string

const (
	Unknown    State = "unknown"
	Connecting State = "connecting"
	Open       State = "open"
	Close      State = "close"
)

// Resolve maps a connection update to the state it produces. Every update
// resolves to exactly one state: a QR challenge forces Close, otherwise the
// connection field decides and anything unrecognized is Unknown.
func Resolve(u transport.ConnectionUpdate) State {
	if u.QR != "" {
		return Close
	}
	switch u.Connection {
	case transport.ConnectionClose:
		return Close
	case transport.ConnectionOpen:
		return Open
	case transport.ConnectionConnecting:
		return Connecting
	default:
		return Unknown
	}
}

// Machine tracks the connection state and the pending QR challenge.
// A pending challenge only exists while the state is not Open.
type Machine struct {
	mu        sync.RWMutex
	current   State
	challenge string
	since     time.Time
	bus       *bus.Bus
}

// NewMachine creates a new state machine starting in Unknown state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Unknown,
		since:   time.Now(),
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Challenge returns the pending QR challenge, if any.
func (m *Machine) Challenge() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.challenge, m.challenge != ""
}

// Snapshot is a consistent view of the machine.
type Snapshot struct {
	State     State
	Challenge string
	Since     time.Time
}

// Snapshot returns state, challenge and the time of the last state change together.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{State: m.current, Challenge: m.challenge, Since: m.since}
}

// Apply folds a connection update into the machine and returns the new state.
func (m *Machine) Apply(u transport.ConnectionUpdate) State {
	to := Resolve(u)

	m.mu.Lock()
	from := m.current
	prevChallenge := m.challenge
	m.challenge = u.QR
	if to != from {
		m.current = to
		m.since = time.Now()
	}
	m.mu.Unlock()

	if m.bus != nil {
		if to != from {
			m.bus.Emit(bus.KindStatusChanged, StatusChange{From: from, To: to, Reason: u.Reason})
		}
		if u.QR != "" && u.QR != prevChallenge {
			m.bus.Emit(bus.KindQRGenerated, u.QR)
		}
	}
	return to
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From   State
	To     State
	Reason transport.DisconnectReason
}
