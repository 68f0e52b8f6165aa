package status

import (
	"testing"
	"time"

	"github.com/matheus3301/wpprelay/internal/bus"
	"github.com/matheus3301/wpprelay/internal/transport"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Unknown {
		t.Errorf("initial state = %s, want unknown", m.Current())
	}
	if _, ok := m.Challenge(); ok {
		t.Error("initial machine has a challenge")
	}
}

func TestResolveIsTotal(t *testing.T) {
	tests := []struct {
		name   string
		update transport.ConnectionUpdate
		want   State
	}{
		{"close", transport.ConnectionUpdate{Connection: transport.ConnectionClose}, Close},
		{"open", transport.ConnectionUpdate{Connection: transport.ConnectionOpen}, Open},
		{"connecting", transport.ConnectionUpdate{Connection: transport.ConnectionConnecting}, Connecting},
		{"none", transport.ConnectionUpdate{}, Unknown},
		{"garbage", transport.ConnectionUpdate{Connection: "weird"}, Unknown},
		{"qr only", transport.ConnectionUpdate{QR: "2@abc"}, Close},
		{"qr with open", transport.ConnectionUpdate{Connection: transport.ConnectionOpen, QR: "2@abc"}, Close},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.update); got != tt.want {
				t.Errorf("Resolve() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAnyStateCanReachAnyState(t *testing.T) {
	updates := map[State]transport.ConnectionUpdate{
		Unknown:    {},
		Connecting: {Connection: transport.ConnectionConnecting},
		Open:       {Connection: transport.ConnectionOpen},
		Close:      {Connection: transport.ConnectionClose},
	}
	for from, toFrom := range updates {
		for to, u := range updates {
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				m := NewMachine(nil)
				m.Apply(toFrom)
				if got := m.Apply(u); got != to {
					t.Errorf("Apply() = %s, want %s", got, to)
				}
				if m.Current() != to {
					t.Errorf("Current() = %s, want %s", m.Current(), to)
				}
			})
		}
	}
}

func TestChallengeLifecycle(t *testing.T) {
	m := NewMachine(nil)

	m.Apply(transport.ConnectionUpdate{QR: "2@first"})
	qr, ok := m.Challenge()
	if !ok || qr != "2@first" {
		t.Fatalf("Challenge() = %q, %v; want 2@first", qr, ok)
	}
	if m.Current() != Close {
		t.Errorf("state with challenge = %s, want close", m.Current())
	}

	m.Apply(transport.ConnectionUpdate{Connection: transport.ConnectionConnecting})
	if _, ok := m.Challenge(); ok {
		t.Error("challenge should clear on a non-challenge update")
	}

	m.Apply(transport.ConnectionUpdate{QR: "2@second"})
	m.Apply(transport.ConnectionUpdate{Connection: transport.ConnectionOpen})
	if _, ok := m.Challenge(); ok {
		t.Error("challenge should clear when the connection opens")
	}
	if m.Current() != Open {
		t.Errorf("state = %s, want open", m.Current())
	}
}

func TestChallengeNeverWhileOpen(t *testing.T) {
	m := NewMachine(nil)
	m.Apply(transport.ConnectionUpdate{Connection: transport.ConnectionOpen})
	m.Apply(transport.ConnectionUpdate{Connection: transport.ConnectionOpen, QR: "2@x"})

	snap := m.Snapshot()
	if snap.Challenge != "" && snap.State == Open {
		t.Errorf("snapshot %+v violates challenge => not open", snap)
	}
}

func TestApplyEmitsEvents(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	m.Apply(transport.ConnectionUpdate{QR: "2@code"})

	kinds := map[string]bool{}
	timeout := time.After(time.Second)
	for len(kinds) < 2 {
		select {
		case evt := <-ch:
			kinds[evt.Kind] = true
			if evt.Kind == bus.KindStatusChanged {
				sc, ok := evt.Payload.(StatusChange)
				if !ok {
					t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
				}
				if sc.From != Unknown || sc.To != Close {
					t.Errorf("StatusChange = %+v, want unknown->close", sc)
				}
			}
		case <-timeout:
			t.Fatalf("timeout, got kinds %v", kinds)
		}
	}
	if !kinds[bus.KindQRGenerated] {
		t.Error("missing qr_generated event")
	}
}

func TestApplySameStateNoEvent(t *testing.T) {
	b := bus.New()
	m := NewMachine(b)
	m.Apply(transport.ConnectionUpdate{Connection: transport.ConnectionClose})

	ch, unsub := b.Subscribe("session.status_changed", 10)
	defer unsub()
	m.Apply(transport.ConnectionUpdate{Connection: transport.ConnectionClose})

	select {
	case evt := <-ch:
		t.Errorf("unexpected event %v for same-state update", evt)
	case <-time.After(50 * time.Millisecond):
	}
}
