package daemon

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/matheus3301/wpprelay/internal/api"
	"github.com/matheus3301/wpprelay/internal/bus"
	"github.com/matheus3301/wpprelay/internal/config"
	"github.com/matheus3301/wpprelay/internal/lock"
	"github.com/matheus3301/wpprelay/internal/session"
	"github.com/matheus3301/wpprelay/internal/status"
	"github.com/matheus3301/wpprelay/internal/transport"
)

type recordingTransport struct {
	mu       sync.Mutex
	sent     []string
	receipts int
	closed   bool
}

func (f *recordingTransport) SendMessage(_ context.Context, chatID string, c transport.Content) (transport.MessageHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c.Text)
	return transport.MessageHandle{ID: "REPLY1", ChatID: chatID}, nil
}

func (f *recordingTransport) DownloadMedia(context.Context, *transport.Message) ([]byte, error) {
	return nil, nil
}

func (f *recordingTransport) SendReceipt(context.Context, string, string, []string, transport.ReceiptType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts++
	return nil
}

func (f *recordingTransport) DeleteMessage(context.Context, transport.MessageKey) error { return nil }

func (f *recordingTransport) GroupMetadata(context.Context, string) (*transport.GroupMetadata, error) {
	return nil, nil
}

func (f *recordingTransport) Logout(context.Context) error { return nil }

func (f *recordingTransport) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *recordingTransport) snapshot() ([]string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...), f.receipts
}

type recordingDialer struct {
	mu      sync.Mutex
	handler transport.Handler
	tr      *recordingTransport
}

func (d *recordingDialer) Dial(_ context.Context, _ *transport.Credentials, h transport.Handler) (transport.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = h
	d.tr = &recordingTransport{}
	h(transport.ConnectionUpdate{Connection: transport.ConnectionConnecting})
	return d.tr, nil
}

func (d *recordingDialer) emit(evt transport.Event) {
	d.mu.Lock()
	h := d.handler
	d.mu.Unlock()
	h(evt)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDaemonLifecycle(t *testing.T) {
	t.Setenv(session.EnvHome, t.TempDir())

	// Use a short path to avoid macOS 104-char Unix socket limit.
	sockDir, err := os.MkdirTemp("/tmp", "wpprelay-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(sockDir) }()
	socketPath := filepath.Join(sockDir, "d.sock")

	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p map[string]any
		_ = json.NewDecoder(r.Body).Decode(&p)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"message":"echo: `+p["message"].(string)+`"}`)
	}))
	defer hook.Close()

	cfg := config.Default()
	cfg.Webhook.URL = hook.URL
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Outbound.Rate = 0

	dialer := &recordingDialer{}
	var httpSrv *api.Server
	var machine *status.Machine
	app := fx.New(
		Module(Params{
			SessionName: "test",
			Config:      cfg,
			SocketPath:  socketPath,
			Dialer:      dialer,
			Logger:      zap.NewNop(),
		}),
		fx.Populate(&httpSrv, &machine),
		fx.NopLogger,
	)
	if err := app.Err(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatal(err)
	}

	if held, _ := lock.Inspect(session.Dir("test")); held == nil {
		t.Error("session lock not held while running")
	}
	if machine.Current() != status.Connecting {
		t.Errorf("state = %s, want connecting after dial", machine.Current())
	}

	conn, err := grpc.NewClient("unix://"+socketPath, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()
	health := healthpb.NewHealthClient(conn)

	checkHealth := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := health.Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return resp.GetStatus()
	}
	if got := checkHealth(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("health before open = %v, want NOT_SERVING", got)
	}

	dialer.emit(transport.ConnectionUpdate{Connection: transport.ConnectionOpen})
	eventually(t, "health SERVING", func() bool {
		return checkHealth() == healthpb.HealthCheckResponse_SERVING
	})

	base := "http://" + httpSrv.Addr()
	resp, err := http.Get(base + "/api/whatsapp/status")
	if err != nil {
		t.Fatal(err)
	}
	var st struct {
		Status string `json:"status"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&st)
	_ = resp.Body.Close()
	if st.Status != "ready" {
		t.Errorf("status = %q, want ready", st.Status)
	}

	dialer.emit(transport.MessageBatch{
		Kind: transport.BatchNotify,
		Messages: []*transport.Message{{
			Key:          transport.MessageKey{ChatID: "5511@s.whatsapp.net", ID: "IN1"},
			Sender:       "5511@s.whatsapp.net",
			PushName:     "Ana",
			Conversation: "hello",
			Timestamp:    time.Now(),
		}},
	})

	eventually(t, "reply sent", func() bool {
		sent, receipts := dialer.tr.snapshot()
		return len(sent) == 1 && receipts == 1
	})
	if sent, _ := dialer.tr.snapshot(); sent[0] != "echo: hello" {
		t.Errorf("reply = %q", sent[0])
	}

	eventually(t, "journal entry", func() bool {
		resp, err := http.Get(base + "/api/whatsapp/journal?chat=5511@s.whatsapp.net")
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(resp.Body)
		return strings.Contains(string(body), `"outcome":"replied"`)
	})

	if err := app.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if held, _ := lock.Inspect(session.Dir("test")); held != nil {
		t.Errorf("lock still held after stop: %v", held)
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket not removed: %v", err)
	}
}

func TestServerTracksStatus(t *testing.T) {
	sockDir, err := os.MkdirTemp("/tmp", "wpprelay-health-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(sockDir) }()
	socketPath := filepath.Join(sockDir, "d.sock")

	b := bus.New()
	machine := status.NewMachine(b)
	srv, err := NewServer(socketPath, b, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	defer srv.Stop(context.Background())

	conn, err := grpc.NewClient("unix://"+socketPath, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	stream, err := client.Watch(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
	if err != nil {
		t.Fatal(err)
	}

	first, err := stream.Recv()
	if err != nil {
		t.Fatal(err)
	}
	if first.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("initial = %v, want NOT_SERVING", first.GetStatus())
	}

	machine.Apply(transport.ConnectionUpdate{Connection: transport.ConnectionOpen})
	next, err := stream.Recv()
	if err != nil {
		t.Fatal(err)
	}
	if next.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("after open = %v, want SERVING", next.GetStatus())
	}

	machine.Apply(transport.ConnectionUpdate{Connection: transport.ConnectionClose, Reason: transport.ReasonConnectionLost})
	next, err = stream.Recv()
	if err != nil {
		t.Fatal(err)
	}
	if next.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("after close = %v, want NOT_SERVING", next.GetStatus())
	}
}

func TestStopWithoutStart(t *testing.T) {
	sockDir, err := os.MkdirTemp("/tmp", "wpprelay-stop-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(sockDir) }()
	socketPath := filepath.Join(sockDir, "d.sock")

	srv, err := NewServer(socketPath, bus.New(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	srv.Stop(context.Background())
	srv.Stop(context.Background())
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket not removed: %v", err)
	}
}
