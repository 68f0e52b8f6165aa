package credstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/age"
	"github.com/matheus3301/wpprelay/internal/transport"
)

func TestLoadMissingReturnsNil(t *testing.T) {
	s := NewFileStore(t.TempDir())
	creds, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if creds != nil {
		t.Errorf("Load() = %+v, want nil", creds)
	}
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(t.TempDir())

	if err := s.Save(ctx, &transport.Credentials{Blob: []byte(`{"jid":"123@s.whatsapp.net"}`)}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	creds, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if creds == nil {
		t.Fatal("Load() = nil after Save")
	}
	if string(creds.Blob) != `{"jid":"123@s.whatsapp.net"}` {
		t.Errorf("Blob = %q", creds.Blob)
	}
	if creds.Version != EnvelopeVersion {
		t.Errorf("Version = %d, want %d", creds.Version, EnvelopeVersion)
	}
	if creds.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
}

func TestSavePermissions(t *testing.T) {
	s := NewFileStore(t.TempDir())
	if err := s.Save(context.Background(), &transport.Credentials{Blob: []byte("x")}); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestSaveNil(t *testing.T) {
	s := NewFileStore(t.TempDir())
	if err := s.Save(context.Background(), nil); err == nil {
		t.Error("Save(nil) should fail")
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(t.TempDir())
	if err := s.Clear(ctx); err != nil {
		t.Errorf("Clear() on empty store error = %v", err)
	}
	if err := s.Save(ctx, &transport.Credentials{Blob: []byte("x")}); err != nil {
		t.Fatal(err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	creds, err := s.Load(ctx)
	if err != nil || creds != nil {
		t.Errorf("Load() after Clear = %v, %v; want nil, nil", creds, err)
	}
}

func TestLoadUnsupportedVersion(t *testing.T) {
	dir := t.TempDir()
	data, _ := json.Marshal(envelope{Version: 7, Blob: ""})
	if err := os.WriteFile(filepath.Join(dir, FileName), data, 0600); err != nil {
		t.Fatal(err)
	}
	_, err := NewFileStore(dir).Load(context.Background())
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("Load() error = %v, want ErrUnsupportedVersion", err)
	}
}

func TestSealedRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	id, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatal(err)
	}
	s := NewFileStore(dir, WithIdentity(id))

	secret := []byte("device-identity")
	if err := s.Save(ctx, &transport.Credentials{Blob: secret}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	raw, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(raw, secret) {
		t.Error("sealed file contains plaintext")
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatal(err)
	}
	if !env.Sealed {
		t.Error("envelope not marked sealed")
	}

	creds, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !bytes.Equal(creds.Blob, secret) {
		t.Errorf("Blob = %q, want %q", creds.Blob, secret)
	}

	_, err = NewFileStore(dir).Load(ctx)
	if !errors.Is(err, ErrSealed) {
		t.Errorf("Load() without identity error = %v, want ErrSealed", err)
	}
}

func TestLoadOrCreateIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "creds.age")

	first, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity() error = %v", err)
	}
	second, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("second LoadOrCreateIdentity() error = %v", err)
	}
	if first.String() != second.String() {
		t.Error("identity changed between loads")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# public key: age1") {
		t.Errorf("identity file header = %q", strings.SplitN(string(data), "\n", 2)[0])
	}
}

func TestLoadIdentityEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(path, []byte("# nothing here\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadIdentity(path); err == nil {
		t.Error("LoadIdentity() should fail for a file without keys")
	}
}
