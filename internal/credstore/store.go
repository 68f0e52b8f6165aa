// Package credstore persists the Transport's opaque session credentials in a
// versioned JSON envelope under the session directory. When an age identity
// is configured the blob is sealed to it at rest.
package credstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"filippo.io/age"
	"github.com/matheus3301/wpprelay/internal/transport"
)

// EnvelopeVersion is the only envelope version this package reads and writes.
const EnvelopeVersion = 1

// FileName is the credential file name inside the session directory.
const FileName = "creds.json"

var (
	// ErrUnsupportedVersion is returned for envelopes written by an unknown version.
	ErrUnsupportedVersion = errors.New("unsupported credential envelope version")
	// ErrSealed is returned when a sealed envelope is read without an identity.
	ErrSealed = errors.New("credentials are sealed and no identity is configured")
)

// Store loads and saves session credentials.
type Store interface {
	// Load returns nil credentials and a nil error when none are stored.
	Load(ctx context.Context) (*transport.Credentials, error)
	Save(ctx context.Context, creds *transport.Credentials) error
	Clear(ctx context.Context) error
}

type envelope struct {
	Version   int       `json:"version"`
	Sealed    bool      `json:"sealed"`
	UpdatedAt time.Time `json:"updated_at"`
	Blob      string    `json:"blob"`
}

// FileStore is a Store backed by a single file. It has no cross-process
// locking; callers hold the session lock.
type FileStore struct {
	mu       sync.Mutex
	path     string
	identity *age.X25519Identity
	now      func() time.Time
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithIdentity seals the blob to identity on Save and opens it on Load.
func WithIdentity(identity *age.X25519Identity) Option {
	return func(s *FileStore) { s.identity = identity }
}

// NewFileStore creates a store writing to dir/creds.json.
func NewFileStore(dir string, opts ...Option) *FileStore {
	s := &FileStore{
		path: filepath.Join(dir, FileName),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the credential file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the envelope. A missing file is not an error.
func (s *FileStore) Load(_ context.Context) (*transport.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	if env.Version != EnvelopeVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	}

	blob, err := base64.StdEncoding.DecodeString(env.Blob)
	if err != nil {
		return nil, fmt.Errorf("decode credential blob: %w", err)
	}
	if env.Sealed {
		if s.identity == nil {
			return nil, ErrSealed
		}
		blob, err = s.open(blob)
		if err != nil {
			return nil, err
		}
	}

	return &transport.Credentials{
		Version:   env.Version,
		Blob:      blob,
		UpdatedAt: env.UpdatedAt,
	}, nil
}

// Save atomically replaces the stored envelope.
func (s *FileStore) Save(_ context.Context, creds *transport.Credentials) error {
	if creds == nil {
		return errors.New("save credentials: nil credentials")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	blob := creds.Blob
	sealed := false
	if s.identity != nil {
		var err error
		blob, err = s.seal(blob)
		if err != nil {
			return err
		}
		sealed = true
	}

	env := envelope{
		Version:   EnvelopeVersion,
		Sealed:    sealed,
		UpdatedAt: s.now().UTC(),
		Blob:      base64.StdEncoding.EncodeToString(blob),
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	return writeFileAtomic(s.path, data)
}

// Clear removes the stored envelope. Clearing an empty store is not an error.
func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}

func (s *FileStore) seal(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.identity.Recipient())
	if err != nil {
		return nil, fmt.Errorf("seal credentials: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("seal credentials: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("seal credentials: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *FileStore) open(ciphertext []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), s.identity)
	if err != nil {
		return nil, fmt.Errorf("open credentials: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("open credentials: %w", err)
	}
	return plaintext, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".creds-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp credentials: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp credentials: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp credentials: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp credentials: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace credentials: %w", err)
	}
	return nil
}
