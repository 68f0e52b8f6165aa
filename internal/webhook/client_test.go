package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPostSendsPayloadAndKey(t *testing.T) {
	var got Payload
	var key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get(APIKeyHeader)
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"message":"hi","success":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", time.Second)
	reply, err := c.Post(context.Background(), &Payload{From: "1@s.whatsapp.net", Message: "hello"})
	if err != nil {
		t.Fatalf("Post() error: %v", err)
	}
	if reply.Message != "hi" {
		t.Errorf("reply.Message = %q, want hi", reply.Message)
	}
	if reply.Success == nil || !*reply.Success {
		t.Error("reply.Success not decoded")
	}
	if key != "secret" {
		t.Errorf("x-api-key = %q, want secret", key)
	}
	if got.From != "1@s.whatsapp.net" || got.Message != "hello" {
		t.Errorf("payload = %+v", got)
	}
}

func TestPayloadOmitsOptionalFields(t *testing.T) {
	data, err := json.Marshal(&Payload{From: "a", Message: "m"})
	if err != nil {
		t.Fatal(err)
	}
	var fields map[string]any
	json.Unmarshal(data, &fields)
	for _, k := range []string{"participant", "media", "mediaType", "messageId", "pushName"} {
		if _, ok := fields[k]; ok {
			t.Errorf("field %q present on minimal payload", k)
		}
	}
	if _, ok := fields["fromMe"]; !ok {
		t.Error("fromMe must always be present")
	}
}

func TestPostErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"server error", http.StatusInternalServerError, `{}`, ErrUnavailable},
		{"not found", http.StatusNotFound, ``, ErrUnavailable},
		{"plain text", http.StatusOK, `ok`, ErrMalformedResponse},
		{"array", http.StatusOK, `[1,2]`, ErrMalformedResponse},
		{"message not string", http.StatusOK, `{"message":42}`, ErrMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(srv.URL, "", time.Second).Post(context.Background(), &Payload{})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Post() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPostEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	reply, err := New(srv.URL, "", time.Second).Post(context.Background(), &Payload{})
	if err != nil {
		t.Fatalf("Post() error: %v", err)
	}
	if reply.Message != "" {
		t.Errorf("reply.Message = %q, want empty", reply.Message)
	}
}

func TestPostUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(url, "", time.Second).Post(context.Background(), &Payload{})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Post() error = %v, want ErrUnavailable", err)
	}
}

func TestPostTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := New(srv.URL, "", 50*time.Millisecond).Post(context.Background(), &Payload{})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Post() error = %v, want ErrUnavailable", err)
	}
}
