package directory

import (
	"sync"
	"testing"

	"github.com/matheus3301/wpprelay/internal/transport"
)

func TestUpsertAndLookup(t *testing.T) {
	d := New()
	d.Upsert(Record{ID: "1@s.whatsapp.net", Kind: transport.ChatPerson, Name: "Ana"})

	r, ok := d.Lookup("1@s.whatsapp.net")
	if !ok {
		t.Fatal("Lookup() miss after Upsert")
	}
	if r.Name != "Ana" || r.Kind != transport.ChatPerson {
		t.Errorf("record = %+v", r)
	}
	if r.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
	if d.Len() != 1 {
		t.Errorf("Len() = %d, want 1", d.Len())
	}
}

func TestUpsertKeepsKnownFields(t *testing.T) {
	d := New()
	d.Upsert(Record{ID: "g@g.us", Kind: transport.ChatGroup, Name: "Team", Metadata: map[string]string{"topic": "ops"}})
	r := d.Upsert(Record{ID: "g@g.us", Metadata: map[string]string{"owner": "1@s.whatsapp.net"}})

	if r.Name != "Team" {
		t.Errorf("Name = %q, want Team", r.Name)
	}
	if r.Kind != transport.ChatGroup {
		t.Errorf("Kind = %q, want group", r.Kind)
	}
	if r.Metadata["topic"] != "ops" || r.Metadata["owner"] != "1@s.whatsapp.net" {
		t.Errorf("Metadata = %v, want merged", r.Metadata)
	}
	if d.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (keys unique)", d.Len())
	}
}

func TestUpsertChatsSkipsEmptyIDs(t *testing.T) {
	d := New()
	got := d.UpsertChats([]transport.ChatInfo{
		{ID: "a@s.whatsapp.net", Kind: transport.ChatPerson},
		{ID: ""},
		{ID: "b@g.us", Kind: transport.ChatGroup, Name: "B"},
	})
	if len(got) != 2 {
		t.Errorf("UpsertChats() returned %d records, want 2", len(got))
	}
	if !d.Has("b@g.us") {
		t.Error("group record missing")
	}
}

func TestSnapshot(t *testing.T) {
	d := New()
	d.Upsert(Record{ID: "a"})
	d.Upsert(Record{ID: "b"})
	if n := len(d.Snapshot()); n != 2 {
		t.Errorf("Snapshot() len = %d, want 2", n)
	}
}

func TestConcurrentUpsert(t *testing.T) {
	d := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				d.Upsert(Record{ID: "same@s.whatsapp.net"})
				d.Has("same@s.whatsapp.net")
			}
		}()
	}
	wg.Wait()
	if d.Len() != 1 {
		t.Errorf("Len() = %d, want 1", d.Len())
	}
}
