// Package directory keeps the in-memory registry of known chats.
package directory

import (
	"maps"
	"sync"
	"time"

	"github.com/matheus3301/wpprelay/internal/transport"
)

// Record is the last-seen state of a chat.
type Record struct {
	ID        string
	Kind      transport.ChatKind
	Name      string
	Metadata  map[string]string
	UpdatedAt time.Time
}

// Directory maps chat ids to records. Records are never removed.
type Directory struct {
	mu      sync.RWMutex
	records map[string]Record
	now     func() time.Time
}

// New creates an empty directory.
func New() *Directory {
	return &Directory{
		records: make(map[string]Record),
		now:     time.Now,
	}
}

// Upsert merges r into the directory and returns the stored record. Empty
// name and metadata fields in r keep the previously known values.
func (d *Directory) Upsert(r Record) Record {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev, ok := d.records[r.ID]
	if ok {
		if r.Name == "" {
			r.Name = prev.Name
		}
		if r.Kind == "" {
			r.Kind = prev.Kind
		}
		if len(prev.Metadata) > 0 {
			merged := maps.Clone(prev.Metadata)
			maps.Copy(merged, r.Metadata)
			r.Metadata = merged
		}
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = d.now()
	}
	d.records[r.ID] = r
	return r
}

// UpsertChats records every chat from a Transport upsert and returns the
// stored records.
func (d *Directory) UpsertChats(chats []transport.ChatInfo) []Record {
	out := make([]Record, 0, len(chats))
	for _, c := range chats {
		if c.ID == "" {
			continue
		}
		out = append(out, d.Upsert(Record{
			ID:       c.ID,
			Kind:     c.Kind,
			Name:     c.Name,
			Metadata: c.Metadata,
		}))
	}
	return out
}

// Lookup returns the record for id.
func (d *Directory) Lookup(id string) (Record, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.records[id]
	return r, ok
}

// Has reports whether id is known.
func (d *Directory) Has(id string) bool {
	_, ok := d.Lookup(id)
	return ok
}

// Len returns the number of known chats.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records)
}

// Snapshot returns a copy of all records.
func (d *Directory) Snapshot() []Record {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Record, 0, len(d.records))
	for _, r := range d.records {
		out = append(out, r)
	}
	return out
}
