package sync

import (
	"fmt"
	"time"

	"github.com/matheus3301/wpprelay/internal/directory"
	"github.com/matheus3301/wpprelay/internal/store"
	"github.com/matheus3301/wpprelay/internal/transport"
)

// Warm loads every stored chat into dir and returns how many were loaded.
func Warm(db *store.DB, dir *directory.Directory) (int, error) {
	chats, err := db.AllChats()
	if err != nil {
		return 0, fmt.Errorf("load chats: %w", err)
	}
	for _, c := range chats {
		r := directory.Record{
			ID:       c.JID,
			Kind:     transport.ChatKind(c.Kind),
			Name:     c.Name,
			Metadata: c.Metadata,
		}
		if c.UpdatedAt != 0 {
			r.UpdatedAt = time.UnixMilli(c.UpdatedAt)
		}
		dir.Upsert(r)
	}
	return len(chats), nil
}
