package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const upsertChatSQL = `
	INSERT INTO chats (jid, kind, name, metadata, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(jid) DO UPDATE SET
		kind = CASE WHEN excluded.kind != '' THEN excluded.kind ELSE chats.kind END,
		name = CASE WHEN excluded.name != '' THEN excluded.name ELSE chats.name END,
		metadata = CASE WHEN excluded.metadata != '{}' THEN excluded.metadata ELSE chats.metadata END,
		updated_at = excluded.updated_at`

// UpsertChat inserts or updates the directory fields of a chat. Empty kind,
// name and metadata keep the stored values.
func (db *DB) UpsertChat(c *Chat) error {
	md, err := encodeMetadata(c.Metadata)
	if err != nil {
		return err
	}
	_, err = db.Exec(upsertChatSQL, c.JID, c.Kind, c.Name, md, updatedAt(c))
	return err
}

// BulkUpsertChats upserts many chats in a single transaction.
func (db *DB) BulkUpsertChats(chats []Chat) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(upsertChatSQL)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range chats {
		c := &chats[i]
		md, err := encodeMetadata(c.Metadata)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(c.JID, c.Kind, c.Name, md, updatedAt(c)); err != nil {
			return fmt.Errorf("upsert chat %q: %w", c.JID, err)
		}
	}
	return tx.Commit()
}

// RecordLastMessage stores the last relayed message of a chat, creating the
// chat if needed. Older messages never overwrite newer ones.
func (db *DB) RecordLastMessage(jid, preview, senderJID string, at int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chats (jid, last_message_at, last_message_preview, last_sender_jid, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(jid) DO UPDATE SET
			last_message_at = excluded.last_message_at,
			last_message_preview = excluded.last_message_preview,
			last_sender_jid = excluded.last_sender_jid,
			updated_at = excluded.updated_at
		WHERE excluded.last_message_at >= chats.last_message_at`,
		jid, at, preview, senderJID, now)
	return err
}

// ListChats returns chats sorted by last message timestamp descending. A
// negative limit returns every chat.
func (db *DB) ListChats(limit, offset int) ([]Chat, error) {
	if limit == 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT jid, kind, name, metadata, last_message_at, last_message_preview, last_sender_jid, updated_at
		FROM chats
		ORDER BY last_message_at DESC, jid
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *c)
	}
	return chats, rows.Err()
}

// AllChats returns every stored chat.
func (db *DB) AllChats() ([]Chat, error) {
	return db.ListChats(-1, 0)
}

// GetChat returns a single chat by JID, or nil when absent.
func (db *DB) GetChat(jid string) (*Chat, error) {
	row := db.QueryRow(`
		SELECT jid, kind, name, metadata, last_message_at, last_message_preview, last_sender_jid, updated_at
		FROM chats WHERE jid = ?`, jid)
	c, err := scanChat(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// ChatCount returns the total number of chats.
func (db *DB) ChatCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM chats`).Scan(&count)
	return count, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChat(s scanner) (*Chat, error) {
	var c Chat
	var md string
	if err := s.Scan(&c.JID, &c.Kind, &c.Name, &md, &c.LastMessageAt, &c.LastMessagePreview, &c.LastSenderJID, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if md != "" && md != "{}" {
		if err := json.Unmarshal([]byte(md), &c.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %q: %w", c.JID, err)
		}
	}
	return &c, nil
}

func encodeMetadata(md map[string]string) (string, error) {
	if len(md) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func updatedAt(c *Chat) int64 {
	if c.UpdatedAt != 0 {
		return c.UpdatedAt
	}
	return time.Now().UnixMilli()
}
