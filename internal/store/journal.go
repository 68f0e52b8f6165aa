package store

import "time"

// AppendJournal inserts one journal entry. CreatedAt defaults to now.
func (db *DB) AppendJournal(e *JournalEntry) error {
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO relay_log (id, direction, chat_jid, msg_id, sender_jid, push_name, from_me,
			body, media_type, outcome, reply_id, receipt, deleted, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		e.ID, e.Direction, e.ChatJID, e.MsgID, e.SenderJID, e.PushName, e.FromMe,
		e.Body, e.MediaType, e.Outcome, e.ReplyID, e.Receipt, e.Deleted, e.Error, e.CreatedAt)
	return err
}

// RecentJournal returns the newest entries of a chat, newest first. An empty
// chatJID lists all chats.
func (db *DB) RecentJournal(chatJID string, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, direction, chat_jid, msg_id, sender_jid, push_name, from_me,
			body, media_type, outcome, reply_id, receipt, deleted, error, created_at
		FROM relay_log
		WHERE ? = '' OR chat_jid = ?
		ORDER BY created_at DESC, id
		LIMIT ?`, chatJID, chatJID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.ID, &e.Direction, &e.ChatJID, &e.MsgID, &e.SenderJID, &e.PushName, &e.FromMe,
			&e.Body, &e.MediaType, &e.Outcome, &e.ReplyID, &e.Receipt, &e.Deleted, &e.Error, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// OutcomeCounts returns the number of journal entries per outcome.
func (db *DB) OutcomeCounts() (map[string]int64, error) {
	rows, err := db.Query(`SELECT outcome, COUNT(*) FROM relay_log GROUP BY outcome`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int64)
	for rows.Next() {
		var outcome string
		var n int64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}
