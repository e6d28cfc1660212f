package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertMessage inserts a message keyed by its provider message_id. Returns
// true when this was the first sight of the id; re-deliveries refresh the
// mutable fields and return false. Callers must only forward on first sight.
func (db *DB) UpsertMessage(m *Message) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		INSERT OR IGNORE INTO messages
			(message_id, channel_id, chat_id, chat_type, sender_name, sender_phone,
			 sender_username, body, content_uri, message_type, status, is_echo,
			 sent_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.MessageID, m.ChannelID, m.ChatID, m.ChatType, m.SenderName, m.SenderPhone,
		m.SenderUser, m.Body, m.ContentURI, m.MessageType, m.Status, m.IsEcho,
		m.SentAt, now)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	// Re-delivery: refresh fields the provider may have updated.
	_, err = db.Exec(`
		UPDATE messages SET sender_name = ?, body = ?, status = ?
		WHERE message_id = ?`,
		m.SenderName, m.Body, m.Status, m.MessageID)
	if err != nil {
		return false, fmt.Errorf("refresh message: %w", err)
	}
	return false, nil
}

// GetMessage returns a message by provider message_id, or nil if unknown.
func (db *DB) GetMessage(messageID string) (*Message, error) {
	var m Message
	var itemID, forwardedAt sql.NullInt64
	err := db.QueryRow(`
		SELECT id, message_id, channel_id, chat_id, chat_type, sender_name,
		       sender_phone, sender_username, body, content_uri, message_type,
		       status, is_echo, sent_at, podio_item_id, forwarded_at
		FROM messages WHERE message_id = ?`, messageID).
		Scan(&m.ID, &m.MessageID, &m.ChannelID, &m.ChatID, &m.ChatType, &m.SenderName,
			&m.SenderPhone, &m.SenderUser, &m.Body, &m.ContentURI, &m.MessageType,
			&m.Status, &m.IsEcho, &m.SentAt, &itemID, &forwardedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.PodioItemID = itemID.Int64
	m.ForwardedAt = forwardedAt.Int64
	return &m, nil
}

// MarkForwarded records the Podio item a message was forwarded to. The
// conditional update makes the marker monotonic: only the first caller wins,
// and an already-forwarded message is never re-linked.
func (db *DB) MarkForwarded(messageID string, podioItemID int64) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		UPDATE messages SET podio_item_id = ?, forwarded_at = ?
		WHERE message_id = ? AND podio_item_id IS NULL`,
		podioItemID, now, messageID)
	if err != nil {
		return false, fmt.Errorf("mark forwarded: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// UnforwardedInbound returns forwardable messages that have not reached
// Podio yet, oldest first. This is the reconciliation loop's retry feed.
func (db *DB) UnforwardedInbound(limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, message_id, channel_id, chat_id, chat_type, sender_name,
		       sender_phone, sender_username, body, content_uri, message_type,
		       status, is_echo, sent_at
		FROM messages
		WHERE podio_item_id IS NULL AND is_echo = 0 AND status = ?
		ORDER BY created_at ASC
		LIMIT ?`, StatusInbound, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.MessageID, &m.ChannelID, &m.ChatID, &m.ChatType,
			&m.SenderName, &m.SenderPhone, &m.SenderUser, &m.Body, &m.ContentURI,
			&m.MessageType, &m.Status, &m.IsEcho, &m.SentAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the total number of stored messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
