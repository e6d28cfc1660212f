package store

import (
	"database/sql"
	"fmt"
	"time"
)

// GetOrCreateContact finds or inserts the contact for (chat_id, chat_type).
// The single-statement upsert relies on the unique constraint, so two
// webhook deliveries racing on the same new contact converge on one row.
// Non-empty incoming fields refresh the stored ones.
func (db *DB) GetOrCreateContact(c *Contact) (*Contact, error) {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO contacts (chat_id, chat_type, name, phone, username, channel_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, chat_type) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE contacts.name END,
			phone = CASE WHEN excluded.phone != '' THEN excluded.phone ELSE contacts.phone END,
			username = CASE WHEN excluded.username != '' THEN excluded.username ELSE contacts.username END,
			channel_id = CASE WHEN excluded.channel_id != '' THEN excluded.channel_id ELSE contacts.channel_id END,
			updated_at = excluded.updated_at`,
		c.ChatID, c.ChatType, c.Name, c.Phone, c.Username, c.ChannelID, now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert contact: %w", err)
	}
	return db.GetContact(c.ChatID, c.ChatType)
}

// GetContact returns a contact by its composite key, or nil if unknown.
func (db *DB) GetContact(chatID, chatType string) (*Contact, error) {
	var c Contact
	var podioContactID sql.NullInt64
	err := db.QueryRow(`
		SELECT id, chat_id, chat_type, name, phone, username, channel_id, podio_contact_id
		FROM contacts WHERE chat_id = ? AND chat_type = ?`, chatID, chatType).
		Scan(&c.ID, &c.ChatID, &c.ChatType, &c.Name, &c.Phone, &c.Username,
			&c.ChannelID, &podioContactID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.PodioContactID = podioContactID.Int64
	return &c, nil
}

// SetPodioContactID links a contact to its Podio-side contact record.
func (db *DB) SetPodioContactID(contactID, podioContactID int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE contacts SET podio_contact_id = ?, updated_at = ? WHERE id = ?`,
		podioContactID, now, contactID)
	return err
}

// ContactCount returns the total number of contacts.
func (db *DB) ContactCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM contacts`).Scan(&count)
	return count, err
}
