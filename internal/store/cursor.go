package store

import (
	"database/sql"
	"time"
)

// SetCursor updates a reconciliation cursor position.
func (db *DB) SetCursor(key, position string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_cursors (key, position, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET position = excluded.position, updated_at = excluded.updated_at`,
		key, position, now)
	return err
}

// Cursor retrieves a reconciliation cursor position. An unknown key returns
// the empty position, meaning "from the beginning".
func (db *DB) Cursor(key string) (string, error) {
	var position string
	err := db.QueryRow(`SELECT position FROM sync_cursors WHERE key = ?`, key).Scan(&position)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return position, nil
}
