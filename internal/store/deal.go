package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ActiveDeal returns the contact's active deal, or nil if none exists.
func (db *DB) ActiveDeal(contactID int64) (*Deal, error) {
	var d Deal
	err := db.QueryRow(`
		SELECT id, contact_id, podio_item_id, status
		FROM deals WHERE contact_id = ? AND status = 'active'`, contactID).
		Scan(&d.ID, &d.ContactID, &d.PodioItemID, &d.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// InsertActiveDeal records a new active deal for a contact. The partial
// unique index on (contact_id) WHERE status='active' resolves races: the
// loser's insert is ignored and the winner's row is returned instead.
func (db *DB) InsertActiveDeal(contactID, podioItemID int64) (*Deal, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		INSERT OR IGNORE INTO deals (contact_id, podio_item_id, status, created_at, updated_at)
		VALUES (?, ?, 'active', ?, ?)`,
		contactID, podioItemID, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert deal: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		// Lost the race; another caller created the active deal first.
		return db.ActiveDeal(contactID)
	}
	return db.ActiveDeal(contactID)
}

// LastClosedDeal returns the contact's most recently closed deal, or nil.
func (db *DB) LastClosedDeal(contactID int64) (*Deal, error) {
	var d Deal
	err := db.QueryRow(`
		SELECT id, contact_id, podio_item_id, status
		FROM deals WHERE contact_id = ? AND status = 'closed'
		ORDER BY updated_at DESC LIMIT 1`, contactID).
		Scan(&d.ID, &d.ContactID, &d.PodioItemID, &d.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ReopenDeal reactivates a closed deal. If another active deal appeared in
// the meantime the partial unique index rejects the update; the caller
// falls back to the existing active deal.
func (db *DB) ReopenDeal(dealID int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE deals SET status = 'active', updated_at = ? WHERE id = ?`, now, dealID)
	return err
}

// CloseDeal marks a deal closed, freeing the contact for a new active deal.
func (db *DB) CloseDeal(dealID int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE deals SET status = 'closed', updated_at = ? WHERE id = ?`, now, dealID)
	return err
}

// ActiveDeals returns every active deal joined with the contact fields the
// reconciliation loop needs to route replies.
func (db *DB) ActiveDeals() ([]ActiveDealRoute, error) {
	rows, err := db.Query(`
		SELECT d.id, d.contact_id, d.podio_item_id, d.status,
		       c.id, c.chat_id, c.chat_type, c.name, c.channel_id
		FROM deals d
		JOIN contacts c ON c.id = d.contact_id
		WHERE d.status = 'active'
		ORDER BY d.id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var routes []ActiveDealRoute
	for rows.Next() {
		var r ActiveDealRoute
		if err := rows.Scan(&r.Deal.ID, &r.Deal.ContactID, &r.Deal.PodioItemID, &r.Deal.Status,
			&r.Contact.ID, &r.Contact.ChatID, &r.Contact.ChatType, &r.Contact.Name,
			&r.Contact.ChannelID); err != nil {
			return nil, err
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}
