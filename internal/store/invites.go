package store

import "time"

// CreateInvite inserts a new invitation code.
func (db *DB) CreateInvite(code, note string) error {
	_, err := db.Exec(`INSERT INTO invites (code, note, created_at) VALUES (?, ?, ?)`,
		code, note, time.Now().UnixMilli())
	return err
}

// InviteExists reports whether an invitation code is valid.
func (db *DB) InviteExists(code string) (bool, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(1) FROM invites WHERE code = ?`, code).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListInvites returns all invitation codes, oldest first.
func (db *DB) ListInvites() ([]Invite, error) {
	rows, err := db.Query(`SELECT code, note FROM invites ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var invites []Invite
	for rows.Next() {
		var iv Invite
		if err := rows.Scan(&iv.Code, &iv.Note); err != nil {
			return nil, err
		}
		invites = append(invites, iv)
	}
	return invites, rows.Err()
}
