package store

import (
	"database/sql"
	"time"

	"github.com/mvalverde/chatmux/internal/reconcile"
)

// PutPendingOriginal records the pre-translation text for a sent message,
// keyed by its current (temp or real) id. Durable across restarts so the
// original stays recoverable.
func (db *DB) PutPendingOriginal(accountID string, o reconcile.Original) error {
	_, err := db.Exec(`
		INSERT INTO originals (message_id, account_id, chat_id, body, original, timestamp, matched, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			chat_id = excluded.chat_id,
			body = excluded.body,
			original = excluded.original,
			timestamp = excluded.timestamp`,
		o.MessageID, accountID, o.ChatID, o.Body, o.Original, o.Timestamp, time.Now().UnixMilli())
	return err
}

// RekeyOriginal moves an entry from a temp id to the confirmed id and marks
// it matched. A no-op when the temp entry is gone.
func (db *DB) RekeyOriginal(tempID, realID string) error {
	_, err := db.Exec(`UPDATE originals SET message_id = ?, matched = 1 WHERE message_id = ?`, realID, tempID)
	return err
}

// MarkOriginalMatched upserts a matched entry under the confirmed id. Used by
// the recovery pass when a pending entry fuzzy-matches loaded history.
func (db *DB) MarkOriginalMatched(accountID, pendingID, realID string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`UPDATE OR REPLACE originals SET message_id = ?, matched = 1 WHERE message_id = ?`, realID, pendingID); err != nil {
		return err
	}
	return tx.Commit()
}

// GetOriginal returns the pre-translation text for a message id.
func (db *DB) GetOriginal(messageID string) (string, bool, error) {
	var original string
	err := db.QueryRow(`SELECT original FROM originals WHERE message_id = ?`, messageID).Scan(&original)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return original, true, nil
}

// PendingOriginals returns the unmatched entries for one account, for the
// opportunistic re-match against newly loaded history.
func (db *DB) PendingOriginals(accountID string) ([]reconcile.Original, error) {
	rows, err := db.Query(`
		SELECT message_id, chat_id, body, original, timestamp
		FROM originals WHERE account_id = ? AND matched = 0`, accountID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []reconcile.Original
	for rows.Next() {
		var o reconcile.Original
		if err := rows.Scan(&o.MessageID, &o.ChatID, &o.Body, &o.Original, &o.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// DeleteOriginal prunes one entry (failed send retries generate a fresh one).
func (db *DB) DeleteOriginal(messageID string) error {
	_, err := db.Exec(`DELETE FROM originals WHERE message_id = ?`, messageID)
	return err
}
