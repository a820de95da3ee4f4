package store

import (
	"database/sql"
	"time"
)

// CreateAccount inserts a new account row.
func (db *DB) CreateAccount(a *Account) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO accounts (id, account_type, owner_code, custom_name, account_identifier, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.AccountType, a.OwnerCode, a.CustomName, a.AccountIdentifier, now, now)
	return err
}

// GetAccount returns one account, or nil when absent.
func (db *DB) GetAccount(id string) (*Account, error) {
	var a Account
	err := db.QueryRow(`
		SELECT id, account_type, owner_code, custom_name, account_identifier
		FROM accounts WHERE id = ?`, id).
		Scan(&a.ID, &a.AccountType, &a.OwnerCode, &a.CustomName, &a.AccountIdentifier)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAccounts returns all account rows, oldest first. Used at startup to
// rebuild the session registry.
func (db *DB) ListAccounts() ([]Account, error) {
	return db.listAccounts(`SELECT id, account_type, owner_code, custom_name, account_identifier
		FROM accounts ORDER BY created_at ASC`)
}

// ListAccountsByOwner returns the accounts owned by one invitation code.
func (db *DB) ListAccountsByOwner(ownerCode string) ([]Account, error) {
	return db.listAccounts(`SELECT id, account_type, owner_code, custom_name, account_identifier
		FROM accounts WHERE owner_code = ? ORDER BY created_at ASC`, ownerCode)
}

func (db *DB) listAccounts(query string, args ...any) ([]Account, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.AccountType, &a.OwnerCode, &a.CustomName, &a.AccountIdentifier); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// UpdateAccountName renames an account.
func (db *DB) UpdateAccountName(id, customName string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE accounts SET custom_name = ?, updated_at = ? WHERE id = ?`, customName, now, id)
	return err
}

// UpdateAccountIdentifier records the phone/username learned post-auth.
func (db *DB) UpdateAccountIdentifier(id, identifier string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE accounts SET account_identifier = ?, updated_at = ? WHERE id = ?`, identifier, now, id)
	return err
}

// DeleteAccount removes an account row and its originals.
func (db *DB) DeleteAccount(id string) error {
	if _, err := db.Exec(`DELETE FROM originals WHERE account_id = ?`, id); err != nil {
		return err
	}
	_, err := db.Exec(`DELETE FROM accounts WHERE id = ?`, id)
	return err
}
