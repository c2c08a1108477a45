package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Account is an upload destination: a named YouTube channel plus the path of its
// stored authorization material. Conversations reference accounts by id but never
// own them.
type Account struct {
	ID              int64
	Name            string
	CredentialsPath string
}

// ListAccounts returns all accounts in insertion order. The 1-based indices shown to
// users in selection prompts follow this order.
func ListAccounts(ctx context.Context, db *sql.DB) ([]Account, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name, COALESCE(credentials_path,'') FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Name, &a.CredentialsPath); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateAccount inserts a new account row and returns it.
func CreateAccount(ctx context.Context, db *sql.DB, name, credentialsPath string) (*Account, error) {
	var id int64
	err := db.QueryRowContext(ctx, `INSERT INTO accounts (name, credentials_path, created_at)
		VALUES ($1, $2, NOW()) RETURNING id`, name, credentialsPath).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return &Account{ID: id, Name: name, CredentialsPath: credentialsPath}, nil
}

// DeleteAccount removes an account row. Credential material on disk is the caller's
// responsibility.
func DeleteAccount(ctx context.Context, db *sql.DB, id int64) error {
	_, err := db.ExecContext(ctx, `DELETE FROM accounts WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}

// FindAccountByName returns the account with the given name, or nil when absent.
func FindAccountByName(ctx context.Context, db *sql.DB, name string) (*Account, error) {
	return findAccount(ctx, db, `SELECT id, name, COALESCE(credentials_path,'') FROM accounts WHERE name=$1`, name)
}

// FindAccountByID returns the account with the given id, or nil when absent.
func FindAccountByID(ctx context.Context, db *sql.DB, id int64) (*Account, error) {
	return findAccount(ctx, db, `SELECT id, name, COALESCE(credentials_path,'') FROM accounts WHERE id=$1`, id)
}

func findAccount(ctx context.Context, db *sql.DB, query string, arg any) (*Account, error) {
	var a Account
	err := db.QueryRowContext(ctx, query, arg).Scan(&a.ID, &a.Name, &a.CredentialsPath)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	return &a, nil
}
