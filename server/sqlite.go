package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteAccountStore persists accounts and linked OAuth identities in SQLite.
type SQLiteAccountStore struct {
	db *sql.DB
}

// NewSQLiteAccountStore opens (or creates) the database at path and applies
// the schema.
func NewSQLiteAccountStore(path string) (*SQLiteAccountStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteAccountStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteAccountStore) Close() error {
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	if err := initTable(db, "accounts", `
		CREATE TABLE IF NOT EXISTS accounts (
			id            TEXT PRIMARY KEY,
			email         TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			is_active     INTEGER NOT NULL DEFAULT 1,
			is_verified   INTEGER NOT NULL DEFAULT 0
		);`,
	); err != nil {
		return err
	}

	if err := initTable(db, "oauth_accounts", `
		CREATE TABLE IF NOT EXISTS oauth_accounts (
			account_id  TEXT PRIMARY KEY,
			provider    TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			FOREIGN KEY (account_id) REFERENCES accounts (id) ON DELETE CASCADE
		);`,
	); err != nil {
		return err
	}

	return nil
}

func initTable(db *sql.DB, name, ddl string) error {
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("init %q table schema: %w", name, err)
	}
	return nil
}

func (s *SQLiteAccountStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT a.id, a.email, a.password_hash, a.is_active, a.is_verified,
		       o.provider, o.provider_id
		FROM accounts a
		LEFT JOIN oauth_accounts o ON o.account_id = a.id
		WHERE a.email = ?`,
		normalizeEmail(email),
	)

	var (
		acct       Account
		provider   sql.NullString
		providerID sql.NullString
	)
	err := row.Scan(&acct.ID, &acct.Email, &acct.PasswordHash, &acct.IsActive, &acct.IsVerified,
		&provider, &providerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find account by email: %w", err)
	}

	if provider.Valid {
		acct.OAuth = &OAuthIdentity{
			AccountID:  acct.ID,
			Provider:   Provider(provider.String),
			ProviderID: providerID.String,
		}
	}
	return &acct, nil
}

func (s *SQLiteAccountStore) Create(ctx context.Context, account *Account) (*Account, error) {
	stored := cloneAccount(account)
	if stored.ID == "" {
		stored.ID = NewID()
	}
	stored.Email = normalizeEmail(stored.Email)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO accounts (id, email, password_hash, is_active, is_verified)
		VALUES (?, ?, ?, ?, ?)`,
		stored.ID, stored.Email, stored.PasswordHash, stored.IsActive, stored.IsVerified,
	)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}

	if stored.OAuth != nil {
		stored.OAuth.AccountID = stored.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO oauth_accounts (account_id, provider, provider_id)
			VALUES (?, ?, ?)`,
			stored.ID, string(stored.OAuth.Provider), stored.OAuth.ProviderID,
		)
		if err != nil {
			return nil, fmt.Errorf("insert oauth identity: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return stored, nil
}

func (s *SQLiteAccountStore) AttachIdentity(ctx context.Context, accountID string, identity OAuthIdentity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO oauth_accounts (account_id, provider, provider_id)
		VALUES (?, ?, ?)`,
		accountID, string(identity.Provider), identity.ProviderID,
	)
	if err != nil {
		return fmt.Errorf("insert oauth identity: %w", err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE accounts SET is_verified = 1 WHERE id = ?`, accountID)
	if err != nil {
		return fmt.Errorf("mark account verified: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
