package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrNoCredentials indicates the user has no stored credentials.
var ErrNoCredentials = errors.New("no stored credentials")

// EncryptedCredentials holds a user's Telegram API credentials as
// produced by the secrets box. Plaintext never reaches this table.
type EncryptedCredentials struct {
	APIID   string
	APIHash string
	Phone   string
}

// SaveCredentials upserts the encrypted Telegram credentials for a user.
func (db *DB) SaveCredentials(ctx context.Context, userID string, creds EncryptedCredentials) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO telegram_credentials (user_id, api_id_enc, api_hash_enc, phone_enc, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id) DO UPDATE SET
			api_id_enc = EXCLUDED.api_id_enc,
			api_hash_enc = EXCLUDED.api_hash_enc,
			phone_enc = EXCLUDED.phone_enc,
			updated_at = now()`,
		userID, creds.APIID, creds.APIHash, creds.Phone,
	)
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}

	return nil
}

// GetCredentials returns the encrypted credentials for a user.
func (db *DB) GetCredentials(ctx context.Context, userID string) (EncryptedCredentials, error) {
	var creds EncryptedCredentials

	err := db.Pool.QueryRow(ctx,
		`SELECT api_id_enc, api_hash_enc, phone_enc FROM telegram_credentials WHERE user_id = $1`,
		userID,
	).Scan(&creds.APIID, &creds.APIHash, &creds.Phone)

	if errors.Is(err, pgx.ErrNoRows) {
		return EncryptedCredentials{}, ErrNoCredentials
	}

	if err != nil {
		return EncryptedCredentials{}, fmt.Errorf("get credentials: %w", err)
	}

	return creds, nil
}

// DeleteCredentials removes the stored credentials for a user.
func (db *DB) DeleteCredentials(ctx context.Context, userID string) error {
	if _, err := db.Pool.Exec(ctx,
		`DELETE FROM telegram_credentials WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}

	return nil
}
