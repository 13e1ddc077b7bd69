package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/onnwee/chatmux/backend/crypto"
	"github.com/onnwee/chatmux/backend/message"
	"github.com/onnwee/chatmux/backend/tokens"
)

var (
	encryptor     crypto.Encryptor
	encryptorOnce sync.Once
	encryptorErr  error
)

// getEncryptor lazily initializes the process-wide encryptor from
// ENCRYPTION_KEY. Unset means credentials are stored in plaintext
// (encryption_version = 0).
func getEncryptor() (crypto.Encryptor, error) {
	encryptorOnce.Do(func() {
		key := os.Getenv("ENCRYPTION_KEY")
		if key == "" {
			slog.Warn("ENCRYPTION_KEY not set, oauth tokens will be stored in plaintext (not recommended for production)")
			return
		}
		enc, err := crypto.NewAESEncryptor(key)
		if err != nil {
			encryptorErr = fmt.Errorf("initialize encryption: %w", err)
			slog.Error("encryption initialization failed", slog.Any("err", encryptorErr))
			return
		}
		encryptor = enc
		slog.Info("oauth token encryption enabled (AES-256-GCM)")
	})
	return encryptor, encryptorErr
}

// CredentialStore persists per-platform token records in the oauth_tokens
// table, encrypting token material at rest when ENCRYPTION_KEY is set. It
// implements the token manager's store interface.
type CredentialStore struct {
	DB *sql.DB
}

// NewCredentialStore wraps a connected database.
func NewCredentialStore(dbx *sql.DB) *CredentialStore { return &CredentialStore{DB: dbx} }

// Load reads the stored record for a platform; (nil, nil) when absent.
func (s *CredentialStore) Load(ctx context.Context, p message.Platform) (*tokens.Record, error) {
	var (
		access, refresh sql.NullString
		expiry          sql.NullTime
		scope           sql.NullString
		invalid         bool
		encVersion      int
	)
	row := s.DB.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at, scope, COALESCE(invalid, FALSE), COALESCE(encryption_version, 0)
		 FROM oauth_tokens WHERE provider = $1`, string(p))
	err := row.Scan(&access, &refresh, &expiry, &scope, &invalid, &encVersion)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec := tokens.Record{
		AccessToken:  access.String,
		RefreshToken: refresh.String,
		Scope:        scope.String,
		Invalid:      invalid,
	}
	if expiry.Valid {
		rec.ExpiresAt = expiry.Time
	}
	if encVersion == 1 {
		enc, encErr := getEncryptor()
		if encErr != nil {
			return nil, fmt.Errorf("get encryptor for decryption: %w", encErr)
		}
		if enc == nil {
			return nil, fmt.Errorf("stored %s credential is encrypted but ENCRYPTION_KEY not configured", p)
		}
		if rec.AccessToken, err = crypto.DecryptString(enc, rec.AccessToken); err != nil {
			return nil, fmt.Errorf("decrypt access token: %w", err)
		}
		if rec.RefreshToken, err = crypto.DecryptString(enc, rec.RefreshToken); err != nil {
			return nil, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	return &rec, nil
}

// Save upserts the record, replacing both tokens together.
func (s *CredentialStore) Save(ctx context.Context, p message.Platform, rec tokens.Record) error {
	enc, err := getEncryptor()
	if err != nil {
		return fmt.Errorf("get encryptor: %w", err)
	}

	encVersion := 0
	encKeyID := ""
	access, refresh := rec.AccessToken, rec.RefreshToken
	if enc != nil {
		encVersion = 1
		encKeyID = "default"
		if access, err = crypto.EncryptString(enc, access); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		if refresh, err = crypto.EncryptString(enc, refresh); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
	}

	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO oauth_tokens(provider, access_token, refresh_token, expires_at, scope, invalid, encryption_version, encryption_key_id, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,NOW())
		 ON CONFLICT(provider) DO UPDATE SET
		   access_token=EXCLUDED.access_token,
		   refresh_token=EXCLUDED.refresh_token,
		   expires_at=EXCLUDED.expires_at,
		   scope=EXCLUDED.scope,
		   invalid=EXCLUDED.invalid,
		   encryption_version=EXCLUDED.encryption_version,
		   encryption_key_id=EXCLUDED.encryption_key_id,
		   updated_at=NOW()`,
		string(p), access, refresh, rec.ExpiresAt, rec.Scope, rec.Invalid, encVersion, encKeyID)
	return err
}

// Clear removes the stored credential for a platform.
func (s *CredentialStore) Clear(ctx context.Context, p message.Platform) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM oauth_tokens WHERE provider = $1`, string(p))
	return err
}
