package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Credential is one stored PMS connection. The API key is sealed by
// the vault before it reaches this layer.
type Credential struct {
	ID              int64
	UserID          string
	PMSType         string
	APIKeyEncrypted string
	APIURL          string
	ClinicID        sql.NullString
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// UpsertCredential saves the active credential for (user, pms_type).
func (s *Store) UpsertCredential(ctx context.Context, c *Credential) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pms_credentials (user_id, pms_type, api_key_encrypted, api_url, clinic_id, is_active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
		ON CONFLICT (user_id, pms_type) DO UPDATE SET
		    api_key_encrypted=EXCLUDED.api_key_encrypted, api_url=EXCLUDED.api_url,
		    clinic_id=EXCLUDED.clinic_id, is_active=EXCLUDED.is_active, updated_at=$7`,
		c.UserID, c.PMSType, c.APIKeyEncrypted, c.APIURL, c.ClinicID, c.IsActive, now)
	if err != nil {
		return fmt.Errorf("store: upsert credential: %w", err)
	}
	return nil
}

// ActiveCredential loads the active credential for (user, pms_type).
// Returns nil without error when none is stored.
func (s *Store) ActiveCredential(ctx context.Context, userID, pmsType string) (*Credential, error) {
	var c Credential
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, pms_type, api_key_encrypted, api_url, clinic_id, is_active, created_at, updated_at
		FROM pms_credentials
		WHERE user_id = $1 AND pms_type = $2 AND is_active`, userID, pmsType).Scan(
		&c.ID, &c.UserID, &c.PMSType, &c.APIKeyEncrypted, &c.APIURL, &c.ClinicID,
		&c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load credential: %w", err)
	}
	return &c, nil
}
