package store

import (
	"context"
	"fmt"
	"time"

	"github.com/clinicsync/platform/internal/pms"
)

// ReplaceTypeCatalog stores the full raw appointment-type catalogue
// fetched from the PMS, replacing the previous snapshot. The catalogue
// is kept separately from the matched mappings so reclassification can
// re-run without another PMS fetch.
func (s *Store) ReplaceTypeCatalog(ctx context.Context, userID, pmsType string, types []pms.RawType) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin catalog replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pms_appointment_types WHERE user_id = $1 AND pms_type = $2`,
		userID, pmsType); err != nil {
		return fmt.Errorf("store: clear catalog: %w", err)
	}

	now := time.Now().UTC()
	for start := 0; start < len(types); start += s.batchSize {
		end := start + s.batchSize
		if end > len(types) {
			end = len(types)
		}
		batch := types[start:end]

		args := make([]any, 0, len(batch)*5)
		for _, t := range batch {
			args = append(args, userID, pmsType, t.ExternalID, t.Name, now)
		}
		query := `INSERT INTO pms_appointment_types (user_id, pms_type, external_type_id, display_name, fetched_at) VALUES ` +
			placeholders(len(batch), 5) +
			` ON CONFLICT (user_id, external_type_id, pms_type) DO UPDATE SET display_name=EXCLUDED.display_name, fetched_at=EXCLUDED.fetched_at`
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("store: insert catalog batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit catalog replace: %w", err)
	}
	return nil
}

// ListTypeCatalog returns the stored raw catalogue for (user, pms).
func (s *Store) ListTypeCatalog(ctx context.Context, userID, pmsType string) ([]pms.RawType, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT external_type_id, display_name
		FROM pms_appointment_types
		WHERE user_id = $1 AND pms_type = $2
		ORDER BY external_type_id`, userID, pmsType)
	if err != nil {
		return nil, fmt.Errorf("store: list catalog: %w", err)
	}
	defer rows.Close()

	var out []pms.RawType
	for rows.Next() {
		var t pms.RawType
		if err := rows.Scan(&t.ExternalID, &t.Name); err != nil {
			return nil, fmt.Errorf("store: scan catalog row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CatalogPMSTypes lists which PMS systems have a stored catalogue for
// the user. Reclassification runs against each of them.
func (s *Store) CatalogPMSTypes(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT pms_type FROM pms_appointment_types WHERE user_id = $1 ORDER BY pms_type`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list catalog pms types: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("store: scan pms type: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
