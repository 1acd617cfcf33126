package store

import (
	"context"
	"fmt"
	"time"

	"github.com/clinicsync/platform/internal/classify"
)

// ReplaceMappings swaps the stored funding classification for
// (user, pms) wholesale. Classification is recomputed from scratch on
// every run; merging incrementally would leave stale codes behind when
// a tag is removed.
func (s *Store) ReplaceMappings(ctx context.Context, userID, pmsType string, mappings []classify.Mapping) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin mapping replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM appointment_type_mappings WHERE user_id = $1 AND pms_type = $2`,
		userID, pmsType); err != nil {
		return fmt.Errorf("store: clear mappings: %w", err)
	}

	now := time.Now().UTC()
	for start := 0; start < len(mappings); start += s.batchSize {
		end := start + s.batchSize
		if end > len(mappings) {
			end = len(mappings)
		}
		batch := mappings[start:end]

		args := make([]any, 0, len(batch)*6)
		for _, m := range batch {
			args = append(args, userID, pmsType, m.ExternalTypeID, m.DisplayName, string(m.Scheme), now)
		}
		query := `INSERT INTO appointment_type_mappings (user_id, pms_type, external_type_id, display_name, funding_code, updated_at) VALUES ` +
			placeholders(len(batch), 6) +
			` ON CONFLICT (user_id, external_type_id, pms_type) DO UPDATE SET
			    display_name=EXCLUDED.display_name, funding_code=EXCLUDED.funding_code, updated_at=EXCLUDED.updated_at`
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("store: insert mapping batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit mapping replace: %w", err)
	}
	return nil
}

// CountMappings returns how many classified types are stored for
// (user, pms).
func (s *Store) CountMappings(ctx context.Context, userID, pmsType string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM appointment_type_mappings WHERE user_id = $1 AND pms_type = $2`,
		userID, pmsType).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count mappings: %w", err)
	}
	return n, nil
}
