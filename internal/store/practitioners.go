package store

import (
	"context"
	"fmt"
	"time"

	"github.com/clinicsync/platform/internal/pms"
)

// UpsertPractitioners bulk-upserts the practitioner roster. The roster
// must be durably stored before appointments, because appointment rows
// resolve practitioner display names by lookup rather than carrying
// them redundantly.
func (s *Store) UpsertPractitioners(ctx context.Context, userID, pmsType string, practitioners []pms.Practitioner) error {
	now := time.Now().UTC()
	for start := 0; start < len(practitioners); start += s.batchSize {
		end := start + s.batchSize
		if end > len(practitioners) {
			end = len(practitioners)
		}
		batch := practitioners[start:end]

		args := make([]any, 0, len(batch)*5)
		for _, p := range batch {
			args = append(args, userID, pmsType, p.ExternalID, p.DisplayName, now)
		}
		query := `INSERT INTO practitioners (user_id, pms_type, external_practitioner_id, display_name, updated_at) VALUES ` +
			placeholders(len(batch), 5) +
			` ON CONFLICT (user_id, external_practitioner_id, pms_type) DO UPDATE SET
			    display_name=EXCLUDED.display_name, updated_at=EXCLUDED.updated_at`
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("store: upsert practitioner batch: %w", err)
		}
	}
	return nil
}
