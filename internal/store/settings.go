package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/clinicsync/platform/internal/classify"
)

// Settings is a clinic's funding-tag vocabulary and quota overrides.
type Settings struct {
	WCTags   []string
	EPCTags  []string
	WCQuota  int
	EPCQuota int
}

// DefaultSettings mirrors the scheme defaults for clinics that never
// edited their vocabulary.
func DefaultSettings() Settings {
	return Settings{WCTags: []string{"WC"}, EPCTags: []string{"EPC"}, WCQuota: 8, EPCQuota: 5}
}

// TagConfig converts settings to the classifier's input.
func (st Settings) TagConfig() classify.TagConfig {
	return classify.TagConfig{WCTags: st.WCTags, EPCTags: st.EPCTags}
}

// GetSettings loads a clinic's settings, falling back to defaults when
// the clinic has no row yet.
func (s *Store) GetSettings(ctx context.Context, userID string) (Settings, error) {
	var st Settings
	err := s.db.QueryRowContext(ctx, `
		SELECT wc_tags, epc_tags, wc_quota, epc_quota
		FROM clinic_settings WHERE user_id = $1`, userID).Scan(
		pq.Array(&st.WCTags), pq.Array(&st.EPCTags), &st.WCQuota, &st.EPCQuota)
	if err == sql.ErrNoRows {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("store: load settings: %w", err)
	}
	if len(st.WCTags) == 0 {
		st.WCTags = []string{"WC"}
	}
	if len(st.EPCTags) == 0 {
		st.EPCTags = []string{"EPC"}
	}
	return st, nil
}

// SaveSettings upserts a clinic's settings row.
func (s *Store) SaveSettings(ctx context.Context, userID string, st Settings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clinic_settings (user_id, wc_tags, epc_tags, wc_quota, epc_quota, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (user_id) DO UPDATE SET
		    wc_tags=EXCLUDED.wc_tags, epc_tags=EXCLUDED.epc_tags,
		    wc_quota=EXCLUDED.wc_quota, epc_quota=EXCLUDED.epc_quota, updated_at=$6`,
		userID, pq.Array(st.WCTags), pq.Array(st.EPCTags), st.WCQuota, st.EPCQuota, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: save settings: %w", err)
	}
	return nil
}
