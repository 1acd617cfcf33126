package store

import (
	"context"
	"fmt"
)

// CaseCounts summarizes the rebuilt program cases for a clinic.
type CaseCounts struct {
	WCPatients   int `json:"wcPatients"`
	EPCPatients  int `json:"epcPatients"`
	ActionNeeded int `json:"actionNeeded"`
	Overdue      int `json:"overdue"`
}

// RebuildCases derives one case row per patient for (user, pms) from
// the persisted appointments and mappings, replacing whatever was
// there. A patient with sessions under both programs resolves to WC,
// matching how patient_type is derived, so the same patient is never
// reported under both schemes. Everything is computed in one statement
// so the case rows can never drift from the appointment data they
// summarize.
//
// A session counts toward usage when it was not cancelled, the patient
// arrived, and the date is not in the future. Workers' compensation
// usage is lifetime; enhanced-primary-care usage covers only the
// calendar year of the patient's most recent counted EPC session.
// Years are taken in UTC to match the quota calculator.
func (s *Store) RebuildCases(ctx context.Context, userID, pmsType string, wcQuota, epcQuota int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin case rebuild: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM patient_cases WHERE user_id = $1 AND pms_type = $2`,
		userID, pmsType); err != nil {
		return fmt.Errorf("store: clear cases: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		WITH classified AS (
		    SELECT a.patient_id,
		           m.funding_code,
		           a.appointment_date,
		           (a.cancelled_at IS NOT NULL) AS cancelled,
		           (a.cancelled_at IS NULL AND NOT a.did_not_arrive AND a.appointment_date <= now()) AS counts
		    FROM appointments a
		    JOIN appointment_type_mappings m
		      ON m.user_id = a.user_id AND m.pms_type = a.pms_type AND m.external_type_id = a.appointment_type_id
		    WHERE a.user_id = $1 AND a.pms_type = $2 AND a.patient_id IS NOT NULL
		),
		anchors AS (
		    SELECT patient_id, funding_code,
		           date_part('year', (MAX(appointment_date) FILTER (WHERE counts)) AT TIME ZONE 'UTC') AS anchor_year
		    FROM classified
		    GROUP BY patient_id, funding_code
		),
		usage AS (
		    SELECT c.patient_id, c.funding_code,
		           COUNT(*) FILTER (WHERE c.counts AND (
		               c.funding_code <> 'EPC' OR date_part('year', c.appointment_date AT TIME ZONE 'UTC') = a.anchor_year
		           )) AS sessions_used,
		           MAX(c.appointment_date) FILTER (WHERE c.counts) AS last_visit_at,
		           MIN(c.appointment_date) FILTER (WHERE c.appointment_date > now() AND NOT c.cancelled) AS next_visit_at
		    FROM classified c
		    JOIN anchors a USING (patient_id, funding_code)
		    GROUP BY c.patient_id, c.funding_code, a.anchor_year
		)
		INSERT INTO patient_cases
		  (user_id, patient_id, pms_type, program_type, sessions_used, quota,
		   sessions_remaining, last_visit_at, next_visit_at, action_needed, overdue, updated_at)
		SELECT DISTINCT ON (u.patient_id)
		       $1, u.patient_id, $2, u.funding_code, u.sessions_used,
		       CASE u.funding_code WHEN 'WC' THEN $3::int ELSE $4::int END,
		       GREATEST(CASE u.funding_code WHEN 'WC' THEN $3::int ELSE $4::int END - u.sessions_used, 0),
		       u.last_visit_at, u.next_visit_at,
		       GREATEST(CASE u.funding_code WHEN 'WC' THEN $3::int ELSE $4::int END - u.sessions_used, 0) <= 1,
		       u.last_visit_at IS NOT NULL
		         AND u.last_visit_at < now() - interval '60 days'
		         AND u.next_visit_at IS NULL,
		       now()
		FROM usage u
		ORDER BY u.patient_id, (u.funding_code = 'WC') DESC`,
		userID, pmsType, wcQuota, epcQuota); err != nil {
		return fmt.Errorf("store: rebuild cases: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit case rebuild: %w", err)
	}
	return nil
}

// CountCases summarizes the stored cases for a clinic across all of
// its PMS connections.
func (s *Store) CountCases(ctx context.Context, userID string) (CaseCounts, error) {
	var c CaseCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT patient_id) FILTER (WHERE program_type = 'WC'),
		       COUNT(DISTINCT patient_id) FILTER (WHERE program_type = 'EPC'),
		       COUNT(*) FILTER (WHERE action_needed),
		       COUNT(*) FILTER (WHERE overdue)
		FROM patient_cases WHERE user_id = $1`, userID).Scan(
		&c.WCPatients, &c.EPCPatients, &c.ActionNeeded, &c.Overdue)
	if err != nil {
		return CaseCounts{}, fmt.Errorf("store: count cases: %w", err)
	}
	return c, nil
}
