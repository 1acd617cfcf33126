package store

import (
	"context"
	"fmt"
	"time"

	"github.com/clinicsync/platform/internal/pms"
)

// UpsertResult reports what one bulk write did and which records
// failed. Per-record failures do not abort the write; they accumulate
// as issues so the run can finish with partial success.
type UpsertResult struct {
	Processed int
	Added     int
	Issues    []string
}

// UpsertPatients bulk-upserts the patient roster. A patient row is
// written even when no qualifying appointments exist yet; contact
// fields are refreshed on conflict while the derived columns
// (patient_type, sessions_used, quota) are left untouched.
func (s *Store) UpsertPatients(ctx context.Context, userID, pmsType string, patients []pms.Patient) (UpsertResult, error) {
	var res UpsertResult
	now := time.Now().UTC()

	for start := 0; start < len(patients); start += s.batchSize {
		end := start + s.batchSize
		if end > len(patients) {
			end = len(patients)
		}
		batch := patients[start:end]

		added, err := s.upsertPatientBatch(ctx, userID, pmsType, batch, now)
		if err != nil {
			// Isolate the failing rows so one bad record does not sink
			// the batch.
			for _, p := range batch {
				added, rowErr := s.upsertPatientBatch(ctx, userID, pmsType, []pms.Patient{p}, now)
				if rowErr != nil {
					res.Issues = append(res.Issues,
						fmt.Sprintf("patient %s: %v", p.ExternalID, rowErr))
					continue
				}
				res.Processed++
				res.Added += added
			}
			continue
		}
		res.Processed += len(batch)
		res.Added += added
	}
	return res, nil
}

func (s *Store) upsertPatientBatch(ctx context.Context, userID, pmsType string, batch []pms.Patient, now time.Time) (int, error) {
	args := make([]any, 0, len(batch)*8)
	for _, p := range batch {
		args = append(args, userID, pmsType, p.ExternalID, p.FirstName, p.LastName, p.Email, p.Phone, now)
	}
	query := `INSERT INTO patients (user_id, pms_type, external_patient_id, first_name, last_name, email, phone, updated_at) VALUES ` +
		placeholders(len(batch), 8) +
		` ON CONFLICT (user_id, external_patient_id, pms_type) DO UPDATE SET
		    first_name=EXCLUDED.first_name, last_name=EXCLUDED.last_name,
		    email=EXCLUDED.email, phone=EXCLUDED.phone, updated_at=EXCLUDED.updated_at
		RETURNING (xmax = 0)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("store: upsert patient batch: %w", err)
	}
	defer rows.Close()

	added := 0
	for rows.Next() {
		var inserted bool
		if err := rows.Scan(&inserted); err != nil {
			return added, fmt.Errorf("store: scan upsert result: %w", err)
		}
		if inserted {
			added++
		}
	}
	return added, rows.Err()
}

// UpdatePatientFunding writes the derived funding columns for one
// patient. These are materialized-view values; nothing else may edit
// them.
func (s *Store) UpdatePatientFunding(ctx context.Context, userID, pmsType, externalPatientID, patientType string, sessionsUsed, quotaCeiling int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE patients
		SET patient_type = $4, sessions_used = $5, quota = $6, updated_at = $7
		WHERE user_id = $1 AND pms_type = $2 AND external_patient_id = $3`,
		userID, pmsType, externalPatientID, patientType, sessionsUsed, quotaCeiling, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: update patient funding: %w", err)
	}
	return nil
}

// ClassifiedAppointment is one appointment joined with its funding
// classification, the quota calculator's input.
type ClassifiedAppointment struct {
	ExternalPatientID string
	FundingCode       string
	Date              time.Time
	CancelledAt       *time.Time
	DidNotArrive      bool
}

// ListClassifiedAppointments joins appointments with the stored
// mappings for (user, pms). Appointments whose type never matched a
// tag are absent by construction.
func (s *Store) ListClassifiedAppointments(ctx context.Context, userID, pmsType string) ([]ClassifiedAppointment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.external_patient_id, m.funding_code, a.appointment_date, a.cancelled_at, a.did_not_arrive
		FROM appointments a
		JOIN appointment_type_mappings m
		  ON m.user_id = a.user_id AND m.pms_type = a.pms_type AND m.external_type_id = a.appointment_type_id
		WHERE a.user_id = $1 AND a.pms_type = $2 AND a.external_patient_id <> ''
		ORDER BY a.external_patient_id, a.appointment_date`, userID, pmsType)
	if err != nil {
		return nil, fmt.Errorf("store: list classified appointments: %w", err)
	}
	defer rows.Close()

	var out []ClassifiedAppointment
	for rows.Next() {
		var c ClassifiedAppointment
		if err := rows.Scan(&c.ExternalPatientID, &c.FundingCode, &c.Date, &c.CancelledAt, &c.DidNotArrive); err != nil {
			return nil, fmt.Errorf("store: scan classified appointment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
