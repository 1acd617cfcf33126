package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/clinicsync/platform/internal/pms"
)

// UpsertAppointments bulk-upserts appointments. The internal patient_id
// link is resolved by subquery against the already-persisted roster and
// left NULL for orphans, so an appointment referencing an unknown
// patient still lands instead of failing the run.
func (s *Store) UpsertAppointments(ctx context.Context, userID, pmsType string, appts []pms.Appointment) (UpsertResult, error) {
	var res UpsertResult
	now := time.Now().UTC()

	for start := 0; start < len(appts); start += s.batchSize {
		end := start + s.batchSize
		if end > len(appts) {
			end = len(appts)
		}
		batch := appts[start:end]

		added, err := s.upsertAppointmentBatch(ctx, userID, pmsType, batch, now)
		if err != nil {
			for _, a := range batch {
				added, rowErr := s.upsertAppointmentBatch(ctx, userID, pmsType, []pms.Appointment{a}, now)
				if rowErr != nil {
					res.Issues = append(res.Issues,
						fmt.Sprintf("appointment %s: %v", a.ExternalID, rowErr))
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

func (s *Store) upsertAppointmentBatch(ctx context.Context, userID, pmsType string, batch []pms.Appointment, now time.Time) (int, error) {
	args := make([]any, 0, len(batch)*11)
	for _, a := range batch {
		args = append(args,
			userID, pmsType, a.ExternalID, a.ExternalPatientID, a.AppointmentTypeID,
			a.ExternalPractitionerID, a.Date, a.Status, a.CancelledAt, a.DidNotArrive, now)
	}
	query := `INSERT INTO appointments
		  (user_id, pms_type, external_appointment_id, external_patient_id, appointment_type_id,
		   external_practitioner_id, appointment_date, status, cancelled_at, did_not_arrive, updated_at, patient_id)
		SELECT v.user_id, v.pms_type, v.external_appointment_id, v.external_patient_id, v.appointment_type_id,
		       v.external_practitioner_id, v.appointment_date, v.status, v.cancelled_at, v.did_not_arrive, v.updated_at,
		       p.id
		FROM (VALUES ` + appointmentValues(len(batch)) + `) AS v
		  (user_id, pms_type, external_appointment_id, external_patient_id, appointment_type_id,
		   external_practitioner_id, appointment_date, status, cancelled_at, did_not_arrive, updated_at)
		LEFT JOIN patients p
		  ON p.user_id = v.user_id AND p.pms_type = v.pms_type AND p.external_patient_id = v.external_patient_id
		ON CONFLICT (user_id, external_appointment_id, pms_type) DO UPDATE SET
		    external_patient_id=EXCLUDED.external_patient_id,
		    appointment_type_id=EXCLUDED.appointment_type_id,
		    external_practitioner_id=EXCLUDED.external_practitioner_id,
		    appointment_date=EXCLUDED.appointment_date,
		    status=EXCLUDED.status,
		    cancelled_at=EXCLUDED.cancelled_at,
		    did_not_arrive=EXCLUDED.did_not_arrive,
		    updated_at=EXCLUDED.updated_at,
		    patient_id=EXCLUDED.patient_id
		RETURNING (xmax = 0)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("store: upsert appointment batch: %w", err)
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

// appointmentValues renders a VALUES list with the casts Postgres needs
// to type bare placeholders inside a FROM (VALUES ...) clause.
func appointmentValues(rowCount int) string {
	const cols = 11
	casts := [cols]string{
		"::text", "::text", "::text", "::text", "::text",
		"::text", "::timestamptz", "::text", "::timestamptz", "::boolean", "::timestamptz",
	}
	var b strings.Builder
	arg := 1
	for r := 0; r < rowCount; r++ {
		if r > 0 {
			b.WriteString(",")
		}
		b.WriteString("(")
		for c := 0; c < cols; c++ {
			if c > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, "$%d%s", arg, casts[c])
			arg++
		}
		b.WriteString(")")
	}
	return b.String()
}

// CountAppointments returns how many appointments are stored for
// (user, pms).
func (s *Store) CountAppointments(ctx context.Context, userID, pmsType string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM appointments WHERE user_id = $1 AND pms_type = $2`,
		userID, pmsType).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count appointments: %w", err)
	}
	return n, nil
}
