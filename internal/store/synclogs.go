package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SyncLog is one audit row per sync run. Exactly one is written per
// run, whatever the outcome.
type SyncLog struct {
	ID                 uuid.UUID  `json:"id"`
	UserID             string     `json:"userId"`
	PMSType            string     `json:"pmsType"`
	SyncType           string     `json:"syncType"`
	Status             string     `json:"status"`
	PatientsProcessed  int        `json:"patientsProcessed"`
	PatientsAdded      int        `json:"patientsAdded"`
	AppointmentsSynced int        `json:"appointmentsSynced"`
	ErrorDetails       string     `json:"errorDetails,omitempty"`
	StartedAt          time.Time  `json:"startedAt"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
}

// InsertSyncLog writes the audit row for a finished run.
func (s *Store) InsertSyncLog(ctx context.Context, log SyncLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	var errDetails sql.NullString
	if log.ErrorDetails != "" {
		errDetails = sql.NullString{String: log.ErrorDetails, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_logs
		  (id, user_id, pms_type, sync_type, status, patients_processed, patients_added,
		   appointments_synced, error_details, started_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		log.ID, log.UserID, log.PMSType, log.SyncType, log.Status,
		log.PatientsProcessed, log.PatientsAdded, log.AppointmentsSynced,
		errDetails, log.StartedAt, log.CompletedAt)
	if err != nil {
		return fmt.Errorf("store: insert sync log: %w", err)
	}
	return nil
}

// ListSyncLogs returns the user's most recent runs, newest first.
func (s *Store) ListSyncLogs(ctx context.Context, userID string, limit int) ([]SyncLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, pms_type, sync_type, status, patients_processed, patients_added,
		       appointments_synced, error_details, started_at, completed_at
		FROM sync_logs
		WHERE user_id = $1
		ORDER BY started_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list sync logs: %w", err)
	}
	defer rows.Close()

	var out []SyncLog
	for rows.Next() {
		var l SyncLog
		var errDetails sql.NullString
		if err := rows.Scan(&l.ID, &l.UserID, &l.PMSType, &l.SyncType, &l.Status,
			&l.PatientsProcessed, &l.PatientsAdded, &l.AppointmentsSynced,
			&errDetails, &l.StartedAt, &l.CompletedAt); err != nil {
			return nil, fmt.Errorf("store: scan sync log: %w", err)
		}
		l.ErrorDetails = errDetails.String
		out = append(out, l)
	}
	return out, rows.Err()
}
