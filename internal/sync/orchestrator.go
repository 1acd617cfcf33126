// Package sync runs the end-to-end PMS synchronization pipeline:
// connect, fetch, classify, persist, derive funding standing, and
// record an audit trail. One run per (user, PMS) at a time.
package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clinicsync/platform/internal/classify"
	"github.com/clinicsync/platform/internal/observability/metrics"
	"github.com/clinicsync/platform/internal/pms"
	"github.com/clinicsync/platform/internal/quota"
	"github.com/clinicsync/platform/internal/store"
	"github.com/clinicsync/platform/internal/vault"
	"github.com/clinicsync/platform/pkg/logging"
)

var syncTracer = otel.Tracer("clinicsync.internal.sync")

// Status names the phase a run is in. Phases advance strictly forward;
// a failure in any phase moves the run to StatusFailed.
type Status string

const (
	StatusConnecting            Status = "connecting"
	StatusFetchingTypes         Status = "fetching_types"
	StatusFetchingPractitioners Status = "fetching_practitioners"
	StatusFetchingPatients      Status = "fetching_patients_and_appointments"
	StatusPersisting            Status = "persisting"
	StatusCompleted             Status = "completed"
	StatusFailed                Status = "failed"
)

// Repository is the persistence surface the orchestrator writes
// through. *store.Store satisfies it.
type Repository interface {
	GetSettings(ctx context.Context, userID string) (store.Settings, error)
	UpsertCredential(ctx context.Context, c *store.Credential) error
	ReplaceTypeCatalog(ctx context.Context, userID, pmsType string, types []pms.RawType) error
	ReplaceMappings(ctx context.Context, userID, pmsType string, mappings []classify.Mapping) error
	UpsertPractitioners(ctx context.Context, userID, pmsType string, practitioners []pms.Practitioner) error
	UpsertPatients(ctx context.Context, userID, pmsType string, patients []pms.Patient) (store.UpsertResult, error)
	UpsertAppointments(ctx context.Context, userID, pmsType string, appts []pms.Appointment) (store.UpsertResult, error)
	ListClassifiedAppointments(ctx context.Context, userID, pmsType string) ([]store.ClassifiedAppointment, error)
	UpdatePatientFunding(ctx context.Context, userID, pmsType, externalPatientID, patientType string, sessionsUsed, quotaCeiling int) error
	RebuildCases(ctx context.Context, userID, pmsType string, wcQuota, epcQuota int) error
	InsertSyncLog(ctx context.Context, log store.SyncLog) error

	// Reclassification works entirely from what earlier runs persisted.
	SaveSettings(ctx context.Context, userID string, st store.Settings) error
	CatalogPMSTypes(ctx context.Context, userID string) ([]string, error)
	ListTypeCatalog(ctx context.Context, userID, pmsType string) ([]pms.RawType, error)
	CountAppointments(ctx context.Context, userID, pmsType string) (int, error)
	CountCases(ctx context.Context, userID string) (store.CaseCounts, error)
}

// AdapterFactory builds a PMS adapter from credentials.
// *factory.Factory satisfies it.
type AdapterFactory interface {
	New(pmsType pms.Type, creds pms.Credentials) (pms.Adapter, error)
}

// Request is one sync invocation.
type Request struct {
	PMSType  pms.Type
	APIKey   string
	BaseURL  string
	ClinicID string
}

// Result is what a finished run reports back to the caller.
type Result struct {
	WCPatients            int      `json:"wcPatients"`
	EPCPatients           int      `json:"epcPatients"`
	TotalAppointments     int      `json:"totalAppointments"`
	AppointmentTypesCount int      `json:"appointmentTypesCount"`
	Issues                []string `json:"issues,omitempty"`
}

// Orchestrator drives full sync runs.
type Orchestrator struct {
	factory AdapterFactory
	repo    Repository
	locker  *Locker
	vault   *vault.Vault
	logger  *logging.Logger
	metrics *metrics.SyncMetrics
}

func NewOrchestrator(factory AdapterFactory, repo Repository, locker *Locker, v *vault.Vault, logger *logging.Logger, m *metrics.SyncMetrics) *Orchestrator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Orchestrator{
		factory: factory,
		repo:    repo,
		locker:  locker,
		vault:   v,
		logger:  logger,
		metrics: m,
	}
}

// Run executes one full sync for (user, request). Concurrent runs for
// the same (user, PMS) are rejected with ErrSyncInProgress. Exactly one
// sync log row is written whatever the outcome, and partial per-record
// failures surface as issues on a completed run rather than failing it.
func (o *Orchestrator) Run(ctx context.Context, userID string, req Request) (Result, error) {
	ctx, span := syncTracer.Start(ctx, "sync.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinicsync.user_id", userID),
		attribute.String("clinicsync.pms_type", string(req.PMSType)),
	)

	release, err := o.locker.Acquire(ctx, userID, string(req.PMSType))
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if releaseErr := release(context.WithoutCancel(ctx)); releaseErr != nil {
			o.logger.Error("sync lock release failed", "error", releaseErr)
		}
	}()

	log := o.logger.WithSync(userID, string(req.PMSType))
	startedAt := time.Now().UTC()
	run := &runState{log: store.SyncLog{
		UserID:    userID,
		PMSType:   string(req.PMSType),
		SyncType:  "full",
		StartedAt: startedAt,
	}}

	result, err := o.run(ctx, userID, req, log, run)

	completedAt := time.Now().UTC()
	run.log.CompletedAt = &completedAt
	if err != nil {
		run.log.Status = string(StatusFailed)
		run.log.ErrorDetails = err.Error()
	} else {
		run.log.Status = string(StatusCompleted)
		if len(result.Issues) > 0 {
			run.log.ErrorDetails = strings.Join(result.Issues, "; ")
		}
	}
	if logErr := o.repo.InsertSyncLog(context.WithoutCancel(ctx), run.log); logErr != nil {
		log.Error("sync log write failed", "error", logErr)
	}

	o.metrics.ObserveRun(string(req.PMSType), run.log.Status, completedAt.Sub(startedAt).Seconds())
	o.metrics.AddIssues(string(req.PMSType), len(result.Issues))

	if err != nil {
		log.Error("sync failed", "error", err, "duration", completedAt.Sub(startedAt).String())
		return Result{}, err
	}
	log.Info("sync completed",
		"wc_patients", result.WCPatients,
		"epc_patients", result.EPCPatients,
		"appointments", result.TotalAppointments,
		"issues", len(result.Issues),
		"duration", completedAt.Sub(startedAt).String())
	return result, nil
}

type runState struct {
	log store.SyncLog
}

func (o *Orchestrator) run(ctx context.Context, userID string, req Request, log *logging.Logger, run *runState) (Result, error) {
	var result Result

	log.Info("sync phase", "status", StatusConnecting)
	adapter, err := o.factory.New(req.PMSType, pms.Credentials{
		APIKey:   req.APIKey,
		BaseURL:  req.BaseURL,
		ClinicID: req.ClinicID,
	})
	if err != nil {
		return result, err
	}
	if err := adapter.TestConnection(ctx); err != nil {
		return result, err
	}
	if err := o.saveCredential(ctx, userID, req); err != nil {
		return result, err
	}

	settings, err := o.repo.GetSettings(ctx, userID)
	if err != nil {
		return result, err
	}
	pmsType := string(req.PMSType)

	log.Info("sync phase", "status", StatusFetchingTypes)
	rawTypes, err := adapter.GetAppointmentTypes(ctx)
	if err != nil {
		return result, err
	}
	if err := o.repo.ReplaceTypeCatalog(ctx, userID, pmsType, rawTypes); err != nil {
		return result, err
	}
	mappings := classify.Types(rawTypes, settings.TagConfig())
	if err := o.repo.ReplaceMappings(ctx, userID, pmsType, mappings); err != nil {
		return result, err
	}
	result.AppointmentTypesCount = len(mappings)

	log.Info("sync phase", "status", StatusFetchingPractitioners)
	practitioners, err := adapter.GetPractitioners(ctx)
	if err != nil {
		return result, err
	}

	log.Info("sync phase", "status", StatusFetchingPatients)
	patients, appointments, fetchIssues, err := o.fetchRoster(ctx, adapter, log)
	if err != nil {
		return result, err
	}
	result.Issues = append(result.Issues, fetchIssues...)

	log.Info("sync phase", "status", StatusPersisting,
		"patients", len(patients), "appointments", len(appointments), "practitioners", len(practitioners))

	// Practitioners and the type catalogue must land before
	// appointments so lookups against them resolve.
	if err := o.repo.UpsertPractitioners(ctx, userID, pmsType, practitioners); err != nil {
		return result, err
	}
	o.metrics.AddUpserted(pmsType, "practitioners", len(practitioners))

	patientRes, err := o.repo.UpsertPatients(ctx, userID, pmsType, patients)
	if err != nil {
		return result, err
	}
	run.log.PatientsProcessed = patientRes.Processed
	run.log.PatientsAdded = patientRes.Added
	result.Issues = append(result.Issues, patientRes.Issues...)
	o.metrics.AddUpserted(pmsType, "patients", patientRes.Processed)

	apptRes, err := o.repo.UpsertAppointments(ctx, userID, pmsType, appointments)
	if err != nil {
		return result, err
	}
	run.log.AppointmentsSynced = apptRes.Processed
	result.TotalAppointments = apptRes.Processed
	result.Issues = append(result.Issues, apptRes.Issues...)
	o.metrics.AddUpserted(pmsType, "appointments", apptRes.Processed)

	wc, epc, err := deriveFunding(ctx, o.repo, userID, pmsType, settings)
	if err != nil {
		return result, err
	}
	result.WCPatients = wc
	result.EPCPatients = epc

	if err := o.repo.RebuildCases(ctx, userID, pmsType, settings.WCQuota, settings.EPCQuota); err != nil {
		return result, err
	}

	return result, nil
}

func (o *Orchestrator) saveCredential(ctx context.Context, userID string, req Request) error {
	sealed, err := o.vault.Encrypt(req.APIKey)
	if err != nil {
		return err
	}
	cred := &store.Credential{
		UserID:          userID,
		PMSType:         string(req.PMSType),
		APIKeyEncrypted: sealed,
		APIURL:          req.BaseURL,
		IsActive:        true,
	}
	if req.ClinicID != "" {
		cred.ClinicID = sql.NullString{String: req.ClinicID, Valid: true}
	}
	return o.repo.UpsertCredential(ctx, cred)
}

// fetchRoster pulls patients and appointments, using the adapter's
// combined fetch when it has one and falling back to per-patient
// appointment calls otherwise. In the fallback, a single patient's
// failed fetch becomes an issue instead of aborting the run.
func (o *Orchestrator) fetchRoster(ctx context.Context, adapter pms.Adapter, log *logging.Logger) ([]pms.Patient, []pms.Appointment, []string, error) {
	if adapter.SupportsBulkAppointments() {
		fetched, err := adapter.GetPatientsWithAppointments(ctx, pms.PatientFilter{})
		if err != nil {
			return nil, nil, nil, err
		}
		// Adapters may carry unattributed appointments on a stub
		// patient with an empty external id. Those appointments still
		// persist (with a null patient link); the stub itself does not.
		var (
			patients     []pms.Patient
			appointments []pms.Appointment
		)
		for _, p := range fetched {
			appointments = append(appointments, p.Appointments...)
			if p.ExternalID != "" {
				patients = append(patients, p)
			}
		}
		return patients, appointments, nil, nil
	}

	patients, err := adapter.GetPatients(ctx, pms.PatientFilter{})
	if err != nil {
		return nil, nil, nil, err
	}

	var (
		appointments []pms.Appointment
		issues       []string
	)
	for _, p := range patients {
		appts, err := adapter.GetPatientAppointments(ctx, p.ExternalID)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, nil, nil, err
			}
			if pms.IsAuth(err) {
				// Credentials went bad mid-run; no point continuing.
				return nil, nil, nil, err
			}
			issues = append(issues, fmt.Sprintf("appointments for patient %s: %v", p.ExternalID, err))
			log.Warn("patient appointment fetch failed", "external_patient_id", p.ExternalID, "error", err)
			continue
		}
		appointments = append(appointments, appts...)
	}
	return patients, appointments, issues, nil
}

// deriveFunding recomputes each patient's funding type and session
// usage from the persisted classified appointments, then writes the
// derived columns back. Patients with no classified appointments are
// left untouched.
func deriveFunding(ctx context.Context, repo Repository, userID, pmsType string, settings store.Settings) (wcPatients, epcPatients int, err error) {
	classified, err := repo.ListClassifiedAppointments(ctx, userID, pmsType)
	if err != nil {
		return 0, 0, err
	}

	byPatient := make(map[string][]quota.Appointment)
	for _, c := range classified {
		byPatient[c.ExternalPatientID] = append(byPatient[c.ExternalPatientID], quota.Appointment{
			Scheme:       classify.Scheme(c.FundingCode),
			Date:         c.Date,
			CancelledAt:  c.CancelledAt,
			DidNotArrive: c.DidNotArrive,
		})
	}

	defaults := quota.Defaults{WCQuota: settings.WCQuota, EPCQuota: settings.EPCQuota}
	now := time.Now().UTC()
	for externalPatientID, appts := range byPatient {
		schemes := make([]classify.Scheme, 0, len(appts))
		for _, a := range appts {
			schemes = append(schemes, a.Scheme)
		}
		scheme, ok := classify.DerivePatientType(schemes)
		if !ok {
			continue
		}
		ent := quota.ForScheme(scheme, appts, defaults, now)
		if err := repo.UpdatePatientFunding(ctx, userID, pmsType, externalPatientID,
			string(scheme), ent.SessionsUsed, ent.Quota); err != nil {
			return 0, 0, err
		}
		switch scheme {
		case classify.SchemeWC:
			wcPatients++
		case classify.SchemeEPC:
			epcPatients++
		}
	}
	return wcPatients, epcPatients, nil
}
