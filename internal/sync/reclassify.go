package sync

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/clinicsync/platform/internal/classify"
	"github.com/clinicsync/platform/internal/store"
	"github.com/clinicsync/platform/pkg/logging"
)

// RefreshCounts is what a settings change reports back: the clinic's
// standing recomputed under the new vocabulary, derived from the
// rebuilt case rows rather than tracked incrementally.
type RefreshCounts struct {
	WCPatients        int `json:"wcPatients"`
	EPCPatients       int `json:"epcPatients"`
	TotalAppointments int `json:"totalAppointments"`
	ActionNeeded      int `json:"actionNeededPatients"`
	Overdue           int `json:"overduePatientsCount"`
}

// Reclassifier reapplies a changed tag vocabulary to the stored raw
// type catalogue, with no PMS traffic. Everything it needs was
// persisted by earlier sync runs.
type Reclassifier struct {
	repo   Repository
	logger *logging.Logger
}

func NewReclassifier(repo Repository, logger *logging.Logger) *Reclassifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &Reclassifier{repo: repo, logger: logger}
}

// Apply saves the new settings, reclassifies every stored catalogue
// the user has, recomputes funding standing and cases under the new
// vocabulary, and reports the resulting counts.
func (r *Reclassifier) Apply(ctx context.Context, userID string, settings store.Settings) (RefreshCounts, error) {
	ctx, span := syncTracer.Start(ctx, "sync.reclassify")
	defer span.End()
	span.SetAttributes(attribute.String("clinicsync.user_id", userID))

	started := time.Now()
	if err := r.repo.SaveSettings(ctx, userID, settings); err != nil {
		return RefreshCounts{}, err
	}

	pmsTypes, err := r.repo.CatalogPMSTypes(ctx, userID)
	if err != nil {
		return RefreshCounts{}, err
	}

	var counts RefreshCounts
	for _, pmsType := range pmsTypes {
		raw, err := r.repo.ListTypeCatalog(ctx, userID, pmsType)
		if err != nil {
			return RefreshCounts{}, err
		}
		mappings := classify.Types(raw, settings.TagConfig())
		if err := r.repo.ReplaceMappings(ctx, userID, pmsType, mappings); err != nil {
			return RefreshCounts{}, err
		}

		if _, _, err := deriveFunding(ctx, r.repo, userID, pmsType, settings); err != nil {
			return RefreshCounts{}, err
		}
		if err := r.repo.RebuildCases(ctx, userID, pmsType, settings.WCQuota, settings.EPCQuota); err != nil {
			return RefreshCounts{}, err
		}

		apptCount, err := r.repo.CountAppointments(ctx, userID, pmsType)
		if err != nil {
			return RefreshCounts{}, err
		}
		counts.TotalAppointments += apptCount
	}

	caseCounts, err := r.repo.CountCases(ctx, userID)
	if err != nil {
		return RefreshCounts{}, err
	}
	counts.WCPatients = caseCounts.WCPatients
	counts.EPCPatients = caseCounts.EPCPatients
	counts.ActionNeeded = caseCounts.ActionNeeded
	counts.Overdue = caseCounts.Overdue

	r.logger.Info("reclassification applied",
		"user_id", userID,
		"pms_count", len(pmsTypes),
		"wc_patients", counts.WCPatients,
		"epc_patients", counts.EPCPatients,
		"duration", time.Since(started).String())
	return counts, nil
}
