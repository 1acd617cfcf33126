package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicsync/platform/internal/classify"
	"github.com/clinicsync/platform/internal/pms"
	"github.com/clinicsync/platform/internal/store"
)

func TestReclassify_AppliesNewVocabulary(t *testing.T) {
	past := time.Now().Add(-72 * time.Hour)
	repo := newFakeRepo()
	// State left behind by an earlier sync run: a stored catalogue,
	// mappings under the default vocabulary, and appointments.
	repo.catalog = []pms.RawType{
		{ExternalID: "t1", Name: "WorkCover Initial"},
		{ExternalID: "t2", Name: "Care Plan Review"},
		{ExternalID: "t3", Name: "Standard Consult"},
	}
	repo.mappings = []classify.Mapping{}
	repo.appts = []pms.Appointment{
		{ExternalID: "a1", ExternalPatientID: "p1", AppointmentTypeID: "t1", Date: past},
		{ExternalID: "a2", ExternalPatientID: "p2", AppointmentTypeID: "t2", Date: past},
		{ExternalID: "a3", ExternalPatientID: "p3", AppointmentTypeID: "t3", Date: past},
	}

	r := NewReclassifier(repo, nil)
	counts, err := r.Apply(context.Background(), "user-1", store.Settings{
		WCTags:   []string{"WorkCover"},
		EPCTags:  []string{"Care Plan"},
		WCQuota:  8,
		EPCQuota: 5,
	})
	require.NoError(t, err)

	// t1 and t2 now match; t3 stays unmatched and classifies nothing.
	require.Len(t, repo.mappings, 2)
	assert.Equal(t, 1, counts.WCPatients)
	assert.Equal(t, 1, counts.EPCPatients)
	assert.Equal(t, 3, counts.TotalAppointments)
	assert.True(t, repo.casesBuilt)
	assert.Equal(t, "WC", repo.funding["p1"])
	assert.Equal(t, "EPC", repo.funding["p2"])
	_, touched := repo.funding["p3"]
	assert.False(t, touched)
}

func TestReclassify_DualSchemePatientCountedOnceUnderWC(t *testing.T) {
	past := time.Now().Add(-72 * time.Hour)
	repo := newFakeRepo()
	repo.catalog = []pms.RawType{
		{ExternalID: "t1", Name: "WC Initial"},
		{ExternalID: "t2", Name: "EPC Review"},
	}
	// p1 has sessions under both programs; the tag update must report
	// it once, under WC, never under both.
	repo.appts = []pms.Appointment{
		{ExternalID: "a1", ExternalPatientID: "p1", AppointmentTypeID: "t1", Date: past},
		{ExternalID: "a2", ExternalPatientID: "p1", AppointmentTypeID: "t2", Date: past},
		{ExternalID: "a3", ExternalPatientID: "p1", AppointmentTypeID: "t2", Date: past},
	}

	r := NewReclassifier(repo, nil)
	counts, err := r.Apply(context.Background(), "user-1", store.DefaultSettings())
	require.NoError(t, err)

	assert.Equal(t, 1, counts.WCPatients)
	assert.Zero(t, counts.EPCPatients)
	assert.Equal(t, "WC", repo.funding["p1"])
}

func TestReclassify_NoCatalogueIsANoop(t *testing.T) {
	repo := newFakeRepo()
	r := NewReclassifier(repo, nil)

	counts, err := r.Apply(context.Background(), "user-1", store.DefaultSettings())
	require.NoError(t, err)
	assert.Zero(t, counts.TotalAppointments)
	assert.False(t, repo.casesBuilt)
}

func TestReclassify_EmptiedVocabularyDropsMappings(t *testing.T) {
	past := time.Now().Add(-24 * time.Hour)
	repo := newFakeRepo()
	repo.catalog = []pms.RawType{{ExternalID: "t1", Name: "WC Initial"}}
	repo.mappings = []classify.Mapping{{ExternalTypeID: "t1", DisplayName: "WC Initial", Scheme: classify.SchemeWC}}
	repo.appts = []pms.Appointment{
		{ExternalID: "a1", ExternalPatientID: "p1", AppointmentTypeID: "t1", Date: past},
	}

	r := NewReclassifier(repo, nil)
	counts, err := r.Apply(context.Background(), "user-1", store.Settings{
		WCTags:   []string{"Totally Different"},
		EPCTags:  []string{"Also Different"},
		WCQuota:  8,
		EPCQuota: 5,
	})
	require.NoError(t, err)

	assert.Empty(t, repo.mappings)
	assert.Zero(t, counts.WCPatients)
	assert.Zero(t, counts.EPCPatients)
	// The appointment itself stays stored; only its classification went.
	assert.Equal(t, 1, counts.TotalAppointments)
}
