package nookal

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/clinicsync/platform/internal/pms"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(Config{BaseURL: server.URL, APIKey: "nk-key", ClinicID: "1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func envelopeBody(results string) string {
	return fmt.Sprintf(`{"status": "success", "data": {"results": %s, "details": {"totalItems": "0"}}}`, results)
}

func TestGetPatientsPaginates(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api_key") != "nk-key" {
			t.Errorf("api_key not sent: %v", r.URL.Query())
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("page") {
		case "1":
			// Full page forces a second fetch.
			patients := `[`
			for i := 0; i < 200; i++ {
				if i > 0 {
					patients += ","
				}
				patients += fmt.Sprintf(`{"ID": "%d", "FirstName": "P", "LastName": "%d"}`, i+1, i+1)
			}
			patients += `]`
			fmt.Fprint(w, envelopeBody(`{"patients": `+patients+`}`))
		case "2":
			fmt.Fprint(w, envelopeBody(`{"patients": [{"ID": "201", "FirstName": "Last", "LastName": "One", "Mobile": "0400000000"}]}`))
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	})

	patients, err := client.GetPatients(context.Background(), pms.PatientFilter{})
	if err != nil {
		t.Fatalf("GetPatients: %v", err)
	}
	if len(patients) != 201 {
		t.Fatalf("got %d patients, want 201", len(patients))
	}
	if patients[200].ExternalID != "201" || patients[200].Phone != "0400000000" {
		t.Errorf("last patient = %+v", patients[200])
	}
}

func TestGetAppointmentsMapsFlagsAndDates(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/getAppointments" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("patient_id") != "55" {
			t.Errorf("patient_id not sent")
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, envelopeBody(`{"appointments": [
			{"ID": "1", "patientID": "55", "practitionerID": "9", "appointmentTypeID": "3",
			 "appointmentDate": "2024-05-01", "appointmentStartTime": "10:30:00", "status": "Completed"},
			{"ID": "2", "patientID": "55", "practitionerID": "9", "appointmentTypeID": "3",
			 "appointmentDate": "2024-05-08", "appointmentStartTime": "10:30:00",
			 "cancelled": "1", "cancellationDate": "2024-05-07 09:00:00"},
			{"ID": "3", "patientID": "55", "practitionerID": "9", "appointmentTypeID": "3",
			 "appointmentDate": "2024-05-15", "appointmentStartTime": "10:30:00", "DNA": "1"}
		]}`))
	})

	appts, err := client.GetPatientAppointments(context.Background(), "55")
	if err != nil {
		t.Fatalf("GetPatientAppointments: %v", err)
	}
	if len(appts) != 3 {
		t.Fatalf("got %d appointments, want 3", len(appts))
	}

	want := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	if !appts[0].Date.Equal(want) {
		t.Errorf("date = %s, want %s", appts[0].Date, want)
	}
	if appts[0].CancelledAt != nil || appts[0].DidNotArrive {
		t.Errorf("first appointment should be clean: %+v", appts[0])
	}
	if appts[1].CancelledAt == nil {
		t.Error("second appointment should carry cancellation")
	} else if !appts[1].CancelledAt.Equal(time.Date(2024, 5, 7, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("cancelled_at = %s", appts[1].CancelledAt)
	}
	if !appts[2].DidNotArrive {
		t.Error("third appointment should be DNA")
	}
}

func TestEnvelopeFailureClassifiesAuth(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status": "failure", "message": "invalid API key supplied", "data": null}`)
	})

	err := client.TestConnection(context.Background())
	if !pms.IsAuth(err) {
		t.Fatalf("err = %v, want auth error", err)
	}
}

func TestBulkFetchAttachesOrphans(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/getPatients":
			fmt.Fprint(w, envelopeBody(`{"patients": [{"ID": "55", "FirstName": "Nina", "LastName": "Kaur"}]}`))
		case "/getAppointments":
			fmt.Fprint(w, envelopeBody(`{"appointments": [
				{"ID": "1", "patientID": "55", "practitionerID": "9", "appointmentTypeID": "3",
				 "appointmentDate": "2024-05-01", "appointmentStartTime": "09:00:00"},
				{"ID": "2", "patientID": "77", "practitionerID": "9", "appointmentTypeID": "3",
				 "appointmentDate": "2024-05-02", "appointmentStartTime": "09:00:00"}
			]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	if !client.SupportsBulkAppointments() {
		t.Fatal("nookal should support bulk appointments")
	}

	patients, err := client.GetPatientsWithAppointments(context.Background(), pms.PatientFilter{})
	if err != nil {
		t.Fatalf("GetPatientsWithAppointments: %v", err)
	}
	if len(patients) != 2 {
		t.Fatalf("got %d patients, want roster patient + orphan stub", len(patients))
	}
	if len(patients[0].Appointments) != 1 {
		t.Errorf("roster patient appointments = %d, want 1", len(patients[0].Appointments))
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(Config{}); !pms.IsCredentialFormat(err) {
		t.Fatalf("err = %v, want credential format error", err)
	}
}
