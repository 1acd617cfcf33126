package cliniko

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/clinicsync/platform/internal/pms"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(Config{BaseURL: server.URL, APIKey: "test-key"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return server, client
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(Config{APIKey: "   "}); !pms.IsCredentialFormat(err) {
		t.Fatalf("err = %v, want credential format error", err)
	}
}

func TestGetPatientsFollowsPagination(t *testing.T) {
	var server *httptest.Server
	server, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		user, _, ok := r.BasicAuth()
		if !ok || user != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("page") {
		case "", "1":
			fmt.Fprintf(w, `{
				"patients": [
					{"id": 101, "first_name": "Alice", "last_name": "Wong", "email": "alice@example.com"},
					{"id": 102, "first_name": "Bob", "last_name": "Reid"}
				],
				"links": {"next": %q}
			}`, server.URL+"/patients?page=2")
		case "2":
			fmt.Fprint(w, `{
				"patients": [{"id": 103, "first_name": "Cara", "last_name": "Singh"}],
				"links": {}
			}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	patients, err := client.GetPatients(context.Background(), pms.PatientFilter{})
	if err != nil {
		t.Fatalf("GetPatients: %v", err)
	}
	if len(patients) != 3 {
		t.Fatalf("got %d patients, want 3", len(patients))
	}
	if patients[0].ExternalID != "101" || patients[0].FirstName != "Alice" {
		t.Errorf("first patient = %+v", patients[0])
	}
	if patients[2].ExternalID != "103" {
		t.Errorf("last patient = %+v", patients[2])
	}
}

func TestGetPatientAppointmentsMapsLinkedRecords(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/individual_appointments" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if q := r.URL.Query()["q[]"]; len(q) != 1 || q[0] != "patient_id:=101" {
			t.Errorf("unexpected filter %v", r.URL.Query())
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"individual_appointments": [
				{
					"id": 9001,
					"starts_at": "2024-03-04T10:00:00Z",
					"did_not_arrive": false,
					"patient": {"links": {"self": "https://api.au1.cliniko.com/v1/patients/101"}},
					"practitioner": {"links": {"self": "https://api.au1.cliniko.com/v1/practitioners/7"}},
					"appointment_type": {"links": {"self": "https://api.au1.cliniko.com/v1/appointment_types/44"}}
				},
				{
					"id": 9002,
					"starts_at": "2024-03-11T10:00:00Z",
					"cancelled_at": "2024-03-10T08:00:00Z",
					"did_not_arrive": false,
					"patient": {"links": {"self": "https://api.au1.cliniko.com/v1/patients/101"}},
					"practitioner": {"links": {"self": "https://api.au1.cliniko.com/v1/practitioners/7"}},
					"appointment_type": {"links": {"self": "https://api.au1.cliniko.com/v1/appointment_types/44"}}
				}
			],
			"links": {}
		}`)
	})

	appts, err := client.GetPatientAppointments(context.Background(), "101")
	if err != nil {
		t.Fatalf("GetPatientAppointments: %v", err)
	}
	if len(appts) != 2 {
		t.Fatalf("got %d appointments, want 2", len(appts))
	}

	first := appts[0]
	if first.ExternalID != "9001" || first.ExternalPatientID != "101" ||
		first.AppointmentTypeID != "44" || first.ExternalPractitionerID != "7" {
		t.Errorf("mapped appointment = %+v", first)
	}
	if first.CancelledAt != nil || first.Status != "booked" {
		t.Errorf("first appointment should be booked, got %+v", first)
	}
	if appts[1].CancelledAt == nil || appts[1].Status != "cancelled" {
		t.Errorf("second appointment should be cancelled, got %+v", appts[1])
	}
}

func TestGetPatientsWithAppointmentsGroups(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/patients":
			fmt.Fprint(w, `{"patients": [{"id": 101, "first_name": "Alice", "last_name": "Wong"}], "links": {}}`)
		case "/individual_appointments":
			fmt.Fprint(w, `{
				"individual_appointments": [
					{"id": 1, "starts_at": "2024-01-01T09:00:00Z",
					 "patient": {"links": {"self": "/patients/101"}},
					 "practitioner": {"links": {"self": "/practitioners/7"}},
					 "appointment_type": {"links": {"self": "/appointment_types/44"}}},
					{"id": 2, "starts_at": "2024-01-02T09:00:00Z",
					 "patient": {"links": {"self": "/patients/999"}},
					 "practitioner": {"links": {"self": "/practitioners/7"}},
					 "appointment_type": {"links": {"self": "/appointment_types/44"}}}
				],
				"links": {}
			}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	if !client.SupportsBulkAppointments() {
		t.Fatal("cliniko should support bulk appointments")
	}

	patients, err := client.GetPatientsWithAppointments(context.Background(), pms.PatientFilter{})
	if err != nil {
		t.Fatalf("GetPatientsWithAppointments: %v", err)
	}
	if len(patients) != 2 {
		t.Fatalf("got %d patients, want 2 (roster + stub for orphan)", len(patients))
	}
	if len(patients[0].Appointments) != 1 {
		t.Errorf("roster patient should have 1 appointment, got %d", len(patients[0].Appointments))
	}
	if patients[1].ExternalID != "999" || len(patients[1].Appointments) != 1 {
		t.Errorf("stub patient = %+v", patients[1])
	}
}

func TestBulkFetchKeepsUnattributedAppointments(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/patients":
			fmt.Fprint(w, `{"patients": [{"id": 101, "first_name": "Alice", "last_name": "Wong"}], "links": {}}`)
		case "/individual_appointments":
			fmt.Fprint(w, `{
				"individual_appointments": [
					{"id": 1, "starts_at": "2024-01-01T09:00:00Z",
					 "patient": {"links": {"self": "/patients/101"}},
					 "practitioner": {"links": {"self": "/practitioners/7"}},
					 "appointment_type": {"links": {"self": "/appointment_types/44"}}},
					{"id": 2, "starts_at": "2024-01-02T09:00:00Z",
					 "patient": {},
					 "practitioner": {"links": {"self": "/practitioners/7"}},
					 "appointment_type": {"links": {"self": "/appointment_types/44"}}}
				],
				"links": {}
			}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	patients, err := client.GetPatientsWithAppointments(context.Background(), pms.PatientFilter{})
	if err != nil {
		t.Fatalf("GetPatientsWithAppointments: %v", err)
	}
	if len(patients) != 2 {
		t.Fatalf("got %d patients, want 2 (roster + empty-id stub)", len(patients))
	}

	// The appointment with no patient link must survive the grouping
	// on a stub with an empty external id.
	var stub *pms.Patient
	for i := range patients {
		if patients[i].ExternalID == "" {
			stub = &patients[i]
		}
	}
	if stub == nil {
		t.Fatal("unattributed appointment was dropped")
	}
	if len(stub.Appointments) != 1 || stub.Appointments[0].ExternalID != "2" {
		t.Errorf("stub appointments = %+v", stub.Appointments)
	}
}

func TestAuthFailureSurfacesAsAuthError(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"message": "invalid api key"})
	})

	err := client.TestConnection(context.Background())
	if !pms.IsAuth(err) {
		t.Fatalf("err = %v, want auth error", err)
	}
	if pms.IsRetryable(err) {
		t.Error("auth failure must not be retryable")
	}
}

func TestServerErrorIsRetryable(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.GetAppointmentTypes(context.Background())
	if !pms.IsRetryable(err) {
		t.Fatalf("err = %v, want retryable connection error", err)
	}
}

func TestEmptyRosterIsNotAnError(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"patients": [], "links": {}}`)
	})

	patients, err := client.GetPatients(context.Background(), pms.PatientFilter{})
	if err != nil {
		t.Fatalf("GetPatients: %v", err)
	}
	if len(patients) != 0 {
		t.Errorf("got %d patients, want 0", len(patients))
	}
}
