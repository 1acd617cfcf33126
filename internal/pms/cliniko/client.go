// Package cliniko implements the pms.Adapter capability set against the
// Cliniko REST API.
//
// Auth is HTTP basic with the API key as username and a blank password.
// List endpoints paginate with a links.next URL that is followed to
// exhaustion. Record references (patient, practitioner, appointment
// type) arrive as nested self links, so ids are extracted from the last
// path segment.
package cliniko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/clinicsync/platform/internal/pms"
)

const defaultBaseURL = "https://api.au1.cliniko.com/v1"

// Client talks to one Cliniko account.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Config holds configuration for the Cliniko client.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// New creates a Cliniko client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, pms.NewError(pms.TypeCliniko, "new", pms.KindCredentialFormat, 0,
			fmt.Errorf("api key is required"))
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: httpClient,
	}, nil
}

// Type implements pms.Adapter.
func (c *Client) Type() pms.Type { return pms.TypeCliniko }

// SupportsBulkAppointments reports that Cliniko can list every
// individual appointment in one paginated sweep.
func (c *Client) SupportsBulkAppointments() bool { return true }

// TestConnection verifies the API key against the cheap /users/me
// endpoint.
func (c *Client) TestConnection(ctx context.Context) error {
	var out struct {
		ID json.Number `json:"id"`
	}
	return c.get(ctx, "test_connection", c.baseURL+"/users/me", &out)
}

type patientPage struct {
	Patients []clinikoPatient `json:"patients"`
	Links    pageLinks        `json:"links"`
}

type clinikoPatient struct {
	ID        json.Number `json:"id"`
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
	Email     string      `json:"email"`
	Phone     string      `json:"patient_phone_number"`
}

type appointmentPage struct {
	Appointments []clinikoAppointment `json:"individual_appointments"`
	Links        pageLinks            `json:"links"`
}

type clinikoAppointment struct {
	ID              json.Number `json:"id"`
	StartsAt        time.Time   `json:"starts_at"`
	CancelledAt     *time.Time  `json:"cancelled_at"`
	DidNotArrive    bool        `json:"did_not_arrive"`
	Patient         linkRef     `json:"patient"`
	Practitioner    linkRef     `json:"practitioner"`
	AppointmentType linkRef     `json:"appointment_type"`
}

type typePage struct {
	AppointmentTypes []clinikoType `json:"appointment_types"`
	Links            pageLinks     `json:"links"`
}

type clinikoType struct {
	ID   json.Number `json:"id"`
	Name string      `json:"name"`
}

type practitionerPage struct {
	Practitioners []clinikoPractitioner `json:"practitioners"`
	Links         pageLinks             `json:"links"`
}

type clinikoPractitioner struct {
	ID          json.Number `json:"id"`
	FirstName   string      `json:"first_name"`
	LastName    string      `json:"last_name"`
	DisplayName string      `json:"display_name"`
}

type pageLinks struct {
	Next string `json:"next"`
}

type linkRef struct {
	Links struct {
		Self string `json:"self"`
	} `json:"links"`
}

// id extracts the referenced record id from the self link.
func (l linkRef) id() string {
	self := strings.TrimSuffix(l.Links.Self, "/")
	if self == "" {
		return ""
	}
	idx := strings.LastIndex(self, "/")
	return self[idx+1:]
}

// GetPatients retrieves the full patient roster.
func (c *Client) GetPatients(ctx context.Context, filter pms.PatientFilter) ([]pms.Patient, error) {
	next := c.baseURL + "/patients?" + filterQuery(filter).Encode()

	var out []pms.Patient
	for next != "" {
		var page patientPage
		if err := c.get(ctx, "get_patients", next, &page); err != nil {
			return nil, err
		}
		for _, p := range page.Patients {
			out = append(out, pms.Patient{
				ExternalID: p.ID.String(),
				FirstName:  p.FirstName,
				LastName:   p.LastName,
				Email:      p.Email,
				Phone:      p.Phone,
			})
		}
		next = page.Links.Next
	}
	return out, nil
}

// GetPatientAppointments retrieves every appointment for one patient.
func (c *Client) GetPatientAppointments(ctx context.Context, externalPatientID string) ([]pms.Appointment, error) {
	q := url.Values{}
	q.Add("q[]", "patient_id:="+externalPatientID)
	next := c.baseURL + "/individual_appointments?" + q.Encode()

	return c.collectAppointments(ctx, "get_patient_appointments", next)
}

// GetAppointmentTypes retrieves the raw appointment-type catalogue.
func (c *Client) GetAppointmentTypes(ctx context.Context) ([]pms.RawType, error) {
	next := c.baseURL + "/appointment_types"

	var out []pms.RawType
	for next != "" {
		var page typePage
		if err := c.get(ctx, "get_appointment_types", next, &page); err != nil {
			return nil, err
		}
		for _, t := range page.AppointmentTypes {
			out = append(out, pms.RawType{ExternalID: t.ID.String(), Name: t.Name})
		}
		next = page.Links.Next
	}
	return out, nil
}

// GetPractitioners retrieves the practitioner roster.
func (c *Client) GetPractitioners(ctx context.Context) ([]pms.Practitioner, error) {
	next := c.baseURL + "/practitioners"

	var out []pms.Practitioner
	for next != "" {
		var page practitionerPage
		if err := c.get(ctx, "get_practitioners", next, &page); err != nil {
			return nil, err
		}
		for _, p := range page.Practitioners {
			name := p.DisplayName
			if name == "" {
				name = strings.TrimSpace(p.FirstName + " " + p.LastName)
			}
			out = append(out, pms.Practitioner{ExternalID: p.ID.String(), DisplayName: name})
		}
		next = page.Links.Next
	}
	return out, nil
}

// GetPatientsWithAppointments fetches the roster and the full
// appointment book in two paginated sweeps, then groups appointments
// onto their patients. Appointments whose patient is not in the roster
// are attached to a stub patient so no record is lost; ones with no
// patient reference at all ride on a stub with an empty external id.
func (c *Client) GetPatientsWithAppointments(ctx context.Context, filter pms.PatientFilter) ([]pms.Patient, error) {
	patients, err := c.GetPatients(ctx, filter)
	if err != nil {
		return nil, err
	}

	appointments, err := c.collectAppointments(ctx, "get_patients_with_appointments",
		c.baseURL+"/individual_appointments")
	if err != nil {
		return nil, err
	}

	byPatient := make(map[string][]pms.Appointment)
	for _, a := range appointments {
		byPatient[a.ExternalPatientID] = append(byPatient[a.ExternalPatientID], a)
	}

	for i := range patients {
		patients[i].Appointments = byPatient[patients[i].ExternalID]
		delete(byPatient, patients[i].ExternalID)
	}
	for externalID, appts := range byPatient {
		patients = append(patients, pms.Patient{ExternalID: externalID, Appointments: appts})
	}

	return patients, nil
}

func (c *Client) collectAppointments(ctx context.Context, op, next string) ([]pms.Appointment, error) {
	var out []pms.Appointment
	for next != "" {
		var page appointmentPage
		if err := c.get(ctx, op, next, &page); err != nil {
			return nil, err
		}
		for _, a := range page.Appointments {
			out = append(out, pms.Appointment{
				ExternalID:             a.ID.String(),
				ExternalPatientID:      a.Patient.id(),
				AppointmentTypeID:      a.AppointmentType.id(),
				ExternalPractitionerID: a.Practitioner.id(),
				Date:                   a.StartsAt,
				Status:                 clinikoStatus(a),
				CancelledAt:            a.CancelledAt,
				DidNotArrive:           a.DidNotArrive,
			})
		}
		next = page.Links.Next
	}
	return out, nil
}

func clinikoStatus(a clinikoAppointment) string {
	switch {
	case a.CancelledAt != nil:
		return "cancelled"
	case a.DidNotArrive:
		return "did_not_arrive"
	default:
		return "booked"
	}
}

func filterQuery(filter pms.PatientFilter) url.Values {
	q := url.Values{}
	if filter.UpdatedSince != nil {
		q.Add("q[]", "updated_at:>"+filter.UpdatedSince.UTC().Format(time.RFC3339))
	}
	if filter.PageSize > 0 {
		q.Set("per_page", fmt.Sprintf("%d", filter.PageSize))
	}
	return q
}

func (c *Client) get(ctx context.Context, op, fullURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return pms.NewError(pms.TypeCliniko, op, pms.KindConnection, 0, err)
	}
	req.SetBasicAuth(c.apiKey, "")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "clinicsync (support@clinicsync.io)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pms.WrapTransport(pms.TypeCliniko, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return pms.FromStatus(pms.TypeCliniko, op, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pms.NewError(pms.TypeCliniko, op, pms.KindMalformedResponse, resp.StatusCode, err)
	}
	return nil
}
