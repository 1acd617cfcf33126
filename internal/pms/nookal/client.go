// Package nookal implements the pms.Adapter capability set against the
// Nookal REST API.
//
// Auth is a query-parameter API key on every request. Responses wrap
// their payload in a {status, data: {results, details}} envelope, and
// list endpoints paginate with page/page_length counters. Dates arrive
// as "2006-01-02 15:04:05" strings in the clinic's timezone; they are
// parsed as UTC, which is the same convention the sync store uses for
// comparisons.
package nookal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/clinicsync/platform/internal/pms"
)

const (
	defaultBaseURL  = "https://api.nookal.com/production/v2"
	defaultPageSize = 200
)

// Client talks to one Nookal account.
type Client struct {
	baseURL    string
	apiKey     string
	clinicID   string
	httpClient *http.Client
}

// Config holds configuration for the Nookal client.
type Config struct {
	BaseURL    string
	APIKey     string
	ClinicID   string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// New creates a Nookal client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, pms.NewError(pms.TypeNookal, "new", pms.KindCredentialFormat, 0,
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
		clinicID:   strings.TrimSpace(cfg.ClinicID),
		httpClient: httpClient,
	}, nil
}

// Type implements pms.Adapter.
func (c *Client) Type() pms.Type { return pms.TypeNookal }

// SupportsBulkAppointments reports that Nookal exposes a clinic-wide
// appointment listing.
func (c *Client) SupportsBulkAppointments() bool { return true }

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type resultsEnvelope struct {
	Results json.RawMessage `json:"results"`
	Details struct {
		TotalItems json.Number `json:"totalItems"`
	} `json:"details"`
}

// TestConnection verifies the API key against the location listing.
func (c *Client) TestConnection(ctx context.Context) error {
	q := url.Values{}
	_, err := c.get(ctx, "test_connection", "/getLocations", q)
	return err
}

type nookalPatient struct {
	ID        json.Number `json:"ID"`
	FirstName string      `json:"FirstName"`
	LastName  string      `json:"LastName"`
	Email     string      `json:"Email"`
	Mobile    string      `json:"Mobile"`
}

type nookalAppointment struct {
	ID                json.Number `json:"ID"`
	PatientID         json.Number `json:"patientID"`
	PractitionerID    json.Number `json:"practitionerID"`
	AppointmentTypeID json.Number `json:"appointmentTypeID"`
	Date              string      `json:"appointmentDate"`
	StartTime         string      `json:"appointmentStartTime"`
	Status            string      `json:"status"`
	Cancelled         string      `json:"cancelled"`
	CancellationDate  string      `json:"cancellationDate"`
	DNA               string      `json:"DNA"`
}

type nookalType struct {
	ID   json.Number `json:"ID"`
	Name string      `json:"Name"`
}

type nookalPractitioner struct {
	ID        json.Number `json:"ID"`
	FirstName string      `json:"FirstName"`
	LastName  string      `json:"LastName"`
	Title     string      `json:"Title"`
}

// GetPatients retrieves the full patient roster.
func (c *Client) GetPatients(ctx context.Context, filter pms.PatientFilter) ([]pms.Patient, error) {
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	var out []pms.Patient
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("page_length", strconv.Itoa(pageSize))
		if filter.UpdatedSince != nil {
			q.Set("last_modified", filter.UpdatedSince.UTC().Format("2006-01-02 15:04:05"))
		}

		results, err := c.get(ctx, "get_patients", "/getPatients", q)
		if err != nil {
			return nil, err
		}

		var body struct {
			Patients []nookalPatient `json:"patients"`
		}
		if err := json.Unmarshal(results, &body); err != nil {
			return nil, pms.NewError(pms.TypeNookal, "get_patients", pms.KindMalformedResponse, 0, err)
		}

		for _, p := range body.Patients {
			out = append(out, pms.Patient{
				ExternalID: p.ID.String(),
				FirstName:  p.FirstName,
				LastName:   p.LastName,
				Email:      p.Email,
				Phone:      p.Mobile,
			})
		}
		if len(body.Patients) < pageSize {
			return out, nil
		}
	}
}

// GetPatientAppointments retrieves every appointment for one patient.
func (c *Client) GetPatientAppointments(ctx context.Context, externalPatientID string) ([]pms.Appointment, error) {
	q := url.Values{}
	q.Set("patient_id", externalPatientID)
	return c.collectAppointments(ctx, "get_patient_appointments", q)
}

// GetAppointmentTypes retrieves the raw appointment-type catalogue.
func (c *Client) GetAppointmentTypes(ctx context.Context) ([]pms.RawType, error) {
	results, err := c.get(ctx, "get_appointment_types", "/getAppointmentTypes", url.Values{})
	if err != nil {
		return nil, err
	}

	var body struct {
		AppointmentTypes []nookalType `json:"appointmentTypes"`
	}
	if err := json.Unmarshal(results, &body); err != nil {
		return nil, pms.NewError(pms.TypeNookal, "get_appointment_types", pms.KindMalformedResponse, 0, err)
	}

	out := make([]pms.RawType, 0, len(body.AppointmentTypes))
	for _, t := range body.AppointmentTypes {
		out = append(out, pms.RawType{ExternalID: t.ID.String(), Name: t.Name})
	}
	return out, nil
}

// GetPractitioners retrieves the practitioner roster.
func (c *Client) GetPractitioners(ctx context.Context) ([]pms.Practitioner, error) {
	results, err := c.get(ctx, "get_practitioners", "/getPractitioners", url.Values{})
	if err != nil {
		return nil, err
	}

	var body struct {
		Practitioners []nookalPractitioner `json:"practitioners"`
	}
	if err := json.Unmarshal(results, &body); err != nil {
		return nil, pms.NewError(pms.TypeNookal, "get_practitioners", pms.KindMalformedResponse, 0, err)
	}

	out := make([]pms.Practitioner, 0, len(body.Practitioners))
	for _, p := range body.Practitioners {
		name := strings.TrimSpace(strings.TrimSpace(p.Title+" "+p.FirstName) + " " + p.LastName)
		out = append(out, pms.Practitioner{ExternalID: p.ID.String(), DisplayName: name})
	}
	return out, nil
}

// GetPatientsWithAppointments fetches the roster and the clinic-wide
// appointment book, then groups appointments onto their patients.
// Appointments with no resolvable patient ride on stub patients so no
// record is lost.
func (c *Client) GetPatientsWithAppointments(ctx context.Context, filter pms.PatientFilter) ([]pms.Patient, error) {
	patients, err := c.GetPatients(ctx, filter)
	if err != nil {
		return nil, err
	}

	appointments, err := c.collectAppointments(ctx, "get_patients_with_appointments", url.Values{})
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

func (c *Client) collectAppointments(ctx context.Context, op string, base url.Values) ([]pms.Appointment, error) {
	var out []pms.Appointment
	for page := 1; ; page++ {
		q := url.Values{}
		for k, vs := range base {
			q[k] = vs
		}
		q.Set("page", strconv.Itoa(page))
		q.Set("page_length", strconv.Itoa(defaultPageSize))

		results, err := c.get(ctx, op, "/getAppointments", q)
		if err != nil {
			return nil, err
		}

		var body struct {
			Appointments []nookalAppointment `json:"appointments"`
		}
		if err := json.Unmarshal(results, &body); err != nil {
			return nil, pms.NewError(pms.TypeNookal, op, pms.KindMalformedResponse, 0, err)
		}

		for _, a := range body.Appointments {
			appt, err := c.mapAppointment(a)
			if err != nil {
				return nil, pms.NewError(pms.TypeNookal, op, pms.KindMalformedResponse, 0, err)
			}
			out = append(out, appt)
		}
		if len(body.Appointments) < defaultPageSize {
			return out, nil
		}
	}
}

func (c *Client) mapAppointment(a nookalAppointment) (pms.Appointment, error) {
	date, err := parseNookalTime(a.Date, a.StartTime)
	if err != nil {
		return pms.Appointment{}, fmt.Errorf("appointment %s: %w", a.ID.String(), err)
	}

	var cancelledAt *time.Time
	if a.Cancelled == "1" {
		when := date
		if parsed, err := time.ParseInLocation("2006-01-02 15:04:05", a.CancellationDate, time.UTC); err == nil {
			when = parsed
		}
		cancelledAt = &when
	}

	status := a.Status
	if status == "" {
		status = "booked"
	}

	return pms.Appointment{
		ExternalID:             a.ID.String(),
		ExternalPatientID:      a.PatientID.String(),
		AppointmentTypeID:      a.AppointmentTypeID.String(),
		ExternalPractitionerID: a.PractitionerID.String(),
		Date:                   date,
		Status:                 status,
		CancelledAt:            cancelledAt,
		DidNotArrive:           a.DNA == "1",
	}, nil
}

func parseNookalTime(date, start string) (time.Time, error) {
	if start == "" {
		return time.ParseInLocation("2006-01-02", date, time.UTC)
	}
	return time.ParseInLocation("2006-01-02 15:04:05", date+" "+start, time.UTC)
}

// get performs one enveloped GET and returns the raw results payload.
func (c *Client) get(ctx context.Context, op, path string, q url.Values) (json.RawMessage, error) {
	q.Set("api_key", c.apiKey)
	if c.clinicID != "" {
		q.Set("location_id", c.clinicID)
	}
	fullURL := c.baseURL + path + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, pms.NewError(pms.TypeNookal, op, pms.KindConnection, 0, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pms.WrapTransport(pms.TypeNookal, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, pms.FromStatus(pms.TypeNookal, op, resp.StatusCode, string(body))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, pms.NewError(pms.TypeNookal, op, pms.KindMalformedResponse, resp.StatusCode, err)
	}
	if env.Status != "success" {
		// Nookal reports auth failures inside a 200 envelope.
		kind := pms.KindMalformedResponse
		if strings.Contains(strings.ToLower(env.Message), "key") {
			kind = pms.KindAuth
		}
		return nil, pms.NewError(pms.TypeNookal, op, kind, resp.StatusCode,
			fmt.Errorf("api status %q: %s", env.Status, env.Message))
	}

	var results resultsEnvelope
	if err := json.Unmarshal(env.Data, &results); err != nil {
		return nil, pms.NewError(pms.TypeNookal, op, pms.KindMalformedResponse, resp.StatusCode, err)
	}
	return results.Results, nil
}
