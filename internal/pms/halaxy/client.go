// Package halaxy implements the pms.Adapter capability set against the
// Halaxy REST API.
//
// Auth is a bearer token. List endpoints paginate with a page counter
// and a fixed page size; the sweep stops on the first short page.
// Halaxy has no clinic-wide patient+appointment listing, so the bulk
// capability flag is off and the orchestrator falls back to per-patient
// appointment fetches.
package halaxy

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
	defaultBaseURL  = "https://au.halaxy.com/api"
	defaultPageSize = 100
)

// Client talks to one Halaxy account.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Config holds configuration for the Halaxy client.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// New creates a Halaxy client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, pms.NewError(pms.TypeHalaxy, "new", pms.KindCredentialFormat, 0,
			fmt.Errorf("access token is required"))
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
		token:      strings.TrimSpace(cfg.Token),
		httpClient: httpClient,
	}, nil
}

// Type implements pms.Adapter.
func (c *Client) Type() pms.Type { return pms.TypeHalaxy }

// SupportsBulkAppointments reports that Halaxy only serves appointments
// per patient.
func (c *Client) SupportsBulkAppointments() bool { return false }

// GetPatientsWithAppointments is not available on Halaxy.
func (c *Client) GetPatientsWithAppointments(ctx context.Context, filter pms.PatientFilter) ([]pms.Patient, error) {
	return nil, pms.ErrBulkUnsupported
}

// TestConnection verifies the token against the practice profile.
func (c *Client) TestConnection(ctx context.Context) error {
	var out json.RawMessage
	return c.get(ctx, "test_connection", "/practices/self", url.Values{}, &out)
}

type halaxyPatient struct {
	ID        json.Number `json:"id"`
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
	Email     string      `json:"email"`
	Mobile    string      `json:"mobile_phone"`
}

type halaxyAppointment struct {
	ID           json.Number `json:"id"`
	PatientID    json.Number `json:"patient_id"`
	TypeID       json.Number `json:"appointment_type_id"`
	ClinicianID  json.Number `json:"practitioner_id"`
	StartsAt     time.Time   `json:"starts_at"`
	Status       string      `json:"status"`
	CancelledAt  *time.Time  `json:"cancelled_at"`
	DidNotArrive bool        `json:"did_not_arrive"`
}

type halaxyType struct {
	ID    json.Number `json:"id"`
	Title string      `json:"title"`
}

type halaxyPractitioner struct {
	ID   json.Number `json:"id"`
	Name string      `json:"full_name"`
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
		q.Set("per_page", strconv.Itoa(pageSize))
		if filter.UpdatedSince != nil {
			q.Set("updated_since", filter.UpdatedSince.UTC().Format(time.RFC3339))
		}

		var batch []halaxyPatient
		if err := c.get(ctx, "get_patients", "/patients", q, &batch); err != nil {
			return nil, err
		}

		for _, p := range batch {
			out = append(out, pms.Patient{
				ExternalID: p.ID.String(),
				FirstName:  p.FirstName,
				LastName:   p.LastName,
				Email:      p.Email,
				Phone:      p.Mobile,
			})
		}
		if len(batch) < pageSize {
			return out, nil
		}
	}
}

// GetPatientAppointments retrieves every appointment for one patient.
func (c *Client) GetPatientAppointments(ctx context.Context, externalPatientID string) ([]pms.Appointment, error) {
	var out []pms.Appointment
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("patient_id", externalPatientID)
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(defaultPageSize))

		var batch []halaxyAppointment
		if err := c.get(ctx, "get_patient_appointments", "/appointments", q, &batch); err != nil {
			return nil, err
		}

		for _, a := range batch {
			out = append(out, pms.Appointment{
				ExternalID:             a.ID.String(),
				ExternalPatientID:      a.PatientID.String(),
				AppointmentTypeID:      a.TypeID.String(),
				ExternalPractitionerID: a.ClinicianID.String(),
				Date:                   a.StartsAt,
				Status:                 a.Status,
				CancelledAt:            a.CancelledAt,
				DidNotArrive:           a.DidNotArrive,
			})
		}
		if len(batch) < defaultPageSize {
			return out, nil
		}
	}
}

// GetAppointmentTypes retrieves the raw appointment-type catalogue.
func (c *Client) GetAppointmentTypes(ctx context.Context) ([]pms.RawType, error) {
	var batch []halaxyType
	if err := c.get(ctx, "get_appointment_types", "/appointment-types", url.Values{}, &batch); err != nil {
		return nil, err
	}

	out := make([]pms.RawType, 0, len(batch))
	for _, t := range batch {
		out = append(out, pms.RawType{ExternalID: t.ID.String(), Name: t.Title})
	}
	return out, nil
}

// GetPractitioners retrieves the practitioner roster.
func (c *Client) GetPractitioners(ctx context.Context) ([]pms.Practitioner, error) {
	var batch []halaxyPractitioner
	if err := c.get(ctx, "get_practitioners", "/practitioners", url.Values{}, &batch); err != nil {
		return nil, err
	}

	out := make([]pms.Practitioner, 0, len(batch))
	for _, p := range batch {
		out = append(out, pms.Practitioner{ExternalID: p.ID.String(), DisplayName: p.Name})
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, op, path string, q url.Values, out any) error {
	fullURL := c.baseURL + path
	if len(q) > 0 {
		fullURL += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return pms.NewError(pms.TypeHalaxy, op, pms.KindConnection, 0, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pms.WrapTransport(pms.TypeHalaxy, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return pms.FromStatus(pms.TypeHalaxy, op, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pms.NewError(pms.TypeHalaxy, op, pms.KindMalformedResponse, resp.StatusCode, err)
	}
	return nil
}
