package pms

import (
	"context"
	"time"
)

// Type identifies a supported practice management system.
type Type string

const (
	TypeCliniko Type = "cliniko"
	TypeNookal  Type = "nookal"
	TypeHalaxy  Type = "halaxy"
)

// Valid reports whether the value names a supported PMS.
func (t Type) Valid() bool {
	switch t {
	case TypeCliniko, TypeNookal, TypeHalaxy:
		return true
	}
	return false
}

// Credentials carry the decrypted connection material for one PMS
// account.
type Credentials struct {
	APIKey   string
	BaseURL  string // optional override; adapters fall back to their production URL
	ClinicID string // required by Nookal, ignored elsewhere
}

// Adapter is the uniform capability set every PMS integration exposes.
//
// Adapters never return an error for "no data found": empty slices are
// valid results. Errors are reserved for connectivity, auth and
// malformed-response failures and carry the retryable distinction via
// the *Error type in this package.
type Adapter interface {
	// Type returns the PMS this adapter talks to.
	Type() Type

	// TestConnection verifies the credentials against a cheap endpoint.
	// A nil error means the connection is usable.
	TestConnection(ctx context.Context) error

	// GetPatients retrieves the patient roster, following pagination to
	// exhaustion.
	GetPatients(ctx context.Context, filter PatientFilter) ([]Patient, error)

	// GetPatientAppointments retrieves all appointments for one patient
	// by its external id.
	GetPatientAppointments(ctx context.Context, externalPatientID string) ([]Appointment, error)

	// GetAppointmentTypes retrieves the raw appointment-type catalogue.
	GetAppointmentTypes(ctx context.Context) ([]RawType, error)

	// GetPractitioners retrieves the practitioner roster.
	GetPractitioners(ctx context.Context) ([]Practitioner, error)

	// SupportsBulkAppointments reports whether
	// GetPatientsWithAppointments is implemented. Callers must check
	// this flag rather than type-asserting, so new adapters opt in
	// explicitly.
	SupportsBulkAppointments() bool

	// GetPatientsWithAppointments retrieves patients with their
	// appointments attached in one pass. Adapters that do not support a
	// combined fetch return ErrBulkUnsupported.
	GetPatientsWithAppointments(ctx context.Context, filter PatientFilter) ([]Patient, error)
}

// PatientFilter narrows a patient fetch. The zero value fetches
// everything.
type PatientFilter struct {
	UpdatedSince *time.Time
	PageSize     int
}

// Patient is the normalized patient record shared by all adapters.
type Patient struct {
	ExternalID string
	FirstName  string
	LastName   string
	Email      string
	Phone      string

	// Appointments is populated only by bulk fetches.
	Appointments []Appointment
}

// Appointment is the normalized appointment record shared by all
// adapters.
type Appointment struct {
	ExternalID             string
	ExternalPatientID      string
	AppointmentTypeID      string
	ExternalPractitionerID string
	Date                   time.Time
	Status                 string
	CancelledAt            *time.Time
	DidNotArrive           bool
}

// RawType is one entry of a PMS appointment-type catalogue before
// classification.
type RawType struct {
	ExternalID string
	Name       string
}

// Practitioner is the normalized practitioner record.
type Practitioner struct {
	ExternalID  string
	DisplayName string
}
