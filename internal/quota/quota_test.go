package quota

import (
	"testing"
	"time"

	"github.com/clinicsync/platform/internal/classify"
)

var now = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func epcAppt(date time.Time) Appointment {
	return Appointment{Scheme: classify.SchemeEPC, Date: date}
}

func wcAppt(date time.Time) Appointment {
	return Appointment{Scheme: classify.SchemeWC, Date: date}
}

func TestValidityFilter(t *testing.T) {
	cancelled := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		appt Appointment
		want bool
	}{
		{"clean past appointment", wcAppt(now.AddDate(0, -1, 0)), true},
		{"today", wcAppt(now), true},
		{"future", wcAppt(now.AddDate(0, 0, 1)), false},
		{"cancelled", Appointment{Scheme: classify.SchemeWC, Date: now.AddDate(0, -1, 0), CancelledAt: &cancelled}, false},
		{"did not arrive", Appointment{Scheme: classify.SchemeWC, Date: now.AddDate(0, -1, 0), DidNotArrive: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CountsTowardQuota(tt.appt, now); got != tt.want {
				t.Errorf("CountsTowardQuota = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWCLifetimeLaw(t *testing.T) {
	// 12 valid WC appointments across 3 years all count.
	var appts []Appointment
	for year := 2022; year <= 2024; year++ {
		for month := 1; month <= 4; month++ {
			appts = append(appts, wcAppt(time.Date(year, time.Month(month), 10, 9, 0, 0, 0, time.UTC)))
		}
	}

	if used := WCSessionsUsed(appts, now); used != 12 {
		t.Errorf("WC sessions used = %d, want 12", used)
	}
}

func TestEPCResetLaw(t *testing.T) {
	// 3 appointments in year Y-1, 2 in year Y: only the active year
	// (the most recent appointment's year) counts.
	appts := []Appointment{
		epcAppt(time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)),
		epcAppt(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)),
		epcAppt(time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)),
		epcAppt(time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)),
		epcAppt(time.Date(2025, 2, 10, 9, 0, 0, 0, time.UTC)),
	}

	year, ok := EPCActiveYear(appts, now)
	if !ok || year != 2025 {
		t.Fatalf("EPCActiveYear = %d, %v; want 2025", year, ok)
	}
	if used := EPCSessionsUsed(appts, now); used != 2 {
		t.Errorf("EPC sessions used = %d, want 2", used)
	}
}

func TestEPCAnchorsToPatientNotServerClock(t *testing.T) {
	// Patient last seen in 2023; even though "today" is 2025 the active
	// year is anchored to their own most recent appointment.
	appts := []Appointment{
		epcAppt(time.Date(2023, 5, 1, 9, 0, 0, 0, time.UTC)),
		epcAppt(time.Date(2023, 8, 1, 9, 0, 0, 0, time.UTC)),
	}

	year, ok := EPCActiveYear(appts, now)
	if !ok || year != 2023 {
		t.Fatalf("EPCActiveYear = %d, %v; want 2023", year, ok)
	}
	if used := EPCSessionsUsed(appts, now); used != 2 {
		t.Errorf("EPC sessions used = %d, want 2", used)
	}
}

func TestEPCIgnoresInvalidLatestAppointment(t *testing.T) {
	cancelled := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	appts := []Appointment{
		epcAppt(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)),
		// Most recent by date, but cancelled: must not move the anchor.
		{Scheme: classify.SchemeEPC, Date: time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC), CancelledAt: &cancelled},
	}

	year, ok := EPCActiveYear(appts, now)
	if !ok || year != 2024 {
		t.Fatalf("EPCActiveYear = %d, %v; want 2024", year, ok)
	}
}

func TestForSchemeRemainingClampsAtZero(t *testing.T) {
	var appts []Appointment
	for i := 0; i < 10; i++ {
		appts = append(appts, wcAppt(now.AddDate(0, -i-1, 0)))
	}

	ent := ForScheme(classify.SchemeWC, appts, StandardDefaults(), now)
	if ent.SessionsUsed != 10 || ent.Quota != 8 {
		t.Fatalf("entitlement = %+v", ent)
	}
	if ent.SessionsRemaining != 0 {
		t.Errorf("sessions remaining = %d, want 0 (clamped)", ent.SessionsRemaining)
	}
}

func TestForSchemeWithNoAppointments(t *testing.T) {
	ent := ForScheme(classify.SchemeEPC, nil, StandardDefaults(), now)
	if ent.SessionsUsed != 0 || ent.SessionsRemaining != 5 {
		t.Errorf("entitlement = %+v", ent)
	}
}

func TestMixedSchemesDoNotCrossCount(t *testing.T) {
	// The concrete scenario: 1 completed WorkCover appointment in 2023
	// and 6 completed EPC appointments, 5 in 2024 and 1 in 2023.
	appts := []Appointment{
		wcAppt(time.Date(2023, 4, 1, 9, 0, 0, 0, time.UTC)),
		epcAppt(time.Date(2023, 11, 1, 9, 0, 0, 0, time.UTC)),
	}
	for month := 1; month <= 5; month++ {
		appts = append(appts, epcAppt(time.Date(2024, time.Month(month), 5, 9, 0, 0, 0, time.UTC)))
	}

	wc := ForScheme(classify.SchemeWC, appts, StandardDefaults(), now)
	if wc.SessionsUsed != 1 {
		t.Errorf("WC sessions used = %d, want 1", wc.SessionsUsed)
	}

	epc := ForScheme(classify.SchemeEPC, appts, StandardDefaults(), now)
	if epc.SessionsUsed != 5 {
		t.Errorf("EPC sessions used = %d, want 5 (2024 only)", epc.SessionsUsed)
	}
}
