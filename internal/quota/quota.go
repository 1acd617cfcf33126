// Package quota derives per-patient session entitlements from
// classified appointments.
//
// The two schemes deliberately differ: WC is a lifetime count, EPC
// resets each calendar year anchored to the patient's own most recent
// valid EPC appointment, not to the server clock, because a
// reconciliation run may execute at any time relative to when the
// patient was last seen.
package quota

import (
	"time"

	"github.com/clinicsync/platform/internal/classify"
)

// Defaults carries the per-scheme quota ceilings.
type Defaults struct {
	WCQuota  int
	EPCQuota int
}

// StandardDefaults returns the funding-scheme defaults: 8 lifetime WC
// sessions, 5 EPC sessions per calendar year.
func StandardDefaults() Defaults {
	return Defaults{WCQuota: 8, EPCQuota: 5}
}

// Appointment is the minimal appointment view the calculator needs.
type Appointment struct {
	Scheme       classify.Scheme
	Date         time.Time
	CancelledAt  *time.Time
	DidNotArrive bool
}

// Entitlement is the derived standing of one patient within one
// scheme.
type Entitlement struct {
	Scheme            classify.Scheme
	SessionsUsed      int
	Quota             int
	SessionsRemaining int
}

// CountsTowardQuota applies the validity filter: an appointment counts
// only if it was not cancelled, the patient arrived, and it is not in
// the future.
func CountsTowardQuota(a Appointment, now time.Time) bool {
	if a.CancelledAt != nil {
		return false
	}
	if a.DidNotArrive {
		return false
	}
	return !a.Date.After(now)
}

// WCSessionsUsed counts all valid WC appointments with no date window.
func WCSessionsUsed(appointments []Appointment, now time.Time) int {
	used := 0
	for _, a := range appointments {
		if a.Scheme == classify.SchemeWC && CountsTowardQuota(a, now) {
			used++
		}
	}
	return used
}

// EPCActiveYear finds the calendar year of the patient's most recent
// valid EPC appointment. ok is false when the patient has none.
func EPCActiveYear(appointments []Appointment, now time.Time) (int, bool) {
	var latest time.Time
	found := false
	for _, a := range appointments {
		if a.Scheme != classify.SchemeEPC || !CountsTowardQuota(a, now) {
			continue
		}
		if !found || a.Date.After(latest) {
			latest = a.Date
			found = true
		}
	}
	if !found {
		return 0, false
	}
	return latest.UTC().Year(), true
}

// EPCSessionsUsed counts valid EPC appointments inside the active year
// only. Appointments from prior years remain stored but do not count.
func EPCSessionsUsed(appointments []Appointment, now time.Time) int {
	activeYear, ok := EPCActiveYear(appointments, now)
	if !ok {
		return 0
	}
	used := 0
	for _, a := range appointments {
		if a.Scheme != classify.SchemeEPC || !CountsTowardQuota(a, now) {
			continue
		}
		if a.Date.UTC().Year() == activeYear {
			used++
		}
	}
	return used
}

// Remaining clamps quota minus used at zero.
func Remaining(quota, used int) int {
	if remaining := quota - used; remaining > 0 {
		return remaining
	}
	return 0
}

// ForScheme computes one patient's entitlement within one scheme.
func ForScheme(scheme classify.Scheme, appointments []Appointment, defaults Defaults, now time.Time) Entitlement {
	var used, ceiling int
	switch scheme {
	case classify.SchemeWC:
		used = WCSessionsUsed(appointments, now)
		ceiling = defaults.WCQuota
	case classify.SchemeEPC:
		used = EPCSessionsUsed(appointments, now)
		ceiling = defaults.EPCQuota
	}
	return Entitlement{
		Scheme:            scheme,
		SessionsUsed:      used,
		Quota:             ceiling,
		SessionsRemaining: Remaining(ceiling, used),
	}
}
