// Package classify maps a clinic's raw PMS appointment-type names onto
// funding schemes using the clinic's configured tag vocabulary, and
// derives patient funding types from classified appointments.
//
// Everything here is a pure function over (input, tag config) so the
// derivation stays testable without a database.
package classify

import (
	"strings"

	"github.com/clinicsync/platform/internal/pms"
)

// Scheme is a funding scheme classification.
type Scheme string

const (
	SchemeWC  Scheme = "WC"
	SchemeEPC Scheme = "EPC"
)

// SchemePriority is the documented tie-break order: a name or patient
// qualifying for both schemes resolves to WC.
var SchemePriority = []Scheme{SchemeWC, SchemeEPC}

// TagConfig is the clinic's tag vocabulary per scheme. Tags are
// matched as case-insensitive substrings of the raw type name.
type TagConfig struct {
	WCTags  []string
	EPCTags []string
}

// DefaultTagConfig returns the out-of-the-box vocabulary.
func DefaultTagConfig() TagConfig {
	return TagConfig{WCTags: []string{"WC"}, EPCTags: []string{"EPC"}}
}

func (c TagConfig) tags(scheme Scheme) []string {
	switch scheme {
	case SchemeWC:
		return c.WCTags
	case SchemeEPC:
		return c.EPCTags
	}
	return nil
}

// Mapping is one classified appointment type.
type Mapping struct {
	ExternalTypeID string
	DisplayName    string
	Scheme         Scheme
}

// MatchScheme resolves a raw type name against the vocabulary. Schemes
// are checked in priority order, so a name matching both resolves to
// WC.
func MatchScheme(name string, cfg TagConfig) (Scheme, bool) {
	lowered := strings.ToLower(name)
	for _, scheme := range SchemePriority {
		for _, tag := range cfg.tags(scheme) {
			tag = strings.ToLower(strings.TrimSpace(tag))
			if tag == "" {
				continue
			}
			if strings.Contains(lowered, tag) {
				return scheme, true
			}
		}
	}
	return "", false
}

// Types classifies a raw catalogue. Unmatched types are dropped, not
// emitted with an empty scheme; the result is meant to replace the
// stored mapping set wholesale.
func Types(raw []pms.RawType, cfg TagConfig) []Mapping {
	out := make([]Mapping, 0, len(raw))
	for _, t := range raw {
		scheme, ok := MatchScheme(t.Name, cfg)
		if !ok {
			continue
		}
		out = append(out, Mapping{
			ExternalTypeID: t.ExternalID,
			DisplayName:    t.Name,
			Scheme:         scheme,
		})
	}
	return out
}

// DerivePatientType resolves a patient's funding type from the schemes
// of the appointment types they have appointments against. WC wins
// over EPC; ok is false when no scheme applies, in which case the
// stored patient_type must be left untouched.
func DerivePatientType(schemes []Scheme) (Scheme, bool) {
	seen := make(map[Scheme]bool, len(schemes))
	for _, s := range schemes {
		seen[s] = true
	}
	for _, scheme := range SchemePriority {
		if seen[scheme] {
			return scheme, true
		}
	}
	return "", false
}
