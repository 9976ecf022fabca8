// Package materialize turns resolved records into canonical graph entities.
//
// Every record carries a discriminator naming its Kind. Each kind has one
// builder that emits the record's nodes and relationships, always emitting
// an entity before any relationship that references it. Scalar properties
// are copied by per-kind mapping tables so that a source can adjust them
// without code changes.
package materialize

import (
	"strings"
)

// Kind is the closed set of record kinds understood by the materializer.
type Kind string

const (
	KindPolitician          Kind = "politician"
	KindCandidacyMandate    Kind = "candidacy_mandate"
	KindSidejob             Kind = "sidejob"
	KindSidejobOrganization Kind = "sidejob_organization"
	KindParty               Kind = "party"
	KindDonation            Kind = "donation"
	KindLobbyEntry          Kind = "lobby_entry"
)

var kinds = []Kind{
	KindPolitician,
	KindCandidacyMandate,
	KindSidejob,
	KindSidejobOrganization,
	KindParty,
	KindDonation,
	KindLobbyEntry,
}

// Kinds returns every kind in declaration order.
func Kinds() []Kind {
	return append([]Kind(nil), kinds...)
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseKind maps a discriminator value onto a Kind. Schema URIs are reduced
// to their last segment, so "https://example.org/schema#Candidacy-Mandate"
// parses as KindCandidacyMandate.
func ParseKind(value string) (Kind, bool) {
	v := strings.TrimSpace(value)
	if i := strings.LastIndexAny(v, "/#"); i >= 0 {
		v = v[i+1:]
	}
	v = strings.ToLower(strings.ReplaceAll(v, "-", "_"))
	k := Kind(v)
	return k, k.Valid()
}
