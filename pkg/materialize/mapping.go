package materialize

import (
	"fmt"
	"sort"

	"github.com/dataresearchcenter/datasets/pkg/entity"
	"github.com/dataresearchcenter/datasets/pkg/failure"
	"github.com/dataresearchcenter/datasets/pkg/normalize"
)

// FieldRule copies the scalars found at a record path into an entity
// property.
type FieldRule struct {
	// From is a dotted record path; lists are descended at any level.
	From string `yaml:"from"`

	// To is the target property.
	To string `yaml:"to"`

	// Normalize names the normalizer applied to each value: "", "text",
	// "date", "country", "gender" or "vocab:<name>".
	Normalize string `yaml:"normalize,omitempty"`
}

// Mappings holds the field rules per kind.
type Mappings map[Kind][]FieldRule

// targets lists the schemas a kind's rules are applied to. Rules must fit
// every one of them.
var targets = map[Kind][]entity.Schema{
	KindPolitician:          {entity.Person},
	KindParty:               {entity.Organization},
	KindSidejobOrganization: {entity.Organization},
	KindCandidacyMandate:    {entity.Occupancy},
	KindSidejob:             {entity.Membership, entity.Directorship, entity.UnknownLink},
	KindDonation:            {entity.Payment},
	KindLobbyEntry:          {entity.Organization, entity.Person},
}

// DefaultMappings returns the built-in rule tables.
func DefaultMappings() Mappings {
	return Mappings{
		KindPolitician: {
			{From: "first_name", To: "firstName", Normalize: normalize.KindText},
			{From: "last_name", To: "lastName", Normalize: normalize.KindText},
			{From: "field_title", To: "title", Normalize: normalize.KindText},
			{From: "sex", To: "gender", Normalize: normalize.KindGender},
			{From: "year_of_birth", To: "birthDate", Normalize: normalize.KindDate},
			{From: "education", To: "education", Normalize: normalize.KindText},
			{From: "qid_wikidata", To: "wikidataId"},
			{From: "phoneNumber", To: "phone"},
			{From: "organizationMemberEmails", To: "email"},
			{From: "api_url", To: "sourceUrl"},
			{From: "abgeordnetenwatch_url", To: "sourceUrl"},
		},
		KindParty: {
			{From: "full_name", To: "alias", Normalize: normalize.KindText},
			{From: "short_name", To: "abbreviation", Normalize: normalize.KindText},
			{From: "api_url", To: "sourceUrl"},
		},
		KindSidejobOrganization: {
			{From: "topics.label", To: "keywords", Normalize: normalize.KindText},
			{From: "field_topics.label", To: "keywords", Normalize: normalize.KindText},
			{From: "api_url", To: "sourceUrl"},
		},
		KindCandidacyMandate: {
			{From: "label", To: "summary", Normalize: normalize.KindText},
			{From: "api_url", To: "sourceUrl"},
		},
		KindSidejob: {
			{From: "label", To: "role", Normalize: normalize.KindText},
			{From: "job_title_extra", To: "description", Normalize: normalize.KindText},
			{From: "additional_information", To: "summary", Normalize: normalize.KindText},
			{From: "data_change_date", To: "modifiedAt", Normalize: normalize.KindDate},
			{From: "api_url", To: "sourceUrl"},
		},
		KindDonation: {
			{From: "fullurl", To: "sourceUrl"},
			{From: "printouts.Betrag", To: "amountEur"},
			{From: "printouts.Jahr", To: "date", Normalize: normalize.KindDate},
		},
		KindLobbyEntry: {
			{From: "detailsPageUrl", To: "sourceUrl"},
			{From: "activityDescription", To: "description", Normalize: normalize.KindText},
			{From: "activity.de", To: "notes", Normalize: normalize.KindText},
			{From: "fieldsOfInterest.de", To: "keywords", Normalize: normalize.KindText},
			{From: "lobbyistIdentity.legalForm.de", To: "legalForm", Normalize: normalize.KindText},
			{From: "lobbyistIdentity.contactDetails.phoneNumber", To: "phone"},
			{From: "lobbyistIdentity.contactDetails.emails.email", To: "email"},
			{From: "lobbyistIdentity.contactDetails.websites.website", To: "website"},
		},
	}
}

// With returns a copy of m where every kind present in overrides has its
// table replaced.
func (m Mappings) With(overrides Mappings) Mappings {
	out := make(Mappings, len(m)+len(overrides))
	for k, rules := range m {
		out[k] = append([]FieldRule(nil), rules...)
	}
	for k, rules := range overrides {
		out[k] = append([]FieldRule(nil), rules...)
	}
	return out
}

// Validate checks every rule against the schema vocabulary and the
// registered normalizers.
func (m Mappings) Validate(norm *normalize.Normalizer) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	for _, name := range keys {
		kind := Kind(name)
		schemas, ok := targets[kind]
		if !ok {
			return failure.Configf("materialize", "mappings", "unknown kind %q", kind)
		}
		for i, rule := range m[kind] {
			field := fmt.Sprintf("mappings.%s[%d]", kind, i)
			if rule.From == "" || rule.To == "" {
				return failure.Configf("materialize", field, "from and to are required")
			}
			for _, schema := range schemas {
				if !schema.HasProperty(rule.To) {
					return failure.Configf("materialize", field, "%s has no property %q", schema, rule.To)
				}
			}
			if err := norm.Validate(rule.Normalize); err != nil {
				return &failure.ConfigError{Component: "materialize", Field: field, Reason: "invalid normalizer", Err: err}
			}
		}
	}
	return nil
}
