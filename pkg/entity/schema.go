// Package entity implements the canonical graph entities: a closed schema
// vocabulary, ordered property multimaps and deterministic id derivation.
package entity

import (
	"fmt"
	"sort"
	"strings"
)

// Schema is a canonical entity type.
type Schema string

// Node schemas.
const (
	Person       Schema = "Person"
	Organization Schema = "Organization"
	Company      Schema = "Company"
	PublicBody   Schema = "PublicBody"
	LegalEntity  Schema = "LegalEntity"
	Address      Schema = "Address"
	Position     Schema = "Position"
	Project      Schema = "Project"
)

// Edge schemas.
const (
	Membership         Schema = "Membership"
	Directorship       Schema = "Directorship"
	Employment         Schema = "Employment"
	Representation     Schema = "Representation"
	Payment            Schema = "Payment"
	Occupancy          Schema = "Occupancy"
	UnknownLink        Schema = "UnknownLink"
	ProjectParticipant Schema = "ProjectParticipant"
)

type schemaDef struct {
	source string
	target string
	props  map[string]struct{}
}

func (d schemaDef) edge() bool { return d.source != "" }

func propSet(groups ...[]string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, g := range groups {
		for _, p := range g {
			out[p] = struct{}{}
		}
	}
	return out
}

var (
	commonProps = []string{
		"name", "alias", "summary", "description", "notes", "sourceUrl",
		"indexText", "topics", "keywords", "publisher", "country",
	}
	legalEntityProps = []string{
		"previousName", "weakAlias", "abbreviation", "email", "phone", "website",
		"address", "addressEntity", "legalForm", "registrationNumber", "vatCode",
		"idNumber", "incorporationDate", "dissolutionDate", "status", "sector",
		"classification", "jurisdiction", "mainCountry", "wikidataId",
	}
	personProps = []string{
		"firstName", "lastName", "middleName", "title", "gender", "birthDate",
		"deathDate", "birthPlace", "nationality", "citizenship", "position",
		"political", "education", "religion",
	}
	addressProps = []string{
		"full", "street", "street2", "postalCode", "city", "region", "state",
		"postOfficeBox", "remarks",
	}
	positionProps = []string{
		"subnationalArea", "inceptionDate", "dissolutionDate", "organization",
	}
	projectProps = []string{
		"amount", "currency", "startDate", "endDate", "status", "program",
	}
	intervalProps = []string{
		"startDate", "endDate", "date", "role", "status", "recordId", "modifiedAt",
	}
	paymentProps = []string{
		"amount", "amountEur", "currency", "purpose", "programme",
		"transactionNumber",
	}
	occupancyProps = []string{"declarationDate"}
)

var schemas = map[Schema]schemaDef{
	Person:       {props: propSet(commonProps, legalEntityProps, personProps)},
	Organization: {props: propSet(commonProps, legalEntityProps)},
	Company:      {props: propSet(commonProps, legalEntityProps)},
	PublicBody:   {props: propSet(commonProps, legalEntityProps)},
	LegalEntity:  {props: propSet(commonProps, legalEntityProps)},
	Address:      {props: propSet(commonProps, addressProps)},
	Position:     {props: propSet(commonProps, positionProps)},
	Project:      {props: propSet(commonProps, projectProps)},

	Membership:         {source: "member", target: "organization", props: propSet(commonProps, intervalProps)},
	Directorship:       {source: "director", target: "organization", props: propSet(commonProps, intervalProps)},
	Employment:         {source: "employee", target: "employer", props: propSet(commonProps, intervalProps)},
	Representation:     {source: "agent", target: "client", props: propSet(commonProps, intervalProps)},
	Payment:            {source: "payer", target: "beneficiary", props: propSet(commonProps, intervalProps, paymentProps)},
	Occupancy:          {source: "holder", target: "post", props: propSet(commonProps, intervalProps, occupancyProps)},
	UnknownLink:        {source: "subject", target: "object", props: propSet(commonProps, intervalProps)},
	ProjectParticipant: {source: "participant", target: "project", props: propSet(commonProps, intervalProps)},
}

// ParseSchema validates a schema name.
func ParseSchema(name string) (Schema, error) {
	s := Schema(strings.TrimSpace(name))
	if _, ok := schemas[s]; !ok {
		return "", fmt.Errorf("unknown schema %q", name)
	}
	return s, nil
}

// Schemas returns every known schema, sorted by name.
func Schemas() []Schema {
	out := make([]Schema, 0, len(schemas))
	for s := range schemas {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Valid reports whether s belongs to the vocabulary.
func (s Schema) Valid() bool {
	_, ok := schemas[s]
	return ok
}

// IsEdge reports whether s is a relationship schema.
func (s Schema) IsEdge() bool {
	return schemas[s].edge()
}

// Roles returns the source and target role properties of an edge schema.
func (s Schema) Roles() (source, target string) {
	d := schemas[s]
	return d.source, d.target
}

// HasProperty reports whether prop is allowed on s. Edge roles count as
// properties.
func (s Schema) HasProperty(prop string) bool {
	d, ok := schemas[s]
	if !ok {
		return false
	}
	if d.edge() && (prop == d.source || prop == d.target) {
		return true
	}
	_, ok = d.props[prop]
	return ok
}
