package materialize

import (
	"errors"
	"strings"

	"github.com/dataresearchcenter/datasets/pkg/entity"
	"github.com/dataresearchcenter/datasets/pkg/record"
)

// chairPrefixes select a Directorship for sidejob labels.
var chairPrefixes = []string{
	"Fraktionsvorsitzender",
	"Vorsitzende",
	"Vorsitzender",
	"Vorstand",
	"Stellv.",
	"Erste Vorsitzende",
	"Erster Vorsitzender",
}

const unknownIncome = "Unbekanntes Einkommen"

// sidejobSchema picks the relationship type for a sidejob label.
func sidejobSchema(label string) entity.Schema {
	if strings.HasPrefix(label, "Mitglied") {
		return entity.Membership
	}
	for _, p := range chairPrefixes {
		if strings.HasPrefix(label, p) {
			return entity.Directorship
		}
	}
	return entity.UnknownLink
}

// person builds the Person of a politician record.
func (b *builder) person(rec record.Record) *entity.Entity {
	name := joinText(" ", rec.String("field_title"), rec.String("first_name"), rec.String("last_name"))
	if name == "" {
		name = rec.String("label")
	}
	nativeID := record.IDString(rec["id"])
	id, err := b.m.ids.Derive("person", entity.Identity{NativeID: nativeID, Name: name})
	if errors.Is(err, entity.ErrNoIdentity) {
		b.issue("missing_identity", nativeID, "politician without id or name")
		return nil
	}
	if name == "" {
		b.issue("missing_name", nativeID, "politician without name")
		return nil
	}

	p := entity.New(entity.Person, id)
	p.Add("name", name)
	b.apply(p, KindPolitician, rec)
	p.Add("topics", "role.pep")
	return p
}

// politician emits the Person and, when present, the party and the party
// membership. It returns the Person.
func (b *builder) politician(rec record.Record) *entity.Entity {
	p := b.person(rec)
	if p == nil {
		return nil
	}
	b.emit(p)

	if partyRec, ok := rec.Map("party"); ok {
		if party := b.party(partyRec); party != nil {
			b.emit(b.edge(entity.Membership, b.m.ids.Edge(entity.Membership, p.ID, party.ID), p, party))
		}
	}
	return p
}

// party emits and returns a party Organization.
func (b *builder) party(rec record.Record) *entity.Entity {
	org := b.namedOrganization("party", rec, KindParty)
	if org == nil {
		return nil
	}
	org.Add("topics", "pol.party")
	b.emit(org)
	return org
}

// organization emits a sidejob organization with its address.
func (b *builder) organization(rec record.Record) *entity.Entity {
	org := b.namedOrganization("organization", rec, KindSidejobOrganization)
	if org == nil {
		return nil
	}
	if addr := b.placeAddress(rec); addr != nil {
		b.emit(addr)
		org.Add("addressEntity", addr.ID)
		org.Add("address", addr.Caption())
		org.Add("country", addr.Get("country")...)
	}
	b.emit(org)
	return org
}

func (b *builder) namedOrganization(kind string, rec record.Record, rules Kind) *entity.Entity {
	name := rec.String("label")
	nativeID := record.IDString(rec["id"])
	if name == "" {
		b.issue("missing_name", nativeID, kind+" without label")
		return nil
	}
	id, err := b.m.ids.Derive(kind, entity.Identity{NativeID: nativeID, Name: name})
	if err != nil {
		b.issue("missing_identity", nativeID, err.Error())
		return nil
	}
	org := entity.New(entity.Organization, id)
	org.Add("name", name)
	b.apply(org, rules, rec)
	return org
}

// placeAddress builds the city/country Address of a sidejob organization.
func (b *builder) placeAddress(rec record.Record) *entity.Entity {
	country := rec.String("field_country.label")
	if country == "" {
		return nil
	}
	city := rec.String("field_city.label")
	full := joinText(", ", city, country)
	code := b.country(country)

	addr := entity.New(entity.Address, b.addressID(code, full))
	addr.Add("full", full)
	addr.Add("city", city)
	addr.Add("country", code)
	return addr
}

func (b *builder) addressID(countryCode, full string) string {
	if countryCode == "" {
		countryCode = "xx"
	}
	return b.m.ids.Slug("addr", countryCode, entity.MakeID(entity.Fingerprint(full)))
}

// mandate emits the politician, the parliament Position and the Occupancy,
// then one Membership per parliamentary group.
func (b *builder) mandate(rec record.Record) {
	polRec, ok := rec.Map("politician")
	if !ok {
		b.issue("missing_reference", record.IDString(rec["id"]), "mandate without politician")
		return
	}
	p := b.politician(polRec)
	if p == nil {
		return
	}

	if position := b.position(rec); position != nil {
		start := b.date(firstNonEmpty(rec.String("start_date"), rec.String("parliament_period.start_date_period")))
		end := b.date(firstNonEmpty(rec.String("end_date"), rec.String("parliament_period.end_date_period")))

		b.emit(position)
		p.Add("country", position.Get("country")...)

		occ := b.edge(entity.Occupancy,
			b.m.ids.Edge(entity.Occupancy, p.ID, position.ID, "started", start, "ended", end),
			p, position)
		occ.Add("startDate", start)
		occ.Add("endDate", end)
		b.apply(occ, KindCandidacyMandate, rec)
		b.emit(occ)
	}

	for _, fm := range rec.Records("fraction_membership") {
		fraction, ok := fm.Map("fraction")
		if !ok {
			continue
		}
		group := b.namedOrganization("fraction", fraction, KindParty)
		if group == nil {
			continue
		}
		group.Add("topics", "pol.party")
		group.Add("legalForm", fraction.String("entity_type"))
		b.emit(group)

		membership := b.edge(entity.Membership, b.m.ids.Edge(entity.Membership, p.ID, group.ID), p, group)
		membership.Add("startDate", b.date(fm.String("valid_from")))
		membership.Add("endDate", b.date(fm.String("valid_until")))
		membership.Add("summary", fm.String("label"))
		b.emit(membership)
	}
}

// position builds "Member of the <parliament>". European Parliament mandates
// have no German position and yield nil.
func (b *builder) position(rec record.Record) *entity.Entity {
	parliament, ok := rec.Map("parliament_period.parliament")
	if !ok {
		b.issue("missing_reference", record.IDString(rec["id"]), "mandate without parliament")
		return nil
	}
	label := parliament.String("label")
	if label == "EU" {
		return nil
	}
	long := firstNonEmpty(parliament.String("label_external_long"), label)
	if long == "" {
		b.issue("missing_name", record.IDString(parliament["id"]), "parliament without label")
		return nil
	}

	name := "Member of the " + long
	area := ""
	if label != "Bundestag" {
		area = label
	}
	position := entity.New(entity.Position, b.m.ids.Hash("position", name, "de", area))
	position.Add("name", name)
	position.Add("country", "de")
	position.Add("subnationalArea", area)
	return position
}

// sidejob emits, per mandate, the politician, the organization and the
// relationship between them.
func (b *builder) sidejob(rec record.Record) {
	sidejobID := record.IDString(rec["id"])
	orgRec, ok := rec.Map("sidejob_organization")
	if !ok || record.IDString(orgRec["id"]) == "" {
		b.issue("missing_reference", sidejobID, "sidejob without organization id")
		return
	}

	label := rec.String("label")
	schema := sidejobSchema(label)
	income := firstNonEmpty(rec.String("income_level"), unknownIncome)

	for _, mandate := range rec.Records("mandates") {
		polRec, ok := mandate.Map("politician")
		if !ok {
			b.issue("missing_reference", sidejobID, "mandate without politician")
			continue
		}
		p := b.politician(polRec)
		if p == nil {
			continue
		}
		org := b.organization(orgRec)
		if org == nil {
			return
		}

		start, end := b.m.norm.Dates.ExtractRange(label, rec.String("job_title_extra"), mandate.String("label"))
		rel := b.edge(schema, b.m.ids.Edge(schema, p.ID, org.ID, "sidejob", sidejobID), p, org)
		b.apply(rel, KindSidejob, rec)
		rel.Add("indexText", "income_level#"+income)
		if amount := rec.String("income"); amount != "" {
			rel.Add("indexText", "income#"+amount)
		}
		rel.Add("startDate", start)
		rel.Add("endDate", end)
		b.emit(rel)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
