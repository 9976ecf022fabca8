package materialize

import (
	"github.com/dataresearchcenter/datasets/pkg/entity"
	"github.com/dataresearchcenter/datasets/pkg/record"
)

// lobbyEntry emits a lobby register entry: the registered Person or
// Organization keyed by its register number, its address, the people acting
// for it and the organizations and donors connected to it.
func (b *builder) lobbyEntry(rec record.Record) {
	registerNumber := rec.String("registerNumber")
	identity, _ := rec.Map("lobbyistIdentity")

	var entry *entity.Entity
	if identity.String("identity") == "NATURAL" {
		name := personName(identity)
		if name == "" {
			b.issue("missing_name", registerNumber, "register entry without person name")
			return
		}
		id, err := b.m.ids.Derive("person", entity.Identity{Registration: registerNumber, Name: name})
		if err != nil {
			b.issue("missing_identity", registerNumber, err.Error())
			return
		}
		entry = entity.New(entity.Person, id)
		entry.Add("name", name)
		entry.Add("firstName", firstNonEmpty(identity.String("firstName"), identity.String("commonFirstName")))
		entry.Add("lastName", identity.String("lastName"))
		entry.Add("title", identity.String("academicDegreeBefore"))
	} else {
		name := identity.String("name")
		if name == "" {
			b.issue("missing_name", registerNumber, "register entry without organization name")
			return
		}
		id, err := b.m.ids.Derive("organization", entity.Identity{Registration: registerNumber, Name: name})
		if err != nil {
			b.issue("missing_identity", registerNumber, err.Error())
			return
		}
		entry = entity.New(entity.Organization, id)
		entry.Add("name", name)
	}
	entry.Add("registrationNumber", registerNumber)
	entry.Add("topics", "role.lobby")
	if active, ok := rec.Get("account.activeLobbyist"); ok {
		if active == true {
			entry.Add("status", "active")
		} else {
			entry.Add("status", "inactive")
		}
	}
	b.apply(entry, KindLobbyEntry, rec)

	if addrRec, ok := identity.Map("address"); ok {
		if addr := b.registerAddress(addrRec); addr != nil {
			b.emit(addr)
			entry.Add("addressEntity", addr.ID)
			entry.Add("address", addr.Caption())
			entry.Add("country", addr.Get("country")...)
		}
	}
	b.emit(entry)

	for _, data := range identity.Records("legalRepresentatives") {
		if p := b.lobbyPerson(data, entry.ID); p != nil {
			rel := b.edge(entity.Representation, b.m.ids.Edge(entity.Representation, p.ID, entry.ID), p, entry)
			rel.Add("role", data.String("function"))
			b.emit(rel)
		}
	}
	for _, data := range identity.Records("entrustedPersons") {
		if p := b.lobbyPerson(data, entry.ID); p != nil {
			rel := b.edge(entity.Representation, b.m.ids.Edge(entity.Representation, p.ID, entry.ID), p, entry)
			rel.Add("role", firstNonEmpty(data.String("function"), "entrusted_person"))
			b.emit(rel)
		}
	}
	for _, data := range identity.Records("namedEmployees") {
		if p := b.lobbyPerson(data, entry.ID); p != nil {
			b.emit(b.edge(entity.Employment, b.m.ids.Edge(entity.Employment, p.ID, entry.ID), p, entry))
		}
	}

	memberships := append(identity.Values("memberships.membership"), identity.Values("membershipEntries")...)
	for _, name := range memberships {
		id, err := b.m.ids.Derive("organization", entity.Identity{Name: name})
		if err != nil {
			continue
		}
		org := entity.New(entity.Organization, id)
		org.Add("name", name)
		b.emit(org)
		b.emit(b.edge(entity.Membership, b.m.ids.Edge(entity.Membership, entry.ID, org.ID), entry, org))
	}

	donators := rec.Records("donators")
	donators = append(donators, rec.Records("registerEntryDetails.donators")...)
	for _, d := range donators {
		b.registerDonation(d, entry)
	}
}

func personName(rec record.Record) string {
	return joinText(" ",
		rec.String("academicDegreeBefore"),
		firstNonEmpty(rec.String("firstName"), rec.String("commonFirstName")),
		rec.String("lastName"))
}

// lobbyPerson emits a person acting for the entry. Names are only unique
// within an entry, so the entry id scopes the person id.
func (b *builder) lobbyPerson(rec record.Record, scope string) *entity.Entity {
	name := personName(rec)
	if name == "" {
		b.issue("missing_name", scope, "register person without name")
		return nil
	}
	id, err := b.m.ids.Derive("person", entity.Identity{Name: name, Scope: []string{scope}})
	if err != nil {
		b.issue("missing_identity", scope, err.Error())
		return nil
	}
	p := entity.New(entity.Person, id)
	p.Add("name", name)
	p.Add("title", rec.String("academicDegreeBefore"))
	p.Add("firstName", firstNonEmpty(rec.String("firstName"), rec.String("commonFirstName")))
	p.Add("lastName", rec.String("lastName"))
	p.Add("phone", rec.String("contactDetails.phoneNumber"), rec.String("phoneNumber"))
	p.Add("email", rec.Values("contactDetails.emails.email")...)
	p.Add("email", rec.Values("organizationMemberEmails")...)
	if v, _ := rec.Get("recentGovernmentFunctionPresent"); v == true {
		p.Add("topics", "gov")
	}
	p.Add("topics", "role.lobby")
	b.emit(p)
	return p
}

// registerAddress builds the postal Address of a register entry. Domestic,
// foreign and post box addresses carry their street part differently.
func (b *builder) registerAddress(rec record.Record) *entity.Entity {
	city := rec.String("city")
	code := firstNonEmpty(rec.String("country.code"), "de")
	code = firstNonEmpty(b.country(code), code)

	var street, zip string
	var extras []string
	switch rec.String("type") {
	case "FOREIGN":
		street = rec.String("internationalAdditional1")
	case "POSTBOX":
		zip = rec.String("zipCode")
	default:
		street = joinText(" ", rec.String("street"), rec.String("streetNumber"))
		extras = []string{rec.String("nationalAdditional1"), rec.String("nationalAdditional2")}
		zip = rec.String("zipCode")
	}
	parts := append([]string{street}, extras...)
	parts = append(parts, zip, city)
	full := joinText(", ", parts...)
	if full == "" {
		return nil
	}

	addr := entity.New(entity.Address, b.addressID(code, full))
	addr.Add("full", full)
	addr.Add("street", street)
	addr.Add("postalCode", zip)
	addr.Add("city", city)
	addr.Add("country", code)
	addr.Add("remarks", extras...)
	return addr
}

// registerDonation emits a donor LegalEntity and its Payment to entry.
func (b *builder) registerDonation(rec record.Record, entry *entity.Entity) {
	name := rec.String("name")
	id, err := b.m.ids.Derive("donator", entity.Identity{Name: name, Scope: []string{entry.ID}})
	if err != nil {
		b.issue("missing_name", entry.ID, "donator without name")
		return
	}
	payer := entity.New(entity.LegalEntity, id)
	payer.Add("name", name)
	payer.Add("address", rec.String("location"))
	b.emit(payer)

	start := b.date(rec.String("fiscalYearStart"))
	payment := b.edge(entity.Payment, b.m.ids.Edge(entity.Payment, payer.ID, entry.ID, start), payer, entry)
	payment.Add("purpose", rec.String("description"))
	payment.Add("programme", rec.String("categoryType"))
	payment.Add("startDate", start)
	payment.Add("endDate", b.date(firstNonEmpty(rec.String("fiscalYearEnd"), rec.String("fiscalYearend"))))
	payment.Add("amountEur", rec.String("donationEuro.from"), rec.String("donationEuro.to"))
	b.emit(payment)
}
