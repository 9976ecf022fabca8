package materialize

import (
	"github.com/dataresearchcenter/datasets/pkg/entity"
	"github.com/dataresearchcenter/datasets/pkg/record"
)

const naturalPerson = "natürliche Person"

// donation emits the donor (Person or LegalEntity) with its Address, the
// receiving party and the Payment between them. Fields are read from
// "printouts" when the record is a Semantic MediaWiki result.
func (b *builder) donation(rec record.Record) {
	fields := rec
	if printouts, ok := rec.Map("printouts"); ok {
		fields = printouts
	}
	title := rec.String("fulltext")

	payer := b.donor(fields)
	if payer == nil {
		return
	}
	beneficiaryName := first(fields.Values("Empfänger.fulltext"))
	if beneficiaryName == "" {
		b.issue("missing_name", title, "donation without recipient")
		return
	}
	beneficiaryID, err := b.m.ids.Derive("party", entity.Identity{Name: beneficiaryName})
	if err != nil {
		b.issue("missing_identity", title, err.Error())
		return
	}
	beneficiary := entity.New(entity.Organization, beneficiaryID)
	beneficiary.Add("name", fields.Values("Empfänger.fulltext")...)
	beneficiary.Add("sourceUrl", fields.Values("Empfänger.fullurl")...)
	beneficiary.Add("topics", "pol.party")
	b.emit(beneficiary)

	id := b.m.ids.Edge(entity.Payment, payer.ID, beneficiary.ID, append([]string{title}, fields.Values("Jahr")...)...)
	payment := b.edge(entity.Payment, id, payer, beneficiary)
	b.apply(payment, KindDonation, rec)
	b.emit(payment)
}

func (b *builder) donor(fields record.Record) *entity.Entity {
	names := fields.Values("Geldgeber.fulltext")
	if len(names) == 0 {
		b.issue("missing_name", "", "donation without donor")
		return nil
	}

	schema, kind := entity.LegalEntity, "legalentity"
	if first(fields.Values("Kategorie")) == naturalPerson {
		schema, kind = entity.Person, "person"
	}
	id, err := b.m.ids.Derive(kind, entity.Identity{Name: names[0]})
	if err != nil {
		b.issue("missing_identity", names[0], err.Error())
		return nil
	}

	payer := entity.New(schema, id)
	payer.Add("name", names...)
	payer.Add("sourceUrl", fields.Values("Geldgeber.fullurl")...)
	payer.Add("sector", fields.Values("Branche")...)
	payer.Add("keywords", fields.Values("Schlagworte")...)

	if city := first(fields.Values("Ort")); city != "" {
		state := first(fields.Values("Bundesland"))
		addr := entity.New(entity.Address, b.m.ids.Slug("address", city, state))
		addr.Add("full", joinText(", ", city, state))
		addr.Add("city", city)
		addr.Add("state", state)
		addr.Add("country", "de")
		b.emit(addr)
		payer.Add("addressEntity", addr.ID)
		payer.Add("address", addr.Caption())
	}
	b.emit(payer)
	return payer
}
