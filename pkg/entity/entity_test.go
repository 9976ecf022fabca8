package entity

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEntity_AddDeduplicatesAndKeepsOrder(t *testing.T) {
	e := New(Person, "p1")
	e.Add("email", "b@example.org", " a@example.org ", "", "b@example.org")
	e.Add("email", "a@example.org", "c@example.org")

	want := []string{"b@example.org", "a@example.org", "c@example.org"}
	if diff := cmp.Diff(want, e.Get("email")); diff != "" {
		t.Errorf("email mismatch (-want +got):\n%s", diff)
	}
	if e.First("email") != "b@example.org" {
		t.Errorf("First(email) = %q", e.First("email"))
	}
	if e.Has("phone") {
		t.Error("Has(phone) = true for unset property")
	}

	e.Set("email", "z@example.org")
	if diff := cmp.Diff([]string{"z@example.org"}, e.Get("email")); diff != "" {
		t.Errorf("Set mismatch (-want +got):\n%s", diff)
	}
}

func TestEntity_UnknownPropertyPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for unknown property")
		}
	}()
	New(Address, "a1").Add("birthDate", "1970")
}

func TestSchema_Edges(t *testing.T) {
	tests := []struct {
		schema Schema
		edge   bool
		source string
		target string
	}{
		{Person, false, "", ""},
		{Membership, true, "member", "organization"},
		{Payment, true, "payer", "beneficiary"},
		{Occupancy, true, "holder", "post"},
		{Representation, true, "agent", "client"},
	}
	for _, tt := range tests {
		t.Run(string(tt.schema), func(t *testing.T) {
			if tt.schema.IsEdge() != tt.edge {
				t.Errorf("IsEdge() = %v, want %v", tt.schema.IsEdge(), tt.edge)
			}
			s, tg := tt.schema.Roles()
			if s != tt.source || tg != tt.target {
				t.Errorf("Roles() = (%q, %q), want (%q, %q)", s, tg, tt.source, tt.target)
			}
			if tt.edge && !tt.schema.HasProperty(tt.source) {
				t.Errorf("role %q not a property", tt.source)
			}
		})
	}

	if _, err := ParseSchema("Robot"); err == nil {
		t.Error("ParseSchema(Robot) succeeded")
	}
}

func TestEntity_JSONIsStable(t *testing.T) {
	build := func(order []string) Entity {
		e := New(Organization, "org-1")
		for _, p := range order {
			e.Add(p, "value-"+p)
		}
		return *e
	}
	a, err := json.Marshal(build([]string{"name", "email", "country"}))
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(build([]string{"country", "name", "email"}))
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Errorf("JSON differs by insertion order:\n%s\n%s", a, b)
	}

	var back Entity
	if err := json.Unmarshal(a, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.ID != "org-1" || back.First("email") != "value-email" {
		t.Errorf("round trip = %+v", back)
	}
}

func TestFingerprint(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Müller, Hans-Jürgen", "muller hans jurgen"},
		{"  MÜLLER   hans jürgen ", "muller hans jurgen"},
		{"Straße & Co. KG", "strasse and co kg"},
		{"", ""},
		{"...", ""},
	}
	for _, tt := range tests {
		if got := Fingerprint(tt.in); got != tt.want {
			t.Errorf("Fingerprint(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIDFactory_Derive(t *testing.T) {
	f := IDFactory{Prefix: "de-aw"}

	tests := []struct {
		name  string
		ident Identity
		want  string
	}{
		{"registration wins", Identity{Registration: "R001234", NativeID: "7", Name: "Acme"}, "de-aw-r001234"},
		{"native id", Identity{NativeID: "7", Name: "Acme"}, "de-aw-organization-7"},
		{"name fingerprint", Identity{Name: "ACME  GmbH."}, f.Hash("organization", "acme gmbh")},
		{"name equivalence", Identity{Name: "acme gmbh"}, f.Hash("organization", "acme gmbh")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.Derive("organization", tt.ident)
			if err != nil {
				t.Fatalf("Derive: %v", err)
			}
			if got != tt.want {
				t.Errorf("Derive() = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := f.Derive("person", Identity{Name: " - "}); !errors.Is(err, ErrNoIdentity) {
		t.Errorf("Derive(empty) err = %v, want ErrNoIdentity", err)
	}
}

func TestIDFactory_EdgeIsDeterministicAndDirectional(t *testing.T) {
	f := IDFactory{Prefix: "x"}
	a := f.Edge(Membership, "p1", "o1", "Mitglied")
	b := f.Edge(Membership, "p1", "o1", "Mitglied")
	if a != b {
		t.Errorf("Edge ids differ: %q vs %q", a, b)
	}
	if a == f.Edge(Membership, "o1", "p1", "Mitglied") {
		t.Error("Edge id ignores direction")
	}
	if a == f.Edge(Membership, "p1", "o1", "Vorstand") {
		t.Error("Edge id ignores role")
	}
	if !strings.HasPrefix(a, "x-membership-") {
		t.Errorf("Edge id %q lacks schema slug", a)
	}
	if MakeID("", "  ") != "" {
		t.Error("MakeID of blanks should be empty")
	}
}
