// Package sources holds the built-in source definitions: where a dataset's
// primary records live, how they are paged and which references they carry.
package sources

import (
	"context"
	"errors"
	"net/url"
	"sort"

	"github.com/dataresearchcenter/datasets/pkg/config"
	"github.com/dataresearchcenter/datasets/pkg/failure"
	"github.com/dataresearchcenter/datasets/pkg/materialize"
	"github.com/dataresearchcenter/datasets/pkg/pagination"
	"github.com/dataresearchcenter/datasets/pkg/pipeline"
	"github.com/dataresearchcenter/datasets/pkg/record"
	"github.com/dataresearchcenter/datasets/pkg/resolver"
)

// ErrUnknownSource is returned by Get for unregistered names.
var ErrUnknownSource = errors.New("unknown source")

// Lookups binds an endpoint to an id lookup. *pagination.Collector
// implements it.
type Lookups interface {
	Lookup(endpoint string, query url.Values) func(ctx context.Context, ids []string) ([]record.Record, error)
}

// Source is a built-in source definition.
type Source struct {
	Name        string
	Dataset     string
	Description string
	BaseURL     string
	Endpoint    string
	Query       url.Values

	// URLField is the record path of the source URL for the URL gate.
	URLField string

	Pagination  pagination.Config
	Materialize config.MaterializeConfig

	references func(l Lookups) []resolver.Spec
}

// References builds the reference specs against l.
func (s Source) References(l Lookups) []resolver.Spec {
	if s.references == nil {
		return nil
	}
	return s.references(l)
}

// Definition builds the pipeline definition for dataset.
func (s Source) Definition(dataset string, l Lookups) pipeline.Definition {
	if dataset == "" {
		dataset = s.Dataset
	}
	return pipeline.Definition{
		Dataset:    dataset,
		Endpoint:   s.Endpoint,
		Query:      s.Query,
		References: s.References(l),
		URLField:   s.URLField,
	}
}

var registry = map[string]Source{}

func register(s Source) {
	if _, dup := registry[s.Name]; dup {
		panic("sources: duplicate source " + s.Name)
	}
	registry[s.Name] = s
}

// Get returns the source registered under name.
func Get(name string) (Source, error) {
	s, ok := registry[name]
	if !ok {
		return Source{}, &failure.ConfigError{Component: "sources", Field: "source", Reason: name, Err: ErrUnknownSource}
	}
	return s, nil
}

// Names returns the registered source names sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

const abgeordnetenwatchURL = "https://www.abgeordnetenwatch.de/api/v2"

// abgeordnetenwatchPaging pages with range_start/range_end; the API caps a
// page at 1000 records.
func abgeordnetenwatchPaging() pagination.Config {
	cfg := pagination.DefaultConfig()
	cfg.PageSize = 1000
	return cfg
}

func partySpec(l Lookups) resolver.Spec {
	return resolver.Spec{Name: "party", Field: "party", Lookup: l.Lookup("/parties", nil)}
}

func politicianSpec(l Lookups) resolver.Spec {
	return resolver.Spec{
		Name:   "politician",
		Field:  "politician",
		Lookup: l.Lookup("/politicians", nil),
		Nested: []resolver.Spec{partySpec(l)},
	}
}

func parliamentPeriodSpec(l Lookups) resolver.Spec {
	return resolver.Spec{
		Name:   "parliament_period",
		Field:  "parliament_period",
		Lookup: l.Lookup("/parliament-periods", nil),
		Nested: []resolver.Spec{
			{Name: "parliament", Field: "parliament", Lookup: l.Lookup("/parliaments", nil)},
		},
	}
}

// mandateQuery includes past mandates.
var mandateQuery = url.Values{"current_on": {"all"}}

func init() {
	register(Source{
		Name:        "abgeordnetenwatch_sidejobs",
		Dataset:     "de_abgeordnetenwatch_sidejobs",
		Description: "Sidejobs of German members of parliament with their organizations",
		BaseURL:     abgeordnetenwatchURL,
		Endpoint:    "/sidejobs",
		URLField:    "api_url",
		Pagination:  abgeordnetenwatchPaging(),
		references: func(l Lookups) []resolver.Spec {
			return []resolver.Spec{
				{
					Name:   "mandate",
					Field:  "mandates",
					Lookup: l.Lookup("/candidacies-mandates", mandateQuery),
					Nested: []resolver.Spec{politicianSpec(l), parliamentPeriodSpec(l)},
				},
				{
					Name:   "sidejob_organization",
					Field:  "sidejob_organization",
					Lookup: l.Lookup("/sidejob-organizations", nil),
				},
			}
		},
	})

	register(Source{
		Name:        "abgeordnetenwatch_mandates",
		Dataset:     "de_abgeordnetenwatch_mandates",
		Description: "Candidacies and mandates with their positions and parliament periods",
		BaseURL:     abgeordnetenwatchURL,
		Endpoint:    "/candidacies-mandates",
		Query:       mandateQuery,
		URLField:    "api_url",
		Pagination:  abgeordnetenwatchPaging(),
		references: func(l Lookups) []resolver.Spec {
			return []resolver.Spec{politicianSpec(l), parliamentPeriodSpec(l)}
		},
	})

	register(Source{
		Name:        "abgeordnetenwatch_politicians",
		Dataset:     "de_abgeordnetenwatch_politicians",
		Description: "Politicians with their party memberships",
		BaseURL:     abgeordnetenwatchURL,
		Endpoint:    "/politicians",
		URLField:    "api_url",
		Pagination:  abgeordnetenwatchPaging(),
		references: func(l Lookups) []resolver.Spec {
			return []resolver.Spec{partySpec(l)}
		},
	})

	register(Source{
		Name:        "lobbypedia_parteispenden",
		Dataset:     "de_lobbypedia_parteispenden",
		Description: "Party donations recorded on Lobbypedia",
		BaseURL:     "https://lobbypedia.de",
		Endpoint:    "/api.php",
		Query: url.Values{
			"action":     {"askargs"},
			"format":     {"json"},
			"conditions": {"Kategorie:Parteispende"},
			"printouts":  {"Betrag|Jahr|Empfänger|Geldgeber|Kategorie|Branche|Schlagworte|Ort|Bundesland"},
			"parameters": {"limit=500"},
		},
		URLField: "fullurl",
		Pagination: pagination.Config{
			Mode:         pagination.ModeCursor,
			CursorParam:  "parameters",
			CursorFormat: "limit=500|offset={cursor}",
			Paths: pagination.Paths{
				Items:  "sort_by(values(query.results), &fulltext)",
				Cursor: `"query-continue-offset"`,
			},
		},
		Materialize: config.MaterializeConfig{DefaultKind: materialize.KindDonation},
	})

	register(Source{
		Name:        "lobbyregister",
		Dataset:     "de_lobbyregister",
		Description: "Entries of the German Bundestag lobby register",
		BaseURL:     "https://api.lobbyregister.bundestag.de/rest/v2",
		Endpoint:    "/registerentries",
		Query:       url.Values{"format": {"json"}},
		URLField:    "detailsPageUrl",
		Pagination: pagination.Config{
			Mode:  pagination.ModeSingle,
			Paths: pagination.Paths{Items: "results"},
		},
		Materialize: config.MaterializeConfig{DefaultKind: materialize.KindLobbyEntry},
	})
}
