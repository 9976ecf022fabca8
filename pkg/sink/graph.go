package sink

import (
	"context"
	"fmt"
	"strings"

	"github.com/dataresearchcenter/datasets/pkg/entity"
	"github.com/dataresearchcenter/datasets/pkg/logging"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/zerolog"
)

// NodeLabel is shared by every node so relationships can match their
// endpoints regardless of schema.
const NodeLabel = "Entity"

// GraphConfig holds the Bolt connection settings.
type GraphConfig struct {
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// GraphSink merges entities into a Neo4j or Memgraph database. Nodes are
// merged by id and carry their schema as a label; relationships are merged
// by id between their role endpoints. Re-emitting an entity overwrites its
// properties, so repeated runs converge on the same graph.
type GraphSink struct {
	driver  neo4j.DriverWithContext
	cfg     GraphConfig
	dataset string
	logger  zerolog.Logger
}

// NewGraphSink connects to the database and verifies connectivity.
func NewGraphSink(ctx context.Context, cfg GraphConfig, dataset string) (*GraphSink, error) {
	auth := neo4j.NoAuth()
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create graph driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("graph database unreachable at %s: %w", cfg.URI, err)
	}
	return &GraphSink{
		driver:  driver,
		cfg:     cfg,
		dataset: dataset,
		logger:  logging.NewLogger("sink"),
	}, nil
}

// Emit merges one entity.
func (s *GraphSink) Emit(ctx context.Context, e entity.Entity) error {
	stmt := statementFor(e, s.dataset)

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.cfg.Database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, stmt.cypher, stmt.params)
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		s.logger.Error().Err(err).
			Str("entity_id", e.ID).
			Str("schema", string(e.Schema)).
			Msg("Failed to merge entity into graph")
		return observe("graph", fmt.Errorf("merge %s %s: %w", e.Schema, e.ID, err))
	}
	return observe("graph", nil)
}

// Close closes the driver.
func (s *GraphSink) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

type statement struct {
	cypher string
	params map[string]any
}

// statementFor renders the MERGE statement of e. Labels and relationship
// types come from the closed schema vocabulary and are sanitized before
// being interpolated; everything else is a parameter.
func statementFor(e entity.Entity, dataset string) statement {
	props := map[string]any{
		"id":      e.ID,
		"schema":  string(e.Schema),
		"dataset": dataset,
	}
	source, target := e.Schema.Roles()
	for name, values := range e.Properties() {
		if name == source || name == target {
			continue
		}
		props[name] = values
	}

	if !e.Schema.IsEdge() {
		return statement{
			cypher: fmt.Sprintf(`
		MERGE (n:%s {id: $id})
		SET n:%s, n = $props`, NodeLabel, sanitizeLabel(string(e.Schema))),
			params: map[string]any{"id": e.ID, "props": props},
		}
	}

	from, to := e.Endpoints()
	return statement{
		cypher: fmt.Sprintf(`
		MERGE (from:%s {id: $from_id})
		MERGE (to:%s {id: $to_id})
		MERGE (from)-[r:%s {id: $id}]->(to)
		SET r = $props`, NodeLabel, NodeLabel, relationshipType(e.Schema)),
		params: map[string]any{"id": e.ID, "from_id": from, "to_id": to, "props": props},
	}
}

func relationshipType(schema entity.Schema) string {
	return strings.ToUpper(sanitizeLabel(string(schema)))
}

// sanitizeLabel keeps ASCII letters, digits and underscores.
func sanitizeLabel(label string) string {
	var b strings.Builder
	for _, c := range label {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			b.WriteRune(c)
		}
	}
	if b.Len() == 0 {
		return NodeLabel
	}
	return b.String()
}
