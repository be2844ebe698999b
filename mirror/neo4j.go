// Package mirror projects the consolidated graph into Neo4j.
package mirror

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/brunobiangulo/nexus/store"
)

// Config locates the Neo4j server. An empty URI disables the mirror.
type Config struct {
	URI      string        `json:"uri" yaml:"uri"`
	User     string        `json:"user" yaml:"user"`
	Password string        `json:"password" yaml:"password"`
	Database string        `json:"database" yaml:"database"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
}

// Neo4j writes entities as (:Entity) nodes, relationships as [:RELATES]
// edges and claims as (:Claim) nodes linked with [:ASSERTS]. Every write
// is a MERGE so replays converge.
type Neo4j struct {
	driver   neo4j.DriverWithContext
	database string
	log      *zap.Logger
}

// Connect opens and verifies a driver. It returns nil, nil when cfg.URI is
// empty.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*Neo4j, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, nil
	}
	if cfg.User == "" {
		cfg.User = "neo4j"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""),
		func(c *neo4j.Config) {
			c.SocketConnectTimeout = cfg.Timeout
		})
	if err != nil {
		return nil, fmt.Errorf("mirror: init driver: %w", err)
	}

	vctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("mirror: verify connectivity: %w", err)
	}

	m := New(driver, cfg.Database, logger)
	m.ensureSchema(ctx)
	return m, nil
}

// New wraps an existing driver.
func New(driver neo4j.DriverWithContext, database string, logger *zap.Logger) *Neo4j {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Neo4j{
		driver:   driver,
		database: database,
		log:      logger.With(zap.String("component", "mirror")),
	}
}

// Close releases the driver.
func (m *Neo4j) Close(ctx context.Context) error {
	if m == nil || m.driver == nil {
		return nil
	}
	err := m.driver.Close(ctx)
	m.driver = nil
	return err
}

// Best effort; a failure only costs lookup speed.
func (m *Neo4j) ensureSchema(ctx context.Context) {
	stmts := []string{
		`CREATE CONSTRAINT nexus_entity_name IF NOT EXISTS FOR (e:Entity) REQUIRE e.name IS UNIQUE`,
		`CREATE CONSTRAINT nexus_claim_id IF NOT EXISTS FOR (c:Claim) REQUIRE c.id IS UNIQUE`,
	}
	for _, q := range stmts {
		if err := m.write(ctx, q, nil); err != nil {
			m.log.Warn("mirror: schema init failed (continuing)", zap.Error(err))
		}
	}
}

const entityCypher = `
MERGE (e:Entity {name: $name})
SET e.type = $type, e.sqlite_id = $entity_id
WITH e
MERGE (c:Claim {id: $claim.id})
SET c += $claim
MERGE (c)-[:ASSERTS]->(e)
`

const relationshipCypher = `
MERGE (s:Entity {name: $source})
MERGE (t:Entity {name: $target})
MERGE (s)-[r:RELATES]->(t)
SET r.sqlite_id = $relationship_id, r.collision = $collision
WITH s, t
MERGE (c:Claim {id: $claim.id})
SET c += $claim
MERGE (c)-[:ASSERTS]->(s)
MERGE (c)-[:ASSERTS]->(t)
`

const removeEntityCypher = `
MATCH (e:Entity {name: $name})
OPTIONAL MATCH (c:Claim)-[:ASSERTS]->(e)
WHERE NOT EXISTS { MATCH (c)-[:ASSERTS]->(o:Entity) WHERE o <> e }
DETACH DELETE c, e
`

const removeRelationshipCypher = `
MATCH (s:Entity {name: $source})-[r:RELATES]->(t:Entity {name: $target})
DELETE r
WITH s, t
MATCH (c:Claim {relationship: true})-[:ASSERTS]->(s), (c)-[:ASSERTS]->(t)
WHERE c.source = $source AND c.target = $target
DETACH DELETE c
`

func claimParams(c store.Claim) map[string]any {
	p := map[string]any{
		"id":             c.ID,
		"content":        c.Content,
		"chunk_checksum": c.ChunkChecksum,
		"date_added":     c.DateAdded,
		"disputed":       c.Disputed,
		"relationship":   c.RelationshipID != nil,
	}
	if c.ClaimDate != "" {
		p["claim_date"] = c.ClaimDate
	}
	if c.DocumentID != nil {
		p["document_id"] = *c.DocumentID
	}
	return p
}

func entityParams(e store.Entity, c store.Claim) map[string]any {
	return map[string]any{
		"name":      e.Name,
		"type":      e.Type,
		"entity_id": e.ID,
		"claim":     claimParams(c),
	}
}

func relationshipParams(r store.Relationship, c store.Claim) map[string]any {
	claim := claimParams(c)
	claim["source"] = r.Source
	claim["target"] = r.Target
	return map[string]any{
		"source":          r.Source,
		"target":          r.Target,
		"relationship_id": r.ID,
		"collision":       r.Collision,
		"claim":           claim,
	}
}

// MirrorEntity upserts e and attaches c.
func (m *Neo4j) MirrorEntity(ctx context.Context, e store.Entity, c store.Claim) error {
	return m.write(ctx, entityCypher, entityParams(e, c))
}

// MirrorRelationship upserts the edge r and attaches c to both endpoints.
func (m *Neo4j) MirrorRelationship(ctx context.Context, r store.Relationship, c store.Claim) error {
	return m.write(ctx, relationshipCypher, relationshipParams(r, c))
}

// RemoveEntity deletes the entity node, its edges and claims only it holds.
func (m *Neo4j) RemoveEntity(ctx context.Context, name string) error {
	return m.write(ctx, removeEntityCypher, map[string]any{"name": name})
}

// RemoveRelationship deletes the edge source→target and its claims.
func (m *Neo4j) RemoveRelationship(ctx context.Context, source, target string) error {
	return m.write(ctx, removeRelationshipCypher, map[string]any{"source": source, "target": target})
}

func (m *Neo4j) write(ctx context.Context, cypher string, params map[string]any) error {
	if m == nil || m.driver == nil {
		return nil
	}
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: m.database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("mirror: %w", err)
	}
	return nil
}
