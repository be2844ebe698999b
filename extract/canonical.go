package extract

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// EndpointPolicy decides what happens to a relationship whose endpoint was
// not declared by an entity tuple of the same response.
type EndpointPolicy string

const (
	// EndpointStore passes the record on; the consolidator resolves the
	// endpoint against the graph and reports EntityNotFound if absent.
	EndpointStore EndpointPolicy = "store"
	// EndpointStrict drops the record.
	EndpointStrict EndpointPolicy = "strict"
)

// ParseEndpointPolicy validates a configured policy name.
func ParseEndpointPolicy(s string) (EndpointPolicy, error) {
	switch p := EndpointPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", EndpointStore:
		return EndpointStore, nil
	case EndpointStrict:
		return EndpointStrict, nil
	default:
		return "", fmt.Errorf("unknown endpoint policy %q", s)
	}
}

// Canonicalizer validates parsed records before consolidation. Names are
// trimmed of surrounding whitespace only; case and diacritics are kept.
type Canonicalizer struct {
	types  map[string]string // upper-cased → configured spelling
	policy EndpointPolicy
	log    *zap.Logger
}

// NewCanonicalizer returns a canonicalizer accepting the given entity types.
func NewCanonicalizer(types []string, policy EndpointPolicy, logger *zap.Logger) *Canonicalizer {
	if len(types) == 0 {
		types = DefaultEntityTypes
	}
	if policy == "" {
		policy = EndpointStore
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := make(map[string]string, len(types))
	for _, t := range types {
		m[strings.ToUpper(strings.TrimSpace(t))] = t
	}
	return &Canonicalizer{
		types:  m,
		policy: policy,
		log:    logger.With(zap.String("component", "canonicalizer")),
	}
}

// Result holds the records that passed validation.
type Result struct {
	Entities      []EntityRecord
	Relationships []RelationshipRecord
	Dropped       int
}

// Canonicalize filters r. Entities of a type outside the allowed set are
// dropped. Relationship endpoints are checked against the entities this
// response declared, following the endpoint policy.
func (c *Canonicalizer) Canonicalize(r *Response) *Result {
	out := &Result{}
	declared := make(map[string]bool)

	for _, e := range r.Entities {
		e.Name = strings.TrimSpace(e.Name)
		e.Claim = strings.TrimSpace(e.Claim)
		typ, ok := c.types[strings.ToUpper(strings.TrimSpace(e.Type))]
		if !ok {
			out.Dropped++
			c.log.Warn("canonicalizer: entity type not allowed",
				zap.String("name", e.Name), zap.String("type", e.Type))
			continue
		}
		if e.Name == "" || e.Claim == "" {
			out.Dropped++
			continue
		}
		e.Type = typ
		declared[e.Name] = true
		out.Entities = append(out.Entities, e)
	}

	for _, rel := range r.Relationships {
		rel.Source = strings.TrimSpace(rel.Source)
		rel.Target = strings.TrimSpace(rel.Target)
		rel.Claim = strings.TrimSpace(rel.Claim)
		rel.Undeclared = nil
		if rel.Source == "" || rel.Target == "" || rel.Claim == "" {
			out.Dropped++
			continue
		}

		for _, name := range []string{rel.Source, rel.Target} {
			if !declared[name] && !contains(rel.Undeclared, name) {
				rel.Undeclared = append(rel.Undeclared, name)
			}
		}
		if len(rel.Undeclared) > 0 && c.policy == EndpointStrict {
			out.Dropped++
			c.log.Warn("canonicalizer: relationship endpoint not declared",
				zap.String("source", rel.Source), zap.String("target", rel.Target),
				zap.Strings("undeclared", rel.Undeclared))
			continue
		}
		out.Relationships = append(out.Relationships, rel)
	}

	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
