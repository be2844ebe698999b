package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Review statuses.
const (
	ReviewOpen      = "open"
	ReviewAccepted  = "accepted"
	ReviewDismissed = "dismissed"
)

// ReviewItem is a conflict kept for manual reconciliation. Record and
// Existing hold the JSON form of the rejected input and the stored state
// it collided with.
type ReviewItem struct {
	ID            string          `json:"id"`
	Kind          string          `json:"kind"`
	Record        json.RawMessage `json:"record"`
	Existing      json.RawMessage `json:"existing,omitempty"`
	ChunkChecksum string          `json:"chunk_checksum,omitempty"`
	Status        string          `json:"status"`
	CreatedAt     string          `json:"created_at"`
	ResolvedAt    string          `json:"resolved_at,omitempty"`
}

// Tx is one batch transaction. All graph mutations made by a single
// consolidation unit go through the same Tx and become visible together.
type Tx struct {
	tx  *sql.Tx
	ctx context.Context
	sp  int
}

// Batch runs fn inside a single write transaction. If fn returns an error
// or ctx is cancelled the transaction is rolled back.
func (s *Store) Batch(ctx context.Context, fn func(*Tx) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return fn(&Tx{tx: tx, ctx: ctx})
	})
}

// Savepoint runs fn under a savepoint. When fn fails, its writes are rolled
// back while the enclosing batch stays usable.
func (t *Tx) Savepoint(fn func() error) error {
	t.sp++
	name := fmt.Sprintf("rec_%d", t.sp)
	if _, err := t.tx.ExecContext(t.ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("opening savepoint: %w", err)
	}
	if err := fn(); err != nil {
		if _, rbErr := t.tx.ExecContext(t.ctx, "ROLLBACK TO "+name); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rolling back savepoint: %w", rbErr))
		}
		if _, relErr := t.tx.ExecContext(t.ctx, "RELEASE "+name); relErr != nil {
			return errors.Join(err, fmt.Errorf("releasing savepoint: %w", relErr))
		}
		return err
	}
	if _, err := t.tx.ExecContext(t.ctx, "RELEASE "+name); err != nil {
		return fmt.Errorf("releasing savepoint: %w", err)
	}
	return nil
}

// HasChecksum reports whether fp is recorded, as seen by this transaction.
func (t *Tx) HasChecksum(fp string) (bool, error) {
	var n int
	if err := t.tx.QueryRowContext(t.ctx,
		"SELECT COUNT(*) FROM checksums WHERE checksum = ?", fp).Scan(&n); err != nil {
		return false, fmt.Errorf("checking checksum: %w", err)
	}
	return n > 0, nil
}

// AddChecksum records fp as part of this transaction.
func (t *Tx) AddChecksum(fp string) error {
	if _, err := t.tx.ExecContext(t.ctx, insertChecksumSQL, fp); err != nil {
		return fmt.Errorf("adding checksum: %w", err)
	}
	return nil
}

// EntityByName looks up an entity by exact name.
func (t *Tx) EntityByName(name string) (*Entity, error) {
	return entityByName(t.ctx, t.tx, name)
}

// InsertEntity creates an entity and returns its ID.
func (t *Tx) InsertEntity(name, entityType string) (int64, error) {
	res, err := t.tx.ExecContext(t.ctx,
		"INSERT INTO entities (name, entity_type) VALUES (?, ?)", name, entityType)
	if err != nil {
		return 0, fmt.Errorf("inserting entity %q: %w", name, err)
	}
	return res.LastInsertId()
}

// RelationshipByPair looks up the directed edge source→target.
func (t *Tx) RelationshipByPair(sourceID, targetID int64) (*Relationship, error) {
	return relationshipByPair(t.ctx, t.tx, sourceID, targetID)
}

// InsertRelationship creates the directed edge source→target.
func (t *Tx) InsertRelationship(sourceID, targetID int64, collision bool) (int64, error) {
	res, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO relationships (source_entity_id, target_entity_id, collision)
		VALUES (?, ?, ?)
	`, sourceID, targetID, collision)
	if err != nil {
		return 0, fmt.Errorf("inserting relationship: %w", err)
	}
	return res.LastInsertId()
}

// MarkCollision flags an existing edge as part of a reverse-pair collision.
func (t *Tx) MarkCollision(relID int64) error {
	_, err := t.tx.ExecContext(t.ctx,
		"UPDATE relationships SET collision = 1 WHERE id = ?", relID)
	return err
}

// InsertClaim appends a claim together with the names it concerns.
func (t *Tx) InsertClaim(c Claim) (int64, error) {
	if (c.EntityID == nil) == (c.RelationshipID == nil) {
		return 0, errors.New("claim must reference exactly one entity or relationship")
	}
	var claimDate sql.NullString
	if c.ClaimDate != "" {
		claimDate = sql.NullString{String: c.ClaimDate, Valid: true}
	}
	res, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO claims
			(entity_id, relationship_id, content, document_id, chunk_id,
			 chunk_checksum, date_added, claim_date, disputed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.EntityID, c.RelationshipID, c.Content, c.DocumentID, c.ChunkID,
		c.ChunkChecksum, c.DateAdded, claimDate, c.Disputed)
	if err != nil {
		return 0, fmt.Errorf("inserting claim: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for i, name := range c.Entities {
		if _, err := t.tx.ExecContext(t.ctx,
			"INSERT INTO claim_entities (claim_id, position, entity_name) VALUES (?, ?, ?)",
			id, i, name); err != nil {
			return 0, fmt.Errorf("linking claim entity: %w", err)
		}
	}
	return id, nil
}

// RelationshipClaims returns the claims attached to an edge.
func (t *Tx) RelationshipClaims(relID int64) ([]Claim, error) {
	return claimsWhere(t.ctx, t.tx, "relationship_id = ?", relID)
}

// QueueReview appends a conflict to the review queue.
func (t *Tx) QueueReview(item ReviewItem) error {
	return queueReview(t.ctx, t.tx, item)
}

// GetReview loads a review item inside the transaction.
func (t *Tx) GetReview(id string) (*ReviewItem, error) {
	return getReview(t.ctx, t.tx, id)
}

// SetReviewStatus closes a review item.
func (t *Tx) SetReviewStatus(id, status string) error {
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE review_queue SET status = ?, resolved_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'open'
	`, status, id)
	if err != nil {
		return fmt.Errorf("updating review: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Read-only lookups ---

// EntityByName looks up an entity by exact name.
func (s *Store) EntityByName(ctx context.Context, name string) (*Entity, error) {
	return entityByName(ctx, s.db, name)
}

// EntityByNameAndType looks up an entity by exact (name, type).
func (s *Store) EntityByNameAndType(ctx context.Context, name, entityType string) (*Entity, error) {
	e := &Entity{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, entity_type, created_at FROM entities
		WHERE name = ? AND entity_type = ?
	`, name, entityType).Scan(&e.ID, &e.Name, &e.Type, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// RelationshipByNames looks up the directed edge between two named entities.
func (s *Store) RelationshipByNames(ctx context.Context, source, target string) (*Relationship, error) {
	r := &Relationship{}
	err := s.db.QueryRowContext(ctx, `
		SELECT r.id, r.source_entity_id, r.target_entity_id, s.name, t.name, r.collision, r.created_at
		FROM relationships r
		JOIN entities s ON s.id = r.source_entity_id
		JOIN entities t ON t.id = r.target_entity_id
		WHERE s.name = ? AND t.name = ?
	`, source, target).Scan(&r.ID, &r.SourceEntityID, &r.TargetEntityID,
		&r.Source, &r.Target, &r.Collision, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ClaimsForEntity returns the claims attached to an entity in insertion order.
func (s *Store) ClaimsForEntity(ctx context.Context, entityID int64) ([]Claim, error) {
	return claimsWhere(ctx, s.db, "entity_id = ?", entityID)
}

// ClaimsForRelationship returns the claims attached to an edge in insertion order.
func (s *Store) ClaimsForRelationship(ctx context.Context, relID int64) ([]Claim, error) {
	return claimsWhere(ctx, s.db, "relationship_id = ?", relID)
}

// AllEntities returns all entities.
func (s *Store) AllEntities(ctx context.Context) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, entity_type, created_at FROM entities ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.ID, &e.Name, &e.Type, &e.CreatedAt); err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// AllRelationships returns all edges with their endpoint names.
func (s *Store) AllRelationships(ctx context.Context) ([]Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.source_entity_id, r.target_entity_id, s.name, t.name, r.collision, r.created_at
		FROM relationships r
		JOIN entities s ON s.id = r.source_entity_id
		JOIN entities t ON t.id = r.target_entity_id
		ORDER BY r.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rels []Relationship
	for rows.Next() {
		var r Relationship
		if err := rows.Scan(&r.ID, &r.SourceEntityID, &r.TargetEntityID,
			&r.Source, &r.Target, &r.Collision, &r.CreatedAt); err != nil {
			return nil, err
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

// ListReviews returns review items with the given status, oldest first.
// An empty status lists every item.
func (s *Store) ListReviews(ctx context.Context, status string) ([]ReviewItem, error) {
	query := `SELECT id, kind, record, existing, chunk_checksum, status, created_at, resolved_at
		FROM review_queue`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at, rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ReviewItem
	for rows.Next() {
		item, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// GetReview loads one review item.
func (s *Store) GetReview(ctx context.Context, id string) (*ReviewItem, error) {
	return getReview(ctx, s.db, id)
}

// --- shared query helpers ---

func entityByName(ctx context.Context, q querier, name string) (*Entity, error) {
	e := &Entity{}
	err := q.QueryRowContext(ctx,
		"SELECT id, name, entity_type, created_at FROM entities WHERE name = ?", name).
		Scan(&e.ID, &e.Name, &e.Type, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func relationshipByPair(ctx context.Context, q querier, sourceID, targetID int64) (*Relationship, error) {
	r := &Relationship{}
	err := q.QueryRowContext(ctx, `
		SELECT r.id, r.source_entity_id, r.target_entity_id, s.name, t.name, r.collision, r.created_at
		FROM relationships r
		JOIN entities s ON s.id = r.source_entity_id
		JOIN entities t ON t.id = r.target_entity_id
		WHERE r.source_entity_id = ? AND r.target_entity_id = ?
	`, sourceID, targetID).Scan(&r.ID, &r.SourceEntityID, &r.TargetEntityID,
		&r.Source, &r.Target, &r.Collision, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func claimsWhere(ctx context.Context, q querier, where string, args ...any) ([]Claim, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, entity_id, relationship_id, content, document_id, chunk_id,
			chunk_checksum, date_added, claim_date, disputed
		FROM claims WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}

	var claims []Claim
	for rows.Next() {
		var c Claim
		var claimDate sql.NullString
		if err := rows.Scan(&c.ID, &c.EntityID, &c.RelationshipID, &c.Content,
			&c.DocumentID, &c.ChunkID, &c.ChunkChecksum, &c.DateAdded,
			&claimDate, &c.Disputed); err != nil {
			rows.Close()
			return nil, err
		}
		c.ClaimDate = claimDate.String
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(claims) == 0 {
		return claims, nil
	}

	byID := make(map[int64]*Claim, len(claims))
	ids := make([]any, len(claims))
	for i := range claims {
		byID[claims[i].ID] = &claims[i]
		ids[i] = claims[i].ID
	}
	nameRows, err := q.QueryContext(ctx, `
		SELECT claim_id, entity_name FROM claim_entities
		WHERE claim_id IN (?`+repeatPlaceholders(len(ids)-1)+`)
		ORDER BY claim_id, position`, ids...)
	if err != nil {
		return nil, err
	}
	defer nameRows.Close()
	for nameRows.Next() {
		var id int64
		var name string
		if err := nameRows.Scan(&id, &name); err != nil {
			return nil, err
		}
		if c, ok := byID[id]; ok {
			c.Entities = append(c.Entities, name)
		}
	}
	return claims, nameRows.Err()
}

func queueReview(ctx context.Context, q querier, item ReviewItem) error {
	if item.Status == "" {
		item.Status = ReviewOpen
	}
	var existing, chunk sql.NullString
	if len(item.Existing) > 0 {
		existing = sql.NullString{String: string(item.Existing), Valid: true}
	}
	if item.ChunkChecksum != "" {
		chunk = sql.NullString{String: item.ChunkChecksum, Valid: true}
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO review_queue (id, kind, record, existing, chunk_checksum, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, item.ID, item.Kind, string(item.Record), existing, chunk, item.Status)
	if err != nil {
		return fmt.Errorf("queueing review: %w", err)
	}
	return nil
}

func getReview(ctx context.Context, q querier, id string) (*ReviewItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, kind, record, existing, chunk_checksum, status, created_at, resolved_at
		FROM review_queue WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanReview(rows)
}

func scanReview(rows *sql.Rows) (*ReviewItem, error) {
	var item ReviewItem
	var record string
	var existing, chunk, resolved sql.NullString
	if err := rows.Scan(&item.ID, &item.Kind, &record, &existing, &chunk,
		&item.Status, &item.CreatedAt, &resolved); err != nil {
		return nil, err
	}
	item.Record = json.RawMessage(record)
	if existing.Valid {
		item.Existing = json.RawMessage(existing.String)
	}
	item.ChunkChecksum = chunk.String
	item.ResolvedAt = resolved.String
	return &item, nil
}

// int64Args converts IDs into query arguments.
func int64Args(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimPrefix(strings.Repeat(", ?", n), ", ")
}
