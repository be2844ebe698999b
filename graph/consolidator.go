package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brunobiangulo/nexus/extract"
	"github.com/brunobiangulo/nexus/store"
)

// CollisionPolicy decides how RelationshipCollision is resolved.
type CollisionPolicy string

const (
	// CollisionStoreBoth creates the new edge alongside its reverse and
	// flags both as colliding.
	CollisionStoreBoth CollisionPolicy = "store_both"
	// CollisionHold leaves the new edge out and queues it for review.
	CollisionHold CollisionPolicy = "hold"
)

// MergePolicy decides how RelationshipMergeConflict is resolved.
type MergePolicy string

const (
	// MergeAppendDisputed attaches the claim with its disputed flag set.
	MergeAppendDisputed MergePolicy = "append_disputed"
	// MergeReject drops the claim and queues it for review.
	MergeReject MergePolicy = "reject"
)

// Policies groups the conflict resolution switches.
type Policies struct {
	Collision     CollisionPolicy `json:"collision_policy" yaml:"collision_policy"`
	Merge         MergePolicy     `json:"merge_policy" yaml:"merge_policy"`
	CascadeDelete bool            `json:"cascade_delete" yaml:"cascade_delete"`
}

// DefaultPolicies stores both sides of a collision, appends disputed claims
// and refuses deletions that have dependents.
func DefaultPolicies() Policies {
	return Policies{Collision: CollisionStoreBoth, Merge: MergeAppendDisputed}
}

// Validate rejects unknown policy names.
func (p Policies) Validate() error {
	switch p.Collision {
	case CollisionStoreBoth, CollisionHold:
	default:
		return fmt.Errorf("unknown collision policy %q", p.Collision)
	}
	switch p.Merge {
	case MergeAppendDisputed, MergeReject:
	default:
		return fmt.Errorf("unknown merge policy %q", p.Merge)
	}
	return nil
}

// ContentCheck reports whether incoming contradicts the claims already
// attached to an edge. A nil ContentCheck never reports a contradiction.
type ContentCheck func(existing []store.Claim, incoming string) bool

// Mirror receives committed graph changes for projection into another
// graph store. Mirror failures are logged and never undo a commit.
type Mirror interface {
	MirrorEntity(ctx context.Context, e store.Entity, c store.Claim) error
	MirrorRelationship(ctx context.Context, r store.Relationship, c store.Claim) error
	RemoveEntity(ctx context.Context, name string) error
	RemoveRelationship(ctx context.Context, source, target string) error
}

// Unit is one chunk's canonical extraction output, committed atomically.
type Unit struct {
	DocumentID    *int64
	ChunkID       *int64
	ChunkChecksum string
	Entities      []extract.EntityRecord
	Relationships []extract.RelationshipRecord
	// DateAdded defaults to the current UTC date.
	DateAdded string
}

// NewEntity identifies an entity created by a commit.
type NewEntity struct {
	ID    int64
	Name  string
	Type  string
	Claim string
}

// Outcome summarizes one commit.
type Outcome struct {
	// Skipped is set when the chunk checksum was already recorded; nothing
	// was written.
	Skipped              bool
	EntitiesCreated      int
	RelationshipsCreated int
	ClaimsAttached       int
	Conflicts            ConflictCounts
	NewEntities          []NewEntity
	ReviewIDs            []string
}

// Options configures a Consolidator.
type Options struct {
	Policies     Policies
	ContentCheck ContentCheck
	Locker       Locker
	Mirror       Mirror
	// OnConflict observes every conflict after it has been logged.
	OnConflict func(*Conflict)
}

// Consolidator merges extraction units into the persistent graph.
type Consolidator struct {
	store    *store.Store
	policies Policies
	check    ContentCheck
	locker   Locker
	mirror   Mirror
	observe  func(*Conflict)
	log      *zap.Logger
	now      func() time.Time
}

// NewConsolidator returns a Consolidator writing to s.
func NewConsolidator(s *store.Store, opts Options, logger *zap.Logger) (*Consolidator, error) {
	if opts.Policies.Collision == "" {
		opts.Policies.Collision = CollisionStoreBoth
	}
	if opts.Policies.Merge == "" {
		opts.Policies.Merge = MergeAppendDisputed
	}
	if err := opts.Policies.Validate(); err != nil {
		return nil, err
	}
	if opts.Locker == nil {
		opts.Locker = NewKeyedMutex()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consolidator{
		store:    s,
		policies: opts.Policies,
		check:    opts.ContentCheck,
		locker:   opts.Locker,
		mirror:   opts.Mirror,
		observe:  opts.OnConflict,
		log:      logger.With(zap.String("component", "consolidator")),
		now:      time.Now,
	}, nil
}

// Policies returns the active conflict policies.
func (c *Consolidator) Policies() Policies {
	return c.policies
}

// reviewRecord is the JSON kept in the review queue for a rejected record.
type reviewRecord struct {
	Entity        *extract.EntityRecord       `json:"entity,omitempty"`
	Relationship  *extract.RelationshipRecord `json:"relationship,omitempty"`
	Target        string                      `json:"target,omitempty"`
	DocumentID    *int64                      `json:"document_id,omitempty"`
	ChunkID       *int64                      `json:"chunk_id,omitempty"`
	ChunkChecksum string                      `json:"chunk_checksum,omitempty"`
	DateAdded     string                      `json:"date_added,omitempty"`
}

// pending mirror writes, applied after COMMIT.
type mirrorOp struct {
	entity *store.Entity
	rel    *store.Relationship
	claim  store.Claim
}

// Commit merges u in one transaction. Every record runs under its own
// savepoint: conflicts reject or flag the record without touching the
// rest of the unit. The chunk checksum is recorded in the same
// transaction, so it exists exactly when the merge does. Store errors
// abort the whole unit.
func (c *Consolidator) Commit(ctx context.Context, u Unit) (*Outcome, error) {
	if u.DateAdded == "" {
		u.DateAdded = c.now().UTC().Format("2006-01-02")
	}

	unlock, err := c.locker.Lock(ctx, unitKeys(u))
	if err != nil {
		return nil, fmt.Errorf("locking unit: %w", err)
	}
	defer unlock()

	var (
		out  = &Outcome{}
		ops  []mirrorOp
		logs []*Conflict
	)
	err = c.store.Batch(ctx, func(tx *store.Tx) error {
		if u.ChunkChecksum != "" {
			done, err := tx.HasChecksum(u.ChunkChecksum)
			if err != nil {
				return err
			}
			if done {
				out.Skipped = true
				return nil
			}
		}

		for i := range u.Entities {
			rec := u.Entities[i]
			var res entityResult
			err := tx.Savepoint(func() error {
				var err error
				res, err = c.commitEntity(tx, u, rec)
				return err
			})
			var conflict *Conflict
			switch {
			case errors.As(err, &conflict):
				if err := c.queue(tx, u, conflict, out); err != nil {
					return err
				}
				logs = append(logs, conflict)
				continue
			case err != nil:
				return err
			}
			if res.created {
				out.EntitiesCreated++
				out.NewEntities = append(out.NewEntities, NewEntity{
					ID: res.entity.ID, Name: res.entity.Name, Type: res.entity.Type, Claim: rec.Claim,
				})
			}
			out.ClaimsAttached++
			ops = append(ops, mirrorOp{entity: &res.entity, claim: res.claim})
		}

		for i := range u.Relationships {
			rec := u.Relationships[i]
			var res relationshipResult
			err := tx.Savepoint(func() error {
				var err error
				res, err = c.commitRelationship(tx, u, rec)
				return err
			})
			var conflict *Conflict
			switch {
			case errors.As(err, &conflict):
				if err := c.queue(tx, u, conflict, out); err != nil {
					return err
				}
				logs = append(logs, conflict)
				continue
			case err != nil:
				return err
			}
			if res.flagged != nil {
				if err := c.queue(tx, u, res.flagged, out); err != nil {
					return err
				}
				logs = append(logs, res.flagged)
			}
			if res.created {
				out.RelationshipsCreated++
			}
			out.ClaimsAttached++
			ops = append(ops, mirrorOp{rel: &res.rel, claim: res.claim})
		}

		if u.ChunkChecksum != "" {
			return tx.AddChecksum(u.ChunkChecksum)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, conflict := range logs {
		c.report(conflict, u.ChunkChecksum)
	}
	c.applyMirror(ctx, ops)
	return out, nil
}

type entityResult struct {
	created bool
	entity  store.Entity
	claim   store.Claim
}

func (c *Consolidator) commitEntity(tx *store.Tx, u Unit, rec extract.EntityRecord) (entityResult, error) {
	var res entityResult
	existing, err := tx.EntityByName(rec.Name)
	switch {
	case errors.Is(err, store.ErrNotFound):
		id, err := tx.InsertEntity(rec.Name, rec.Type)
		if err != nil {
			return res, err
		}
		res.created = true
		res.entity = store.Entity{ID: id, Name: rec.Name, Type: rec.Type}
	case err != nil:
		return res, err
	case existing.Type != rec.Type:
		return res, &Conflict{
			Kind:       AliasConflict,
			Record:     rec,
			Existing:   existing,
			Resolution: ResolutionRejected,
		}
	default:
		res.entity = *existing
	}

	res.claim = c.claim(u, rec.Claim, rec.ClaimDate, []string{rec.Name}, false)
	res.claim.EntityID = &res.entity.ID
	id, err := tx.InsertClaim(res.claim)
	if err != nil {
		return res, err
	}
	res.claim.ID = id
	return res, nil
}

type relationshipResult struct {
	created bool
	rel     store.Relationship
	claim   store.Claim
	flagged *Conflict
}

func (c *Consolidator) commitRelationship(tx *store.Tx, u Unit, rec extract.RelationshipRecord) (relationshipResult, error) {
	var res relationshipResult

	src, err := c.endpoint(tx, rec, rec.Source)
	if err != nil {
		return res, err
	}
	tgt, err := c.endpoint(tx, rec, rec.Target)
	if err != nil {
		return res, err
	}

	disputed := false
	edge, err := tx.RelationshipByPair(src.ID, tgt.ID)
	switch {
	case err == nil:
		res.rel = *edge
		if c.check != nil {
			existing, err := tx.RelationshipClaims(edge.ID)
			if err != nil {
				return res, err
			}
			if c.check(existing, rec.Claim) {
				conflict := &Conflict{Kind: RelationshipMergeConflict, Record: rec, Existing: existing}
				if c.policies.Merge == MergeReject {
					conflict.Resolution = ResolutionRejected
					return res, conflict
				}
				conflict.Resolution = ResolutionAppendDisputed
				res.flagged = conflict
				disputed = true
			}
		}

	case errors.Is(err, store.ErrNotFound):
		collision := false
		if src.ID != tgt.ID {
			reverse, err := tx.RelationshipByPair(tgt.ID, src.ID)
			switch {
			case err == nil:
				conflict := &Conflict{Kind: RelationshipCollision, Record: rec, Existing: reverse}
				if c.policies.Collision == CollisionHold {
					conflict.Resolution = ResolutionHeld
					return res, conflict
				}
				conflict.Resolution = ResolutionStoredBoth
				res.flagged = conflict
				collision = true
				if err := tx.MarkCollision(reverse.ID); err != nil {
					return res, err
				}
			case !errors.Is(err, store.ErrNotFound):
				return res, err
			}
		}
		id, err := tx.InsertRelationship(src.ID, tgt.ID, collision)
		if err != nil {
			return res, err
		}
		res.created = true
		res.rel = store.Relationship{
			ID: id, SourceEntityID: src.ID, TargetEntityID: tgt.ID,
			Source: src.Name, Target: tgt.Name, Collision: collision,
		}

	default:
		return res, err
	}

	res.claim = c.claim(u, rec.Claim, rec.ClaimDate, []string{rec.Source, rec.Target}, disputed)
	res.claim.RelationshipID = &res.rel.ID
	id, err := tx.InsertClaim(res.claim)
	if err != nil {
		return res, err
	}
	res.claim.ID = id
	return res, nil
}

// endpoint resolves a relationship endpoint by exact name. Entities the
// unit created earlier are visible through the transaction.
func (c *Consolidator) endpoint(tx *store.Tx, rec extract.RelationshipRecord, name string) (*store.Entity, error) {
	e, err := tx.EntityByName(name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &Conflict{
			Kind:       EntityNotFound,
			Record:     rec,
			Existing:   map[string]string{"missing": name},
			Resolution: ResolutionRejected,
		}
	}
	return e, err
}

func (c *Consolidator) claim(u Unit, content, date string, names []string, disputed bool) store.Claim {
	return store.Claim{
		Content:       content,
		DocumentID:    u.DocumentID,
		ChunkID:       u.ChunkID,
		ChunkChecksum: u.ChunkChecksum,
		DateAdded:     u.DateAdded,
		ClaimDate:     date,
		Entities:      names,
		Disputed:      disputed,
	}
}

// queue counts a conflict and appends it to the review queue.
func (c *Consolidator) queue(tx *store.Tx, u Unit, conflict *Conflict, out *Outcome) error {
	rr := reviewRecord{
		DocumentID:    u.DocumentID,
		ChunkID:       u.ChunkID,
		ChunkChecksum: u.ChunkChecksum,
		DateAdded:     u.DateAdded,
	}
	switch r := conflict.Record.(type) {
	case extract.EntityRecord:
		rr.Entity = &r
	case extract.RelationshipRecord:
		rr.Relationship = &r
	}
	item, err := newReviewItem(conflict, rr)
	if err != nil {
		return err
	}
	if err := tx.QueueReview(item); err != nil {
		return err
	}
	out.Conflicts.Add(conflict.Kind)
	out.ReviewIDs = append(out.ReviewIDs, item.ID)
	return nil
}

func newReviewItem(conflict *Conflict, rr reviewRecord) (store.ReviewItem, error) {
	record, err := json.Marshal(rr)
	if err != nil {
		return store.ReviewItem{}, fmt.Errorf("encoding review record: %w", err)
	}
	var existing []byte
	if conflict.Existing != nil {
		existing, err = json.Marshal(conflict.Existing)
		if err != nil {
			return store.ReviewItem{}, fmt.Errorf("encoding review state: %w", err)
		}
	}
	return store.ReviewItem{
		ID:            uuid.NewString(),
		Kind:          conflict.Kind.String(),
		Record:        record,
		Existing:      existing,
		ChunkChecksum: rr.ChunkChecksum,
		Status:        store.ReviewOpen,
	}, nil
}

func (c *Consolidator) report(conflict *Conflict, chunk string) {
	c.log.Warn("consolidator: conflict",
		zap.String("kind", conflict.Kind.String()),
		zap.String("resolution", conflict.Resolution),
		zap.String("chunk", chunk),
		zap.Any("record", conflict.Record),
		zap.Any("existing", conflict.Existing))
	if c.observe != nil {
		c.observe(conflict)
	}
}

func (c *Consolidator) applyMirror(ctx context.Context, ops []mirrorOp) {
	if c.mirror == nil {
		return
	}
	for _, op := range ops {
		var err error
		switch {
		case op.entity != nil:
			err = c.mirror.MirrorEntity(ctx, *op.entity, op.claim)
		case op.rel != nil:
			err = c.mirror.MirrorRelationship(ctx, *op.rel, op.claim)
		}
		if err != nil {
			c.log.Warn("consolidator: mirror write failed", zap.Error(err))
		}
	}
}

// unitKeys returns the lock keys of every entity name u touches.
func unitKeys(u Unit) []string {
	keys := make([]string, 0, len(u.Entities)+2*len(u.Relationships))
	for _, e := range u.Entities {
		keys = append(keys, "entity:"+e.Name)
	}
	for _, r := range u.Relationships {
		keys = append(keys, "entity:"+r.Source, "entity:"+r.Target)
	}
	return keys
}
