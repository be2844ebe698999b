package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/brunobiangulo/nexus/store"
)

// Review actions.
const (
	ActionAccept  = "accept"
	ActionDismiss = "dismiss"
)

// ErrNotAcceptable is returned when accept is requested for a review item
// that has no automatic resolution.
var ErrNotAcceptable = errors.New("review item cannot be accepted")

// DeleteChecksum removes a fingerprint from the ledger so the content it
// names can be ingested again. Dependents raise DeletionConflict unless
// cascade deletion is enabled.
func (c *Consolidator) DeleteChecksum(ctx context.Context, fp string) (*store.DeleteResult, error) {
	res, err := c.store.DeleteChecksum(ctx, fp, c.policies.CascadeDelete)
	if err != nil {
		return nil, c.deletionConflict(ctx, err, "checksum", fp)
	}
	c.log.Info("consolidator: checksum deleted",
		zap.String("checksum", fp), zap.Bool("found", res.Found),
		zap.Int("claims", res.Claims), zap.Int("entities", res.Entities))
	return res, nil
}

// DeleteEntity removes an entity by exact name.
func (c *Consolidator) DeleteEntity(ctx context.Context, name string) (*store.DeleteResult, error) {
	unlock, err := c.locker.Lock(ctx, []string{"entity:" + name})
	if err != nil {
		return nil, fmt.Errorf("locking entity: %w", err)
	}
	defer unlock()

	res, err := c.store.DeleteEntity(ctx, name, c.policies.CascadeDelete)
	if err != nil {
		return nil, c.deletionConflict(ctx, err, "entity", name)
	}
	if res.Found && c.mirror != nil {
		if err := c.mirror.RemoveEntity(ctx, name); err != nil {
			c.log.Warn("consolidator: mirror delete failed", zap.String("entity", name), zap.Error(err))
		}
	}
	return res, nil
}

// DeleteRelationship removes the directed edge source→target.
func (c *Consolidator) DeleteRelationship(ctx context.Context, source, target string) (*store.DeleteResult, error) {
	unlock, err := c.locker.Lock(ctx, []string{"entity:" + source, "entity:" + target})
	if err != nil {
		return nil, fmt.Errorf("locking relationship: %w", err)
	}
	defer unlock()

	res, err := c.store.DeleteRelationship(ctx, source, target, c.policies.CascadeDelete)
	if err != nil {
		return nil, c.deletionConflict(ctx, err, "relationship", source+"->"+target)
	}
	if res.Found && c.mirror != nil {
		if err := c.mirror.RemoveRelationship(ctx, source, target); err != nil {
			c.log.Warn("consolidator: mirror delete failed",
				zap.String("source", source), zap.String("target", target), zap.Error(err))
		}
	}
	return res, nil
}

// deletionConflict turns a dependents error into a queued DeletionConflict.
// Other errors are returned unchanged.
func (c *Consolidator) deletionConflict(ctx context.Context, err error, kind, target string) error {
	var dep *store.DependentsError
	if !errors.As(err, &dep) {
		return err
	}
	conflict := &Conflict{
		Kind:       DeletionConflict,
		Record:     map[string]string{"kind": kind, "target": target},
		Existing:   dep,
		Resolution: ResolutionRefused,
	}
	item, qerr := newReviewItem(conflict, reviewRecord{Target: kind + ":" + target})
	if qerr != nil {
		return errors.Join(conflict, qerr)
	}
	if qerr := c.store.Batch(ctx, func(tx *store.Tx) error { return tx.QueueReview(item) }); qerr != nil {
		return errors.Join(conflict, qerr)
	}
	c.report(conflict, "")
	return conflict
}

// ResolveReview closes an open review item. dismiss only closes it.
// accept applies the held change: a held collision edge is created with
// its collision flag, a rejected merge claim is attached as disputed.
func (c *Consolidator) ResolveReview(ctx context.Context, id, action string) error {
	if action != ActionAccept && action != ActionDismiss {
		return fmt.Errorf("unknown review action %q", action)
	}

	item, err := c.store.GetReview(ctx, id)
	if err != nil {
		return err
	}
	var rr reviewRecord
	if err := json.Unmarshal(item.Record, &rr); err != nil {
		return fmt.Errorf("decoding review record: %w", err)
	}

	var keys []string
	if rr.Relationship != nil {
		keys = []string{"entity:" + rr.Relationship.Source, "entity:" + rr.Relationship.Target}
	}
	unlock, err := c.locker.Lock(ctx, keys)
	if err != nil {
		return fmt.Errorf("locking review: %w", err)
	}
	defer unlock()

	var ops []mirrorOp
	err = c.store.Batch(ctx, func(tx *store.Tx) error {
		if action == ActionDismiss {
			return tx.SetReviewStatus(id, store.ReviewDismissed)
		}

		kind, err := ParseConflictKind(item.Kind)
		if err != nil {
			return err
		}
		if rr.Relationship == nil || (kind != RelationshipCollision && kind != RelationshipMergeConflict) {
			return fmt.Errorf("%w: %s", ErrNotAcceptable, item.Kind)
		}

		rec := *rr.Relationship
		u := Unit{
			DocumentID:    rr.DocumentID,
			ChunkID:       rr.ChunkID,
			ChunkChecksum: rr.ChunkChecksum,
			DateAdded:     rr.DateAdded,
		}
		src, err := c.endpoint(tx, rec, rec.Source)
		if err != nil {
			return err
		}
		tgt, err := c.endpoint(tx, rec, rec.Target)
		if err != nil {
			return err
		}

		rel, err := tx.RelationshipByPair(src.ID, tgt.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			collision := false
			if reverse, err := tx.RelationshipByPair(tgt.ID, src.ID); err == nil {
				collision = true
				if err := tx.MarkCollision(reverse.ID); err != nil {
					return err
				}
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			id, err := tx.InsertRelationship(src.ID, tgt.ID, collision)
			if err != nil {
				return err
			}
			rel = &store.Relationship{ID: id, SourceEntityID: src.ID, TargetEntityID: tgt.ID,
				Source: src.Name, Target: tgt.Name, Collision: collision}
		case err != nil:
			return err
		}

		claim := c.claim(u, rec.Claim, rec.ClaimDate, []string{rec.Source, rec.Target},
			kind == RelationshipMergeConflict)
		claim.RelationshipID = &rel.ID
		if claim.ID, err = tx.InsertClaim(claim); err != nil {
			return err
		}
		ops = append(ops, mirrorOp{rel: rel, claim: claim})
		return tx.SetReviewStatus(id, store.ReviewAccepted)
	})
	if err != nil {
		return err
	}

	c.log.Info("consolidator: review resolved",
		zap.String("id", id), zap.String("kind", item.Kind), zap.String("action", action))
	c.applyMirror(ctx, ops)
	return nil
}
