package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DependentsError is returned when a guarded deletion finds rows that
// still depend on the target and cascade was not requested.
type DependentsError struct {
	Target        string
	Claims        int
	Relationships int
}

func (e *DependentsError) Error() string {
	return fmt.Sprintf("store: %s has %d dependent claims and %d dependent relationships",
		e.Target, e.Claims, e.Relationships)
}

// DeleteResult describes what a guarded deletion removed.
type DeleteResult struct {
	Found         bool `json:"found"`
	Claims        int  `json:"claims"`
	Relationships int  `json:"relationships"`
	Entities      int  `json:"entities"`
}

// DeleteChecksum removes a document or chunk fingerprint from the ledger.
// Claims derived from it (by chunk checksum, or by document when fp is a
// document checksum) are dependents. With cascade those claims are removed,
// edges and entities left without claims are pruned, and for a document
// fingerprint the ledger entries of its chunks are dropped too, so the
// document can be ingested again from scratch. Chunks that another document
// also contains keep their claims and ledger entries.
func (s *Store) DeleteChecksum(ctx context.Context, fp string, cascade bool) (*DeleteResult, error) {
	res := &DeleteResult{}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		claimIDs, err := collectIDs(ctx, tx, `
			SELECT id FROM claims
			WHERE chunk_checksum = ?
			   OR (document_id IN (SELECT id FROM documents WHERE checksum = ?)
			       AND NOT EXISTS (
			           SELECT 1 FROM chunks c2
			           JOIN documents d2 ON d2.id = c2.document_id
			           WHERE c2.checksum = claims.chunk_checksum AND d2.checksum != ?))
		`, fp, fp, fp)
		if err != nil {
			return err
		}
		if len(claimIDs) > 0 && !cascade {
			return &DependentsError{Target: "checksum " + fp, Claims: len(claimIDs)}
		}

		if len(claimIDs) > 0 {
			if err := removeClaims(ctx, tx, claimIDs, res); err != nil {
				return err
			}
		}

		if cascade {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM checksums WHERE checksum IN (
					SELECT c.checksum FROM chunks c
					JOIN documents d ON d.id = c.document_id
					WHERE d.checksum = ? AND c.checksum != ?
					  AND NOT EXISTS (
					      SELECT 1 FROM chunks c2
					      JOIN documents d2 ON d2.id = c2.document_id
					      WHERE c2.checksum = c.checksum AND d2.checksum != ?))
			`, fp, fp, fp); err != nil {
				return fmt.Errorf("deleting chunk checksums: %w", err)
			}
		}

		r, err := tx.ExecContext(ctx, "DELETE FROM checksums WHERE checksum = ?", fp)
		if err != nil {
			return fmt.Errorf("deleting checksum: %w", err)
		}
		n, err := r.RowsAffected()
		if err != nil {
			return err
		}
		res.Found = n > 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// DeleteEntity removes an entity by exact name. Its claims, the edges it
// is an endpoint of and those edges' claims are dependents.
func (s *Store) DeleteEntity(ctx context.Context, name string, cascade bool) (*DeleteResult, error) {
	res := &DeleteResult{}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		e, err := entityByName(ctx, tx, name)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		res.Found = true

		relIDs, err := collectIDs(ctx, tx, `
			SELECT id FROM relationships WHERE source_entity_id = ? OR target_entity_id = ?
		`, e.ID, e.ID)
		if err != nil {
			return err
		}
		claimIDs, err := collectIDs(ctx, tx, "SELECT id FROM claims WHERE entity_id = ?", e.ID)
		if err != nil {
			return err
		}
		if len(relIDs) > 0 {
			relClaims, err := collectIDs(ctx, tx,
				"SELECT id FROM claims WHERE relationship_id IN ("+placeholders(len(relIDs))+")",
				int64Args(relIDs)...)
			if err != nil {
				return err
			}
			claimIDs = append(claimIDs, relClaims...)
		}
		if (len(claimIDs) > 0 || len(relIDs) > 0) && !cascade {
			return &DependentsError{Target: "entity " + name, Claims: len(claimIDs), Relationships: len(relIDs)}
		}

		if len(claimIDs) > 0 {
			if err := removeClaims(ctx, tx, claimIDs, res); err != nil {
				return err
			}
		}
		// Edges with claims were pruned above; anything left has none.
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM relationships WHERE source_entity_id = ? OR target_entity_id = ?",
			e.ID, e.ID); err != nil {
			return fmt.Errorf("deleting relationships: %w", err)
		}
		removed, err := deleteEntityRow(ctx, tx, e.ID)
		if err != nil {
			return err
		}
		if removed {
			res.Entities++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// DeleteRelationship removes the directed edge source→target. Its claims
// are dependents.
func (s *Store) DeleteRelationship(ctx context.Context, source, target string, cascade bool) (*DeleteResult, error) {
	res := &DeleteResult{}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		relIDs, err := collectIDs(ctx, tx, `
			SELECT r.id FROM relationships r
			JOIN entities s ON s.id = r.source_entity_id
			JOIN entities t ON t.id = r.target_entity_id
			WHERE s.name = ? AND t.name = ?
		`, source, target)
		if err != nil {
			return err
		}
		if len(relIDs) == 0 {
			return nil
		}
		res.Found = true
		relID := relIDs[0]

		claimIDs, err := collectIDs(ctx, tx, "SELECT id FROM claims WHERE relationship_id = ?", relID)
		if err != nil {
			return err
		}
		if len(claimIDs) > 0 && !cascade {
			return &DependentsError{Target: fmt.Sprintf("relationship %s->%s", source, target), Claims: len(claimIDs)}
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM claims WHERE relationship_id = ?", relID); err != nil {
			return fmt.Errorf("deleting claims: %w", err)
		}
		res.Claims += len(claimIDs)
		if _, err := tx.ExecContext(ctx, "DELETE FROM relationships WHERE id = ?", relID); err != nil {
			return fmt.Errorf("deleting relationship: %w", err)
		}
		res.Relationships++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// removeClaims deletes claims and prunes the edges and entities that end
// up with no claims at all.
func removeClaims(ctx context.Context, tx *sql.Tx, claimIDs []int64, res *DeleteResult) error {
	args := int64Args(claimIDs)
	in := "(" + placeholders(len(claimIDs)) + ")"

	relIDs, err := collectIDs(ctx, tx,
		"SELECT DISTINCT relationship_id FROM claims WHERE relationship_id IS NOT NULL AND id IN "+in, args...)
	if err != nil {
		return err
	}
	entIDs, err := collectIDs(ctx, tx,
		"SELECT DISTINCT entity_id FROM claims WHERE entity_id IS NOT NULL AND id IN "+in, args...)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM claims WHERE id IN "+in, args...); err != nil {
		return fmt.Errorf("deleting claims: %w", err)
	}
	res.Claims += len(claimIDs)

	for _, relID := range relIDs {
		var src, tgt int64
		err := tx.QueryRowContext(ctx, `
			SELECT source_entity_id, target_entity_id FROM relationships
			WHERE id = ? AND NOT EXISTS (SELECT 1 FROM claims WHERE relationship_id = ?)
		`, relID, relID).Scan(&src, &tgt)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM relationships WHERE id = ?", relID); err != nil {
			return fmt.Errorf("pruning relationship: %w", err)
		}
		res.Relationships++
		entIDs = append(entIDs, src, tgt)
	}

	seen := make(map[int64]bool, len(entIDs))
	for _, id := range entIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		var orphan bool
		if err := tx.QueryRowContext(ctx, `
			SELECT NOT EXISTS (SELECT 1 FROM claims WHERE entity_id = ?)
			   AND NOT EXISTS (SELECT 1 FROM relationships WHERE source_entity_id = ? OR target_entity_id = ?)
		`, id, id, id).Scan(&orphan); err != nil {
			return err
		}
		if !orphan {
			continue
		}
		removed, err := deleteEntityRow(ctx, tx, id)
		if err != nil {
			return err
		}
		if removed {
			res.Entities++
		}
	}
	return nil
}

func deleteEntityRow(ctx context.Context, tx *sql.Tx, id int64) (bool, error) {
	if _, err := tx.ExecContext(ctx, "DELETE FROM vec_entities WHERE entity_id = ?", id); err != nil {
		return false, fmt.Errorf("deleting entity vector: %w", err)
	}
	r, err := tx.ExecContext(ctx, "DELETE FROM entities WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("deleting entity: %w", err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func collectIDs(ctx context.Context, q querier, query string, args ...any) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
