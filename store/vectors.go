package store

import (
	"context"
	"database/sql"
	"fmt"
)

// EntityMatch is one nearest-neighbour hit from the entity vector index.
type EntityMatch struct {
	Entity   Entity  `json:"entity"`
	Distance float64 `json:"distance"`
	Score    float64 `json:"score"`
}

// Upsert stores the vector for an entity, replacing any previous one.
func (s *Store) Upsert(ctx context.Context, entityID int64, vec []float32) error {
	if len(vec) != s.embeddingDim {
		return fmt.Errorf("embedding has %d dimensions, index expects %d", len(vec), s.embeddingDim)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM vec_entities WHERE entity_id = ?", entityID); err != nil {
			return fmt.Errorf("clearing entity vector: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO vec_entities (entity_id, embedding) VALUES (?, ?)",
			entityID, serializeFloat32(vec)); err != nil {
			return fmt.Errorf("inserting entity vector: %w", err)
		}
		return nil
	})
}

// Nearest performs a KNN search returning the k entities closest to vec.
func (s *Store) Nearest(ctx context.Context, vec []float32, k int) ([]EntityMatch, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.entity_id, v.distance, e.name, e.entity_type, e.created_at
		FROM vec_entities v
		JOIN entities e ON e.id = v.entity_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(vec), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EntityMatch
	for rows.Next() {
		var m EntityMatch
		if err := rows.Scan(&m.Entity.ID, &m.Distance, &m.Entity.Name,
			&m.Entity.Type, &m.Entity.CreatedAt); err != nil {
			return nil, err
		}
		m.Score = 1.0 - m.Distance
		out = append(out, m)
	}
	return out, rows.Err()
}
