package mirror

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/nexus/store"
)

func TestConnectWithoutURIIsDisabled(t *testing.T) {
	m, err := Connect(context.Background(), Config{}, nil)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestNilMirrorIsNoop(t *testing.T) {
	var m *Neo4j
	ctx := context.Background()
	assert.NoError(t, m.MirrorEntity(ctx, store.Entity{Name: "A"}, store.Claim{}))
	assert.NoError(t, m.MirrorRelationship(ctx, store.Relationship{Source: "A", Target: "B"}, store.Claim{}))
	assert.NoError(t, m.RemoveEntity(ctx, "A"))
	assert.NoError(t, m.RemoveRelationship(ctx, "A", "B"))
	assert.NoError(t, m.Close(ctx))

	assert.NoError(t, New(nil, "", nil).MirrorEntity(ctx, store.Entity{Name: "A"}, store.Claim{}))
}

func TestEntityParams(t *testing.T) {
	doc := int64(7)
	eid := int64(3)
	p := entityParams(
		store.Entity{ID: 3, Name: "Ada Lovelace", Type: "PERSON"},
		store.Claim{ID: 11, EntityID: &eid, Content: "A mathematician.", DocumentID: &doc,
			ChunkChecksum: "abc", DateAdded: "2025-01-01", ClaimDate: "1843"},
	)
	assert.Equal(t, "Ada Lovelace", p["name"])
	assert.Equal(t, "PERSON", p["type"])
	claim := p["claim"].(map[string]any)
	assert.Equal(t, int64(11), claim["id"])
	assert.Equal(t, "1843", claim["claim_date"])
	assert.Equal(t, int64(7), claim["document_id"])
	assert.Equal(t, false, claim["relationship"])
}

func TestRelationshipParams(t *testing.T) {
	rid := int64(5)
	p := relationshipParams(
		store.Relationship{ID: 5, Source: "A", Target: "B", Collision: true},
		store.Claim{ID: 2, RelationshipID: &rid, Content: "A knows B.", Disputed: true},
	)
	assert.Equal(t, true, p["collision"])
	claim := p["claim"].(map[string]any)
	assert.Equal(t, "A", claim["source"])
	assert.Equal(t, "B", claim["target"])
	assert.Equal(t, true, claim["relationship"])
	assert.Equal(t, true, claim["disputed"])
	_, hasDate := claim["claim_date"]
	assert.False(t, hasDate)
}
