package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Ingested documents, keyed by raw content checksum
CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY,
    source TEXT NOT NULL,
    checksum TEXT NOT NULL UNIQUE,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Token windows of a document with approximate character provenance
CREATE TABLE IF NOT EXISTS chunks (
    id INTEGER PRIMARY KEY,
    document_id INTEGER NOT NULL REFERENCES documents(id),
    chunk_index INTEGER NOT NULL,
    start_token INTEGER NOT NULL,
    end_token INTEGER NOT NULL,
    start_char INTEGER NOT NULL,
    end_char INTEGER NOT NULL,
    checksum TEXT NOT NULL,
    CHECK (start_token < end_token),
    UNIQUE (document_id, chunk_index)
);

-- Idempotency ledger for documents and chunks
CREATE TABLE IF NOT EXISTS checksums (
    checksum TEXT PRIMARY KEY,
    inserted_at INTEGER NOT NULL
);

-- Knowledge graph: a name lives under exactly one type
CREATE TABLE IF NOT EXISTS entities (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    entity_type TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (name, entity_type)
);

-- Knowledge graph: one row per directed pair
CREATE TABLE IF NOT EXISTS relationships (
    id INTEGER PRIMARY KEY,
    source_entity_id INTEGER NOT NULL REFERENCES entities(id),
    target_entity_id INTEGER NOT NULL REFERENCES entities(id),
    collision INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (source_entity_id, target_entity_id)
);

-- Claims attach to exactly one entity or one relationship
CREATE TABLE IF NOT EXISTS claims (
    id INTEGER PRIMARY KEY,
    entity_id INTEGER REFERENCES entities(id),
    relationship_id INTEGER REFERENCES relationships(id),
    content TEXT NOT NULL,
    document_id INTEGER REFERENCES documents(id),
    chunk_id INTEGER REFERENCES chunks(id),
    chunk_checksum TEXT NOT NULL,
    date_added TEXT NOT NULL,
    claim_date TEXT,
    disputed INTEGER NOT NULL DEFAULT 0,
    CHECK ((entity_id IS NULL) != (relationship_id IS NULL))
);

-- Entity names a claim concerns, in declaration order
CREATE TABLE IF NOT EXISTS claim_entities (
    claim_id INTEGER NOT NULL REFERENCES claims(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    entity_name TEXT NOT NULL,
    PRIMARY KEY (claim_id, position)
);

-- Conflicts kept for manual reconciliation
CREATE TABLE IF NOT EXISTS review_queue (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    record TEXT NOT NULL,
    existing TEXT,
    chunk_checksum TEXT,
    status TEXT NOT NULL DEFAULT 'open',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    resolved_at DATETIME
);

-- Entity vectors via sqlite-vec
CREATE VIRTUAL TABLE IF NOT EXISTS vec_entities USING vec0(
    entity_id INTEGER PRIMARY KEY,
    embedding float[%d]
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_checksum ON chunks(checksum);
CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(entity_type);
CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships(source_entity_id);
CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(target_entity_id);
CREATE INDEX IF NOT EXISTS idx_claims_entity ON claims(entity_id);
CREATE INDEX IF NOT EXISTS idx_claims_relationship ON claims(relationship_id);
CREATE INDEX IF NOT EXISTS idx_claims_document ON claims(document_id);
CREATE INDEX IF NOT EXISTS idx_review_status ON review_queue(status);
`, embeddingDim)
}
