package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

func init() {
	sqlite_vec.Auto()
}

// ErrNotFound is returned by point lookups that match no row.
var ErrNotFound = errors.New("store: not found")

// Document represents a row in the documents table.
type Document struct {
	ID        int64  `json:"id"`
	Source    string `json:"source"`
	Checksum  string `json:"checksum"`
	CreatedAt string `json:"created_at"`
}

// Chunk represents a row in the chunks table. Character offsets are
// approximate; token offsets are exact.
type Chunk struct {
	ID         int64  `json:"id"`
	DocumentID int64  `json:"document_id"`
	Index      int    `json:"index"`
	StartToken int    `json:"start_token"`
	EndToken   int    `json:"end_token"`
	StartChar  int    `json:"start_char"`
	EndChar    int    `json:"end_char"`
	Checksum   string `json:"checksum"`
}

// Entity represents a row in the entities table.
type Entity struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
}

// Relationship represents a row in the relationships table. Source and
// Target carry the endpoint names when the row was loaded through a join.
type Relationship struct {
	ID             int64  `json:"id"`
	SourceEntityID int64  `json:"source_entity_id"`
	TargetEntityID int64  `json:"target_entity_id"`
	Source         string `json:"source,omitempty"`
	Target         string `json:"target,omitempty"`
	Collision      bool   `json:"collision"`
	CreatedAt      string `json:"created_at"`
}

// Claim represents a row in the claims table. Exactly one of EntityID and
// RelationshipID is set.
type Claim struct {
	ID             int64    `json:"id"`
	EntityID       *int64   `json:"entity_id,omitempty"`
	RelationshipID *int64   `json:"relationship_id,omitempty"`
	Content        string   `json:"content"`
	DocumentID     *int64   `json:"document_id,omitempty"`
	ChunkID        *int64   `json:"chunk_id,omitempty"`
	ChunkChecksum  string   `json:"chunk_checksum"`
	DateAdded      string   `json:"date_added"`
	ClaimDate      string   `json:"claim_date,omitempty"`
	Entities       []string `json:"entities"`
	Disputed       bool     `json:"disputed"`
}

// Stats holds row counts across the store.
type Stats struct {
	Documents     int `json:"documents"`
	Chunks        int `json:"chunks"`
	Entities      int `json:"entities"`
	Relationships int `json:"relationships"`
	Claims        int `json:"claims"`
	Checksums     int `json:"checksums"`
	Embeddings    int `json:"embeddings"`
	OpenReviews   int `json:"open_reviews"`
}

// Store wraps the SQLite database for all nexus persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
	ledger       *Ledger
	log          *zap.Logger
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including the sqlite-vec virtual table.
// Write transactions start with BEGIN IMMEDIATE so concurrent commits
// serialize on the database write lock instead of failing on upgrade.
func New(dbPath string, embeddingDim int, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if embeddingDim <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", embeddingDim)
	}

	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	dsn := dbPath + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{
		db:           db,
		embeddingDim: embeddingDim,
		ledger:       NewLedger(db),
		log:          logger.With(zap.String("component", "store")),
	}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ledger returns the checksum ledger backed by this store.
func (s *Store) Ledger() *Ledger {
	return s.ledger
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Document operations ---

// InsertDocument records a document keyed by its raw checksum. Documents
// are immutable: a second insert with the same checksum returns the
// existing row's ID.
func (s *Store) InsertDocument(ctx context.Context, source, checksum string) (int64, error) {
	if _, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO documents (source, checksum) VALUES (?, ?)",
		source, checksum); err != nil {
		return 0, fmt.Errorf("inserting document: %w", err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx,
		"SELECT id FROM documents WHERE checksum = ?", checksum).Scan(&id); err != nil {
		return 0, fmt.Errorf("reading document id: %w", err)
	}
	return id, nil
}

// DocumentByChecksum retrieves a document by its raw content checksum.
func (s *Store) DocumentByChecksum(ctx context.Context, checksum string) (*Document, error) {
	return s.scanDocument(s.db.QueryRowContext(ctx,
		"SELECT id, source, checksum, created_at FROM documents WHERE checksum = ?", checksum))
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id int64) (*Document, error) {
	return s.scanDocument(s.db.QueryRowContext(ctx,
		"SELECT id, source, checksum, created_at FROM documents WHERE id = ?", id))
}

func (s *Store) scanDocument(row *sql.Row) (*Document, error) {
	d := &Document{}
	if err := row.Scan(&d.ID, &d.Source, &d.Checksum, &d.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

// ListDocuments returns all documents in insertion order.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, source, checksum, created_at FROM documents ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Source, &d.Checksum, &d.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// --- Chunk operations ---

// InsertChunk records a chunk of a document. Re-inserting the same
// (document, index) pair returns the existing row's ID.
func (s *Store) InsertChunk(ctx context.Context, c Chunk) (int64, error) {
	if c.StartToken >= c.EndToken {
		return 0, fmt.Errorf("invalid chunk token range [%d, %d)", c.StartToken, c.EndToken)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO chunks
			(document_id, chunk_index, start_token, end_token, start_char, end_char, checksum)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.DocumentID, c.Index, c.StartToken, c.EndToken, c.StartChar, c.EndChar, c.Checksum); err != nil {
		return 0, fmt.Errorf("inserting chunk: %w", err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx,
		"SELECT id FROM chunks WHERE document_id = ? AND chunk_index = ?",
		c.DocumentID, c.Index).Scan(&id); err != nil {
		return 0, fmt.Errorf("reading chunk id: %w", err)
	}
	return id, nil
}

// ChunksByDocument returns all chunks for a document in index order.
func (s *Store) ChunksByDocument(ctx context.Context, docID int64) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, chunk_index, start_token, end_token, start_char, end_char, checksum
		FROM chunks WHERE document_id = ? ORDER BY chunk_index
	`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.StartToken, &c.EndToken,
			&c.StartChar, &c.EndChar, &c.Checksum); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// Stats returns row counts for every persistent table.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM documents", &stats.Documents},
		{"SELECT COUNT(*) FROM chunks", &stats.Chunks},
		{"SELECT COUNT(*) FROM entities", &stats.Entities},
		{"SELECT COUNT(*) FROM relationships", &stats.Relationships},
		{"SELECT COUNT(*) FROM claims", &stats.Claims},
		{"SELECT COUNT(*) FROM checksums", &stats.Checksums},
		{"SELECT COUNT(*) FROM vec_entities", &stats.Embeddings},
		{"SELECT COUNT(*) FROM review_queue WHERE status = 'open'", &stats.OpenReviews},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	return stats, nil
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func repeatPlaceholders(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += ", ?"
	}
	return s
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
