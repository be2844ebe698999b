package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
)

// Compute returns the lowercase hex SHA-256 fingerprint of content.
func Compute(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ChecksumRecord is one ledger entry.
type ChecksumRecord struct {
	Checksum   string `json:"checksum"`
	InsertedAt int64  `json:"inserted_at"`
}

// Ledger records which document and chunk fingerprints have been fully
// processed. Every operation is a single statement, so each fingerprint
// is read or written atomically.
type Ledger struct {
	db *sql.DB
}

// NewLedger returns a ledger over the checksums table of db.
func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Has reports whether fp is recorded.
func (l *Ledger) Has(ctx context.Context, fp string) (bool, error) {
	var n int
	err := l.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM checksums WHERE checksum = ?", fp).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking checksum: %w", err)
	}
	return n > 0, nil
}

// Add records fp. Adding an existing fingerprint is a no-op.
func (l *Ledger) Add(ctx context.Context, fp string) error {
	if _, err := l.db.ExecContext(ctx, insertChecksumSQL, fp); err != nil {
		return fmt.Errorf("adding checksum: %w", err)
	}
	return nil
}

// Delete removes fp and reports whether it was present. It does not look
// at dependents; use Store.DeleteChecksum for the guarded variant.
func (l *Ledger) Delete(ctx context.Context, fp string) (bool, error) {
	res, err := l.db.ExecContext(ctx, "DELETE FROM checksums WHERE checksum = ?", fp)
	if err != nil {
		return false, fmt.Errorf("deleting checksum: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting checksum: %w", err)
	}
	return n > 0, nil
}

// List returns every recorded fingerprint in insertion order.
func (l *Ledger) List(ctx context.Context) ([]ChecksumRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		"SELECT checksum, inserted_at FROM checksums ORDER BY inserted_at, rowid")
	if err != nil {
		return nil, fmt.Errorf("listing checksums: %w", err)
	}
	defer rows.Close()

	var out []ChecksumRecord
	for rows.Next() {
		var r ChecksumRecord
		if err := rows.Scan(&r.Checksum, &r.InsertedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const insertChecksumSQL = "INSERT OR IGNORE INTO checksums (checksum, inserted_at) VALUES (?, strftime('%s', 'now'))"
