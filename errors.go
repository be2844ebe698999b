package nexus

import (
	"errors"

	"github.com/brunobiangulo/nexus/parser"
)

var (
	// ErrUnsupportedFormat is returned for unrecognized file formats.
	ErrUnsupportedFormat = parser.ErrUnsupportedFormat

	// ErrParsingFailed is returned when document parsing fails.
	ErrParsingFailed = errors.New("nexus: parsing failed")

	// ErrEmptyDocument is returned when a document has no text to chunk.
	ErrEmptyDocument = errors.New("nexus: document has no text")

	// ErrExtractionFailed wraps a chunk whose completion or commit failed.
	ErrExtractionFailed = errors.New("nexus: extraction failed")

	// ErrEmbeddingUnavailable is returned by similarity search when no
	// embedder is configured.
	ErrEmbeddingUnavailable = errors.New("nexus: embedding provider unavailable")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("nexus: invalid configuration")
)
