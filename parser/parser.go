// Package parser turns document files into plain text for chunking.
package parser

import (
	"context"
	"errors"
)

// ErrUnsupportedFormat is returned when no parser handles a file extension.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// Document is the plain text of a parsed file.
type Document struct {
	Text     string
	Pages    int    // 0 for formats without pages
	Method   string // "native"
	Metadata map[string]string
}

// Parser can parse a specific document format.
type Parser interface {
	Parse(ctx context.Context, path string) (*Document, error)
	SupportedFormats() []string
}
