package parser

import (
	"context"
	"fmt"
	"os"
	"unicode/utf8"
)

// TextParser handles plain text and Markdown files.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{"txt", "md", "markdown"} }

func (p *TextParser) Parse(ctx context.Context, path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("text file %s is not valid UTF-8", path)
	}
	return &Document{Text: string(data), Method: "native"}, nil
}
