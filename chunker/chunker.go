package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/brunobiangulo/nexus/store"
)

// Tokenizer converts text to and from token IDs.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(tokens []int) (string, error)
}

// Config controls the chunking behaviour.
type Config struct {
	MaxTokens int // Maximum tokens per chunk.
	Overlap   int // Tokens shared by consecutive chunks.
}

// Validate checks that the window parameters describe a forward-moving
// window.
func (c Config) Validate() error {
	switch {
	case c.MaxTokens <= 0:
		return fmt.Errorf("max tokens must be positive, got %d", c.MaxTokens)
	case c.Overlap < 0:
		return fmt.Errorf("overlap must not be negative, got %d", c.Overlap)
	case c.Overlap >= c.MaxTokens:
		return fmt.Errorf("overlap %d must be smaller than max tokens %d", c.Overlap, c.MaxTokens)
	}
	return nil
}

// Chunk is one token window of a document. StartChar and EndChar are
// interpolated from the token offsets over the document's rune count and
// are approximate.
type Chunk struct {
	Index      int
	Text       string
	StartToken int
	EndToken   int
	StartChar  int
	EndChar    int
	Checksum   string
}

// Chunker splits documents into overlapping token windows.
type Chunker struct {
	cfg Config
	tok Tokenizer
	log *zap.Logger
}

// New returns a Chunker. It fails when cfg is invalid or tok is nil.
func New(cfg Config, tok Tokenizer, logger *zap.Logger) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, errors.New("tokenizer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chunker{cfg: cfg, tok: tok, log: logger.With(zap.String("component", "chunker"))}, nil
}

// Split tokenizes text once and cuts it into windows of at most MaxTokens
// tokens advancing by MaxTokens-Overlap. A document that fits in one
// window yields exactly one chunk spanning it. Iteration stops as soon as
// a window reaches the end of the token stream. Windows that decode to
// empty text are skipped with a warning.
func (c *Chunker) Split(source, text string) ([]Chunk, error) {
	if strings.TrimSpace(text) == "" {
		c.log.Warn("chunker: empty document", zap.String("source", source))
		return nil, nil
	}

	tokens, err := c.tok.Encode(text)
	if err != nil {
		return nil, fmt.Errorf("tokenizing %s: %w", source, err)
	}
	total := len(tokens)
	if total == 0 {
		c.log.Warn("chunker: document produced no tokens", zap.String("source", source))
		return nil, nil
	}
	totalChars := utf8.RuneCountInString(text)

	if total <= c.cfg.MaxTokens {
		return []Chunk{{
			Index:      0,
			Text:       text,
			StartToken: 0,
			EndToken:   total,
			StartChar:  0,
			EndChar:    totalChars,
			Checksum:   store.Compute([]byte(text)),
		}}, nil
	}

	stride := c.cfg.MaxTokens - c.cfg.Overlap
	var chunks []Chunk
	for start := 0; start < total; start += stride {
		end := min(start+c.cfg.MaxTokens, total)

		piece, err := c.tok.Decode(tokens[start:end])
		if err != nil {
			return nil, fmt.Errorf("decoding window [%d, %d) of %s: %w", start, end, source, err)
		}
		if piece == "" {
			c.log.Warn("chunker: empty window skipped",
				zap.String("source", source), zap.Int("start_token", start), zap.Int("end_token", end))
		} else {
			startChar, endChar := charSpan(start, end, total, totalChars)
			chunks = append(chunks, Chunk{
				Index:      len(chunks),
				Text:       piece,
				StartToken: start,
				EndToken:   end,
				StartChar:  startChar,
				EndChar:    endChar,
				Checksum:   store.Compute([]byte(piece)),
			})
		}

		if end == total {
			break
		}
	}

	if len(chunks) == 0 {
		c.log.Warn("chunker: no chunks generated", zap.String("source", source))
	}
	return chunks, nil
}

// charSpan maps a token range onto character offsets by proportional
// interpolation, clamped to [0, totalChars] with start <= end.
func charSpan(start, end, totalTokens, totalChars int) (int, int) {
	s := start * totalChars / totalTokens
	e := end * totalChars / totalTokens
	s = max(0, min(s, totalChars))
	e = max(s, min(e, totalChars))
	return s, e
}
