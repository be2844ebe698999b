package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Completer is the model completion capability.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, system, user string) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

// RequestorConfig configures a Requestor.
type RequestorConfig struct {
	Template     *Template
	SystemPrompt string
	// RequestsPerSecond caps completion calls across all goroutines
	// sharing the Requestor. Zero disables the limit.
	RequestsPerSecond float64
	// Timeout bounds a single completion call. Zero means no bound
	// beyond ctx.
	Timeout time.Duration
}

// Requestor renders the extraction prompt for a chunk and asks the model.
type Requestor struct {
	completer Completer
	tmpl      *Template
	system    string
	limiter   *rate.Limiter
	timeout   time.Duration
	log       *zap.Logger
}

// NewRequestor returns a Requestor over c.
func NewRequestor(c Completer, cfg RequestorConfig, logger *zap.Logger) (*Requestor, error) {
	if c == nil {
		return nil, errors.New("completer is required")
	}
	if cfg.Template == nil {
		cfg.Template = NewTemplate(DefaultEntityTypes, DefaultDelimiters())
	}
	if err := cfg.Template.Delimiters.Validate(); err != nil {
		return nil, err
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &Requestor{
		completer: c,
		tmpl:      cfg.Template,
		system:    cfg.SystemPrompt,
		limiter:   limiter,
		timeout:   cfg.Timeout,
		log:       logger.With(zap.String("component", "requestor")),
	}, nil
}

// Template returns the template the requestor renders.
func (r *Requestor) Template() *Template {
	return r.tmpl
}

// Request returns the raw model text for one chunk. known carries entity
// names already extracted from earlier chunks of the same document.
func (r *Requestor) Request(ctx context.Context, chunkText string, known []string) (string, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	prompt := r.tmpl.Render(chunkText, known)
	start := time.Now()
	out, err := r.completer.Complete(ctx, r.system, prompt)
	if err != nil {
		return "", fmt.Errorf("completion: %w", err)
	}
	r.log.Debug("requestor: completion received",
		zap.Int("prompt_chars", len(prompt)),
		zap.Int("response_chars", len(out)),
		zap.Duration("elapsed", time.Since(start)))
	return out, nil
}
