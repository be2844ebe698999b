package nexus

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/brunobiangulo/nexus/chunker"
	"github.com/brunobiangulo/nexus/extract"
	"github.com/brunobiangulo/nexus/graph"
	"github.com/brunobiangulo/nexus/llm"
	"github.com/brunobiangulo/nexus/metrics"
	"github.com/brunobiangulo/nexus/mirror"
	"github.com/brunobiangulo/nexus/parser"
	"github.com/brunobiangulo/nexus/store"
)

// Engine is the main entry point: documents in, consolidated graph out.
type Engine interface {
	// Ingest parses a file and ingests its text. Returns the per-document
	// report. Skips the whole document if its checksum is already recorded.
	Ingest(ctx context.Context, path string) (*IngestReport, error)

	// IngestText ingests in-memory text under the given source name.
	IngestText(ctx context.Context, source, text string) (*IngestReport, error)

	// DeleteChecksum removes a fingerprint so the content can be ingested
	// again. Dependents are refused unless cascade deletion is configured.
	DeleteChecksum(ctx context.Context, fp string) (*store.DeleteResult, error)

	// DeleteEntity removes an entity by exact name.
	DeleteEntity(ctx context.Context, name string) (*store.DeleteResult, error)

	// DeleteRelationship removes the directed edge source→target.
	DeleteRelationship(ctx context.Context, source, target string) (*store.DeleteResult, error)

	// Reviews lists review queue items with the given status ("" for all).
	Reviews(ctx context.Context, status string) ([]store.ReviewItem, error)

	// ResolveReview accepts or dismisses an open review item.
	ResolveReview(ctx context.Context, id, action string) error

	// SimilarEntities returns the k entities nearest to text in the
	// entity vector index.
	SimilarEntities(ctx context.Context, text string, k int) ([]store.EntityMatch, error)

	// Stats returns row counts for the graph and its ledgers.
	Stats(ctx context.Context) (*store.Stats, error)

	// Checksums lists the ledger.
	Checksums(ctx context.Context) ([]store.ChecksumRecord, error)

	// ListDocuments returns all ingested documents.
	ListDocuments(ctx context.Context) ([]store.Document, error)

	// Metrics returns the engine's Prometheus collector.
	Metrics() *metrics.Collector

	// Store returns the underlying store for diagnostic access.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// IngestReport summarizes one document's ingestion.
type IngestReport struct {
	RunID      string `json:"run_id"`
	Source     string `json:"source"`
	DocumentID int64  `json:"document_id,omitempty"`
	Checksum   string `json:"checksum"`
	// Skipped is set when the document checksum was already recorded.
	Skipped bool `json:"skipped"`

	Chunks          int `json:"chunks"`
	ChunksProcessed int `json:"chunks_processed"`
	ChunksSkipped   int `json:"chunks_skipped"`
	ChunksFailed    int `json:"chunks_failed"`

	EntitiesCreated      int                  `json:"entities_created"`
	RelationshipsCreated int                  `json:"relationships_created"`
	ClaimsAttached       int                  `json:"claims_attached"`
	Conflicts            graph.ConflictCounts `json:"conflicts"`
	Malformed            int                  `json:"malformed_records"`
	Dropped              int                  `json:"dropped_records"`
	ReviewIDs            []string             `json:"review_ids,omitempty"`
	Errors               []string             `json:"errors,omitempty"`
	Duration             time.Duration        `json:"duration"`
}

// VectorIndex stores one embedding per entity. The store implements it
// over sqlite-vec.
type VectorIndex interface {
	Upsert(ctx context.Context, entityID int64, vec []float32) error
	Nearest(ctx context.Context, vec []float32, k int) ([]store.EntityMatch, error)
}

// Embedder turns a text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Option overrides a collaborator the engine would otherwise build from
// Config.
type Option func(*options)

type options struct {
	completer    extract.Completer
	tokenizer    chunker.Tokenizer
	embedder     Embedder
	index        VectorIndex
	logger       *zap.Logger
	locker       graph.Locker
	mirror       graph.Mirror
	contentCheck graph.ContentCheck
	metrics      *metrics.Collector
	tracing      trace.TracerProvider
}

// WithCompleter replaces the configured chat provider.
func WithCompleter(c extract.Completer) Option {
	return func(o *options) { o.completer = c }
}

// WithTokenizer replaces the tiktoken tokenizer.
func WithTokenizer(t chunker.Tokenizer) Option {
	return func(o *options) { o.tokenizer = t }
}

// WithEmbedder replaces the configured embedding provider.
func WithEmbedder(e Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithVectorIndex replaces the store's sqlite-vec index.
func WithVectorIndex(v VectorIndex) Option {
	return func(o *options) { o.index = v }
}

// WithLogger sets the logger. The default is built from Config.Log.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithLocker replaces the commit locker.
func WithLocker(l graph.Locker) Option {
	return func(o *options) { o.locker = l }
}

// WithMirror sets a graph mirror in place of the configured Neo4j one.
func WithMirror(m graph.Mirror) Option {
	return func(o *options) { o.mirror = m }
}

// WithContentCheck enables RelationshipMergeConflict detection.
func WithContentCheck(fn graph.ContentCheck) Option {
	return func(o *options) { o.contentCheck = fn }
}

// WithTracerProvider records ingestion spans on tp instead of the global
// provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracing = tp }
}

// WithMetrics shares a collector between engines or with a server.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}

type engine struct {
	cfg          Config
	store        *store.Store
	parsers      *parser.Registry
	chunkr       *chunker.Chunker
	requestor    *extract.Requestor
	canon        *extract.Canonicalizer
	consolidator *graph.Consolidator
	embedder     Embedder
	index        VectorIndex
	metrics      *metrics.Collector
	tracer       trace.Tracer
	flights      singleflight.Group
	log          *zap.Logger

	neo4j *mirror.Neo4j
	redis redis.UniversalClient
}

// New creates a new nexus engine with the given configuration.
func New(cfg Config, opts ...Option) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		if logger, err = NewLogger(cfg.Log.Level, cfg.Log.Format); err != nil {
			return nil, err
		}
	}

	if cfg.Extraction.ContextAccumulation && cfg.Concurrency > 1 {
		logger.Warn("nexus: context accumulation only runs with serial extraction; set concurrency to 1 to enable it",
			zap.Int("concurrency", cfg.Concurrency))
	}

	tp := o.tracing
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	e := &engine{
		cfg:     cfg,
		parsers: parser.NewRegistry(),
		tracer:  tp.Tracer("github.com/brunobiangulo/nexus"),
		log:     logger,
	}
	if err := e.init(cfg, o); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *engine) init(cfg Config, o *options) error {
	var err error

	// Open store
	if e.store, err = store.New(cfg.resolveDBPath(), cfg.EmbeddingDim, e.log); err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	// Completion capability
	completer := o.completer
	if completer == nil {
		chat, err := llm.NewProvider(cfg.Chat.llmConfig(), e.log)
		if err != nil {
			return fmt.Errorf("creating chat provider: %w", err)
		}
		completer = llm.NewCompleter(chat, cfg.Chat.Model, 0)
	}

	// Embedding is optional; without it similarity search is unavailable.
	e.embedder = o.embedder
	if e.embedder == nil && cfg.Embedding.Provider != "" {
		emb, err := llm.NewProvider(cfg.Embedding.llmConfig(), e.log)
		if err != nil {
			return fmt.Errorf("creating embedding provider: %w", err)
		}
		e.embedder = llm.NewEmbedder(emb)
	}
	e.index = o.index
	if e.index == nil {
		e.index = e.store
	}

	// Chunker
	tok := o.tokenizer
	if tok == nil {
		tok = chunker.NewTiktoken(cfg.Tokenizer)
	}
	if e.chunkr, err = chunker.New(chunker.Config{
		MaxTokens: cfg.MaxChunkTokens,
		Overlap:   cfg.ChunkOverlap,
	}, tok, e.log); err != nil {
		return fmt.Errorf("creating chunker: %w", err)
	}

	// Extraction
	delims := cfg.Extraction.Delimiters()
	tmpl := extract.NewTemplate(cfg.Extraction.EntityTypes, delims)
	if cfg.Extraction.TemplatePath != "" {
		if tmpl, err = extract.LoadTemplate(cfg.Extraction.TemplatePath, cfg.Extraction.EntityTypes, delims); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if e.requestor, err = extract.NewRequestor(completer, extract.RequestorConfig{
		Template:          tmpl,
		SystemPrompt:      cfg.Extraction.SystemPrompt,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Timeout:           cfg.RequestTimeout,
	}, e.log); err != nil {
		return fmt.Errorf("creating requestor: %w", err)
	}
	policy, err := extract.ParseEndpointPolicy(cfg.Extraction.EndpointPolicy)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	e.canon = extract.NewCanonicalizer(cfg.Extraction.EntityTypes, policy, e.log)

	// Metrics
	e.metrics = o.metrics
	if e.metrics == nil {
		e.metrics = metrics.NewCollector("nexus", e.log)
	}

	// Locker: in-process unless Redis is configured.
	locker := o.locker
	if locker == nil && cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		e.redis = rdb
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		locker = graph.NewRedisLocker(rdb, cfg.Redis.Prefix, cfg.Redis.LockTTL)
		e.log.Info("engine: using redis locker", zap.String("addr", cfg.Redis.Addr))
	}

	// Mirror
	gm := o.mirror
	if gm == nil && cfg.Neo4j.URI != "" {
		if e.neo4j, err = mirror.Connect(context.Background(), cfg.Neo4j, e.log); err != nil {
			return err
		}
		gm = e.neo4j
		e.log.Info("engine: mirroring graph to neo4j", zap.String("uri", cfg.Neo4j.URI))
	}

	if e.consolidator, err = graph.NewConsolidator(e.store, graph.Options{
		Policies:     cfg.Conflicts,
		ContentCheck: o.contentCheck,
		Locker:       locker,
		Mirror:       gm,
		OnConflict: func(c *graph.Conflict) {
			e.metrics.RecordConflict(c.Kind.String())
		},
	}, e.log); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c LLMConfig) llmConfig() llm.Config {
	return llm.Config{
		Provider:   c.Provider,
		Model:      c.Model,
		BaseURL:    c.BaseURL,
		APIKey:     c.APIKey,
		MaxRetries: c.MaxRetries,
		Timeout:    c.Timeout,
	}
}

// Ingest parses path and ingests its text.
func (e *engine) Ingest(ctx context.Context, path string) (*IngestReport, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	e.log.Info("ingest: parsing document", zap.String("file", filepath.Base(absPath)),
		zap.String("format", parser.FormatOf(absPath)))
	doc, err := e.parsers.Parse(ctx, absPath)
	if err != nil {
		e.metrics.RecordDocument(metrics.OutcomeFailed)
		if errors.Is(err, ErrUnsupportedFormat) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrParsingFailed, absPath, err)
	}
	e.log.Info("ingest: parsing complete", zap.String("file", filepath.Base(absPath)),
		zap.Int("pages", doc.Pages), zap.Int("chars", len(doc.Text)), zap.String("method", doc.Method))

	return e.IngestText(ctx, absPath, doc.Text)
}

// IngestText chunks text, extracts every chunk and commits each chunk's
// records as one unit. Chunk failures are reported and do not stop the
// other chunks; the document checksum is recorded only when none failed,
// so a failed document is retried chunk by chunk.
func (e *engine) IngestText(ctx context.Context, source, text string) (rep *IngestReport, err error) {
	start := time.Now()
	rep = &IngestReport{RunID: uuid.NewString(), Source: source}

	ctx, span := e.tracer.Start(ctx, "nexus.ingest", trace.WithAttributes(
		attribute.String("source", source),
		attribute.String("run_id", rep.RunID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if strings.TrimSpace(text) == "" {
		e.metrics.RecordDocument(metrics.OutcomeFailed)
		return nil, fmt.Errorf("%w: %s", ErrEmptyDocument, source)
	}

	rep.Checksum = store.Compute([]byte(text))
	seen, err := e.store.Ledger().Has(ctx, rep.Checksum)
	if err != nil {
		return nil, fmt.Errorf("checking document checksum: %w", err)
	}
	if seen {
		rep.Skipped = true
		if doc, err := e.store.DocumentByChecksum(ctx, rep.Checksum); err == nil {
			rep.DocumentID = doc.ID
		}
		rep.Duration = time.Since(start)
		e.metrics.RecordDocument(metrics.OutcomeSkipped)
		e.log.Info("ingest: document unchanged, skipped",
			zap.String("source", source), zap.String("checksum", rep.Checksum))
		return rep, nil
	}

	if rep.DocumentID, err = e.store.InsertDocument(ctx, source, rep.Checksum); err != nil {
		return nil, err
	}

	chunks, err := e.chunkr.Split(source, text)
	if err != nil {
		e.metrics.RecordDocument(metrics.OutcomeFailed)
		return nil, fmt.Errorf("chunking: %w", err)
	}
	rep.Chunks = len(chunks)
	span.SetAttributes(attribute.Int("chunks", len(chunks)))
	e.log.Info("ingest: chunking complete", zap.String("source", source),
		zap.Int64("doc_id", rep.DocumentID), zap.Int("chunks", len(chunks)))

	chunkIDs := make([]int64, len(chunks))
	for i, c := range chunks {
		if chunkIDs[i], err = e.store.InsertChunk(ctx, store.Chunk{
			DocumentID: rep.DocumentID,
			Index:      c.Index,
			StartToken: c.StartToken,
			EndToken:   c.EndToken,
			StartChar:  c.StartChar,
			EndChar:    c.EndChar,
			Checksum:   c.Checksum,
		}); err != nil {
			return nil, err
		}
	}

	if e.cfg.Concurrency == 1 {
		err = e.ingestSerial(ctx, rep, chunks, chunkIDs)
	} else {
		err = e.ingestParallel(ctx, rep, chunks, chunkIDs)
	}
	if err != nil {
		e.metrics.RecordDocument(metrics.OutcomeFailed)
		return nil, err
	}

	if rep.ChunksFailed == 0 {
		if err := e.store.Ledger().Add(ctx, rep.Checksum); err != nil {
			return nil, fmt.Errorf("recording document checksum: %w", err)
		}
		e.metrics.RecordDocument(metrics.OutcomeIngested)
	} else {
		e.metrics.RecordDocument(metrics.OutcomeFailed)
	}

	rep.Duration = time.Since(start)
	e.log.Info("ingest: document ready",
		zap.String("source", source),
		zap.Int64("doc_id", rep.DocumentID),
		zap.Int("chunks_processed", rep.ChunksProcessed),
		zap.Int("chunks_skipped", rep.ChunksSkipped),
		zap.Int("chunks_failed", rep.ChunksFailed),
		zap.Int("entities", rep.EntitiesCreated),
		zap.Int("relationships", rep.RelationshipsCreated),
		zap.Int("claims", rep.ClaimsAttached),
		zap.Int("conflicts", rep.Conflicts.Total()),
		zap.Duration("elapsed", rep.Duration))
	return rep, nil
}

// ingestSerial processes chunks in order, feeding the names extracted so
// far into each prompt when context accumulation is on.
func (e *engine) ingestSerial(ctx context.Context, rep *IngestReport, chunks []chunker.Chunk, ids []int64) error {
	var known []string
	for i, c := range chunks {
		var ctxNames []string
		if e.cfg.Extraction.ContextAccumulation {
			ctxNames = known
		}
		res, err := e.processChunk(ctx, rep.DocumentID, ids[i], c, ctxNames)
		if err := e.record(ctx, rep, c, res, err, nil); err != nil {
			return err
		}
		if res != nil {
			for _, n := range res.names {
				if !slices.Contains(known, n) {
					known = append(known, n)
				}
			}
		}
	}
	return nil
}

// ingestParallel fans chunks out to at most Concurrency workers.
func (e *engine) ingestParallel(ctx context.Context, rep *IngestReport, chunks []chunker.Chunk, ids []int64) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, c := range chunks {
		g.Go(func() error {
			res, err := e.processChunk(gctx, rep.DocumentID, ids[i], c, nil)
			return e.record(gctx, rep, c, res, err, &mu)
		})
	}
	return g.Wait()
}

// record folds one chunk result into the report. Chunk errors are counted;
// only cancellation is returned.
func (e *engine) record(ctx context.Context, rep *IngestReport, c chunker.Chunk, res *chunkResult, err error, mu *sync.Mutex) error {
	if mu != nil {
		mu.Lock()
		defer mu.Unlock()
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rep.ChunksFailed++
		rep.Errors = append(rep.Errors, fmt.Sprintf("chunk %d: %v", c.Index, err))
		e.metrics.RecordChunk(metrics.OutcomeFailed)
		e.log.Warn("ingest: chunk failed", zap.String("source", rep.Source),
			zap.Int("chunk", c.Index), zap.Error(err))
		return nil
	}
	if res.skipped {
		rep.ChunksSkipped++
		e.metrics.RecordChunk(metrics.OutcomeSkipped)
		return nil
	}
	rep.ChunksProcessed++
	rep.Malformed += res.malformed
	rep.Dropped += res.dropped
	rep.EntitiesCreated += res.outcome.EntitiesCreated
	rep.RelationshipsCreated += res.outcome.RelationshipsCreated
	rep.ClaimsAttached += res.outcome.ClaimsAttached
	rep.Conflicts.Merge(res.outcome.Conflicts)
	rep.ReviewIDs = append(rep.ReviewIDs, res.outcome.ReviewIDs...)
	e.metrics.RecordChunk(metrics.OutcomeIngested)
	e.metrics.RecordMalformed(res.malformed)
	e.metrics.RecordClaims(res.outcome.ClaimsAttached)
	return nil
}

type chunkResult struct {
	skipped   bool
	outcome   *graph.Outcome
	names     []string
	malformed int
	dropped   int
}

// flight is the value shared by singleflight callers. Only the caller that
// claims it counts the work; the others see a skipped chunk.
type flight struct {
	res     *chunkResult
	claimed atomic.Bool
}

// processChunk skips chunks already in the ledger and collapses identical
// chunks in flight onto one extraction.
func (e *engine) processChunk(ctx context.Context, docID, chunkID int64, c chunker.Chunk, known []string) (*chunkResult, error) {
	done, err := e.store.Ledger().Has(ctx, c.Checksum)
	if err != nil {
		return nil, fmt.Errorf("checking chunk checksum: %w", err)
	}
	if done {
		e.log.Debug("ingest: chunk unchanged, skipped", zap.Int("chunk", c.Index), zap.String("checksum", c.Checksum))
		return &chunkResult{skipped: true}, nil
	}

	v, err, _ := e.flights.Do(c.Checksum, func() (any, error) {
		res, err := e.extractChunk(ctx, docID, chunkID, c, known)
		if err != nil {
			return nil, err
		}
		return &flight{res: res}, nil
	})
	if err != nil {
		return nil, err
	}
	f := v.(*flight)
	if !f.claimed.CompareAndSwap(false, true) {
		return &chunkResult{skipped: true}, nil
	}
	return f.res, nil
}

// extractChunk asks the model for one chunk's records and commits them.
func (e *engine) extractChunk(ctx context.Context, docID, chunkID int64, c chunker.Chunk, known []string) (*chunkResult, error) {
	ctx, span := e.tracer.Start(ctx, "nexus.chunk", trace.WithAttributes(
		attribute.Int("chunk.index", c.Index),
		attribute.String("chunk.checksum", c.Checksum),
	))
	defer span.End()

	start := time.Now()
	raw, err := e.requestor.Request(ctx, c.Text, known)
	e.metrics.ObserveExtraction(time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}

	resp := extract.ParseResponse(raw, e.requestor.Template().Delimiters, e.log)
	canon := e.canon.Canonicalize(resp)

	out, err := e.consolidator.Commit(ctx, graph.Unit{
		DocumentID:    &docID,
		ChunkID:       &chunkID,
		ChunkChecksum: c.Checksum,
		Entities:      canon.Entities,
		Relationships: canon.Relationships,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return nil, fmt.Errorf("committing chunk %d: %w", c.Index, err)
	}
	span.SetAttributes(
		attribute.Int("entities.created", out.EntitiesCreated),
		attribute.Int("relationships.created", out.RelationshipsCreated),
		attribute.Int("conflicts", out.Conflicts.Total()),
		attribute.Bool("skipped", out.Skipped),
	)
	if out.Skipped {
		return &chunkResult{skipped: true}, nil
	}

	e.embedEntities(ctx, out.NewEntities)

	names := make([]string, 0, len(canon.Entities))
	for _, ent := range canon.Entities {
		names = append(names, ent.Name)
	}
	return &chunkResult{
		outcome:   out,
		names:     names,
		malformed: resp.Malformed,
		dropped:   canon.Dropped,
	}, nil
}

// embedEntities indexes newly created entities. Failures are logged; the
// graph commit already happened.
func (e *engine) embedEntities(ctx context.Context, ents []graph.NewEntity) {
	if !e.cfg.EmbedEntities || e.embedder == nil || e.index == nil {
		return
	}
	for _, ent := range ents {
		vec, err := e.embedder.Embed(ctx, entityText(ent))
		if err != nil {
			e.log.Warn("ingest: embedding entity failed", zap.String("entity", ent.Name), zap.Error(err))
			continue
		}
		if err := e.index.Upsert(ctx, ent.ID, vec); err != nil {
			e.log.Warn("ingest: storing entity embedding failed", zap.String("entity", ent.Name), zap.Error(err))
		}
	}
}

func entityText(ent graph.NewEntity) string {
	if ent.Claim == "" {
		return fmt.Sprintf("%s (%s)", ent.Name, ent.Type)
	}
	return fmt.Sprintf("%s (%s): %s", ent.Name, ent.Type, ent.Claim)
}

func (e *engine) DeleteChecksum(ctx context.Context, fp string) (*store.DeleteResult, error) {
	return e.consolidator.DeleteChecksum(ctx, fp)
}

func (e *engine) DeleteEntity(ctx context.Context, name string) (*store.DeleteResult, error) {
	return e.consolidator.DeleteEntity(ctx, name)
}

func (e *engine) DeleteRelationship(ctx context.Context, source, target string) (*store.DeleteResult, error) {
	return e.consolidator.DeleteRelationship(ctx, source, target)
}

func (e *engine) Reviews(ctx context.Context, status string) ([]store.ReviewItem, error) {
	return e.store.ListReviews(ctx, status)
}

func (e *engine) ResolveReview(ctx context.Context, id, action string) error {
	return e.consolidator.ResolveReview(ctx, id, action)
}

func (e *engine) SimilarEntities(ctx context.Context, text string, k int) ([]store.EntityMatch, error) {
	if e.embedder == nil || e.index == nil {
		return nil, ErrEmbeddingUnavailable
	}
	if k <= 0 {
		k = 10
	}
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return e.index.Nearest(ctx, vec, k)
}

func (e *engine) Stats(ctx context.Context) (*store.Stats, error) {
	return e.store.Stats(ctx)
}

func (e *engine) Checksums(ctx context.Context) ([]store.ChecksumRecord, error) {
	return e.store.Ledger().List(ctx)
}

func (e *engine) ListDocuments(ctx context.Context) ([]store.Document, error) {
	return e.store.ListDocuments(ctx)
}

// Metrics returns the engine's collector.
func (e *engine) Metrics() *metrics.Collector {
	return e.metrics
}

// Store returns the underlying store for diagnostic access.
func (e *engine) Store() *store.Store {
	return e.store
}

// Close shuts down the engine and every connection it opened.
func (e *engine) Close() error {
	var errs []error
	if e.neo4j != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, e.neo4j.Close(ctx))
		cancel()
	}
	if e.redis != nil {
		errs = append(errs, e.redis.Close())
	}
	if e.store != nil {
		errs = append(errs, e.store.Close())
	}
	_ = e.log.Sync()
	return errors.Join(errs...)
}
