package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"bookrag/internal/domain"
	apperr "bookrag/internal/pkg/errors"
)

// User-facing replies of the query path.
const (
	MsgPrompt           = "Please ask a question about the book."
	MsgNoQueryEmbedding = "Sorry, I couldn't process your query."
	MsgNoResults        = "I couldn't find relevant information in the book to answer your question."
	MsgError            = "Sorry, I encountered an error while processing your question."
	MsgNotReady         = "The book index is not ready yet."
)

const dimensionCheckText = "index dimension check"

// Stage failures of the build path.
const (
	MsgNoText       = "Could not extract text from book PDF"
	MsgNoChunks     = "Could not create chunks from book text"
	MsgNoEmbeddings = "Could not generate embeddings"
)

type State int32

const (
	StateUninitialized State = iota
	StateLoading
	StateBuilding
	StateReady
	StateBuildFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateBuilding:
		return "building"
	case StateReady:
		return "ready"
	case StateBuildFailed:
		return "build_failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type Status string

const (
	StatusOK               Status = "ok"
	StatusPrompt           Status = "prompt"
	StatusNoQueryEmbedding Status = "no_query_embedding"
	StatusNoResults        Status = "no_results"
	StatusNotReady         Status = "not_ready"
	StatusError            Status = "error"
)

// Answer is the outcome of ProcessQuery. Text is always safe to show a user.
type Answer struct {
	Status  Status
	Text    string
	Sources []domain.SearchResult
}

type Deps struct {
	Extractor    domain.TextExtractor
	Chunker      domain.Chunker
	Embedder     domain.Embedder
	Index        domain.VectorIndex
	Generator    domain.Generator
	DocumentPath string
	TopK         int
	MinScore     float64
}

// Stats summarizes the index for status displays.
type Stats struct {
	Status     string `json:"status"`
	State      string `json:"state"`
	Documents  int    `json:"documents"`
	Dimension  int    `json:"dimension"`
	Generation string `json:"generation,omitempty"`
	Model      string `json:"model"`
	LastError  string `json:"last_error,omitempty"`
}

// Pipeline owns the index lifecycle and answers questions against it.
// At most one load or build runs at a time.
type Pipeline struct {
	deps Deps

	buildMu sync.Mutex

	mu      sync.RWMutex
	state   State
	lastErr error
}

func NewPipeline(deps Deps) (*Pipeline, error) {
	if deps.Extractor == nil || deps.Chunker == nil || deps.Embedder == nil || deps.Index == nil || deps.Generator == nil {
		return nil, fmt.Errorf("%w: pipeline dependencies are incomplete", apperr.ErrInvalid)
	}
	if deps.TopK <= 0 {
		deps.TopK = 5
	}
	return &Pipeline{deps: deps}, nil
}

func (p *Pipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// LastError is the failure of the most recent build, if it failed.
func (p *Pipeline) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

func (p *Pipeline) setState(s State, err error) {
	p.mu.Lock()
	p.state = s
	p.lastErr = err
	p.mu.Unlock()
}

// Ready reports whether queries can be answered. A rebuild in progress keeps
// serving the previous generation.
func (p *Pipeline) Ready() bool {
	return p.deps.Index.Ready()
}

// Initialize loads the persisted index, building it from the document when
// nothing usable is on disk.
func (p *Pipeline) Initialize(ctx context.Context) error {
	if !p.buildMu.TryLock() {
		return apperr.New(apperr.KindBusy, "index", "an index build is already running", apperr.ErrBusy)
	}
	defer p.buildMu.Unlock()

	p.setState(StateLoading, nil)
	if p.deps.Index.Load(ctx) && p.dimensionMatches(ctx) {
		p.setState(StateReady, nil)
		return nil
	}
	return p.build(ctx)
}

// dimensionMatches checks a loaded generation against what the embedder
// produces now. A mismatch drops the generation so it gets rebuilt. When the
// embedder is unavailable the generation is kept.
func (p *Pipeline) dimensionMatches(ctx context.Context) bool {
	vec := p.deps.Embedder.EmbedOne(ctx, dimensionCheckText)
	if len(vec) == 0 || len(vec) == p.deps.Index.Dimension() {
		return true
	}
	logutil.GetLogger(ctx).Warn("persisted index dimension differs from the embedder, rebuilding",
		zap.Int("index_dimension", p.deps.Index.Dimension()), zap.Int("embedder_dimension", len(vec)))
	p.deps.Index.Reset()
	return false
}

// Rebuild builds a new generation from the document even if one is loaded.
func (p *Pipeline) Rebuild(ctx context.Context) error {
	if !p.buildMu.TryLock() {
		return apperr.New(apperr.KindBusy, "index", "an index build is already running", apperr.ErrBusy)
	}
	defer p.buildMu.Unlock()
	return p.build(ctx)
}

func (p *Pipeline) build(ctx context.Context) error {
	logger := logutil.GetLogger(ctx).With(zap.String("document", p.deps.DocumentPath))
	p.setState(StateBuilding, nil)
	start := time.Now()
	err := p.runBuild(ctx)
	if err == nil {
		p.setState(StateReady, nil)
		logger.Info("index ready", zap.Int("chunks", p.deps.Index.Len()), zap.Duration("took", time.Since(start)))
		return nil
	}
	if p.deps.Index.Ready() {
		p.setState(StateReady, err)
		logger.Error("index build failed, keeping previous generation", zap.Error(err))
		return err
	}
	p.setState(StateBuildFailed, err)
	logger.Error("index build failed", zap.Error(err))
	return err
}

func (p *Pipeline) runBuild(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperr.New(apperr.KindInternal, "build", "unexpected failure", fmt.Errorf("panic: %v", r))
		}
	}()
	logger := logutil.GetLogger(ctx)

	text, err := p.deps.Extractor.ExtractText(ctx, p.deps.DocumentPath)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindMissingInput {
			return err
		}
		return apperr.New(apperr.KindEmptyOutput, "extract", MsgNoText, err)
	}
	if strings.TrimSpace(text) == "" {
		return apperr.New(apperr.KindEmptyOutput, "extract", MsgNoText, apperr.ErrEmptyStage)
	}

	chunks := p.deps.Chunker.Chunk(text)
	if len(chunks) == 0 {
		return apperr.New(apperr.KindEmptyOutput, "chunk", MsgNoChunks, apperr.ErrEmptyStage)
	}
	logger.Info("document chunked", zap.Int("chunks", len(chunks)))

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors := p.deps.Embedder.Embed(ctx, texts)
	if len(vectors) == 0 || len(vectors) != len(chunks) {
		return apperr.New(apperr.KindEmptyOutput, "embed", MsgNoEmbeddings, apperr.ErrEmptyStage)
	}

	if err := p.deps.Index.Build(ctx, vectors, chunks); err != nil {
		return err
	}
	return nil
}

// Retrieve returns the configured number of passages for query.
func (p *Pipeline) Retrieve(ctx context.Context, query string) ([]domain.SearchResult, error) {
	return p.Search(ctx, query, p.deps.TopK)
}

// Search ranks passages for query, dropping those below the minimum score.
// topK <= 0 uses the configured count.
func (p *Pipeline) Search(ctx context.Context, query string, topK int) ([]domain.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.New(apperr.KindMissingInput, "query", "query is blank", apperr.ErrInvalid)
	}
	if !p.deps.Index.Ready() {
		return nil, apperr.New(apperr.KindUnavailable, "query", "index is not ready", apperr.ErrUnavailable)
	}
	if topK <= 0 {
		topK = p.deps.TopK
	}
	vec := p.deps.Embedder.EmbedOne(ctx, query)
	if len(vec) == 0 {
		return nil, apperr.New(apperr.KindUnavailable, "embed", "could not embed query", apperr.ErrUnavailable)
	}
	if dim := p.deps.Index.Dimension(); len(vec) != dim {
		return nil, apperr.New(apperr.KindCorrupt, "query",
			fmt.Sprintf("query has dimension %d, index has %d", len(vec), dim), apperr.ErrDimension)
	}
	results := p.deps.Index.Search(ctx, vec, topK)
	if p.deps.MinScore > 0 {
		kept := results[:0]
		for _, r := range results {
			if r.Score >= p.deps.MinScore {
				kept = append(kept, r)
			}
		}
		results = kept
	}
	return results, nil
}

// ProcessQuery answers a question. It never returns an error or panics; every
// failure becomes one of the fixed replies.
func (p *Pipeline) ProcessQuery(ctx context.Context, query string) (ans Answer) {
	logger := logutil.GetLogger(ctx)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("query processing panicked", zap.Any("panic", r))
			ans = Answer{Status: StatusError, Text: MsgError}
		}
	}()

	if strings.TrimSpace(query) == "" {
		return Answer{Status: StatusPrompt, Text: MsgPrompt}
	}
	if !p.deps.Index.Ready() {
		return Answer{Status: StatusNotReady, Text: MsgNotReady}
	}
	results, err := p.Retrieve(ctx, query)
	if err != nil {
		if errors.Is(err, apperr.ErrUnavailable) {
			return Answer{Status: StatusNoQueryEmbedding, Text: MsgNoQueryEmbedding}
		}
		logger.Error("retrieval failed", zap.Error(err))
		return Answer{Status: StatusError, Text: MsgError}
	}
	if len(results) == 0 {
		return Answer{Status: StatusNoResults, Text: MsgNoResults}
	}

	text, err := p.deps.Generator.Generate(ctx, query, results)
	if err != nil {
		logger.Error("answer generation failed", zap.String("generator", p.deps.Generator.Name()), zap.Error(err))
		return Answer{Status: StatusError, Text: MsgError, Sources: results}
	}
	return Answer{Status: StatusOK, Text: text, Sources: results}
}

func (p *Pipeline) Stats() Stats {
	st := Stats{
		Status:     "No index loaded",
		State:      p.State().String(),
		Model:      p.deps.Embedder.ModelID(),
		Generation: p.deps.Index.Generation(),
	}
	if p.deps.Index.Ready() {
		st.Status = "Index loaded"
		st.Documents = p.deps.Index.Len()
		st.Dimension = p.deps.Index.Dimension()
	}
	if err := p.LastError(); err != nil {
		st.LastError = err.Error()
	}
	return st
}
