package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"bookrag/internal/config"
	apperr "bookrag/internal/pkg/errors"
)

// Model is a loaded embedding model.
type Model interface {
	Name() string
	// Dimension may report 0 until the first batch has been embedded.
	Dimension() int
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Loader constructs the model. It is called at most once per Embedder.
type Loader func(ctx context.Context) (Model, error)

// Factory builds a model for a configured embedder type.
type Factory func(ctx context.Context, cfg config.EmbedderConfig) (Model, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

// NewLoader resolves the configured embedder type into a Loader, wrapping the
// model with the query cache when one is configured.
func NewLoader(cfg config.EmbedderConfig) (Loader, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("%w: unsupported embedder type: %s", apperr.ErrInvalid, cfg.Type)
	}
	return func(ctx context.Context) (Model, error) {
		m, err := factory(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return WrapCache(m, cfg.Cache.Size, cfg.Cache.TTL()), nil
	}, nil
}

// Embedder is the process-wide embedding handle. The model is loaded lazily on
// first use and the outcome, success or failure, is kept for the handle's lifetime.
type Embedder struct {
	modelID   string
	batchSize int
	load      Loader

	mu     sync.Mutex
	loaded bool
	model  Model
	err    error
}

func New(modelID string, batchSize int, load Loader) *Embedder {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &Embedder{modelID: modelID, batchSize: batchSize, load: load}
}

// ModelID identifies the configured model; it is recorded alongside persisted indexes.
func (e *Embedder) ModelID() string { return e.modelID }

func (e *Embedder) get(ctx context.Context) (Model, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		e.loaded = true
		logger := logutil.GetLogger(ctx).With(zap.String("model", e.modelID))
		if e.load == nil {
			e.err = fmt.Errorf("%w: no embedding loader configured", apperr.ErrUnavailable)
		} else {
			e.model, e.err = e.load(ctx)
			if e.err == nil && e.model == nil {
				e.err = fmt.Errorf("%w: embedding loader returned no model", apperr.ErrUnavailable)
			}
		}
		if e.err != nil {
			logger.Error("failed to load embedding model", zap.Error(e.err))
		} else {
			logger.Info("embedding model loaded", zap.String("provider", e.model.Name()))
		}
	}
	return e.model, e.err
}

// Available loads the model if needed and reports whether it is usable.
func (e *Embedder) Available(ctx context.Context) bool {
	_, err := e.get(ctx)
	return err == nil
}

// Err returns the load failure, if the model has been loaded and failed.
func (e *Embedder) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Dimension returns the model's vector size, or 0 when the model is not loaded.
func (e *Embedder) Dimension() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model == nil {
		return 0
	}
	return e.model.Dimension()
}

// Embed returns one vector per text, in input order. It returns nil when the
// model is unavailable or any batch fails, so callers only check the length.
func (e *Embedder) Embed(ctx context.Context, texts []string) [][]float32 {
	if len(texts) == 0 {
		return nil
	}
	m, err := e.get(ctx)
	if err != nil {
		return nil
	}
	logger := logutil.GetLogger(ctx).With(zap.String("model", e.modelID))
	out := make([][]float32, 0, len(texts))
	dim := 0
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		vecs, err := m.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			logger.Error("embedding batch failed", zap.Int("offset", start), zap.Int("size", end-start), zap.Error(err))
			return nil
		}
		if len(vecs) != end-start {
			logger.Error("embedding batch size mismatch", zap.Int("want", end-start), zap.Int("got", len(vecs)))
			return nil
		}
		for i, v := range vecs {
			if dim == 0 {
				dim = len(v)
			}
			if len(v) == 0 || len(v) != dim {
				logger.Error("embedding has unexpected dimension", zap.Int("index", start+i), zap.Int("want", dim), zap.Int("got", len(v)))
				return nil
			}
		}
		out = append(out, vecs...)
		logger.Debug("embedded batch", zap.Int("done", end), zap.Int("total", len(texts)))
	}
	return out
}

// EmbedOne embeds a single text. Blank input yields an empty vector.
func (e *Embedder) EmbedOne(ctx context.Context, text string) []float32 {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	vecs := e.Embed(ctx, []string{text})
	if len(vecs) == 0 {
		return nil
	}
	return vecs[0]
}
