package flat

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"bookrag/internal/domain"
	apperr "bookrag/internal/pkg/errors"
	"bookrag/internal/vectorstore"
)

// Index is an exact inner-product index over L2-normalized vectors. Every
// generation is written through to its Storage before it becomes visible.
type Index struct {
	store   vectorstore.Storage
	modelID string

	mu         sync.RWMutex
	ready      bool
	dimension  int
	generation string
	vectors    [][]float32
	chunks     []domain.Chunk
}

// Stats describes the loaded generation.
type Stats struct {
	Ready      bool
	Count      int
	Dimension  int
	Generation string
	ModelID    string
}

// New creates an empty index. Persisted generations embedded by a different
// model than modelID are refused on Load.
func New(store vectorstore.Storage, modelID string) *Index {
	return &Index{store: store, modelID: modelID}
}

// Build replaces the index with a new generation. The previous generation
// stays in place if validation or persistence fails.
func (idx *Index) Build(ctx context.Context, vectors [][]float32, chunks []domain.Chunk) error {
	if len(vectors) == 0 {
		return apperr.New(apperr.KindEmptyOutput, "index", "no vectors to index", apperr.ErrEmptyStage)
	}
	if len(vectors) != len(chunks) {
		return apperr.New(apperr.KindInternal, "index", fmt.Sprintf("%d vectors for %d chunks", len(vectors), len(chunks)), apperr.ErrInvalid)
	}
	dim := len(vectors[0])
	if dim == 0 {
		return apperr.New(apperr.KindInternal, "index", "vectors have zero dimension", apperr.ErrInvalid)
	}
	normalized := make([][]float32, len(vectors))
	for i, v := range vectors {
		if len(v) != dim {
			return apperr.New(apperr.KindInternal, "index", fmt.Sprintf("vector %d has dimension %d, want %d", i, len(v), dim), apperr.ErrInvalid)
		}
		for j, x := range v {
			if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
				return apperr.New(apperr.KindInternal, "index", fmt.Sprintf("vector %d has a non-finite component at %d", i, j), apperr.ErrInvalid)
			}
		}
		normalized[i] = normalize(v)
	}
	snap := &vectorstore.Snapshot{
		Generation: uuid.NewString(),
		ModelID:    idx.modelID,
		Dimension:  dim,
		Vectors:    normalized,
		Chunks:     append([]domain.Chunk(nil), chunks...),
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.store != nil {
		if err := idx.store.Save(snap); err != nil {
			return apperr.New(apperr.KindInternal, "index", "persist index", err)
		}
	}
	idx.install(snap)
	logutil.GetLogger(ctx).Info("index built",
		zap.String("generation", snap.Generation),
		zap.Int("vectors", len(snap.Vectors)),
		zap.Int("dimension", dim))
	return nil
}

// Persist writes the current generation again, e.g. after the files were removed.
func (idx *Index) Persist() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if !idx.ready {
		return fmt.Errorf("%w: index is not loaded", apperr.ErrUnavailable)
	}
	if idx.store == nil {
		return nil
	}
	return idx.store.Save(&vectorstore.Snapshot{
		Generation: idx.generation,
		ModelID:    idx.modelID,
		Dimension:  idx.dimension,
		Vectors:    idx.vectors,
		Chunks:     idx.chunks,
	})
}

// Load replaces the in-memory state with the persisted generation. On any
// failure the index is left unloaded and false is returned.
func (idx *Index) Load(ctx context.Context) bool {
	logger := logutil.GetLogger(ctx)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.reset()
	if idx.store == nil {
		return false
	}
	snap, err := idx.store.Load()
	if err != nil {
		if apperr.IsNotFound(err) {
			logger.Info("no persisted index found")
		} else {
			logger.Warn("persisted index is unusable", zap.Error(err))
		}
		return false
	}
	if err := validate(snap); err != nil {
		logger.Warn("persisted index is unusable", zap.Error(err))
		return false
	}
	if idx.modelID != "" && snap.ModelID != idx.modelID {
		logger.Warn("persisted index was built with a different embedding model",
			zap.String("index_model", snap.ModelID), zap.String("model", idx.modelID))
		return false
	}
	idx.install(snap)
	logger.Info("index loaded",
		zap.String("generation", snap.Generation),
		zap.Int("vectors", len(snap.Vectors)),
		zap.Int("dimension", snap.Dimension))
	return true
}

// Reset drops the in-memory generation. Persisted files are left alone.
func (idx *Index) Reset() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.reset()
}

// Search returns up to topK chunks by descending inner product with the
// normalized query. Ties go to the lower row. An unloaded index, a
// non-positive topK or a query of the wrong dimension yields no results.
func (idx *Index) Search(ctx context.Context, query []float32, topK int) []domain.SearchResult {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if !idx.ready || topK <= 0 || len(query) == 0 {
		return nil
	}
	if len(query) != idx.dimension {
		logutil.GetLogger(ctx).Warn("query dimension mismatch",
			zap.Int("want", idx.dimension), zap.Int("got", len(query)))
		return nil
	}
	q := normalize(query)
	scores := make([]float64, len(idx.vectors))
	for i := range idx.vectors {
		scores[i] = dot(idx.vectors[i], q)
	}
	order := argsortDesc(scores)
	results := make([]domain.SearchResult, 0, min(topK, len(order)))
	for _, row := range order {
		if len(results) == topK {
			break
		}
		if row < 0 || row >= len(idx.chunks) {
			continue
		}
		results = append(results, domain.SearchResult{
			Chunk: idx.chunks[row],
			Score: clamp(scores[row]),
			Rank:  len(results) + 1,
		})
	}
	return results
}

func (idx *Index) Ready() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.ready
}

func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vectors)
}

func (idx *Index) Dimension() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dimension
}

func (idx *Index) Generation() string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.generation
}

func (idx *Index) ModelID() string { return idx.modelID }

func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return Stats{
		Ready:      idx.ready,
		Count:      len(idx.vectors),
		Dimension:  idx.dimension,
		Generation: idx.generation,
		ModelID:    idx.modelID,
	}
}

func (idx *Index) install(snap *vectorstore.Snapshot) {
	idx.ready = true
	idx.dimension = snap.Dimension
	idx.generation = snap.Generation
	idx.vectors = snap.Vectors
	idx.chunks = snap.Chunks
}

func (idx *Index) reset() {
	idx.ready = false
	idx.dimension = 0
	idx.generation = ""
	idx.vectors = nil
	idx.chunks = nil
}

func validate(snap *vectorstore.Snapshot) error {
	if len(snap.Vectors) == 0 {
		return fmt.Errorf("%w: persisted index is empty", apperr.ErrCorrupt)
	}
	if len(snap.Vectors) != len(snap.Chunks) {
		return fmt.Errorf("%w: %d vectors for %d chunks", apperr.ErrCorrupt, len(snap.Vectors), len(snap.Chunks))
	}
	for i, v := range snap.Vectors {
		if len(v) != snap.Dimension {
			return fmt.Errorf("%w: vector %d has dimension %d, want %d", apperr.ErrCorrupt, i, len(v), snap.Dimension)
		}
	}
	return nil
}

// normalize returns a unit-length copy of v. The zero vector stays zero.
func normalize(v []float32) []float32 {
	sum := 0.0
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func clamp(s float64) float64 {
	return math.Max(-1, math.Min(1, s))
}

// argsortDesc orders rows by score descending, then row ascending.
func argsortDesc(vals []float64) []int {
	idxs := make([]int, len(vals))
	for i := range vals {
		idxs[i] = i
	}
	quicksort(idxs, vals, 0, len(idxs)-1)
	return idxs
}

func before(vals []float64, a, b int) bool {
	if vals[a] != vals[b] {
		return vals[a] > vals[b]
	}
	return a < b
}

func quicksort(idxs []int, vals []float64, lo, hi int) {
	if lo >= hi {
		return
	}
	i, j := lo, hi
	pivot := idxs[(lo+hi)/2]
	for i <= j {
		for before(vals, idxs[i], pivot) {
			i++
		}
		for before(vals, pivot, idxs[j]) {
			j--
		}
		if i <= j {
			idxs[i], idxs[j] = idxs[j], idxs[i]
			i++
			j--
		}
	}
	if lo < j {
		quicksort(idxs, vals, lo, j)
	}
	if i < hi {
		quicksort(idxs, vals, i, hi)
	}
}
