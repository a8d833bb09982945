package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookrag/internal/chunker"
	"bookrag/internal/domain"
	"bookrag/internal/embedding"
	"bookrag/internal/embedding/hashing"
	apperr "bookrag/internal/pkg/errors"
	"bookrag/internal/vectorstore/flat"
	"bookrag/internal/vectorstore/memory"
)

type fakeExtractor struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
	block chan struct{}
}

func (f *fakeExtractor) ExtractText(ctx context.Context, path string) (string, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.text, f.err
}

func (f *fakeExtractor) set(text string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text, f.err = text, err
}

type fakeGenerator struct {
	err     error
	panics  bool
	query   string
	results []domain.SearchResult
}

func (g *fakeGenerator) Name() string { return "fake" }

func (g *fakeGenerator) Generate(ctx context.Context, query string, results []domain.SearchResult) (string, error) {
	if g.panics {
		panic("generator exploded")
	}
	g.query, g.results = query, results
	if g.err != nil {
		return "", g.err
	}
	return fmt.Sprintf("answer from %d passages", len(results)), nil
}

type emptyEmbedder struct{}

func (emptyEmbedder) ModelID() string                             { return "none" }
func (emptyEmbedder) Embed(context.Context, []string) [][]float32 { return nil }
func (emptyEmbedder) EmbedOne(context.Context, string) []float32  { return nil }

// queryBlindEmbedder embeds the corpus but fails on every query.
type queryBlindEmbedder struct{ *embedding.Embedder }

func (queryBlindEmbedder) EmbedOne(context.Context, string) []float32 { return nil }

const (
	timeoutWait = 2 * time.Second
	tick        = 10 * time.Millisecond
)

const book = `--- Page 1 ---
Call me Ishmael. Some years ago I went to sea aboard a whaling ship.
--- Page 2 ---
Captain Ahab commanded the Pequod and hunted the white whale Moby Dick.
--- Page 3 ---
Queequeg was a harpooneer from the South Seas and became a loyal friend.`

type fixture struct {
	pipeline  *Pipeline
	extractor *fakeExtractor
	generator *fakeGenerator
	index     *flat.Index
	store     *memory.Storage
}

func newFixture(t *testing.T, mutate func(*Deps)) *fixture {
	t.Helper()
	model, err := hashing.New("hashing-64", 64)
	require.NoError(t, err)
	emb := embedding.New(model.Name(), 8, func(context.Context) (embedding.Model, error) { return model, nil })
	ch, err := chunker.NewWordChunker(12, 2)
	require.NoError(t, err)

	f := &fixture{
		extractor: &fakeExtractor{text: book},
		generator: &fakeGenerator{},
		store:     memory.NewStorage(),
	}
	f.index = flat.New(f.store, emb.ModelID())
	deps := Deps{
		Extractor:    f.extractor,
		Chunker:      ch,
		Embedder:     emb,
		Index:        f.index,
		Generator:    f.generator,
		DocumentPath: "data/book.pdf",
		TopK:         2,
	}
	if mutate != nil {
		mutate(&deps)
	}
	f.pipeline, err = NewPipeline(deps)
	require.NoError(t, err)
	return f
}

func Test_NewPipeline_RequiresDeps(t *testing.T) {
	_, err := NewPipeline(Deps{})
	assert.ErrorIs(t, err, apperr.ErrInvalid)
}

func Test_Initialize_BuildsWhenNothingPersisted(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, StateUninitialized, f.pipeline.State())

	require.NoError(t, f.pipeline.Initialize(context.Background()))
	assert.Equal(t, StateReady, f.pipeline.State())
	assert.True(t, f.pipeline.Ready())
	assert.Equal(t, 1, f.extractor.calls)

	st := f.pipeline.Stats()
	assert.Equal(t, "Index loaded", st.Status)
	assert.Equal(t, "ready", st.State)
	assert.Equal(t, 64, st.Dimension)
	assert.Equal(t, "hashing-64", st.Model)
	assert.Positive(t, st.Documents)
}

func Test_Initialize_LoadsPersistedIndexWithoutExtracting(t *testing.T) {
	first := newFixture(t, nil)
	require.NoError(t, first.pipeline.Initialize(context.Background()))

	second := newFixture(t, func(d *Deps) {
		d.Index = flat.New(first.store, d.Embedder.ModelID())
	})
	require.NoError(t, second.pipeline.Initialize(context.Background()))
	assert.Equal(t, StateReady, second.pipeline.State())
	assert.Zero(t, second.extractor.calls)
	assert.Equal(t, first.index.Generation(), second.pipeline.Stats().Generation)
}

func hashingEmbedder(t *testing.T, name string, dim int) *embedding.Embedder {
	t.Helper()
	model, err := hashing.New(name, dim)
	require.NoError(t, err)
	return embedding.New(name, 8, func(context.Context) (embedding.Model, error) { return model, nil })
}

func Test_Initialize_RebuildsWhenDimensionChanged(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStorage()
	firstIndex := flat.New(store, "my-hash")
	first := newFixture(t, func(d *Deps) {
		d.Embedder = hashingEmbedder(t, "my-hash", 64)
		d.Index = firstIndex
	})
	require.NoError(t, first.pipeline.Initialize(ctx))
	require.Equal(t, 64, firstIndex.Dimension())

	second := newFixture(t, func(d *Deps) {
		d.Embedder = hashingEmbedder(t, "my-hash", 128)
		d.Index = flat.New(store, "my-hash")
	})
	require.NoError(t, second.pipeline.Initialize(ctx))
	assert.Equal(t, 1, second.extractor.calls, "stale generation is rebuilt")
	assert.Equal(t, 128, second.pipeline.Stats().Dimension)
	assert.NotEqual(t, firstIndex.Generation(), second.pipeline.Stats().Generation)

	ans := second.pipeline.ProcessQuery(ctx, "Who commanded the Pequod?")
	assert.Equal(t, StatusOK, ans.Status)
}

func Test_Search_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	first := newFixture(t, nil)
	require.NoError(t, first.pipeline.Initialize(ctx))

	second := newFixture(t, func(d *Deps) {
		d.Embedder = hashingEmbedder(t, "hashing-64", 32)
		d.Index = first.index
	})
	_, err := second.pipeline.Search(ctx, "whale", 2)
	assert.ErrorIs(t, err, apperr.ErrDimension)
	assert.Equal(t, apperr.KindCorrupt, apperr.KindOf(err))
	assert.Equal(t, Answer{Status: StatusError, Text: MsgError}, second.pipeline.ProcessQuery(ctx, "whale"))
}

func Test_Build_StageFailures(t *testing.T) {
	var cases = []struct {
		name  string
		text  string
		err   error
		emb   domain.Embedder
		kind  apperr.Kind
		msg   string
		stage string
	}{
		{name: "missing document", err: apperr.New(apperr.KindMissingInput, "extract", "document not found", apperr.ErrNotFound), kind: apperr.KindMissingInput, stage: "extract"},
		{name: "extractor error", err: errors.New("bad pdf"), kind: apperr.KindEmptyOutput, msg: MsgNoText, stage: "extract"},
		{name: "empty text", text: " \n\t ", kind: apperr.KindEmptyOutput, msg: MsgNoText, stage: "extract"},
		{name: "no embeddings", text: book, emb: emptyEmbedder{}, kind: apperr.KindEmptyOutput, msg: MsgNoEmbeddings, stage: "embed"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFixture(t, func(d *Deps) {
				if c.emb != nil {
					d.Embedder = c.emb
				}
			})
			f.extractor.set(c.text, c.err)

			err := f.pipeline.Initialize(context.Background())
			require.Error(t, err)
			assert.Equal(t, c.kind, apperr.KindOf(err))
			var e *apperr.Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, c.stage, e.Stage)
			if c.msg != "" {
				assert.Equal(t, c.msg, e.Msg)
			}
			assert.Equal(t, StateBuildFailed, f.pipeline.State())
			assert.Equal(t, err, f.pipeline.LastError())
			assert.False(t, f.pipeline.Ready())

			_, loadErr := f.store.Load()
			assert.ErrorIs(t, loadErr, apperr.ErrNotFound, "no partial index persisted")
			assert.Equal(t, StatusNotReady, f.pipeline.ProcessQuery(context.Background(), "who is ahab").Status)
			assert.Equal(t, "No index loaded", f.pipeline.Stats().Status)
			assert.NotEmpty(t, f.pipeline.Stats().LastError)
		})
	}
}

type noChunks struct{}

func (noChunks) Chunk(string) []domain.Chunk { return nil }

func Test_Build_NoChunks(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Chunker = noChunks{} })
	err := f.pipeline.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), MsgNoChunks)
	assert.Equal(t, StateBuildFailed, f.pipeline.State())
}

func Test_Rebuild_FailureKeepsPreviousGeneration(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.pipeline.Initialize(ctx))
	gen := f.index.Generation()

	f.extractor.set("", nil)
	require.Error(t, f.pipeline.Rebuild(ctx))
	assert.Equal(t, StateReady, f.pipeline.State())
	assert.Equal(t, gen, f.index.Generation())
	assert.Error(t, f.pipeline.LastError())
	assert.Equal(t, StatusOK, f.pipeline.ProcessQuery(ctx, "Captain Ahab").Status)

	f.extractor.set(book+"\n--- Page 4 ---\nThe end.", nil)
	require.NoError(t, f.pipeline.Rebuild(ctx))
	assert.NotEqual(t, gen, f.index.Generation())
	assert.NoError(t, f.pipeline.LastError())
}

func Test_Rebuild_ConcurrentBuildIsBusy(t *testing.T) {
	f := newFixture(t, nil)
	f.extractor.block = make(chan struct{})

	done := make(chan error)
	go func() { done <- f.pipeline.Initialize(context.Background()) }()
	require.Eventually(t, func() bool {
		f.extractor.mu.Lock()
		defer f.extractor.mu.Unlock()
		return f.extractor.calls == 1
	}, timeoutWait, tick)

	err := f.pipeline.Rebuild(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.IsBusy(err))
	assert.Equal(t, StateBuilding, f.pipeline.State())

	close(f.extractor.block)
	require.NoError(t, <-done)
	assert.Equal(t, StateReady, f.pipeline.State())
}

func Test_ProcessQuery_Replies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	assert.Equal(t, Answer{Status: StatusNotReady, Text: MsgNotReady}, f.pipeline.ProcessQuery(ctx, "who is ahab"))
	require.NoError(t, f.pipeline.Initialize(ctx))

	for _, q := range []string{"", "   ", "\n\t"} {
		assert.Equal(t, Answer{Status: StatusPrompt, Text: MsgPrompt}, f.pipeline.ProcessQuery(ctx, q))
	}
	assert.Empty(t, f.generator.query, "blank queries never reach retrieval")

	ans := f.pipeline.ProcessQuery(ctx, "Who commanded the Pequod?")
	assert.Equal(t, StatusOK, ans.Status)
	assert.Equal(t, "answer from 2 passages", ans.Text)
	require.Len(t, ans.Sources, 2)
	assert.Equal(t, 1, ans.Sources[0].Rank)
	assert.Contains(t, ans.Sources[0].Chunk.Text, "Pequod")
	assert.Equal(t, "Who commanded the Pequod?", f.generator.query)
	assert.Equal(t, ans.Sources, f.generator.results)
}

func Test_ProcessQuery_GeneratorFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.pipeline.Initialize(ctx))

	f.generator.err = errors.New("rate limited")
	ans := f.pipeline.ProcessQuery(ctx, "Queequeg")
	assert.Equal(t, StatusError, ans.Status)
	assert.Equal(t, MsgError, ans.Text)

	f.generator.err = nil
	f.generator.panics = true
	ans = f.pipeline.ProcessQuery(ctx, "Queequeg")
	assert.Equal(t, StatusError, ans.Status)
	assert.Equal(t, MsgError, ans.Text)
}

func Test_ProcessQuery_NoQueryEmbedding(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(d *Deps) {
		d.Embedder = queryBlindEmbedder{d.Embedder.(*embedding.Embedder)}
	})
	require.NoError(t, f.pipeline.Initialize(ctx))
	assert.Equal(t, Answer{Status: StatusNoQueryEmbedding, Text: MsgNoQueryEmbedding}, f.pipeline.ProcessQuery(ctx, "whale"))
}

func Test_ProcessQuery_MinScoreFiltersEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(d *Deps) { d.MinScore = 0.99 })
	require.NoError(t, f.pipeline.Initialize(ctx))
	assert.Equal(t, Answer{Status: StatusNoResults, Text: MsgNoResults}, f.pipeline.ProcessQuery(ctx, "sourdough bread recipes"))
}

func Test_Search(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.pipeline.Search(ctx, "whale", 3)
	assert.ErrorIs(t, err, apperr.ErrUnavailable)

	require.NoError(t, f.pipeline.Initialize(ctx))
	_, err = f.pipeline.Search(ctx, " ", 3)
	assert.Equal(t, apperr.KindMissingInput, apperr.KindOf(err))

	res, err := f.pipeline.Search(ctx, "harpooneer South Seas", 100)
	require.NoError(t, err)
	assert.Equal(t, f.index.Len(), len(res))
	assert.True(t, strings.Contains(res[0].Chunk.Text, "harpooneer"))
	assert.Equal(t, chunker.FindPage(res[0].Chunk.Text), res[0].Chunk.Page)

	res, err = f.pipeline.Retrieve(ctx, "harpooneer")
	require.NoError(t, err)
	assert.Len(t, res, 2)
}
