package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookrag/internal/domain"
	"bookrag/internal/service"
)

type fakeBackend struct {
	answer    service.Answer
	results   []domain.SearchResult
	searchErr error
	lastTopK  int
}

func (f *fakeBackend) ProcessQuery(_ context.Context, _ string) service.Answer { return f.answer }

func (f *fakeBackend) Search(_ context.Context, _ string, topK int) ([]domain.SearchResult, error) {
	f.lastTopK = topK
	return f.results, f.searchErr
}

func (f *fakeBackend) Stats() service.Stats {
	return service.Stats{Status: "Index loaded", State: "ready", Documents: 2, Dimension: 64, Model: "hashing-64"}
}

var twoResults = []domain.SearchResult{
	{Chunk: domain.Chunk{Text: "Call me Ishmael.", Page: 1, ChunkID: 0}, Score: 0.9, Rank: 1},
	{Chunk: domain.Chunk{Text: "The whale.", Page: 4, ChunkID: 7}, Score: 0.4, Rank: 2},
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func Test_AskBook(t *testing.T) {
	b := &fakeBackend{answer: service.Answer{Status: service.StatusOK, Text: "Ishmael narrates.", Sources: twoResults}}
	res, err := askHandler(b)(context.Background(), call(map[string]any{"query": "who narrates?"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	text := textOf(t, res)
	parts := strings.SplitN(text, "\n\nSources:\n", 2)
	require.Len(t, parts, 2)
	assert.Equal(t, "Ishmael narrates.", parts[0])

	lines := strings.Split(strings.TrimSpace(parts[1]), "\n")
	require.Len(t, lines, 2)
	var first source
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, source{Rank: 1, Page: 1, Score: 0.9, Chunk: 0}, first)
}

func Test_AskBookFixedReplies(t *testing.T) {
	b := &fakeBackend{answer: service.Answer{Status: service.StatusNoResults, Text: service.MsgNoResults}}
	res, err := askHandler(b)(context.Background(), call(map[string]any{"query": "zzz"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, service.MsgNoResults, textOf(t, res))

	b.answer = service.Answer{Status: service.StatusError, Text: service.MsgError}
	res, err = askHandler(b)(context.Background(), call(map[string]any{"query": "zzz"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func Test_MissingQuery(t *testing.T) {
	b := &fakeBackend{}
	for name, h := range map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"ask":    askHandler(b),
		"search": searchHandler(b),
	} {
		t.Run(name, func(t *testing.T) {
			res, err := h(context.Background(), call(map[string]any{}))
			require.NoError(t, err)
			assert.True(t, res.IsError)
		})
	}
}

func Test_SearchBook(t *testing.T) {
	b := &fakeBackend{results: twoResults}
	res, err := searchHandler(b)(context.Background(), call(map[string]any{"query": "whale", "top_k": float64(2)}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, 2, b.lastTopK)

	lines := strings.Split(strings.TrimSpace(textOf(t, res)), "\n")
	require.Len(t, lines, 2)
	var second source
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "The whale.", second.Text)
	assert.Equal(t, 7, second.Chunk)

	_, err = searchHandler(b)(context.Background(), call(map[string]any{"query": "whale"}))
	require.NoError(t, err)
	assert.Zero(t, b.lastTopK)

	res, err = searchHandler(b)(context.Background(), call(map[string]any{"query": "whale", "top_k": float64(-1)}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	b.searchErr = errors.New("query: index is not ready")
	res, err = searchHandler(b)(context.Background(), call(map[string]any{"query": "whale"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, textOf(t, res), "not ready")
}

func Test_IndexStats(t *testing.T) {
	res, err := statsHandler(&fakeBackend{})(context.Background(), call(nil))
	require.NoError(t, err)
	var st service.Stats
	require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &st))
	assert.Equal(t, 2, st.Documents)
	assert.Equal(t, "hashing-64", st.Model)
}

func Test_NewRegistersTools(t *testing.T) {
	assert.NotNil(t, New(&fakeBackend{}))
}
