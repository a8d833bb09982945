package domain

import "context"

// Chunk is a page-tagged slice of the source document used as the unit of retrieval.
type Chunk struct {
	Text    string
	Page    int
	ChunkID int
}

// SearchResult represents a matching chunk with its similarity score and 1-based rank.
type SearchResult struct {
	Chunk Chunk
	Score float64
	Rank  int
}

// TextExtractor turns a document on disk into plain text with page markers.
type TextExtractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// Chunker splits extracted document text into chunks suitable for indexing.
type Chunker interface {
	Chunk(text string) []Chunk
}

// Embedder maps texts to dense vectors. An empty result means embeddings are unavailable.
type Embedder interface {
	ModelID() string
	Embed(ctx context.Context, texts []string) [][]float32
	EmbedOne(ctx context.Context, text string) []float32
}

// VectorIndex stores normalized vectors alongside their chunks.
type VectorIndex interface {
	Build(ctx context.Context, vectors [][]float32, chunks []Chunk) error
	Search(ctx context.Context, query []float32, topK int) []SearchResult
	Load(ctx context.Context) bool
	Reset()
	Ready() bool
	Len() int
	Dimension() int
	Generation() string
	ModelID() string
}

// Generator turns a question and its retrieved passages into prose.
type Generator interface {
	Name() string
	Generate(ctx context.Context, query string, results []SearchResult) (string, error)
}
