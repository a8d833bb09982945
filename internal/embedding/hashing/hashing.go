package hashing

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"bookrag/internal/config"
	"bookrag/internal/embedding"
)

// Model is a corpus-free bag-of-words embedder. Unigrams and adjacent bigrams
// are hashed into a fixed number of signed buckets, so any text can be embedded
// without fitting a vocabulary first and vectors survive index reloads.
type Model struct {
	name         string
	dimension    int
	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

// New creates a hashing model producing vectors of the given dimension.
func New(name string, dimension int) (*Model, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("hashing dimension must be positive, got %d", dimension)
	}
	if name == "" {
		name = fmt.Sprintf("hashing-%d", dimension)
	}
	return &Model{
		name:         name,
		dimension:    dimension,
		tokenPattern: regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`),
		stopwords:    defaultStopwords(),
	}, nil
}

func (m *Model) Name() string   { return m.name }
func (m *Model) Dimension() int { return m.dimension }

func (m *Model) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = m.Vector(text)
	}
	return out, nil
}

// Vector embeds one text. Text with no usable tokens maps to the zero vector.
func (m *Model) Vector(text string) []float32 {
	acc := make([]float64, m.dimension)
	tokens := m.tokenize(text)
	counts := make(map[string]int, len(tokens)*2)
	for i, tok := range tokens {
		counts[tok]++
		if i > 0 {
			counts[tokens[i-1]+" "+tok]++
		}
	}
	for feature, n := range counts {
		bucket, sign := m.bucket(feature)
		// sublinear tf keeps repeated words from dominating a chunk
		acc[bucket] += sign * (1 + math.Log(float64(n)))
	}

	norm := 0.0
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	vec := make([]float32, m.dimension)
	if norm == 0 {
		return vec
	}
	for i, v := range acc {
		vec[i] = float32(v / norm)
	}
	return vec
}

func (m *Model) bucket(feature string) (int, float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	sign := 1.0
	if sum>>63 == 1 {
		sign = -1.0
	}
	return int(sum % uint64(m.dimension)), sign
}

func (m *Model) tokenize(text string) []string {
	lower := strings.ToLower(text)
	raw := m.tokenPattern.FindAllString(lower, -1)
	if len(raw) == 0 {
		return nil
	}
	out := raw[:0]
	for _, t := range raw {
		if _, isStop := m.stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"what", "which", "who", "whom", "how", "why", "when", "where", "does", "do", "did",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

func createFactory(_ context.Context, cfg config.EmbedderConfig) (embedding.Model, error) {
	return New(cfg.Model, cfg.Dimension)
}

func init() {
	embedding.Register("hashing", createFactory)
}
