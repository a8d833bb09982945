package generate

import (
	"context"
	"fmt"
	"strings"

	"bookrag/internal/domain"
	apperr "bookrag/internal/pkg/errors"
	"bookrag/internal/summarizer"
)

// ExtractiveGenerator answers offline by quoting the retrieved sentences that
// best match the question, each cited with its page.
type ExtractiveGenerator struct {
	summ         *summarizer.FrequencySummarizer
	maxSentences int
}

func NewExtractive(summ *summarizer.FrequencySummarizer, maxSentences int) *ExtractiveGenerator {
	if maxSentences <= 0 {
		maxSentences = 5
	}
	return &ExtractiveGenerator{summ: summ, maxSentences: maxSentences}
}

func (g *ExtractiveGenerator) Name() string { return "extractive" }

func (g *ExtractiveGenerator) Generate(ctx context.Context, query string, results []domain.SearchResult) (string, error) {
	passages := make([]summarizer.Passage, 0, len(results))
	for _, r := range results {
		passages = append(passages, summarizer.Passage{Text: r.Chunk.Text, Page: r.Chunk.Page, Weight: r.Score})
	}
	sentences := g.summ.Rank(query, passages, g.maxSentences)
	if len(sentences) == 0 {
		return "", fmt.Errorf("%w: no sentences to quote", apperr.ErrEmptyStage)
	}
	var sb strings.Builder
	sb.WriteString("From the book:\n")
	for _, s := range sentences {
		fmt.Fprintf(&sb, "\n- %s [Page %d]", s.Text, s.Page)
	}
	return sb.String(), nil
}
