package generate

import (
	"fmt"
	"strings"

	"bookrag/internal/domain"
)

const (
	noContext = "No relevant context found in the book."

	systemPrompt = `You are a helpful AI assistant that answers questions based on the provided book content.
Use the context provided to answer the user's question. If the context doesn't contain enough information
to answer the question completely, mention that and provide what information you can from the context.
Always be accurate and cite the page numbers when possible.`
)

// FormatContext renders retrieved chunks as page-tagged blocks for a prompt.
func FormatContext(results []domain.SearchResult) string {
	if len(results) == 0 {
		return noContext
	}
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, fmt.Sprintf("[Page %d] (Relevance: %.3f)\n%s", r.Chunk.Page, r.Score, strings.TrimSpace(r.Chunk.Text)))
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func userPrompt(query string, results []domain.SearchResult) string {
	return fmt.Sprintf(`Context from the book:
%s

Question: %s

Please provide a detailed answer based on the context above.`, FormatContext(results), query)
}
