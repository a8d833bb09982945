package extract

import (
	"context"
	"fmt"
	"os"
	"strings"

	"bookrag/internal/chunker"
)

// TextExtractor reads plain text. Form feeds are treated as page breaks and
// turned into page markers unless the text already carries markers.
type TextExtractor struct{}

func (r *TextExtractor) CanRead(path string) bool {
	return hasExt(path, ".txt", ".md")
}

func (r *TextExtractor) ExtractText(_ context.Context, path string) (string, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading text file: %w", err)
	}
	return paginate(string(buf)), nil
}

func paginate(text string) string {
	if strings.TrimSpace(text) == "" || chunker.HasMarkers(text) {
		return text
	}
	var sb strings.Builder
	for i, page := range strings.Split(text, "\f") {
		if strings.TrimSpace(page) == "" {
			continue
		}
		sb.WriteString(chunker.Marker(i + 1))
		sb.WriteString("\n")
		sb.WriteString(page)
		sb.WriteString("\n")
	}
	return sb.String()
}
