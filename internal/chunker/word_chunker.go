package chunker

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"bookrag/internal/domain"
	apperr "bookrag/internal/pkg/errors"
)

// PageMarker is the separator the text extractors insert before each page.
const PageMarker = "--- Page %d ---"

var pageMarkerRe = regexp.MustCompile(`--- Page (\d+) ---`)

// WordChunker splits text into overlapping fixed-size word windows.
type WordChunker struct {
	chunkSize int
	overlap   int
}

// NewWordChunker rejects configurations whose stride would not advance.
func NewWordChunker(chunkSize, overlap int) (*WordChunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", apperr.ErrInvalid, chunkSize)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: chunk overlap must not be negative, got %d", apperr.ErrInvalid, overlap)
	}
	if overlap >= chunkSize {
		return nil, fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d", apperr.ErrInvalid, overlap, chunkSize)
	}
	return &WordChunker{chunkSize: chunkSize, overlap: overlap}, nil
}

func (c *WordChunker) Size() int    { return c.chunkSize }
func (c *WordChunker) Overlap() int { return c.overlap }

// Chunk emits windows of up to chunkSize words, advancing by chunkSize-overlap.
// The window that reaches the last word is the final one.
func (c *WordChunker) Chunk(text string) []domain.Chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	stride := c.chunkSize - c.overlap
	chunks := make([]domain.Chunk, 0, len(words)/stride+1)
	for start := 0; start < len(words); start += stride {
		end := min(start+c.chunkSize, len(words))
		body := strings.Join(words[start:end], " ")
		chunks = append(chunks, domain.Chunk{
			Text:    body,
			Page:    FindPage(body),
			ChunkID: len(chunks),
		})
		if end == len(words) {
			break
		}
	}
	return chunks
}

// FindPage returns the number of the first page marker in text, or 1.
// A window straddling a page boundary is tagged with whichever marker appears first.
func FindPage(text string) int {
	m := pageMarkerRe.FindStringSubmatch(text)
	if m == nil {
		return 1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 1
	}
	return n
}

// Marker renders the separator placed before page n.
func Marker(n int) string {
	return fmt.Sprintf(PageMarker, n)
}

// HasMarkers reports whether text already carries page markers.
func HasMarkers(text string) bool {
	return pageMarkerRe.MatchString(text)
}
