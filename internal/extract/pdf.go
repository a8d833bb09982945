package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"bookrag/internal/chunker"
)

// PDFExtractor reads a PDF page by page and puts a page marker before each
// page's text. Pages that fail to decode are skipped.
type PDFExtractor struct{}

func (r *PDFExtractor) CanRead(path string) bool {
	return hasExt(path, ".pdf")
}

func (r *PDFExtractor) ExtractText(ctx context.Context, path string) (string, error) {
	f, rdr, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open pdf document: %w", err)
	}
	defer f.Close()

	logger := logutil.GetLogger(ctx)
	var sb strings.Builder
	pages := rdr.NumPage()
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := pageText(rdr, i)
		if err != nil {
			logger.Warn("skip unreadable pdf page", zap.Int("page", i), zap.Error(err))
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		sb.WriteString("\n")
		sb.WriteString(chunker.Marker(i))
		sb.WriteString("\n")
		sb.WriteString(text)
	}
	logger.Debug("read pdf", zap.String("path", path), zap.Int("pages", pages))
	return sb.String(), nil
}

func pageText(rdr *pdf.Reader, n int) (text string, err error) {
	// the pdf package panics on some malformed content streams
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decode page: %v", r)
		}
	}()
	p := rdr.Page(n)
	if p.V.IsNull() {
		return "", nil
	}
	return p.GetPlainText(nil)
}
