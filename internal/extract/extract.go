package extract

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	apperr "bookrag/internal/pkg/errors"
)

// Extractor turns one kind of document into plain text.
type Extractor interface {
	CanRead(path string) bool
	ExtractText(ctx context.Context, path string) (string, error)
}

// Registry dispatches to the first extractor that accepts a path.
type Registry struct {
	extractors []Extractor
}

func NewRegistry(extractors ...Extractor) *Registry {
	return &Registry{extractors: extractors}
}

// Default handles PDFs, plain text and whatever docconv understands.
func Default() *Registry {
	return NewRegistry(&PDFExtractor{}, &TextExtractor{}, &DocconvExtractor{})
}

func (r *Registry) CanRead(path string) bool {
	return r.find(path) != nil
}

// ExtractText returns the document text with page markers where the format
// has pages. A missing document is a missing-input error.
func (r *Registry) ExtractText(ctx context.Context, path string) (string, error) {
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", apperr.New(apperr.KindMissingInput, "extract", fmt.Sprintf("document not found: %s", path), apperr.ErrNotFound)
		}
		return "", apperr.New(apperr.KindMissingInput, "extract", "stat document", err)
	}
	if st.IsDir() {
		return "", apperr.New(apperr.KindMissingInput, "extract", fmt.Sprintf("document is a directory: %s", path), apperr.ErrInvalid)
	}
	e := r.find(path)
	if e == nil {
		return "", fmt.Errorf("%w: no extractor for %s", apperr.ErrInvalid, filepath.Ext(path))
	}
	text, err := e.ExtractText(ctx, path)
	if err != nil {
		return "", err
	}
	logutil.GetLogger(ctx).Info("extracted document text",
		zap.String("path", path), zap.Int("chars", len(text)))
	return text, nil
}

func (r *Registry) find(path string) Extractor {
	for _, e := range r.extractors {
		if e.CanRead(path) {
			return e
		}
	}
	return nil
}

// Info describes the configured document on disk.
type Info struct {
	Exists bool    `json:"exists"`
	Name   string  `json:"name"`
	Size   int64   `json:"size"`
	SizeMB float64 `json:"size_mb"`
	Error  string  `json:"error,omitempty"`
}

func FileInfo(path string) Info {
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Info{}
		}
		return Info{Error: err.Error()}
	}
	return Info{
		Exists: true,
		Name:   filepath.Base(path),
		Size:   st.Size(),
		SizeMB: math.Round(float64(st.Size())/(1024*1024)*100) / 100,
	}
}

func hasExt(path string, exts ...string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}
