package extract

import (
	"context"
	"fmt"
	"os/exec"

	"code.sajari.com/docconv/v2"

	apperr "bookrag/internal/pkg/errors"
)

// DocconvExtractor covers office and markup formats. They have no reliable
// page boundaries, so the whole body is page 1.
type DocconvExtractor struct{}

func (r *DocconvExtractor) CanRead(path string) bool {
	return hasExt(path, ".docx", ".odt", ".rtf", ".html", ".htm", ".xml")
}

func (r *DocconvExtractor) ExtractText(_ context.Context, path string) (string, error) {
	// docconv cleans markup with the external tidy binary
	if hasExt(path, ".html", ".htm", ".xml") && !tidyAvailable() {
		return "", fmt.Errorf("%w: reading %s needs the tidy binary on PATH", apperr.ErrUnavailable, path)
	}
	res, err := docconv.ConvertPath(path)
	if err != nil {
		return "", fmt.Errorf("failed to read document: %w", err)
	}
	return res.Body, nil
}

var lookPath = exec.LookPath

func tidyAvailable() bool {
	_, err := lookPath("tidy")
	return err == nil
}
