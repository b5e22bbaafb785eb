// ingest/extractor.go
package ingest

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Extractor pulls the one report CSV out of a vendor ZIP archive.
type Extractor struct {
	scratchRoot string
	logger      *zap.Logger
}

func NewExtractor(scratchRoot string, logger *zap.Logger) *Extractor {
	return &Extractor{scratchRoot: scratchRoot, logger: logger.With(zap.String("component", "extractor"))}
}

// Extract writes the first entry whose base name matches innerPattern into a
// fresh scratch directory and returns its path. The caller must run cleanup
// once done with the file. On error the scratch directory is already gone.
func (e *Extractor) Extract(ctx context.Context, archivePath, innerPattern string) (string, func(), error) {
	re, err := regexp.Compile(innerPattern)
	if err != nil {
		return "", nil, &ExtractionError{Archive: archivePath, Pattern: innerPattern, Err: err}
	}

	dir, err := os.MkdirTemp(e.scratchRoot, "extract-*")
	if err != nil {
		return "", nil, fmt.Errorf("create scratch dir: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			e.logger.Warn("failed to remove scratch dir", zap.String("dir", dir), zap.Error(err))
		}
	}

	inner, err := e.extractMatching(ctx, archivePath, re, dir)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	return inner, cleanup, nil
}

func (e *Extractor) extractMatching(ctx context.Context, archivePath string, re *regexp.Regexp, dir string) (string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", &ExtractionError{Archive: archivePath, Pattern: re.String(), Err: err}
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		base := path.Base(strings.ReplaceAll(f.Name, `\`, "/"))
		if !re.MatchString(strings.ToLower(base)) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		// Only the base name is used on disk, so entry paths cannot escape dir.
		dest := filepath.Join(dir, base)
		if err := writeEntry(f, dest); err != nil {
			return "", &ExtractionError{Archive: archivePath, Pattern: re.String(), Err: err}
		}
		e.logger.Debug("extracted archive entry", zap.String("archive", archivePath), zap.String("entry", f.Name))
		return dest, nil
	}
	return "", &ExtractionError{Archive: archivePath, Pattern: re.String()}
}

func writeEntry(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("write entry %s: %w", f.Name, err)
	}
	return out.Close()
}
