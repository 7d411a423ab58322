package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mikeboe/research-reporter/pkg/markdown"
)

// Format converts a markdown report into the bytes of one export format.
type Format func(report string) ([]byte, error)

// Exporter persists a finished report under its research id and returns the
// written paths keyed by extension.
type Exporter interface {
	Export(ctx context.Context, researchID, report string) (map[string]string, error)
}

// Markdown writes the report as is.
func Markdown(report string) ([]byte, error) {
	return []byte(report), nil
}

// HTML renders the report to a standalone HTML page.
func HTML(report string) ([]byte, error) {
	body, err := markdown.RenderHTML(report)
	if err != nil {
		return nil, err
	}
	page := "<!DOCTYPE html>\n<html>\n<head><meta charset=\"utf-8\"></head>\n<body>\n" + body + "</body>\n</html>\n"
	return []byte(page), nil
}

// DefaultFormats are the formats written when none are configured. Word and
// PDF converters can be added under their own extensions.
func DefaultFormats() map[string]Format {
	return map[string]Format{
		"md":   Markdown,
		"html": HTML,
	}
}

// FileExporter writes <Dir>/<research_id>/<research_id>.<ext> for each format.
type FileExporter struct {
	Dir     string
	Formats map[string]Format
}

func NewFileExporter(dir string) *FileExporter {
	return &FileExporter{Dir: dir, Formats: DefaultFormats()}
}

// Path is where the artifact of a given extension is stored.
func (e *FileExporter) Path(researchID, ext string) string {
	return filepath.Join(e.Dir, researchID, researchID+"."+ext)
}

func (e *FileExporter) Export(ctx context.Context, researchID, report string) (map[string]string, error) {
	if researchID == "" || strings.ContainsAny(researchID, `/\`) || researchID == "." || researchID == ".." {
		return nil, fmt.Errorf("invalid research id %q", researchID)
	}

	if err := os.MkdirAll(filepath.Join(e.Dir, researchID), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	paths := make(map[string]string, len(e.Formats))
	for ext, format := range e.Formats {
		if err := ctx.Err(); err != nil {
			return paths, err
		}

		data, err := format(report)
		if err != nil {
			return paths, fmt.Errorf("failed to export %s: %w", ext, err)
		}

		path := e.Path(researchID, ext)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return paths, fmt.Errorf("failed to write %s: %w", path, err)
		}
		paths[ext] = path
	}

	return paths, nil
}

// Find returns the stored artifact for a research id, trying extensions in
// order. It reports false when none exists.
func (e *FileExporter) Find(researchID string, exts ...string) (string, bool) {
	if researchID == "" || strings.ContainsAny(researchID, `/\`) || strings.Contains(researchID, "..") {
		return "", false
	}
	for _, ext := range exts {
		path := e.Path(researchID, ext)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}
