package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileExporterWritesEachFormat(t *testing.T) {
	dir := t.TempDir()
	e := NewFileExporter(dir)

	paths, err := e.Export(context.Background(), "task_1_solar", "# Solar\n\ntext\n")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"md":   filepath.Join(dir, "task_1_solar", "task_1_solar.md"),
		"html": filepath.Join(dir, "task_1_solar", "task_1_solar.html"),
	}, paths)

	md, err := os.ReadFile(paths["md"])
	require.NoError(t, err)
	assert.Equal(t, "# Solar\n\ntext\n", string(md))

	html, err := os.ReadFile(paths["html"])
	require.NoError(t, err)
	assert.Contains(t, string(html), "<h1>Solar</h1>")
}

func TestFileExporterRejectsUnsafeIDs(t *testing.T) {
	e := NewFileExporter(t.TempDir())
	for _, id := range []string{"", "..", "a/b", `a\b`} {
		_, err := e.Export(context.Background(), id, "x")
		assert.Error(t, err, id)
	}
}

func TestFileExporterFormatFailure(t *testing.T) {
	e := &FileExporter{Dir: t.TempDir(), Formats: map[string]Format{
		"pdf": func(string) ([]byte, error) { return nil, errors.New("no converter") },
	}}

	_, err := e.Export(context.Background(), "id", "x")
	assert.ErrorContains(t, err, "no converter")
}

func TestFileExporterFind(t *testing.T) {
	e := NewFileExporter(t.TempDir())
	_, err := e.Export(context.Background(), "found", "# x")
	require.NoError(t, err)

	path, ok := e.Find("found", "pdf", "docx", "md")
	assert.True(t, ok)
	assert.Equal(t, e.Path("found", "md"), path)

	_, ok = e.Find("missing", "md")
	assert.False(t, ok)

	_, ok = e.Find("../found", "md")
	assert.False(t, ok)
}
