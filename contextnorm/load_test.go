package contextnorm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFileText(t *testing.T) {
	path := writeFile(t, "notes.txt", "line one\nline two\n")

	doc, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, KindText, doc.Kind)
	assert.Equal(t, "line one\nline two\n", doc.Text)
}

func TestLoadFileJSON(t *testing.T) {
	path := writeFile(t, "chat.json", `[{"role": "user", "content": "hello"}]`)

	doc, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, KindEntries, doc.Kind)
	assert.Equal(t, []Entry{{Role: "user", Content: "hello"}}, doc.Entries)
}

func TestLoadFileInvalidJSONFallsBackToText(t *testing.T) {
	path := writeFile(t, "broken.json", `[{"role": `)

	doc, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, KindText, doc.Kind)
	assert.Equal(t, `[{"role": `, doc.Text)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFileNotFound)
}
