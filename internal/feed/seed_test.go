package feed

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.zip")
	f, err := os.Create(path)
	require.NoError(t, err)

	w := zip.NewWriter(f)
	for name, content := range files {
		entry, err := w.Create(name)
		require.NoError(t, err)
		_, err = entry.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return path
}

func TestReadDocuments_PlainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fences.geojson")
	require.NoError(t, os.WriteFile(path, collection(feature("A", 0, 0, "")), 0o600))

	docs, err := ReadDocuments(path)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	feed, err := Parse(docs[0], Options{Org: testOrg})
	require.NoError(t, err)
	assert.Len(t, feed.Fences, 1)
}

func TestReadDocuments_Zip(t *testing.T) {
	path := writeZip(t, map[string]string{
		"b.json":               string(collection(feature("B", 0, 0, ""))),
		"a.geojson":            string(collection(feature("A", 0, 0, ""))),
		"README.txt":           "ignored",
		"__MACOSX/._a.geojson": "junk",
	})

	docs, err := ReadDocuments(path)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	first, err := Parse(docs[0], Options{Org: testOrg})
	require.NoError(t, err)
	assert.Equal(t, "A", first.Fences[0].Code)
}

func TestReadDocuments_EmptyZip(t *testing.T) {
	path := writeZip(t, map[string]string{"notes.txt": "nothing here"})

	_, err := ReadDocuments(path)
	assert.ErrorIs(t, err, ErrEmptyArchive)
}

func TestReadDocuments_Missing(t *testing.T) {
	_, err := ReadDocuments(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestIsFeedFile(t *testing.T) {
	tests := map[string]bool{
		"fences.geojson": true,
		"fences.JSON":    true,
		"bundle.zip":     true,
		".hidden.json":   false,
		"notes.txt":      false,
		"fences":         false,
	}
	for name, want := range tests {
		assert.Equal(t, want, IsFeedFile(name), name)
	}
}
