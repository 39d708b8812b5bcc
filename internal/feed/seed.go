package feed

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// maxDocumentSize bounds a single feed document read from disk or an archive.
const maxDocumentSize = 256 << 20

// IsFeedFile reports whether name looks like a seedable feed file.
func IsFeedFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".geojson", ".json", ".zip":
		return !strings.HasPrefix(filepath.Base(name), ".")
	default:
		return false
	}
}

// ReadDocuments loads the feed documents stored at file. A .zip archive
// yields every .geojson or .json entry in name order; any other file is
// returned as a single document.
func ReadDocuments(file string) ([][]byte, error) {
	data, err := readLimited(file)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(file), ".zip") {
		return unzipDocuments(data)
	}
	return [][]byte{data}, nil
}

func readLimited(file string) ([]byte, error) {
	f, err := os.Open(file) //nolint:gosec // seed paths come from configuration
	if err != nil {
		return nil, fmt.Errorf("failed to open feed file: %w", err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read feed file: %w", err)
	}
	if len(data) > maxDocumentSize {
		return nil, fmt.Errorf("feed file %s exceeds %d bytes", file, maxDocumentSize)
	}
	return data, nil
}

func unzipDocuments(data []byte) ([][]byte, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	var entries []*zip.File
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() || strings.HasPrefix(entry.Name, "__MACOSX/") {
			continue
		}
		ext := strings.ToLower(path.Ext(entry.Name))
		if ext != ".geojson" && ext != ".json" {
			continue
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return nil, ErrEmptyArchive
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	docs := make([][]byte, 0, len(entries))
	for _, entry := range entries {
		doc, err := readEntry(entry)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func readEntry(entry *zip.File) ([]byte, error) {
	rc, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open archive entry %s: %w", entry.Name, err)
	}
	defer func() { _ = rc.Close() }()

	doc, err := io.ReadAll(io.LimitReader(rc, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read archive entry %s: %w", entry.Name, err)
	}
	if len(doc) > maxDocumentSize {
		return nil, fmt.Errorf("archive entry %s exceeds %d bytes", entry.Name, maxDocumentSize)
	}
	return doc, nil
}
