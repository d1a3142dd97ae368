package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/validation"
)

// WriteDocument renders a document with write and replaces path with the
// result in one step. A failed render leaves any existing file untouched.
func WriteDocument(path string, write func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	if err := atomicWriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// WriteJSON writes v as indented JSON.
func WriteJSON(path string, v any) error {
	return WriteDocument(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

// SaveDataset writes a reference dataset, choosing JSON or YAML from the
// file extension. Statistics are recomputed on the way out.
func SaveDataset(path string, d *validation.Dataset) error {
	format := validation.FormatFromPath(path)
	return WriteDocument(path, func(w io.Writer) error {
		return validation.EncodeDataset(w, d, format)
	})
}

// LoadDataset reads and checks a reference dataset file.
func LoadDataset(path string) (*validation.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dataset: %w", err)
	}
	defer f.Close()

	d, err := validation.DecodeDataset(f, validation.FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("loading dataset %s: %w", path, err)
	}
	return d, nil
}
