// Package extract turns uploaded document files into plain text.
//
// PDF parsing is delegated to github.com/ledongthuc/pdf and treated as a
// black box: bytes in, full text out. Files without a .pdf extension are
// read as UTF-8 plain text.
package extract

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotProcessable marks files that exist but cannot be turned into text.
var ErrNotProcessable = errors.New("file not processable")

// Extractor converts a file on disk into its full extracted text.
type Extractor interface {
	Extract(path string) (string, error)
}

// FileExtractor extracts text from PDF and plain-text files.
type FileExtractor struct{}

// NewFileExtractor returns the default file-based Extractor.
func NewFileExtractor() *FileExtractor {
	return &FileExtractor{}
}

// Extract reads path and returns its full text. Missing files surface as
// fs.ErrNotExist; parse failures surface as ErrNotProcessable.
func (e *FileExtractor) Extract(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("checking file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%q is a directory: %w", path, ErrNotProcessable)
	}

	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return extractPDF(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading file: %w", err)
	}
	return string(data), nil
}

func extractPDF(path string) (string, error) {
	f, r, err := openPDF(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %v: %w", err, ErrNotProcessable)
	}
	defer f.Close()

	text, err := readPlainText(r)
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %v: %w", err, ErrNotProcessable)
	}
	return text, nil
}

func readPlainText(r plainTextReader) (string, error) {
	body, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if _, err := io.Copy(&sb, body); err != nil {
		return "", err
	}
	return sb.String(), nil
}
