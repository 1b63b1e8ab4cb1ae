// Package extract turns uploaded document bytes into normalised plain text.
package extract

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned for file types with no extractor.
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrParse is returned when a document cannot be decoded.
	ErrParse = errors.New("document could not be parsed")
	// ErrEmptyExtraction is returned when a document parsed but held no text.
	ErrEmptyExtraction = errors.New("document contains no extractable text")
)

// Format identifies a supported document encoding.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatText Format = "text"
)

var extensionFormats = map[string]Format{
	".pdf":  FormatPDF,
	".docx": FormatDOCX,
	".txt":  FormatText,
	".text": FormatText,
	".md":   FormatText,
}

// FormatFromFilename resolves the document format from its extension.
func FormatFromFilename(name string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(name))
	f, ok := extensionFormats[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return f, nil
}

// SupportedExtensions lists the accepted file extensions.
func SupportedExtensions() []string {
	return []string{".pdf", ".docx", ".txt", ".text", ".md"}
}

// Result is the outcome of a successful extraction.
type Result struct {
	Format Format
	Text   string
	// DeclaredTitle is a title embedded in the file's own properties, if any.
	DeclaredTitle string
}

// Extract decodes data according to the format implied by filename and
// returns its normalised text.
func Extract(data []byte, filename string) (*Result, error) {
	format, err := FormatFromFilename(filename)
	if err != nil {
		return nil, err
	}

	var (
		raw   string
		title string
	)
	switch format {
	case FormatPDF:
		raw, err = extractPDF(data)
	case FormatDOCX:
		raw, title, err = extractDOCX(data)
	case FormatText:
		raw, err = extractText(data)
	}
	if err != nil {
		return nil, err
	}

	text := Normalize(raw)
	if text == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyExtraction, filename)
	}
	return &Result{Format: format, Text: text, DeclaredTitle: strings.TrimSpace(title)}, nil
}
