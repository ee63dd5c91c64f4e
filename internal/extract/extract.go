// Package extract turns uploaded document bytes into plain text. Parsing
// itself is delegated to an external extraction service; this package
// holds the collaborator contract, format detection and the passthrough
// path for plain text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Format tags the document type of uploaded bytes.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatTXT  Format = "txt"
)

// ErrUnsupportedFormat is returned for formats outside the supported set.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// ErrEmptyDocument is returned when extraction yields no text.
var ErrEmptyDocument = errors.New("document contains no extractable text")

// DetectFormat maps a filename to its Format.
func DetectFormat(filename string) (Format, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	switch ext {
	case "pdf":
		return FormatPDF, nil
	case "docx":
		return FormatDOCX, nil
	case "txt":
		return FormatTXT, nil
	default:
		return "", fmt.Errorf("%w: %q (supported: pdf, docx, txt)", ErrUnsupportedFormat, ext)
	}
}

// Extractor converts raw document bytes into plain text.
type Extractor interface {
	Extract(ctx context.Context, data []byte, format Format) (string, error)
}

// Passthrough handles plain-text documents without a remote call. Any
// other format is rejected; deployments that accept pdf/docx wire the
// Remote extractor in front of it.
type Passthrough struct{}

func (Passthrough) Extract(ctx context.Context, data []byte, format Format) (string, error) {
	if format != FormatTXT {
		return "", fmt.Errorf("%w: %q (extraction service not configured)", ErrUnsupportedFormat, format)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", ErrEmptyDocument
	}
	return text, nil
}
