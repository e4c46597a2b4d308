// Package render writes analysis reports to disk in the requested formats.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Supported formats.
const (
	Markdown = "markdown"
	HTML     = "html"
	PDF      = "pdf"
	PPTX     = "pptx"
)

// ErrUnsupportedFormat is returned for formats without a renderer.
var ErrUnsupportedFormat = errors.New("unsupported report format")

// Report is the content shared by every output format.
type Report struct {
	Title    string
	Markdown string

	// Figures are image paths appended after the text.
	Figures []string
}

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Write renders r in format into dir and returns the written file's path.
// The directory is created if missing.
func Write(dir, format string, r Report) (string, error) {
	var (
		name string
		data []byte
		err  error
	)
	switch strings.ToLower(format) {
	case Markdown:
		name, data = "report.md", []byte(r.Markdown)
	case HTML:
		name = "report.html"
		data, err = Page(r)
	case PDF:
		name = "report.pdf"
		data, err = Document(r)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return "", fmt.Errorf("render %s: %w", format, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return path, nil
}

// Page converts the report to a standalone HTML page.
func Page(r Report) ([]byte, error) {
	var body bytes.Buffer
	if err := md.Convert([]byte(r.Markdown), &body); err != nil {
		return nil, err
	}

	title := r.Title
	if title == "" {
		title = "Analysis Report"
	}
	var out bytes.Buffer
	fmt.Fprintf(&out, "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>%s</title>\n", html.EscapeString(title))
	out.WriteString("<style>body { font-family: sans-serif; max-width: 800px; margin: auto; padding: 20px; } img { max-width: 100%; }</style>\n")
	out.WriteString("</head><body>\n")
	out.Write(body.Bytes())
	for _, fig := range r.Figures {
		fmt.Fprintf(&out, "<figure><img src=\"%s\" alt=\"%s\"></figure>\n",
			html.EscapeString(fig), html.EscapeString(filepath.Base(fig)))
	}
	out.WriteString("</body></html>\n")
	return out.Bytes(), nil
}
