// Package extract reads the text of documents handed to the document graph.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gonfva/docxlib"
	"github.com/ledongthuc/pdf"
)

const (
	// PromptLimit is the number of characters passed on to the model.
	PromptLimit = 3000

	// MinCharsPerPage is the density below which a PDF is treated as scanned.
	MinCharsPerPage = 50
)

// ErrUnsupportedFormat is returned for extensions without an extractor.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// Document is the extracted text of one file.
type Document struct {
	Path   string
	Format string
	Text   string

	// Pages is the page count for PDFs, zero otherwise.
	Pages int

	// Scanned reports a PDF whose text layer is too thin to analyze,
	// usually an image-only scan.
	Scanned bool
}

// File extracts the text of a PDF, DOCX, TXT or MD file.
func File(path string) (Document, error) {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	doc := Document{Path: path, Format: format}

	var err error
	switch format {
	case "pdf":
		doc.Text, doc.Pages, err = readPDF(path)
		doc.Scanned = doc.Pages > 0 && len([]rune(doc.Text)) < MinCharsPerPage*doc.Pages
	case "docx":
		doc.Text, err = readDocx(path)
	case "txt", "md":
		var data []byte
		data, err = os.ReadFile(path)
		doc.Text = string(data)
	default:
		return doc, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return doc, fmt.Errorf("extract %s: %w", filepath.Base(path), err)
	}
	doc.Text = strings.TrimSpace(doc.Text)
	return doc, nil
}

// Truncate shortens text to at most n characters.
func Truncate(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}

func readPDF(path string) (string, int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var parts []string
	total := r.NumPage()
	for i := 1; i <= total; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), total, nil
}

func readDocx(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return "", err
	}
	doc, err := docxlib.Parse(f, stat.Size())
	if err != nil {
		return "", fmt.Errorf("parse docx: %w", err)
	}

	// Runs and hyperlinks of a paragraph are joined by spaces, paragraphs
	// by newlines.
	var b strings.Builder
	for _, para := range doc.Paragraphs() {
		var words []string
		for _, child := range para.Children() {
			if child.Run != nil && child.Run.Text != nil {
				words = appendText(words, child.Run.Text.Text)
			}
			if child.Link != nil && child.Link.Run.Text != nil {
				words = appendText(words, child.Link.Run.Text.Text)
			}
		}
		if len(words) == 0 {
			continue
		}
		b.WriteString(strings.Join(words, " "))
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func appendText(words []string, text string) []string {
	if text = strings.TrimSpace(text); text != "" {
		words = append(words, text)
	}
	return words
}
