package render

import (
	"bytes"
	"os"
	"strings"

	"github.com/go-pdf/fpdf"
)

// Document lays the report out as a PDF.
//
// Markdown is interpreted line by line: headings, bullets and paragraphs.
// Inline emphasis markers are stripped. Text outside the cp1252 range is
// replaced, since the core fonts carry no CJK glyphs.
func Document(r Report) ([]byte, error) {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetMargins(20, 20, 20)
	doc.SetAutoPageBreak(true, 20)
	tr := doc.UnicodeTranslatorFromDescriptor("")
	doc.AddPage()

	if r.Title != "" {
		doc.SetFont("Helvetica", "B", 18)
		doc.MultiCell(0, 9, tr(r.Title), "", "L", false)
		doc.Ln(4)
	}

	for _, line := range strings.Split(r.Markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			doc.Ln(3)
		case strings.HasPrefix(trimmed, "#"):
			level := len(trimmed) - len(strings.TrimLeft(trimmed, "#"))
			size := 16.0 - float64(level-1)*2
			if size < 11 {
				size = 11
			}
			doc.SetFont("Helvetica", "B", size)
			doc.MultiCell(0, size*0.5, tr(plain(strings.TrimSpace(trimmed[level:]))), "", "L", false)
			doc.Ln(1)
		case strings.HasPrefix(trimmed, "- "), strings.HasPrefix(trimmed, "* "):
			doc.SetFont("Helvetica", "", 11)
			doc.MultiCell(0, 5.5, tr("  - "+plain(trimmed[2:])), "", "L", false)
		default:
			doc.SetFont("Helvetica", "", 11)
			doc.MultiCell(0, 5.5, tr(plain(trimmed)), "", "L", false)
		}
	}

	for _, fig := range r.Figures {
		if _, err := os.Stat(fig); err != nil {
			continue
		}
		doc.AddPage()
		doc.ImageOptions(fig, 20, 20, 170, 0, false, fpdf.ImageOptions{ReadDpi: true}, 0, "")
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func plain(s string) string {
	return strings.NewReplacer("**", "", "__", "", "`", "").Replace(s)
}
