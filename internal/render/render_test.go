package render

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = "# Campaign Review\n\n## Overall Insight\n\nROAS rose **12%** week over week.\n\n- Search led growth\n- Display lagged\n"

func TestWrite_Markdown(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "t1")
	path, err := Write(dir, Markdown, Report{Markdown: sample})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "report.md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sample, string(data))
}

func TestWrite_HTML(t *testing.T) {
	path, err := Write(t.TempDir(), "HTML", Report{
		Title:    "Q3 <draft>",
		Markdown: sample,
		Figures:  []string{"img/t1/figure_0_0.png"},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	page := string(data)
	assert.Contains(t, page, "<title>Q3 &lt;draft&gt;</title>")
	assert.Contains(t, page, "<h1>Campaign Review</h1>")
	assert.Contains(t, page, "<strong>12%</strong>")
	assert.Contains(t, page, "<li>Search led growth</li>")
	assert.Contains(t, page, `<img src="img/t1/figure_0_0.png" alt="figure_0_0.png">`)
}

func TestWrite_PDF(t *testing.T) {
	path, err := Write(t.TempDir(), PDF, Report{Title: "Campaign Review", Markdown: sample, Figures: []string{"missing.png"}})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
}

func TestWrite_Unsupported(t *testing.T) {
	dir := t.TempDir()
	for _, format := range []string{PPTX, "docx"} {
		_, err := Write(dir, format, Report{Markdown: sample})
		assert.ErrorIs(t, err, ErrUnsupportedFormat, format)
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing is written for unsupported formats")
}
