package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const campaigns = `campaign,channel,spend,clicks
A,search,100,10
B,display,250.5,
C,search,75,7
D,social,,3
`

func TestRead(t *testing.T) {
	s, err := Read(strings.NewReader(campaigns), ',')
	require.NoError(t, err)

	assert.Equal(t, 4, s.Rows)
	require.Len(t, s.Columns, 4)
	assert.Len(t, s.Head, 3)

	channel := s.Columns[1]
	assert.False(t, channel.Numeric)
	assert.Equal(t, 3, channel.Unique)
	assert.Equal(t, []string{"search", "display", "social"}, channel.Values)

	spend := s.Columns[2]
	assert.True(t, spend.Numeric)
	assert.Equal(t, 1, spend.Missing)
	assert.InDelta(t, 75, spend.Min, 1e-9)
	assert.InDelta(t, 250.5, spend.Max, 1e-9)
	assert.InDelta(t, 425.5/3, spend.Mean, 1e-9)

	clicks := s.Columns[3]
	assert.True(t, clicks.Numeric)
	assert.Equal(t, 1, clicks.Missing)
}

func TestSummary_String(t *testing.T) {
	s, err := Read(strings.NewReader(campaigns), ',')
	require.NoError(t, err)
	out := s.String()

	assert.Contains(t, out, "- Shape: 4 rows, 4 columns")
	assert.Contains(t, out, "- Missing values:\n  * spend: 1\n  * clicks: 1\n")
	assert.Contains(t, out, "* channel: 3 unique values (search, display, social...)")
	assert.Contains(t, out, "* clicks: 6.6667 / 3 / 10")
	assert.Contains(t, out, "A | search | 100 | 10")
}

func TestFile(t *testing.T) {
	dir := t.TempDir()
	tsv := filepath.Join(dir, "data.tsv")
	require.NoError(t, os.WriteFile(tsv, []byte("a\tb\n1\tx\n2\ty\n"), 0o644))

	s, err := File(tsv)
	require.NoError(t, err)
	assert.Equal(t, tsv, s.Path)
	assert.Equal(t, 2, s.Rows)
	assert.True(t, s.Columns[0].Numeric)

	_, err = File(filepath.Join(dir, "old.xls"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = File(filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.csv")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = File(empty)
	assert.Error(t, err)
}

func TestFile_Workbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.xlsx")
	wb := excelize.NewFile()
	rows := [][]any{
		{"campaign", "channel", "spend"},
		{"A", "search", 100},
		{},
		{"B", "display", 250.5},
		{"C", "search", 75},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, wb.SetSheetRow("Sheet1", cell, &row))
	}
	require.NoError(t, wb.SaveAs(path))
	require.NoError(t, wb.Close())

	s, err := File(path)
	require.NoError(t, err)
	assert.Equal(t, path, s.Path)
	assert.Equal(t, 3, s.Rows)
	require.Len(t, s.Columns, 3)
	assert.Equal(t, "channel", s.Columns[1].Name)
	assert.False(t, s.Columns[1].Numeric)
	assert.True(t, s.Columns[2].Numeric)
	assert.InDelta(t, 425.5/3, s.Columns[2].Mean, 1e-9)
}

func TestFile_BadWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))

	_, err := File(path)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnsupportedFormat)
}

func TestRows_SkipsBlankRows(t *testing.T) {
	s, err := Rows([][]string{{"a", "b"}, {"", " "}, {"1", "x"}})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Rows)

	_, err = Rows(nil)
	assert.Error(t, err)
}
