// Package profile summarizes tabular datasets for the analysis planner.
package profile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFormat is returned for tabular formats that cannot be read.
var ErrUnsupportedFormat = errors.New("unsupported dataset format")

// maxCategories is the distinct-value count up to which a text column is
// listed with its sample values.
const maxCategories = 20

// Column describes one column of a dataset.
type Column struct {
	Name    string
	Numeric bool
	Missing int
	Unique  int

	// Min, Max and Mean are set for numeric columns.
	Min, Max, Mean float64

	// Values holds up to five distinct values of a text column.
	Values []string
}

// Summary is the profile of a dataset.
type Summary struct {
	Path    string
	Rows    int
	Columns []Column

	// Head holds the first three data rows.
	Head [][]string
}

// File profiles a CSV, TSV or XLSX file. Workbooks are read from their
// first sheet.
func File(path string) (*Summary, error) {
	var (
		s   *Summary
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		s, err = readDelimited(path, ',')
	case ".tsv":
		s, err = readDelimited(path, '\t')
	case ".xlsx":
		s, err = readWorkbook(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", filepath.Base(path), err)
	}
	s.Path = path
	return s, nil
}

func readDelimited(path string, comma rune) (*Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f, comma)
}

func readWorkbook(path string) (*Summary, error) {
	wb, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := wb.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return Rows(rows)
}

// Read profiles delimited data whose first record is the header.
func Read(r io.Reader, comma rune) (*Summary, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return build(cr.Read)
}

// Rows profiles in-memory rows whose first row is the header. Blank rows
// are skipped.
func Rows(rows [][]string) (*Summary, error) {
	i := 0
	return build(func() ([]string, error) {
		for i < len(rows) {
			row := rows[i]
			i++
			if !blank(row) {
				return row, nil
			}
		}
		return nil, io.EOF
	})
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// build consumes records from next until io.EOF.
func build(next func() ([]string, error)) (*Summary, error) {
	header, err := next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("dataset is empty")
		}
		return nil, err
	}

	cols := make([]*stats, len(header))
	for i, name := range header {
		cols[i] = &stats{name: strings.TrimSpace(name), distinct: map[string]bool{}, numeric: true}
	}

	s := &Summary{}
	for {
		rec, err := next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		s.Rows++
		if len(s.Head) < 3 {
			s.Head = append(s.Head, rec)
		}
		for i, c := range cols {
			v := ""
			if i < len(rec) {
				v = strings.TrimSpace(rec[i])
			}
			c.add(v)
		}
	}

	for _, c := range cols {
		s.Columns = append(s.Columns, c.column())
	}
	return s, nil
}

type stats struct {
	name     string
	missing  int
	distinct map[string]bool
	order    []string

	numeric  bool
	count    int
	sum      float64
	min, max float64
}

func (c *stats) add(v string) {
	if v == "" || strings.EqualFold(v, "nan") || strings.EqualFold(v, "null") {
		c.missing++
		return
	}
	if !c.distinct[v] {
		c.distinct[v] = true
		c.order = append(c.order, v)
	}
	if !c.numeric {
		return
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64)
	if err != nil {
		c.numeric = false
		return
	}
	if c.count == 0 || f < c.min {
		c.min = f
	}
	if c.count == 0 || f > c.max {
		c.max = f
	}
	c.count++
	c.sum += f
}

func (c *stats) column() Column {
	col := Column{
		Name:    c.name,
		Numeric: c.numeric && c.count > 0,
		Missing: c.missing,
		Unique:  len(c.distinct),
	}
	if col.Numeric {
		col.Min, col.Max = c.min, c.max
		col.Mean = c.sum / float64(c.count)
		return col
	}
	n := len(c.order)
	if n > 5 {
		n = 5
	}
	col.Values = append([]string(nil), c.order[:n]...)
	return col
}

// String renders the summary as prompt text.
func (s *Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "- Shape: %d rows, %d columns\n", s.Rows, len(s.Columns))

	b.WriteString("\n- Columns:\n")
	for _, c := range s.Columns {
		kind := "text"
		if c.Numeric {
			kind = "numeric"
		}
		fmt.Fprintf(&b, "  * %s: %s\n", c.Name, kind)
	}

	var missing []string
	for _, c := range s.Columns {
		if c.Missing > 0 {
			missing = append(missing, fmt.Sprintf("  * %s: %d", c.Name, c.Missing))
		}
	}
	if len(missing) == 0 {
		b.WriteString("\n- No missing values\n")
	} else {
		b.WriteString("\n- Missing values:\n")
		b.WriteString(strings.Join(missing, "\n"))
		b.WriteString("\n")
	}

	b.WriteString("\n- Categorical columns:\n")
	for _, c := range s.Columns {
		if c.Numeric {
			continue
		}
		if c.Unique <= maxCategories {
			fmt.Fprintf(&b, "  * %s: %d unique values (%s...)\n", c.Name, c.Unique, strings.Join(c.Values, ", "))
		} else {
			fmt.Fprintf(&b, "  * %s: %d unique values\n", c.Name, c.Unique)
		}
	}

	b.WriteString("\n- Numeric summary (mean / min / max):\n")
	numeric := make([]Column, 0, len(s.Columns))
	for _, c := range s.Columns {
		if c.Numeric {
			numeric = append(numeric, c)
		}
	}
	sort.SliceStable(numeric, func(i, j int) bool { return numeric[i].Name < numeric[j].Name })
	for _, c := range numeric {
		fmt.Fprintf(&b, "  * %s: %s / %s / %s\n", c.Name, num(c.Mean), num(c.Min), num(c.Max))
	}

	b.WriteString("\n- Sample (top 3):\n")
	for _, row := range s.Head {
		fmt.Fprintf(&b, "  %s\n", strings.Join(row, " | "))
	}
	return b.String()
}

func num(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', 0, 64)
	}
	return strconv.FormatFloat(f, 'f', 4, 64)
}
