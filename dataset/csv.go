package dataset

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/housestack/pkg/errors"
	"github.com/YuminosukeSato/housestack/pkg/log"
)

// Summary describes what ReadCSV saw while loading.
type Summary struct {
	// Columns is the header in file order.
	Columns []string
	// Rows is the number of data rows read.
	Rows int
	// Invalid counts empty or unparsable cells per required column.
	Invalid map[string]int
	// Skipped is the number of rows dropped because a cell was invalid.
	Skipped int
}

// Valid returns the number of rows that were kept.
func (s *Summary) Valid() int {
	return s.Rows - s.Skipped
}

// InvalidCounts returns the invalid-cell count of every required column in
// CSV order, zeros included.
func (s *Summary) InvalidCounts() []ColumnCount {
	out := make([]ColumnCount, 0, len(RequiredColumns))
	for _, c := range RequiredColumns {
		out = append(out, ColumnCount{Column: c, Count: s.Invalid[c]})
	}
	return out
}

// ColumnCount pairs a column with a count.
type ColumnCount struct {
	Column string
	Count  int
}

// LoadCSV reads house sale records from the file at path.
func LoadCSV(path string) ([]Record, *Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	records, summary, err := ReadCSV(f)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "load %s", path)
	}
	log.GetLoggerWithName("dataset").Info("Loaded house sales",
		"path", path,
		log.SamplesKey, len(records),
		"rows.skipped", summary.Skipped,
	)
	return records, summary, nil
}

// ReadCSV parses a header-driven sales CSV. Extra columns are ignored. A missing
// required column is a MissingColumnError. Rows with an empty or unparsable
// required cell are skipped and counted in the Summary.
func ReadCSV(r io.Reader) ([]Record, *Summary, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, errors.WithStack(errors.ErrEmptyData)
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "read header")
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	var missing []string
	for _, c := range RequiredColumns {
		if _, ok := index[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, nil, errors.NewMissingColumnError("dataset.ReadCSV", missing...)
	}

	summary := &Summary{Columns: header, Invalid: make(map[string]int)}
	var records []Record
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.Wrapf(err, "read row %d", summary.Rows+1)
		}
		summary.Rows++

		rec, ok := parseRow(row, index, summary.Invalid)
		if !ok {
			summary.Skipped++
			continue
		}
		records = append(records, rec)
	}
	return records, summary, nil
}

func parseRow(row []string, index map[string]int, invalid map[string]int) (Record, bool) {
	var rec Record
	ok := true
	cell := func(col string) string {
		i := index[col]
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	rec.ID = cell(ColID)
	if rec.ID == "" {
		invalid[ColID]++
		ok = false
	}
	rec.Date = cell(ColDate)
	if rec.Date == "" {
		invalid[ColDate]++
		ok = false
	}

	for _, col := range append([]string{ColPrice}, AttributeColumns...) {
		v, err := strconv.ParseFloat(cell(col), 64)
		// NaN and Inf parse but count as null cells
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			invalid[col]++
			ok = false
			continue
		}
		rec.setNumeric(col, v)
	}
	return rec, ok
}
