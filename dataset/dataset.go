package dataset

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	apperrors "sensor-agent/errors"

	"github.com/xuri/excelize/v2"
)

// Table is an in-memory tabular dataset. Column order is preserved from the
// source file; cells are kept as raw strings and converted on demand.
type Table struct {
	Columns []string
	Rows    [][]string
}

// ColumnIndex returns the position of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, col := range t.Columns {
		if col == name {
			return i
		}
	}
	return -1
}

// HasColumn reports whether the named column exists.
func (t *Table) HasColumn(name string) bool {
	return t.ColumnIndex(name) >= 0
}

// NumericColumn returns the column's values as floats in stored order,
// dropping missing and non-numeric cells.
func (t *Table) NumericColumn(name string) []float64 {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil
	}
	var values []float64
	for _, row := range t.Rows {
		if idx >= len(row) {
			continue
		}
		cell := strings.TrimSpace(row[idx])
		if cell == "" {
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			continue
		}
		values = append(values, v)
	}
	return values
}

// StringColumn returns the column's raw cells in stored order, skipping
// missing cells.
func (t *Table) StringColumn(name string) []string {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil
	}
	var values []string
	for _, row := range t.Rows {
		if idx >= len(row) {
			continue
		}
		cell := strings.TrimSpace(row[idx])
		if cell == "" {
			continue
		}
		values = append(values, cell)
	}
	return values
}

// DistinctValues returns the column's distinct non-missing values in order of
// first appearance.
func (t *Table) DistinctValues(name string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range t.StringColumn(name) {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// FilterByValue returns a view of the table containing only rows where the
// named column equals value.
func (t *Table) FilterByValue(name, value string) *Table {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return &Table{Columns: t.Columns}
	}
	filtered := &Table{Columns: t.Columns}
	for _, row := range t.Rows {
		if idx < len(row) && strings.TrimSpace(row[idx]) == value {
			filtered.Rows = append(filtered.Rows, row)
		}
	}
	return filtered
}

// Load parses the dataset file at path; the extension selects the parser.
func Load(path string) (*Table, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".csv":
		return loadDelimited(path, ',')
	case ".tsv":
		return loadDelimited(path, '\t')
	case ".xlsx", ".xls":
		return loadExcel(path)
	case ".json":
		return loadJSON(path)
	default:
		return nil, apperrors.WrapErrorf(apperrors.ErrDatasetParse, "unsupported dataset extension %q", ext)
	}
}

func loadDelimited(path string, comma rune) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, apperrors.WrapError(apperrors.ErrDatasetParse, err.Error())
	}
	if len(records) == 0 {
		return nil, apperrors.WrapError(apperrors.ErrDatasetParse, "dataset has no header row")
	}

	header := make([]string, len(records[0]))
	for i, col := range records[0] {
		header[i] = strings.TrimSpace(col)
	}
	return &Table{Columns: header, Rows: records[1:]}, nil
}

func loadExcel(path string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, apperrors.WrapError(apperrors.ErrDatasetParse, err.Error())
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, apperrors.WrapError(apperrors.ErrDatasetParse, "workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, apperrors.WrapError(apperrors.ErrDatasetParse, err.Error())
	}
	if len(rows) == 0 {
		return nil, apperrors.WrapError(apperrors.ErrDatasetParse, "sheet has no header row")
	}

	header := make([]string, len(rows[0]))
	for i, col := range rows[0] {
		header[i] = strings.TrimSpace(col)
	}
	return &Table{Columns: header, Rows: rows[1:]}, nil
}

// loadJSON accepts the array-of-objects form. Column order is alphabetical
// since JSON object keys carry no order.
func loadJSON(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}

	var objects []map[string]any
	if err := json.Unmarshal(data, &objects); err != nil {
		return nil, apperrors.WrapError(apperrors.ErrDatasetParse, err.Error())
	}
	if len(objects) == 0 {
		return nil, apperrors.WrapError(apperrors.ErrDatasetParse, "json dataset is empty")
	}

	keySet := make(map[string]bool)
	for _, obj := range objects {
		for k := range obj {
			keySet[k] = true
		}
	}
	columns := make([]string, 0, len(keySet))
	for k := range keySet {
		columns = append(columns, k)
	}
	sort.Strings(columns)

	table := &Table{Columns: columns}
	for _, obj := range objects {
		row := make([]string, len(columns))
		for i, col := range columns {
			row[i] = jsonCell(obj[col])
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

func jsonCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
