// Package records loads the tabular data that drives a run. Every value is
// text; the header row names the template variables.
package records

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joseph-ayodele/docbatch/constants"
	"github.com/joseph-ayodele/docbatch/internal/common"
)

var fieldNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Record is one data row. Fields is shared by every record of a table.
type Record struct {
	Index  int // 1-based data row number
	Fields []string
	Values []string
}

// Map returns the record as field name -> value.
func (r Record) Map() map[string]string {
	m := make(map[string]string, len(r.Fields))
	for i, f := range r.Fields {
		if i < len(r.Values) {
			m[f] = r.Values[i]
		} else {
			m[f] = ""
		}
	}
	return m
}

// Get returns the value of field, or "" when the record lacks it.
func (r Record) Get(field string) string {
	for i, f := range r.Fields {
		if f == field && i < len(r.Values) {
			return r.Values[i]
		}
	}
	return ""
}

// Table is a loaded record source.
type Table struct {
	Path    string
	Fields  []string
	Records []Record
}

// Load picks the reader from the file extension.
func Load(path string) (*Table, error) {
	ext := constants.NormalizeExt(filepath.Ext(path))
	if _, ok := constants.RecordExtensions[ext]; !ok {
		return nil, common.InputLoadErrorf("unsupported record source %s: want .csv or .xlsx", path)
	}
	if ext == "xlsx" {
		return LoadXLSX(path)
	}
	return LoadCSV(path)
}

// Select applies the run's row filter. number > 0 keeps the first number
// records; index > 0 keeps only the 1-based record index. Zero disables a
// filter and the two are mutually exclusive.
func Select(recs []Record, number, index int) ([]Record, error) {
	switch {
	case number < 0:
		return nil, common.InvalidArgumentErrorf("number must not be negative, got %d", number)
	case index < 0:
		return nil, common.InvalidArgumentErrorf("index must not be negative, got %d", index)
	case number > 0 && index > 0:
		return nil, common.InvalidArgumentError("number and index are mutually exclusive")
	case number > 0:
		return recs[:min(number, len(recs))], nil
	case index > 0:
		if index > len(recs) {
			return nil, common.InvalidArgumentErrorf("index %d out of range: table has %d records", index, len(recs))
		}
		return recs[index-1 : index], nil
	}
	return recs, nil
}

// newTable validates the header and turns raw rows into records. Rows shorter
// than the header are padded with empty values; blank rows are skipped.
func newTable(path string, header []string, rows [][]string) (*Table, error) {
	if len(header) == 0 {
		return nil, common.InputLoadErrorf("%s has no header row", path)
	}

	fields := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if !fieldNameRe.MatchString(name) {
			return nil, common.InputLoadErrorf("%s: column %d name %q is not a valid identifier", path, i+1, h)
		}
		if seen[name] {
			return nil, common.InputLoadErrorf("%s: duplicate column %q", path, name)
		}
		seen[name] = true
		fields[i] = name
	}

	t := &Table{Path: path, Fields: fields}
	for n, row := range rows {
		if blank(row) {
			continue
		}
		if len(row) > len(fields) {
			return nil, common.InputLoadError(
				fmt.Sprintf("%s: data row %d", path, n+1),
				fmt.Errorf("has %d values for %d columns", len(row), len(fields)),
			)
		}
		values := make([]string, len(fields))
		copy(values, row)
		t.Records = append(t.Records, Record{Index: len(t.Records) + 1, Fields: fields, Values: values})
	}
	return t, nil
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
