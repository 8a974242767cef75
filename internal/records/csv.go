package records

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joseph-ayodele/docbatch/internal/common"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// LoadCSV reads a comma-separated file whose first row is the header.
func LoadCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, common.InputLoadError(fmt.Sprintf("open %s", path), err)
	}
	defer f.Close()
	return ReadCSV(path, f)
}

// ReadCSV parses CSV from r; name is used in error messages.
func ReadCSV(name string, r io.Reader) (*Table, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, common.InputLoadErrorf("%s is empty", name)
	}
	if err != nil {
		return nil, common.InputLoadError(fmt.Sprintf("parse %s", name), err)
	}

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, common.InputLoadError(fmt.Sprintf("parse %s", name), err)
	}
	return newTable(name, header, rows)
}
