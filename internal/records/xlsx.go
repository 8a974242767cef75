package records

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/docbatch/internal/common"
)

// LoadXLSX reads the first worksheet of a workbook. Cells are taken as
// displayed, so numbers keep their sheet formatting.
func LoadXLSX(path string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, common.InputLoadError(fmt.Sprintf("open %s", path), err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, common.InputLoadErrorf("%s has no worksheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, common.InputLoadError(fmt.Sprintf("read sheet %q of %s", sheets[0], path), err)
	}

	// Leading blank rows are not a header.
	for len(rows) > 0 && blank(rows[0]) {
		rows = rows[1:]
	}
	if len(rows) == 0 {
		return nil, common.InputLoadErrorf("%s is empty", path)
	}
	return newTable(path, rows[0], rows[1:])
}
