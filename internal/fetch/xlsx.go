package fetch

import (
	"bytes"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/openpdi/internal/core"
)

// xlsxRows iterates over the first worksheet of a workbook.
type xlsxRows struct {
	url  string
	file *excelize.File
	rows *excelize.Rows
	row  core.RawRow
	err  error
}

func newXLSXRows(url string, data []byte) (*xlsxRows, error) {
	file, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, core.NewFetchError(core.FetchMalformed, url, err)
	}
	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		_ = file.Close()
		return &xlsxRows{url: url}, nil
	}
	rows, err := file.Rows(sheets[0])
	if err != nil {
		_ = file.Close()
		return nil, core.NewFetchError(core.FetchMalformed, url, err)
	}
	return &xlsxRows{url: url, file: file, rows: rows}, nil
}

func (x *xlsxRows) Next() bool {
	if x.rows == nil || x.err != nil {
		return false
	}
	if !x.rows.Next() {
		if err := x.rows.Error(); err != nil {
			x.err = core.NewFetchError(core.FetchMalformed, x.url, err)
		}
		x.row = nil
		return false
	}
	cols, err := x.rows.Columns()
	if err != nil {
		x.err = core.NewFetchError(core.FetchMalformed, x.url, err)
		return false
	}
	x.row = cols
	return true
}

func (x *xlsxRows) Row() core.RawRow { return x.row }
func (x *xlsxRows) Err() error       { return x.err }

func (x *xlsxRows) Close() error {
	if x.rows != nil {
		_ = x.rows.Close()
		x.rows = nil
	}
	if x.file != nil {
		err := x.file.Close()
		x.file = nil
		return err
	}
	return nil
}
