package fetch

import (
	"bytes"
	"fmt"

	"github.com/extrame/xls"

	"github.com/JonMunkholm/openpdi/internal/core"
)

// xlsRows iterates over the first worksheet of a legacy BIFF workbook. The
// reader parses the whole file up front, so the records are held in memory.
type xlsRows struct {
	records []core.RawRow
	pos     int
}

func newXLSRows(url string, data []byte) (rows *xlsRows, err error) {
	// The BIFF reader panics on some truncated or corrupt files.
	defer func() {
		if r := recover(); r != nil {
			rows, err = nil, core.NewFetchError(core.FetchMalformed, url, fmt.Errorf("xls: %v", r))
		}
	}()

	book, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, core.NewFetchError(core.FetchMalformed, url, err)
	}
	if book.NumSheets() == 0 {
		return &xlsRows{}, nil
	}
	return &xlsRows{records: sheetRecords(book.GetSheet(0))}, nil
}

// sheetRecords reads rows 0 through MaxRow. Rows absent from the file come
// back empty.
func sheetRecords(sheet *xls.WorkSheet) []core.RawRow {
	if sheet == nil {
		return nil
	}
	out := make([]core.RawRow, 0, int(sheet.MaxRow)+1)
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheetRow(sheet, i)
		if row == nil {
			out = append(out, core.RawRow{})
			continue
		}
		cells := make(core.RawRow, row.LastCol())
		for j := range cells {
			cells[j] = row.Col(j)
		}
		out = append(out, cells)
	}
	return out
}

// sheetRow returns nil for rows the sheet does not store.
func sheetRow(sheet *xls.WorkSheet, i int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return sheet.Row(i)
}

func (x *xlsRows) Next() bool {
	if x.pos >= len(x.records) {
		return false
	}
	x.pos++
	return true
}

func (x *xlsRows) Row() core.RawRow { return x.records[x.pos-1] }
func (x *xlsRows) Err() error       { return nil }
func (x *xlsRows) Close() error     { x.records = nil; return nil }
