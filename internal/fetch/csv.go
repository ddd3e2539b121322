package fetch

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"io"

	"github.com/JonMunkholm/openpdi/internal/core"
)

// candidateDelimiters are tried in order; ties go to the earlier one.
var candidateDelimiters = []rune{',', ';', '\t', '|'}

// sniffDelimiter picks the candidate occurring most often outside quotes on
// the first line. Lines without any candidate use a comma.
func sniffDelimiter(line string) rune {
	counts := make(map[rune]int, len(candidateDelimiters))
	inQuotes := false
	for _, r := range line {
		if r == '"' {
			inQuotes = !inQuotes
			continue
		}
		if !inQuotes {
			counts[r]++
		}
	}

	best, bestCount := ',', 0
	for _, d := range candidateDelimiters {
		if counts[d] > bestCount {
			best, bestCount = d, counts[d]
		}
	}
	return best
}

// firstLine returns the first line of r without consuming it.
func firstLine(r *bufio.Reader) string {
	for size := 4096; ; size *= 2 {
		peek, err := r.Peek(size)
		if i := bytes.IndexAny(peek, "\r\n"); i >= 0 {
			return string(peek[:i])
		}
		if err != nil || size >= 1<<20 {
			return string(peek)
		}
	}
}

// csvRows iterates over the records of a delimited text source.
type csvRows struct {
	url    string
	reader *csv.Reader
	row    core.RawRow
	err    error
}

func newCSVRows(url string, data []byte, charset string) (*csvRows, error) {
	text, err := textReader(data, charset)
	if err != nil {
		return nil, core.NewFetchError(core.FetchMalformed, url, err)
	}
	br := bufio.NewReaderSize(text, 64<<10)

	reader := csv.NewReader(br)
	reader.Comma = sniffDelimiter(firstLine(br))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return &csvRows{url: url, reader: reader}, nil
}

func (c *csvRows) Next() bool {
	if c.err != nil {
		return false
	}
	record, err := c.reader.Read()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			c.err = core.NewFetchError(core.FetchMalformed, c.url, err)
		}
		c.row = nil
		return false
	}
	c.row = record
	return true
}

func (c *csvRows) Row() core.RawRow { return c.row }
func (c *csvRows) Err() error       { return c.err }
func (c *csvRows) Close() error     { return nil }
