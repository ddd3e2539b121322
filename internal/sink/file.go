package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JonMunkholm/openpdi/internal/core"
)

// CSVSink writes delimited text with every field quoted. Null values are
// written as empty quoted fields. The underlying writer only ever receives
// whole records.
type CSVSink struct {
	w   *bufio.Writer
	rec []byte
}

// NewCSV returns a CSV sink writing to w.
func NewCSV(w io.Writer) *CSVSink {
	return &CSVSink{w: bufio.NewWriter(w)}
}

func (s *CSVSink) WriteHeader(_ context.Context, header core.Header) error {
	return s.writeRecord(header)
}

func (s *CSVSink) WriteRow(_ context.Context, row core.Row) error {
	return s.writeRecord(row.Strings())
}

func (s *CSVSink) writeRecord(fields []string) error {
	s.rec = s.rec[:0]
	for i, f := range fields {
		if i > 0 {
			s.rec = append(s.rec, ',')
		}
		s.rec = append(s.rec, '"')
		s.rec = append(s.rec, strings.ReplaceAll(f, `"`, `""`)...)
		s.rec = append(s.rec, '"')
	}
	s.rec = append(s.rec, '\r', '\n')

	// A record that does not fit goes out after the buffered ones, in a
	// single write when larger than the buffer.
	if len(s.rec) > s.w.Available() && s.w.Buffered() > 0 {
		if err := s.w.Flush(); err != nil {
			return err
		}
	}
	_, err := s.w.Write(s.rec)
	return err
}

func (s *CSVSink) Flush(context.Context) error { return s.w.Flush() }
func (s *CSVSink) Close() error                { return nil }

// JSONLinesSink writes one JSON object per row, keyed by header label.
// Null values are encoded as JSON null.
type JSONLinesSink struct {
	w      *bufio.Writer
	enc    *json.Encoder
	header core.Header
}

// NewJSONLines returns a JSON-lines sink writing to w.
func NewJSONLines(w io.Writer) *JSONLinesSink {
	bw := bufio.NewWriter(w)
	return &JSONLinesSink{w: bw, enc: json.NewEncoder(bw)}
}

func (s *JSONLinesSink) WriteHeader(_ context.Context, header core.Header) error {
	s.header = header
	return nil
}

func (s *JSONLinesSink) WriteRow(_ context.Context, row core.Row) error {
	if len(row) != len(s.header) {
		return fmt.Errorf("row has %d values, header has %d", len(row), len(s.header))
	}
	return s.enc.Encode(orderedRow{header: s.header, row: row})
}

func (s *JSONLinesSink) Flush(context.Context) error { return s.w.Flush() }
func (s *JSONLinesSink) Close() error                { return nil }

// orderedRow encodes a row as an object whose keys follow the header order.
type orderedRow struct {
	header core.Header
	row    core.Row
}

func (o orderedRow) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, label := range o.header {
		if i > 0 {
			b.WriteByte(',')
		}
		key, _ := json.Marshal(label)
		b.Write(key)
		b.WriteByte(':')
		val, err := o.row[i].MarshalJSON()
		if err != nil {
			return nil, err
		}
		b.Write(val)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// fileSink owns the file behind a text sink.
type fileSink struct {
	Sink
	f *os.File
}

func (s *fileSink) Close() error {
	s.Sink.Close()
	return s.f.Close()
}
