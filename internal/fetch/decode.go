package fetch

// decode.go provides the readers applied to a source body before parsing.
//
//   - countingReader: Tracks bytes read and enforces the size limit
//   - textReader: Converts the body to UTF-8. Without a declared encoding the
//     UTF-8 BOM is removed and invalid sequences become U+FFFD; a declared
//     legacy encoding ("windows-1252", "latin1", ...) is decoded instead.

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// countingReader wraps an io.Reader to track bytes read and fail once more
// than limit bytes have been read. A limit of zero disables the check.
type countingReader struct {
	reader    io.Reader
	BytesRead int64
	limit     int64
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	if r.limit > 0 && r.BytesRead > r.limit {
		return n, fmt.Errorf("%w (%d bytes)", ErrTooLarge, r.limit)
	}
	return n, err
}

// readLimited reads all of r, failing with ErrTooLarge past limit bytes.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	return io.ReadAll(&countingReader{reader: r, limit: limit})
}

// textReader returns a UTF-8 reader over data.
func textReader(data []byte, charset string) (io.Reader, error) {
	enc, err := lookupEncoding(charset)
	if err != nil {
		return nil, err
	}
	var decoder transform.Transformer = unicode.BOMOverride(unicode.UTF8.NewDecoder())
	if enc != nil {
		decoder = unicode.BOMOverride(enc.NewDecoder())
	}
	// BOMOverride hands a BOM-prefixed body to a plain UTF-8 decoder, which
	// keeps ill-formed bytes as they are.
	decoder = transform.Chain(decoder, runes.ReplaceIllFormed())
	return transform.NewReader(bytes.NewReader(data), decoder), nil
}

// lookupEncoding resolves a WHATWG encoding label. Empty and UTF-8 labels
// return a nil encoding.
func lookupEncoding(charset string) (encoding.Encoding, error) {
	label := strings.ToLower(strings.TrimSpace(charset))
	switch label {
	case "", "utf-8", "utf8":
		return nil, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q", charset)
	}
	return enc, nil
}
