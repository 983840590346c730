package core

// streaming.go reads uploaded PEM text into memory with a size bound.
//
// Receivers running on Windows save files with a UTF-8 BOM and the odd
// Latin-1 byte in operator notes, so uploads are normalized before parsing:
//
//   - the BOM is dropped
//   - invalid UTF-8 sequences become '?'
//   - the first non-blank line must be the <FMT> tag

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ErrNotPEM is returned for uploads that do not start with a tag block.
var ErrNotPEM = errors.New("not a pem file: missing <FMT> tag")

// Upload is a normalized upload ready for parsing.
type Upload struct {
	Data      []byte
	BytesRead int64 // raw bytes consumed, before normalization
	Sanitized bool  // invalid UTF-8 was replaced
}

// countingReader tracks bytes read for the size check and metrics.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// ReadUpload reads at most limit bytes from r and normalizes them. Larger
// inputs fail with a "file too large" error without being read to the end.
func ReadUpload(r io.Reader, limit int64) (*Upload, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("upload limit must be positive, got %d", limit)
	}

	cr := &countingReader{r: io.LimitReader(r, limit+1)}
	data, err := io.ReadAll(bufio.NewReader(cr))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("file too large: exceeds %d bytes", limit)
	}

	up := &Upload{BytesRead: cr.n}
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("empty file: no PEM content")
	}
	if !utf8.Valid(data) {
		data = bytes.ToValidUTF8(data, []byte("?"))
		up.Sanitized = true
	}
	if !bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte("<FMT>")) {
		return nil, ErrNotPEM
	}

	up.Data = data
	return up, nil
}
