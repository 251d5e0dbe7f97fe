package cmd

import (
	"bytes"
	"io"
)

// crlfWriter turns bare LF into CRLF. The keyboard listener puts the
// terminal into raw mode, where a bare LF no longer returns the cursor.
type crlfWriter struct {
	w io.Writer
}

func crlf(w io.Writer) io.Writer { return &crlfWriter{w: w} }

func (c *crlfWriter) Write(p []byte) (int, error) {
	if bytes.IndexByte(p, '\n') < 0 {
		return c.w.Write(p)
	}
	out := make([]byte, 0, len(p)+8)
	for i, b := range p {
		if b == '\n' && (i == 0 || p[i-1] != '\r') {
			out = append(out, '\r')
		}
		out = append(out, b)
	}
	if _, err := c.w.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}
