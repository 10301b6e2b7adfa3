package translate

import (
	"bytes"
	"io"

	"github.com/mastercactapus/polargraph/gcode"
)

// Buffer streams translated output for every line produced by a gcode.Reader.
type Buffer struct {
	gr  gcode.Reader
	t   *Translator
	buf bytes.Buffer
	err error
}

var _ io.Reader = &Buffer{}

// NewBuffer returns a Buffer translating lines from r with t.
func NewBuffer(r gcode.Reader, t *Translator) *Buffer {
	return &Buffer{gr: r, t: t}
}

func (b *Buffer) Read(p []byte) (n int, err error) {
	for b.err == nil && b.buf.Len() < len(p) {
		var ln gcode.Line
		ln, b.err = b.gr.Read()
		if b.err != nil {
			break
		}
		var s string
		s, b.err = b.t.Translate(ln)
		b.buf.WriteString(s)
	}

	if b.buf.Len() > 0 {
		return b.buf.Read(p)
	}
	return 0, b.err
}
