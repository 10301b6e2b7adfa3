package gcode

import "io"

// Reader is implemented by anything producing command lines.
type Reader interface {
	Read() (Line, error)
}

// LinesReader reads from a fixed list of lines.
type LinesReader struct {
	Lines []Line
	n     int
}

func (r *LinesReader) Read() (Line, error) {
	if r.n == len(r.Lines) {
		return Line{}, io.EOF
	}

	r.n++
	return r.Lines[r.n-1], nil
}
