package translate

import (
	"io"
	"testing"

	"github.com/mastercactapus/polargraph/gcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_Read(t *testing.T) {
	prog := gcode.MustParse("G90\nG01 F10\nG00 X1\n")
	b := NewBuffer(&gcode.LinesReader{Lines: prog}, NewTranslator(Protocol))

	buf := make([]byte, 64)
	n, err := b.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, "C90,END\nC00,1.000000,0.000000,END\n", string(buf[:n]))

	n, err = b.Read(buf)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 0, n)
}

func TestBuffer_SmallReads(t *testing.T) {
	prog := gcode.MustParse("G90\nG91\nG90\n")
	tr := NewTranslator(Protocol)
	data, err := io.ReadAll(NewBuffer(&gcode.LinesReader{Lines: prog}, tr))
	require.NoError(t, err)
	assert.Equal(t, "C90,END\nC91,END\nC90,END\n", string(data))
	assert.Equal(t, 3, tr.Counters.Commands)
}

func TestBuffer_Error(t *testing.T) {
	lines := []gcode.Line{
		{Number: 1, Text: "G90", Code: gcode.Absolute},
		{Number: 2, Text: "G01 X-", Code: gcode.Linear},
	}
	_, err := io.ReadAll(NewBuffer(&gcode.LinesReader{Lines: lines}, NewTranslator(Protocol)))
	assert.ErrorIs(t, err, ErrInvalidParam)
}
