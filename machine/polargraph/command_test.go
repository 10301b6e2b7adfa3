package polargraph

import (
	"strings"
	"testing"

	"github.com/mastercactapus/polargraph/gcode"
	"github.com/mastercactapus/polargraph/translate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	check := func(in, out string) {
		t.Helper()
		s, err := Canonicalize(in, 70)
		assert.NoError(t, err, in)
		assert.Equal(t, out, s, in)

		// idempotent
		s, err = Canonicalize(s, 70)
		assert.NoError(t, err, in)
		assert.Equal(t, out, s, in)
	}

	check("C06", "C06,END\n")
	check("C07,15", "C07,15,END\n")
	check("C06,", "C06,END\n")
	check("C06,END", "C06,END\n")
	check("C06,END\n", "C06,END\n")
	check("  C16 ", "C16,END\n")
}

func TestCanonicalize_Length(t *testing.T) {
	// 64 + len(",END\n") = 69
	s, err := Canonicalize("C00,"+strings.Repeat("1", 60), 70)
	assert.NoError(t, err)
	assert.Len(t, s, 69)

	_, err = Canonicalize("C00,"+strings.Repeat("1", 61), 70)
	assert.ErrorIs(t, err, ErrCommandTooLong)
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand("C02,1.000000,2.000000,-0.500000,0.000000,END\n")
	require.NoError(t, err)
	assert.Equal(t, Command{Code: "C02", Args: []float64{1, 2, -0.5, 0}}, cmd)

	cmd, err = ParseCommand("C10,END")
	require.NoError(t, err)
	assert.Equal(t, Command{Code: "C10"}, cmd)

	// unknown codes take any number of arguments
	cmd, err = ParseCommand("C42,1,2,3,END")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, cmd.Args)

	bad := []string{
		"C00,1,2",
		"C00,1,END",
		"C00,1,2,3,END",
		"G00,1,2,END",
		"C00,a,2,END",
		"END",
		"",
	}
	for _, s := range bad {
		_, err = ParseCommand(s)
		assert.ErrorIs(t, err, ErrInvalidCommand, s)
	}
}

func TestParseCommand_RoundTrip(t *testing.T) {
	prog := gcode.MustParse("G00 X12.5 Y-3\nG01 X0.000001 Y99999.25\nG02 X1 Y2 I-3.125 J4\nG03 X-1 Y-2 I3 J-4.5\n")
	tr := translate.NewTranslator(translate.Protocol)

	for _, ln := range prog {
		out, err := tr.Translate(ln)
		require.NoError(t, err)

		cmd, err := ParseCommand(out)
		require.NoError(t, err, out)

		want := []float64{ln.Param('X').Value, ln.Param('Y').Value}
		if ln.Code.IsArc() {
			want = append(want, ln.Param('I').Value, ln.Param('J').Value)
		}
		assert.InDeltaSlice(t, want, cmd.Args, 1e-6, ln.Text)
	}
}
