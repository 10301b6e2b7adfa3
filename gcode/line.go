package gcode

import (
	"fmt"
	"strings"
)

// Code is one of the recognized motion/mode codes.
type Code string

const (
	Rapid    Code = "G00"
	Linear   Code = "G01"
	ArcCW    Code = "G02"
	ArcCCW   Code = "G03"
	Absolute Code = "G90"
	Relative Code = "G91"
)

// IsMotion reports if c is G00 or G01.
func (c Code) IsMotion() bool { return c == Rapid || c == Linear }

// IsArc reports if c is G02 or G03.
func (c Code) IsArc() bool { return c == ArcCW || c == ArcCCW }

// Line is a single recognized command line.
type Line struct {
	// Number is the 1-based line number after comment removal.
	Number int
	Text   string
	Code   Code
}

func (l Line) String() string { return l.Text }

// Param returns the value for the given parameter letter.
func (l Line) Param(letter byte) Param { return FindParam(l.Text, letter) }

// IsDwell reports if the line carries a dwell (G04) anywhere in its text.
func (l Line) IsDwell() bool { return strings.Contains(l.Text, "G04") }

// Validate returns a *ParseError for the first parameter letter that is
// present but not followed by a valid number.
func (l Line) Validate() error {
	for _, letter := range ParamLetters {
		p := l.Param(letter)
		if p.State == ParamInvalid {
			return &ParseError{Line: l.Number, Letter: letter, Raw: p.Raw, Text: l.Text}
		}
	}
	return nil
}

// ParseError indicates a parameter letter followed by an unparsable value.
type ParseError struct {
	Line   int
	Letter byte
	Raw    string
	Text   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: invalid %c value %q in %q", e.Line, e.Letter, e.Raw, e.Text)
}
