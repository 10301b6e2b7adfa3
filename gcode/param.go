package gcode

import (
	"regexp"
	"strconv"
	"strings"
)

// ParamState describes what was found for a parameter letter.
type ParamState byte

const (
	// ParamAbsent means the letter does not appear in the line.
	ParamAbsent ParamState = iota
	// ParamValid means the letter is followed by a number.
	ParamValid
	// ParamInvalid means the letter appears but what follows is not a number.
	ParamInvalid
)

func (s ParamState) String() string {
	switch s {
	case ParamValid:
		return "valid"
	case ParamInvalid:
		return "invalid"
	}
	return "absent"
}

// Param is the value of a single named parameter.
type Param struct {
	State ParamState
	Value float64

	// Raw is the text that followed the letter.
	Raw string
}

// Valid reports if the parameter was found with a parsable value.
func (p Param) Valid() bool { return p.State == ParamValid }

// Absent reports if the letter was not found at all.
func (p Param) Absent() bool { return p.State == ParamAbsent }

// ParamLetters are the parameter letters understood by the translator.
var ParamLetters = []byte{'X', 'Y', 'I', 'J', 'Z'}

var rxNumber = regexp.MustCompile(`^[-+]?(\d+\.?\d*|\.\d+)$`)

func isLetter(c byte) bool { return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') }
func isSpace(c byte) bool  { return c == ' ' || c == '\t' }

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}

// FindParam searches s for letter followed (optionally after whitespace) by a
// signed decimal number. Matching ignores case and only the first occurrence
// counts. Everything after a `;` is a note, and a letter that is part of a
// longer word is not a parameter.
func FindParam(s string, letter byte) Param {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	letter = upper(letter)
	for i := 0; i < len(s); i++ {
		if upper(s[i]) != letter {
			continue
		}
		if i > 0 && isLetter(s[i-1]) {
			continue
		}
		j := i + 1
		if j < len(s) && isLetter(s[j]) {
			continue
		}
		for j < len(s) && isSpace(s[j]) {
			j++
		}
		k := j
		for k < len(s) && !isLetter(s[k]) && !isSpace(s[k]) && s[k] != ';' {
			k++
		}

		raw := s[j:k]
		if !rxNumber.MatchString(raw) {
			return Param{State: ParamInvalid, Raw: raw}
		}
		val, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Param{State: ParamInvalid, Raw: raw}
		}
		return Param{State: ParamValid, Value: val, Raw: raw}
	}

	return Param{State: ParamAbsent}
}
