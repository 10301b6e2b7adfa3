package gcode

import (
	"io"
	"regexp"
	"strings"
)

// Parser reads recognized command lines from a GCODE program.
//
// Parenthesized comments are removed from the whole text before it is split
// into lines, so the first call to Read consumes the entire input.
type Parser struct {
	r     io.Reader
	lines []string
	n     int
	err   error
}

// NewParser returns a Parser reading from r.
func NewParser(r io.Reader) *Parser {
	return &Parser{r: r}
}

var (
	rxComment = regexp.MustCompile(`\([^)]*\)`)
	rxCommand = regexp.MustCompile(`^(G00|G01|G02|G03|G90|G91)`)

	newlines = strings.NewReplacer("\r\n", "\n", "\r", "\n")
)

// StripComments removes every parenthesized span from s.
// Spans are matched non-greedily and are not nested.
func StripComments(s string) string {
	return rxComment.ReplaceAllString(s, "")
}

func (p *Parser) load() error {
	if p.lines != nil || p.err != nil {
		return p.err
	}
	data, err := io.ReadAll(p.r)
	if err != nil {
		p.err = err
		return err
	}
	text := newlines.Replace(StripComments(string(data)))
	p.lines = strings.Split(text, "\n")
	return nil
}

// Read returns the next recognized line, or io.EOF when the program is exhausted.
//
// Lines not starting with one of the recognized codes are skipped. A line
// with a malformed parameter value returns a *ParseError.
func (p *Parser) Read() (Line, error) {
	err := p.load()
	if err != nil {
		return Line{}, err
	}

	for p.n < len(p.lines) {
		s := p.lines[p.n]
		p.n++

		m := rxCommand.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		ln := Line{Number: p.n, Text: s, Code: Code(m[1])}
		err = ln.Validate()
		if err != nil {
			return Line{}, err
		}
		return ln, nil
	}

	return Line{}, io.EOF
}

// Recognize returns the line as a command line if s starts with a recognized code.
func Recognize(s string) (Line, bool) {
	m := rxCommand.FindStringSubmatch(s)
	if m == nil {
		return Line{}, false
	}
	return Line{Number: 1, Text: s, Code: Code(m[1])}, true
}
