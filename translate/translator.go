package translate

import (
	"errors"
	"fmt"

	"github.com/mastercactapus/polargraph/gcode"
)

// ErrInvalidParam is returned when a line carries a parameter letter with an
// unparsable value.
var ErrInvalidParam = errors.New("invalid parameter")

// Form selects the output produced by a Translator.
type Form int

const (
	// Protocol produces device protocol commands (`C00,X,Y,END`).
	Protocol Form = iota

	// Native produces firmware source statements for offline simulation.
	Native
)

func (f Form) String() string {
	if f == Native {
		return "native"
	}
	return "protocol"
}

// NativeHeader and NativeFooter wrap a program translated in the Native form.
const (
	NativeHeader = "void arduinoGcodeDirectCommands(){\n  #ifdef GCODE\n  moveHome();\n  setMotorSpeed(DEFAULT_SPEED);\n  bool prevState = relativeCoords;\n"
	NativeFooter = "  relativeCoords=prevState;\n  moveHome();\n  #endif\n}"
)

// Counters are accumulated while translating and feed the run time estimate.
type Counters struct {
	// Commands counts lines that produced output.
	Commands int

	// ServoMoves counts pen lifts and drops.
	ServoMoves int
}

// Add returns the sum of both counters.
func (c Counters) Add(o Counters) Counters {
	return Counters{Commands: c.Commands + o.Commands, ServoMoves: c.ServoMoves + o.ServoMoves}
}

// A Translator converts recognized lines into device commands.
type Translator struct {
	Form     Form
	Counters Counters
}

// NewTranslator returns a Translator producing output in the given form.
func NewTranslator(f Form) *Translator {
	return &Translator{Form: f}
}

type template struct {
	move, line, cw, ccw string
	abs, rel            string
	penDown, penUp      string
}

var templates = map[Form]template{
	Protocol: {
		move:    "C00,%f,%f,END\n",
		line:    "C01,%f,%f,END\n",
		cw:      "C02,%f,%f,%f,%f,END\n",
		ccw:     "C03,%f,%f,%f,%f,END\n",
		abs:     "C90,END\n",
		rel:     "C91,END\n",
		penDown: "C10,END\n",
		penUp:   "C11,END\n",
	},
	Native: {
		move:    "  RapidPositioning(%f,%f);\n",
		line:    "  LinearInterpolation(%f,%f);\n",
		cw:      "  CircularInterpolationCW(%f,%f,%f,%f);\n",
		ccw:     "  CircularInterpolationCCW(%f,%f,%f,%f);\n",
		abs:     "  relativeCoords = false;\n",
		rel:     "  relativeCoords = true;\n",
		penDown: "  penlift_penDown();\n",
		penUp:   "  penlift_penUp();\n",
	},
}

// Translate returns the output for a single line. An empty string means the
// line produces nothing (e.g. a G01 without X or Y).
func (t *Translator) Translate(ln gcode.Line) (string, error) {
	err := ln.Validate()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidParam, err)
	}

	tmpl := templates[t.Form]
	var out string

	switch ln.Code {
	case gcode.Rapid, gcode.Linear:
		x, y := ln.Param('X'), ln.Param('Y')
		if x.Absent() && y.Absent() {
			break
		}
		f := tmpl.move
		if ln.Code == gcode.Linear {
			f = tmpl.line
		}
		out = fmt.Sprintf(f, x.Value, y.Value)
	case gcode.ArcCW, gcode.ArcCCW:
		x, y, i, j := ln.Param('X'), ln.Param('Y'), ln.Param('I'), ln.Param('J')
		if x.Absent() || y.Absent() || i.Absent() || j.Absent() {
			break
		}
		f := tmpl.cw
		if ln.Code == gcode.ArcCCW {
			f = tmpl.ccw
		}
		out = fmt.Sprintf(f, x.Value, y.Value, i.Value, j.Value)
	case gcode.Absolute:
		out = tmpl.abs
	case gcode.Relative:
		out = tmpl.rel
	}

	if pen, ok := t.pen(ln, tmpl); ok {
		out = pen
	}

	if out != "" {
		t.Counters.Commands++
	}
	return out, nil
}

// pen infers a pen lift or drop from a G00/G01 line carrying only Z.
func (t *Translator) pen(ln gcode.Line, tmpl template) (string, bool) {
	if !ln.Code.IsMotion() {
		return "", false
	}
	z := ln.Param('Z')
	if z.Absent() || !ln.Param('X').Absent() || !ln.Param('Y').Absent() {
		return "", false
	}

	switch {
	case z.Value < 0:
		t.Counters.ServoMoves++
		return tmpl.penDown, true
	case z.Value > 0:
		t.Counters.ServoMoves++
		return tmpl.penUp, true
	}
	return "", false
}

// Program translates every line of prog, concatenating the output.
func (t *Translator) Program(prog gcode.Program) (string, error) {
	var out []byte
	for _, ln := range prog {
		s, err := t.Translate(ln)
		if err != nil {
			return "", err
		}
		out = append(out, s...)
	}
	return string(out), nil
}
