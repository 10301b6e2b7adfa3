package sim

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/mastercactapus/polargraph/coord"
)

// ErrNoPoints is returned when a points file has no points.
var ErrNoPoints = errors.New("no points to plot")

var rxTuple = regexp.MustCompile(`\(([^(),]*),([^(),]*)\)`)

// ReadPoints parses point generator output. Each line is one stroke of
// comma separated `(x,y)` tuples.
func ReadPoints(r io.Reader) ([][]coord.Point, error) {
	var strokes [][]coord.Point
	scan := bufio.NewScanner(r)
	n := 0
	for scan.Scan() {
		n++
		var stroke []coord.Point
		for _, m := range rxTuple.FindAllStringSubmatch(scan.Text(), -1) {
			x, err := strconv.ParseFloat(strings.TrimSpace(m[1]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", n, err)
			}
			y, err := strconv.ParseFloat(strings.TrimSpace(m[2]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", n, err)
			}
			stroke = append(stroke, coord.Point{X: x, Y: y})
		}
		if len(stroke) > 0 {
			strokes = append(strokes, stroke)
		}
	}
	return strokes, scan.Err()
}

// ReadPointsFile parses the points file at name.
func ReadPointsFile(name string) ([][]coord.Point, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadPoints(f)
}
