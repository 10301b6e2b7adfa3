package sim

import (
	"fmt"
	"time"

	"github.com/mastercactapus/polargraph/coord"
	"github.com/mastercactapus/polargraph/translate"
	"github.com/rs/zerolog/log"
)

// Timing model used by Estimate.
const (
	// MMPerSecond is the travel rate at speed 1; it scales linearly with speed.
	MMPerSecond = 1.0

	// ServoTime is the time taken by one pen lift or drop.
	ServoTime = 500 * time.Millisecond

	// CommandTime is the handshake overhead of each command.
	CommandTime = 50 * time.Millisecond
)

// Estimate summarizes a simulated plot.
type Estimate struct {
	Points  int
	Strokes int

	// Length is the total travel in mm.
	Length float64

	// Area is the area enclosed by all points in mm², zero when the
	// points are collinear.
	Area float64

	Width, Height float64

	Duration time.Duration
}

func (e Estimate) String() string {
	return fmt.Sprintf("%d points, %.1f mm travel, %.0fx%.0f mm (%.0f mm²).\nEstimated time: %s",
		e.Points, e.Length, e.Width, e.Height, e.Area, e.Duration.Round(time.Second))
}

// NewEstimate computes plot statistics for strokes drawn at speed. The
// counters come from translating the program.
func NewEstimate(strokes [][]coord.Point, speed int, c translate.Counters) (*Estimate, error) {
	var all []coord.Point
	for _, s := range strokes {
		all = append(all, s...)
	}
	if len(all) == 0 {
		return nil, ErrNoPoints
	}
	if speed < 1 {
		speed = 1
	}

	e := &Estimate{
		Points:  len(all),
		Strokes: len(strokes),
		Length:  coord.PathLength(all),
	}

	lo, hi := all[0], all[0]
	mesh, err := NewMesh(all)
	if err == nil {
		e.Area = mesh.Area()
		lo, hi = mesh.Bounds()
	} else {
		log.Debug().Err(err).Msg("no drawing area")
		for _, p := range all {
			lo.X, lo.Y = min(lo.X, p.X), min(lo.Y, p.Y)
			hi.X, hi.Y = max(hi.X, p.X), max(hi.Y, p.Y)
		}
	}
	e.Width = hi.X - lo.X
	e.Height = hi.Y - lo.Y

	travel := time.Duration(e.Length / (MMPerSecond * float64(speed)) * float64(time.Second))
	e.Duration = travel +
		time.Duration(c.ServoMoves)*ServoTime +
		time.Duration(c.Commands)*CommandTime

	return e, nil
}
