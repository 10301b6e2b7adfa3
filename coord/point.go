package coord

import (
	"math"
	"strconv"
)

// Point is a position on the drawing surface, in mm.
type Point struct{ X, Y float64 }

func (p Point) String() string {
	return "(" + strconv.FormatFloat(p.X, 'g', -1, 64) + "," + strconv.FormatFloat(p.Y, 'g', -1, 64) + ")"
}

// Cross returns the z component of the cross product of p and op.
func (p Point) Cross(op Point) float64 {
	return p.X*op.Y - p.Y*op.X
}

// Add will add the target values to p.
func (p Point) Add(target Point) Point {
	p.X += target.X
	p.Y += target.Y
	return p
}

// Sub will subtract the target values from p.
func (p Point) Sub(target Point) Point {
	p.X -= target.X
	p.Y -= target.Y
	return p
}

// Distance returns the straight line distance between p and target.
func (p Point) Distance(target Point) float64 {
	return math.Hypot(target.X-p.X, target.Y-p.Y)
}

// PathLength returns the length of the polyline through points.
func PathLength(points []Point) (l float64) {
	for i := 1; i < len(points); i++ {
		l += points[i-1].Distance(points[i])
	}
	return l
}
