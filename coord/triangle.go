package coord

import "math"

// Triangle is one face of a mesh.
type Triangle struct{ A, B, C Point }

// Area returns the unsigned area of the triangle.
func (t Triangle) Area() float64 {
	return math.Abs(t.B.Sub(t.A).Cross(t.C.Sub(t.A))) / 2
}

