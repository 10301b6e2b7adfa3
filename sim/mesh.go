package sim

import (
	"errors"
	"math"

	"github.com/fogleman/delaunay"
	"github.com/mastercactapus/polargraph/coord"
)

// ErrTooFewPoints is returned by NewMesh for fewer than 3 distinct points.
var ErrTooFewPoints = errors.New("need at least 3 points to create a mesh")

// Mesh is a triangulation of plotted points, covering their convex hull.
type Mesh struct {
	min, max  coord.Point
	triangles []coord.Triangle
}

// NewMesh triangulates points.
func NewMesh(points []coord.Point) (*Mesh, error) {
	if len(points) < 3 {
		return nil, ErrTooFewPoints
	}

	points2d := make([]delaunay.Point, 0, len(points))
	seen := make(map[delaunay.Point]bool, len(points))

	mesh := &Mesh{min: points[0], max: points[0]}
	for _, p := range points {
		mesh.min.X = math.Min(mesh.min.X, p.X)
		mesh.min.Y = math.Min(mesh.min.Y, p.Y)
		mesh.max.X = math.Max(mesh.max.X, p.X)
		mesh.max.Y = math.Max(mesh.max.Y, p.Y)

		d := delaunay.Point{X: p.X, Y: p.Y}
		if seen[d] {
			continue
		}
		seen[d] = true
		points2d = append(points2d, d)
	}
	if len(points2d) < 3 {
		return nil, ErrTooFewPoints
	}

	tri, err := delaunay.Triangulate(points2d)
	if err != nil {
		return nil, err
	}

	mesh.triangles = make([]coord.Triangle, 0, len(tri.Triangles)/3)
	pt := func(i int) coord.Point {
		p := tri.Points[tri.Triangles[i]]
		return coord.Point{X: p.X, Y: p.Y}
	}
	for i := 0; i < len(tri.Triangles); i += 3 {
		mesh.triangles = append(mesh.triangles, coord.Triangle{A: pt(i), B: pt(i + 1), C: pt(i + 2)})
	}

	return mesh, nil
}

// Area returns the area covered by the mesh.
func (m *Mesh) Area() (a float64) {
	for _, t := range m.triangles {
		a += t.Area()
	}
	return a
}

// Bounds returns the corners of the bounding box of all points.
func (m *Mesh) Bounds() (lo, hi coord.Point) { return m.min, m.max }

// Triangles returns the number of triangles in the mesh.
func (m *Mesh) Triangles() int { return len(m.triangles) }
