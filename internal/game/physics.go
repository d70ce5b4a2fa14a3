package game

import "math"

// Vec2 is a point or direction on the arena plane.
type Vec2 struct {
	X, Y float32
}

func (v Vec2) Add(o Vec2) Vec2 { return Vec2{v.X + o.X, v.Y + o.Y} }

func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{v.X - o.X, v.Y - o.Y} }

func (v Vec2) Scale(f float32) Vec2 { return Vec2{v.X * f, v.Y * f} }

func (v Vec2) Len() float32 {
	return float32(math.Hypot(float64(v.X), float64(v.Y)))
}

// Distance computes the Euclidean distance between two points.
func Distance(a, b Vec2) float32 { return b.Sub(a).Len() }

// Step moves from towards to by at most maxStep.
func Step(from, to Vec2, maxStep float32) Vec2 {
	d := to.Sub(from)
	l := d.Len()
	if l <= maxStep || l == 0 {
		return to
	}
	return from.Add(d.Scale(maxStep / l))
}
