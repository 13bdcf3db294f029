// Package color converts normalized RGB values into CIE xy points that a
// bulb with a given gamut can reproduce.
package color

import (
	"fmt"
	"math"
	"strings"
)

// RGB is a color with each channel normalized to [0, 1].
type RGB struct {
	R float64
	G float64
	B float64
}

// Point is a CIE 1931 xy chromaticity coordinate.
type Point struct {
	X float64
	Y float64
}

// Gamut is the triangle of colors a bulb can reproduce.
type Gamut struct {
	Name  string
	Red   Point
	Green Point
	Blue  Point
}

// Gamut tables as published for Hue bulbs.
var (
	GamutA = Gamut{
		Name:  "GamutA",
		Red:   Point{X: 0.704, Y: 0.296},
		Green: Point{X: 0.2151, Y: 0.7106},
		Blue:  Point{X: 0.138, Y: 0.08},
	}
	GamutB = Gamut{
		Name:  "GamutB",
		Red:   Point{X: 0.675, Y: 0.322},
		Green: Point{X: 0.409, Y: 0.518},
		Blue:  Point{X: 0.167, Y: 0.04},
	}
	GamutC = Gamut{
		Name:  "GamutC",
		Red:   Point{X: 0.692, Y: 0.308},
		Green: Point{X: 0.17, Y: 0.7},
		Blue:  Point{X: 0.153, Y: 0.048},
	}
)

// DefaultGamut is used when a light does not declare one.
var DefaultGamut = GamutC

// precision is the number of decimals kept in a converted point. Two RGB
// values that only differ by noise below this precision map to the same point.
const precision = 1e4

// ParseGamut resolves a gamut name (case-insensitive). An empty name
// returns DefaultGamut.
func ParseGamut(name string) (Gamut, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return DefaultGamut, nil
	case "gamuta", "a":
		return GamutA, nil
	case "gamutb", "b":
		return GamutB, nil
	case "gamutc", "c":
		return GamutC, nil
	}
	return Gamut{}, fmt.Errorf("unknown gamut %q", name)
}

// Convert maps rgb to the closest xy point inside g.
func Convert(rgb RGB, g Gamut) Point {
	r := gammaCorrect(clamp01(rgb.R))
	gr := gammaCorrect(clamp01(rgb.G))
	b := gammaCorrect(clamp01(rgb.B))

	// wide gamut conversion, D65
	X := r*0.664511 + gr*0.154324 + b*0.162028
	Y := r*0.283881 + gr*0.668433 + b*0.047685
	Z := r*0.000088 + gr*0.072310 + b*0.986039

	p := Point{}
	if sum := X + Y + Z; sum > 0 {
		p = Point{X: X / sum, Y: Y / sum}
	}

	if !g.inReach(p) {
		p = g.closestPoint(p)
	}

	return Point{X: round(p.X), Y: round(p.Y)}
}

// Contains reports whether p lies inside or on the edges of the gamut,
// allowing for the rounding applied by Convert.
func (g Gamut) Contains(p Point) bool {
	if g.inReach(p) {
		return true
	}
	return distance(p, g.closestPoint(p)) <= 1/precision
}

func (g Gamut) inReach(p Point) bool {
	v1 := Point{X: g.Green.X - g.Red.X, Y: g.Green.Y - g.Red.Y}
	v2 := Point{X: g.Blue.X - g.Red.X, Y: g.Blue.Y - g.Red.Y}
	q := Point{X: p.X - g.Red.X, Y: p.Y - g.Red.Y}

	s := crossProduct(q, v2) / crossProduct(v1, v2)
	t := crossProduct(v1, q) / crossProduct(v1, v2)

	return s >= 0.0 && t >= 0.0 && s+t <= 1.0
}

func (g Gamut) closestPoint(p Point) Point {
	pAB := closestPointOnLine(g.Red, g.Green, p)
	pAC := closestPointOnLine(g.Blue, g.Red, p)
	pBC := closestPointOnLine(g.Green, g.Blue, p)

	dAB := distance(p, pAB)
	dAC := distance(p, pAC)
	dBC := distance(p, pBC)

	best, bestDist := pAB, dAB
	if dAC < bestDist {
		best, bestDist = pAC, dAC
	}
	if dBC < bestDist {
		best = pBC
	}
	return best
}

// closestPointOnLine projects p onto the segment a-b.
func closestPointOnLine(a, b, p Point) Point {
	ap := Point{X: p.X - a.X, Y: p.Y - a.Y}
	ab := Point{X: b.X - a.X, Y: b.Y - a.Y}
	ab2 := ab.X*ab.X + ab.Y*ab.Y
	t := (ap.X*ab.X + ap.Y*ab.Y) / ab2

	if t < 0.0 {
		t = 0.0
	} else if t > 1.0 {
		t = 1.0
	}

	return Point{X: a.X + ab.X*t, Y: a.Y + ab.Y*t}
}

func crossProduct(p1, p2 Point) float64 {
	return p1.X*p2.Y - p1.Y*p2.X
}

func distance(a, b Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

func gammaCorrect(v float64) float64 {
	if v > 0.04045 {
		return math.Pow((v+0.055)/(1.0+0.055), 2.4)
	}
	return v / 12.92
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func round(v float64) float64 {
	return math.Round(v*precision) / precision
}
