// Package game defines the core state types for the arrow block demo.
//
// These types are plain values: the controller owns the current state and
// hands copies to the update engine and renderer each tick.
package game

import (
	"fmt"
)

// Point is a grid coordinate.
// Coordinates follow terminal conventions: (0,0) is top-left and y grows downward.
type Point struct {
	X int
	Y int
}

func (p Point) Add(q Point) Point {
	return Point{X: p.X + q.X, Y: p.Y + q.Y}
}

func (p Point) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// Direction is one of the four cardinal facings.
type Direction int

const (
	Up Direction = iota
	Down
	Left
	Right
)

var directionNames = [...]string{"up", "down", "left", "right"}

func (d Direction) Valid() bool {
	return d >= Up && d <= Right
}

func (d Direction) String() string {
	if !d.Valid() {
		return fmt.Sprintf("direction(%d)", int(d))
	}
	return directionNames[d]
}

// Vector returns the unit step for d.
func (d Direction) Vector() Point {
	switch d {
	case Up:
		return Point{X: 0, Y: -1}
	case Down:
		return Point{X: 0, Y: 1}
	case Left:
		return Point{X: -1, Y: 0}
	case Right:
		return Point{X: 1, Y: 0}
	}
	return Point{}
}

// ParseDirection maps a canonical direction name back to a Direction.
func ParseDirection(s string) (Direction, bool) {
	for i, name := range directionNames {
		if s == name {
			return Direction(i), true
		}
	}
	return 0, false
}

type Grid struct {
	Width  int
	Height int
}

func (g Grid) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("invalid grid dimensions: %dx%d", g.Width, g.Height)
	}
	return nil
}

func (g Grid) Contains(p Point) bool {
	return p.X >= 0 && p.X < g.Width && p.Y >= 0 && p.Y < g.Height
}

// Clamp moves p to the nearest cell inside the grid.
func (g Grid) Clamp(p Point) Point {
	p.X = max(0, min(p.X, g.Width-1))
	p.Y = max(0, min(p.Y, g.Height-1))
	return p
}

// BlockState is the complete state of the controllable block.
// Tick counts completed update cycles since the session began.
type BlockState struct {
	Grid   Grid
	Pos    Point
	Facing Direction
	Moving bool
	Tick   uint64
}

// NewBlockState returns the start-of-game state: top-left corner, facing right, idle.
func NewBlockState(grid Grid) BlockState {
	return BlockState{
		Grid:   grid,
		Pos:    Point{X: 0, Y: 0},
		Facing: Right,
	}
}

// Validate checks the position and facing invariants.
func (s BlockState) Validate() error {
	if err := s.Grid.Validate(); err != nil {
		return err
	}
	if !s.Grid.Contains(s.Pos) {
		return fmt.Errorf("position %s outside %dx%d grid", s.Pos, s.Grid.Width, s.Grid.Height)
	}
	if !s.Facing.Valid() {
		return fmt.Errorf("invalid facing %d", int(s.Facing))
	}
	return nil
}
