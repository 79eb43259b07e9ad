// Package render projects block state onto a text grid.
//
// Board keeps the last drawn frame and only touches the cells that changed
// between two states, so a tick with an idle block costs nothing.
package render

import (
	"errors"
	"fmt"
	"strings"

	"github.com/brensch/arrowblock/game"
)

const (
	MinRows = 15
	MinCols = 50

	// ChromeRows is the lines drawn around the board: title and message,
	// border top and bottom, status, input.
	ChromeRows = 5
)

var ErrTerminalTooSmall = errors.New("terminal too small")

const emptyCell = '.'

var glyphs = [...]rune{
	game.Up:    '^',
	game.Down:  'v',
	game.Left:  '<',
	game.Right: '>',
}

// Glyph returns the arrow drawn for a block facing d.
func Glyph(d game.Direction) rune {
	if !d.Valid() {
		return '?'
	}
	return glyphs[d]
}

// Board is a cell buffer for one grid.
type Board struct {
	grid  game.Grid
	cells [][]rune
	drawn bool
}

func NewBoard(grid game.Grid) *Board {
	cells := make([][]rune, grid.Height)
	for y := range cells {
		cells[y] = make([]rune, grid.Width)
		for x := range cells[y] {
			cells[y][x] = emptyCell
		}
	}
	return &Board{grid: grid, cells: cells}
}

// Render brings the buffer up to date with cur and returns the cells it rewrote.
// A nil prev, a first call, or a grid change triggers a full redraw.
func (b *Board) Render(prev *game.BlockState, cur game.BlockState) []game.Point {
	if prev == nil || !b.drawn || prev.Grid != cur.Grid || cur.Grid != b.grid {
		return b.redraw(cur)
	}

	var dirty []game.Point
	if prev.Pos != cur.Pos {
		if b.set(prev.Pos, emptyCell) {
			dirty = append(dirty, prev.Pos)
		}
	}
	if b.set(cur.Pos, Glyph(cur.Facing)) {
		dirty = append(dirty, cur.Pos)
	}
	return dirty
}

func (b *Board) redraw(cur game.BlockState) []game.Point {
	if cur.Grid != b.grid {
		*b = *NewBoard(cur.Grid)
	}
	dirty := make([]game.Point, 0, b.grid.Width*b.grid.Height)
	for y := range b.cells {
		for x := range b.cells[y] {
			b.cells[y][x] = emptyCell
			dirty = append(dirty, game.Point{X: x, Y: y})
		}
	}
	b.set(cur.Pos, Glyph(cur.Facing))
	b.drawn = true
	return dirty
}

// set writes r at p and reports whether the cell changed.
func (b *Board) set(p game.Point, r rune) bool {
	if !b.grid.Contains(p) {
		return false
	}
	if b.cells[p.Y][p.X] == r {
		return false
	}
	b.cells[p.Y][p.X] = r
	return true
}

// Cell returns the rune at p, or 0 outside the grid.
func (b *Board) Cell(p game.Point) rune {
	if !b.grid.Contains(p) {
		return 0
	}
	return b.cells[p.Y][p.X]
}

// String returns the framed board, top row first.
func (b *Board) String() string {
	var sb strings.Builder
	border := "+" + strings.Repeat("-", b.grid.Width) + "+\n"
	sb.WriteString(border)
	for y := range b.cells {
		sb.WriteByte('|')
		sb.WriteString(string(b.cells[y]))
		sb.WriteString("|\n")
	}
	sb.WriteString(border)
	return sb.String()
}

func StatusLine(s game.BlockState) string {
	moving := "stopped"
	if s.Moving {
		moving = "moving"
	}
	return fmt.Sprintf("facing %-5s | %-7s | pos %s | tick %d", s.Facing, moving, s.Pos, s.Tick)
}

// RequiredSize returns the smallest terminal that fits grid plus the surrounding chrome.
func RequiredSize(grid game.Grid) (cols, rows int) {
	return max(MinCols, grid.Width+2), max(MinRows, grid.Height+ChromeRows)
}

// CheckSize reports ErrTerminalTooSmall when a cols x rows terminal cannot show grid.
func CheckSize(cols, rows int, grid game.Grid) error {
	needCols, needRows := RequiredSize(grid)
	if cols < needCols || rows < needRows {
		return fmt.Errorf("%w: %dx%d, need at least %dx%d (rows x cols)", ErrTerminalTooSmall, rows, cols, needRows, needCols)
	}
	return nil
}
