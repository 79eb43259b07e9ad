package rules

import (
	"github.com/brensch/arrowblock/game"
)

// Advance returns the state after one tick, applying cmd first when it is non-nil.
//
// A moving block steps one cell in its facing direction. If that cell is off
// the grid the block stays where it is and stops. Quit leaves the block alone;
// ending the session is the controller's job.
func Advance(state game.BlockState, cmd *game.Command) game.BlockState {
	next := state
	next.Tick++

	// Keep the position invariant even for states that were built by hand.
	next.Pos = next.Grid.Clamp(next.Pos)
	if !next.Facing.Valid() {
		next.Facing = game.Right
	}

	if cmd != nil {
		switch cmd.Kind {
		case game.CmdSetDirection:
			if cmd.Dir.Valid() {
				next.Facing = cmd.Dir
			}
		case game.CmdStart:
			next.Moving = true
		}
	}

	if !next.Moving {
		return next
	}

	target := next.Pos.Add(next.Facing.Vector())
	if !next.Grid.Contains(target) {
		next.Moving = false
		return next
	}
	next.Pos = target
	return next
}

// Simulate applies cmds in order, one per tick, then runs idle ticks until
// ticks have elapsed in total. Used by tests and headless tooling.
func Simulate(state game.BlockState, cmds []game.Command, ticks int) game.BlockState {
	for i := 0; i < ticks; i++ {
		var cmd *game.Command
		if i < len(cmds) {
			cmd = &cmds[i]
		}
		state = Advance(state, cmd)
	}
	return state
}
