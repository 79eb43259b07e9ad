package main

import (
	"context"

	"github.com/brensch/arrowblock/controller"
	"github.com/brensch/arrowblock/game"
	"github.com/brensch/arrowblock/render"
	"github.com/brensch/arrowblock/store"
)

// maxReplayFrames bounds how far a replay is re-driven for the viewer. Longer
// sessions are cut short and flagged as truncated.
const maxReplayFrames = 100_000

func frameOf(s game.BlockState, board *render.Board) Frame {
	return Frame{
		Tick:   s.Tick,
		X:      s.Pos.X,
		Y:      s.Pos.Y,
		Facing: s.Facing.String(),
		Moving: s.Moving,
		Board:  board.String(),
	}
}

// replayFrames re-drives log through a fresh session and captures the board
// after every tick. The first frame is the initial state. At most limit
// frames are produced; truncated reports that the session ran on past them.
func replayFrames(ctx context.Context, log store.ReplayLog, limit int) (frames []Frame, truncated bool, err error) {
	sess, err := controller.NewSession(log.Initial, controller.NewReplaySource(log))
	if err != nil {
		return nil, false, err
	}
	board := render.NewBoard(log.Initial.Grid)
	board.Render(nil, log.Initial)
	frames = []Frame{frameOf(log.Initial, board)}

	for !sess.Finished() {
		if len(frames) >= limit {
			return frames, true, nil
		}
		if err := ctx.Err(); err != nil {
			return frames, false, err
		}
		res := sess.Step()
		board.Render(&res.Prev, res.State)
		f := frameOf(res.State, board)
		if res.Command != nil {
			f.Command = res.Command.String()
		}
		frames = append(frames, f)
	}
	return frames, false, nil
}

func finalFrame(s game.BlockState) *Frame {
	board := render.NewBoard(s.Grid)
	board.Render(nil, s)
	f := frameOf(s, board)
	return &f
}
