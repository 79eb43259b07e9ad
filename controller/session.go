// Package controller runs the tick loop: poll one token, parse it, advance the
// block once. It owns the only copy of the live state; the update engine and
// renderer only ever see values handed to them.
package controller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brensch/arrowblock/game"
	"github.com/brensch/arrowblock/rules"
	"github.com/brensch/arrowblock/store"
)

// Recorder receives every command the loop consumes, tagged with the tick it was consumed on.
type Recorder interface {
	Append(tick uint64, cmd game.Command) error
}

// Finisher is implemented by recorders that can mark the tick a session
// stopped on, so playback halts there even without a recorded quit.
type Finisher interface {
	Finish(endTick uint64) error
}

// Bounded is implemented by sources that know the tick the recorded session
// stopped on.
type Bounded interface {
	EndTick() (uint64, bool)
}

type Option func(*Session)

func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.rec = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

type Session struct {
	state    game.BlockState
	src      Source
	rec      Recorder
	logger   *slog.Logger
	commands int
	quit     bool
	ended    bool
}

// StepResult describes one tick. Err holds an InvalidCommand error when the
// polled token did not parse; the state still advanced as an idle tick.
type StepResult struct {
	Prev      game.BlockState
	State     game.BlockState
	Token     string
	Command   *game.Command
	Err       error
	RecordErr error
	Quit      bool
}

func NewSession(initial game.BlockState, src Source, opts ...Option) (*Session, error) {
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("initial state: %w", err)
	}
	if src == nil {
		return nil, fmt.Errorf("input source is required")
	}
	s := &Session{state: initial, src: src}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s, nil
}

func (s *Session) State() game.BlockState { return s.state }

// Commands returns how many valid commands have been consumed.
func (s *Session) Commands() int { return s.commands }

func (s *Session) Quit() bool { return s.quit }

// Finished reports whether the loop should stop: a Quit was consumed, the
// state reached the source's recorded end tick, or the source has run dry and
// the block is at rest.
func (s *Session) Finished() bool {
	if s.quit {
		return true
	}
	if b, ok := s.src.(Bounded); ok {
		if end, ok := b.EndTick(); ok {
			return s.state.Tick >= end
		}
	}
	return s.src.Done() && !s.state.Moving
}

// End marks the recording with the current tick. Every way out of a live
// session must call it, quit or not. Later calls do nothing.
func (s *Session) End() error {
	if s.ended {
		return nil
	}
	s.ended = true
	f, ok := s.rec.(Finisher)
	if !ok {
		return nil
	}
	if err := f.Finish(s.state.Tick); err != nil {
		return fmt.Errorf("finish replay: %w", err)
	}
	return nil
}

// Step runs one tick.
func (s *Session) Step() StepResult {
	tick := s.state.Tick
	res := StepResult{Prev: s.state}

	var cmd *game.Command
	if tok, ok := s.src.Poll(tick); ok {
		res.Token = tok
		c, err := game.Parse(tok)
		if err != nil {
			res.Err = err
			s.logger.Warn("rejected command", "tick", tick, "token", tok)
		} else {
			cmd = &c
			res.Command = cmd
			s.commands++
			s.logger.Debug("command", "tick", tick, "command", c.String())
			if s.rec != nil {
				if err := s.rec.Append(tick, c); err != nil {
					res.RecordErr = err
					s.logger.Error("replay append failed", "tick", tick, "err", err)
				}
			}
			if c.Kind == game.CmdQuit {
				s.quit = true
				res.Quit = true
			}
		}
	}

	s.state = rules.Advance(s.state, cmd)
	res.State = s.state

	if res.Prev.Moving && !s.state.Moving {
		s.logger.Info("block stopped at edge", "tick", s.state.Tick, "pos", s.state.Pos.String())
	}
	return res
}

// Run steps without pausing until the session finishes, maxTicks ticks have
// run (when maxTicks > 0), or ctx is cancelled.
func (s *Session) Run(ctx context.Context, maxTicks int) (game.BlockState, error) {
	for n := 0; !s.Finished(); n++ {
		if maxTicks > 0 && n >= maxTicks {
			return s.state, fmt.Errorf("session still running after %d ticks", maxTicks)
		}
		if err := ctx.Err(); err != nil {
			return s.state, err
		}
		s.Step()
	}
	return s.state, nil
}

// Replay re-drives a recorded log from its initial state and returns the final state.
func Replay(ctx context.Context, log store.ReplayLog, maxTicks int, opts ...Option) (game.BlockState, error) {
	sess, err := NewSession(log.Initial, NewReplaySource(log), opts...)
	if err != nil {
		return game.BlockState{}, err
	}
	return sess.Run(ctx, maxTicks)
}
