// Command arrowblock runs the arrow block demo in the terminal.
//
// Type a direction (up/u, down/d, left/l, right/r), start/go to set the block
// moving, and quit/q to leave. With --replay a recorded session is played back
// instead of reading input.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/x/term"
	"github.com/google/uuid"

	"github.com/brensch/arrowblock/config"
	"github.com/brensch/arrowblock/controller"
	"github.com/brensch/arrowblock/game"
	"github.com/brensch/arrowblock/logging"
	"github.com/brensch/arrowblock/render"
	"github.com/brensch/arrowblock/store"
	"github.com/brensch/arrowblock/ui"
)

// Headless replays stop here if the log never settles.
const headlessTickLimit = 1_000_000

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Parse(os.Args[1:], os.Getenv, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "arrowblock: %v\n", err)
		return 2
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "arrowblock: %v\n", err)
		return 2
	}
	logger, closeLog, err := logging.Setup(cfg.LogFile, level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "arrowblock: %v\n", err)
		return 1
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionID := uuid.NewString()
	logger = logger.With("session", sessionID)
	logger.Debug("game started",
		"tick_rate", cfg.TickRate, "grid_width", cfg.GridWidth, "grid_height", cfg.GridHeight,
		"replay", cfg.Replay, "record", cfg.Record)

	g := newGameRun(cfg, logger, sessionID)
	defer g.close()
	if err := g.prepare(); err != nil {
		logger.Error("startup failed", "err", err)
		fmt.Fprintf(os.Stderr, "arrowblock: %v\n", err)
		return 1
	}

	if cfg.Headless {
		return g.runHeadless(ctx)
	}
	return g.runTUI(ctx)
}

type gameRun struct {
	cfg       config.Config
	logger    *slog.Logger
	sessionID string

	// termSize reports the terminal's columns and rows for fd.
	termSize func(fd uintptr) (int, int, error)
	stdout   io.Writer

	initial game.BlockState
	queue   *controller.Queue
	source  controller.Source
	rec     *store.ReplayRecorder
	db      *store.SessionDB
	sess    *controller.Session
}

func newGameRun(cfg config.Config, logger *slog.Logger, sessionID string) *gameRun {
	return &gameRun{
		cfg:       cfg,
		logger:    logger,
		sessionID: sessionID,
		termSize:  ttySize,
		stdout:    os.Stdout,
	}
}

// mode and replayPath describe the session for the index. A live session's
// replay path is its recording, if any.
func (g *gameRun) mode() (string, string) {
	if g.cfg.Replay != "" {
		return "replay", g.cfg.Replay
	}
	return "live", g.cfg.Record
}

func (g *gameRun) prepare() error {
	switch {
	case g.cfg.Replay != "":
		log, err := store.ReadReplay(g.cfg.Replay)
		if err != nil {
			return fmt.Errorf("load replay: %w", err)
		}
		g.initial = log.Initial
		g.source = controller.NewReplaySource(log)
		g.logger.Info("replay loaded", "path", g.cfg.Replay, "entries", len(log.Entries), "recorded_session", log.SessionID)

	case g.cfg.LoadState != "":
		s, err := store.ReadStateFile(g.cfg.LoadState)
		if err != nil {
			return fmt.Errorf("load state: %w", err)
		}
		g.initial = s
		g.logger.Info("state loaded", "path", g.cfg.LoadState, "pos", s.Pos.String(), "facing", s.Facing.String())

	default:
		g.initial = game.NewBlockState(game.Grid{Width: g.cfg.GridWidth, Height: g.cfg.GridHeight})
	}

	if g.source == nil {
		g.queue = &controller.Queue{}
		g.source = g.queue
	}

	if !g.cfg.Headless {
		if err := g.checkTerminal(); err != nil {
			return err
		}
	}

	opts := []controller.Option{controller.WithLogger(g.logger)}
	if g.cfg.Record != "" && g.queue != nil {
		rec, err := store.CreateReplay(g.cfg.Record, g.sessionID, g.initial, g.cfg.TickInterval())
		if err != nil {
			return fmt.Errorf("create replay: %w", err)
		}
		g.rec = rec
		opts = append(opts, controller.WithRecorder(rec))
	}

	sess, err := controller.NewSession(g.initial, g.source, opts...)
	if err != nil {
		return err
	}
	g.sess = sess

	if g.cfg.DBPath != "" {
		db, err := store.OpenSessionDB(g.cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open session db: %w", err)
		}
		g.db = db
		mode, replayPath := g.mode()
		if err := db.BeginSession(context.Background(), g.sessionID, mode, replayPath, time.Now()); err != nil {
			return err
		}
	}
	return nil
}

func ttySize(fd uintptr) (int, int, error) {
	if !term.IsTerminal(fd) {
		return 0, 0, fmt.Errorf("stdout is not a terminal (use --headless with --replay)")
	}
	return term.GetSize(fd)
}

// checkTerminal enforces the minimum size before the alternate screen is entered.
func (g *gameRun) checkTerminal() error {
	cols, rows, err := g.termSize(os.Stdout.Fd())
	if err != nil {
		return fmt.Errorf("read terminal size: %w", err)
	}
	if err := render.CheckSize(cols, rows, g.initial.Grid); err != nil {
		return fmt.Errorf("%w; please resize your terminal window and try again", err)
	}
	return nil
}

func (g *gameRun) runHeadless(ctx context.Context) int {
	final, err := g.sess.Run(ctx, headlessTickLimit)
	if err != nil {
		g.logger.Error("headless replay failed", "err", err)
		fmt.Fprintf(os.Stderr, "arrowblock: %v\n", err)
		return 1
	}
	g.finish(final)

	data, err := store.SaveState(final)
	if err != nil {
		fmt.Fprintf(os.Stderr, "arrowblock: %v\n", err)
		return 1
	}
	if _, err := g.stdout.Write(append(data, '\n')); err != nil {
		g.logger.Error("write final state", "err", err)
		return 1
	}
	return 0
}

func (g *gameRun) runTUI(ctx context.Context) int {
	model := ui.New(g.sess, g.queue, g.cfg.TickInterval(), g.logger)
	final, err := ui.Run(ctx, model)
	g.finish(final.State())
	if err != nil {
		g.logger.Error("game ended with error", "err", err)
		fmt.Fprintf(os.Stderr, "arrowblock: %v\n", err)
		return 1
	}

	if err := g.saveState(final.State()); err != nil {
		g.logger.Error("save state failed", "path", g.cfg.StateFile, "err", err)
		fmt.Fprintf(os.Stderr, "arrowblock: %v\n", err)
		return 1
	}
	if final.Interrupted() {
		fmt.Fprintln(g.stdout, "Game terminated by user.")
	}
	return 0
}

// saveState writes a live session's final state to the state file.
func (g *gameRun) saveState(final game.BlockState) error {
	if g.queue == nil || g.cfg.StateFile == "" {
		return nil
	}
	if err := store.WriteStateFile(g.cfg.StateFile, final); err != nil {
		return err
	}
	g.logger.Info("game quit, state saved", "path", g.cfg.StateFile)
	return nil
}

// finish runs on every way out of the loop, so the replay footer, the state
// file and the session index all agree on the final tick.
func (g *gameRun) finish(final game.BlockState) {
	g.logger.Debug("game ended", "ticks", final.Tick, "commands", g.sess.Commands(), "pos", final.Pos.String())
	if err := g.sess.End(); err != nil {
		g.logger.Error("replay end marker", "err", err)
	}
	if g.db == nil {
		return
	}
	if err := g.db.EndSession(context.Background(), g.sessionID, time.Now(), g.sess.Commands(), final); err != nil {
		g.logger.Error("session index update failed", "err", err)
	}
}

func (g *gameRun) close() {
	if g.rec != nil {
		if err := g.rec.Close(); err != nil {
			g.logger.Error("close replay", "path", g.rec.Path(), "err", err)
		}
	}
	if g.db != nil {
		if err := g.db.Close(); err != nil {
			g.logger.Error("close session db", "err", err)
		}
	}
}
