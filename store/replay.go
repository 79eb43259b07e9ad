package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/brensch/arrowblock/game"
)

const replayFormatVersion = 1

// ReplayHeader is the first line of a replay file.
type ReplayHeader struct {
	Version        int             `json:"version"`
	SessionID      string          `json:"session_id"`
	RecordedAt     time.Time       `json:"recorded_at"`
	TickIntervalMs int64           `json:"tick_interval_ms"`
	Initial        json.RawMessage `json:"initial"`
}

type replayLine struct {
	Tick    uint64 `json:"tick"`
	Command string `json:"command"`
}

// replayFooter closes a log with the tick the session stopped on.
type replayFooter struct {
	EndTick uint64 `json:"end_tick"`
}

type replayRawLine struct {
	Tick    uint64  `json:"tick"`
	Command string  `json:"command"`
	EndTick *uint64 `json:"end_tick"`
}

// ReplayEntry is a command consumed by the controller on a given tick.
type ReplayEntry struct {
	Tick    uint64
	Command game.Command
}

// ReplayLog is a decoded replay file. Entries are in non-decreasing tick order.
// When Ended is set, the recorded session stopped with its state at EndTick.
type ReplayLog struct {
	SessionID    string
	RecordedAt   time.Time
	TickInterval time.Duration
	Initial      game.BlockState
	Entries      []ReplayEntry
	Ended        bool
	EndTick      uint64
}

func isZstdPath(path string) bool {
	return strings.HasSuffix(path, ".zst")
}

// ReplayRecorder appends entries to a replay file as they happen.
//
// Every entry is flushed and synced before Append returns, so a crash loses
// at most the line being written. ReadReplay ignores such a partial tail.
//
// Format (one JSON object per line):
//
//	{"version":1,"session_id":...,"initial":{...}}
//	{"tick":3,"command":"start"}
//	{"end_tick":9}
//
// The end_tick footer is written by Finish. A log without one came from a
// session that crashed.
type ReplayRecorder struct {
	path     string
	file     *os.File
	enc      *zstd.Encoder
	w        *bufio.Writer
	lastTick uint64
	count    int
	finished bool
}

// CreateReplay truncates path and writes the header. A ".zst" suffix selects
// zstd compression.
func CreateReplay(path, sessionID string, initial game.BlockState, tickInterval time.Duration) (*ReplayRecorder, error) {
	if path == "" {
		return nil, fmt.Errorf("replay path is required")
	}
	initialJSON, err := json.Marshal(recordFromState(initial))
	if err != nil {
		return nil, fmt.Errorf("encode initial state: %w", err)
	}
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("initial state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create replay dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}

	r := &ReplayRecorder{path: path, file: file}
	var out io.Writer = file
	if isZstdPath(path) {
		enc, err := zstd.NewWriter(file, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		r.enc = enc
		out = enc
	}
	r.w = bufio.NewWriter(out)

	header := ReplayHeader{
		Version:        replayFormatVersion,
		SessionID:      sessionID,
		RecordedAt:     time.Now().UTC(),
		TickIntervalMs: tickInterval.Milliseconds(),
		Initial:        initialJSON,
	}
	if err := r.writeLine(header); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

func (r *ReplayRecorder) Path() string { return r.path }

// Count returns the number of entries appended so far.
func (r *ReplayRecorder) Count() int { return r.count }

func (r *ReplayRecorder) Append(tick uint64, cmd game.Command) error {
	if r.file == nil {
		return fmt.Errorf("replay file is closed")
	}
	if r.finished {
		return fmt.Errorf("replay already finished")
	}
	if r.count > 0 && tick < r.lastTick {
		return fmt.Errorf("replay tick went backwards: %d after %d", tick, r.lastTick)
	}
	if err := r.writeLine(replayLine{Tick: tick, Command: cmd.String()}); err != nil {
		return err
	}
	r.lastTick = tick
	r.count++
	return nil
}

// Finish writes the footer recording the tick the session's state reached.
// Nothing can be appended afterwards.
func (r *ReplayRecorder) Finish(endTick uint64) error {
	if r.file == nil {
		return fmt.Errorf("replay file is closed")
	}
	if r.finished {
		return fmt.Errorf("replay already finished")
	}
	if r.count > 0 && endTick < r.lastTick {
		return fmt.Errorf("replay end tick %d before last entry %d", endTick, r.lastTick)
	}
	if err := r.writeLine(replayFooter{EndTick: endTick}); err != nil {
		return err
	}
	r.finished = true
	return nil
}

func (r *ReplayRecorder) writeLine(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode replay line: %w", err)
	}
	if _, err := r.w.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("append replay: %w", err)
	}
	if err := r.w.Flush(); err != nil {
		return fmt.Errorf("flush replay: %w", err)
	}
	if r.enc != nil {
		if err := r.enc.Flush(); err != nil {
			return fmt.Errorf("flush zstd: %w", err)
		}
	}
	if err := r.file.Sync(); err != nil {
		return fmt.Errorf("sync replay: %w", err)
	}
	return nil
}

func (r *ReplayRecorder) Close() error {
	if r.file == nil {
		return nil
	}
	var errs []error
	if err := r.w.Flush(); err != nil {
		errs = append(errs, err)
	}
	if r.enc != nil {
		if err := r.enc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.file.Close(); err != nil {
		errs = append(errs, err)
	}
	r.file = nil
	return errors.Join(errs...)
}

// WriteReplay writes a complete log in one go.
func WriteReplay(path string, log ReplayLog) error {
	rec, err := CreateReplay(path, log.SessionID, log.Initial, log.TickInterval)
	if err != nil {
		return err
	}
	for _, e := range log.Entries {
		if err := rec.Append(e.Tick, e.Command); err != nil {
			_ = rec.Close()
			return err
		}
	}
	if log.Ended {
		if err := rec.Finish(log.EndTick); err != nil {
			_ = rec.Close()
			return err
		}
	}
	return rec.Close()
}

// ReadReplay loads a replay file written by ReplayRecorder.
func ReadReplay(path string) (ReplayLog, error) {
	f, err := os.Open(path)
	if err != nil {
		return ReplayLog{}, fmt.Errorf("open replay: %w", err)
	}
	defer f.Close()

	var src io.Reader = f
	if isZstdPath(path) {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return ReplayLog{}, fmt.Errorf("%w: zstd reader: %v", ErrCorruptState, err)
		}
		defer dec.Close()
		src = dec
	}

	log, err := DecodeReplay(src)
	if err != nil {
		return ReplayLog{}, fmt.Errorf("%s: %w", path, err)
	}
	return log, nil
}

// DecodeReplay parses the line format. A final line that does not decode is
// treated as a write cut short by a crash and dropped; any earlier bad line
// makes the whole log corrupt.
func DecodeReplay(r io.Reader) (ReplayLog, error) {
	scanner := bufio.NewScanner(r)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return ReplayLog{}, fmt.Errorf("%w: read header: %v", ErrCorruptState, err)
		}
		return ReplayLog{}, fmt.Errorf("%w: empty replay", ErrCorruptState)
	}
	var header ReplayHeader
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		return ReplayLog{}, fmt.Errorf("%w: header: %v", ErrCorruptState, err)
	}
	if header.Version != replayFormatVersion {
		return ReplayLog{}, fmt.Errorf("%w: unsupported replay version %d", ErrCorruptState, header.Version)
	}
	initial, err := LoadState(header.Initial)
	if err != nil {
		return ReplayLog{}, fmt.Errorf("initial state: %w", err)
	}

	log := ReplayLog{
		SessionID:    header.SessionID,
		RecordedAt:   header.RecordedAt,
		TickInterval: time.Duration(header.TickIntervalMs) * time.Millisecond,
		Initial:      initial,
	}

	var pending error
	lineNo := 1
	for scanner.Scan() {
		lineNo++
		if pending != nil {
			return ReplayLog{}, pending
		}
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var line replayRawLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			pending = fmt.Errorf("%w: line %d: %v", ErrCorruptState, lineNo, err)
			continue
		}
		if log.Ended {
			return ReplayLog{}, fmt.Errorf("%w: line %d: entry after end_tick", ErrCorruptState, lineNo)
		}
		if line.EndTick != nil {
			if n := len(log.Entries); n > 0 && *line.EndTick < log.Entries[n-1].Tick {
				return ReplayLog{}, fmt.Errorf("%w: line %d: end_tick %d before last entry %d", ErrCorruptState, lineNo, *line.EndTick, log.Entries[n-1].Tick)
			}
			if *line.EndTick < initial.Tick {
				return ReplayLog{}, fmt.Errorf("%w: line %d: end_tick %d before initial tick %d", ErrCorruptState, lineNo, *line.EndTick, initial.Tick)
			}
			log.Ended = true
			log.EndTick = *line.EndTick
			continue
		}
		cmd, err := game.Parse(line.Command)
		if err != nil {
			return ReplayLog{}, fmt.Errorf("%w: line %d: %v", ErrCorruptState, lineNo, err)
		}
		if n := len(log.Entries); n > 0 && line.Tick < log.Entries[n-1].Tick {
			return ReplayLog{}, fmt.Errorf("%w: line %d: tick %d after %d", ErrCorruptState, lineNo, line.Tick, log.Entries[n-1].Tick)
		}
		log.Entries = append(log.Entries, ReplayEntry{Tick: line.Tick, Command: cmd})
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return ReplayLog{}, fmt.Errorf("%w: read: %v", ErrCorruptState, err)
	}
	return log, nil
}
