package store

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/brensch/arrowblock/game"
)

// ErrCorruptState is matched by every load failure caused by the record itself.
var ErrCorruptState = errors.New("corrupt state")

const stateFormatVersion = 1

//go:embed schemas/state.schema.json
var stateSchemaJSON string

var stateSchema = jsonschema.MustCompileString("state.schema.json", stateSchemaJSON)

// StateRecord is the flat on-disk form of a game.BlockState.
type StateRecord struct {
	Version int    `json:"version"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Facing  string `json:"facing"`
	Moving  bool   `json:"moving"`
	Tick    uint64 `json:"tick"`
}

func recordFromState(s game.BlockState) StateRecord {
	return StateRecord{
		Version: stateFormatVersion,
		Width:   s.Grid.Width,
		Height:  s.Grid.Height,
		X:       s.Pos.X,
		Y:       s.Pos.Y,
		Facing:  s.Facing.String(),
		Moving:  s.Moving,
		Tick:    s.Tick,
	}
}

func (r StateRecord) state() (game.BlockState, error) {
	facing, ok := game.ParseDirection(r.Facing)
	if !ok {
		return game.BlockState{}, fmt.Errorf("%w: facing %q", ErrCorruptState, r.Facing)
	}
	s := game.BlockState{
		Grid:   game.Grid{Width: r.Width, Height: r.Height},
		Pos:    game.Point{X: r.X, Y: r.Y},
		Facing: facing,
		Moving: r.Moving,
		Tick:   r.Tick,
	}
	if err := s.Validate(); err != nil {
		return game.BlockState{}, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return s, nil
}

// SaveState encodes s as an indented JSON record terminated by a newline.
func SaveState(s game.BlockState) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}
	b, err := json.MarshalIndent(recordFromState(s), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return append(b, '\n'), nil
}

// LoadState decodes a record written by SaveState. Nothing is returned unless
// the whole record validates.
func LoadState(data []byte) (game.BlockState, error) {
	if err := validateStateJSON(data); err != nil {
		return game.BlockState{}, err
	}
	var rec StateRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return game.BlockState{}, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return rec.state()
}

func validateStateJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after record", ErrCorruptState)
	}
	if err := stateSchema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return nil
}

// WriteStateFile writes the record to a temp file and renames it into place.
func WriteStateFile(path string, s game.BlockState) error {
	data, err := SaveState(s)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	_ = os.Remove(tmpPath)
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

func ReadStateFile(path string) (game.BlockState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return game.BlockState{}, fmt.Errorf("read state: %w", err)
	}
	s, err := LoadState(data)
	if err != nil {
		return game.BlockState{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}
