package store

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/brensch/arrowblock/game"
)

func TestState_RoundTrip(t *testing.T) {
	states := []game.BlockState{
		game.NewBlockState(game.Grid{Width: 10, Height: 10}),
		{Grid: game.Grid{Width: 3, Height: 7}, Pos: game.Point{X: 2, Y: 6}, Facing: game.Up, Moving: true, Tick: 42},
		{Grid: game.Grid{Width: 1, Height: 1}, Facing: game.Left},
	}
	for _, s := range states {
		data, err := SaveState(s)
		if err != nil {
			t.Fatalf("SaveState(%+v): %v", s, err)
		}
		back, err := LoadState(data)
		if err != nil {
			t.Fatalf("LoadState(%s): %v", data, err)
		}
		if back != s {
			t.Fatalf("round trip: got %+v want %+v", back, s)
		}

		again, err := SaveState(back)
		if err != nil {
			t.Fatalf("SaveState again: %v", err)
		}
		if !bytes.Equal(again, data) {
			t.Fatalf("record changed across load/save:\n%s\nvs\n%s", data, again)
		}
	}
}

func TestState_LoadRejectsCorruptRecords(t *testing.T) {
	cases := map[string]string{
		"not json":         `{"version":1,`,
		"empty":            ``,
		"missing field":    `{"version":1,"width":5,"height":5,"x":0,"y":0,"facing":"up","moving":false}`,
		"bad facing":       `{"version":1,"width":5,"height":5,"x":0,"y":0,"facing":"north","moving":false,"tick":0}`,
		"x out of bounds":  `{"version":1,"width":5,"height":5,"x":5,"y":0,"facing":"up","moving":false,"tick":0}`,
		"negative y":       `{"version":1,"width":5,"height":5,"x":0,"y":-1,"facing":"up","moving":false,"tick":0}`,
		"zero width":       `{"version":1,"width":0,"height":5,"x":0,"y":0,"facing":"up","moving":false,"tick":0}`,
		"wrong version":    `{"version":2,"width":5,"height":5,"x":0,"y":0,"facing":"up","moving":false,"tick":0}`,
		"extra field":      `{"version":1,"width":5,"height":5,"x":0,"y":0,"facing":"up","moving":false,"tick":0,"hp":3}`,
		"fractional x":     `{"version":1,"width":5,"height":5,"x":1.5,"y":0,"facing":"up","moving":false,"tick":0}`,
		"trailing garbage": `{"version":1,"width":5,"height":5,"x":0,"y":0,"facing":"up","moving":false,"tick":0} {}`,
	}
	for name, raw := range cases {
		s, err := LoadState([]byte(raw))
		if !errors.Is(err, ErrCorruptState) {
			t.Fatalf("%s: err=%v want ErrCorruptState", name, err)
		}
		if s != (game.BlockState{}) {
			t.Fatalf("%s: partial state returned: %+v", name, s)
		}
	}
}

func TestStateFile_WriteRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "latest_game.json")
	s := game.BlockState{Grid: game.Grid{Width: 8, Height: 4}, Pos: game.Point{X: 7, Y: 3}, Facing: game.Down, Tick: 9}

	if err := WriteStateFile(path, s); err != nil {
		t.Fatalf("WriteStateFile: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
	back, err := ReadStateFile(path)
	if err != nil {
		t.Fatalf("ReadStateFile: %v", err)
	}
	if back != s {
		t.Fatalf("got %+v want %+v", back, s)
	}

	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadStateFile(path); !errors.Is(err, ErrCorruptState) {
		t.Fatalf("garbage file err=%v", err)
	}
}
