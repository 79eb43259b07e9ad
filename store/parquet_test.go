package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
)

func TestEpisodesParquet_WriteRead(t *testing.T) {
	dir := t.TempDir()
	rows := []EpisodeRow{
		{EpisodeID: "ep1", Agent: "heuristic", Step: 0, Width: 6, Height: 6, AgentX: 0, AgentY: 0,
			TowerX: []int32{3}, TowerY: []int32{0}, TowerHealth: []int32{2},
			Action: "move", Direction: "right", Target: 0},
		{EpisodeID: "ep1", Agent: "heuristic", Step: 1, Width: 6, Height: 6, AgentX: 1, AgentY: 0,
			TowerX: []int32{3}, TowerY: []int32{0}, TowerHealth: []int32{2},
			Action: "attack", Target: 0, Reward: 1, Done: true},
	}

	path, err := WriteEpisodesParquetAtomic(dir, rows)
	if err != nil {
		t.Fatalf("WriteEpisodesParquetAtomic: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("path=%s not in %s", path, dir)
	}
	left, _ := os.ReadDir(filepath.Join(dir, "tmp"))
	if len(left) != 0 {
		t.Fatalf("tmp dir not empty: %d files", len(left))
	}

	got, err := ReadEpisodesParquet(path)
	if err != nil {
		t.Fatalf("ReadEpisodesParquet: %v", err)
	}
	if len(got) != len(rows) {
		t.Fatalf("rows=%d want %d", len(got), len(rows))
	}
	if got[1].Action != "attack" || !got[1].Done || got[1].Reward != 1 {
		t.Fatalf("row 1=%+v", got[1])
	}
	if len(got[0].TowerHealth) != 1 || got[0].TowerHealth[0] != 2 || got[0].Direction != "right" {
		t.Fatalf("row 0=%+v", got[0])
	}

	if _, err := WriteEpisodesParquetAtomic(dir, nil); err == nil {
		t.Fatalf("empty batch accepted")
	}
}

func TestEpisodeBatchWriter(t *testing.T) {
	dir := t.TempDir()
	w, err := NewEpisodeBatchWriter(dir)
	if err != nil {
		t.Fatalf("NewEpisodeBatchWriter: %v", err)
	}
	ep := func(id string, steps int) []EpisodeRow {
		var rows []EpisodeRow
		for i := 0; i < steps; i++ {
			rows = append(rows, EpisodeRow{EpisodeID: id, Agent: "heuristic", Step: int32(i), Width: 4, Height: 4, Action: "idle", Target: -1})
		}
		rows[steps-1].Done = true
		return rows
	}
	if err := w.WriteEpisode(ep("a", 3)); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteEpisode(nil); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteEpisode(ep("b", 2)); err != nil {
		t.Fatal(err)
	}
	if w.Episodes() != 2 || w.Rows() != 5 {
		t.Fatalf("episodes=%d rows=%d", w.Episodes(), w.Rows())
	}
	if _, err := os.Stat(w.OutPath()); !os.IsNotExist(err) {
		t.Fatalf("output visible before Finalize: %v", err)
	}

	path, err := w.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := w.WriteEpisode(ep("c", 1)); err == nil {
		t.Fatalf("write after Finalize accepted")
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	st, _ := f.Stat()
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if v, ok := pf.Lookup("schema"); !ok || v != "tower_episode_v1" {
		t.Fatalf("schema metadata=%q ok=%v", v, ok)
	}
	if pf.NumRows() != 5 {
		t.Fatalf("NumRows=%d", pf.NumRows())
	}
}

func TestEpisodeBatchWriter_EmptyLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	w, err := NewEpisodeBatchWriter(dir)
	if err != nil {
		t.Fatal(err)
	}
	path, err := w.Finalize()
	if err != nil || path != "" {
		t.Fatalf("path=%q err=%v", path, err)
	}
	left, _ := os.ReadDir(filepath.Join(dir, "tmp"))
	if len(left) != 0 {
		t.Fatalf("tmp dir not empty")
	}
}
