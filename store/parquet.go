package store

import (
	"fmt"

	"github.com/parquet-go/parquet-go"
)

// EpisodeRow is a single step of a tower-scenario episode.
//
// Action is one of "idle", "move", "attack". Direction is set for moves only.
// Target is the index of the chosen tower, or -1 when there is none.
// Reward is what the scenario paid out for this step.
type EpisodeRow struct {
	EpisodeID   string  `parquet:"episode_id,dict"`
	Agent       string  `parquet:"agent,dict"`
	Step        int32   `parquet:"step"`
	Width       int32   `parquet:"width"`
	Height      int32   `parquet:"height"`
	AgentX      int32   `parquet:"agent_x"`
	AgentY      int32   `parquet:"agent_y"`
	TowerX      []int32 `parquet:"tower_x"`
	TowerY      []int32 `parquet:"tower_y"`
	TowerHealth []int32 `parquet:"tower_health"`
	Action      string  `parquet:"action,dict"`
	Direction   string  `parquet:"direction,dict"`
	Target      int32   `parquet:"target"`
	Reward      float32 `parquet:"reward"`
	Done        bool    `parquet:"done"`
}

// WriteEpisodesParquetAtomic writes rows as a single Parquet file in outDir
// and returns its path.
func WriteEpisodesParquetAtomic(outDir string, rows []EpisodeRow) (string, error) {
	if len(rows) == 0 {
		return "", fmt.Errorf("no episode rows to write")
	}
	w, err := NewEpisodeBatchWriter(outDir)
	if err != nil {
		return "", err
	}
	if err := w.WriteEpisode(rows); err != nil {
		_, _ = w.Finalize()
		return "", err
	}
	return w.Finalize()
}

func ReadEpisodesParquet(path string) ([]EpisodeRow, error) {
	rows, err := parquet.ReadFile[EpisodeRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	return rows, nil
}
