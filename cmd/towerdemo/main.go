// Command towerdemo runs the agent against random tower scenarios and writes
// every step to a Parquet file.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/brensch/arrowblock/agent"
	"github.com/brensch/arrowblock/game"
	"github.com/brensch/arrowblock/logging"
	"github.com/brensch/arrowblock/store"
)

func main() {
	episodes := flag.Int("episodes", 10, "Number of episodes to run")
	width := flag.Int("grid-width", 10, "Width of the scenario grid")
	height := flag.Int("grid-height", 10, "Height of the scenario grid")
	towers := flag.Int("towers", 3, "Towers per episode")
	health := flag.Int("health", 3, "Starting tower health")
	maxSteps := flag.Int("max-steps", agent.DefaultScenarioSettings.MaxSteps, "Step limit per episode")
	seed := flag.Int64("seed", 0, "Random seed (0 uses the clock)")
	kindName := flag.String("agent", "heuristic", "Agent kind: heuristic or learning")
	outDir := flag.String("out-dir", "episodes", "Output directory for Parquet files")
	perFile := flag.Int("episodes-per-file", 0, "Start a new Parquet file after this many episodes (0 keeps one file)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	level, err := logging.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "towerdemo: %v\n", err)
		os.Exit(2)
	}
	logger := slog.New(logging.NewLineHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	kind, err := agent.ParseKind(*kindName)
	if err != nil {
		logger.Error("bad agent kind", "err", err)
		os.Exit(2)
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(*seed))
	grid := game.Grid{Width: *width, Height: *height}
	settings := agent.DefaultScenarioSettings
	settings.MaxSteps = *maxSteps

	a := agent.New(kind)
	batch, err := store.NewEpisodeBatchWriter(*outDir)
	if err != nil {
		logger.Error("open episode writer", "err", err)
		os.Exit(1)
	}
	var files []string
	flush := func() {
		path, err := batch.Finalize()
		if err != nil {
			logger.Error("finalize episodes", "err", err)
			os.Exit(1)
		}
		if path != "" {
			logger.Info("episodes written", "path", path, "episodes", batch.Episodes(), "rows", batch.Rows())
			files = append(files, path)
		}
	}

	cleared, totalRows := 0, 0
	for i := 0; i < *episodes; i++ {
		s, err := agent.NewRandomScenario(grid, *towers, *health, rng, settings)
		if err != nil {
			logger.Error("build scenario", "err", err)
			os.Exit(1)
		}
		id := uuid.NewString()
		var (
			rows  []store.EpisodeRow
			total float64
		)
		agent.RunEpisode(a, s, func(r agent.StepRecord) {
			total += r.Reward
			rows = append(rows, episodeRow(id, kind, grid, r))
		})
		if s.Live() == 0 {
			cleared++
		}
		logger.Info("episode finished", "episode", id, "steps", len(rows), "reward", fmt.Sprintf("%.2f", total), "towers_left", s.Live())

		if err := batch.WriteEpisode(rows); err != nil {
			logger.Error("write episode", "episode", id, "err", err)
			os.Exit(1)
		}
		totalRows += len(rows)

		if *perFile > 0 && batch.Episodes() >= *perFile && i+1 < *episodes {
			flush()
			if batch, err = store.NewEpisodeBatchWriter(*outDir); err != nil {
				logger.Error("open episode writer", "err", err)
				os.Exit(1)
			}
		}
	}
	flush()

	fmt.Printf("Episodes: %d (cleared %d)\n", *episodes, cleared)
	fmt.Printf("Steps:    %d\n", totalRows)
	fmt.Printf("Seed:     %d\n", *seed)
	if kind == agent.Learning {
		st := a.Stats()
		fmt.Printf("Learning: %d transitions, %d episodes, total reward %.2f\n", st.Transitions, st.Episodes, st.TotalReward)
	}
	for _, f := range files {
		fmt.Printf("Output:   %s\n", f)
	}
}

func episodeRow(id string, kind agent.Kind, grid game.Grid, r agent.StepRecord) store.EpisodeRow {
	row := store.EpisodeRow{
		EpisodeID: id,
		Agent:     kind.String(),
		Step:      int32(r.Step),
		Width:     int32(grid.Width),
		Height:    int32(grid.Height),
		AgentX:    int32(r.Agent.X),
		AgentY:    int32(r.Agent.Y),
		Action:    r.Action.Kind.String(),
		Target:    int32(r.Action.Target),
		Reward:    float32(r.Reward),
		Done:      r.Done,
	}
	if r.Action.Kind == agent.Move {
		row.Direction = r.Action.Dir.String()
	}
	for _, t := range r.Towers {
		row.TowerX = append(row.TowerX, int32(t.Pos.X))
		row.TowerY = append(row.TowerY, int32(t.Pos.Y))
		row.TowerHealth = append(row.TowerHealth, int32(t.Health))
	}
	return row
}
