package agent

import (
	"math/rand"
	"testing"

	"github.com/brensch/arrowblock/game"
)

func pt(x, y int) game.Point { return game.Point{X: x, Y: y} }

func TestDecide_AdjacentTargetIsAttacked(t *testing.T) {
	obs := Observation{
		Agent:   pt(0, 0),
		Targets: []Target{{Pos: pt(0, 1)}, {Pos: pt(5, 5)}},
	}
	got := Decide(obs)
	if got.Kind != Attack || got.Target != 0 {
		t.Fatalf("got %s want attack(0)", got)
	}
}

func TestDecide_MovesAlongLargerOffset(t *testing.T) {
	got := Decide(Observation{Agent: pt(0, 0), Targets: []Target{{Pos: pt(3, 0)}}})
	if got.Kind != Move || got.Dir != game.Right {
		t.Fatalf("got %s want move(right)", got)
	}

	got = Decide(Observation{Agent: pt(4, 4), Targets: []Target{{Pos: pt(3, 0)}}})
	if got.Kind != Move || got.Dir != game.Up {
		t.Fatalf("got %s want move(up)", got)
	}

	got = Decide(Observation{Agent: pt(4, 1), Targets: []Target{{Pos: pt(1, 7)}}})
	if got.Kind != Move || got.Dir != game.Down {
		t.Fatalf("got %s want move(down)", got)
	}
}

func TestDecide_ExactAxisTiePrefersX(t *testing.T) {
	got := Decide(Observation{Agent: pt(5, 5), Targets: []Target{{Pos: pt(3, 3)}}})
	if got.Kind != Move || got.Dir != game.Left {
		t.Fatalf("got %s want move(left)", got)
	}
}

func TestDecide_DiagonalIsNotAdjacent(t *testing.T) {
	got := Decide(Observation{Agent: pt(2, 2), Targets: []Target{{Pos: pt(3, 3)}}})
	if got.Kind != Move || got.Dir != game.Right {
		t.Fatalf("got %s want move(right)", got)
	}
}

func TestDecide_SkipsDestroyedAndIdlesWhenNoneLeft(t *testing.T) {
	obs := Observation{
		Agent:   pt(0, 0),
		Targets: []Target{{Pos: pt(1, 0), Destroyed: true}, {Pos: pt(0, 4)}},
	}
	got := Decide(obs)
	if got.Kind != Move || got.Dir != game.Down || got.Target != 1 {
		t.Fatalf("got %+v want move(down) at target 1", got)
	}

	obs.Targets[1].Destroyed = true
	if got := Decide(obs); got.Kind != Idle || got.Target != -1 {
		t.Fatalf("got %+v want idle", got)
	}
	if got := Decide(Observation{Agent: pt(3, 3)}); got.Kind != Idle {
		t.Fatalf("no targets: got %s", got)
	}
}

func TestDecide_TieBreaksOnFirstOccurrence(t *testing.T) {
	obs := Observation{
		Agent:   pt(5, 5),
		Targets: []Target{{Pos: pt(5, 8)}, {Pos: pt(8, 5)}, {Pos: pt(2, 5)}},
	}
	idx, dist := Nearest(obs)
	if idx != 0 || dist != 3 {
		t.Fatalf("Nearest=(%d,%d) want (0,3)", idx, dist)
	}
	if got := Decide(obs); got.Dir != game.Down {
		t.Fatalf("got %s want move(down) toward first target", got)
	}
}

func TestAgent_KindsAgree(t *testing.T) {
	h, l := New(Heuristic), New(Learning)
	obs := Observation{Agent: pt(1, 1), Targets: []Target{{Pos: pt(6, 2)}, {Pos: pt(1, 2)}}}
	if h.Act(obs) != l.Act(obs) {
		t.Fatalf("heuristic=%s learning=%s", h.Act(obs), l.Act(obs))
	}

	h.Observe(obs, 1, true)
	l.Observe(obs, 1, true)
	if h.Stats() != (Stats{}) {
		t.Fatalf("heuristic kept stats: %+v", h.Stats())
	}
	if s := l.Stats(); s.Transitions != 1 || s.Episodes != 1 || s.TotalReward != 1 {
		t.Fatalf("learning stats=%+v", s)
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{Heuristic, Learning} {
		back, err := ParseKind(k.String())
		if err != nil || back != k {
			t.Fatalf("ParseKind(%q)=%v,%v", k.String(), back, err)
		}
	}
	if _, err := ParseKind("ppo"); err == nil {
		t.Fatalf("unknown kind accepted")
	}
}

func TestScenario_EpisodeDestroysEveryTower(t *testing.T) {
	s := &Scenario{
		Grid:     game.Grid{Width: 6, Height: 6},
		Agent:    pt(0, 0),
		Towers:   []Tower{{Pos: pt(4, 0), Health: 2}, {Pos: pt(4, 5), Health: 1}},
		Settings: DefaultScenarioSettings,
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	a := New(Learning)
	records := RunEpisode(a, s, nil)
	for _, r := range records {
		t.Logf("step %2d agent=%s action=%s reward=%.2f", r.Step, r.Agent, r.Action, r.Reward)
	}

	if s.Live() != 0 {
		t.Fatalf("towers left: %+v", s.Towers)
	}
	last := records[len(records)-1]
	if !last.Done || last.Action.Kind != Attack {
		t.Fatalf("last step=%+v", last)
	}
	// 3 moves + 2 attacks on the first tower, then 5 moves + 1 attack on the second.
	if len(records) != 11 {
		t.Fatalf("steps=%d want 11", len(records))
	}
	if a.Stats().Episodes != 1 || a.Stats().Transitions != len(records) {
		t.Fatalf("stats=%+v", a.Stats())
	}
}

func TestScenario_MovesAreBlocked(t *testing.T) {
	s := &Scenario{
		Grid:     game.Grid{Width: 3, Height: 3},
		Agent:    pt(0, 0),
		Towers:   []Tower{{Pos: pt(1, 0), Health: 1}},
		Settings: DefaultScenarioSettings,
	}
	s.Apply(Action{Kind: Move, Dir: game.Up})
	if s.Agent != pt(0, 0) {
		t.Fatalf("walked off the grid: %s", s.Agent)
	}
	s.Apply(Action{Kind: Move, Dir: game.Right})
	if s.Agent != pt(0, 0) {
		t.Fatalf("walked into a tower: %s", s.Agent)
	}

	// A far attack misses.
	s.Agent = pt(2, 2)
	if r, _ := s.Apply(Action{Kind: Attack, Target: 0}); r != DefaultScenarioSettings.StepPenalty {
		t.Fatalf("far attack paid %v", r)
	}
	if s.Towers[0].Health != 1 {
		t.Fatalf("far attack damaged tower")
	}
}

func TestScenario_StepLimit(t *testing.T) {
	settings := DefaultScenarioSettings
	settings.MaxSteps = 5
	s := &Scenario{
		Grid:     game.Grid{Width: 3, Height: 3},
		Agent:    pt(0, 0),
		Towers:   []Tower{{Pos: pt(2, 2), Health: 1}},
		Settings: settings,
	}
	records := RunEpisode(New(Heuristic), s, nil)
	if len(records) > 5 {
		t.Fatalf("ran %d steps past the limit", len(records))
	}
}

func TestNewRandomScenario_Deterministic(t *testing.T) {
	grid := game.Grid{Width: 8, Height: 8}
	a, err := NewRandomScenario(grid, 5, 3, rand.New(rand.NewSource(7)), DefaultScenarioSettings)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := NewRandomScenario(grid, 5, 3, rand.New(rand.NewSource(7)), DefaultScenarioSettings)
	if len(a.Towers) != 5 {
		t.Fatalf("towers=%d", len(a.Towers))
	}
	for i := range a.Towers {
		if a.Towers[i] != b.Towers[i] {
			t.Fatalf("tower %d differs: %+v vs %+v", i, a.Towers[i], b.Towers[i])
		}
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if _, err := NewRandomScenario(game.Grid{Width: 2, Height: 1}, 2, 1, rand.New(rand.NewSource(1)), DefaultScenarioSettings); err == nil {
		t.Fatalf("overfull grid accepted")
	}
}
