package agent

import (
	"fmt"
	"math/rand"

	"github.com/brensch/arrowblock/game"
)

// Tower is a target in the destruction scenario. It is destroyed at zero health.
type Tower struct {
	Pos    game.Point
	Health int
}

// ScenarioSettings controls the tower scenario's payouts and limits.
type ScenarioSettings struct {
	Damage        int     // Health removed by one attack
	MaxSteps      int     // Episode ends after this many steps
	StepPenalty   float64 // Paid every step
	HitReward     float64 // Paid for a damaging attack
	DestroyReward float64 // Paid when a tower drops to zero
}

var DefaultScenarioSettings = ScenarioSettings{
	Damage:        1,
	MaxSteps:      200,
	StepPenalty:   -0.01,
	HitReward:     0.1,
	DestroyReward: 1,
}

// Scenario is a grid with one agent and a set of towers.
type Scenario struct {
	Grid     game.Grid
	Agent    game.Point
	Towers   []Tower
	Settings ScenarioSettings
	Steps    int
}

func (s *Scenario) Validate() error {
	if err := s.Grid.Validate(); err != nil {
		return err
	}
	if !s.Grid.Contains(s.Agent) {
		return fmt.Errorf("agent %s outside grid", s.Agent)
	}
	for i, t := range s.Towers {
		if !s.Grid.Contains(t.Pos) {
			return fmt.Errorf("tower %d at %s outside grid", i, t.Pos)
		}
		if t.Pos == s.Agent {
			return fmt.Errorf("tower %d overlaps agent", i)
		}
	}
	return nil
}

func (s *Scenario) Observation() Observation {
	obs := Observation{Agent: s.Agent, Targets: make([]Target, len(s.Towers))}
	for i, t := range s.Towers {
		obs.Targets[i] = Target{Pos: t.Pos, Destroyed: t.Health <= 0}
	}
	return obs
}

func (s *Scenario) Live() int {
	n := 0
	for _, t := range s.Towers {
		if t.Health > 0 {
			n++
		}
	}
	return n
}

func (s *Scenario) Done() bool {
	return s.Live() == 0 || (s.Settings.MaxSteps > 0 && s.Steps >= s.Settings.MaxSteps)
}

func (s *Scenario) blocked(p game.Point) bool {
	if !s.Grid.Contains(p) {
		return true
	}
	for _, t := range s.Towers {
		if t.Health > 0 && t.Pos == p {
			return true
		}
	}
	return false
}

// Apply advances the scenario by one step and returns the reward and whether
// the episode is over. Moves into a wall or an intact tower leave the agent in
// place; attacks on a target that is not adjacent or already destroyed miss.
func (s *Scenario) Apply(a Action) (float64, bool) {
	s.Steps++
	reward := s.Settings.StepPenalty

	switch a.Kind {
	case Move:
		next := s.Agent.Add(a.Dir.Vector())
		if !s.blocked(next) {
			s.Agent = next
		}
	case Attack:
		if a.Target >= 0 && a.Target < len(s.Towers) {
			t := &s.Towers[a.Target]
			if t.Health > 0 && Manhattan(s.Agent, t.Pos) <= 1 {
				t.Health -= max(s.Settings.Damage, 1)
				reward += s.Settings.HitReward
				if t.Health <= 0 {
					t.Health = 0
					reward += s.Settings.DestroyReward
				}
			}
		}
	}
	return reward, s.Done()
}

// NewRandomScenario places the agent at the top-left corner and n towers on
// distinct free cells chosen by rng.
func NewRandomScenario(grid game.Grid, n, health int, rng *rand.Rand, settings ScenarioSettings) (*Scenario, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	if n >= grid.Width*grid.Height {
		return nil, fmt.Errorf("%d towers do not fit a %dx%d grid", n, grid.Width, grid.Height)
	}
	s := &Scenario{Grid: grid, Agent: game.Point{}, Settings: settings}
	used := map[game.Point]bool{s.Agent: true}
	for len(s.Towers) < n {
		p := game.Point{X: rng.Intn(grid.Width), Y: rng.Intn(grid.Height)}
		if used[p] {
			continue
		}
		used[p] = true
		s.Towers = append(s.Towers, Tower{Pos: p, Health: health})
	}
	return s, nil
}

// StepRecord is one step of an episode, captured before the action was applied.
type StepRecord struct {
	Step   int
	Agent  game.Point
	Towers []Tower
	Action Action
	Reward float64
	Done   bool
}

// RunEpisode drives a against s until the scenario ends. onStep may be nil.
func RunEpisode(a *Agent, s *Scenario, onStep func(StepRecord)) []StepRecord {
	a.Reset()
	var records []StepRecord
	for !s.Done() {
		obs := s.Observation()
		act := a.Act(obs)
		rec := StepRecord{
			Step:   s.Steps,
			Agent:  s.Agent,
			Towers: append([]Tower(nil), s.Towers...),
			Action: act,
		}
		rec.Reward, rec.Done = s.Apply(act)
		a.Observe(s.Observation(), rec.Reward, rec.Done)
		records = append(records, rec)
		if onStep != nil {
			onStep(rec)
		}
	}
	return records
}
