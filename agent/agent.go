// Package agent implements the tower-destruction scenario's decision makers.
//
// Act is deterministic: the nearest live target wins, with ties going to the
// target listed first in the observation.
package agent

import (
	"fmt"

	"github.com/brensch/arrowblock/game"
)

type Target struct {
	Pos       game.Point
	Destroyed bool
}

// Observation is built fresh for every decision.
type Observation struct {
	Agent   game.Point
	Targets []Target
}

type ActionKind int

const (
	Idle ActionKind = iota
	Move
	Attack
)

func (k ActionKind) String() string {
	switch k {
	case Idle:
		return "idle"
	case Move:
		return "move"
	case Attack:
		return "attack"
	}
	return fmt.Sprintf("action(%d)", int(k))
}

// Action is the agent's choice. Dir is set for Move; Target indexes
// Observation.Targets for Move and Attack and is -1 for Idle.
type Action struct {
	Kind   ActionKind
	Dir    game.Direction
	Target int
}

func (a Action) String() string {
	switch a.Kind {
	case Move:
		return fmt.Sprintf("move(%s)", a.Dir)
	case Attack:
		return fmt.Sprintf("attack(%d)", a.Target)
	}
	return a.Kind.String()
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Manhattan returns |dx| + |dy|.
func Manhattan(a, b game.Point) int {
	return abs(a.X-b.X) + abs(a.Y-b.Y)
}

// Nearest returns the index of the closest live target and its distance,
// or -1 when every target is destroyed.
func Nearest(obs Observation) (int, int) {
	best, bestDist := -1, 0
	for i, t := range obs.Targets {
		if t.Destroyed {
			continue
		}
		d := Manhattan(obs.Agent, t.Pos)
		// Strict comparison keeps the first of equally distant targets.
		if best == -1 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist
}

// StepToward picks the direction that closes the larger axis offset first,
// preferring x when the offsets are equal.
func StepToward(from, to game.Point) game.Direction {
	dx, dy := to.X-from.X, to.Y-from.Y
	if abs(dx) >= abs(dy) {
		if dx < 0 {
			return game.Left
		}
		return game.Right
	}
	if dy < 0 {
		return game.Up
	}
	return game.Down
}

// Decide is the nearest-target heuristic shared by every agent kind.
func Decide(obs Observation) Action {
	idx, dist := Nearest(obs)
	if idx < 0 {
		return Action{Kind: Idle, Target: -1}
	}
	if dist <= 1 {
		return Action{Kind: Attack, Target: idx}
	}
	return Action{Kind: Move, Dir: StepToward(obs.Agent, obs.Targets[idx].Pos), Target: idx}
}

// Kind tags which capabilities an Agent has.
type Kind int

const (
	Heuristic Kind = iota
	// Learning exposes the learning hooks. It has no policy of its own yet
	// and acts exactly like Heuristic.
	Learning
)

func (k Kind) String() string {
	switch k {
	case Heuristic:
		return "heuristic"
	case Learning:
		return "learning"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func ParseKind(s string) (Kind, error) {
	switch s {
	case "heuristic":
		return Heuristic, nil
	case "learning":
		return Learning, nil
	}
	return 0, fmt.Errorf("unknown agent kind %q", s)
}

// Stats counts the feedback a Learning agent has been given.
type Stats struct {
	Transitions int
	Episodes    int
	TotalReward float64
}

type Agent struct {
	kind  Kind
	stats Stats
}

func New(kind Kind) *Agent {
	return &Agent{kind: kind}
}

func (a *Agent) Kind() Kind { return a.kind }

func (a *Agent) Act(obs Observation) Action {
	return Decide(obs)
}

// Observe records the outcome of the last action. Only Learning agents keep anything.
func (a *Agent) Observe(_ Observation, reward float64, done bool) {
	if a.kind != Learning {
		return
	}
	a.stats.Transitions++
	a.stats.TotalReward += reward
	if done {
		a.stats.Episodes++
	}
}

// Reset is called between episodes. Decisions carry no state, so there is nothing to clear.
func (a *Agent) Reset() {}

func (a *Agent) Stats() Stats { return a.stats }
