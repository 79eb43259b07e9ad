package main

import "time"

// EpisodeSummary is one tower episode in the episodes list.
type EpisodeSummary struct {
	EpisodeID   string  `json:"episode_id"`
	Agent       string  `json:"agent"`
	Steps       int32   `json:"steps"`
	Width       int32   `json:"width"`
	Height      int32   `json:"height"`
	Towers      int32   `json:"towers"`
	TotalReward float64 `json:"total_reward"`
	Attacks     int32   `json:"attacks"`
	SourceFile  string  `json:"file"`
}

// EpisodesResponse is the paginated response for /api/episodes.
type EpisodesResponse struct {
	Total    int64            `json:"total"`
	Episodes []EpisodeSummary `json:"episodes"`
}

type Point struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
}

type Tower struct {
	Pos    Point `json:"pos"`
	Health int32 `json:"health"`
}

// EpisodeStep is one row of an episode as returned by /api/episodes/{id}/steps.
type EpisodeStep struct {
	Step      int32   `json:"step"`
	Agent     Point   `json:"agent"`
	Towers    []Tower `json:"towers"`
	Action    string  `json:"action"`
	Direction string  `json:"direction,omitempty"`
	Target    int32   `json:"target"`
	Reward    float32 `json:"reward"`
	Done      bool    `json:"done"`
}

// SessionSummary is a row of the arrowblock session index.
type SessionSummary struct {
	ID         string     `json:"id"`
	Mode       string     `json:"mode"`
	ReplayPath string     `json:"replay_path,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Ticks      uint64     `json:"ticks"`
	Commands   int        `json:"commands"`
	Final      *Frame     `json:"final,omitempty"`
}

// Frame is the board after one tick of a replayed session.
type Frame struct {
	Tick    uint64 `json:"tick"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Facing  string `json:"facing"`
	Moving  bool   `json:"moving"`
	Command string `json:"command,omitempty"`
	Board   string `json:"board"`
}

// FramesResponse is the response for /api/sessions/{id}/frames.
type FramesResponse struct {
	SessionID      string  `json:"session_id"`
	TickIntervalMs int64   `json:"tick_interval_ms"`
	Frames         []Frame `json:"frames"`
	Truncated      bool    `json:"truncated,omitempty"` // the session ran past the frame limit
}
