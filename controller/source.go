package controller

import (
	"github.com/brensch/arrowblock/store"
)

// Source supplies raw command tokens to the loop. Poll is called once per tick
// and must not block; it returns at most one token.
type Source interface {
	Poll(tick uint64) (string, bool)
	// Done reports that no further tokens will ever arrive.
	Done() bool
}

// Queue is the live input source. Tokens typed between ticks wait here and
// come out one per tick in the order they were entered.
type Queue struct {
	tokens []string
}

func (q *Queue) Push(token string) {
	q.tokens = append(q.tokens, token)
}

func (q *Queue) Poll(uint64) (string, bool) {
	if len(q.tokens) == 0 {
		return "", false
	}
	tok := q.tokens[0]
	q.tokens[0] = ""
	q.tokens = q.tokens[1:]
	return tok, true
}

func (q *Queue) Len() int { return len(q.tokens) }

func (q *Queue) Done() bool { return false }

// ReplaySource feeds recorded commands back in file order. An entry is
// released on the first tick at or after the one it was recorded on.
type ReplaySource struct {
	entries []store.ReplayEntry
	next    int
	ended   bool
	endTick uint64
}

func NewReplaySource(log store.ReplayLog) *ReplaySource {
	return &ReplaySource{entries: log.Entries, ended: log.Ended, endTick: log.EndTick}
}

// EndTick returns the tick the recorded session stopped on, if the log says.
func (r *ReplaySource) EndTick() (uint64, bool) { return r.endTick, r.ended }

func (r *ReplaySource) Poll(tick uint64) (string, bool) {
	if r.next >= len(r.entries) || r.entries[r.next].Tick > tick {
		return "", false
	}
	e := r.entries[r.next]
	r.next++
	return e.Command.String(), true
}

func (r *ReplaySource) Done() bool { return r.next >= len(r.entries) }

// Remaining returns how many recorded commands have not been played yet.
func (r *ReplaySource) Remaining() int { return len(r.entries) - r.next }
