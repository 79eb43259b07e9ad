package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brensch/arrowblock/game"
	"github.com/brensch/arrowblock/store"
)

// newTestServer indexes one finished live session whose replay starts the
// block moving right on a 5x1 grid, plus one session without a replay.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	db, err := store.OpenSessionDB(filepath.Join(dir, "sessions.db"))
	if err != nil {
		t.Fatalf("OpenSessionDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	initial := game.NewBlockState(game.Grid{Width: 5, Height: 1})
	rec, err := store.CreateReplay(filepath.Join(dir, "runs", "s1.jsonl"), "s1", initial, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("CreateReplay: %v", err)
	}
	if err := rec.Append(0, game.Start()); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	t0 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := db.BeginSession(ctx, "s1", "live", filepath.Join("runs", "s1.jsonl"), t0); err != nil {
		t.Fatal(err)
	}
	final := game.BlockState{Grid: initial.Grid, Pos: game.Point{X: 4, Y: 0}, Facing: game.Right, Tick: 5}
	if err := db.EndSession(ctx, "s1", t0.Add(time.Second), 1, final); err != nil {
		t.Fatal(err)
	}
	if err := db.BeginSession(ctx, "s2", "live", "", t0.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	server := NewServer(nil, db, dir, slog.New(slog.DiscardHandler))
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		ts.Close()
		server.Close()
	})
	return ts
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestSessionsList(t *testing.T) {
	ts := newTestServer(t)

	var sessions []SessionSummary
	if code := getJSON(t, ts.URL+"/api/sessions", &sessions); code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	if len(sessions) != 2 || sessions[0].ID != "s2" || sessions[1].ID != "s1" {
		t.Fatalf("sessions=%+v", sessions)
	}
	s1 := sessions[1]
	if s1.EndedAt == nil || s1.Ticks != 5 || s1.Final == nil {
		t.Fatalf("s1=%+v", s1)
	}
	if s1.Final.Board != "+-----+\n|....>|\n+-----+\n" {
		t.Fatalf("final board:\n%s", s1.Final.Board)
	}
	if sessions[0].EndedAt != nil || sessions[0].Final != nil {
		t.Fatalf("running session has an end: %+v", sessions[0])
	}
}

func TestSessionFrames(t *testing.T) {
	ts := newTestServer(t)

	var resp FramesResponse
	if code := getJSON(t, ts.URL+"/api/sessions/s1/frames", &resp); code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	if resp.TickIntervalMs != 20 {
		t.Fatalf("interval=%d", resp.TickIntervalMs)
	}
	// Initial frame, four moves, then the tick that stops at the edge.
	if len(resp.Frames) != 6 {
		for _, f := range resp.Frames {
			t.Logf("tick=%d (%d,%d) moving=%v", f.Tick, f.X, f.Y, f.Moving)
		}
		t.Fatalf("frames=%d want 6", len(resp.Frames))
	}
	if resp.Frames[1].Command != "start" || resp.Frames[1].X != 1 {
		t.Fatalf("first step=%+v", resp.Frames[1])
	}
	last := resp.Frames[len(resp.Frames)-1]
	if last.X != 4 || last.Moving || last.Tick != 5 {
		t.Fatalf("last=%+v", last)
	}
	if !strings.Contains(last.Board, "|....>|") {
		t.Fatalf("last board:\n%s", last.Board)
	}
}

func TestSessionFrames_NotFound(t *testing.T) {
	ts := newTestServer(t)
	if code := getJSON(t, ts.URL+"/api/sessions/nope/frames", nil); code != http.StatusNotFound {
		t.Fatalf("unknown session status=%d", code)
	}
	if code := getJSON(t, ts.URL+"/api/sessions/s2/frames", nil); code != http.StatusNotFound {
		t.Fatalf("session without replay status=%d", code)
	}
}

func TestSessionStream(t *testing.T) {
	ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/sessions/s1?interval_ms=1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var frames []Frame
	for {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("read: %v", err)
			}
			break
		}
		frames = append(frames, f)
	}
	if len(frames) != 6 {
		t.Fatalf("streamed %d frames want 6", len(frames))
	}
	for i := 1; i < len(frames); i++ {
		if frames[i].Tick != frames[i-1].Tick+1 {
			t.Fatalf("frame %d tick=%d after %d", i, frames[i].Tick, frames[i-1].Tick)
		}
	}
}

func TestSessionsWithoutIndex(t *testing.T) {
	server := NewServer(nil, nil, ".", slog.New(slog.DiscardHandler))
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	var sessions []SessionSummary
	if code := getJSON(t, ts.URL+"/api/sessions", &sessions); code != http.StatusOK || len(sessions) != 0 {
		t.Fatalf("status=%d sessions=%v", code, sessions)
	}
	if code := getJSON(t, ts.URL+"/api/sessions/x/frames", nil); code != http.StatusNotFound {
		t.Fatalf("status=%d", code)
	}
}

func TestNormalizeSort(t *testing.T) {
	cases := []struct{ key, dir, wantKey, wantDir string }{
		{"reward", "asc", "total_reward", "asc"},
		{"STEPS", "", "steps", "desc"},
		{"id", "DESC", "episode_id", "desc"},
		{"1; DROP TABLE x", "asc", "file", "desc"},
	}
	for _, c := range cases {
		k, d := normalizeSort(c.key, c.dir)
		if k != c.wantKey || d != c.wantDir {
			t.Fatalf("normalizeSort(%q,%q)=%q,%q want %q,%q", c.key, c.dir, k, d, c.wantKey, c.wantDir)
		}
	}
}

func TestDuckDBListConversion(t *testing.T) {
	xs := asInt32Slice([]any{int32(1), int64(4)})
	ys := asInt32Slice([]any{int32(2), int32(0)})
	hp := asInt32Slice([]any{int32(3)})
	towers := zipTowers(xs, ys, hp)
	if len(towers) != 1 || towers[0].Pos != (Point{X: 1, Y: 2}) || towers[0].Health != 3 {
		t.Fatalf("towers=%+v", towers)
	}
	if asInt32Slice(nil) != nil {
		t.Fatalf("nil list not nil")
	}
}

func TestParseDataRoots(t *testing.T) {
	got := parseDataRoots(" episodes, ,runs/a,episodes ")
	if len(got) != 2 || got[0] != "episodes" || got[1] != "runs/a" {
		t.Fatalf("roots=%v", got)
	}
}

func TestReplayFrames_LongSessionTruncated(t *testing.T) {
	log := store.ReplayLog{
		Initial: game.NewBlockState(game.Grid{Width: 5, Height: 1}),
		Entries: []store.ReplayEntry{{Tick: 0, Command: game.Start()}},
		Ended:   true,
		EndTick: 20,
	}

	// The block stops at the edge on tick 5 but the session sat idle until 20.
	frames, truncated, err := replayFrames(context.Background(), log, 1000)
	if err != nil || truncated {
		t.Fatalf("err=%v truncated=%v", err, truncated)
	}
	if len(frames) != 21 || frames[20].Tick != 20 || frames[20].X != 4 {
		t.Fatalf("frames=%d last=%+v", len(frames), frames[len(frames)-1])
	}

	frames, truncated, err = replayFrames(context.Background(), log, 8)
	if err != nil {
		t.Fatalf("truncated replay failed: %v", err)
	}
	if !truncated || len(frames) != 8 || frames[7].Tick != 7 {
		t.Fatalf("truncated=%v frames=%d", truncated, len(frames))
	}
}
