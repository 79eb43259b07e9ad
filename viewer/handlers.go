package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brensch/arrowblock/store"
)

var errNoReplay = errors.New("session has no replay log")

// Server holds shared state for HTTP handlers.
type Server struct {
	dbCache    *DBCache
	sessions   *store.SessionDB // nil when no session index is configured
	replayRoot string           // relative replay paths are resolved against this
	logger     *slog.Logger
	maxFrames  int

	upgrader websocket.Upgrader
}

func NewServer(roots []string, sessions *store.SessionDB, replayRoot string, logger *slog.Logger) *Server {
	return &Server{
		dbCache:    NewDBCache(roots, 30*time.Second, logger),
		sessions:   sessions,
		replayRoot: replayRoot,
		logger:     logger,
		maxFrames:  maxReplayFrames,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes sets up all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/episodes", s.handleEpisodes)
	mux.HandleFunc("/api/episodes/{id}/steps", s.handleEpisodeSteps)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/{id}/frames", s.handleSessionFrames)
	mux.HandleFunc("/ws/sessions/{id}", s.handleSessionStream)
}

func (s *Server) Close() error {
	return s.dbCache.Close()
}

// allowGet applies CORS and rejects anything but GET. It reports whether the
// handler should continue.
func allowGet(w http.ResponseWriter, r *http.Request) bool {
	withCORS(w, r)
	if r.Method == http.MethodOptions {
		return false
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (s *Server) handleEpisodes(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	db, err := s.dbCache.Get()
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to open episode db: %v", err), http.StatusInternalServerError)
		return
	}

	limit := parseIntQuery(r, "limit", 200)
	offset := parseIntQuery(r, "offset", 0)
	sortKey := strings.TrimSpace(r.URL.Query().Get("sort"))
	sortDir := strings.TrimSpace(r.URL.Query().Get("dir"))

	total, err := queryEpisodesTotal(r.Context(), db)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	episodes, err := queryEpisodes(r.Context(), db, limit, offset, sortKey, sortDir)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, EpisodesResponse{Total: total, Episodes: episodes})
}

func (s *Server) handleEpisodeSteps(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	db, err := s.dbCache.Get()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	steps, err := queryEpisodeSteps(r.Context(), db, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, steps)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	if s.sessions == nil {
		writeJSON(w, []SessionSummary{})
		return
	}
	recs, err := s.sessions.ListSessions(r.Context(), parseIntQuery(r, "limit", 50))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]SessionSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, sessionSummary(rec))
	}
	writeJSON(w, out)
}

func sessionSummary(rec store.SessionRecord) SessionSummary {
	sum := SessionSummary{
		ID:         rec.ID,
		Mode:       rec.Mode,
		ReplayPath: rec.ReplayPath,
		StartedAt:  rec.StartedAt,
		Ticks:      rec.Ticks,
		Commands:   rec.Commands,
	}
	if !rec.EndedAt.IsZero() {
		ended := rec.EndedAt
		sum.EndedAt = &ended
	}
	if rec.FinalState != nil {
		sum.Final = finalFrame(*rec.FinalState)
	}
	return sum
}

func (s *Server) loadReplay(ctx context.Context, id string) (store.ReplayLog, error) {
	if s.sessions == nil {
		return store.ReplayLog{}, store.ErrSessionNotFound
	}
	rec, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		return store.ReplayLog{}, err
	}
	if rec.ReplayPath == "" {
		return store.ReplayLog{}, errNoReplay
	}
	path := rec.ReplayPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.replayRoot, path)
	}
	return store.ReadReplay(path)
}

// replayStatus maps a loadReplay error to an HTTP status.
func replayStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrSessionNotFound), errors.Is(err, errNoReplay):
		return http.StatusNotFound
	case errors.Is(err, store.ErrCorruptState):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) handleSessionFrames(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	id := r.PathValue("id")
	log, err := s.loadReplay(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), replayStatus(err))
		return
	}
	frames, truncated, err := replayFrames(r.Context(), log, s.maxFrames)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if truncated {
		s.logger.Info("replay frames truncated", "session", id, "frames", len(frames))
	}
	writeJSON(w, FramesResponse{
		SessionID:      id,
		TickIntervalMs: log.TickInterval.Milliseconds(),
		Frames:         frames,
		Truncated:      truncated,
	})
}

// handleSessionStream plays a session's frames over a websocket at the
// recorded tick interval. interval_ms overrides the pace (0 sends them all at once).
func (s *Server) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	log, err := s.loadReplay(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), replayStatus(err))
		return
	}
	interval := log.TickInterval
	if r.URL.Query().Has("interval_ms") {
		interval = time.Duration(parseIntQuery(r, "interval_ms", 0)) * time.Millisecond
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The client never sends anything; reading only notices the close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	frames, truncated, err := replayFrames(ctx, log, s.maxFrames)
	if err != nil {
		s.logger.Warn("replay frames", "session", id, "err", err)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "replay failed"), time.Now().Add(time.Second))
		return
	}

	for i, f := range frames {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
		}
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(f); err != nil {
			s.logger.Debug("stream write", "session", id, "err", err)
			return
		}
	}
	reason := "done"
	if truncated {
		reason = "truncated"
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason), time.Now().Add(time.Second))
}
