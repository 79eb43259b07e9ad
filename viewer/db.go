package main

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
)

// DBCache maintains a cached DuckDB connection over the episode Parquet
// files, reopened periodically so new files show up.
type DBCache struct {
	roots       []string
	refreshRate time.Duration
	logger      *slog.Logger

	mu          sync.RWMutex
	db          *sql.DB
	lastRefresh time.Time
}

func NewDBCache(roots []string, refreshRate time.Duration, logger *slog.Logger) *DBCache {
	return &DBCache{
		roots:       roots,
		refreshRate: refreshRate,
		logger:      logger,
	}
}

// Get returns the cached DB connection, refreshing if it is stale.
func (c *DBCache) Get() (*sql.DB, error) {
	c.mu.RLock()
	if c.db != nil && time.Since(c.lastRefresh) < c.refreshRate {
		db := c.db
		c.mu.RUnlock()
		return db, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if c.db != nil && time.Since(c.lastRefresh) < c.refreshRate {
		return c.db, nil
	}
	return c.refreshLocked()
}

func (c *DBCache) refreshLocked() (*sql.DB, error) {
	start := time.Now()
	newDB, err := openDuckDBWithGlobs(c.roots)
	if err != nil {
		return nil, err
	}
	if c.db != nil {
		_ = c.db.Close()
	}
	c.db = newDB
	c.lastRefresh = time.Now()
	c.logger.Debug("episode db refreshed", "took", time.Since(start))
	return c.db, nil
}

func (c *DBCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		err := c.db.Close()
		c.db = nil
		return err
	}
	return nil
}

// openDuckDBWithGlobs creates an in-memory DuckDB with an `episodes` view over
// every Parquet file under roots. Files still in a tmp/ directory are skipped.
func openDuckDBWithGlobs(roots []string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, err
	}

	globs := make([]string, 0, len(roots))
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		glob := filepath.Join(root, "**", "*.parquet")
		globs = append(globs, "'"+escapeSQLString(glob)+"'")
	}

	if len(globs) == 0 {
		_, err := db.Exec(`CREATE OR REPLACE VIEW episodes AS
			SELECT * FROM (
				SELECT
					NULL::VARCHAR AS episode_id,
					NULL::VARCHAR AS agent,
					NULL::INTEGER AS step,
					NULL::INTEGER AS width,
					NULL::INTEGER AS height,
					NULL::INTEGER AS agent_x,
					NULL::INTEGER AS agent_y,
					NULL::INTEGER[] AS tower_x,
					NULL::INTEGER[] AS tower_y,
					NULL::INTEGER[] AS tower_health,
					NULL::VARCHAR AS action,
					NULL::VARCHAR AS direction,
					NULL::INTEGER AS target,
					NULL::REAL AS reward,
					NULL::BOOLEAN AS done,
					NULL::VARCHAR AS filename
			) WHERE 1=0`)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	}

	sqlText := `CREATE OR REPLACE VIEW episodes AS
		SELECT * FROM read_parquet([` + strings.Join(globs, ",") + `], filename=true, union_by_name=true)
		WHERE NOT contains(filename, '/tmp/')`
	if _, err := db.Exec(sqlText); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func escapeSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// normalizeSort maps user-facing keys to column aliases. The result is
// concatenated into SQL, so only fixed values may come out.
func normalizeSort(sortKey, sortDir string) (string, string) {
	sk := strings.ToLower(strings.TrimSpace(sortKey))
	sd := strings.ToLower(strings.TrimSpace(sortDir))
	if sd != "asc" && sd != "desc" {
		sd = "desc"
	}
	switch sk {
	case "id", "episode", "episode_id":
		sk = "episode_id"
	case "steps":
		sk = "steps"
	case "reward", "total_reward":
		sk = "total_reward"
	case "attacks":
		sk = "attacks"
	case "agent":
		sk = "agent"
	case "file", "filename":
		sk = "file"
	default:
		sk = "file"
		sd = "desc"
	}
	return sk, sd
}

func queryEpisodesTotal(ctx context.Context, db *sql.DB) (int64, error) {
	var total int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT episode_id) FROM episodes`).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func queryEpisodes(ctx context.Context, db *sql.DB, limit, offset int, sortKey, sortDir string) ([]EpisodeSummary, error) {
	sk, sd := normalizeSort(sortKey, sortDir)
	query := `SELECT
			episode_id,
			MIN(agent)::VARCHAR AS agent,
			COUNT(*)::INTEGER AS steps,
			MIN(width)::INTEGER AS width,
			MIN(height)::INTEGER AS height,
			MAX(len(tower_x))::INTEGER AS towers,
			SUM(reward)::DOUBLE AS total_reward,
			(COUNT(*) FILTER (WHERE action = 'attack'))::INTEGER AS attacks,
			MIN(filename)::VARCHAR AS file
		FROM episodes
		GROUP BY episode_id
		ORDER BY ` + sk + ` ` + sd + `, episode_id
		LIMIT ? OFFSET ?`

	rows, err := db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]EpisodeSummary, 0)
	for rows.Next() {
		var e EpisodeSummary
		if err := rows.Scan(&e.EpisodeID, &e.Agent, &e.Steps, &e.Width, &e.Height, &e.Towers, &e.TotalReward, &e.Attacks, &e.SourceFile); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// queryEpisodeSteps returns sql.ErrNoRows when the episode has no rows.
func queryEpisodeSteps(ctx context.Context, db *sql.DB, episodeID string) ([]EpisodeStep, error) {
	rows, err := db.QueryContext(ctx, `SELECT
			step, agent_x, agent_y, tower_x, tower_y, tower_health,
			action, direction, target, reward, done
		FROM episodes
		WHERE episode_id = ?
		ORDER BY step`, episodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EpisodeStep
	for rows.Next() {
		var (
			s          EpisodeStep
			tx, ty, th any
			direction  sql.NullString
		)
		if err := rows.Scan(&s.Step, &s.Agent.X, &s.Agent.Y, &tx, &ty, &th, &s.Action, &direction, &s.Target, &s.Reward, &s.Done); err != nil {
			return nil, err
		}
		s.Direction = direction.String
		s.Towers = zipTowers(asInt32Slice(tx), asInt32Slice(ty), asInt32Slice(th))
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, sql.ErrNoRows
	}
	return out, nil
}
