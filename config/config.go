// Package config resolves runtime settings for the arrowblock binary.
//
// Precedence, lowest first: built-in defaults, the YAML file named by
// --config (or ARROWBLOCK_CONFIG), ARROWBLOCK_* environment variables, flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "ARROWBLOCK_"

type Config struct {
	TickRate   float64 `yaml:"tick_rate"` // seconds per tick
	GridWidth  int     `yaml:"grid_width"`
	GridHeight int     `yaml:"grid_height"`

	Replay    string `yaml:"replay"`     // play this log instead of reading input
	Record    string `yaml:"record"`     // write a replay log of the live session here
	StateFile string `yaml:"state_file"` // state saved here on quit
	LoadState string `yaml:"load_state"` // start from this saved state

	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`
	DBPath   string `yaml:"db_path"` // session index; empty disables it

	Headless bool `yaml:"headless"` // replay only: skip the TUI and print the final state
}

func Default() Config {
	return Config{
		TickRate:   0.2,
		GridWidth:  10,
		GridHeight: 10,
		StateFile:  "latest_game.json",
		LogFile:    "game.log",
		LogLevel:   "debug",
	}
}

// TickInterval converts TickRate to a duration.
func (c Config) TickInterval() time.Duration {
	return time.Duration(c.TickRate * float64(time.Second))
}

func (c Config) Validate() error {
	if c.TickRate <= 0 {
		return fmt.Errorf("tick rate must be positive, got %v", c.TickRate)
	}
	if c.TickInterval() < time.Millisecond {
		return fmt.Errorf("tick rate %v is below 1ms", c.TickRate)
	}
	if c.GridWidth <= 0 || c.GridHeight <= 0 {
		return fmt.Errorf("grid must be at least 1x1, got %dx%d", c.GridWidth, c.GridHeight)
	}
	if c.Replay != "" && c.Record != "" && c.Replay == c.Record {
		return fmt.Errorf("replay and record paths are the same: %s", c.Replay)
	}
	if c.Headless && c.Replay == "" {
		return fmt.Errorf("--headless requires --replay")
	}
	return nil
}

// LoadFile overlays the YAML file at path onto base. Keys missing from the
// file keep base's values.
func LoadFile(path string, base Config) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return base, err
	}
	cfg := base
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return base, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse resolves the configuration for args (without the program name).
// getenv is usually os.Getenv.
func Parse(args []string, getenv func(string) string, usageOut io.Writer) (Config, error) {
	cfg := Default()

	configPath := configPathFromArgs(args)
	if configPath == "" {
		configPath = getenv(envPrefix + "CONFIG")
	}
	if configPath != "" {
		var err error
		if cfg, err = LoadFile(configPath, cfg); err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
	}

	env := &envReader{getenv: getenv}
	fs := flag.NewFlagSet("arrowblock", flag.ContinueOnError)
	fs.SetOutput(usageOut)
	fs.String("config", configPath, "YAML config file")
	fs.Float64Var(&cfg.TickRate, "tick-rate", env.getFloat("TICK_RATE", cfg.TickRate), "Seconds per game tick")
	fs.IntVar(&cfg.GridWidth, "grid-width", env.getInt("GRID_WIDTH", cfg.GridWidth), "Width of the game grid")
	fs.IntVar(&cfg.GridHeight, "grid-height", env.getInt("GRID_HEIGHT", cfg.GridHeight), "Height of the game grid")
	fs.StringVar(&cfg.Replay, "replay", env.getString("REPLAY", cfg.Replay), "Play back this replay log instead of reading input")
	fs.StringVar(&cfg.Record, "record", env.getString("RECORD", cfg.Record), "Record the live session to this replay log (.zst to compress)")
	fs.StringVar(&cfg.StateFile, "state", env.getString("STATE_FILE", cfg.StateFile), "Save the final state here on quit (empty disables)")
	fs.StringVar(&cfg.LoadState, "load", env.getString("LOAD_STATE", cfg.LoadState), "Start from a saved state file")
	fs.StringVar(&cfg.LogFile, "log-file", env.getString("LOG_FILE", cfg.LogFile), "Log file (truncated on start)")
	fs.StringVar(&cfg.LogLevel, "log-level", env.getString("LOG_LEVEL", cfg.LogLevel), "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.DBPath, "db", env.getString("DB", cfg.DBPath), "SQLite session index (empty disables)")
	fs.BoolVar(&cfg.Headless, "headless", env.getBool("HEADLESS", cfg.Headless), "With --replay: run without the TUI and print the final state")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() > 0 {
		return cfg, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if err := errors.Join(env.errs...); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// configPathFromArgs finds --config before the flag set exists, since the
// file supplies the flag defaults.
func configPathFromArgs(args []string) string {
	for i, a := range args {
		if a == "--" {
			break
		}
		name, val, hasVal := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if !strings.HasPrefix(a, "-") || name != "config" {
			continue
		}
		if hasVal {
			return val
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// envReader looks up ARROWBLOCK_* variables. Values that do not parse are
// collected in errs rather than silently replaced by the default.
type envReader struct {
	getenv func(string) string
	errs   []error
}

func (e *envReader) getString(key, defaultVal string) string {
	if val := e.getenv(envPrefix + key); val != "" {
		return val
	}
	return defaultVal
}

func (e *envReader) getInt(key string, defaultVal int) int {
	val := e.getenv(envPrefix + key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s=%q: not an integer", envPrefix, key, val))
		return defaultVal
	}
	return i
}

func (e *envReader) getFloat(key string, defaultVal float64) float64 {
	val := e.getenv(envPrefix + key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s=%q: not a number", envPrefix, key, val))
		return defaultVal
	}
	return f
}

func (e *envReader) getBool(key string, defaultVal bool) bool {
	val := e.getenv(envPrefix + key)
	switch strings.ToLower(val) {
	case "":
		return defaultVal
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	e.errs = append(e.errs, fmt.Errorf("%s%s=%q: not a boolean", envPrefix, key, val))
	return defaultVal
}
