// Command viewer serves recorded arrowblock sessions and tower episodes over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brensch/arrowblock/logging"
	"github.com/brensch/arrowblock/store"
)

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	listen := fs.String("listen", "127.0.0.1:8080", "HTTP listen address")
	dataDirs := fs.String("data-dirs", "episodes", "Comma-separated directories containing episode Parquet files")
	dbPath := fs.String("db", "", "SQLite session index written by arrowblock --db (empty disables sessions)")
	replayRoot := fs.String("replay-root", ".", "Directory relative replay paths are resolved against")
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn, error")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	level, err := logging.ParseLevel(*logLevel)
	if err != nil {
		slog.Error("bad log level", "err", err)
		os.Exit(2)
	}
	logger := slog.New(logging.NewLineHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	roots := parseDataRoots(*dataDirs)
	logger.Info("viewer data roots", "roots", strings.Join(roots, ","))

	var sessions *store.SessionDB
	if *dbPath != "" {
		sessions, err = store.OpenSessionDB(*dbPath)
		if err != nil {
			logger.Error("open session db", "path", *dbPath, "err", err)
			os.Exit(1)
		}
		defer sessions.Close()
	}

	server := NewServer(roots, sessions, *replayRoot, logger)
	defer server.Close()

	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	srv := &http.Server{
		Addr:              *listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("viewer API listening", "addr", "http://"+*listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("serve", "err", err)
		os.Exit(1)
	}
}
