package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/latticesync/lattice/internal/config"
	"github.com/latticesync/lattice/internal/coordinator"
	"github.com/latticesync/lattice/internal/coordinator/httpmw"
	"github.com/latticesync/lattice/internal/coordinator/storage/sqlite"
	"github.com/latticesync/lattice/internal/logging"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	listenAddr := flag.String("listen", ":8080", "HTTP listen address")
	sqlitePath := flag.String("db", "coordinator.db", "Path to the coordinator's sqlite database")
	jsonLogs := flag.Bool("json-logs", false, "Emit logs as JSON")

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	logOpts := logging.DefaultOptions()
	logOpts.JSON = *jsonLogs
	logger := logging.New(logOpts)

	cfg := config.DefaultCoordinator()
	cfg.ListenAddr = *listenAddr
	cfg.SQLitePath = *sqlitePath

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	storage, err := sqlite.Open(ctx, cfg.SQLitePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := storage.Close(); err != nil {
			logger.Error("close database", "error", err)
		}
	}()

	srv := coordinator.New(storage, logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", srv)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := httpmw.Logging(logger)(httpmw.Recovery(logger)(mux))

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("coordinator listening", "addr", cfg.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
	}
}

func printVersion() {
	fmt.Printf("Lattice Coordinator\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
