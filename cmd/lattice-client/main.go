package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/latticesync/lattice/internal/clock"
	"github.com/latticesync/lattice/internal/config"
	"github.com/latticesync/lattice/internal/document"
	"github.com/latticesync/lattice/internal/kv"
	"github.com/latticesync/lattice/internal/logging"
	"github.com/latticesync/lattice/internal/queue"
	"github.com/latticesync/lattice/internal/syncmanager"
	"github.com/latticesync/lattice/internal/transport"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	coordinatorURL := flag.String("coordinator", "ws://localhost:8080/ws", "Coordinator websocket URL")
	dbPath := flag.String("db", "lattice-client.db", "Path to local database")
	clientID := flag.String("client-id", "", "This replica's client id (random if unset)")
	jsonLogs := flag.Bool("json-logs", false, "Emit logs as JSON")
	connectTimeout := flag.Duration("connect-timeout", 3*time.Second, "How long to wait for the initial connection before giving up and working offline")

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	logOpts := logging.DefaultOptions()
	logOpts.JSON = *jsonLogs
	logger := logging.New(logOpts)

	if *clientID == "" {
		*clientID = uuid.NewString()
	}

	cfg := config.Default(
		config.WithDBPath(*dbPath),
		config.WithCoordinatorURL(*coordinatorURL),
		config.WithClientID(*clientID),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mgr, session, store, closeFn, err := bootstrap(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}
	defer closeFn()

	session.Start(ctx)
	waitConnected(session, *connectTimeout)

	command := args[0]
	rest := args[1:]

	var runErr error
	switch command {
	case "set":
		runErr = runSet(ctx, mgr, rest)
	case "get":
		runErr = runGet(ctx, mgr, store, rest)
	case "delete":
		runErr = runDelete(ctx, mgr, rest)
	case "subscribe":
		runErr = runSubscribe(ctx, mgr, rest)
	case "status":
		runErr = runStatus(ctx, mgr, rest)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		os.Exit(1)
	}
}

// bootstrap wires one replica's local storage, offline queue, transport
// session, and sync manager together, matching internal/config's
// ClientConfig. The caller must call session.Start before issuing
// commands and the returned closer once done.
func bootstrap(cfg config.ClientConfig, logger *slog.Logger) (*syncmanager.Manager, *transport.Session, *document.Store, func(), error) {
	boltStore, err := kv.OpenBolt(cfg.DBPath)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open local database: %w", err)
	}

	store := document.NewStore(boltStore)
	q := queue.New(boltStore, cfg.Queue, 0)
	session := transport.New(cfg.CoordinatorURL, cfg.Transport, logger)
	mgr := syncmanager.New(clock.ClientID(cfg.ClientID), store, q, session, cfg.SyncManager, logger)

	mgr.OnSyncState(func(id document.ID, state syncmanager.SyncState) {
		logger.Info("sync state", "document", id, "state", state)
	})

	closeFn := func() {
		session.Close()
		if err := boltStore.Close(); err != nil {
			logger.Error("close local database", "error", err)
		}
	}
	return mgr, session, store, closeFn, nil
}

// waitConnected blocks briefly for the transport to reach Connected so a
// one-shot CLI invocation has a chance to sync before it exits, falling
// back to offline operation (queueing) once timeout elapses.
func waitConnected(session *transport.Session, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if session.State() == transport.StateConnected {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func printVersion() {
	fmt.Printf("Lattice Client\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Print(`Usage: lattice-client [flags] <command> [args]

Commands:
  subscribe <document>                 Subscribe to a document, pulling its current state
  set <document> <field> <json-value>  Write a field locally and sync it
  get <document> <field>               Print a field's current value
  delete <document> <field>            Tombstone a field locally and sync it
  status <document>                    Show pending offline operations for a document
`)
}

func runSubscribe(ctx context.Context, mgr *syncmanager.Manager, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: subscribe <document>")
	}
	doc, err := mgr.SubscribeDocument(ctx, document.ID(args[0]))
	if err != nil {
		return err
	}
	fmt.Printf("subscribed to %s (%d fields)\n", doc.ID, len(doc.Fields))
	return nil
}

func runSet(ctx context.Context, mgr *syncmanager.Manager, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: set <document> <field> <json-value>")
	}
	if _, err := mgr.SubscribeDocument(ctx, document.ID(args[0])); err != nil {
		return err
	}

	var value document.Value
	if err := json.Unmarshal([]byte(args[2]), &value); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	op, err := mgr.SetField(ctx, document.ID(args[0]), document.FieldName(args[1]), value)
	if err != nil {
		return err
	}
	fmt.Printf("set %s.%s at %s\n", op.DocumentID, op.Field, op.Timestamp)
	return nil
}

func runGet(ctx context.Context, mgr *syncmanager.Manager, store *document.Store, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: get <document> <field>")
	}
	if _, err := mgr.SubscribeDocument(ctx, document.ID(args[0])); err != nil {
		return err
	}
	doc, err := store.Open(ctx, document.ID(args[0]))
	if err != nil {
		return err
	}
	value, ok := doc.Get(document.FieldName(args[1]))
	if !ok {
		return fmt.Errorf("field %q is unset or deleted", args[1])
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runDelete(ctx context.Context, mgr *syncmanager.Manager, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: delete <document> <field>")
	}
	if _, err := mgr.SubscribeDocument(ctx, document.ID(args[0])); err != nil {
		return err
	}
	op, err := mgr.DeleteField(ctx, document.ID(args[0]), document.FieldName(args[1]))
	if err != nil {
		return err
	}
	fmt.Printf("deleted %s.%s at %s\n", op.DocumentID, op.Field, op.Timestamp)
	return nil
}

func runStatus(ctx context.Context, mgr *syncmanager.Manager, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: status <document>")
	}
	docID := document.ID(args[0])

	state, err := mgr.GetSyncState(ctx, docID)
	if err != nil {
		return err
	}
	lastSynced := "never"
	if state.LastSyncedAt != nil {
		lastSynced = time.Unix(*state.LastSyncedAt, 0).Format(time.RFC3339)
	}
	fmt.Printf("state=%s last_synced=%s pending=%d", state.State, lastSynced, state.PendingOperations)
	if state.Error != "" {
		fmt.Printf(" error=%q", state.Error)
	}
	fmt.Println()

	stats, err := mgr.PendingOperations(ctx, docID)
	if err != nil {
		return err
	}
	fmt.Printf("pending=%d in_flight=%d failed=%d oldest=%s\n",
		stats.Pending, stats.InFlight, stats.Failed, stats.OldestEnqueuedAt.Format(time.RFC3339))
	return nil
}
