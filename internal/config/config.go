// Package config holds the plain settings structs used to configure a
// replica: a Default constructor plus functional-option overrides,
// rather than a config-file framework.
package config

import (
	"time"

	"github.com/latticesync/lattice/internal/queue"
	"github.com/latticesync/lattice/internal/syncmanager"
	"github.com/latticesync/lattice/internal/transport"
)

// ClientConfig bundles every tunable a client replica needs at
// startup.
type ClientConfig struct {
	DBPath           string
	CoordinatorURL   string
	ClientID         string
	Queue            queue.Config
	Transport        transport.Settings
	SyncManager      syncmanager.Config
}

// Option mutates a ClientConfig being built by Default.
type Option func(*ClientConfig)

// Default returns a ClientConfig with sensible defaults for an
// interactive client, then applies opts in order.
func Default(opts ...Option) ClientConfig {
	cfg := ClientConfig{
		DBPath:      "lattice.db",
		Queue:       queue.DefaultConfig(),
		Transport:   transport.DefaultSettings(),
		SyncManager: syncmanager.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithDBPath overrides the local storage file path.
func WithDBPath(path string) Option {
	return func(c *ClientConfig) { c.DBPath = path }
}

// WithCoordinatorURL overrides the coordinator websocket URL.
func WithCoordinatorURL(url string) Option {
	return func(c *ClientConfig) { c.CoordinatorURL = url }
}

// WithClientID overrides the replica's client identifier.
func WithClientID(id string) Option {
	return func(c *ClientConfig) { c.ClientID = id }
}

// WithHeartbeatInterval overrides the transport's heartbeat cadence.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *ClientConfig) { c.Transport.HeartbeatInterval = d }
}

// CoordinatorConfig bundles the reference coordinator's settings.
type CoordinatorConfig struct {
	ListenAddr string
	SQLitePath string
}

// DefaultCoordinator returns sensible coordinator defaults.
func DefaultCoordinator() CoordinatorConfig {
	return CoordinatorConfig{ListenAddr: ":8080", SQLitePath: "coordinator.db"}
}
