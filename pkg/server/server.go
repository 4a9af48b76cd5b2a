// Package server implements the gavel server: the control connection
// handshake, slash command dispatch, the IC message pipeline and metrics.
package server

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/NicolasHaas/gavel/pkg/area"
	"github.com/NicolasHaas/gavel/pkg/datastore"
	"github.com/NicolasHaas/gavel/pkg/ledger"
	"github.com/NicolasHaas/gavel/pkg/moderation"
)

// Config holds server configuration. Fields with an env tag can be
// overridden from the environment.
type Config struct {
	ListenAddr   string        `env:"GAVEL_LISTEN"`        // TCP bind address (e.g. ":27016")
	MetricsAddr  string        `env:"GAVEL_METRICS"`       // HTTP bind address for /metrics (empty = disabled)
	DBPath       string        `env:"GAVEL_DB"`            // SQLite database path
	ConfigFile   string        `env:"GAVEL_CONFIG"`        // YAML server file: areas, moderators, ban duration
	Motd         string        `env:"GAVEL_MOTD"`          // message of the day sent on connect
	HelloTimeout time.Duration `env:"GAVEL_HELLO_TIMEOUT"` // time a client has to introduce itself
	WriteTimeout time.Duration `env:"GAVEL_WRITE_TIMEOUT"` // per-message write deadline
	LogLevel     string        `env:"GAVEL_LOG_LEVEL"`
	LogFormat    string        `env:"GAVEL_LOG_FORMAT"`

	// CLI-only actions (run and exit)
	ExportBans   bool   // export all bans as YAML and exit
	HashPassword string // print a moderator entry for this name and exit
}

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Store and will Close() it on shutdown.
type Dependencies struct {
	Store datastore.DataProviderFactory
	File  *File            // nil = DefaultFile()
	Clock func() time.Time // nil = wall clock
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   ":27016",
		MetricsAddr:  ":27017",
		DBPath:       "gavel.db",
		HelloTimeout: 10 * time.Second,
		WriteTimeout: 5 * time.Second,
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// Server is the main gavel server.
type Server struct {
	cfg      Config
	sessions *SessionManager
	areas    *area.Manager
	ledger   *ledger.Ledger
	mod      *moderation.Service
	metrics  *Metrics
	store    datastore.DataProviderFactory
	commands map[string]command

	mu       sync.Mutex
	listener net.Listener
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("server: missing store dependency")
	}
	file := deps.File
	if file == nil {
		file = DefaultFile()
	}
	areaCfgs, err := file.AreaConfigs()
	if err != nil {
		return nil, err
	}
	profiles, err := file.Profiles()
	if err != nil {
		return nil, err
	}
	banDuration, err := file.BanDuration()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		metrics: NewMetrics(),
		store:   deps.Store,
	}
	s.areas, err = area.NewManager(areaCfgs, s)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	s.sessions = NewSessionManager(s.areas)
	s.sessions.moved = s.onMoved
	s.ledger = ledger.New(deps.Store.NonTx(),
		ledger.WithDefaultDuration(banDuration),
		ledger.WithClock(deps.Clock),
	)
	s.mod = moderation.New(moderation.Dependencies{
		Registry: s.sessions,
		Areas:    s.areas,
		Ledger:   s.ledger,
		Log:      deps.Store.NonTx(),
		Notifier: s,
		Observer: s.metrics,
		Profiles: profiles,
	})
	s.commands = s.commandTable()
	return s, nil
}

// Sessions returns the session manager.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// Areas returns the area registry.
func (s *Server) Areas() *area.Manager {
	return s.areas
}

// Ledger returns the ban ledger.
func (s *Server) Ledger() *ledger.Ledger {
	return s.ledger
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}
