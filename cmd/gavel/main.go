package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/gavel/pkg/datastore"
	"github.com/NicolasHaas/gavel/pkg/ledger"
	"github.com/NicolasHaas/gavel/pkg/logging"
	"github.com/NicolasHaas/gavel/pkg/server"
	"github.com/NicolasHaas/gavel/pkg/version"
)

func main() {
	cfg := server.DefaultConfig()

	// .env is optional; real environment variables win over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "TCP control plane bind address")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database file path")
	flag.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "YAML server file with areas and moderators")
	flag.StringVar(&cfg.Motd, "motd", cfg.Motd, "Message of the day sent to connecting clients")
	flag.DurationVar(&cfg.HelloTimeout, "hello-timeout", cfg.HelloTimeout, "Time a client has to introduce itself")
	flag.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Per-message write deadline")
	flag.BoolVar(&cfg.ExportBans, "export-bans", false, "Export all bans as YAML and exit")
	flag.StringVar(&cfg.HashPassword, "hash-password", "", "Read a password from stdin, print a moderator entry for this name and exit")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: "+logging.LevelNames())
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text or json")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("gavel", version.Full())
		return
	}

	// Configure structured logging
	if err := logging.Setup(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	if cfg.HashPassword != "" {
		if err := hashPassword(cfg.HashPassword); err != nil {
			slog.Error("hash password", "err", err)
			os.Exit(1)
		}
		return
	}

	file := server.DefaultFile()
	if cfg.ConfigFile != "" {
		var err error
		if file, err = server.LoadFile(cfg.ConfigFile); err != nil {
			slog.Error("load server file", "path", cfg.ConfigFile, "err", err)
			os.Exit(1)
		}
	}

	st, err := datastore.NewProviderFactory(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "err", err)
		os.Exit(1)
	}

	// Handle export commands (run and exit)
	if cfg.ExportBans {
		defer st.Close()
		data, err := server.ExportBansYAML(context.Background(), ledger.New(st.NonTx()))
		if err != nil {
			slog.Error("export bans", "err", err)
			os.Exit(1)
		}
		fmt.Print(string(data))
		return
	}

	srv, err := server.New(cfg, server.Dependencies{Store: st, File: file})
	if err != nil {
		slog.Error("server setup", "err", err)
		os.Exit(1)
	}
	slog.Info("starting gavel", "version", version.String())
	if err := srv.Run(context.Background()); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

// hashPassword reads one line from stdin and prints a moderators entry for
// the server file.
func hashPassword(name string) error {
	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read password: %w", err)
	}
	entry, err := server.NewModerator(name, strings.TrimRight(line, "\r\n"))
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(map[string][]server.ModeratorYAML{"moderators": {entry}})
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}
