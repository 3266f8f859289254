package cmd

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jcdickinson/cratedoc/internal/cas"
	"github.com/jcdickinson/cratedoc/internal/config"
	"github.com/jcdickinson/cratedoc/internal/daemon"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background daemon (usually spawned automatically)",
	Run:   runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) {
	logPath := config.LogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		fatal("failed to create log directory", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fatal("failed to open log file", err)
	}
	defer logFile.Close()
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load()
	if err != nil {
		fatal("failed to load config", err)
	}

	database, err := openStore(cfg)
	if err != nil {
		fatal("failed to open database", err)
	}

	srv, err := daemon.NewServer(cfg, database, cas.Default(), config.SocketPath())
	if err != nil {
		fatal("failed to create daemon", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		fatal("daemon failed", err)
	}
}
