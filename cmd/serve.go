package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/jcdickinson/cratedoc/internal/cas"
	"github.com/jcdickinson/cratedoc/internal/config"
	"github.com/jcdickinson/cratedoc/internal/daemon"
	"github.com/jcdickinson/cratedoc/internal/mcp"
	"github.com/jcdickinson/cratedoc/internal/store"
	"github.com/jcdickinson/cratedoc/internal/walker"
)

var debug bool

var rootCmd = &cobra.Command{
	Use:   "cratedoc",
	Short: "Rust crate documentation extractor and MCP server",
	Long: `Extract documentation from local Rust crate sources: items, doc comments,
signatures and resolved cross-references. Without a subcommand, runs an MCP
server on stdio backed by the background daemon.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	Run: runServe,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging; run the daemon in-process (visible log output)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(lookupCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(clearCacheCmd)
}

// setupLogging installs a tint handler on stderr; stdout carries MCP traffic
// and command output.
func setupLogging() {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	})))
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

// parseRoot accepts a crate given as [name=]path.
func parseRoot(arg string) walker.Root {
	if name, path, ok := strings.Cut(arg, "="); ok {
		return walker.Root{Name: name, Path: config.ExpandPath(path)}
	}
	return walker.Root{Path: config.ExpandPath(arg)}
}

// openStore opens the DuckDB store when it is enabled. It returns nil, nil
// when the store is disabled.
func openStore(cfg *config.Config) (*store.DB, error) {
	if !cfg.Store.Enabled {
		return nil, nil
	}
	return store.New(config.DBPath())
}

// connectDaemon returns a daemon client. In debug mode, starts the daemon
// in-process so all log output is visible in the terminal.
func connectDaemon() (*daemon.Client, error) {
	socketPath := config.SocketPath()

	if !debug {
		return daemon.ConnectOrSpawn(socketPath)
	}

	// In debug mode: stop any existing daemon, then start in-process
	client := daemon.NewClient(socketPath)
	if client.IsAvailable() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client.Shutdown(shutdownCtx)
		cancel()
		time.Sleep(200 * time.Millisecond)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	database, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	srv, err := daemon.NewServer(cfg, database, cas.Default(), socketPath)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := srv.Start(context.Background()); err != nil {
			slog.Error("in-process daemon error", "error", err)
		}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
		if client.IsAvailable() {
			return client, nil
		}
	}

	return nil, fmt.Errorf("in-process daemon did not start within 5 seconds")
}

func runServe(cmd *cobra.Command, args []string) {
	var server *mcp.Server
	if debug {
		client, err := connectDaemon()
		if err != nil {
			fatal("failed to start daemon", err)
		}
		server = mcp.New(client)
	} else {
		var err error
		server, err = mcp.NewServer(config.SocketPath())
		if err != nil {
			fatal("failed to create MCP server", err)
		}
	}

	errCh := make(chan error)
	go func() { errCh <- server.Run() }()

	if err := waitForSignal(errCh); err != nil {
		fatal("server error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(ctx)
}

func waitForSignal(errCh chan error) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		slog.Info("received signal", "signal", sig)
		return nil
	case err := <-errCh:
		return err
	}
}
