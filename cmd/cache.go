package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jcdickinson/cratedoc/internal/cas"
	"github.com/jcdickinson/cratedoc/internal/config"
	"github.com/jcdickinson/cratedoc/internal/daemon"
)

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Clear cached builds, snapshots, stored pages and the index database",
	Run:   runClearCache,
}

func runClearCache(cmd *cobra.Command, args []string) {
	client := daemon.NewClient(config.SocketPath())
	if client.IsAvailable() {
		if err := client.ClearCache(context.Background()); err != nil {
			fatal("failed to clear cache", err)
		}
		fmt.Println("daemon caches cleared")
		return
	}

	// No daemon holds the database; clear the files directly.
	cfg, err := config.Load()
	if err != nil {
		fatal("failed to load config", err)
	}
	errs := []error{cas.Default().Clear()}
	if err := os.RemoveAll(config.SnapshotDir()); err != nil {
		errs = append(errs, err)
	}
	if db, err := openStore(cfg); err != nil {
		errs = append(errs, err)
	} else if db != nil {
		errs = append(errs, db.Clear(), db.Close())
	}
	if err := errors.Join(errs...); err != nil {
		fatal("failed to clear cache", err)
	}
	fmt.Println("caches cleared")
}
