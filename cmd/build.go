package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/jcdickinson/cratedoc/internal/config"
	"github.com/jcdickinson/cratedoc/internal/emit"
	"github.com/jcdickinson/cratedoc/internal/index"
	"github.com/jcdickinson/cratedoc/internal/pipeline"
)

var buildCmd = &cobra.Command{
	Use:   "build [[name=]path ...]",
	Short: "Extract documentation and write the output tree",
	Long: `Build the documentation index of the given crates in-process and write
the output tree as JSON. Without arguments the crates in the config file are
built. Diagnostics are logged to stderr.`,
	Example: `  cratedoc build ./mycrate > docs.json
  cratedoc build --out docs.json.zst --snapshot ./a ./b
  cratedoc build --strict ~/src/geo`,
	Run: runBuild,
}

var (
	buildOut      string
	buildSnapshot bool
	buildStrict   bool
	buildWorkers  int
	buildScheme   string
	buildWerror   bool
)

func init() {
	buildCmd.Flags().StringVarP(&buildOut, "out", "o", "-", "output file (- for stdout)")
	buildCmd.Flags().BoolVar(&buildSnapshot, "snapshot", false, "write a zstd-compressed snapshot instead of indented JSON")
	buildCmd.Flags().BoolVar(&buildStrict, "strict", false, "fail when a declared module file is missing")
	buildCmd.Flags().IntVar(&buildWorkers, "workers", 0, "parallel workers (default from config, then GOMAXPROCS)")
	buildCmd.Flags().StringVar(&buildScheme, "link-scheme", "", "prefix for item links in doc text (default from config)")
	buildCmd.Flags().BoolVar(&buildWerror, "fail-on-warnings", false, "exit non-zero when any diagnostic is reported")

	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		fatal("failed to load config", err)
	}
	crates, err := roots(args)
	if err != nil {
		fatal("failed to load crates", err)
	}
	if cmd.Flags().Changed("strict") {
		cfg.Build.Strict = buildStrict
	}
	if buildWorkers > 0 {
		cfg.Build.Workers = buildWorkers
	}
	if buildScheme != "" {
		cfg.Build.LinkScheme = buildScheme
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := pipeline.New(afero.NewOsFs(),
		pipeline.WithStrict(cfg.Build.Strict),
		pipeline.WithWorkers(cfg.Build.Workers),
		pipeline.WithLinkScheme(cfg.Build.LinkScheme),
		pipeline.WithProgress(func(ev pipeline.Event) {
			if ev.Crate != "" {
				slog.Debug("walked crate", "crate", ev.Crate, "done", ev.Done, "total", ev.Total)
				return
			}
			slog.Debug("build state", "state", ev.State)
		}),
	)
	out, err := p.Run(ctx, crates)
	if err != nil {
		fatal("build failed", err)
	}

	for _, d := range out.Diagnostics {
		level := slog.LevelWarn
		if d.Severity == index.SeverityError {
			level = slog.LevelError
		}
		slog.Log(ctx, level, d.Message, "code", d.Code, "location", d.Location.String())
	}

	if err := writeOutput(out); err != nil {
		fatal("failed to write output", err)
	}
	if buildWerror && len(out.Diagnostics) > 0 {
		os.Exit(2)
	}
}

func writeOutput(out *emit.Output) error {
	write := emit.WriteJSON
	if buildSnapshot {
		write = emit.WriteSnapshot
	}
	if buildOut == "-" {
		return write(os.Stdout, out)
	}
	f, err := os.Create(buildOut)
	if err != nil {
		return fmt.Errorf("creating %s: %w", buildOut, err)
	}
	if err := write(f, out); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
