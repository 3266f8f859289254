package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jcdickinson/cratedoc/internal/config"
	"github.com/jcdickinson/cratedoc/internal/daemon"
	"github.com/jcdickinson/cratedoc/internal/rpc"
	"github.com/jcdickinson/cratedoc/internal/walker"
)

var addCmd = &cobra.Command{
	Use:   "add [[name=]path ...]",
	Short: "Index crates in the background daemon",
	Long: `Add crates to the daemon's crate set and rebuild the index. A path is a
crate directory containing Cargo.toml, or a crate's entry file. With --replace
the crate set becomes exactly the given crates; with no crates at all it is
reset to the crates in the config file.`,
	Example: `  cratedoc add ./mycrate
  cratedoc add ~/src/geo core=~/src/geo-core/src/lib.rs
  cratedoc add --replace`,
	Run: runAdd,
}

var (
	addReplace bool
	addStrict  bool
)

func init() {
	addCmd.Flags().BoolVar(&addReplace, "replace", false, "replace the crate set instead of adding to it")
	addCmd.Flags().BoolVar(&addStrict, "strict", false, "fail when a declared module file is missing")
}

func runAdd(cmd *cobra.Command, args []string) {
	req := rpc.BuildRequest{Replace: addReplace || len(args) == 0, Strict: addStrict}
	for _, arg := range args {
		req.Crates = append(req.Crates, parseRoot(arg))
	}

	client, err := connectDaemon()
	if err != nil {
		fatal("failed to connect to daemon", err)
	}

	resp, err := client.Build(context.Background(), req, func(line rpc.ProgressLine) {
		fmt.Printf("  %s\n", line.Message)
	})
	if err != nil {
		fatal("failed to build", err)
	}

	for _, c := range resp.Crates {
		partial := ""
		if c.Partial {
			partial = " (partial)"
		}
		fmt.Printf("  %s@%s: %d items indexed%s\n", c.Name, c.Version, c.Items, partial)
	}
	for _, d := range resp.Diagnostics {
		fmt.Printf("  %s %s: %s (%s)\n", d.Severity, d.Code, d.Message, d.Location)
	}
}

var lookupCmd = &cobra.Command{
	Use:   "lookup <name or path>",
	Short: "Find indexed items by name or path suffix",
	Example: `  cratedoc lookup Point
  cratedoc lookup geom::Point
  cratedoc lookup --limit 5 new`,
	Args: cobra.ExactArgs(1),
	Run:  runLookup,
}

var lookupLimit int

func init() {
	lookupCmd.Flags().IntVar(&lookupLimit, "limit", 20, "max results")
}

func runLookup(cmd *cobra.Command, args []string) {
	client, err := connectDaemon()
	if err != nil {
		fatal("failed to connect to daemon", err)
	}

	resp, err := client.Lookup(context.Background(), rpc.LookupRequest{Query: args[0], Limit: lookupLimit})
	if err != nil {
		fatal("lookup failed", err)
	}

	if len(resp.Results) == 0 {
		fmt.Println("no results")
		return
	}

	for i, r := range resp.Results {
		fmt.Printf("%d. %s (%s) %s\n", i+1, r.Path, r.Kind, r.URI)
		if r.Summary != "" {
			fmt.Printf("   %s\n", r.Summary)
		}
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show indexed crates and daemon state",
	Run:   runStatus,
}

var statusJSON bool

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) {
	client, err := connectDaemon()
	if err != nil {
		fatal("failed to connect to daemon", err)
	}

	resp, err := client.Status(context.Background())
	if err != nil {
		fatal("status failed", err)
	}

	if statusJSON {
		out, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(out))
		return
	}

	fmt.Printf("state: %s\n", resp.State)
	if resp.Hash != "" {
		fmt.Printf("index: %s (%d items, %d links, %d unresolved)\n",
			resp.Hash, resp.Stats.Items, resp.Stats.Links, resp.Stats.Unresolved)
	}
	if len(resp.Crates) == 0 {
		fmt.Println("no crates indexed")
		return
	}

	for _, c := range resp.Crates {
		state := "processing"
		if c.Processed {
			state = "ready"
		}
		if c.Partial {
			state += ", partial"
		}
		fmt.Printf("  %s@%s [%s] %d items\n", c.Name, c.Version, state, c.Items)
	}
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background daemon",
	Run:   runStop,
}

func runStop(cmd *cobra.Command, args []string) {
	client := daemon.NewClient(config.SocketPath())
	if !client.IsAvailable() {
		fmt.Println("daemon is not running")
		return
	}

	// The daemon may exit before the response is fully read.
	_ = client.Shutdown(context.Background())
	fmt.Println("daemon stopped")
}

// roots lists the crates of a command line, falling back to the config file.
func roots(args []string) ([]walker.Root, error) {
	if len(args) > 0 {
		out := make([]walker.Root, len(args))
		for i, a := range args {
			out[i] = parseRoot(a)
		}
		return out, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return cfg.Crates, nil
}
