package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jcdickinson/cratedoc/internal/emit"
	"github.com/jcdickinson/cratedoc/internal/rpc"
)

var getCmd = &cobra.Command{
	Use:   "get <rsdoc://crate/version/path>",
	Short: "Read a documentation item by URI",
	Example: `  cratedoc get rsdoc://geo/latest/geo::Point
  cratedoc get rsdoc://geo/0.3.0/geo::geom::Line#implementations
  cratedoc get geo/latest/geo`,
	Args: cobra.ExactArgs(1),
	Run:  runGet,
}

func init() {
	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) {
	uri := args[0]
	if !strings.HasPrefix(uri, emit.URIScheme) {
		uri = emit.URIScheme + uri
	}
	crate, version, path, fragment, err := emit.ParseURI(uri)
	if err != nil {
		fatal("invalid URI", err)
	}

	client, err := connectDaemon()
	if err != nil {
		fatal("failed to connect to daemon", err)
	}

	resp, err := client.GetDoc(context.Background(), rpc.GetDocRequest{
		Crate:    crate,
		Version:  version,
		Path:     path,
		Fragment: fragment,
	})
	if err != nil {
		fatal("get doc failed", err)
	}

	fmt.Print(resp.Markdown)
}
