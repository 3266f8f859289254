package mcp

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jcdickinson/cratedoc/internal/daemon"
	"github.com/jcdickinson/cratedoc/internal/emit"
	"github.com/jcdickinson/cratedoc/internal/rpc"
	"github.com/jcdickinson/cratedoc/internal/walker"
)

//go:embed instructions.md
var instructions string

// Backend is the part of the daemon client the MCP server uses.
type Backend interface {
	Build(ctx context.Context, req rpc.BuildRequest, onProgress func(rpc.ProgressLine)) (*rpc.BuildResult, error)
	GetDoc(ctx context.Context, req rpc.GetDocRequest) (*rpc.GetDocResponse, error)
	Lookup(ctx context.Context, req rpc.LookupRequest) (*rpc.LookupResponse, error)
	Status(ctx context.Context) (*rpc.StatusResponse, error)
}

type Server struct {
	mcpServer *server.MCPServer
	backend   Backend
}

// NewServer connects to the daemon at socketPath, spawning it if needed.
func NewServer(socketPath string, spawnArgs ...string) (*Server, error) {
	client, err := daemon.ConnectOrSpawn(socketPath, spawnArgs...)
	if err != nil {
		return nil, fmt.Errorf("connecting to daemon: %w", err)
	}
	return New(client), nil
}

func New(backend Backend) *Server {
	s := &Server{backend: backend}

	mcpServer := server.NewMCPServer(
		"cratedoc",
		"0.1.0",
		server.WithInstructions(instructions),
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.mcpServer = mcpServer
	return s
}

func (s *Server) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(
		mcp.NewTool("build_docs",
			mcp.WithDescription("Extract documentation from local Rust crate source trees. Synchronous: returns when the index is ready. Crates are added to the current set unless replace is true."),
			buildSchema,
			mcp.WithBoolean("replace",
				mcp.Description("Replace the current crate set instead of adding to it"),
			),
			mcp.WithBoolean("strict",
				mcp.Description("Fail the build when a declared module file is missing"),
			),
		),
		s.handleBuild,
	)

	mcpServer.AddTool(
		mcp.NewTool("lookup_items",
			mcp.WithDescription("Find indexed items by name or path suffix. Returns rsdoc:// URIs that can be read as resources."),
			mcp.WithString("query",
				mcp.Description("Item name (\"Point\") or path suffix (\"geom::Point\")"),
				mcp.Required(),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of results (default 20)"),
			),
		),
		s.handleLookup,
	)

	mcpServer.AddTool(
		mcp.NewTool("get_item",
			mcp.WithDescription("Read the documentation page of an item by its rsdoc:// URI."),
			mcp.WithString("uri",
				mcp.Description("Item URI, e.g. rsdoc://mycrate/latest/mycrate::geom::Point"),
				mcp.Required(),
			),
		),
		s.handleGetItem,
	)

	mcpServer.AddTool(
		mcp.NewTool("index_status",
			mcp.WithDescription("Show the build state and the indexed crates."),
		),
		s.handleStatus,
	)
}

func buildSchema(t *mcp.Tool) {
	t.InputSchema.Required = append(t.InputSchema.Required, "crates")
	t.InputSchema.Properties["crates"] = map[string]any{
		"type":        "array",
		"description": "Crates to index",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Absolute path of a crate directory with Cargo.toml, or of its lib.rs",
				},
				"name": map[string]any{
					"type":        "string",
					"description": "Crate name (default: from Cargo.toml or the directory)",
				},
				"externs": map[string]any{
					"type":        "array",
					"description": "Extra crate names to treat as known, unindexed dependencies",
					"items":       map[string]any{"type": "string"},
				},
			},
			"required": []string{"path"},
		},
	}
}

func (s *Server) registerResources(mcpServer *server.MCPServer) {
	mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			emit.URIScheme+"{crate}/{version}/{path}",
			"Rust documentation item",
			mcp.WithTemplateDescription("Read a documentation item extracted from a local crate. lookup_items returns these URIs."),
			mcp.WithTemplateMIMEType("text/markdown"),
		),
		s.handleReadResource,
	)
}

func (s *Server) handleBuild(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	cratesRaw, ok := args["crates"]
	if !ok {
		return mcp.NewToolResultError("missing required parameter: crates"), nil
	}

	cratesJSON, err := json.Marshal(cratesRaw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid crates parameter: %v", err)), nil
	}

	var roots []walker.Root
	if err := json.Unmarshal(cratesJSON, &roots); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid crates format: %v", err)), nil
	}
	for _, r := range roots {
		if r.Path == "" {
			return mcp.NewToolResultError("every crate needs a path"), nil
		}
	}

	buildReq := rpc.BuildRequest{Crates: roots}
	buildReq.Replace, _ = args["replace"].(bool)
	buildReq.Strict, _ = args["strict"].(bool)

	resp, err := s.backend.Build(ctx, buildReq, nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("build failed: %v", err)), nil
	}

	resultJSON, _ := json.MarshalIndent(resp, "", "  ")
	return mcp.NewToolResultText(string(resultJSON)), nil
}

func (s *Server) handleLookup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	query, _ := args["query"].(string)
	if query == "" {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}

	lookupReq := rpc.LookupRequest{Query: query}
	if limit, ok := args["limit"].(float64); ok {
		lookupReq.Limit = int(limit)
	}

	resp, err := s.backend.Lookup(ctx, lookupReq)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("lookup failed: %v", err)), nil
	}

	resultJSON, _ := json.MarshalIndent(resp.Results, "", "  ")
	return mcp.NewToolResultText(string(resultJSON)), nil
}

func (s *Server) handleGetItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uri, _ := req.GetArguments()["uri"].(string)
	if uri == "" {
		return mcp.NewToolResultError("missing required parameter: uri"), nil
	}
	resp, err := s.getDoc(ctx, uri)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(resp.Markdown), nil
}

func (s *Server) handleStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resp, err := s.backend.Status(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status failed: %v", err)), nil
	}
	resultJSON, _ := json.MarshalIndent(resp, "", "  ")
	return mcp.NewToolResultText(string(resultJSON)), nil
}

func (s *Server) getDoc(ctx context.Context, uri string) (*rpc.GetDocResponse, error) {
	crate, version, path, fragment, err := emit.ParseURI(uri)
	if err != nil {
		return nil, err
	}
	resp, err := s.backend.GetDoc(ctx, rpc.GetDocRequest{
		Crate:    crate,
		Version:  version,
		Path:     path,
		Fragment: fragment,
	})
	if err != nil {
		return nil, fmt.Errorf("getting doc: %w", err)
	}
	return resp, nil
}

func (s *Server) handleReadResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	resp, err := s.getDoc(ctx, uri)
	if err != nil {
		return nil, err
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/markdown",
			Text:     resp.Markdown,
		},
	}, nil
}

func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) Shutdown(_ context.Context) error {
	return nil
}
