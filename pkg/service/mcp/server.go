// Package mcp exposes the simulation as Model Context Protocol tools so that
// external agents can inspect the network, exchange messages, store content
// and run queries.
package mcp

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/usecase/sim"
	"github.com/m-mizutani/meshsim/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	serverName    = "meshsim"
	serverVersion = "0.1.0"
)

// Server registers simulation tools on an MCP server
type Server struct {
	sim    *sim.Simulation
	server *mcp.Server
}

// NewServer creates an MCP server backed by the given simulation
func NewServer(simulation *sim.Simulation) *Server {
	s := &Server{
		sim: simulation,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    serverName,
			Version: serverVersion,
		}, nil),
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_nodes",
		Description: "List nodes of the simulated network, optionally only active ones or one node type",
	}, s.listNodes)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "send_message",
		Description: "Send a message between two nodes and wait for its delivery",
	}, s.sendMessage)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "put_content",
		Description: "Store content in the content-addressed store and return its CID",
	}, s.putContent)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_content",
		Description: "Fetch a content record by CID",
	}, s.getContent)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search_content",
		Description: "Find content records whose metadata contains all given key/value pairs",
	}, s.searchContent)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "process_query",
		Description: "Route a query through the network to an assistant node and return the answer with its processing path",
	}, s.processQuery)

	return s
}

// MCP returns the underlying server, for connecting custom transports
func (s *Server) MCP() *mcp.Server {
	return s.server
}

// Run serves over stdio until ctx is cancelled or the client disconnects
func (s *Server) Run(ctx context.Context) error {
	logging.From(ctx).Info("starting MCP server", "name", serverName, "version", serverVersion)
	if err := s.server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "MCP server stopped")
	}
	return nil
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to marshal tool result")
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(raw)}},
	}, nil, nil
}

// errorResult reports a failed operation to the caller as a tool error rather
// than a protocol error
func errorResult(ctx context.Context, err error) (*mcp.CallToolResult, any, error) {
	logging.From(ctx).Info("tool call failed", "error", err)
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
	}, nil, nil
}
