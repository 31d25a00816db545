package mcp

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/model"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type listNodesParams struct {
	ActiveOnly bool   `json:"active_only,omitempty" jsonschema:"Return only active nodes"`
	Type       string `json:"type,omitempty" jsonschema:"Node type filter: standard, content-store or assistant"`
}

func (s *Server) listNodes(ctx context.Context, req *mcp.CallToolRequest, params *listNodesParams) (*mcp.CallToolResult, any, error) {
	if params.Type != "" {
		t := model.NodeType(params.Type)
		if err := t.Validate(); err != nil {
			return errorResult(ctx, goerr.Wrap(err, "invalid node type", goerr.V("type", params.Type)))
		}
		return jsonResult(s.sim.Network.NodesByType(t, params.ActiveOnly))
	}

	if params.ActiveOnly {
		return jsonResult(s.sim.Network.ActiveNodes())
	}
	return jsonResult(s.sim.Network.Nodes())
}

type sendMessageParams struct {
	From    string `json:"from" jsonschema:"Sender node ID"`
	To      string `json:"to" jsonschema:"Receiver node ID"`
	Type    string `json:"type" jsonschema:"Message type: query, response, storage or retrieval"`
	Content string `json:"content,omitempty" jsonschema:"Message payload"`
}

type sendMessageResult struct {
	ID model.MessageID `json:"id"`
}

func (s *Server) sendMessage(ctx context.Context, req *mcp.CallToolRequest, params *sendMessageParams) (*mcp.CallToolResult, any, error) {
	id, err := s.sim.Bus.Send(ctx,
		model.NodeID(params.From),
		model.NodeID(params.To),
		model.MessageType(params.Type),
		params.Content,
	)
	if err != nil {
		return errorResult(ctx, err)
	}
	return jsonResult(sendMessageResult{ID: id})
}

type putContentParams struct {
	Content  string         `json:"content" jsonschema:"Content to store"`
	Metadata map[string]any `json:"metadata,omitempty" jsonschema:"Arbitrary metadata attached to the record"`
}

type putContentResult struct {
	CID model.CID `json:"cid"`
}

func (s *Server) putContent(ctx context.Context, req *mcp.CallToolRequest, params *putContentParams) (*mcp.CallToolResult, any, error) {
	cid, err := s.sim.Content.Put(ctx, params.Content, params.Metadata)
	if err != nil {
		return errorResult(ctx, err)
	}
	return jsonResult(putContentResult{CID: cid})
}

type getContentParams struct {
	CID string `json:"cid" jsonschema:"Content identifier"`
}

func (s *Server) getContent(ctx context.Context, req *mcp.CallToolRequest, params *getContentParams) (*mcp.CallToolResult, any, error) {
	rec, err := s.sim.Content.Record(ctx, model.CID(params.CID))
	if err != nil {
		return errorResult(ctx, err)
	}
	return jsonResult(rec)
}

type searchContentParams struct {
	Metadata map[string]any `json:"metadata" jsonschema:"Key/value pairs every match must contain"`
}

func (s *Server) searchContent(ctx context.Context, req *mcp.CallToolRequest, params *searchContentParams) (*mcp.CallToolResult, any, error) {
	found := s.sim.Content.Search(ctx, params.Metadata)
	if found == nil {
		found = []*model.ContentRecord{}
	}
	return jsonResult(found)
}

type processQueryParams struct {
	Query string `json:"query" jsonschema:"Question for the assistant node"`
}

func (s *Server) processQuery(ctx context.Context, req *mcp.CallToolRequest, params *processQueryParams) (*mcp.CallToolResult, any, error) {
	if params.Query == "" {
		return errorResult(ctx, goerr.New("query is empty"))
	}

	result, err := s.sim.Orchestrator.ProcessQuery(ctx, params.Query)
	if err != nil {
		return errorResult(ctx, err)
	}
	return jsonResult(result)
}
