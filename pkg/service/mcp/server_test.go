package mcp_test

import (
	"context"
	"encoding/json"
	"slices"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/meshsim/pkg/model"
	"github.com/m-mizutani/meshsim/pkg/repository"
	meshmcp "github.com/m-mizutani/meshsim/pkg/service/mcp"
	"github.com/m-mizutani/meshsim/pkg/usecase/bus"
	"github.com/m-mizutani/meshsim/pkg/usecase/query"
	"github.com/m-mizutani/meshsim/pkg/usecase/sim"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func connect(t *testing.T, nodes ...*model.Node) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	repo := repository.NewInMemory(ctx)
	if len(nodes) > 0 {
		for _, n := range nodes {
			gt.NoError(t, repo.PutNode(ctx, n))
		}
		gt.NoError(t, repo.PutMetadata(ctx, model.MetadataNetworkInitialized, true))
	}
	s := sim.New(sim.Input{
		Repo:  repo,
		Delay: bus.DelayPolicy{Min: time.Millisecond, Max: 2 * time.Millisecond},
		Seed:  11,
	})
	gt.NoError(t, s.Start(ctx))
	t.Cleanup(s.Bus.Wait)

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	ss, err := meshmcp.NewServer(s).MCP().Connect(ctx, serverTransport, nil)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func call(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	gt.NoError(t, err)
	gt.A(t, res.Content).Length(1)

	text, ok := res.Content[0].(*mcp.TextContent)
	gt.True(t, ok)
	return text.Text, res.IsError
}

func TestListTools(t *testing.T) {
	cs := connect(t)

	res, err := cs.ListTools(context.Background(), nil)
	gt.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	for _, want := range []string{"list_nodes", "send_message", "put_content", "get_content", "search_content", "process_query"} {
		gt.True(t, slices.Contains(names, want))
	}
}

func TestListNodesTool(t *testing.T) {
	cs := connect(t)

	text, isErr := call(t, cs, "list_nodes", map[string]any{})
	gt.False(t, isErr)
	var nodes []*model.Node
	gt.NoError(t, json.Unmarshal([]byte(text), &nodes))
	gt.A(t, nodes).Length(21)

	text, isErr = call(t, cs, "list_nodes", map[string]any{"type": "content-store", "active_only": true})
	gt.False(t, isErr)
	gt.NoError(t, json.Unmarshal([]byte(text), &nodes))
	gt.A(t, nodes).Length(5)

	_, isErr = call(t, cs, "list_nodes", map[string]any{"type": "router"})
	gt.True(t, isErr)
}

func TestContentTools(t *testing.T) {
	cs := connect(t)

	text, isErr := call(t, cs, "put_content", map[string]any{
		"content":  "stored via mcp",
		"metadata": map[string]any{"origin": "mcp"},
	})
	gt.False(t, isErr)
	var put struct {
		CID model.CID `json:"cid"`
	}
	gt.NoError(t, json.Unmarshal([]byte(text), &put))
	gt.Equal(t, put.CID, model.DeriveCID("stored via mcp"))

	text, isErr = call(t, cs, "get_content", map[string]any{"cid": string(put.CID)})
	gt.False(t, isErr)
	var rec model.ContentRecord
	gt.NoError(t, json.Unmarshal([]byte(text), &rec))
	gt.Equal(t, rec.Content, "stored via mcp")

	text, isErr = call(t, cs, "search_content", map[string]any{"metadata": map[string]any{"origin": "mcp"}})
	gt.False(t, isErr)
	var found []*model.ContentRecord
	gt.NoError(t, json.Unmarshal([]byte(text), &found))
	gt.A(t, found).Length(1)

	_, isErr = call(t, cs, "get_content", map[string]any{"cid": "missing"})
	gt.True(t, isErr)
}

func TestSendMessageTool(t *testing.T) {
	cs := connect(t)

	text, isErr := call(t, cs, "send_message", map[string]any{
		"from": "assistant-1", "to": "content-store-2", "type": "storage", "content": "x",
	})
	gt.False(t, isErr)
	gt.S(t, text).Contains("msg_")

	text, isErr = call(t, cs, "send_message", map[string]any{
		"from": "assistant-1", "to": "nowhere", "type": "storage",
	})
	gt.True(t, isErr)
	gt.S(t, text).Contains("not found")
}

func TestProcessQueryTool(t *testing.T) {
	cs := connect(t,
		&model.Node{ID: "assistant-1", Type: model.NodeTypeAssistant, Active: true, Neighbors: []model.NodeID{"node-1"}},
		&model.Node{ID: "node-1", Type: model.NodeTypeStandard, Active: true, Neighbors: []model.NodeID{"assistant-1"}},
	)

	text, isErr := call(t, cs, "process_query", map[string]any{"query": "ping"})
	gt.False(t, isErr)

	var result query.Result
	gt.NoError(t, json.Unmarshal([]byte(text), &result))
	gt.Equal(t, result.ProcessingPath, []model.NodeID{
		model.ClientID, "node-1", "assistant-1", "node-1", model.ClientID,
	})

	_, isErr = call(t, cs, "process_query", map[string]any{"query": ""})
	gt.True(t, isErr)
}
