package tool_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/meshsim/pkg/model"
	"github.com/m-mizutani/meshsim/pkg/repository"
	"github.com/m-mizutani/meshsim/pkg/tool"
	toolcontent "github.com/m-mizutani/meshsim/pkg/tool/content"
	toolnetwork "github.com/m-mizutani/meshsim/pkg/tool/network"
	"github.com/m-mizutani/meshsim/pkg/usecase/content"
	"google.golang.org/genai"
)

type staticNodes []*model.Node

func (s staticNodes) Nodes() []*model.Node { return s }

func newRegistry(t *testing.T) (*tool.Registry, *content.UseCase) {
	t.Helper()
	store := content.New(repository.NewInMemory(context.Background()))
	nodes := staticNodes{
		{ID: "assistant-1", Type: model.NodeTypeAssistant, Active: true},
		{ID: "node-1", Type: model.NodeTypeStandard, Active: true},
		{ID: "node-2", Type: model.NodeTypeStandard, Active: false},
	}
	return tool.New(toolnetwork.NewStatus(nodes), toolcontent.NewLookup(store)), store
}

func TestRegistrySpecs(t *testing.T) {
	registry, _ := newRegistry(t)

	gt.A(t, registry.Specs()).Length(2)
	gt.Equal(t, registry.Names(), []string{"network_status", "lookup_content"})
	gt.S(t, registry.Prompts(context.Background())).Contains("lookup_content")
}

func TestNetworkStatus(t *testing.T) {
	registry, _ := newRegistry(t)

	resp, err := registry.Execute(context.Background(), genai.FunctionCall{Name: "network_status"})
	gt.NoError(t, err)
	result, ok := resp.Response["result"].(string)
	gt.True(t, ok)
	gt.S(t, result).Contains(`"total":3`)
	gt.S(t, result).Contains(`"active":2`)
	gt.S(t, result).Contains(`"standard":{"total":2,"active":1}`)
}

func TestLookupContent(t *testing.T) {
	ctx := context.Background()
	registry, store := newRegistry(t)

	cid, err := store.Put(ctx, "stored answer", map[string]any{"kind": "response"})
	gt.NoError(t, err)

	resp, err := registry.Execute(ctx, genai.FunctionCall{
		Name: "lookup_content",
		Args: map[string]any{"cid": string(cid)},
	})
	gt.NoError(t, err)
	gt.S(t, resp.Response["result"].(string)).Contains("stored answer")

	resp, err = registry.Execute(ctx, genai.FunctionCall{
		Name: "lookup_content",
		Args: map[string]any{"cid": "Qm404"},
	})
	gt.NoError(t, err)
	gt.S(t, resp.Response["result"].(string)).Contains("no content")

	_, err = registry.Execute(ctx, genai.FunctionCall{Name: "lookup_content"})
	gt.Error(t, err)
}

func TestUnknownTool(t *testing.T) {
	registry, _ := newRegistry(t)

	_, err := registry.Execute(context.Background(), genai.FunctionCall{Name: "rm_rf"})
	gt.Error(t, err)
	gt.False(t, errors.Is(err, model.ErrNotFound))
}
