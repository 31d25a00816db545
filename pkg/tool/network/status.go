package network

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/model"
	"google.golang.org/genai"
)

// NodeLister provides the current node snapshot
type NodeLister interface {
	Nodes() []*model.Node
}

type typeStatus struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}

type statusResult struct {
	Total  int                           `json:"total"`
	Active int                           `json:"active"`
	ByType map[model.NodeType]typeStatus `json:"by_type"`
}

// Status is the network_status tool
type Status struct {
	nodes NodeLister
}

// NewStatus creates a network_status tool
func NewStatus(nodes NodeLister) *Status {
	return &Status{nodes: nodes}
}

func (s *Status) Spec() *genai.Tool {
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        "network_status",
				Description: "Report how many simulated nodes exist and how many are active, in total and per node type (assistant, content-store, standard).",
				Parameters: &genai.Schema{
					Type:       genai.TypeObject,
					Properties: map[string]*genai.Schema{},
				},
			},
		},
	}
}

func (s *Status) Prompt(ctx context.Context) string {
	return "Use `network_status` when the user asks about the state, size or health of the network."
}

func (s *Status) Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	result := statusResult{
		ByType: map[model.NodeType]typeStatus{},
	}

	for _, n := range s.nodes.Nodes() {
		st := result.ByType[n.Type]
		st.Total++
		result.Total++
		if n.Active {
			st.Active++
			result.Active++
		}
		result.ByType[n.Type] = st
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal network status")
	}

	return &genai.FunctionResponse{
		Name:     fc.Name,
		Response: map[string]any{"result": string(raw)},
	}, nil
}
