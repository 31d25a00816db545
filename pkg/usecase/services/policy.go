package services

import (
	"context"
	_ "embed"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/model"
	"github.com/open-policy-agent/opa/v1/rego"
)

//go:embed policy/topology.rego
var defaultTopologyPolicy string

const topologyQuery = "data.topology.allow"

// Topology decides which service types may connect to each other
type Topology struct {
	query *rego.PreparedEvalQuery
}

// NewTopology prepares the topology policy. When policyDir is empty the
// embedded default policy is used; otherwise every .rego file in policyDir is
// loaded and must define data.topology.allow.
func NewTopology(ctx context.Context, policyDir string) (*Topology, error) {
	modules, err := loadModules(policyDir)
	if err != nil {
		return nil, err
	}

	options := make([]func(*rego.Rego), 0, len(modules)+1)
	options = append(options, rego.Query(topologyQuery))
	options = append(options, modules...)

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare topology policy", goerr.V("policy_dir", policyDir))
	}

	return &Topology{query: &prepared}, nil
}

func loadModules(policyDir string) ([]func(*rego.Rego), error) {
	if policyDir == "" {
		return []func(*rego.Rego){rego.Module("topology.rego", defaultTopologyPolicy)}, nil
	}

	files, err := filepath.Glob(filepath.Join(policyDir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files", goerr.V("policy_dir", policyDir))
	}
	if len(files) == 0 {
		return nil, goerr.New("no policy file found", goerr.V("policy_dir", policyDir))
	}

	modules := make([]func(*rego.Rego), 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		modules = append(modules, rego.Module(file, string(data)))
	}
	return modules, nil
}

// Allow reports whether a service of type from may connect to one of type to
func (t *Topology) Allow(ctx context.Context, from, to model.ServiceType) (bool, error) {
	rs, err := t.query.Eval(ctx, rego.EvalInput(map[string]any{
		"from": string(from),
		"to":   string(to),
	}))
	if err != nil {
		return false, goerr.Wrap(err, "failed to evaluate topology policy", goerr.V("from", from), goerr.V("to", to))
	}

	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allowed, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, goerr.New("topology policy returned non-boolean", goerr.V("value", rs[0].Expressions[0].Value))
	}
	return allowed, nil
}

// Connect fills the Connections of every service with the IDs of the other
// services the policy allows it to reach
func (t *Topology) Connect(ctx context.Context, services []*model.Service) error {
	for _, s := range services {
		s.Connections = []string{}
		for _, other := range services {
			if other.ID == s.ID {
				continue
			}
			ok, err := t.Allow(ctx, s.Type, other.Type)
			if err != nil {
				return err
			}
			if ok {
				s.Connections = append(s.Connections, other.ID)
			}
		}
	}
	return nil
}
