package cli

import (
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/repository"
	"github.com/m-mizutani/meshsim/pkg/usecase/bus"
	"github.com/m-mizutani/meshsim/pkg/usecase/network"
	"github.com/m-mizutani/meshsim/pkg/usecase/services"
	"gopkg.in/yaml.v3"
)

// simConfig holds the tunable simulation parameters loaded from YAML
type simConfig struct {
	Network  network.Config            `yaml:"network"`
	Delay    bus.DelayPolicy           `yaml:"delay"`
	Retry    repository.RetryPolicy    `yaml:"retry"`
	Fallback repository.FallbackConfig `yaml:"fallback"`
	Services services.Config           `yaml:"services"`
	Seed     uint64                    `yaml:"seed"`
}

func defaultSimConfig() *simConfig {
	return &simConfig{
		Network:  network.DefaultConfig,
		Delay:    bus.DefaultDelayPolicy,
		Retry:    repository.DefaultRetryPolicy,
		Fallback: repository.DefaultFallbackConfig,
		Services: services.DefaultConfig,
	}
}

// loadSimConfig reads path over the defaults and validates the result. An
// empty path yields the defaults.
func loadSimConfig(path string) (*simConfig, error) {
	sc := defaultSimConfig()
	if path == "" {
		return sc, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V("path", path))
	}
	if err := yaml.Unmarshal(raw, sc); err != nil {
		return nil, goerr.Wrap(err, "failed to parse config file", goerr.V("path", path))
	}

	if err := validator.New().Struct(sc); err != nil {
		return nil, goerr.Wrap(err, "invalid config file", goerr.V("path", path))
	}
	return sc, nil
}
