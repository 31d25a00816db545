package network

// Config controls how Initialize builds the node population
type Config struct {
	Assistants    int `yaml:"assistants" json:"assistants" validate:"gte=1"`
	ContentStores int `yaml:"content_stores" json:"content_stores" validate:"gte=0"`
	Standards     int `yaml:"standards" json:"standards" validate:"gte=0"`

	// InactiveProbability is the chance that a standard node starts inactive
	InactiveProbability float64 `yaml:"inactive_probability" json:"inactive_probability" validate:"gte=0,lte=1"`

	// MinNeighbors and MaxNeighbors bound the number of random draws per node
	MinNeighbors int `yaml:"min_neighbors" json:"min_neighbors" validate:"gte=0"`
	MaxNeighbors int `yaml:"max_neighbors" json:"max_neighbors" validate:"gtefield=MinNeighbors"`
}

// DefaultConfig builds 21 nodes: 1 assistant, 5 content stores and 15 standard nodes
var DefaultConfig = Config{
	Assistants:          1,
	ContentStores:       5,
	Standards:           15,
	InactiveProbability: 0.1,
	MinNeighbors:        2,
	MaxNeighbors:        4,
}

// Total returns the number of nodes Initialize creates
func (c Config) Total() int {
	return c.Assistants + c.ContentStores + c.Standards
}
