package adapter

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

type Gemini interface {
	GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiClient struct {
	client          *genai.Client
	generativeModel string
}

type geminiConfig struct {
	apiKey   string
	project  string
	location string
	model    string
}

type GeminiOption func(*geminiConfig)

func WithGenerativeModel(model string) GeminiOption {
	return func(c *geminiConfig) {
		c.model = model
	}
}

// WithAPIKey selects the Gemini API backend
func WithAPIKey(apiKey string) GeminiOption {
	return func(c *geminiConfig) {
		c.apiKey = apiKey
	}
}

// WithVertexAI selects the Vertex AI backend
func WithVertexAI(projectID, location string) GeminiOption {
	return func(c *geminiConfig) {
		c.project = projectID
		c.location = location
	}
}

// NewGemini creates a client for either the Gemini API (API key) or Vertex AI
// (project and location). An API key takes precedence when both are set.
func NewGemini(ctx context.Context, opts ...GeminiOption) (*GeminiClient, error) {
	cfg := &geminiConfig{
		location: "us-central1",
		model:    "gemini-2.5-flash",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	var clientConfig *genai.ClientConfig
	switch {
	case cfg.apiKey != "":
		clientConfig = &genai.ClientConfig{
			APIKey:  cfg.apiKey,
			Backend: genai.BackendGeminiAPI,
		}
	case cfg.project != "":
		clientConfig = &genai.ClientConfig{
			Project:  cfg.project,
			Location: cfg.location,
			Backend:  genai.BackendVertexAI,
		}
	default:
		return nil, goerr.New("either API key or Vertex AI project is required for Gemini")
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	return &GeminiClient{
		client:          client,
		generativeModel: cfg.model,
	}, nil
}

func (g *GeminiClient) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.generativeModel, contents, config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate content", goerr.V("model", g.generativeModel))
	}
	return resp, nil
}
