package query

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"slices"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/adapter"
	"github.com/m-mizutani/meshsim/pkg/model"
	"github.com/m-mizutani/meshsim/pkg/tool"
	"github.com/m-mizutani/meshsim/pkg/utils/logging"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

//go:embed prompt/system.md
var systemPromptRaw string

var systemPromptTmpl = template.Must(template.New("system").Parse(systemPromptRaw))

// Tool call limit per question
const maxToolIterations = 4

// GeminiResponder answers queries with Gemini. It keeps the conversation
// history across calls until Reset.
type GeminiResponder struct {
	gemini   adapter.Gemini
	registry *tool.Registry
	limiter  *rate.Limiter

	mu      sync.Mutex
	history []*genai.Content
}

// GeminiOption is a functional option for GeminiResponder
type GeminiOption func(*GeminiResponder)

// WithTools enables function calling with the given registry
func WithTools(registry *tool.Registry) GeminiOption {
	return func(r *GeminiResponder) {
		r.registry = registry
	}
}

// WithRateLimit limits calls to the Gemini API
func WithRateLimit(limit rate.Limit, burst int) GeminiOption {
	return func(r *GeminiResponder) {
		r.limiter = rate.NewLimiter(limit, burst)
	}
}

// NewGeminiResponder creates a GeminiResponder. The default rate limit is one
// request per second with a burst of 3.
func NewGeminiResponder(gemini adapter.Gemini, opts ...GeminiOption) *GeminiResponder {
	r := &GeminiResponder{
		gemini:  gemini,
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reset drops the conversation history
func (r *GeminiResponder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = nil
}

func (r *GeminiResponder) systemPrompt(ctx context.Context) (string, error) {
	var toolPrompts string
	if r.registry != nil {
		toolPrompts = r.registry.Prompts(ctx)
	}

	var buf bytes.Buffer
	if err := systemPromptTmpl.Execute(&buf, map[string]any{
		"ToolPrompts":   toolPrompts,
		"MaxIterations": maxToolIterations,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute system prompt template")
	}
	return buf.String(), nil
}

// Ask sends query to Gemini, running requested tools until the model answers
// with text or the tool call limit is reached
func (r *GeminiResponder) Ask(ctx context.Context, query string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.limiter.Wait(ctx); err != nil {
		return "", goerr.Wrap(err, "rate limiter wait aborted")
	}

	prompt, err := r.systemPrompt(ctx)
	if err != nil {
		return "", err
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(prompt, ""),
	}
	if r.registry != nil {
		config.Tools = r.registry.Specs()
	}

	contents := append(slices.Clone(r.history), genai.NewContentFromText(query, genai.RoleUser))
	logger := logging.From(ctx)

	var answer strings.Builder
	compressed := false
	for i := 0; i < maxToolIterations; i++ {
		resp, err := r.gemini.GenerateContent(ctx, contents, config)
		if err != nil && isTokenLimitError(err) && !compressed {
			logger.Info("history exceeds token limit, compressing", "contents", len(contents))
			compacted, cerr := compressHistory(ctx, r.gemini, contents)
			if cerr != nil {
				logger.Warn("failed to compress history", "error", cerr)
			} else {
				contents = compacted
				compressed = true
				resp, err = r.gemini.GenerateContent(ctx, contents, config)
			}
		}
		if err != nil {
			return "", goerr.Wrap(errors.Join(model.ErrExternalService, err), "failed to generate content", goerr.V("iteration", i+1))
		}

		var functionResponses []*genai.Part
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			contents = append(contents, candidate.Content)

			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					answer.WriteString(part.Text)
				}
				if part.FunctionCall == nil {
					continue
				}

				logger.Debug("assistant tool call", "name", part.FunctionCall.Name, "args", part.FunctionCall.Args)
				functionResponses = append(functionResponses, &genai.Part{
					FunctionResponse: r.execute(ctx, *part.FunctionCall),
				})
			}
		}

		if len(functionResponses) == 0 {
			break
		}
		contents = append(contents, &genai.Content{
			Role:  genai.RoleUser,
			Parts: functionResponses,
		})
	}

	text := strings.TrimSpace(answer.String())
	if text == "" {
		return "", goerr.Wrap(model.ErrExternalService, "Gemini returned no text")
	}

	r.history = contents
	return text, nil
}

func (r *GeminiResponder) execute(ctx context.Context, fc genai.FunctionCall) *genai.FunctionResponse {
	if r.registry == nil {
		return &genai.FunctionResponse{
			Name:     fc.Name,
			Response: map[string]any{"error": "tools are not available"},
		}
	}

	resp, err := r.registry.Execute(ctx, fc)
	if err != nil {
		logging.From(ctx).Warn("tool execution failed", "name", fc.Name, "error", err)
		return &genai.FunctionResponse{
			Name:     fc.Name,
			Response: map[string]any{"error": err.Error()},
		}
	}
	return resp
}
