package query_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/meshsim/pkg/model"
	"github.com/m-mizutani/meshsim/pkg/repository"
	"github.com/m-mizutani/meshsim/pkg/tool"
	toolcontent "github.com/m-mizutani/meshsim/pkg/tool/content"
	"github.com/m-mizutani/meshsim/pkg/usecase/content"
	"github.com/m-mizutani/meshsim/pkg/usecase/query"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// mockGemini is a mock implementation of adapter.Gemini for testing
type mockGemini struct {
	calls        int
	generateFunc func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

func (m *mockGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.calls++
	if m.generateFunc != nil {
		return m.generateFunc(ctx, contents, config)
	}
	return nil, errors.New("not implemented")
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: genai.NewContentFromText(text, genai.RoleModel)},
		},
	}
}

var noLimit = query.WithRateLimit(rate.Inf, 1)

func TestGeminiResponderText(t *testing.T) {
	ctx := context.Background()
	mock := &mockGemini{
		generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			gt.NotNil(t, config.SystemInstruction)
			return textResponse("a CID identifies content"), nil
		},
	}
	r := query.NewGeminiResponder(mock, noLimit)

	answer, err := r.Ask(ctx, "what is a CID?")
	gt.NoError(t, err)
	gt.Equal(t, answer, "a CID identifies content")
	gt.Equal(t, mock.calls, 1)
}

func TestGeminiResponderKeepsHistory(t *testing.T) {
	ctx := context.Background()
	var lengths []int
	mock := &mockGemini{
		generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			lengths = append(lengths, len(contents))
			return textResponse("ok"), nil
		},
	}
	r := query.NewGeminiResponder(mock, noLimit)

	_, err := r.Ask(ctx, "first")
	gt.NoError(t, err)
	_, err = r.Ask(ctx, "second")
	gt.NoError(t, err)
	r.Reset()
	_, err = r.Ask(ctx, "third")
	gt.NoError(t, err)

	// user, then user+model+user, then reset to a single user turn
	gt.Equal(t, lengths, []int{1, 3, 1})
}

func TestGeminiResponderToolLoop(t *testing.T) {
	ctx := context.Background()
	store := content.New(repository.NewInMemory(ctx))
	cid, err := store.Put(ctx, "stored fact", nil)
	gt.NoError(t, err)

	var toolResult string
	mock := &mockGemini{
		generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			gt.A(t, config.Tools).Length(1)

			last := contents[len(contents)-1]
			if len(last.Parts) > 0 && last.Parts[0].FunctionResponse != nil {
				toolResult, _ = last.Parts[0].FunctionResponse.Response["result"].(string)
				return textResponse("the content says: stored fact"), nil
			}

			return &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{
					{
						Content: &genai.Content{
							Role: genai.RoleModel,
							Parts: []*genai.Part{
								{FunctionCall: &genai.FunctionCall{
									Name: "lookup_content",
									Args: map[string]any{"cid": string(cid)},
								}},
							},
						},
					},
				},
			}, nil
		},
	}

	r := query.NewGeminiResponder(mock, noLimit, query.WithTools(tool.New(toolcontent.NewLookup(store))))
	answer, err := r.Ask(ctx, "what is stored under "+string(cid)+"?")
	gt.NoError(t, err)
	gt.Equal(t, answer, "the content says: stored fact")
	gt.Equal(t, mock.calls, 2)
	gt.S(t, toolResult).Contains("stored fact")
}

func TestGeminiResponderErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("api failure", func(t *testing.T) {
		mock := &mockGemini{}
		_, err := query.NewGeminiResponder(mock, noLimit).Ask(ctx, "hello")
		gt.True(t, errors.Is(err, model.ErrExternalService))
	})

	t.Run("empty answer", func(t *testing.T) {
		mock := &mockGemini{
			generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
				return &genai.GenerateContentResponse{}, nil
			},
		}
		_, err := query.NewGeminiResponder(mock, noLimit).Ask(ctx, "hello")
		gt.True(t, errors.Is(err, model.ErrExternalService))
	})
}

func TestGeminiResponderCompressesOnTokenLimit(t *testing.T) {
	ctx := context.Background()
	tokenLimit := genai.APIError{
		Code:    400,
		Status:  "INVALID_ARGUMENT",
		Message: "The input token count (2500030) exceeds the maximum number of tokens allowed (1048576).",
	}

	var (
		rejected   bool
		summarized bool
		retried    []*genai.Content
	)
	mock := &mockGemini{
		generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			switch {
			case config.ThinkingConfig != nil:
				summarized = true
				return textResponse("user asked about nodes and CIDs"), nil
			case len(contents) >= 7 && !rejected:
				rejected = true
				return nil, tokenLimit
			case rejected:
				retried = contents
			}
			return textResponse("answer with some padding to give the turn weight"), nil
		},
	}
	r := query.NewGeminiResponder(mock, noLimit)

	for _, q := range []string{"first question", "second question", "third question"} {
		_, err := r.Ask(ctx, q)
		gt.NoError(t, err)
	}

	answer, err := r.Ask(ctx, "fourth question")
	gt.NoError(t, err)
	gt.Equal(t, answer, "answer with some padding to give the turn weight")
	gt.True(t, rejected)
	gt.True(t, summarized)
	gt.True(t, len(retried) < 7)
	gt.S(t, retried[0].Parts[0].Text).Contains("=== Previous Conversation Summary ===")
	gt.S(t, retried[0].Parts[0].Text).Contains("user asked about nodes and CIDs")
	gt.Equal(t, retried[len(retried)-1].Parts[0].Text, "fourth question")
}

func TestGeminiResponderTokenLimitOnlyCompressesOnce(t *testing.T) {
	ctx := context.Background()
	tokenLimit := genai.APIError{
		Code:    400,
		Status:  "INVALID_ARGUMENT",
		Message: "The input token count (2500030) exceeds the maximum number of tokens allowed (1048576).",
	}
	failing := false
	mock := &mockGemini{
		generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			if config.ThinkingConfig != nil {
				return textResponse("summary"), nil
			}
			if len(contents) >= 5 {
				failing = true
			}
			if failing {
				return nil, tokenLimit
			}
			return textResponse("ok"), nil
		},
	}
	r := query.NewGeminiResponder(mock, noLimit)

	for _, q := range []string{"first", "second"} {
		_, err := r.Ask(ctx, q)
		gt.NoError(t, err)
	}

	_, err := r.Ask(ctx, "third")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrExternalService))
}
