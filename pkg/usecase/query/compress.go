package query

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"slices"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/adapter"
	"google.golang.org/genai"
)

// Share of the history, by byte size, that is folded into the summary
const compressionRatio = 0.7

//go:embed prompt/summarize.md
var summarizePromptRaw string

// isTokenLimitError reports whether Gemini rejected the request because the
// input exceeds the model's context window
func isTokenLimitError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	// "The input token count (2500030) exceeds the maximum number of tokens allowed (1048576)."
	return apiErr.Code == 400 &&
		apiErr.Status == "INVALID_ARGUMENT" &&
		strings.HasPrefix(apiErr.Message, "The input token count (") &&
		strings.Contains(apiErr.Message, ") exceeds the maximum number of tokens allowed (")
}

func contentSize(content *genai.Content) int {
	data, err := json.Marshal(content)
	if err != nil {
		return 0
	}
	return len(data)
}

// compressHistory replaces the oldest contents, up to compressionRatio of the
// total byte size, with a single summary message. contents is not modified.
func compressHistory(ctx context.Context, gemini adapter.Gemini, contents []*genai.Content) ([]*genai.Content, error) {
	if len(contents) == 0 {
		return nil, goerr.New("history is empty")
	}

	total := 0
	sizes := make([]int, len(contents))
	for i, content := range contents {
		sizes[i] = contentSize(content)
		total += sizes[i]
	}

	threshold := int(float64(total) * compressionRatio)
	cumulative := 0
	split := 0
	for i, size := range sizes {
		cumulative += size
		if cumulative >= threshold {
			split = i + 1
			break
		}
	}

	if split == 0 || split >= len(contents) {
		return nil, goerr.New("insufficient content to compress", goerr.V("contents", len(contents)))
	}

	summary, err := summarizeContents(ctx, gemini, contents[:split])
	if err != nil {
		return nil, goerr.Wrap(err, "failed to summarize contents")
	}

	compressed := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: "=== Previous Conversation Summary ===\n\n" + summary}},
	}}
	return append(compressed, contents[split:]...), nil
}

func summarizeContents(ctx context.Context, gemini adapter.Gemini, contents []*genai.Content) (string, error) {
	withPrompt := append(slices.Clone(contents), genai.NewContentFromText(summarizePromptRaw, genai.RoleUser))

	thinkingBudget := int32(0)
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText("You summarize conversations with the assistant node of a simulated network.", ""),
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &thinkingBudget,
		},
	}

	resp, err := gemini.GenerateContent(ctx, withPrompt, config)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate summary")
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", goerr.New("no summary generated")
	}

	var summary strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		summary.WriteString(part.Text)
	}
	if summary.Len() == 0 {
		return "", goerr.New("empty summary generated")
	}
	return summary.String(), nil
}
