package content

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/model"
	"google.golang.org/genai"
)

// RecordGetter retrieves content records by CID
type RecordGetter interface {
	Record(ctx context.Context, cid model.CID) (*model.ContentRecord, error)
}

// Lookup is the lookup_content tool
type Lookup struct {
	store RecordGetter
}

// NewLookup creates a lookup_content tool
func NewLookup(store RecordGetter) *Lookup {
	return &Lookup{store: store}
}

func (l *Lookup) Spec() *genai.Tool {
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        "lookup_content",
				Description: "Fetch a stored content record by its content identifier (CID, starts with Qm). Returns the content and its metadata.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"cid": {
							Type:        genai.TypeString,
							Description: "Content identifier, e.g. Qm000000000000000000000000000000000000abcdef01",
						},
					},
					Required: []string{"cid"},
				},
			},
		},
	}
}

func (l *Lookup) Prompt(ctx context.Context) string {
	return "Use `lookup_content` when the user mentions a CID and you need the stored content."
}

func (l *Lookup) Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	cid, ok := fc.Args["cid"].(string)
	if !ok || cid == "" {
		return nil, goerr.New("cid is required", goerr.V("args", fc.Args))
	}

	rec, err := l.store.Record(ctx, model.CID(cid))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return &genai.FunctionResponse{
				Name:     fc.Name,
				Response: map[string]any{"result": "no content stored under " + cid},
			}, nil
		}
		return nil, goerr.Wrap(err, "failed to lookup content", goerr.V("cid", cid))
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal content record")
	}

	return &genai.FunctionResponse{
		Name:     fc.Name,
		Response: map[string]any{"result": string(raw)},
	}, nil
}
