package query

import (
	"context"
	"fmt"

	"github.com/m-mizutani/meshsim/pkg/utils/random"
)

// Responder produces the answer to a query
type Responder interface {
	Ask(ctx context.Context, query string) (string, error)
}

// Resetter is implemented by responders that keep conversation state
type Resetter interface {
	Reset()
}

// PlaceholderResponse is returned to the user when the responder fails
const PlaceholderResponse = "Sorry, the assistant node could not produce an answer right now. Please try again."

var cannedTemplates = []string{
	"Your query %q was processed by the network and the result has been stored on a content node.",
	"The assistant node analyzed %q. Nodes in the network agree this is a good question; the answer is now content-addressed.",
	"Routing complete. %q traveled through the mesh and the response was pinned to a content-store node.",
	"Processed %q across the decentralized network. No central server was involved in producing this answer.",
	"The network received %q. This is a simulated response generated without a language model.",
}

// CannedResponder answers with a randomly chosen fixed template
type CannedResponder struct {
	rnd *random.Source
}

// NewCannedResponder creates a CannedResponder. A nil source is time seeded.
func NewCannedResponder(rnd *random.Source) *CannedResponder {
	if rnd == nil {
		rnd = random.NewTimeSeeded()
	}
	return &CannedResponder{rnd: rnd}
}

func (r *CannedResponder) Ask(ctx context.Context, query string) (string, error) {
	tmpl, _ := random.Pick(r.rnd, cannedTemplates)
	return fmt.Sprintf(tmpl, query), nil
}
