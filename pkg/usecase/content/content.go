package content

import (
	"github.com/m-mizutani/meshsim/pkg/interfaces"
)

// UseCase is the content-addressed store. Records are keyed by the CID
// derived from their content, so re-adding identical content overwrites the
// previous record.
type UseCase struct {
	repo interfaces.ContentRepository
}

// New creates a content store over repo
func New(repo interfaces.ContentRepository) *UseCase {
	return &UseCase{
		repo: repo,
	}
}
