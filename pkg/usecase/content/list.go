package content

import (
	"context"

	"github.com/m-mizutani/meshsim/pkg/model"
)

// ListIDs returns the CID of every stored record
func (u *UseCase) ListIDs(ctx context.Context) []model.CID {
	records := u.repo.ListContent(ctx)
	ids := make([]model.CID, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.CID)
	}
	return ids
}

// ListAll returns every stored record including metadata
func (u *UseCase) ListAll(ctx context.Context) []*model.ContentRecord {
	return u.repo.ListContent(ctx)
}

// Search scans every record and returns those whose metadata contains all
// key/value pairs of query. Records without metadata never match.
func (u *UseCase) Search(ctx context.Context, query map[string]any) []*model.ContentRecord {
	var matched []*model.ContentRecord
	for _, rec := range u.repo.ListContent(ctx) {
		if rec.MatchMetadata(query) {
			matched = append(matched, rec)
		}
	}
	return matched
}
