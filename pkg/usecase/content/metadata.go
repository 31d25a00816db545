package content

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/model"
)

// UpdateMetadata shallow-merges patch into the record's metadata. It returns
// false without error when the record does not exist.
func (u *UseCase) UpdateMetadata(
	ctx context.Context,
	cid model.CID,
	patch map[string]any,
) (bool, error) {
	rec, err := u.repo.GetContent(ctx, cid)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return false, nil
		}
		return false, goerr.Wrap(err, "failed to get content", goerr.V("cid", cid))
	}

	rec.MergeMetadata(patch)

	if err := u.repo.PutContent(ctx, rec); err != nil {
		return false, goerr.Wrap(err, "failed to update metadata", goerr.V("cid", cid))
	}
	return true, nil
}
