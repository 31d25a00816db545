package content

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/model"
)

// Get returns the content stored under cid
func (u *UseCase) Get(ctx context.Context, cid model.CID) (string, error) {
	rec, err := u.Record(ctx, cid)
	if err != nil {
		return "", err
	}
	return rec.Content, nil
}

// Record returns the full record stored under cid, including metadata
func (u *UseCase) Record(ctx context.Context, cid model.CID) (*model.ContentRecord, error) {
	rec, err := u.repo.GetContent(ctx, cid)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get content", goerr.V("cid", cid))
	}
	return rec, nil
}

// Delete removes the record stored under cid. It returns false when no such
// record exists.
func (u *UseCase) Delete(ctx context.Context, cid model.CID) (bool, error) {
	existed, err := u.repo.DeleteContent(ctx, cid)
	if err != nil {
		return false, goerr.Wrap(err, "failed to delete content", goerr.V("cid", cid))
	}
	return existed, nil
}
