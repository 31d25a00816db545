package content

import (
	"context"
	"maps"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/model"
)

// Put stores content with optional metadata and returns its CID
func (u *UseCase) Put(
	ctx context.Context,
	content string,
	metadata map[string]any,
) (model.CID, error) {
	data := []byte(content)
	rec := &model.ContentRecord{
		CID:       model.DeriveCID(content),
		Content:   content,
		Size:      len(data),
		Type:      mimetype.Detect(data).String(),
		Timestamp: time.Now(),
	}
	if metadata != nil {
		rec.Metadata = maps.Clone(metadata)
	}

	if err := u.repo.PutContent(ctx, rec); err != nil {
		return "", goerr.Wrap(err, "failed to put content", goerr.V("cid", rec.CID), goerr.V("size", rec.Size))
	}

	return rec.CID, nil
}
