package interfaces

import (
	"context"

	"github.com/m-mizutani/meshsim/pkg/model"
)

// NodeRepository persists the durable mirror of the node list
type NodeRepository interface {
	PutNode(ctx context.Context, node *model.Node) error
	GetNode(ctx context.Context, id model.NodeID) (*model.Node, error)
	ListNodes(ctx context.Context) []*model.Node
}

// MessageRepository persists bus messages
type MessageRepository interface {
	PutMessage(ctx context.Context, msg *model.Message) error
	GetMessage(ctx context.Context, id model.MessageID) (*model.Message, error)
	// ListMessages returns messages newest first
	ListMessages(ctx context.Context) []*model.Message
}

// ContentRepository persists content records keyed by CID
type ContentRepository interface {
	PutContent(ctx context.Context, rec *model.ContentRecord) error
	GetContent(ctx context.Context, cid model.CID) (*model.ContentRecord, error)
	DeleteContent(ctx context.Context, cid model.CID) (bool, error)
	ListContent(ctx context.Context) []*model.ContentRecord
}

// MetadataRepository persists small process-wide flags
type MetadataRepository interface {
	PutMetadata(ctx context.Context, key string, value any) error
	GetMetadata(ctx context.Context, key string) (*model.MetadataEntry, error)
}

// SnapshotRepository persists services metrics snapshots
type SnapshotRepository interface {
	PutSnapshot(ctx context.Context, snapshot *model.MetricsSnapshot) error
	ListSnapshots(ctx context.Context) []*model.MetricsSnapshot
}

// Repository is the full persistence surface used by the simulation
type Repository interface {
	NodeRepository
	MessageRepository
	ContentRepository
	MetadataRepository
	SnapshotRepository
}
