package model

import "time"

// MetadataEntry is a small process-wide flag
type MetadataEntry struct {
	Key       string    `json:"key" firestore:"key"`
	Value     any       `json:"value" firestore:"value"`
	UpdatedAt time.Time `json:"updated_at" firestore:"updated_at"`
}

const (
	// MetadataNetworkInitialized marks that the network has been built and persisted
	MetadataNetworkInitialized = "network_initialized"
)
