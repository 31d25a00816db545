package model

import (
	"fmt"
	"maps"
	"time"
	"unicode/utf16"
)

// CID is a content identifier derived from content bytes. It is NOT
// cryptographically secure and collisions are possible.
type CID string

const cidPrefix = "Qm"

// DeriveCID computes a deterministic identifier from content. The hash is a
// 32-bit rolling hash (h = h*31 + c) over UTF-16 code units, and the absolute
// value is rendered as 44 zero-padded hex digits after the "Qm" prefix.
func DeriveCID(content string) CID {
	var h int32
	for _, c := range utf16.Encode([]rune(content)) {
		h = (h << 5) - h + int32(c)
	}

	abs := int64(h)
	if abs < 0 {
		abs = -abs
	}

	return CID(fmt.Sprintf("%s%044x", cidPrefix, abs))
}

// ContentRecord is a stored piece of content keyed by its CID
type ContentRecord struct {
	CID       CID            `json:"cid" firestore:"cid"`
	Content   string         `json:"content" firestore:"content"`
	Size      int            `json:"size" firestore:"size"`
	Type      string         `json:"type" firestore:"type"`
	Metadata  map[string]any `json:"metadata,omitempty" firestore:"metadata"`
	Timestamp time.Time      `json:"timestamp" firestore:"timestamp"`
}

// MatchMetadata reports whether every key in query has a strictly equal value
// in the record's metadata. Records without metadata never match.
func (r *ContentRecord) MatchMetadata(query map[string]any) bool {
	if r.Metadata == nil {
		return false
	}
	for k, v := range query {
		actual, ok := r.Metadata[k]
		if !ok || !scalarEqual(actual, v) {
			return false
		}
	}
	return true
}

// MergeMetadata shallow-merges patch into the record's metadata, patch keys win
func (r *ContentRecord) MergeMetadata(patch map[string]any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any, len(patch))
	}
	maps.Copy(r.Metadata, patch)
}

// scalarEqual compares two decoded metadata values. Numbers decoded from JSON
// become float64, so integer and float representations of the same value are
// treated as equal; non comparable values (maps, slices) never match.
func scalarEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}

	switch a.(type) {
	case string, bool, nil:
		return a == b
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
