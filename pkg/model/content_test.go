package model_test

import (
	"regexp"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/meshsim/pkg/model"
)

var cidPattern = regexp.MustCompile(`^Qm[0-9a-f]{44}$`)

func TestDeriveCID(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		for _, c := range []string{"", "hello", "test query", "日本語のテキスト", "🙂 emoji"} {
			gt.Equal(t, model.DeriveCID(c), model.DeriveCID(c))
		}
	})

	t.Run("format", func(t *testing.T) {
		for _, c := range []string{"", "a", "hello", "a much longer piece of content with spaces"} {
			cid := model.DeriveCID(c)
			gt.True(t, cidPattern.MatchString(string(cid)))
		}
	})

	t.Run("empty content hashes to zero", func(t *testing.T) {
		gt.Equal(t, model.DeriveCID(""), model.CID("Qm00000000000000000000000000000000000000000000"))
	})

	t.Run("known value", func(t *testing.T) {
		// "a" is a single code unit 0x61
		gt.Equal(t, model.DeriveCID("a"), model.CID("Qm00000000000000000000000000000000000000000061"))
	})

	t.Run("distinct short strings rarely collide", func(t *testing.T) {
		corpus := []string{"hello", "world", "foo", "bar", "baz", "query", "response", "node"}
		seen := map[model.CID]bool{}
		for _, c := range corpus {
			seen[model.DeriveCID(c)] = true
		}
		gt.True(t, len(seen) > len(corpus)/2)
	})
}

func TestContentRecordMetadata(t *testing.T) {
	t.Run("merge overrides and keeps", func(t *testing.T) {
		r := &model.ContentRecord{}
		r.MergeMetadata(map[string]any{"a": 1})
		r.MergeMetadata(map[string]any{"a": 2, "b": 3})
		gt.Equal(t, len(r.Metadata), 2)
		gt.V(t, r.Metadata["a"]).Equal(2)
		gt.V(t, r.Metadata["b"]).Equal(3)
	})

	t.Run("match requires every key", func(t *testing.T) {
		r := &model.ContentRecord{Metadata: map[string]any{"kind": "query", "n": float64(2)}}
		gt.True(t, r.MatchMetadata(map[string]any{"kind": "query"}))
		gt.True(t, r.MatchMetadata(map[string]any{"kind": "query", "n": 2}))
		gt.False(t, r.MatchMetadata(map[string]any{"kind": "response"}))
		gt.False(t, r.MatchMetadata(map[string]any{"kind": "query", "missing": true}))
	})

	t.Run("no metadata never matches", func(t *testing.T) {
		r := &model.ContentRecord{}
		gt.False(t, r.MatchMetadata(map[string]any{}))
	})
}
