package mapping

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/jsonindex/engine"
)

func TestFlatMapper(t *testing.T) {
	src := json.RawMessage(`{"id":7,"title":"Hello","tags":["a","b"],"meta":{"draft":true,"score":1.5,"none":null}}`)

	doc, err := FlatMapper{AreaField: "_area"}.Map("posts", src)
	require.NoError(t, err)

	assert.Equal(t, "posts/7", doc.Key)
	assert.JSONEq(t, string(src), string(doc.Source))
	assert.Equal(t, []engine.Field{
		{Name: "id", Value: "7"},
		{Name: "meta.draft", Value: "true"},
		{Name: "meta.score", Value: "1.5"},
		{Name: "tags", Value: "a"},
		{Name: "tags", Value: "b"},
		{Name: "title", Value: "Hello"},
		{Name: "_area", Value: "posts"},
	}, doc.Fields)
}

func TestFlatMapperCustomID(t *testing.T) {
	doc, err := FlatMapper{IDField: "meta.uid"}.Map("a", json.RawMessage(`{"meta":{"uid":"x-1"}}`))
	require.NoError(t, err)
	assert.Equal(t, "a/x-1", doc.Key)

	area, id, ok := SplitKey(doc.Key)
	require.True(t, ok)
	assert.Equal(t, "a", area)
	assert.Equal(t, "x-1", id)
}

func TestFlatMapperErrors(t *testing.T) {
	tests := map[string]string{
		"invalid json": `{`,
		"not object":   `[1,2]`,
		"missing id":   `{"title":"x"}`,
		"empty id":     `{"id":""}`,
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := FlatMapper{}.Map("a", json.RawMessage(src))
			assert.Error(t, err)
		})
	}

	_, err := FlatMapper{}.Map("a", json.RawMessage(`{"title":"x"}`))
	assert.ErrorIs(t, err, ErrNoKey)
}
