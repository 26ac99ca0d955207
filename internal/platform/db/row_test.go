package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRowIsPositionalAndNamed(t *testing.T) {
	row := NewRow([]string{"project_published", "site_published", "is_creator"}, []any{true, nil, int64(0)})

	assert.Equal(t, 3, row.Len())
	assert.Equal(t, []any{true, nil, int64(0)}, row.Values())
	assert.Equal(t, true, row.At(0))
	assert.Nil(t, row.At(7))

	v, ok := row.Get("is_creator")
	assert.True(t, ok)
	assert.Equal(t, int64(0), v)
	_, ok = row.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, map[string]any{"project_published": true, "site_published": nil, "is_creator": int64(0)}, row.Map())
}

func TestRowConversions(t *testing.T) {
	row := NewRow(
		[]string{"flag", "one", "none", "name", "raw"},
		[]any{true, int32(1), nil, "alice", []byte("bytes")},
	)
	assert.True(t, row.Bool("flag"))
	assert.True(t, row.Bool("one"))
	assert.False(t, row.Bool("none"))

	if assert.NotNil(t, row.NullableInt("flag")) {
		assert.Equal(t, 1, *row.NullableInt("flag"))
	}
	assert.Nil(t, row.NullableInt("none"))

	assert.Equal(t, "alice", row.String("name"))
	assert.Equal(t, "bytes", row.String("raw"))
	assert.Equal(t, "", row.String("none"))

	n, ok := row.Int64("one")
	assert.True(t, ok)
	assert.Equal(t, int64(1), n)
}
