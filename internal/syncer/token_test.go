package syncer

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Generator_UniqueSortable(t *testing.T) {
	g := UUIDv7Generator{}

	a := g.Generate()
	b := g.Generate()
	assert.NotEqual(t, a, b)

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())

	// UUIDv7 embeds a timestamp, so later tokens sort after earlier ones.
	assert.Less(t, a, b)
}

func TestFixedGenerator_ReturnsInOrder(t *testing.T) {
	g := NewFixedGenerator("t1", "t2")
	assert.Equal(t, "t1", g.Generate())
	assert.Equal(t, "t2", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}
