package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOf_NormalizesStringsAndExtractors(t *testing.T) {
	assert.Equal(t, KindIdentity, Of(nil).Kind())
	assert.Equal(t, KindUniversal, Of("name").Kind())
	assert.Equal(t, KindChained, Of("a.b.c").Kind())

	e := Universal("x")
	assert.Same(t, e, Of(e))
}

func TestUniversal_EmptyNameIsIdentity(t *testing.T) {
	assert.Equal(t, KindIdentity, Universal("").Kind())
}

func TestChained_SingleElementCollapses(t *testing.T) {
	e := Chained(Universal("a"))
	assert.Equal(t, KindUniversal, e.Kind())
	assert.Equal(t, "a", e.Name())
}

func TestFromPath_BuildsDottedChain(t *testing.T) {
	e := FromPath("a.b.c")
	require := assert.New(t)
	require.Equal(KindChained, e.Kind())
	require.Len(e.Chain(), 3)
	require.Equal("a", e.Chain()[0].Name())
	require.Equal("b", e.Chain()[1].Name())
	require.Equal("c", e.Chain()[2].Name())
}

func TestToWire_ChainedShape(t *testing.T) {
	w := ToWire(FromPath("a.b")).(*wireNode)
	assert.Equal(t, "ChainedExtractor", w.Class)
	assert.Len(t, w.Path, 2)
	assert.Equal(t, "a", w.Path[0].Name)
	assert.Equal(t, "b", w.Path[1].Name)
}
