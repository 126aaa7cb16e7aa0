package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBetween_WrapsAnAndOfTwoComparisons(t *testing.T) {
	f := Between("age", 18, 65, true, false)
	assert.Equal(t, KindBetween, f.Kind())

	w := ToWire(f).(*wireNode)
	assert.Equal(t, "BetweenFilter", w.Class)
	require.Len(t, w.Children, 1)

	and := w.Children[0]
	assert.Equal(t, "AndFilter", and.Class)
	require.Len(t, and.Children, 2)
	assert.Equal(t, "GreaterEqualsFilter", and.Children[0].Class)
	assert.Equal(t, "LessFilter", and.Children[1].Class)

	assert.Equal(t, 18, w.From)
	assert.Equal(t, 65, w.To)
	assert.True(t, w.IncLower)
	assert.False(t, w.IncUpper)
}

func TestBetween_ExclusiveLowerInclusiveUpper(t *testing.T) {
	f := Between("score", 0, 100, false, true)
	w := ToWire(f).(*wireNode)
	and := w.Children[0]
	assert.Equal(t, "GreaterFilter", and.Children[0].Class)
	assert.Equal(t, "LessEqualsFilter", and.Children[1].Class)
}

func TestInKeySet_UsesUnqualifiedTag(t *testing.T) {
	f := InKeySet("a", "b", "c")
	w := ToWire(f).(*wireNode)
	assert.Equal(t, "InKeySetFilter", w.Class)
	assert.Equal(t, []interface{}{"a", "b", "c"}, w.Values)
}

func TestComposedTree_RoundTripsThroughWireShape(t *testing.T) {
	f := And(
		Equals("status", "active"),
		Or(
			GreaterEquals("age", 21),
			Not(IsNull("nickname")),
		),
	)

	w := ToWire(f).(*wireNode)
	assert.Equal(t, "AndFilter", w.Class)
	require.Len(t, w.Children, 2)
	assert.Equal(t, "EqualsFilter", w.Children[0].Class)
	assert.Equal(t, "OrFilter", w.Children[1].Class)

	or := w.Children[1]
	require.Len(t, or.Children, 2)
	assert.Equal(t, "GreaterEqualsFilter", or.Children[0].Class)
	assert.Equal(t, "NotFilter", or.Children[1].Class)
	assert.Equal(t, "IsNullFilter", or.Children[1].Children[0].Class)
}

func TestMapEventFilter_DefaultMaskExcludesPlainUpdate(t *testing.T) {
	f := MapEventFilter(Always())
	w := ToWire(f).(*wireNode)
	assert.Equal(t, "MapEventFilter", w.Class)
	assert.Equal(t, uint32(DefaultMapEventMask), w.Mask)
	assert.Zero(t, w.Mask&uint32(EventUpdated))
}

func TestMapEventFilter_ExplicitMask(t *testing.T) {
	f := MapEventFilter(nil, EventUpdated)
	w := ToWire(f).(*wireNode)
	assert.Equal(t, uint32(EventUpdated), w.Mask)
	assert.Nil(t, w.Children)
}

func TestKeyAssociatedWith_WrapsInnerAndCarriesKey(t *testing.T) {
	inner := Equals("type", "order")
	f := KeyAssociatedWith(inner, "partition-7")
	w := ToWire(f).(*wireNode)
	assert.Equal(t, "KeyAssociatedFilter", w.Class)
	assert.Equal(t, "partition-7", w.Value)
	require.Len(t, w.Children, 1)
	assert.Equal(t, "EqualsFilter", w.Children[0].Class)
}

func TestIn_MaterializesVariadicArgsInOrder(t *testing.T) {
	f := In("country", "US", "CA", "MX")
	w := ToWire(f).(*wireNode)
	assert.Equal(t, []interface{}{"US", "CA", "MX"}, w.Values)
}
