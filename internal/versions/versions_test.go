package versions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRanges_SingleAndContains(t *testing.T) {
	r := Single(5)
	assert.True(t, r.Contains(5))
	assert.False(t, r.Contains(4))
	assert.False(t, r.Contains(6))
	assert.False(t, r.IsEmpty())
}

func TestRanges_Empty(t *testing.T) {
	r := Empty()
	assert.True(t, r.IsEmpty())
	assert.False(t, r.Contains(0))
}

func TestRanges_InsertMergesAdjacent(t *testing.T) {
	r := Single(1).Insert(2).Insert(3)
	spans := r.Spans()
	require.Len(t, spans, 1)
	assert.Equal(t, Range{Begin: 1, End: 4}, spans[0])
}

func TestRanges_InsertKeepsDisjointNonAdjacent(t *testing.T) {
	r := Single(1).Insert(10)
	spans := r.Spans()
	require.Len(t, spans, 2)
	assert.Equal(t, Range{Begin: 1, End: 2}, spans[0])
	assert.Equal(t, Range{Begin: 10, End: 11}, spans[1])
}

func TestRanges_Intersect(t *testing.T) {
	cases := []struct {
		name     string
		a, b     Ranges
		wantEmpty bool
		want     []Range
	}{
		{
			name: "overlap",
			a:    Single(1).InsertRange(Range{Begin: 1, End: 5}),
			b:    Single(1).InsertRange(Range{Begin: 3, End: 8}),
			want: []Range{{Begin: 1, End: 2}, {Begin: 3, End: 5}},
		},
		{
			name:      "disjoint",
			a:         Single(1),
			b:         Single(2),
			wantEmpty: true,
		},
		{
			name:      "either empty",
			a:         Empty(),
			b:         Single(1),
			wantEmpty: true,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := c.a.Intersect(c.b)
			if c.wantEmpty {
				assert.True(t, got.IsEmpty())
				return
			}
			assert.Equal(t, c.want, got.Spans())
		})
	}
}

func TestRanges_IntersectEmptyAfterNoOverlap(t *testing.T) {
	a := Empty().InsertRange(Range{Begin: 0, End: 5})
	b := Empty().InsertRange(Range{Begin: 5, End: 10})
	// half-open: [0,5) and [5,10) do not overlap.
	assert.True(t, a.Intersect(b).IsEmpty())
}
