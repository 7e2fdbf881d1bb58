package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRing_EvictsOldest(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 3, r.Cap())
	assert.Equal(t, []int{3, 4, 5}, r.Last(r.Len(), nil))
	assert.Equal(t, 3, r.At(0))
}

func TestRing_Last(t *testing.T) {
	r := NewRing[int](10)
	for i := 1; i <= 8; i++ {
		r.Push(i)
	}

	even := func(v int) bool { return v%2 == 0 }
	assert.Equal(t, []int{4, 6, 8}, r.Last(3, even))
	assert.Equal(t, []int{2, 4, 6, 8}, r.Last(10, even))
	assert.Equal(t, []int{7, 8}, r.Last(2, nil))
	assert.Empty(t, r.Last(3, func(v int) bool { return v > 100 }))
}

func TestRing_ZeroCapacity(t *testing.T) {
	r := NewRing[string](0)
	r.Push("a")
	r.Push("b")
	assert.Equal(t, []string{"b"}, r.Last(r.Len(), nil))
}
