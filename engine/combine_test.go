package engine

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCombine(t *testing.T) {
	assert.Equal(t, uint64(0), Combine(nil))
	assert.Equal(t, uint64(7), Combine([]uint64{7}))
	assert.Equal(t, uint64(7^42), Combine([]uint64{7, 42}))
	assert.Equal(t, uint64(42), Combine([]uint64{7, 42, 7}))
}

func TestCombineIsOrderIndependent(t *testing.T) {
	values := []uint64{7, 42, 7, 42, 1<<63 + 9}
	want := Combine(values)

	for i := 0; i < 20; i++ {
		shuffled := append([]uint64(nil), values...)
		rand.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		assert.Equal(t, want, Combine(shuffled))
	}
}
