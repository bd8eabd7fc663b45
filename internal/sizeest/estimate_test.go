package sizeest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimatePrimitives(t *testing.T) {
	assert.Equal(t, costNumber, Estimate(42))
	assert.Equal(t, costNumber, Estimate(3.14))
	assert.Equal(t, costBool, Estimate(true))
	assert.Equal(t, 10, Estimate("hello"))
}

func TestEstimateMap(t *testing.T) {
	v := map[string]interface{}{"a": 1, "b": "xy"}
	got := Estimate(v)
	assert.True(t, got > 0)
}

func TestEstimateCycle(t *testing.T) {
	type node struct {
		Self *node
	}
	n := &node{}
	n.Self = n

	assert.NotPanics(t, func() {
		Estimate(n)
	})
}

func TestEstimateSharedCycleSetCountsOnce(t *testing.T) {
	shared := map[string]int{"x": 1, "y": 2}
	seen := NewCycleSet()

	first := EstimateShared(shared, seen)
	second := EstimateShared(shared, seen)

	assert.True(t, first > 0)
	assert.Equal(t, 0, second, "second reference to the same map must be free")
}

func TestEstimateArrayCap(t *testing.T) {
	big := make([]int, 5000)
	got := Estimate(big)
	assert.Equal(t, maxArrayItems*costNumber, got)
}

func TestEstimateDepthLimit(t *testing.T) {
	type node struct {
		Next *node
	}
	root := &node{}
	cur := root
	for i := 0; i < 40; i++ {
		cur.Next = &node{}
		cur = cur.Next
	}
	got := Estimate(root)
	assert.True(t, got > 0)
}
