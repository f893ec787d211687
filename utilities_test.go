package gearbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReturnRangeInt32(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []int32{0, 1, 2, 3, 4, 6, 7}, returnRangeInt32("0-4,6-7", 8))
}

func TestReturnRangeInt32Single(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []int32{0}, returnRangeInt32("0", 8))
}

func TestReturnRangeInt32Empty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, returnRangeInt32("", 8))
}

func TestReturnRangeInt32Invalid(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []int32{0, 1, 2, 3, 4, 6, 7}, returnRangeInt32("0-4,6-7,8,x", 8))
}

func TestClusterShardIDs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []int32{4, 5, 6, 7}, clusterShardIDs(1, 4, 16))
	assert.Equal(t, []int32{8, 9}, clusterShardIDs(2, 4, 10))
	assert.Empty(t, clusterShardIDs(3, 4, 10))
}

func TestRandomHex(t *testing.T) {
	t.Parallel()

	assert.Len(t, randomHex(16), 32)
	assert.Empty(t, randomHex(0))
}
