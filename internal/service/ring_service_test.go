package service_test

import (
	"testing"

	"github.com/devrev/pairdb/interdc-node/internal/model"
	"github.com/devrev/pairdb/interdc-node/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRingService_SingleNodeOwnsEverything(t *testing.T) {
	ring := service.NewRingService("node-1", 16, zap.NewNop())

	for p := model.Partition(0); p < 64; p++ {
		assert.Equal(t, "node-1", ring.Owner(p))
		assert.True(t, ring.OwnsLocally(p))
	}
}

func TestRingService_OwnershipIsDeterministic(t *testing.T) {
	a := service.NewRingService("node-1", 16, zap.NewNop())
	a.AddNode("node-2")
	a.AddNode("node-3")

	b := service.NewRingService("node-1", 16, zap.NewNop())
	b.AddNode("node-2")
	b.AddNode("node-3")

	for p := model.Partition(0); p < 128; p++ {
		assert.Equal(t, a.Owner(p), b.Owner(p), "partition %d", p)
	}
}

func TestRingService_AddNodeMovesSomeOwnership(t *testing.T) {
	ring := service.NewRingService("node-1", 16, zap.NewNop())
	ring.AddNode("node-2")
	ring.AddNode("node-3")

	owners := make(map[string]int)
	for p := model.Partition(0); p < 256; p++ {
		owners[ring.Owner(p)]++
	}

	require.Len(t, owners, 3, "all nodes should own some partitions")
	for node, count := range owners {
		assert.Greater(t, count, 0, node)
	}
}

func TestRingService_RemoveNodeReassignsOwnership(t *testing.T) {
	ring := service.NewRingService("node-1", 16, zap.NewNop())
	ring.AddNode("node-2")

	var lost []model.Partition
	for p := model.Partition(0); p < 128; p++ {
		if ring.Owner(p) == "node-2" {
			lost = append(lost, p)
		}
	}
	require.NotEmpty(t, lost)

	ring.RemoveNode("node-2")

	for _, p := range lost {
		assert.Equal(t, "node-1", ring.Owner(p))
		assert.True(t, ring.OwnsLocally(p))
	}
	assert.Equal(t, 1, ring.NodeCount())
}

func TestRingService_DuplicateAddIsIdempotent(t *testing.T) {
	ring := service.NewRingService("node-1", 16, zap.NewNop())
	ring.AddNode("node-2")
	ring.AddNode("node-2")

	assert.Equal(t, 2, ring.NodeCount())
}
