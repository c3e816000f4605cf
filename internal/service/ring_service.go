package service

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/devrev/pairdb/interdc-node/internal/model"
	"go.uber.org/zap"
)

// Ring answers partition ownership questions. The buffer vnodes consult
// it on every timer re-arm.
type Ring interface {
	Owner(partition model.Partition) string
	OwnsLocally(partition model.Partition) bool
}

// RingService implements consistent hashing with virtual nodes over the
// cluster membership. Membership changes arrive from the gossip layer.
type RingService struct {
	localNode    string
	virtualNodes int
	logger       *zap.Logger

	mu         sync.RWMutex
	ring       []uint64            // sorted vnode hashes
	ringMap    map[uint64]string   // hash -> vnode id
	nodeVNodes map[string][]uint64 // node id -> vnode hashes
}

// NewRingService creates a ring containing only the local node.
func NewRingService(localNode string, virtualNodes int, logger *zap.Logger) *RingService {
	rs := &RingService{
		localNode:    localNode,
		virtualNodes: virtualNodes,
		logger:       logger,
		ringMap:      make(map[uint64]string),
		nodeVNodes:   make(map[string][]uint64),
	}
	rs.AddNode(localNode)
	return rs
}

// AddNode adds a physical node and its virtual nodes to the ring.
func (rs *RingService) AddNode(nodeID string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if _, exists := rs.nodeVNodes[nodeID]; exists {
		return
	}

	hashes := make([]uint64, 0, rs.virtualNodes)
	for i := 0; i < rs.virtualNodes; i++ {
		hash := hashKey(fmt.Sprintf("%s-vnode-%d", nodeID, i))
		rs.ring = append(rs.ring, hash)
		rs.ringMap[hash] = fmt.Sprintf("%s-vnode-%d", nodeID, i)
		hashes = append(hashes, hash)
	}
	rs.nodeVNodes[nodeID] = hashes
	sort.Slice(rs.ring, func(i, j int) bool { return rs.ring[i] < rs.ring[j] })

	rs.logger.Info("Node added to ring", zap.String("node_id", nodeID))
}

// RemoveNode removes a physical node and its virtual nodes.
func (rs *RingService) RemoveNode(nodeID string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	hashes, exists := rs.nodeVNodes[nodeID]
	if !exists {
		return
	}

	drop := make(map[uint64]bool, len(hashes))
	for _, hash := range hashes {
		drop[hash] = true
		delete(rs.ringMap, hash)
	}

	kept := make([]uint64, 0, len(rs.ring)-len(hashes))
	for _, hash := range rs.ring {
		if !drop[hash] {
			kept = append(kept, hash)
		}
	}
	rs.ring = kept
	delete(rs.nodeVNodes, nodeID)

	rs.logger.Info("Node removed from ring", zap.String("node_id", nodeID))
}

// Owner returns the node that owns the given partition.
func (rs *RingService) Owner(partition model.Partition) string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	if len(rs.ring) == 0 {
		return ""
	}

	keyHash := hashKey(fmt.Sprintf("partition-%d", partition))
	idx := sort.Search(len(rs.ring), func(i int) bool {
		return rs.ring[i] >= keyHash
	})
	if idx >= len(rs.ring) {
		idx = 0
	}

	return physicalNode(rs.ringMap[rs.ring[idx]])
}

// OwnsLocally reports whether the local node owns the partition.
func (rs *RingService) OwnsLocally(partition model.Partition) bool {
	return rs.Owner(partition) == rs.localNode
}

// LocalNode returns the local node id.
func (rs *RingService) LocalNode() string {
	return rs.localNode
}

// NodeCount returns the number of physical nodes on the ring.
func (rs *RingService) NodeCount() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.nodeVNodes)
}

// hashKey computes SHA-256 of the key truncated to uint64, matching the
// hashing used across the cluster.
func hashKey(key string) uint64 {
	h := sha256.Sum256([]byte(key))
	return binary.BigEndian.Uint64(h[:8])
}

// physicalNode strips the vnode suffix from a virtual node id.
// Format: nodeID-vnode-X
func physicalNode(vnodeID string) string {
	idx := strings.LastIndex(vnodeID, "-vnode-")
	if idx < 0 {
		return vnodeID
	}
	return vnodeID[:idx]
}
