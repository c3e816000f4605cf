package service

import (
	"sync"

	"github.com/devrev/pairdb/interdc-node/internal/model"
	"go.uber.org/zap"
)

// MetadataReader supplies the peer DC list. The publisher performs one
// read per broadcast; a failed read is treated as an empty list.
type MetadataReader interface {
	DCList() ([]model.DCID, error)
}

// MetadataService holds the peer datacenter descriptors for this cluster.
// The list is seeded from configuration and may be replaced at runtime by
// cluster reconfiguration.
type MetadataService struct {
	logger *zap.Logger
	mu     sync.RWMutex
	dcs    []model.DCID
}

// NewMetadataService creates a metadata service seeded with the given
// peer datacenters.
func NewMetadataService(dcs []string, logger *zap.Logger) *MetadataService {
	peers := make([]model.DCID, 0, len(dcs))
	for _, dc := range dcs {
		peers = append(peers, model.DCID(dc))
	}
	return &MetadataService{
		logger: logger,
		dcs:    peers,
	}
}

// DCList returns a snapshot of the current peer DC list.
func (s *MetadataService) DCList() ([]model.DCID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make([]model.DCID, len(s.dcs))
	copy(snapshot, s.dcs)
	return snapshot, nil
}

// SetDCList replaces the peer DC list.
func (s *MetadataService) SetDCList(dcs []model.DCID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dcs = make([]model.DCID, len(dcs))
	copy(s.dcs, dcs)

	s.logger.Info("Peer DC list updated", zap.Int("peers", len(dcs)))
}
