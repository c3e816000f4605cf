package service_test

import (
	"sync"
	"testing"
	"time"

	"github.com/devrev/pairdb/interdc-node/internal/ccrdt"
	"github.com/devrev/pairdb/interdc-node/internal/compactor"
	"github.com/devrev/pairdb/interdc-node/internal/model"
	"github.com/devrev/pairdb/interdc-node/internal/service"
	"github.com/devrev/pairdb/interdc-node/internal/util/workerpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRing is a Ring with switchable local ownership.
type fakeRing struct {
	mu   sync.Mutex
	owns bool
}

func (r *fakeRing) Owner(model.Partition) string {
	if r.ownsLocally() {
		return "local"
	}
	return "remote"
}

func (r *fakeRing) OwnsLocally(model.Partition) bool {
	return r.ownsLocally()
}

func (r *fakeRing) ownsLocally() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owns
}

func (r *fakeRing) setOwns(owns bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owns = owns
}

// fakeBroadcaster records broadcast transactions and signals arrivals.
type fakeBroadcaster struct {
	mu     sync.Mutex
	txns   []model.Txn
	signal chan struct{}
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{signal: make(chan struct{}, 128)}
}

func (b *fakeBroadcaster) Broadcast(txn model.Txn) error {
	b.mu.Lock()
	b.txns = append(b.txns, txn)
	b.mu.Unlock()
	b.signal <- struct{}{}
	return nil
}

func (b *fakeBroadcaster) broadcasts() []model.Txn {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Txn, len(b.txns))
	copy(out, b.txns)
	return out
}

func (b *fakeBroadcaster) waitForBroadcast(t *testing.T, timeout time.Duration) {
	t.Helper()
	select {
	case <-b.signal:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for broadcast")
	}
}

func committedTxn(txID model.TxID, prev uint64, key string, op any) model.Txn {
	return model.Txn{
		DCID:        "dc-east",
		Partition:   1,
		PrevLogOpID: prev,
		Timestamp:   100,
		LogRecords: []model.LogRecord{
			{
				OpNumber: 1,
				LogOperation: model.LogOperation{
					TxID: txID,
					Type: model.OpUpdate,
					Update: &model.UpdatePayload{
						Key:    key,
						Bucket: "b",
						Type:   ccrdt.TypeAverage,
						Op:     op,
					},
				},
			},
			{
				OpNumber: 2,
				LogOperation: model.LogOperation{
					TxID:   txID,
					Type:   model.OpCommit,
					Commit: &model.CommitPayload{CommitTime: 110, SnapshotTime: 100},
				},
			},
		},
	}
}

func setupBufferService(t *testing.T, ring service.Ring, publisher service.Broadcaster) *service.BufferService {
	t.Helper()
	logger := zap.NewNop()

	pool := workerpool.NewPool(&workerpool.Config{
		Name:      "flush-test",
		Workers:   2,
		QueueSize: 16,
		Logger:    logger,
	})
	t.Cleanup(func() { pool.Stop(time.Second) })

	comp := compactor.NewCompactor(ccrdt.NewDefaultRegistry())
	svc := service.NewBufferService(
		&service.BufferServiceConfig{TxnTimer: 50 * time.Millisecond},
		ring,
		comp,
		publisher,
		pool,
		nil,
		logger,
	)
	t.Cleanup(svc.Shutdown)
	return svc
}

func TestBufferService_FlushBroadcastsCompactedBatch(t *testing.T) {
	ring := &fakeRing{owns: true}
	broadcaster := newFakeBroadcaster()
	svc := setupBufferService(t, ring, broadcaster)

	svc.Buffer(1, committedTxn("tx-1", 0, "load", ccrdt.AverageAdd{Sum: 10, Count: 1}))
	svc.Buffer(1, committedTxn("tx-2", 2, "load", ccrdt.AverageAdd{Sum: 100, Count: 2}))

	broadcaster.waitForBroadcast(t, time.Second)

	txns := broadcaster.broadcasts()
	require.Len(t, txns, 1, "batch collapses to a single transaction")

	got := txns[0]
	assert.Equal(t, uint64(0), got.PrevLogOpID)

	var compacted any
	for _, rec := range got.LogRecords {
		if rec.LogOperation.IsUpdate() {
			compacted = rec.LogOperation.Update.Op
		}
	}
	assert.Equal(t, ccrdt.AverageAdd{Sum: 110, Count: 3}, compacted)
}

func TestBufferService_EmptyBufferDoesNotBroadcast(t *testing.T) {
	ring := &fakeRing{owns: true}
	broadcaster := newFakeBroadcaster()
	setupBufferService(t, ring, broadcaster)

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, broadcaster.broadcasts())
}

func TestBufferService_TxnBufferedBetweenFlushesAppearsInNextBatch(t *testing.T) {
	ring := &fakeRing{owns: true}
	broadcaster := newFakeBroadcaster()
	svc := setupBufferService(t, ring, broadcaster)

	svc.Buffer(1, committedTxn("tx-1", 0, "a", ccrdt.AverageAdd{Sum: 1, Count: 1}))
	broadcaster.waitForBroadcast(t, time.Second)

	svc.Buffer(1, committedTxn("tx-2", 2, "a", ccrdt.AverageAdd{Sum: 2, Count: 1}))
	broadcaster.waitForBroadcast(t, time.Second)

	txns := broadcaster.broadcasts()
	require.Len(t, txns, 2)
	assert.Equal(t, model.TxID("tx-1"), txns[0].TxID())
	assert.Equal(t, model.TxID("tx-2"), txns[1].TxID())
}

func TestBufferService_UnownedPartitionDoesNotFlush(t *testing.T) {
	ring := &fakeRing{owns: false}
	broadcaster := newFakeBroadcaster()
	svc := setupBufferService(t, ring, broadcaster)

	svc.Buffer(1, committedTxn("tx-1", 0, "a", ccrdt.AverageAdd{Sum: 1, Count: 1}))

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, broadcaster.broadcasts())
}

func TestBufferService_OwnershipLossQuiescesTimer(t *testing.T) {
	ring := &fakeRing{owns: true}
	broadcaster := newFakeBroadcaster()
	svc := setupBufferService(t, ring, broadcaster)

	svc.Buffer(1, committedTxn("tx-1", 0, "a", ccrdt.AverageAdd{Sum: 1, Count: 1}))
	broadcaster.waitForBroadcast(t, time.Second)

	// Ownership moves away; the timer stops re-arming within one tick.
	ring.setOwns(false)
	time.Sleep(200 * time.Millisecond)

	svc.Buffer(1, committedTxn("tx-2", 2, "a", ccrdt.AverageAdd{Sum: 2, Count: 1}))
	time.Sleep(200 * time.Millisecond)

	assert.Len(t, broadcaster.broadcasts(), 1, "no flush after ownership loss")
}

func TestBufferService_MalformedTxnDropsBatch(t *testing.T) {
	ring := &fakeRing{owns: true}
	broadcaster := newFakeBroadcaster()
	svc := setupBufferService(t, ring, broadcaster)

	// Missing terminal record.
	malformed := model.Txn{
		DCID:      "dc-east",
		Partition: 1,
		LogRecords: []model.LogRecord{
			{
				LogOperation: model.LogOperation{
					TxID: "tx-1",
					Type: model.OpUpdate,
					Update: &model.UpdatePayload{
						Key: "k", Bucket: "b", Type: ccrdt.TypeAverage,
						Op: ccrdt.AverageAdd{Sum: 1, Count: 1},
					},
				},
			},
		},
	}
	svc.Buffer(1, malformed)

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, broadcaster.broadcasts())
}

func TestBufferService_TerminatePartitionDiscardsBuffer(t *testing.T) {
	ring := &fakeRing{owns: true}
	broadcaster := newFakeBroadcaster()
	svc := setupBufferService(t, ring, broadcaster)

	svc.Buffer(1, committedTxn("tx-1", 0, "a", ccrdt.AverageAdd{Sum: 1, Count: 1}))
	svc.TerminatePartition(1)

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, broadcaster.broadcasts())
}
