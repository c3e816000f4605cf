package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devrev/pairdb/interdc-node/internal/compactor"
	"github.com/devrev/pairdb/interdc-node/internal/metrics"
	"github.com/devrev/pairdb/interdc-node/internal/model"
	"github.com/devrev/pairdb/interdc-node/internal/util/workerpool"
	"github.com/devrev/pairdb/interdc-node/internal/validation"
	"go.uber.org/zap"
)

// BufferServiceConfig holds buffer vnode configuration
type BufferServiceConfig struct {
	TxnTimer time.Duration
}

// BufferService manages one in-memory transaction buffer per owned
// partition. Each buffer accumulates outgoing transactions between timer
// ticks; a tick swaps the buffer out and hands the batch to a detached
// flush worker that compacts and broadcasts it.
type BufferService struct {
	config     *BufferServiceConfig
	ring       Ring
	compactor  *compactor.Compactor
	publisher  Broadcaster
	validator  *validation.Validator
	workerPool *workerpool.Pool
	metrics    *metrics.Metrics
	logger     *zap.Logger

	mu     sync.Mutex
	vnodes map[model.Partition]*bufferVnode
	closed bool
}

// NewBufferService creates a buffer service.
func NewBufferService(
	cfg *BufferServiceConfig,
	ring Ring,
	comp *compactor.Compactor,
	publisher Broadcaster,
	pool *workerpool.Pool,
	m *metrics.Metrics,
	logger *zap.Logger,
) *BufferService {
	return &BufferService{
		config:     cfg,
		ring:       ring,
		compactor:  comp,
		publisher:  publisher,
		validator:  validation.NewValidator(),
		workerPool: pool,
		metrics:    m,
		logger:     logger,
		vnodes:     make(map[model.Partition]*bufferVnode),
	}
}

// Buffer appends a committed transaction to its partition's buffer. It is
// O(1), always succeeds, and surfaces nothing to the caller: the
// transaction is already durably committed locally, and delivery is
// best-effort from here.
func (s *BufferService) Buffer(partition model.Partition, txn model.Txn) {
	vnode := s.vnode(partition)
	vnode.add(txn)

	if s.metrics != nil {
		s.metrics.RecordBuffered()
	}
}

// vnode returns the buffer vnode for a partition, creating it on first
// use. A vnode created while the local node owns the partition starts
// with an armed timer; otherwise it stays quiesced (ownership may arrive
// later via a fresh vnode after TerminatePartition).
func (s *BufferService) vnode(partition model.Partition) *bufferVnode {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.vnodes[partition]; ok {
		return v
	}
	if s.closed {
		return &bufferVnode{partition: partition, service: s, stopped: true}
	}

	v := &bufferVnode{
		partition: partition,
		service:   s,
	}
	v.mu.Lock()
	v.armLocked()
	v.mu.Unlock()

	s.vnodes[partition] = v

	s.logger.Debug("Buffer vnode created",
		zap.Uint64("partition", uint64(partition)))
	return v
}

// TerminatePartition cancels the partition's timer and discards its
// in-flight buffer. Used on handoff: the buffer is transient state, and
// every transaction in it is already durably committed locally.
func (s *BufferService) TerminatePartition(partition model.Partition) {
	s.mu.Lock()
	v, ok := s.vnodes[partition]
	if ok {
		delete(s.vnodes, partition)
	}
	s.mu.Unlock()

	if ok {
		v.stop()
		s.logger.Info("Buffer vnode terminated",
			zap.Uint64("partition", uint64(partition)))
	}
}

// Shutdown terminates every vnode. In-flight flush workers are left to
// drain through the worker pool.
func (s *BufferService) Shutdown() {
	s.mu.Lock()
	vnodes := make([]*bufferVnode, 0, len(s.vnodes))
	for _, v := range s.vnodes {
		vnodes = append(vnodes, v)
	}
	s.vnodes = make(map[model.Partition]*bufferVnode)
	s.closed = true
	s.mu.Unlock()

	for _, v := range vnodes {
		v.stop()
	}
}

// dispatchFlush hands a flushed batch to the worker pool. If the pool is
// saturated the flush runs inline: dropping the batch would trade a
// liveness bound for silent data delay.
func (s *BufferService) dispatchFlush(partition model.Partition, batch []model.Txn) {
	task := workerpool.Task{
		ID: fmt.Sprintf("flush-%d-%d", partition, time.Now().UnixNano()),
		Fn: func(ctx context.Context) error {
			s.flush(partition, batch)
			return nil
		},
	}

	if !s.workerPool.TrySubmit(task) {
		s.logger.Warn("Flush worker pool saturated, flushing inline",
			zap.Uint64("partition", uint64(partition)))
		s.flush(partition, batch)
	}
}

// flush validates, compacts, and broadcasts one batch.
func (s *BufferService) flush(partition model.Partition, batch []model.Txn) {
	start := time.Now()

	for _, txn := range batch {
		if err := s.validator.ValidateTxn(txn); err != nil {
			s.logger.Error("Dropping batch with malformed transaction",
				zap.Uint64("partition", uint64(partition)),
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
			if s.metrics != nil {
				s.metrics.RecordBatchDropped()
			}
			return
		}
	}

	out := s.safeCompact(batch)

	if s.metrics != nil {
		s.metrics.RecordCompaction(len(batch), countRecords(batch), countRecords(out))
	}

	for _, txn := range out {
		if err := s.publisher.Broadcast(txn); err != nil {
			s.logger.Warn("Broadcast failed",
				zap.Uint64("partition", uint64(partition)),
				zap.Error(err))
		}
	}

	if s.metrics != nil {
		s.metrics.RecordFlush(time.Since(start).Seconds())
	}
}

// safeCompact runs the compaction engine, falling back to the uncompacted
// batch if a CCRDT type callback panics. The batch is still correct
// uncompacted; receivers apply the redundant operations idempotently.
func (s *BufferService) safeCompact(batch []model.Txn) (out []model.Txn) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("Compaction crashed, broadcasting uncompacted batch",
				zap.Any("panic", r),
				zap.Int("batch_size", len(batch)))
			if s.metrics != nil {
				s.metrics.RecordCompactionFallback()
			}
			out = batch
		}
	}()
	return s.compactor.Compact(batch)
}

func countRecords(txns []model.Txn) int {
	n := 0
	for _, txn := range txns {
		n += len(txn.LogRecords)
	}
	return n
}

// bufferVnode is the per-partition buffer. All state is guarded by mu;
// the timer callback and Buffer calls serialize on it, which stands in
// for the mailbox of an actor.
type bufferVnode struct {
	partition model.Partition
	service   *BufferService

	mu      sync.Mutex
	buffer  []model.Txn // commit order: index 0 is oldest
	timer   *time.Timer
	stopped bool
}

// add appends a transaction in commit order.
func (v *bufferVnode) add(txn model.Txn) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.stopped {
		return
	}
	v.buffer = append(v.buffer, txn)
}

// tick is the timer callback: swap the buffer out, re-arm, and hand the
// batch to a detached flush worker. The swap happens under the lock, so a
// concurrent Buffer call lands either in this batch or in the next one,
// never nowhere.
func (v *bufferVnode) tick() {
	v.mu.Lock()
	if v.stopped {
		v.mu.Unlock()
		return
	}

	batch := v.buffer
	v.buffer = nil
	v.armLocked()
	v.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	v.service.dispatchFlush(v.partition, batch)
}

// armLocked re-arms the flush timer iff the local node still owns the
// partition. Losing ownership therefore self-quiesces the vnode within
// one tick: the new owner's vnode takes over.
func (v *bufferVnode) armLocked() {
	if !v.service.ring.OwnsLocally(v.partition) {
		v.timer = nil
		v.service.logger.Info("Partition ownership lost, buffer timer quiesced",
			zap.Uint64("partition", uint64(v.partition)))
		return
	}
	v.timer = time.AfterFunc(v.service.config.TxnTimer, v.tick)
}

// stop cancels the timer and discards the buffer.
func (v *bufferVnode) stop() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.stopped = true
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
	v.buffer = nil
}
