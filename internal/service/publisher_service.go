package service

import (
	"math/rand"
	"sync"
	"time"

	"github.com/devrev/pairdb/interdc-node/internal/codec"
	"github.com/devrev/pairdb/interdc-node/internal/errors"
	"github.com/devrev/pairdb/interdc-node/internal/metrics"
	"github.com/devrev/pairdb/interdc-node/internal/model"
	"github.com/devrev/pairdb/interdc-node/internal/transport"
	"go.uber.org/zap"
)

// Broadcaster is the flush worker's view of the publisher.
type Broadcaster interface {
	Broadcast(txn model.Txn) error
}

// PublisherConfig holds publisher configuration
type PublisherConfig struct {
	Port              int
	RequestTimeout    time.Duration
	QueueSize         int
	ReplicationFactor int
	NodeAddressPath   string
}

// PublisherService is the single per-node broadcaster. It owns the bound
// publish socket and services broadcast requests strictly in FIFO order,
// which yields a total order on socket emissions per node. Callers hand
// off through a bounded queue with a timeout; a timed-out or stopped
// request is a best-effort miss, logged and swallowed by the caller.
type PublisherService struct {
	config   *PublisherConfig
	metadata MetadataReader
	socket   transport.Socket
	metrics  *metrics.Metrics
	logger   *zap.Logger
	rng      *rand.Rand

	requests chan publishRequest
	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

type publishRequest struct {
	tuple bool
	txn   model.Txn
	short model.Txn
	full  model.Txn
}

// NewPublisherService binds the publish socket and starts the publisher.
// A bind failure is fatal: no publisher is returned.
func NewPublisherService(
	cfg *PublisherConfig,
	metadata MetadataReader,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*PublisherService, error) {
	socket, err := transport.BindPub(cfg.Port, logger)
	if err != nil {
		return nil, errors.SocketBindFailed(cfg.Port, err)
	}
	return NewPublisherServiceWithSocket(cfg, metadata, socket, m, logger), nil
}

// NewPublisherServiceWithSocket starts a publisher on an already-bound
// socket. The publisher takes ownership of the socket.
func NewPublisherServiceWithSocket(
	cfg *PublisherConfig,
	metadata MetadataReader,
	socket transport.Socket,
	m *metrics.Metrics,
	logger *zap.Logger,
) *PublisherService {
	p := &PublisherService{
		config:   cfg,
		metadata: metadata,
		socket:   socket,
		metrics:  m,
		logger:   logger,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		requests: make(chan publishRequest, cfg.QueueSize),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}

	go p.serve()

	return p
}

// Broadcast enqueues a transaction for emission to every peer DC.
func (p *PublisherService) Broadcast(txn model.Txn) error {
	return p.submit(publishRequest{txn: txn})
}

// BroadcastTuple enqueues a two-tier fan-out: the DC list is shuffled and
// split; a prefix of size R-1 receives the full transaction, the rest
// receive the short one.
func (p *PublisherService) BroadcastTuple(short, full model.Txn) error {
	return p.submit(publishRequest{tuple: true, short: short, full: full})
}

// submit hands a request to the publisher actor with a timeout.
func (p *PublisherService) submit(req publishRequest) error {
	select {
	case <-p.stopChan:
		return errors.PublisherStopped()
	default:
	}

	timer := time.NewTimer(p.config.RequestTimeout)
	defer timer.Stop()

	select {
	case p.requests <- req:
		if p.metrics != nil {
			p.metrics.PublisherQueueDepth.Set(float64(len(p.requests)))
		}
		return nil
	case <-p.stopChan:
		return errors.PublisherStopped()
	case <-timer.C:
		if p.metrics != nil {
			p.metrics.RecordPublishTimeout()
		}
		return errors.PublishTimeout(p.config.RequestTimeout.Milliseconds())
	}
}

// serve is the publisher actor loop: requests are serviced strictly in
// arrival order until Stop.
func (p *PublisherService) serve() {
	defer close(p.doneChan)

	for {
		select {
		case <-p.stopChan:
			return
		case req := <-p.requests:
			if p.metrics != nil {
				p.metrics.PublisherQueueDepth.Set(float64(len(p.requests)))
			}
			if req.tuple {
				p.handleBroadcastTuple(req.short, req.full)
			} else {
				p.handleBroadcast(req.txn)
			}
		}
	}
}

// handleBroadcast emits one transaction to every peer DC. Per-DC failures
// are logged and skipped; the remaining DCs are still attempted.
func (p *PublisherService) handleBroadcast(txn model.Txn) {
	dcs := p.readDCList()
	if len(dcs) == 0 {
		p.logger.Debug("Broadcast with no peer DCs",
			zap.Uint64("partition", uint64(txn.Partition)))
		return
	}

	for _, dc := range dcs {
		p.publish(txn, dc)
	}
}

// handleBroadcastTuple shuffles the DC list and splits it: the first R-1
// DCs receive the full transaction, the remainder the short one. With
// fewer than R-1 peers, all of them receive the full transaction.
func (p *PublisherService) handleBroadcastTuple(short, full model.Txn) {
	dcs := p.readDCList()
	if len(dcs) == 0 {
		return
	}

	p.rng.Shuffle(len(dcs), func(i, j int) {
		dcs[i], dcs[j] = dcs[j], dcs[i]
	})

	split := p.config.ReplicationFactor - 1
	if split > len(dcs) {
		split = len(dcs)
	}

	for _, dc := range dcs[:split] {
		p.publish(full, dc)
	}
	for _, dc := range dcs[split:] {
		p.publish(short, dc)
	}
}

// publish encodes and emits one (txn, dcid) envelope.
func (p *PublisherService) publish(txn model.Txn, dc model.DCID) {
	data, err := codec.Encode(txn, dc)
	if err != nil {
		p.logger.Warn("Failed to encode transaction",
			zap.String("dcid", string(dc)),
			zap.Error(err))
		if p.metrics != nil {
			p.metrics.RecordPublishError(string(dc))
		}
		return
	}

	if err := p.socket.Send(data); err != nil {
		p.logger.Warn("Failed to publish transaction",
			zap.String("dcid", string(dc)),
			zap.Uint64("partition", uint64(txn.Partition)),
			zap.Error(err))
		if p.metrics != nil {
			p.metrics.RecordPublishError(string(dc))
		}
		return
	}

	if p.metrics != nil {
		p.metrics.RecordBroadcast(string(dc))
	}
}

// readDCList performs the per-broadcast metadata read. A failed read is
// fail-open: the broadcast degrades to a no-op.
func (p *PublisherService) readDCList() []model.DCID {
	dcs, err := p.metadata.DCList()
	if err != nil {
		p.logger.Warn("Failed to read DC list, treating as empty", zap.Error(err))
		return nil
	}
	return dcs
}

// Stop terminates the actor and tears down the socket. Requests still in
// the queue are discarded; their transactions are re-delivered by the
// surrounding replication protocol.
func (p *PublisherService) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		close(p.stopChan)
		<-p.doneChan

		if closeErr := p.socket.Close(); closeErr != nil {
			p.logger.Warn("Failed to close publish socket", zap.Error(closeErr))
			err = closeErr
			return
		}

		p.logger.Info("Publisher stopped")
	})
	return err
}
