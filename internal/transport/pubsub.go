// Package transport provides the outbound publish socket the inter-DC
// publisher emits on. Subscribers (peer datacenters) connect to the bound
// port and receive every published frame; there is no per-subscriber
// filtering at this layer.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/devrev/pairdb/interdc-node/internal/util"
	"go.uber.org/zap"
)

// Socket is the publisher's view of the transport: fire-and-forget frame
// emission plus teardown.
type Socket interface {
	Send(data []byte) error
	Close() error
}

const sendTimeout = 5 * time.Second

// PubSocket is a TCP publish socket. Every frame sent is fanned out to all
// currently connected subscribers; a send with no subscribers is dropped,
// matching pub/sub semantics. Frames are length-prefixed (4-byte
// big-endian) and carry a trailing CRC32.
type PubSocket struct {
	listener net.Listener
	logger   *zap.Logger
	mu       sync.Mutex
	subs     map[net.Conn]struct{}
	closed   bool
}

// BindPub binds a publish socket on the given port and starts accepting
// subscribers.
func BindPub(port int, logger *zap.Logger) (*PubSocket, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to bind publish socket: %w", err)
	}

	s := &PubSocket{
		listener: listener,
		logger:   logger,
		subs:     make(map[net.Conn]struct{}),
	}

	go s.acceptLoop()

	logger.Info("Publish socket bound", zap.Int("port", port))
	return s, nil
}

// acceptLoop accepts subscriber connections until the socket is closed.
func (s *PubSocket) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			s.logger.Warn("Failed to accept subscriber", zap.Error(err))
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.subs[conn] = struct{}{}
		s.mu.Unlock()

		s.logger.Info("Subscriber connected",
			zap.String("remote_addr", conn.RemoteAddr().String()))
	}
}

// Send fans the frame out to every connected subscriber. Subscribers that
// fail the write are dropped; their re-delivery is the surrounding
// replication protocol's concern.
func (s *PubSocket) Send(data []byte) error {
	frame := frameMessage(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("publish socket is closed")
	}

	for conn := range s.subs {
		conn.SetWriteDeadline(time.Now().Add(sendTimeout))
		if _, err := conn.Write(frame); err != nil {
			s.logger.Warn("Dropping subscriber after failed write",
				zap.String("remote_addr", conn.RemoteAddr().String()),
				zap.Error(err))
			conn.Close()
			delete(s.subs, conn)
		}
	}

	return nil
}

// Addr returns the bound listener address.
func (s *PubSocket) Addr() net.Addr {
	return s.listener.Addr()
}

// SubscriberCount returns the number of connected subscribers.
func (s *PubSocket) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close tears down the listener and all subscriber connections.
func (s *PubSocket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for conn := range s.subs {
		conn.Close()
	}
	s.subs = make(map[net.Conn]struct{})
	s.mu.Unlock()

	return s.listener.Close()
}

// frameMessage wraps a payload as [length (4 bytes, big-endian)][payload][crc32].
func frameMessage(data []byte) []byte {
	body := util.AppendChecksum(data)
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(body)))
	copy(frame[4:], body)
	return frame
}

// ReadFrame reads one framed message from a subscriber-side connection and
// validates its checksum. It is the decoder-side counterpart of Send.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	payload, valid := util.ValidateAndStripChecksum(body)
	if !valid {
		return nil, fmt.Errorf("frame checksum mismatch")
	}
	return payload, nil
}
