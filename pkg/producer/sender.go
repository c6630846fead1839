package producer

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/satipd/satipd/pkg/logger"
	"github.com/satipd/satipd/pkg/stream"
)

// clientSender owns one client's UDP socket and bounded datagram queue,
// draining it in its own goroutine so one slow client can never stall the
// capture loop or another client's delivery (§5 "fan out to per-client
// send queues", adapted from the teacher's leaky-bucket Pacer).
type clientSender struct {
	clientID int
	conn     *net.UDPConn
	log      *logger.Logger
	onFail   func()

	seq uint32 // atomic; wraps to uint16 on read

	queueMu sync.Mutex
	queue   [][]byte
	signal  chan struct{}
	closeCh chan struct{}
	closed  bool
}

func newClientSender(c stream.ClientSnapshot, log *logger.Logger, onFail func()) (*clientSender, error) {
	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: c.IP, Port: c.RTPPort})
	if err != nil {
		return nil, err
	}

	s := &clientSender{
		clientID: c.ClientID,
		conn:     conn,
		log:      log,
		onFail:   onFail,
		signal:   make(chan struct{}, 1),
		closeCh:  make(chan struct{}),
	}
	go s.drainLoop()
	return s, nil
}

func (s *clientSender) nextSeq() uint16 {
	return uint16(atomic.AddUint32(&s.seq, 1))
}

// enqueue appends datagram to the queue, dropping the oldest queued
// datagram if the queue is already at sendQueueDepth. Returns false when a
// drop occurred.
func (s *clientSender) enqueue(datagram []byte) bool {
	s.queueMu.Lock()
	dropped := false
	if len(s.queue) >= sendQueueDepth {
		s.queue = s.queue[1:]
		dropped = true
	}
	s.queue = append(s.queue, datagram)
	s.queueMu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
	return !dropped
}

// depth reports how many datagrams are currently queued, unsent.
func (s *clientSender) depth() int {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return len(s.queue)
}

func (s *clientSender) drainLoop() {
	for {
		select {
		case <-s.closeCh:
			return
		case <-s.signal:
		}

		for {
			s.queueMu.Lock()
			if len(s.queue) == 0 {
				s.queueMu.Unlock()
				break
			}
			datagram := s.queue[0]
			s.queue = s.queue[1:]
			s.queueMu.Unlock()

			if _, err := s.conn.Write(datagram); err != nil {
				s.log.Warn("client send failed, marking for removal", "client_id", s.clientID, "error", err)
				if s.onFail != nil {
					s.onFail()
				}
			}
		}
	}
}

func (s *clientSender) close() {
	s.queueMu.Lock()
	if s.closed {
		s.queueMu.Unlock()
		return
	}
	s.closed = true
	s.queueMu.Unlock()

	close(s.closeCh)
	_ = s.conn.Close()
}
