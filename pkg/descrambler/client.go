// Package descrambler implements the OSCam filter-management side channel:
// which PIDs are marked private to the external control-word daemon and
// therefore purged before RTP egress (§4.3 step 5). The control-word
// cryptography itself is out of scope; this package only tracks filter
// state and paces START/STOP requests to the daemon.
package descrambler

import (
	"container/heap"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/satipd/satipd/pkg/logger"
)

// CommandType orders pending filter requests. Stopping a filter frees a
// PID slot on the daemon and is always favored over starting a new one,
// the inverse priority of the teacher's keep-alive-over-recovery ordering.
type CommandType int

const (
	CmdStop CommandType = iota
	CmdStart
)

func (c CommandType) String() string {
	switch c {
	case CmdStop:
		return "stop"
	case CmdStart:
		return "start"
	default:
		return "unknown"
	}
}

type ticket struct {
	typ      CommandType
	pid      int
	response chan error
	priority int
	index    int
}

type ticketHeap []*ticket

func (h ticketHeap) Len() int { return len(h) }
func (h ticketHeap) Less(i, j int) bool {
	return h[i].priority < h[j].priority
}
func (h ticketHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *ticketHeap) Push(x any) {
	t := x.(*ticket)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *ticketHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Client drives the OSCam filter control channel: a rate-limited,
// priority-ordered queue of START/STOP filter requests plus the
// resulting "is this PID private" bookkeeping (§4.3 step 5's query).
type Client struct {
	addr    string
	log     *logger.Logger
	limiter *rate.Limiter

	dialMu sync.Mutex
	conn   net.Conn

	privateMu sync.RWMutex
	private   map[int]bool

	heapMu sync.Mutex
	heap   ticketHeap
	wake   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a Client targeting the OSCam control channel at addr
// ("host:port"), pacing outbound filter commands to at most qpm per
// minute (§4 "rate-limits outbound PID filter add/remove requests").
func New(addr string, qpm float64, log *logger.Logger) *Client {
	return &Client{
		addr:    addr,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(qpm/60.0), 1),
		private: make(map[int]bool),
		wake:    make(chan struct{}, 1),
	}
}

// Start begins processing queued filter commands.
func (c *Client) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.ctx, c.cancel = ctx, cancel
	c.wg.Add(1)
	go c.workerLoop(ctx)
}

// Close stops the worker and the daemon connection.
func (c *Client) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	c.dialMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.dialMu.Unlock()
}

// StartFilter requests the daemon begin delivering control words for pid
// and marks pid private (purged from RTP egress) once the request has been
// written to the daemon; no reply is awaited.
func (c *Client) StartFilter(pid int) error {
	if err := c.submit(CmdStart, pid); err != nil {
		return err
	}
	c.privateMu.Lock()
	c.private[pid] = true
	c.privateMu.Unlock()
	return nil
}

// StopFilter requests the daemon stop delivering control words for pid
// and clears its private marking.
func (c *Client) StopFilter(pid int) error {
	if err := c.submit(CmdStop, pid); err != nil {
		return err
	}
	c.privateMu.Lock()
	delete(c.private, pid)
	c.privateMu.Unlock()
	return nil
}

// IsPrivatePID reports whether pid is currently filtered through the
// daemon and must be purged before RTP egress.
func (c *Client) IsPrivatePID(pid int) bool {
	c.privateMu.RLock()
	defer c.privateMu.RUnlock()
	return c.private[pid]
}

func (c *Client) submit(typ CommandType, pid int) error {
	t := &ticket{typ: typ, pid: pid, response: make(chan error, 1), priority: int(typ)}

	c.heapMu.Lock()
	heap.Push(&c.heap, t)
	c.heapMu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}

	if c.ctx == nil {
		return fmt.Errorf("descrambler: client not started")
	}
	select {
	case err := <-t.response:
		return err
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

func (c *Client) workerLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			c.drain()
			return
		case <-c.wake:
		}

		for {
			c.heapMu.Lock()
			if c.heap.Len() == 0 {
				c.heapMu.Unlock()
				break
			}
			t := heap.Pop(&c.heap).(*ticket)
			c.heapMu.Unlock()

			if err := c.limiter.Wait(ctx); err != nil {
				t.response <- err
				continue
			}
			t.response <- c.send(t.typ, t.pid)
		}
	}
}

func (c *Client) drain() {
	c.heapMu.Lock()
	defer c.heapMu.Unlock()
	for c.heap.Len() > 0 {
		t := heap.Pop(&c.heap).(*ticket)
		t.response <- context.Canceled
	}
}

// send writes one framed filter command to the daemon, (re)dialing on
// demand.
func (c *Client) send(typ CommandType, pid int) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	if c.conn == nil {
		conn, err := net.DialTimeout("tcp", c.addr, 5*time.Second)
		if err != nil {
			return fmt.Errorf("descrambler: dial %s: %w", c.addr, err)
		}
		c.conn = conn
	}

	frame := fmt.Sprintf("%s %d\n", typ, pid)
	if _, err := c.conn.Write([]byte(frame)); err != nil {
		_ = c.conn.Close()
		c.conn = nil
		return fmt.Errorf("descrambler: write filter command: %w", err)
	}
	return nil
}

// NoFilter is a producer.PidFilter that marks no PID private, for streams
// configured without an OSCam daemon.
type NoFilter struct{}

// IsPrivatePID always returns false.
func (NoFilter) IsPrivatePID(int) bool { return false }
