// Package producer implements RtpProducer: the dedicated read/resync/purge
// loop that fills a ring of mpegts.PacketBuffer from a DVB DVR device and
// fans each full buffer out to every active client (§4.3).
package producer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/satipd/satipd/pkg/logger"
	"github.com/satipd/satipd/pkg/mpegts"
	"github.com/satipd/satipd/pkg/stream"
)

// MaxBuf is the ring size (§4.3, §9 "Fixed small arrays").
const MaxBuf = 100

const (
	pollTimeout    = 100 * time.Millisecond
	rtpClockHz     = 90000
	sendQueueDepth = 16
)

// State is the producer's Running/Pause/Paused state machine (§4.3).
type State int

const (
	Running State = iota
	Pause
	Paused
)

// PidFilter reports whether a PID is private to the descrambler and must
// not leave the box; it is the producer's view of pkg/descrambler.Client,
// declared here to avoid a needless import for the common case of no
// descrambler configured.
type PidFilter interface {
	IsPrivatePID(pid int) bool
}

// ClientLister is the producer's view of stream.Stream.Clients, declared
// here (the consumer) rather than imported directly, since pkg/stream
// must not import pkg/producer.
type ClientLister interface {
	Clients() []stream.ClientSnapshot
	MarkClientSelfDestruct(clientID int)
}

// RtpProducer reads the DVR device, resyncs/purges/tags TS into RTP
// datagrams, and sends them to every active client over UDP (§4.3, §5).
type RtpProducer struct {
	log      *logger.Logger
	pidTable *mpegts.PidTable
	props    *stream.StreamProperties
	clients  ClientLister
	filter   PidFilter

	stateMu sync.Mutex
	state   State

	ring     [MaxBuf]mpegts.PacketBuffer
	writeIdx int

	dvr    stream.DVR
	dvrMu  sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	sendersMu sync.Mutex
	senders   map[int]*clientSender
}

// New returns an RtpProducer bound to pidTable/props/clients. filter may be
// nil (no descrambler configured).
func New(pidTable *mpegts.PidTable, props *stream.StreamProperties, clients ClientLister, filter PidFilter, log *logger.Logger) *RtpProducer {
	return &RtpProducer{
		log:      log,
		pidTable: pidTable,
		props:    props,
		clients:  clients,
		filter:   filter,
		state:    Paused,
		senders:  make(map[int]*clientSender),
	}
}

// Start begins capture from dvr.
func (p *RtpProducer) Start(dvr stream.DVR) error {
	p.dvrMu.Lock()
	p.dvr = dvr
	p.dvrMu.Unlock()

	p.setState(Running)

	ctx, cancel := context.WithCancel(context.Background())
	p.ctx, p.cancel = ctx, cancel

	p.wg.Add(1)
	go p.captureLoop(ctx)
	return nil
}

// Pause stops reading and drains the ring; any buffer in flight is
// abandoned rather than sent, guaranteeing no pre-pause buffer is
// transmitted after a subsequent Restart (§5 "Ordering guarantees").
func (p *RtpProducer) Pause() {
	p.setState(Pause)
	for p.getState() != Paused {
		time.Sleep(5 * time.Millisecond)
	}
}

// Restart resumes capture from a new DVR reader after a retune.
func (p *RtpProducer) Restart(dvr stream.DVR) error {
	p.dvrMu.Lock()
	p.dvr = dvr
	p.dvrMu.Unlock()
	p.writeIdx = 0
	p.setState(Running)
	return nil
}

// RingDepth reports the total number of datagrams queued across every
// client's send queue but not yet written to its socket — the backlog a
// metrics sampler polls between captures, since the capture ring itself
// never holds more than one in-flight buffer at a time (§4.3's
// poll/read/resync/purge/tag/send pass resets the slot before returning).
func (p *RtpProducer) RingDepth() int {
	p.sendersMu.Lock()
	defer p.sendersMu.Unlock()

	total := 0
	for _, s := range p.senders {
		total += s.depth()
	}
	return total
}

// Close stops the capture loop and every per-client sender goroutine.
func (p *RtpProducer) Close() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	p.sendersMu.Lock()
	for id, s := range p.senders {
		s.close()
		delete(p.senders, id)
	}
	p.sendersMu.Unlock()
}

func (p *RtpProducer) setState(s State) {
	p.stateMu.Lock()
	p.state = s
	p.stateMu.Unlock()
}

func (p *RtpProducer) getState() State {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.state
}

// captureLoop is the producer thread's main body (§4.3 "Running").
func (p *RtpProducer) captureLoop(ctx context.Context) {
	defer p.wg.Done()
	defer p.setState(Paused)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		switch p.getState() {
		case Pause:
			p.ring[p.writeIdx%MaxBuf].Reset()
			p.setState(Paused)
			continue
		case Paused:
			time.Sleep(pollTimeout)
			continue
		}

		if err := p.captureOnePass(); err != nil {
			p.log.Error("capture pass failed, stopping producer", "error", err)
			return
		}
	}
}

func (p *RtpProducer) captureOnePass() error {
	buf := &p.ring[p.writeIdx%MaxBuf]

	if !buf.Initialized() {
		buf.Initialize(p.props.SSRC(), 0)
	}

	p.dvrMu.Lock()
	dvr := p.dvr
	p.dvrMu.Unlock()
	if dvr == nil {
		time.Sleep(pollTimeout)
		return nil
	}

	if err := dvr.SetReadDeadline(time.Now().Add(pollTimeout)); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}

	slot := buf.WriteSlot()
	if slot == nil {
		buf.Reset()
		return nil
	}

	n, err := dvr.Read(slot)
	if err != nil {
		if isTimeout(err) {
			return nil
		}
		if errors.Is(err, os.ErrClosed) {
			return err
		}
		p.log.Warn("dvr read error, treated as EOF for this cycle", "error", err)
		buf.Reset()
		return nil
	}
	if n == 0 {
		return nil
	}
	buf.AdvanceWrite(n)

	if !buf.TrySyncing() {
		return nil
	}

	p.trackPIDData(buf)
	p.applyDescramblerPurge(buf)
	buf.Purge()

	p.dispatch(buf)

	p.writeIdx++
	buf.Reset()
	return nil
}

// trackPIDData feeds every TS packet's PID/continuity-counter into the
// PidTable regardless of whether a descrambler filter is configured
// (§4.2, §8 "getTotalCCErrors() ... until the next CC discontinuity") —
// this bookkeeping is not itself a descrambler concern.
func (p *RtpProducer) trackPIDData(buf *mpegts.PacketBuffer) {
	for i := 0; i < buf.PacketCount(); i++ {
		pkt := buf.PacketAt(i)
		pid := (int(pkt[1]&0x1f) << 8) | int(pkt[2])
		cc := int(pkt[3] & 0x0f)
		p.pidTable.AddPIDData(pid, cc)
	}
}

// applyDescramblerPurge marks every TS packet whose PID is private to the
// descrambler for removal before RTP egress (§4.3 step 5). A nil filter
// (no descrambler configured, per New's doc comment) means no PID is ever
// private, so nothing is purged.
func (p *RtpProducer) applyDescramblerPurge(buf *mpegts.PacketBuffer) {
	if p.filter == nil {
		return
	}
	for i := 0; i < buf.PacketCount(); i++ {
		pkt := buf.PacketAt(i)
		pid := (int(pkt[1]&0x1f) << 8) | int(pkt[2])
		if p.filter.IsPrivatePID(pid) {
			_ = buf.MarkTSForPurging(i)
		}
	}
}

func (p *RtpProducer) dispatch(buf *mpegts.PacketBuffer) {
	timestamp := uint32(time.Now().UnixMilli() * rtpClockHz / 1000)

	for _, c := range p.clients.Clients() {
		if c.Free {
			continue
		}
		sender := p.senderFor(c)
		if sender == nil {
			continue
		}

		seq := sender.nextSeq()
		buf.TagRTPHeaderWith(seq, int64(timestamp))

		datagram := make([]byte, len(buf.Datagram()))
		copy(datagram, buf.Datagram())

		if !sender.enqueue(datagram) {
			p.log.Warn("client send queue full, dropped oldest", "client_id", c.ClientID)
		}

		p.props.RecordSent(len(datagram), timestamp)
	}
}

func (p *RtpProducer) senderFor(c stream.ClientSnapshot) *clientSender {
	p.sendersMu.Lock()
	defer p.sendersMu.Unlock()

	if s, ok := p.senders[c.ClientID]; ok {
		return s
	}

	s, err := newClientSender(c, p.log, func() {
		p.clients.MarkClientSelfDestruct(c.ClientID)
	})
	if err != nil {
		p.log.Warn("failed to open client send socket", "client_id", c.ClientID, "error", err)
		return nil
	}
	p.senders[c.ClientID] = s
	return s
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
