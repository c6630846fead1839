// Package rtcp implements RtcpSidecar: the periodic thread that emits a
// compound SR+SDES+APP packet to every attached client (§4.4).
package rtcp

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	pionrtcp "github.com/pion/rtcp"
	"github.com/satipd/satipd/pkg/logger"
	"github.com/satipd/satipd/pkg/stream"
)

const (
	basePeriod  = 200 * time.Millisecond
	ntpUnixDiff = 2208988800 // seconds between the NTP epoch (1900) and Unix epoch (1970)
	sesAppName  = "SES1"
	cnameText   = "SatPI\x00" // 6-byte literal name, matching the original wire format exactly
)

// StatsSource is the producer-side state the sidecar reads every tick; it
// never writes to it, matching §4.4 "does not coordinate with the
// producer beyond reading the stream's atomic statistics snapshot".
type StatsSource interface {
	Stats() stream.StatSnapshot
	RTCPUpdateRate() int
	DescribeString() string
}

// ClientLister is the sidecar's view of Stream.Clients, declared here (the
// consumer) to avoid an import cycle with pkg/stream.
type ClientLister interface {
	Clients() []stream.ClientSnapshot
}

// Sidecar builds and sends one compound RTCP packet per period to every
// attached client's RTCP port.
type Sidecar struct {
	ssrc    uint32
	props   StatsSource
	clients ClientLister
	log     *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connMu sync.Mutex
	conns  map[int]*net.UDPConn
}

// New returns a Sidecar for one stream's SSRC, reading stats from props and
// resolving destinations from clients.
func New(ssrc uint32, props StatsSource, clients ClientLister, log *logger.Logger) *Sidecar {
	return &Sidecar{
		ssrc:    ssrc,
		props:   props,
		clients: clients,
		log:     log,
		conns:   make(map[int]*net.UDPConn),
	}
}

// Start launches the periodic send loop.
func (s *Sidecar) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.ctx, s.cancel = ctx, cancel
	s.wg.Add(1)
	go s.loop(ctx)
}

// Close stops the loop and every cached per-client socket.
func (s *Sidecar) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.connMu.Lock()
	for id, c := range s.conns {
		_ = c.Close()
		delete(s.conns, id)
	}
	s.connMu.Unlock()
}

func (s *Sidecar) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		period := basePeriod * time.Duration(max1(s.props.RTCPUpdateRate()))

		compound, err := s.buildCompound()
		if err != nil {
			s.log.Warn("rtcp: failed to build compound packet", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		s.sendToAll(compound)

		select {
		case <-ctx.Done():
			return
		case <-time.After(period):
		}
	}
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// buildCompound concatenates SR || SDES || APP, in that order (§4.4).
func (s *Sidecar) buildCompound() ([]byte, error) {
	stats := s.props.Stats()

	sr := &pionrtcp.SenderReport{
		SSRC:        s.ssrc,
		NTPTime:     uint64(time.Now().Unix()+ntpUnixDiff) << 32,
		RTPTime:     stats.Timestamp,
		PacketCount: uint32(stats.SPC),
		OctetCount:  uint32(stats.SOC),
	}
	srBytes, err := sr.Marshal()
	if err != nil {
		return nil, fmt.Errorf("rtcp: marshal SR: %w", err)
	}

	sdes := &pionrtcp.SourceDescription{
		Chunks: []pionrtcp.SourceDescriptionChunk{
			{
				Source: s.ssrc,
				Items: []pionrtcp.SourceDescriptionItem{
					{Type: pionrtcp.SDESCNAME, Text: cnameText},
				},
			},
		},
	}
	sdesBytes, err := sdes.Marshal()
	if err != nil {
		return nil, fmt.Errorf("rtcp: marshal SDES: %w", err)
	}

	app := appPacket{ssrc: s.ssrc, desc: s.props.DescribeString()}
	appBytes, err := app.marshal()
	if err != nil {
		return nil, fmt.Errorf("rtcp: marshal APP: %w", err)
	}

	compound := make([]byte, 0, len(srBytes)+len(sdesBytes)+len(appBytes))
	compound = append(compound, srBytes...)
	compound = append(compound, sdesBytes...)
	compound = append(compound, appBytes...)
	return compound, nil
}

func (s *Sidecar) sendToAll(datagram []byte) {
	for _, c := range s.clients.Clients() {
		if c.Free || c.RTCPPort == 0 {
			continue
		}
		conn, err := s.connFor(c)
		if err != nil {
			s.log.Warn("rtcp: failed to open client socket", "client_id", c.ClientID, "error", err)
			continue
		}
		if _, err := conn.Write(datagram); err != nil {
			s.log.Warn("rtcp: send failed", "client_id", c.ClientID, "error", err)
		}
	}
}

func (s *Sidecar) connFor(c stream.ClientSnapshot) (*net.UDPConn, error) {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if conn, ok := s.conns[c.ClientID]; ok {
		return conn, nil
	}
	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: c.IP, Port: c.RTCPPort})
	if err != nil {
		return nil, err
	}
	s.conns[c.ClientID] = conn
	return conn, nil
}

// appPacket is a hand-rolled RTCP APP (type 204) packet carrying the
// stream's describe string; pion/rtcp has no ApplicationDefined packet
// type to build on (§4.4 "APP").
type appPacket struct {
	ssrc uint32
	desc string
}

// marshal encodes the packet per §4.4: header, SSRC, 4-byte name "SES1",
// a 16-bit string length, 2 reserved bytes, then the describe string
// itself padded to a 32-bit boundary. Returns an error if the encoded
// packet would exceed one UDP datagram, standing in for the original's
// allocation-failure path (§4.4 "if memory allocation fails").
func (a appPacket) marshal() ([]byte, error) {
	const fixedLen = 16
	descBytes := []byte(a.desc)

	total := fixedLen + len(descBytes)
	if pad := total % 4; pad != 0 {
		total += 4 - pad
	}
	if total > 1500 {
		return nil, fmt.Errorf("rtcp: APP packet %d bytes exceeds one datagram", total)
	}

	buf := make([]byte, total)
	buf[0] = 0x80 // version=2, padding=0, subtype=0
	buf[1] = 204  // PT=APP
	binary.BigEndian.PutUint16(buf[2:4], uint16(total/4-1))
	binary.BigEndian.PutUint32(buf[4:8], a.ssrc)
	copy(buf[8:12], sesAppName)
	binary.BigEndian.PutUint16(buf[12:14], uint16(len(descBytes)))
	copy(buf[16:16+len(descBytes)], descBytes)
	return buf, nil
}
