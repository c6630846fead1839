package stream

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/satipd/satipd/pkg/logger"
	"github.com/satipd/satipd/pkg/mpegts"
)

// MaxClients is the number of StreamClient slots a Stream owns; slot 0 is
// the owner, the rest are companions (§9 "Fixed small arrays").
const MaxClients = 8

const defaultWatchdogTimeout = 60 * time.Second

// Producer is the lifecycle seam Stream uses to drive its RtpProducer,
// declared here (the consumer) to avoid an import cycle with pkg/producer.
type Producer interface {
	Start(dvr DVR) error
	Pause()
	Restart(dvr DVR) error
	Close()

	// RingDepth reports the current send backlog, for metrics sampling.
	RingDepth() int
}

// Sidecar is the lifecycle seam Stream uses to drive its RtcpSidecar.
type Sidecar interface {
	Start()
	Close()
}

// Snapshot is the plain, JSON-tagged view of a Stream's state a future
// HTTP/XML status page collaborator could render (§4 "Supplemented
// Features"); no HTTP handler lives in this repository.
type Snapshot struct {
	Enabled       bool   `json:"enabled"`
	Attached      bool   `json:"attached"`
	Owner         bool   `json:"owner"`
	OwnerSession  string `json:"owner_session_id"`
	Pids          string `json:"pids"`
	CCErrors      uint64 `json:"cc_errors"`
	Delivery      string `json:"delivery_system"`
	FrequencyKHz  int64  `json:"frequency_khz"`
}

// Stream is the controller composing one PidTable, one StreamProperties,
// one RtpProducer, one RtcpSidecar, and up to MaxClients StreamClient
// slots around a single tuned Frontend (§3 "Stream", §4.5).
type Stream struct {
	mu sync.Mutex

	id       int
	log      *logger.Logger
	clock    Clock
	frontend Frontend

	pidTable *mpegts.PidTable
	props    *StreamProperties

	producer Producer
	sidecar  Sidecar

	clients [MaxClients]StreamClient

	enabled bool
	active  bool

	watchdogTimeout time.Duration
}

// New returns an idle, enabled Stream with no producer/sidecar attached
// yet. Call Attach once the composition root (e.g. pkg/server.BuildStream)
// has built a producer/sidecar pair wired to this Stream's own PidTable
// and StreamProperties (exposed below) — those two instances only exist
// after New returns, so producer/sidecar construction must follow it,
// keeping the cyclic controller<->producer relationship one-way per §9
// "Cyclic back-references".
func New(id int, frontend Frontend, clock Clock, log *logger.Logger) *Stream {
	sessionSeed := uuid.New()
	ssrc := binary.BigEndian.Uint32(sessionSeed[:4])

	s := &Stream{
		id:              id,
		log:             log,
		clock:           clock,
		frontend:        frontend,
		pidTable:        mpegts.NewPidTable(),
		props:           NewStreamProperties(ssrc),
		enabled:         true,
		watchdogTimeout: defaultWatchdogTimeout,
	}
	for i := range s.clients {
		s.clients[i].ClientID = i
		s.clients[i].reset()
	}
	return s
}

// Attach wires the producer/sidecar pair built against this Stream's own
// PidTable/StreamProperties (see New). Must be called before the first
// Update; Update, Teardown and RingDepth are the methods that use
// s.producer/s.sidecar.
func (s *Stream) Attach(producer Producer, sidecar Sidecar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.producer = producer
	s.sidecar = sidecar
}

// PidTable exposes the owned PID reconciliation table (read by the
// frontend reconciler and the producer).
func (s *Stream) PidTable() *mpegts.PidTable { return s.pidTable }

// Properties exposes the owned tuning/statistics record.
func (s *Stream) Properties() *StreamProperties { return s.props }

// FindClientIDFor admits a new session (newSession=true) into a free slot,
// or re-locates an existing session by sessionID. For a new session the
// stream must be enabled and the frontend capable of the requested
// delivery system (§4.5).
func (s *Stream) FindClientIDFor(remote net.IP, rtpPort, rtcpPort int, newSession bool, sessionID string, requested DeliverySystem) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if newSession {
		if !s.enabled {
			return -1, fmt.Errorf("stream %d: disabled", s.id)
		}
		if !s.frontend.CapableOf(requested) {
			return -1, fmt.Errorf("stream %d: frontend cannot handle msys=%s", s.id, requested)
		}
		for i := range s.clients {
			if s.clients[i].Free() {
				s.clients[i].SessionID = uuid.NewString()
				s.clients[i].IP = remote
				s.clients[i].RTPPort = rtpPort
				s.clients[i].RTCPPort = rtcpPort
				s.clients[i].touchWatchdog(s.clock, s.watchdogTimeout)
				return i, nil
			}
		}
		return -1, fmt.Errorf("stream %d: no free client slot", s.id)
	}

	for i := range s.clients {
		if !s.clients[i].Free() && s.clients[i].SessionID == sessionID {
			s.clients[i].IP = remote
			if rtpPort != 0 {
				s.clients[i].RTPPort = rtpPort
			}
			if rtcpPort != 0 {
				s.clients[i].RTCPPort = rtcpPort
			}
			s.clients[i].touchWatchdog(s.clock, s.watchdogTimeout)
			return i, nil
		}
	}
	return -1, fmt.Errorf("stream %d: unknown session %q", s.id, sessionID)
}

// TouchClient restarts clientID's watchdog without otherwise touching its
// address/port state, for request paths (e.g. DESCRIBE) that carry no
// transport parameters to run through ProcessStream but still count as
// session activity (§3/§4.5's watchdog contract).
func (s *Stream) TouchClient(clientID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if clientID < 0 || clientID >= MaxClients || s.clients[clientID].Free() {
		return
	}
	s.clients[clientID].touchWatchdog(s.clock, s.watchdogTimeout)
}

// ProcessStream parses msg's transport parameters and applies them to the
// PidTable/StreamProperties (§4.5, §6). Only the owner (slot 0) may alter
// tuning parameters; a companion's freq=/sr=/msys=/etc. tokens are ignored
// with a warning, preserving "companions...cannot retune" (§4.5 invariant).
func (s *Stream) ProcessStream(msg string, clientID int, verb string) []string {
	pp, warnings := ParseTransportParams(msg)

	s.mu.Lock()
	defer s.mu.Unlock()

	if clientID < 0 || clientID >= MaxClients || s.clients[clientID].Free() {
		return append(warnings, "processStream: unknown client")
	}
	s.clients[clientID].CSeq++
	s.clients[clientID].canClose = verb == "TEARDOWN"
	s.clients[clientID].touchWatchdog(s.clock, s.watchdogTimeout)

	isOwner := clientID == 0
	if isOwner {
		s.applyTuning(pp)
	} else if tuningPresent(pp) {
		warnings = append(warnings, "companion client attempted to retune, ignored")
	}

	s.applyPids(pp)

	return warnings
}

func tuningPresent(pp ParsedParams) bool {
	return pp.FreqKHz != nil || pp.SRSymPS != nil || pp.Msys != nil || pp.Pol != nil ||
		pp.Src != nil || pp.Plts != nil || pp.Ro != nil || pp.Fec != nil || pp.Mtype != nil ||
		pp.SpecInv != nil || pp.BandwidthHz != nil || pp.Tmode != nil || pp.GI != nil ||
		pp.PLP != nil || pp.T2ID != nil || pp.SM != nil
}

// applyTuning mutates StreamProperties' tuning fields. Per §4.5, only
// freq= carries "new frequency" semantics that clear the PidTable;
// assumed locked: caller holds s.mu.
func (s *Stream) applyTuning(pp ParsedParams) {
	if tuningPresent(pp) {
		s.props.MarkChanged()
	}
	if pp.FreqKHz != nil {
		s.props.FrequencyKHz = *pp.FreqKHz
		s.pidTable.ClearAll()
	}
	if pp.SRSymPS != nil {
		s.props.SymbolRateSymPS = *pp.SRSymPS
	}
	if pp.Msys != nil {
		s.props.Delivery = *pp.Msys
	}
	if pp.Pol != nil {
		s.props.Polarization = *pp.Pol
	}
	if pp.Src != nil {
		s.props.DiSEqCSource = *pp.Src
	}
	if pp.Plts != nil {
		s.props.Pilot = *pp.Plts
	}
	if pp.Ro != nil {
		s.props.Rolloff = *pp.Ro
	}
	if pp.Fec != nil {
		s.props.FEC = *pp.Fec
	}
	if pp.Mtype != nil {
		s.props.Modulation = *pp.Mtype
	}
	if pp.SpecInv != nil {
		s.props.SpectralInv = *pp.SpecInv
	}
	if pp.BandwidthHz != nil {
		s.props.BandwidthHz = *pp.BandwidthHz
	}
	if pp.Tmode != nil {
		s.props.TransmissionMode = *pp.Tmode
	}
	if pp.GI != nil {
		s.props.GuardInterval = *pp.GI
	}
	if pp.PLP != nil {
		s.props.PLPID = *pp.PLP
	}
	if pp.T2ID != nil {
		s.props.T2ID = *pp.T2ID
	}
	if pp.SM != nil {
		s.props.SISOMISO = *pp.SM
	}
}

// applyPids mutates the PidTable from pids=/addpids=/delpids= tokens.
// pids=/addpids= are treated identically (both additive) per §6; assumed
// locked: caller holds s.mu.
func (s *Stream) applyPids(pp ParsedParams) {
	for _, sel := range []*PidSelector{pp.Pids, pp.AddPids} {
		if sel == nil {
			continue
		}
		if sel.All {
			s.pidTable.SetAllPID(true)
			continue
		}
		for _, pid := range sel.PIDs {
			s.pidTable.SetPID(pid, true)
		}
	}
	if pp.DelPids != nil {
		if pp.DelPids.All {
			s.pidTable.SetAllPID(false)
		}
		for _, pid := range pp.DelPids.PIDs {
			s.pidTable.SetPID(pid, false)
		}
	}
}

// Update retunes the frontend if tuning parameters changed, or starts the
// producer/sidecar if the stream was not yet active (§4.5).
func (s *Stream) Update(clientID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if clientID < 0 || clientID >= MaxClients || s.clients[clientID].Free() {
		return fmt.Errorf("stream %d: update: unknown client", s.id)
	}

	if s.props.HasChannelDataChanged() {
		if s.active {
			s.producer.Pause()
		}
		params := s.props.Clone()
		if err := s.frontend.Tune(params); err != nil {
			return fmt.Errorf("stream %d: tune failed: %w", s.id, err)
		}
		s.props.InitializeChannelData()
		s.props.BuildDescribeString()
		dvr := s.frontend.DVRReader()
		if s.active {
			if err := s.producer.Restart(dvr); err != nil {
				return fmt.Errorf("stream %d: restart producer: %w", s.id, err)
			}
		} else {
			if err := s.producer.Start(dvr); err != nil {
				return fmt.Errorf("stream %d: start producer: %w", s.id, err)
			}
			s.sidecar.Start()
			s.active = true
		}
		return nil
	}

	if !s.active {
		dvr := s.frontend.DVRReader()
		if err := s.producer.Start(dvr); err != nil {
			return fmt.Errorf("stream %d: start producer: %w", s.id, err)
		}
		s.sidecar.Start()
		s.active = true
	}
	return nil
}

// Close tears down one client slot without cascading.
func (s *Stream) Close(clientID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked(clientID)
}

func (s *Stream) closeLocked(clientID int) {
	if clientID < 0 || clientID >= MaxClients {
		return
	}
	s.clients[clientID].reset()
}

// Teardown tears down clientID. If clientID is the owner (slot 0), every
// other slot is cascaded a non-graceful teardown and the stream goes
// idle, regardless of the graceful flag — this preserves the original's
// acknowledged-but-unresolved companion-teardown behavior (DESIGN.md).
func (s *Stream) Teardown(clientID int, graceful bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if clientID == 0 {
		for i := 1; i < MaxClients; i++ {
			s.closeLocked(i)
		}
		s.closeLocked(0)
		s.frontend.Teardown()
		if s.active {
			s.producer.Close()
			s.sidecar.Close()
			s.active = false
		}
		s.pidTable.ClearAll()
		return
	}
	s.closeLocked(clientID)
}

// CheckStreamClientsWithTimeout sweeps all slots; any whose watchdog
// deadline has passed is torn down non-gracefully.
func (s *Stream) CheckStreamClientsWithTimeout() {
	s.mu.Lock()
	expired := make([]int, 0, MaxClients)
	for i := range s.clients {
		if s.clients[i].CheckWatchDogTimeout(s.clock) {
			expired = append(expired, i)
		}
	}
	s.mu.Unlock()

	for _, id := range expired {
		s.log.Info("client watchdog expired, tearing down", "stream_id", s.id, "client_id", id)
		s.Teardown(id, false)
	}
}

// RingDepth reports the attached producer's current send backlog, or 0 if
// the stream has no producer attached yet.
func (s *Stream) RingDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.producer == nil {
		return 0
	}
	return s.producer.RingDepth()
}

// Snapshot returns a point-in-time view suitable for a future status-page
// collaborator to serialize.
func (s *Stream) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		Enabled:      s.enabled,
		Attached:     s.active,
		Owner:        !s.clients[0].Free(),
		OwnerSession: s.clients[0].SessionID,
		Pids:         s.pidTable.GetPidCSV(),
		CCErrors:     s.pidTable.GetTotalCCErrors(),
		Delivery:     s.props.Delivery.String(),
		FrequencyKHz: s.props.FrequencyKHz,
	}
}

// ClientSnapshot is a read-only view of one slot, used by RtpProducer to
// know where to send and by RtcpSidecar to know which ports to hit.
type ClientSnapshot struct {
	ClientID int
	Free     bool
	IP       net.IP
	RTPPort  int
	RTCPPort int
}

// Clients returns a snapshot of every slot for the producer/sidecar to
// iterate without holding the Stream mutex during I/O.
func (s *Stream) Clients() []ClientSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ClientSnapshot, MaxClients)
	for i := range s.clients {
		out[i] = ClientSnapshot{
			ClientID: i,
			Free:     s.clients[i].Free(),
			IP:       s.clients[i].IP,
			RTPPort:  s.clients[i].RTPPort,
			RTCPPort: s.clients[i].RTCPPort,
		}
	}
	return out
}

// MarkClientSelfDestruct flags a client for garbage collection after a
// transport send failure; the controller reaps it on the next sweep.
func (s *Stream) MarkClientSelfDestruct(clientID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if clientID >= 0 && clientID < MaxClients {
		s.clients[clientID].MarkSelfDestruct()
	}
}

// ReapSelfDestructed closes every slot marked selfDestruct.
func (s *Stream) ReapSelfDestructed() {
	s.mu.Lock()
	toClose := make([]int, 0, MaxClients)
	for i := range s.clients {
		if s.clients[i].SelfDestruct() {
			toClose = append(toClose, i)
		}
	}
	s.mu.Unlock()

	for _, id := range toClose {
		s.Teardown(id, false)
	}
}
