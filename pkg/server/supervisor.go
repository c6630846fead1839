// Package server implements Supervisor: the process-wide owner of every
// configured Stream, running the watchdog sweep that drives
// CheckStreamClientsWithTimeout/ReapSelfDestructed and tracking per-stream
// retune health so a persistently failing frontend backs off instead of
// being hammered by every RTSP PLAY.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/satipd/satipd/pkg/logger"
	"github.com/satipd/satipd/pkg/metrics"
	"github.com/satipd/satipd/pkg/stream"
)

// StreamState is a stream's retune health, independent of its §4.5
// enabled/active fields — this tracks whether Update (frontend retune)
// keeps failing, not whether a client is attached.
type StreamState int

const (
	StateStarting StreamState = iota
	StateRunning
	StateFailed
	StateDegraded
	StateStopped
)

func (s StreamState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	case StateDegraded:
		return "degraded"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config tunes the Supervisor's sweep cadence and retune-failure backoff.
type Config struct {
	SweepInterval     time.Duration
	MaxFailures       int
	DegradedRetry     time.Duration
	RecoveryBaseDelay time.Duration
}

// DefaultConfig mirrors the teacher's 20-camera defaults, scaled to a
// handful of DVB frontends rather than dozens of cloud cameras.
func DefaultConfig() Config {
	return Config{
		SweepInterval:     5 * time.Second,
		MaxFailures:       5,
		DegradedRetry:     5 * time.Minute,
		RecoveryBaseDelay: 10 * time.Second,
	}
}

type managedStream struct {
	id              int
	s               *stream.Stream
	state           StreamState
	failureCount    int
	lastError       error
	lastAttempt     time.Time
	recoveryBackoff time.Duration

	// lastSPC/lastSOC let sampleMetrics report PacketsSent/OctetsSent as
	// per-sweep deltas, since the Counter metrics they feed may only ever
	// be incremented, not set to an absolute value.
	lastSPC uint64
	lastSOC uint64
}

// Supervisor owns every Stream in the process and the watchdog sweep that
// keeps their client slots honest, grounded on the teacher's
// MultiStreamManager (camera IDs -> stream indices, Nest/Cloudflare
// reconnect failures -> frontend retune failures).
type Supervisor struct {
	log    *logger.Logger
	config Config

	mu      sync.RWMutex
	streams map[int]*managedStream

	metrics *metrics.Registry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns an empty Supervisor; streams are registered with AddStream.
func New(config Config, log *logger.Logger) *Supervisor {
	return &Supervisor{
		log:     log,
		config:  config,
		streams: make(map[int]*managedStream),
	}
}

// SetMetrics attaches the Prometheus registry sweepOnce samples into.
// Unset by default so tests that never call it keep running metrics-free.
func (sup *Supervisor) SetMetrics(reg *metrics.Registry) {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	sup.metrics = reg
}

// AddStream registers s under id, in StateStarting.
func (sup *Supervisor) AddStream(id int, s *stream.Stream) {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	sup.streams[id] = &managedStream{id: id, s: s, state: StateStarting}
}

// StreamByID returns the registered stream, if any.
func (sup *Supervisor) StreamByID(id int) (*stream.Stream, bool) {
	sup.mu.RLock()
	defer sup.mu.RUnlock()
	ms, ok := sup.streams[id]
	if !ok {
		return nil, false
	}
	return ms.s, true
}

// Start begins the watchdog sweep loop.
func (sup *Supervisor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	sup.ctx, sup.cancel = ctx, cancel
	sup.wg.Add(1)
	go sup.sweepLoop(ctx)
}

// Stop halts the sweep loop and tears down every registered stream's
// attached clients.
func (sup *Supervisor) Stop() {
	if sup.cancel != nil {
		sup.cancel()
	}
	sup.wg.Wait()

	sup.mu.Lock()
	defer sup.mu.Unlock()
	for _, ms := range sup.streams {
		ms.s.Teardown(0, false)
		ms.state = StateStopped
	}
}

func (sup *Supervisor) sweepLoop(ctx context.Context) {
	defer sup.wg.Done()

	ticker := time.NewTicker(sup.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sup.sweepOnce()
		}
	}
}

func (sup *Supervisor) sweepOnce() {
	sup.mu.RLock()
	streams := make([]*managedStream, 0, len(sup.streams))
	for _, ms := range sup.streams {
		streams = append(streams, ms)
	}
	reg := sup.metrics
	sup.mu.RUnlock()

	for _, ms := range streams {
		ms.s.CheckStreamClientsWithTimeout()
		ms.s.ReapSelfDestructed()
		if reg != nil {
			sup.sampleMetrics(reg, ms)
		}
	}
}

// sampleMetrics feeds one Stream's current counters/gauges into reg, the
// periodic sampler the RTSP/producer hot paths never call themselves
// (those packages report into the Stream/producer's own stats, not
// Prometheus directly).
func (sup *Supervisor) sampleMetrics(reg *metrics.Registry, ms *managedStream) {
	stats := ms.s.Properties().Stats()
	snap := ms.s.Snapshot()

	sentDelta := int(stats.SPC - ms.lastSPC)
	octetsDelta := int(stats.SOC - ms.lastSOC)
	ms.lastSPC = stats.SPC
	ms.lastSOC = stats.SOC

	activeClients := 0
	for _, c := range ms.s.Clients() {
		if !c.Free {
			activeClients++
		}
	}

	reg.ObserveStream(ms.id, sentDelta, octetsDelta, snap.CCErrors, activeClients, ms.s.RingDepth())
}

// RecordUpdateResult is fed back by the RTSP dispatcher after each
// Stream.Update call so a persistently failing frontend moves through
// Failed -> Degraded and is backed off, rather than retried on every
// PLAY.
func (sup *Supervisor) RecordUpdateResult(id int, err error) {
	sup.mu.Lock()
	defer sup.mu.Unlock()

	ms, ok := sup.streams[id]
	if !ok {
		return
	}

	if err == nil {
		ms.state = StateRunning
		ms.failureCount = 0
		ms.lastError = nil
		return
	}

	ms.failureCount++
	ms.lastError = err
	ms.lastAttempt = time.Now()
	ms.state = StateFailed

	if ms.failureCount >= sup.config.MaxFailures {
		ms.state = StateDegraded
		ms.recoveryBackoff = sup.config.DegradedRetry
		sup.log.Error("stream marked degraded after repeated retune failures",
			"stream_id", id, "failure_count", ms.failureCount)
	}
}

// CanAttempt reports whether the dispatcher should even try Update for
// id: always true unless the stream is degraded and still inside its
// backoff window, in which case retries are exponential per failure
// count (capped at 5 minutes), matching the teacher's recoveryLoop
// formula.
func (sup *Supervisor) CanAttempt(id int) bool {
	sup.mu.RLock()
	defer sup.mu.RUnlock()

	ms, ok := sup.streams[id]
	if !ok || ms.state != StateDegraded {
		return true
	}

	delay := sup.config.RecoveryBaseDelay * time.Duration(1<<uint(minInt(ms.failureCount, 10)))
	if delay > 5*time.Minute {
		delay = 5 * time.Minute
	}
	return time.Since(ms.lastAttempt) >= delay
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Status is a point-in-time view of one managed stream's retune health.
type Status struct {
	StreamID     int
	State        StreamState
	FailureCount int
	LastError    error
}

// Snapshot returns the retune health of every registered stream.
func (sup *Supervisor) Snapshot() []Status {
	sup.mu.RLock()
	defer sup.mu.RUnlock()

	out := make([]Status, 0, len(sup.streams))
	for id, ms := range sup.streams {
		out = append(out, Status{StreamID: id, State: ms.state, FailureCount: ms.failureCount, LastError: ms.lastError})
	}
	return out
}
