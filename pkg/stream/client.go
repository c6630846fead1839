package stream

import (
	"net"
	"time"
)

// Clock is the injected monotonic time collaborator so watchdog timeout
// tests are deterministic instead of racing real wall-clock time (§9
// "Global state": "Time source is a single monotonic tick service injected
// as a collaborator").
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// freeSessionID marks a slot with no admitted client.
const freeSessionID = "-1"

// StreamClient is one RTSP session's endpoint record: where to send RTP/
// RTCP, which session owns the slot, and its watchdog/teardown state (§3).
type StreamClient struct {
	ClientID int
	IP       net.IP
	RTPPort  int
	RTCPPort int
	SessionID string
	CSeq      uint32

	watchdogDeadline time.Time
	canClose         bool
	selfDestruct     bool
}

// Free reports whether this slot holds no admitted session.
func (c *StreamClient) Free() bool {
	return c.SessionID == "" || c.SessionID == freeSessionID
}

// reset returns the slot to its free state.
func (c *StreamClient) reset() {
	c.IP = nil
	c.RTPPort = 0
	c.RTCPPort = 0
	c.SessionID = freeSessionID
	c.CSeq = 0
	c.watchdogDeadline = time.Time{}
	c.canClose = false
	c.selfDestruct = false
}

// touchWatchdog extends the watchdog deadline by timeout from now.
func (c *StreamClient) touchWatchdog(clock Clock, timeout time.Duration) {
	c.watchdogDeadline = clock.Now().Add(timeout)
}

// CheckWatchDogTimeout reports whether the watchdog deadline has passed.
func (c *StreamClient) CheckWatchDogTimeout(clock Clock) bool {
	if c.Free() {
		return false
	}
	return clock.Now().After(c.watchdogDeadline)
}

// CanClose reports whether the last RTSP verb processed for this session
// was TEARDOWN. Whether the request carried a Session header is not
// tracked and does not set it.
func (c *StreamClient) CanClose() bool {
	return c.canClose
}

// MarkSelfDestruct flags the client for garbage collection by the
// controller, e.g. after a transport send failure (§7 "Transport error").
func (c *StreamClient) MarkSelfDestruct() {
	c.selfDestruct = true
}

// SelfDestruct reports whether this client has been marked for teardown.
func (c *StreamClient) SelfDestruct() bool {
	return c.selfDestruct
}
