// Package frontend names the collaborator seam between the streaming
// engine and the hardware that actually tunes a DVB device and exposes its
// captured transport stream. No ioctl or driver code lives here — per
// spec.md's Non-goals, frontend internals are an external collaborator.
//
// The interfaces themselves are declared in pkg/stream (the consumer that
// owns a Frontend) to avoid an import cycle between the two packages;
// Frontend and DVR here are aliases of those so callers can depend on this
// package's name for the collaborator contract without reaching into
// pkg/stream for it.
package frontend

import "github.com/satipd/satipd/pkg/stream"

// Frontend tunes to requested parameters and exposes the resulting DVR
// read side.
type Frontend = stream.Frontend

// DVR is the read side of a tuned DVB device; SetReadDeadline lets the
// producer poll with a bounded timeout (§4.3 step 2) instead of blocking
// forever on a stalled frontend.
type DVR = stream.DVR
