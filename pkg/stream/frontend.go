package stream

import (
	"io"
	"time"
)

// DVR is the read side of a tuned DVB device. It mirrors poll+read over a
// character device: SetReadDeadline lets the producer poll with a bounded
// timeout (§4.3 step 2) instead of blocking forever on a stalled frontend.
type DVR interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// Frontend tunes to requested parameters and exposes the resulting DVR
// read side. This interface is declared here, in the consuming package,
// per Go convention; pkg/frontend aliases it for the collaborator seam
// named in the component design (§6).
type Frontend interface {
	// CapableOf reports whether this frontend can service the given
	// delivery system.
	CapableOf(ds DeliverySystem) bool

	// Tune applies the requested tuning parameters. It returns an error
	// if the frontend refuses them (§7 "Tune error").
	Tune(params TuningParams) error

	// DVRReader returns the current DVR character-device reader. Valid
	// only after a successful Tune; returns nil before the first tune.
	DVRReader() DVR

	// IsTuned reports whether the frontend currently holds a valid tune.
	IsTuned() bool

	// Teardown releases the tuned frontend and closes the DVR reader.
	Teardown()
}
