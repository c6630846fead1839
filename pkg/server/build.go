package server

import (
	"sync"

	"github.com/satipd/satipd/pkg/logger"
	"github.com/satipd/satipd/pkg/producer"
	"github.com/satipd/satipd/pkg/rtcp"
	"github.com/satipd/satipd/pkg/stream"
)

// streamBinding resolves the cyclic controller<->producer/sidecar
// reference: producer.New/rtcp.New need a ClientLister before the Stream
// they'll serve exists, so BuildStream hands them this binding and fills
// in the real Stream once it's built.
type streamBinding struct {
	mu sync.RWMutex
	s  *stream.Stream
}

func (b *streamBinding) Clients() []stream.ClientSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.s == nil {
		return nil
	}
	return b.s.Clients()
}

func (b *streamBinding) MarkClientSelfDestruct(clientID int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.s != nil {
		b.s.MarkClientSelfDestruct(clientID)
	}
}

func (b *streamBinding) bind(s *stream.Stream) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.s = s
}

// BuildStream wires one Stream's PidTable/StreamProperties to a fresh
// RtpProducer and RtcpSidecar and attaches them, grounded on the teacher's
// generateStream (one fully wired CameraStream per camera, built by the
// composition root rather than by the stream itself).
func BuildStream(id int, frontend stream.Frontend, filter producer.PidFilter, log *logger.Logger) *stream.Stream {
	s := stream.New(id, frontend, stream.SystemClock{}, log)

	binding := &streamBinding{}
	prod := producer.New(s.PidTable(), s.Properties(), binding, filter, log)
	side := rtcp.New(s.Properties().SSRC(), s.Properties(), binding, log)
	s.Attach(prod, side)
	binding.bind(s)

	return s
}
