package producer

import (
	"net"
	"time"

	"testing"

	"github.com/satipd/satipd/pkg/logger"
	"github.com/satipd/satipd/pkg/mpegts"
	"github.com/satipd/satipd/pkg/stream"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

type fakeDVR struct {
	reads [][]byte
	idx   int
}

func (d *fakeDVR) Read(p []byte) (int, error) {
	if d.idx >= len(d.reads) {
		return 0, timeoutErr{}
	}
	n := copy(p, d.reads[d.idx])
	d.idx++
	return n, nil
}

func (d *fakeDVR) SetReadDeadline(time.Time) error { return nil }

type fakeLister struct {
	clients     []stream.ClientSnapshot
	destructed  []int
}

func (f *fakeLister) Clients() []stream.ClientSnapshot { return f.clients }
func (f *fakeLister) MarkClientSelfDestruct(id int)    { f.destructed = append(f.destructed, id) }

func threeSyncedTSPackets() []byte {
	buf := make([]byte, 3*188)
	for i := 0; i < 3; i++ {
		buf[i*188] = 0x47
		buf[i*188+1] = 0x00
		buf[i*188+2] = 0x20 // PID 32
		buf[i*188+3] = 0x10 // CC 0
	}
	return buf
}

func newTestProducer(t *testing.T, lister ClientLister) (*RtpProducer, *mpegts.PidTable, *stream.StreamProperties) {
	t.Helper()
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)

	pidTable := mpegts.NewPidTable()
	props := stream.NewStreamProperties(0x11223344)
	p := New(pidTable, props, lister, nil, log)
	return p, pidTable, props
}

func TestCaptureOnePassSyncsAndDispatchesToClient(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer conn.Close()
	port := conn.LocalAddr().(*net.UDPAddr).Port

	lister := &fakeLister{clients: []stream.ClientSnapshot{
		{ClientID: 0, Free: false, IP: net.ParseIP("127.0.0.1"), RTPPort: port},
	}}
	p, _, _ := newTestProducer(t, lister)
	p.dvr = &fakeDVR{reads: [][]byte{threeSyncedTSPackets()}}

	require.NoError(t, p.captureOnePass())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	out := make([]byte, 2000)
	n, _, err := conn.ReadFromUDP(out)
	require.NoError(t, err)
	require.Equal(t, 12+3*188, n)
	require.Equal(t, byte(0x80), out[0])
	require.Equal(t, byte(33), out[1])
}

func TestCaptureOnePassTracksPIDDataEvenWithNilFilter(t *testing.T) {
	lister := &fakeLister{}
	p, pidTable, _ := newTestProducer(t, lister)
	require.Nil(t, p.filter)

	buf := threeSyncedTSPackets()
	for i := 0; i < 3; i++ {
		buf[i*188+3] = 0x10 | byte(i) // incrementing CC, no discontinuity
	}
	p.dvr = &fakeDVR{reads: [][]byte{buf}}

	require.NoError(t, p.captureOnePass())

	require.Equal(t, uint64(3), pidTable.GetPacketCounter(32))
	require.Equal(t, uint64(0), pidTable.GetTotalCCErrors())
}

func TestCaptureOnePassIgnoresIncompleteBuffer(t *testing.T) {
	lister := &fakeLister{}
	p, _, _ := newTestProducer(t, lister)
	p.dvr = &fakeDVR{reads: [][]byte{{0x47, 0x00, 0x20, 0x10}}}

	require.NoError(t, p.captureOnePass())
	require.False(t, p.ring[0].IsSynced())
}

func TestSenderDropsOldestWhenQueueFull(t *testing.T) {
	// Built directly, bypassing newClientSender, so no drainLoop goroutine
	// races the queue while the test inspects it.
	s := &clientSender{
		clientID: 1,
		signal:   make(chan struct{}, 1),
		closeCh:  make(chan struct{}),
	}

	for i := 0; i < sendQueueDepth; i++ {
		require.True(t, s.enqueue([]byte{byte(i)}))
	}
	require.False(t, s.enqueue([]byte{0xFF}))

	s.queueMu.Lock()
	require.Len(t, s.queue, sendQueueDepth)
	require.Equal(t, byte(1), s.queue[0][0])
	s.queueMu.Unlock()
}
