package rtcp

import (
	"net"
	"testing"
	"time"

	pionrtcp "github.com/pion/rtcp"
	"github.com/satipd/satipd/pkg/logger"
	"github.com/satipd/satipd/pkg/stream"
	"github.com/stretchr/testify/require"
)

type fakeStats struct {
	snap stream.StatSnapshot
	rate int
	desc string
}

func (f *fakeStats) Stats() stream.StatSnapshot { return f.snap }
func (f *fakeStats) RTCPUpdateRate() int        { return f.rate }
func (f *fakeStats) DescribeString() string     { return f.desc }

type fakeClients struct {
	clients []stream.ClientSnapshot
}

func (f *fakeClients) Clients() []stream.ClientSnapshot { return f.clients }

func TestSenderReportIs28Bytes(t *testing.T) {
	sr := &pionrtcp.SenderReport{SSRC: 1, NTPTime: 0, RTPTime: 0, PacketCount: 0, OctetCount: 0}
	b, err := sr.Marshal()
	require.NoError(t, err)
	require.Len(t, b, 28)
	require.Equal(t, uint8(200), b[1])
}

func TestSourceDescriptionIs20Bytes(t *testing.T) {
	sdes := &pionrtcp.SourceDescription{
		Chunks: []pionrtcp.SourceDescriptionChunk{
			{Source: 1, Items: []pionrtcp.SourceDescriptionItem{
				{Type: pionrtcp.SDESCNAME, Text: cnameText},
			}},
		},
	}
	b, err := sdes.Marshal()
	require.NoError(t, err)
	require.Len(t, b, 20)
	require.Equal(t, uint8(202), b[1])
}

func TestAppPacketLayout(t *testing.T) {
	app := appPacket{ssrc: 0xAABBCCDD, desc: "rtsp://stream/1"}
	b, err := app.marshal()
	require.NoError(t, err)

	require.Equal(t, byte(0x80), b[0])
	require.Equal(t, byte(204), b[1])
	require.Equal(t, "SES1", string(b[8:12]))
	require.Equal(t, 0, len(b)%4)
	require.True(t, len(b) >= 16+len(app.desc))
}

func TestBuildCompoundConcatenatesSRThenSDESThenAPP(t *testing.T) {
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)

	props := &fakeStats{snap: stream.StatSnapshot{SSRC: 42, SPC: 10, SOC: 1880}, rate: 1, desc: "d"}
	s := New(42, props, &fakeClients{}, log)

	compound, err := s.buildCompound()
	require.NoError(t, err)
	require.Equal(t, uint8(200), compound[1])

	sdesOffset := 28
	require.Equal(t, uint8(202), compound[sdesOffset+1])

	appOffset := sdesOffset + 20
	require.Equal(t, uint8(204), compound[appOffset+1])
}

func TestSidecarSendsCompoundPacketToClient(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer conn.Close()
	port := conn.LocalAddr().(*net.UDPAddr).Port

	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)

	props := &fakeStats{snap: stream.StatSnapshot{}, rate: 1, desc: "d"}
	clients := &fakeClients{clients: []stream.ClientSnapshot{
		{ClientID: 0, Free: false, IP: net.ParseIP("127.0.0.1"), RTCPPort: port},
	}}
	s := New(7, props, clients, log)
	s.Start()
	defer s.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	out := make([]byte, 2000)
	n, _, err := conn.ReadFromUDP(out)
	require.NoError(t, err)
	require.Greater(t, n, 28+20)
}
