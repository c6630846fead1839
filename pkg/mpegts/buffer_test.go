package mpegts_test

import (
	"testing"

	"github.com/satipd/satipd/pkg/mpegts"
	"github.com/satipd/satipd/pkg/rtp"
	"github.com/stretchr/testify/require"
)

func fillTSPackets(t *testing.T, buf *mpegts.PacketBuffer, n int) {
	t.Helper()
	slot := buf.WriteSlot()
	require.GreaterOrEqual(t, len(slot), n*188)
	for i := 0; i < n; i++ {
		slot[i*188] = 0x47
		slot[i*188+1] = 0x00 // not purge-tagged
	}
	buf.AdvanceWrite(n * 188)
}

func TestInitializeWritesFixedRTPFields(t *testing.T) {
	var buf mpegts.PacketBuffer
	buf.Initialize(0xcafebabe, 0)

	dg := buf.Datagram()
	require.Equal(t, byte(0x80), dg[0])
	require.Equal(t, byte(rtp.PayloadTypeMP2T), dg[1])
	require.Equal(t, uint32(0xcafebabe), rtp.SSRC(dg))
	require.Equal(t, 0, buf.GetCurrentBufferSize())
}

func TestTrySyncingAlreadySynced(t *testing.T) {
	var buf mpegts.PacketBuffer
	buf.Initialize(1, 0)
	fillTSPackets(t, &buf, 3)

	ok := buf.TrySyncing()
	require.True(t, ok)
	require.True(t, buf.IsSynced())
}

func TestTrySyncingInsufficientDataReturnsFalseWithoutMutation(t *testing.T) {
	var buf mpegts.PacketBuffer
	buf.Initialize(1, 0)
	fillTSPackets(t, &buf, 1) // less than 3 packets

	ok := buf.TrySyncing()
	require.False(t, ok)
	require.Equal(t, 188, buf.GetCurrentBufferSize())
}

// Scenario 4: TS desync recovery. A 47-byte garbage prefix precedes a valid
// 0x47/188/188 pattern; TrySyncing must memmove the payload to the head and
// reduce writeIndex by exactly the 47-byte skip.
func TestTrySyncingRecoversFromGarbagePrefix(t *testing.T) {
	var buf mpegts.PacketBuffer
	buf.Initialize(1, 0)

	slot := buf.WriteSlot()
	for i := 0; i < 47; i++ {
		slot[i] = 0xAA
	}
	for i := 0; i < 3; i++ {
		slot[47+i*188] = 0x47
	}
	buf.AdvanceWrite(47 + 3*188)
	sizeBefore := buf.GetCurrentBufferSize()

	ok := buf.TrySyncing()
	require.True(t, ok)
	require.Equal(t, sizeBefore-47, buf.GetCurrentBufferSize())
	require.Equal(t, byte(0x47), buf.Datagram()[mpegts.RTPHeaderLen])
}

// Scenario 6: mark packets 2 and 3 of a 7-packet buffer, purge, and expect
// 5 packets remain in original order with writeIndex down by 376 (2*188).
func TestPurgeRemovesMarkedPacketsInOrder(t *testing.T) {
	var buf mpegts.PacketBuffer
	buf.Initialize(1, 0)

	slot := buf.WriteSlot()
	for i := 0; i < 7; i++ {
		slot[i*188] = 0x47
		slot[i*188+1] = byte(i) // distinguish packets by their second byte
	}
	buf.AdvanceWrite(7 * 188)
	sizeBefore := buf.GetCurrentBufferSize()

	require.NoError(t, buf.MarkTSForPurging(2))
	require.NoError(t, buf.MarkTSForPurging(3))

	buf.Purge()

	require.Equal(t, sizeBefore-2*188, buf.GetCurrentBufferSize())
	require.Equal(t, 5, buf.PacketCount())

	wantOrder := []byte{0, 1, 4, 5, 6}
	for i, want := range wantOrder {
		require.Equal(t, byte(0x47), buf.PacketAt(i)[0])
		require.Equal(t, want, buf.PacketAt(i)[1])
	}
}

func TestPurgeLeavesNoPurgeTagBehind(t *testing.T) {
	var buf mpegts.PacketBuffer
	buf.Initialize(1, 0)
	fillTSPackets(t, &buf, 5)

	require.NoError(t, buf.MarkTSForPurging(1))
	require.NoError(t, buf.MarkTSForPurging(4))
	buf.Purge()

	for i := 0; i < buf.PacketCount(); i++ {
		require.NotEqual(t, byte(0xFF), buf.PacketAt(i)[1])
	}
}

func TestTagRTPHeaderWithLeavesFixedFieldsUntouched(t *testing.T) {
	var buf mpegts.PacketBuffer
	buf.Initialize(99, 0)

	dg := buf.Datagram()
	before0, before1 := dg[0], dg[1]
	beforeSSRC := rtp.SSRC(dg)

	buf.TagRTPHeaderWith(7, 90000*33)

	dg = buf.Datagram()
	require.Equal(t, before0, dg[0])
	require.Equal(t, before1, dg[1])
	require.Equal(t, beforeSSRC, rtp.SSRC(dg))
	require.Equal(t, uint16(7), rtp.Sequence(dg))
	require.Equal(t, uint32(90000*33), rtp.Timestamp(dg))
}

func TestMarkTSForPurgingOutOfRange(t *testing.T) {
	var buf mpegts.PacketBuffer
	buf.Initialize(1, 0)
	fillTSPackets(t, &buf, 2)

	err := buf.MarkTSForPurging(5)
	require.Error(t, err)
}
