// Package mpegts implements the fixed-capacity RTP/MPEG-TS packet buffer
// (PacketBuffer) and the per-PID reconciliation table (PidTable) that sit
// between the DVB DVR device and the RTP send path.
package mpegts

import (
	"fmt"

	satiprtp "github.com/satipd/satipd/pkg/rtp"
)

const (
	// MTU is the maximum size of one RTP/UDP datagram this server emits.
	MTU = 1500

	// RTPHeaderLen is the fixed RTP header size reserved at the head of
	// every buffer.
	RTPHeaderLen = satiprtp.HeaderLen

	// tsPacketSize is one MPEG-TS packet: a sync byte, header, payload.
	tsPacketSize = 188

	// MTUMaxTSPacketSize is the largest integral number of 188-byte TS
	// packets that fit after the RTP header within MTU.
	MTUMaxTSPacketSize = ((MTU - RTPHeaderLen) / tsPacketSize) * tsPacketSize

	syncByte = 0x47
	purgeTag = 0xFF
)

// PacketBuffer is a fixed-capacity byte buffer sized to hold exactly one RTP
// datagram: a 12-byte RTP header followed by an integral number of 188-byte
// TS packets. It never allocates on the hot path; every field is a plain
// value so a ring of these can live in a stack/array-backed slice.
type PacketBuffer struct {
	buf [MTU]byte

	writeIndex     int
	processedIndex int
	initialized    bool
	purgePending   int
	synced         bool
}

// Initialize writes a fresh RTP header (version=2, PT=33) at the head of the
// buffer and marks it ready to accept TS payload. Sequence is left at zero
// until the first TagRTPHeaderWith call.
func (b *PacketBuffer) Initialize(ssrc uint32, ts int64) {
	satiprtp.WriteHeader(b.buf[:RTPHeaderLen], ssrc)
	b.writeIndex = RTPHeaderLen
	b.processedIndex = RTPHeaderLen
	b.purgePending = 0
	b.synced = false
	b.initialized = true
	_ = ts // timestamp is applied per-send via TagRTPHeaderWith, not at init
}

// Reset empties the payload and clears the sync and purge state, used when
// TrySyncing fails to find a sync pattern. The RTP header written by
// Initialize and the Initialized flag are kept.
func (b *PacketBuffer) Reset() {
	b.writeIndex = RTPHeaderLen
	b.processedIndex = RTPHeaderLen
	b.purgePending = 0
	b.synced = false
}

// WriteSlot returns the mutable region available for the next read: from
// the current writeIndex up to the maximum payload size. The caller (the
// producer's DVR read loop) copies bytes into this slice and then calls
// AdvanceWrite with however many bytes it actually consumed.
func (b *PacketBuffer) WriteSlot() []byte {
	end := RTPHeaderLen + MTUMaxTSPacketSize
	if b.writeIndex >= end {
		return nil
	}
	return b.buf[b.writeIndex:end]
}

// AdvanceWrite moves writeIndex forward by n bytes, as read into the slice
// returned by the most recent WriteSlot call.
func (b *PacketBuffer) AdvanceWrite(n int) {
	b.writeIndex += n
}

// IsSynced reports whether the payload currently begins with a sync byte
// and the buffer has been through a successful resync pass.
func (b *PacketBuffer) IsSynced() bool {
	return b.synced && b.writeIndex > RTPHeaderLen && b.buf[RTPHeaderLen] == syncByte
}

// TrySyncing looks for three consecutive TS sync bytes 188 apart within the
// payload window. If the payload already begins with 0x47 and is marked
// synced, it is a no-op returning true. Otherwise it scans for the pattern
// and shifts the matching region to the head of the payload, adjusting
// writeIndex and processedIndex downward by the number of skipped bytes. If
// no pattern is found, the buffer is reset and TrySyncing returns false.
func (b *PacketBuffer) TrySyncing() bool {
	if b.IsSynced() {
		return true
	}

	available := b.writeIndex - RTPHeaderLen
	if available < 3*tsPacketSize {
		return false
	}

	scanEnd := MTUMaxTSPacketSize - 2*tsPacketSize
	for skip := 0; skip <= scanEnd; skip++ {
		pos := RTPHeaderLen + skip
		if pos+2*tsPacketSize >= b.writeIndex {
			break
		}
		if b.buf[pos] == syncByte &&
			b.buf[pos+tsPacketSize] == syncByte &&
			b.buf[pos+2*tsPacketSize] == syncByte {
			if skip > 0 {
				copy(b.buf[RTPHeaderLen:], b.buf[pos:b.writeIndex])
				b.writeIndex -= skip
				b.processedIndex -= skip
				if b.processedIndex < RTPHeaderLen {
					b.processedIndex = RTPHeaderLen
				}
			}
			b.synced = true
			return true
		}
	}

	b.Reset()
	return false
}

// MarkTSForPurging flags the n-th TS packet (0-indexed, within the current
// payload) to be dropped on the next Purge call. It sets the packet's
// second byte to 0xFF, leaving the leading 0x47 sync byte untouched so a
// concurrent resync scan is never confused by a marked packet.
func (b *PacketBuffer) MarkTSForPurging(n int) error {
	offset := RTPHeaderLen + n*tsPacketSize
	if offset+1 >= b.writeIndex {
		return fmt.Errorf("mpegts: mark packet %d for purging: out of range (writeIndex=%d)", n, b.writeIndex)
	}
	if b.buf[offset+1] != purgeTag {
		b.buf[offset+1] = purgeTag
		b.purgePending++
	}
	return nil
}

// Purge compacts the payload by removing every TS packet marked by
// MarkTSForPurging, copying each kept packet forward over the gaps in one
// front-to-back pass. writeIndex is reduced by 188 bytes per purged packet
// and purgePending is reset to zero.
func (b *PacketBuffer) Purge() {
	if b.purgePending == 0 {
		return
	}

	src := RTPHeaderLen
	dst := RTPHeaderLen
	for src < b.writeIndex {
		if b.buf[src+1] == purgeTag {
			src += tsPacketSize
			continue
		}
		if dst != src {
			copy(b.buf[dst:dst+tsPacketSize], b.buf[src:src+tsPacketSize])
		}
		dst += tsPacketSize
		src += tsPacketSize
	}

	b.writeIndex = dst
	b.processedIndex = dst
	b.purgePending = 0
}

// TagRTPHeaderWith rewrites the sequence and timestamp fields of the RTP
// header in place. It is idempotent: calling it again before the buffer is
// sent simply overwrites the same two fields.
func (b *PacketBuffer) TagRTPHeaderWith(seq uint16, ts int64) {
	satiprtp.RewriteSequenceAndTimestamp(b.buf[:RTPHeaderLen], seq, uint32(ts))
}

// GetCurrentBufferSize returns the number of TS payload bytes currently
// held, excluding the RTP header.
func (b *PacketBuffer) GetCurrentBufferSize() int {
	return b.writeIndex - RTPHeaderLen
}

// Datagram returns the full RTP datagram ready for sendto: the 12-byte
// header followed by the current TS payload.
func (b *PacketBuffer) Datagram() []byte {
	return b.buf[:b.writeIndex]
}

// Initialized reports whether Initialize has been called; Reset does not
// clear it.
func (b *PacketBuffer) Initialized() bool {
	return b.initialized
}

// PacketCount returns the number of whole 188-byte TS packets currently
// held.
func (b *PacketBuffer) PacketCount() int {
	return b.GetCurrentBufferSize() / tsPacketSize
}

// PacketAt returns the n-th TS packet's 188 bytes (read-only view).
func (b *PacketBuffer) PacketAt(n int) []byte {
	offset := RTPHeaderLen + n*tsPacketSize
	return b.buf[offset : offset+tsPacketSize]
}
