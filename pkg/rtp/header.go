// Package rtp holds the RTP framing constants and in-place header helpers
// used by pkg/mpegts (datagram assembly).
package rtp

import "encoding/binary"

const (
	// Version is the fixed RTP version field this server emits.
	Version = 2

	// PayloadTypeMP2T is the RTP payload type for MPEG2-TS, RFC 2250 §2.
	PayloadTypeMP2T = 33

	// HeaderLen is the fixed 12-byte RTP header length; no CSRC list, no
	// extension, as required by §4.1.
	HeaderLen = 12

	byte0 = 0x80 // version=2, padding=0, extension=0, CSRC count=0
	byte1 = PayloadTypeMP2T
)

// WriteHeader writes a fresh 12-byte RTP header into dst (len(dst) must be
// >= HeaderLen). Sequence is left at zero; TagRTPHeaderWith fills it in on
// first send.
func WriteHeader(dst []byte, ssrc uint32) {
	dst[0] = byte0
	dst[1] = byte1
	binary.BigEndian.PutUint16(dst[2:4], 0) // sequence, set on tag
	binary.BigEndian.PutUint32(dst[4:8], 0) // timestamp, set on tag
	binary.BigEndian.PutUint32(dst[8:12], ssrc)
}

// RewriteSequenceAndTimestamp updates bytes [2,4) and [4,8) of an
// already-initialized header in place, leaving bytes [0,2) and [8,12)
// untouched. This is the "tagRTPHeaderWith" operation of §4.1.
func RewriteSequenceAndTimestamp(dst []byte, seq uint16, timestamp uint32) {
	binary.BigEndian.PutUint16(dst[2:4], seq)
	binary.BigEndian.PutUint32(dst[4:8], timestamp)
}

// SSRC reads the SSRC field out of a header built by WriteHeader.
func SSRC(hdr []byte) uint32 {
	return binary.BigEndian.Uint32(hdr[8:12])
}

// Sequence reads the current sequence field.
func Sequence(hdr []byte) uint16 {
	return binary.BigEndian.Uint16(hdr[2:4])
}

// Timestamp reads the current timestamp field.
func Timestamp(hdr []byte) uint32 {
	return binary.BigEndian.Uint32(hdr[4:8])
}
