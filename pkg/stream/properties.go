package stream

import (
	"sync"

	"github.com/pion/sdp/v3"
)

// StreamProperties holds the requested tuning parameters for a Stream and
// the live statistics the RtpProducer/RtcpSidecar publish (§3, §4.4). All
// access is serialized by a mutex since the controller thread writes
// tuning fields while the producer/sidecar threads read statistics fields
// concurrently (§5 "Shared-resource policy").
type StreamProperties struct {
	mu sync.Mutex

	// Tuning parameters (§3 "StreamProperties").
	FrequencyKHz     int64
	SymbolRateSymPS  int64
	Delivery         DeliverySystem
	Polarization     Polarization
	DiSEqCSource     int
	Pilot            Toggle
	Rolloff          Rolloff
	FEC              FEC
	Modulation       Modulation
	BandwidthHz      int64
	TransmissionMode TransmissionMode
	GuardInterval    GuardInterval
	PLPID            int
	T2ID             int
	SISOMISO         int
	SpectralInv      int

	// Live statistics (§3, §4.4).
	ssrc            uint32
	spc             uint64 // sent packet count
	soc              uint64 // sent octet count
	timestamp       uint32 // RTP 90kHz clock
	rtcpUpdateRate  int    // multiplier on the 200ms RTCP base period
	describe        string

	changed bool
}

// NewStreamProperties returns a StreamProperties with an assigned SSRC and
// every tuning field at its zero/auto default.
func NewStreamProperties(ssrc uint32) *StreamProperties {
	return &StreamProperties{
		ssrc:           ssrc,
		Pilot:          ToggleAuto,
		Rolloff:        RolloffAuto,
		FEC:            FECAuto,
		TransmissionMode: TransmissionModeAuto,
		GuardInterval:  GuardIntervalAuto,
		rtcpUpdateRate: 1,
	}
}

// HasChannelDataChanged reports whether a tuning parameter was modified
// since the last InitializeChannelData (i.e. since the last retune).
func (p *StreamProperties) HasChannelDataChanged() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.changed
}

// MarkChanged flags that a tuning parameter has been mutated; called by
// Stream.ProcessStream whenever the owner's request carries a `freq=`/
// `sr=`/etc. tuning parameter.
func (p *StreamProperties) MarkChanged() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = true
}

// InitializeChannelData clears the changed flag once the frontend has
// retuned to the current parameters, bracketing the retune the way
// Stream::parseStreamString's freq= branch does in the original.
func (p *StreamProperties) InitializeChannelData() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = false
}

// SSRC returns the stream's synchronization source identifier.
func (p *StreamProperties) SSRC() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ssrc
}

// RTCPUpdateRate returns the multiplier applied to the 200ms RTCP base
// period (§4.4).
func (p *StreamProperties) RTCPUpdateRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rtcpUpdateRate <= 0 {
		return 1
	}
	return p.rtcpUpdateRate
}

// SetRTCPUpdateRate sets the RTCP period multiplier.
func (p *StreamProperties) SetRTCPUpdateRate(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rtcpUpdateRate = n
}

// DescribeString returns the current SDP-fragment describe string carried
// in the RTCP APP packet.
func (p *StreamProperties) DescribeString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.describe
}

// SetDescribeString replaces the describe string, recomputed by the
// controller whenever tuning parameters change.
func (p *StreamProperties) SetDescribeString(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.describe = s
}

// StatSnapshot is an immutable point-in-time view of live statistics, read
// without holding the properties mutex past the copy, used by RtcpSidecar
// (to build the SR payload) and the server's metrics sampling.
type StatSnapshot struct {
	SSRC      uint32
	SPC       uint64
	SOC       uint64
	Timestamp uint32
}

// Stats returns a copy of the current live statistics.
func (p *StreamProperties) Stats() StatSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return StatSnapshot{SSRC: p.ssrc, SPC: p.spc, SOC: p.soc, Timestamp: p.timestamp}
}

// RecordSent increments SPC/SOC and sets the RTP timestamp to the given
// 90kHz value; called once per datagram sent.
func (p *StreamProperties) RecordSent(octets int, timestampTicks uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.spc++
	p.soc += uint64(octets)
	p.timestamp = timestampTicks
}

// BuildDescribeString recomputes the SDP-fragment describe string from
// the current tuning parameters and stores it, for the controller to call
// whenever a retune completes. The fragment carries the equivalent
// transport-parameter string as a SAT>IP `fmtp` attribute on a single
// MPEG-TS media line, per §4.4's "RTCP APP carries a describe string".
func (p *StreamProperties) BuildDescribeString() string {
	params := p.Clone()
	fmtp := "33 " + Serialize(params.toParsedParams())

	sessionDesc := sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      uint64(p.SSRC()),
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "0.0.0.0",
		},
		SessionName: "SatIPStream",
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "video",
					Port:    sdp.RangedPort{Value: 0},
					Protos:  []string{"RTP", "AVP"},
					Formats: []string{"33"},
				},
				Attributes: []sdp.Attribute{
					{Key: "fmtp", Value: fmtp},
				},
			},
		},
	}

	raw, err := sessionDesc.Marshal()
	describe := ""
	if err == nil {
		describe = string(raw)
	}

	p.SetDescribeString(describe)
	return describe
}

// toParsedParams reflects every tuning field back as a "present" pointer,
// so Serialize always re-emits the full current parameter set — unlike a
// parsed PLAY string, where absent fields legitimately mean "unspecified".
func (t TuningParams) toParsedParams() ParsedParams {
	return ParsedParams{
		FreqKHz:     &t.FrequencyKHz,
		SRSymPS:     &t.SymbolRateSymPS,
		Msys:        &t.Delivery,
		Pol:         &t.Polarization,
		Src:         &t.DiSEqCSource,
		Plts:        &t.Pilot,
		Ro:          &t.Rolloff,
		Fec:         &t.FEC,
		Mtype:       &t.Modulation,
		SpecInv:     &t.SpectralInv,
		BandwidthHz: &t.BandwidthHz,
		Tmode:       &t.TransmissionMode,
		GI:          &t.GuardInterval,
		PLP:         &t.PLPID,
		T2ID:        &t.T2ID,
		SM:          &t.SISOMISO,
	}
}

// TuningParams is a mutex-free value copy of the requested tuning
// parameters, passed to Frontend.Tune and serialized into the describe
// string by BuildDescribeString; StreamProperties itself is never copied by
// value because of the mutex it embeds.
type TuningParams struct {
	FrequencyKHz     int64
	SymbolRateSymPS  int64
	Delivery         DeliverySystem
	Polarization     Polarization
	DiSEqCSource     int
	Pilot            Toggle
	Rolloff          Rolloff
	FEC              FEC
	Modulation       Modulation
	BandwidthHz      int64
	TransmissionMode TransmissionMode
	GuardInterval    GuardInterval
	PLPID            int
	T2ID             int
	SISOMISO         int
	SpectralInv      int
}

// Clone copies the tuning fields (not statistics) into a TuningParams
// value.
func (p *StreamProperties) Clone() TuningParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	return TuningParams{
		FrequencyKHz:     p.FrequencyKHz,
		SymbolRateSymPS:  p.SymbolRateSymPS,
		Delivery:         p.Delivery,
		Polarization:     p.Polarization,
		DiSEqCSource:     p.DiSEqCSource,
		Pilot:            p.Pilot,
		Rolloff:          p.Rolloff,
		FEC:              p.FEC,
		Modulation:       p.Modulation,
		BandwidthHz:      p.BandwidthHz,
		TransmissionMode: p.TransmissionMode,
		GuardInterval:    p.GuardInterval,
		PLPID:            p.PLPID,
		T2ID:             p.T2ID,
		SISOMISO:         p.SISOMISO,
		SpectralInv:      p.SpectralInv,
	}
}
