package stream

import (
	"fmt"
	"strconv"
	"strings"
)

// PidSelector is the parsed value of a `pids=`/`addpids=` token: either the
// literal "all" or an explicit list of PIDs in the order given.
type PidSelector struct {
	All  bool
	PIDs []int
}

// ParsedParams is the decoded form of one RTSP transport-parameter string
// (the subset enumerated in §6, recognized on OPTIONS/SETUP/PLAY bodies).
// Every field is a pointer/zero-value-means-absent so the controller can
// tell "parameter present" from "parameter defaulted".
type ParsedParams struct {
	FreqKHz      *int64
	SRSymPS      *int64
	Msys         *DeliverySystem
	Pol          *Polarization
	Src          *int
	Plts         *Toggle
	Ro           *Rolloff
	Fec          *FEC
	Mtype        *Modulation
	SpecInv      *int
	BandwidthHz  *int64
	Tmode        *TransmissionMode
	GI           *GuardInterval
	PLP          *int
	T2ID         *int
	SM           *int
	Pids         *PidSelector
	AddPids      *PidSelector
	DelPids      *PidSelector
}

// ParseTransportParams decodes a space-separated `key=value` transport
// parameter string. Unknown or out-of-range enum values fall back to the
// named auto/none variant (unset for pol= and mtype=) and produce a
// warning rather than an error (§4.5 "never abort").
func ParseTransportParams(s string) (ParsedParams, []string) {
	var pp ParsedParams
	var warnings []string

	for _, tok := range strings.Fields(s) {
		key, value, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		switch key {
		case "freq":
			if mhz, err := strconv.ParseFloat(value, 64); err == nil {
				khz := int64(mhz * 1000)
				pp.FreqKHz = &khz
			}
		case "sr":
			if ksym, err := strconv.ParseInt(value, 10, 64); err == nil {
				symps := ksym * 1000
				pp.SRSymPS = &symps
			}
		case "msys":
			ds := parseDeliverySystem(value)
			if ds == DeliveryUnknown {
				warnings = append(warnings, fmt.Sprintf("cannot handle msys=%s", value))
			}
			pp.Msys = &ds
		case "pol":
			pol := parsePolarization(value)
			if pol == PolarizationUnset {
				warnings = append(warnings, fmt.Sprintf("unrecognised pol=%s, leaving unset", value))
			}
			pp.Pol = &pol
		case "src":
			if n, err := strconv.Atoi(value); err == nil {
				pp.Src = &n
			}
		case "plts":
			t, known := parseToggle(value)
			if !known {
				warnings = append(warnings, fmt.Sprintf("unrecognised plts=%s, defaulting to auto", value))
			}
			pp.Plts = &t
		case "ro":
			r, known := parseRolloff(value)
			if !known {
				warnings = append(warnings, fmt.Sprintf("unrecognised ro=%s, defaulting to auto", value))
			}
			pp.Ro = &r
		case "fec":
			f := parseFEC(value)
			if f == FECNone && value != "none" {
				warnings = append(warnings, fmt.Sprintf("unrecognised fec=%s, defaulting to none", value))
			}
			pp.Fec = &f
		case "mtype":
			m := parseModulation(value)
			if m == ModulationUnset {
				warnings = append(warnings, fmt.Sprintf("unrecognised mtype=%s, leaving unset", value))
			}
			pp.Mtype = &m
		case "specinv":
			if n, err := strconv.Atoi(value); err == nil {
				pp.SpecInv = &n
			}
		case "bw":
			if mhz, err := strconv.ParseFloat(value, 64); err == nil {
				hz := int64(mhz * 1e6)
				pp.BandwidthHz = &hz
			}
		case "tmode":
			tm := parseTransmissionMode(value)
			if tm == TransmissionModeAuto && value != "auto" {
				warnings = append(warnings, fmt.Sprintf("unrecognised tmode=%s, defaulting to auto", value))
			}
			pp.Tmode = &tm
		case "gi":
			gi := parseGuardInterval(value)
			if gi == GuardIntervalAuto && value != "auto" {
				warnings = append(warnings, fmt.Sprintf("unrecognised gi=%s, defaulting to auto", value))
			}
			pp.GI = &gi
		case "plp":
			if n, err := strconv.Atoi(value); err == nil {
				pp.PLP = &n
			}
		case "t2id":
			if n, err := strconv.Atoi(value); err == nil {
				pp.T2ID = &n
			}
		case "sm":
			if n, err := strconv.Atoi(value); err == nil {
				pp.SM = &n
			}
		case "pids":
			sel := parsePidSelector(value)
			pp.Pids = &sel
		case "addpids":
			sel := parsePidSelector(value)
			pp.AddPids = &sel
		case "delpids":
			sel := parsePidSelector(value)
			pp.DelPids = &sel
		}
	}

	if pp.Mtype == nil && pp.Msys != nil {
		m := inferModulation(*pp.Msys)
		pp.Mtype = &m
	}

	return pp, warnings
}

// inferModulation fills in the `mtype=` default from `msys=` when the
// transport string omits it, mirroring the original parser's
// "else if (msys != SYS_UNDEFINED)" branch: DVB-S implies QPSK, DVB-S2
// implies 8PSK, and the terrestrial/cable systems imply QAM-auto.
func inferModulation(msys DeliverySystem) Modulation {
	switch msys {
	case DeliveryDVBS:
		return ModulationQPSK
	case DeliveryDVBS2:
		return Modulation8PSK
	case DeliveryDVBT, DeliveryDVBT2, DeliveryDVBC, DeliveryDVBC2:
		return ModulationQAMAuto
	default:
		return ModulationUnset
	}
}

func parsePolarization(v string) Polarization {
	switch v {
	case "h":
		return PolarizationHorizontal
	case "v":
		return PolarizationVertical
	default:
		return PolarizationUnset
	}
}

// parseToggle defaults unrecognized tokens to auto, never none — the Open
// Question resolution recorded in DESIGN.md.
func parseToggle(v string) (Toggle, bool) {
	switch v {
	case "on":
		return ToggleOn, true
	case "off":
		return ToggleOff, true
	case "auto":
		return ToggleAuto, true
	default:
		return ToggleAuto, false
	}
}

func parseRolloff(v string) (Rolloff, bool) {
	switch v {
	case "0.35":
		return Rolloff035, true
	case "0.25":
		return Rolloff025, true
	case "0.20":
		return Rolloff020, true
	case "auto":
		return RolloffAuto, true
	default:
		return RolloffAuto, false
	}
}

// parseFEC maps the wire code-rate tokens to the FEC enum; any other
// token (including unrecognized ones) falls back to FECNone, the only
// parameter in §6 whose unrecognized fallback is "none" rather than auto.
func parseFEC(v string) FEC {
	switch v {
	case "12":
		return FEC12
	case "23":
		return FEC23
	case "34":
		return FEC34
	case "35":
		return FEC35
	case "45":
		return FEC45
	case "56":
		return FEC56
	case "67":
		return FEC67
	case "78":
		return FEC78
	case "89":
		return FEC89
	case "910":
		return FEC910
	case "999":
		return FECAuto
	default:
		return FECNone
	}
}

func parseModulation(v string) Modulation {
	switch v {
	case "qpsk":
		return ModulationQPSK
	case "8psk":
		return Modulation8PSK
	case "16qam":
		return Modulation16QAM
	case "64qam":
		return Modulation64QAM
	case "256qam":
		return Modulation256QAM
	default:
		return ModulationUnset
	}
}

func parseTransmissionMode(v string) TransmissionMode {
	switch v {
	case "1k":
		return TransmissionMode1k
	case "2k":
		return TransmissionMode2k
	case "4k":
		return TransmissionMode4k
	case "8k":
		return TransmissionMode8k
	case "16k":
		return TransmissionMode16k
	case "32k":
		return TransmissionMode32k
	default:
		return TransmissionModeAuto
	}
}

func parseGuardInterval(v string) GuardInterval {
	switch v {
	case "14":
		return GuardInterval14
	case "18":
		return GuardInterval18
	case "116":
		return GuardInterval116
	case "132":
		return GuardInterval132
	case "1128":
		return GuardInterval1128
	case "19128":
		return GuardInterval19128
	case "19256":
		return GuardInterval19256
	default:
		return GuardIntervalAuto
	}
}

func parsePidSelector(v string) PidSelector {
	if v == "all" {
		return PidSelector{All: true}
	}
	var sel PidSelector
	for _, tok := range strings.Split(v, ",") {
		if n, err := strconv.Atoi(strings.TrimSpace(tok)); err == nil {
			sel.PIDs = append(sel.PIDs, n)
		}
	}
	return sel
}

// Serialize reconstructs a transport-parameter string from the known
// (non-nil) fields of pp. Field order is fixed so two parses of
// permutation-equivalent input strings serialize identically.
func Serialize(pp ParsedParams) string {
	var parts []string

	if pp.FreqKHz != nil {
		parts = append(parts, fmt.Sprintf("freq=%g", float64(*pp.FreqKHz)/1000))
	}
	if pp.SRSymPS != nil {
		parts = append(parts, fmt.Sprintf("sr=%d", *pp.SRSymPS/1000))
	}
	if pp.Msys != nil {
		parts = append(parts, "msys="+pp.Msys.String())
	}
	if pp.Pol != nil {
		parts = append(parts, "pol="+pp.Pol.String())
	}
	if pp.Src != nil {
		parts = append(parts, fmt.Sprintf("src=%d", *pp.Src))
	}
	if pp.Plts != nil {
		parts = append(parts, "plts="+pp.Plts.String())
	}
	if pp.Ro != nil {
		parts = append(parts, "ro="+pp.Ro.String())
	}
	if pp.Fec != nil {
		parts = append(parts, "fec="+pp.Fec.String())
	}
	if pp.Mtype != nil {
		parts = append(parts, "mtype="+pp.Mtype.String())
	}
	if pp.SpecInv != nil {
		parts = append(parts, fmt.Sprintf("specinv=%d", *pp.SpecInv))
	}
	if pp.BandwidthHz != nil {
		parts = append(parts, fmt.Sprintf("bw=%g", float64(*pp.BandwidthHz)/1e6))
	}
	if pp.Tmode != nil {
		parts = append(parts, "tmode="+pp.Tmode.String())
	}
	if pp.GI != nil {
		parts = append(parts, "gi="+pp.GI.String())
	}
	if pp.PLP != nil {
		parts = append(parts, fmt.Sprintf("plp=%d", *pp.PLP))
	}
	if pp.T2ID != nil {
		parts = append(parts, fmt.Sprintf("t2id=%d", *pp.T2ID))
	}
	if pp.SM != nil {
		parts = append(parts, fmt.Sprintf("sm=%d", *pp.SM))
	}
	if pp.Pids != nil {
		parts = append(parts, "pids="+serializePidSelector(*pp.Pids))
	}
	if pp.AddPids != nil {
		parts = append(parts, "addpids="+serializePidSelector(*pp.AddPids))
	}
	if pp.DelPids != nil {
		parts = append(parts, "delpids="+serializePidSelector(*pp.DelPids))
	}

	return strings.Join(parts, " ")
}

func serializePidSelector(sel PidSelector) string {
	if sel.All {
		return "all"
	}
	parts := make([]string, len(sel.PIDs))
	for i, pid := range sel.PIDs {
		parts[i] = strconv.Itoa(pid)
	}
	return strings.Join(parts, ",")
}
