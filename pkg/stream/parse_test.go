package stream_test

import (
	"testing"

	"github.com/satipd/satipd/pkg/stream"
	"github.com/stretchr/testify/require"
)

// Scenario 1: single client PLAY string.
func TestParseTransportParamsScenario1(t *testing.T) {
	pp, warnings := stream.ParseTransportParams("freq=11836 pol=v sr=27500 msys=dvbs2 pids=0,17,100")

	require.Empty(t, warnings)
	require.NotNil(t, pp.FreqKHz)
	require.Equal(t, int64(11836000), *pp.FreqKHz)
	require.Equal(t, stream.PolarizationVertical, *pp.Pol)
	require.Equal(t, int64(27500000), *pp.SRSymPS)
	require.Equal(t, stream.DeliveryDVBS2, *pp.Msys)
	require.False(t, pp.Pids.All)
	require.Equal(t, []int{0, 17, 100}, pp.Pids.PIDs)
}

func TestParseTransportParamsAddAndDelPids(t *testing.T) {
	pp, warnings := stream.ParseTransportParams("addpids=200")
	require.Empty(t, warnings)
	require.Equal(t, []int{200}, pp.AddPids.PIDs)

	pp2, warnings2 := stream.ParseTransportParams("delpids=17")
	require.Empty(t, warnings2)
	require.Equal(t, []int{17}, pp2.DelPids.PIDs)
}

func TestParseTransportParamsAllPids(t *testing.T) {
	pp, _ := stream.ParseTransportParams("pids=all")
	require.True(t, pp.Pids.All)
}

func TestUnrecognisedPltsAndRoDefaultToAutoWithWarning(t *testing.T) {
	pp, warnings := stream.ParseTransportParams("plts=bogus ro=bogus")

	require.Len(t, warnings, 2)
	require.Equal(t, stream.ToggleAuto, *pp.Plts)
	require.Equal(t, stream.RolloffAuto, *pp.Ro)
}

func TestUnrecognisedFECDefaultsToNone(t *testing.T) {
	pp, _ := stream.ParseTransportParams("fec=bogus")
	require.Equal(t, stream.FECNone, *pp.Fec)
}

func TestUnrecognisedMsysWarns(t *testing.T) {
	_, warnings := stream.ParseTransportParams("msys=dvbx")
	require.Len(t, warnings, 1)
}

func TestMissingMtypeIsInferredFromMsys(t *testing.T) {
	pp, _ := stream.ParseTransportParams("msys=dvbs2")
	require.NotNil(t, pp.Mtype)
	require.Equal(t, stream.Modulation8PSK, *pp.Mtype)

	pp, _ = stream.ParseTransportParams("msys=dvbs")
	require.Equal(t, stream.ModulationQPSK, *pp.Mtype)

	pp, _ = stream.ParseTransportParams("msys=dvbt")
	require.Equal(t, stream.ModulationQAMAuto, *pp.Mtype)

	pp, _ = stream.ParseTransportParams("mtype=16qam")
	require.Equal(t, stream.Modulation16QAM, *pp.Mtype, "explicit mtype must not be overridden")
}

func TestParseAndSerializeRoundTripIsPermutationEquivalent(t *testing.T) {
	original := "msys=dvbs2 freq=11836 sr=27500 pol=v fec=56"
	pp, _ := stream.ParseTransportParams(original)

	serialized := stream.Serialize(pp)
	reparsed, warnings := stream.ParseTransportParams(serialized)

	require.Empty(t, warnings)
	require.Equal(t, pp, reparsed)
}
