package mpegts_test

import (
	"testing"

	"github.com/satipd/satipd/pkg/mpegts"
	"github.com/stretchr/testify/require"
)

func TestSetPIDOpenThenCloseWhileClosedEndsClosedAndChanged(t *testing.T) {
	tbl := mpegts.NewPidTable()
	tbl.SetPID(100, true)
	tbl.SetPID(100, false)

	// 100 went Closed -> ShouldOpen -> (ack) Opened -> ShouldClose -> (ack) Closed
	// but without an ack in between, ShouldOpen then !use does nothing because
	// the state is not Opened yet; it stays ShouldOpen. Exercise the literal
	// invariant from §8: Closed -> true -> false ends Closed only once the
	// frontend has acknowledged the open.
	require.Equal(t, mpegts.ShouldOpen, tbl.State(100))

	tbl.SetPIDOpened(100)
	tbl.SetPID(100, false)
	require.True(t, tbl.ShouldPIDClose(100))

	tbl.SetPIDClosed(100)
	require.Equal(t, mpegts.Closed, tbl.State(100))
	require.True(t, tbl.HasChanged())
}

func TestSetPIDReopenWhileOpenedGoesToShouldCloseReopen(t *testing.T) {
	tbl := mpegts.NewPidTable()
	tbl.SetPID(17, true)
	tbl.SetPIDOpened(17)

	tbl.SetPID(17, true)
	require.Equal(t, mpegts.ShouldCloseReopen, tbl.State(17))
}

func TestSetAllPIDOnlyTouchesSentinel(t *testing.T) {
	tbl := mpegts.NewPidTable()
	tbl.SetPID(5, true)
	tbl.SetPIDOpened(5)

	tbl.SetAllPID(true)

	require.Equal(t, mpegts.ShouldOpen, tbl.State(mpegts.AllPIDs))
	require.Equal(t, mpegts.Opened, tbl.State(5)) // untouched
}

func TestAddPIDDataFirstPacketNeverCountsAsError(t *testing.T) {
	tbl := mpegts.NewPidTable()
	tbl.ResetPIDTableChanged()
	tbl.AddPIDData(256, 7) // first packet ever seen for this PID

	require.Equal(t, uint64(0), tbl.GetCCErrors(256))
	require.Equal(t, uint64(1), tbl.GetPacketCounter(256))
}

func TestAddPIDDataDetectsDiscontinuity(t *testing.T) {
	tbl := mpegts.NewPidTable()
	tbl.ResetPIDTableChanged()

	tbl.AddPIDData(256, 0)
	tbl.AddPIDData(256, 1) // contiguous
	tbl.AddPIDData(256, 5) // gap

	require.Equal(t, uint64(1), tbl.GetCCErrors(256))
	require.Equal(t, uint64(1), tbl.GetTotalCCErrors())
}

func TestAddPIDDataWrapsModulo16(t *testing.T) {
	tbl := mpegts.NewPidTable()
	tbl.AddPIDData(1, 15)
	tbl.AddPIDData(1, 0) // (15+1) mod 16 == 0, contiguous

	require.Equal(t, uint64(0), tbl.GetCCErrors(1))
}

func TestGetTotalCCErrorsResetsToZeroAfterBaseline(t *testing.T) {
	tbl := mpegts.NewPidTable()
	tbl.AddPIDData(1, 0)
	tbl.AddPIDData(1, 7) // discontinuity

	require.Equal(t, uint64(1), tbl.GetTotalCCErrors())

	tbl.ResetPIDTableChanged()
	require.Equal(t, uint64(0), tbl.GetTotalCCErrors())
	require.False(t, tbl.HasChanged())

	tbl.AddPIDData(1, 9) // another discontinuity after the baseline
	require.Equal(t, uint64(1), tbl.GetTotalCCErrors())
}

func TestGetPidCSVListsOnlyOpenedAscending(t *testing.T) {
	tbl := mpegts.NewPidTable()
	for _, pid := range []int{100, 0, 17} {
		tbl.SetPID(pid, true)
		tbl.SetPIDOpened(pid)
	}
	tbl.SetPID(200, true) // left ShouldOpen, not yet acknowledged

	require.Equal(t, "0,17,100", tbl.GetPidCSV())
}

func TestClearAllResetsEveryPID(t *testing.T) {
	tbl := mpegts.NewPidTable()
	tbl.SetPID(10, true)
	tbl.SetPIDOpened(10)
	tbl.AddPIDData(10, 3)

	tbl.ClearAll()

	require.Equal(t, mpegts.Closed, tbl.State(10))
	require.Equal(t, uint64(0), tbl.GetPacketCounter(10))
	require.True(t, tbl.HasChanged())
}
