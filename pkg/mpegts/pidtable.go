package mpegts

import (
	"sort"
	"strconv"
	"strings"
	"sync"
)

const (
	// AllPIDs is the sentinel PID value (8192) meaning "the entire
	// transport stream", not an individual PID.
	AllPIDs = 8192

	// MaxPIDs is the size of the PID table: PIDs 0..8191 plus the
	// AllPIDs sentinel.
	MaxPIDs = AllPIDs + 1
)

// PIDState is a PID's reconciliation state relative to the frontend.
type PIDState int

const (
	Closed PIDState = iota
	ShouldOpen
	Opened
	ShouldClose
	ShouldCloseReopen
)

func (s PIDState) String() string {
	switch s {
	case Closed:
		return "closed"
	case ShouldOpen:
		return "should_open"
	case Opened:
		return "opened"
	case ShouldClose:
		return "should_close"
	case ShouldCloseReopen:
		return "should_close_reopen"
	default:
		return "unknown"
	}
}

type pidData struct {
	state     PIDState
	cc        int8 // last observed continuity counter, -1 if none seen yet
	ccErrors  uint64
	count     uint64
}

// PidTable tracks, for every PID 0..8192, its reconciliation state and
// continuity-counter bookkeeping. It is written by the Stream controller
// (setPID, setAllPID) and read/acknowledged by the frontend reconciler
// (shouldPIDOpen/shouldPIDClose, setPIDOpened/setPIDClosed) and by the
// producer (addPIDData). All access is serialized by a single mutex, kept
// to short critical sections per the concurrency model.
type PidTable struct {
	mu sync.Mutex

	pids [MaxPIDs]pidData

	changed bool

	totalCCErrors      uint64
	totalCCErrorsBegin uint64
}

// NewPidTable returns a PidTable with every PID Closed.
func NewPidTable() *PidTable {
	t := &PidTable{}
	for i := range t.pids {
		t.pids[i].cc = -1
	}
	return t
}

// SetPID requests that pid be opened (use=true) or closed (use=false).
//
//   - Closed|ShouldClose, use=true   -> ShouldOpen
//   - Opened, use=false              -> ShouldClose
//   - Opened, use=true               -> ShouldCloseReopen (already open,
//     but a pending reopen is requested — e.g. re-PLAY with the same PID)
//
// Any actual transition sets the changed flag.
func (t *PidTable) SetPID(pid int, use bool) {
	if pid < 0 || pid >= MaxPIDs {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	d := &t.pids[pid]
	switch {
	case use && (d.state == Closed || d.state == ShouldClose):
		d.state = ShouldOpen
		t.changed = true
	case !use && d.state == Opened:
		d.state = ShouldClose
		t.changed = true
	case use && d.state == Opened:
		d.state = ShouldCloseReopen
		t.changed = true
	}
}

// State returns pid's current reconciliation state.
func (t *PidTable) State(pid int) PIDState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pids[pid].state
}

// ShouldPIDOpen reports whether pid is awaiting a frontend open.
func (t *PidTable) ShouldPIDOpen(pid int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pids[pid].state == ShouldOpen
}

// ShouldPIDClose reports whether pid is awaiting a frontend close.
func (t *PidTable) ShouldPIDClose(pid int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.pids[pid].state
	return s == ShouldClose || s == ShouldCloseReopen
}

// SetPIDOpened is the frontend reconciler's acknowledgment that pid is now
// being delivered.
func (t *PidTable) SetPIDOpened(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pids[pid].state = Opened
}

// SetPIDClosed is the frontend reconciler's acknowledgment that pid has
// stopped being delivered.
func (t *PidTable) SetPIDClosed(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pids[pid].state = Closed
	t.pids[pid].cc = -1
}

// AddPIDData records one captured TS packet for pid with continuity
// counter cc (0..15). The very first packet observed for a PID never
// counts as a CC error (there is no previous value to compare against).
func (t *PidTable) AddPIDData(pid int, cc int) {
	if pid < 0 || pid >= MaxPIDs {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	d := &t.pids[pid]
	d.count++

	if d.cc >= 0 {
		want := (int(d.cc) + 1) % 16
		if want != cc {
			d.ccErrors++
			t.totalCCErrors++
		}
	}
	d.cc = int8(cc)
}

// SetAllPID toggles only the AllPIDs sentinel slot; it does not iterate or
// mutate any individual PID's state. A caller that wants dropping back to
// individual PIDs to also release previously-opened PIDs must explicitly
// SetPID(p, false) each of them first — see the Open Question resolution
// recorded in DESIGN.md.
func (t *PidTable) SetAllPID(use bool) {
	t.SetPID(AllPIDs, use)
}

// GetPidCSV returns a comma-separated, ascending list of currently Opened
// PIDs (the canonical "currently delivered" view, not the requested view).
func (t *PidTable) GetPidCSV() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var opened []int
	for pid, d := range t.pids {
		if d.state == Opened {
			opened = append(opened, pid)
		}
	}
	sort.Ints(opened)

	parts := make([]string, len(opened))
	for i, pid := range opened {
		parts[i] = strconv.Itoa(pid)
	}
	return strings.Join(parts, ",")
}

// ResetPIDTableChanged clears the changed flag and snapshots the current
// totalCCErrors as the new baseline for GetTotalCCErrors, establishing a
// per-session CC-error reporting window.
func (t *PidTable) ResetPIDTableChanged() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.changed = false
	t.totalCCErrorsBegin = t.totalCCErrors
}

// HasChanged reports whether any state transition occurred since the last
// ResetPIDTableChanged.
func (t *PidTable) HasChanged() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.changed
}

// GetTotalCCErrors returns total CC errors accumulated since the last
// ResetPIDTableChanged baseline.
func (t *PidTable) GetTotalCCErrors() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalCCErrors - t.totalCCErrorsBegin
}

// GetCCErrors returns the lifetime CC error count for a single PID.
func (t *PidTable) GetCCErrors(pid int) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pids[pid].ccErrors
}

// GetPacketCounter returns the lifetime packet count for a single PID.
func (t *PidTable) GetPacketCounter(pid int) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pids[pid].count
}

// ClearAll resets every PID to Closed, used on retune ("freq=" triggers a
// PidTable clear per §4.5).
func (t *PidTable) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.pids {
		t.pids[i] = pidData{cc: -1}
	}
	t.changed = true
}
