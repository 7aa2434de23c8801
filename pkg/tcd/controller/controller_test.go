package controller

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Manu343726/tcd/pkg/tcd/model"
)

// fakeProc is a bare in-memory stand-in for trace.Proc, letting the
// controller's breakpoint/step/stack-walk logic be exercised without a
// real ptraced child.
type fakeProc struct {
	mem       map[uint64]byte
	ip, bp    uint64
	stopped   bool
	exited    bool
	stepCalls int
	onStep    func(*fakeProc)
}

func newFakeProc() *fakeProc {
	return &fakeProc{mem: make(map[uint64]byte), stopped: true}
}

func (p *fakeProc) ReadBP() (uint64, error) { return p.bp, nil }
func (p *fakeProc) SyncStatus() error       { return nil }
func (p *fakeProc) Stopped() bool           { return p.stopped }
func (p *fakeProc) Exited() bool            { return p.exited }

func (p *fakeProc) ReadMemory(addr uint64, out []byte) error {
	for i := range out {
		out[i] = p.mem[addr+uint64(i)]
	}
	return nil
}

func (p *fakeProc) WriteMemory(addr uint64, in []byte) error {
	for i, b := range in {
		p.mem[addr+uint64(i)] = b
	}
	return nil
}

func (p *fakeProc) ReadIP() (uint64, error)  { return p.ip, nil }
func (p *fakeProc) SetIP(ip uint64) error    { p.ip = ip; return nil }
func (p *fakeProc) Cont() error              { return nil }
func (p *fakeProc) Kill() error              { return nil }

func (p *fakeProc) ReadRtLoc(rtloc model.RtLoc, out []byte) error {
	return p.ReadMemory(rtloc.Address, out)
}

func (p *fakeProc) StepInstruction() error {
	p.stepCalls++
	if p.onStep != nil {
		p.onStep(p)
	}
	return nil
}

func (p *fakeProc) putWord(addr, val uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], val)
	p.WriteMemory(addr, buf[:])
}

func TestInsertBreakpointSavesByteAndWritesTrap(t *testing.T) {
	proc := newFakeProc()
	proc.mem[0x1000] = 0x55
	ctrl := New(proc, &model.Info{}, nil)

	require.NoError(t, ctrl.InsertBreakpoint(0x1000, 7))

	assert.Equal(t, byte(breakpointTrap), proc.mem[0x1000])
	require.Len(t, ctrl.Breakpoints(), 1)
	assert.Equal(t, byte(0x55), ctrl.Breakpoints()[0].Saved)
}

func TestInsertBreakpointRejectsDuplicate(t *testing.T) {
	proc := newFakeProc()
	ctrl := New(proc, &model.Info{}, nil)

	require.NoError(t, ctrl.InsertBreakpoint(0x1000, 1))
	assert.Error(t, ctrl.InsertBreakpoint(0x1000, 2))
}

func TestHandleStopConsumesBreakpointAndRewindsIP(t *testing.T) {
	proc := newFakeProc()
	proc.mem[0x1000] = 0x55
	ctrl := New(proc, &model.Info{}, nil)
	require.NoError(t, ctrl.InsertBreakpoint(0x1000, 1))

	proc.ip = 0x1001 // trap fired, IP now one past the breakpoint
	hit, err := ctrl.HandleStop()

	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, uint64(0x1000), proc.ip)
	assert.Equal(t, byte(0x55), proc.mem[0x1000])
	assert.Empty(t, ctrl.Breakpoints())
}

func TestHandleStopIgnoresNonBreakpointTraps(t *testing.T) {
	proc := newFakeProc()
	ctrl := New(proc, &model.Info{}, nil)

	proc.ip = 0x2000
	hit, err := ctrl.HandleStop()

	require.NoError(t, err)
	assert.False(t, hit)
}

func sampleInfo() *model.Info {
	return &model.Info{
		CompUnits: []model.CompUnit{{
			Begin: 0x1000, End: 0x3000,
			Funcs: []model.Function{
				{
					Name: "callee", Begin: 0x1000, End: 0x1100,
					Lines: []model.Line{{Number: 1, Address: 0x1000}, {Number: 2, Address: 0x1010}},
				},
				{
					Name: "main", Begin: 0x2000, End: 0x2100,
					Lines: []model.Line{{Number: 10, Address: 0x2000}, {Number: 11, Address: 0x2010}},
				},
			},
		}},
	}
}

func TestStepStopsAtNextLineBoundary(t *testing.T) {
	proc := newFakeProc()
	proc.ip = 0x2000
	steps := []uint64{0x2005, 0x2010}
	i := 0
	proc.onStep = func(p *fakeProc) {
		p.ip = steps[i]
		i++
	}

	ctrl := New(proc, sampleInfo(), nil)
	ip, err := ctrl.Step()

	require.NoError(t, err)
	assert.Equal(t, uint64(0x2010), ip)
	assert.Equal(t, 2, proc.stepCalls)
}

func TestNextSkipsDeeperFrames(t *testing.T) {
	proc := newFakeProc()
	proc.ip = 0x2000
	proc.bp = 0x7000

	// First step dives into a callee (bp drops) and lands on one of the
	// callee's line boundaries, where Step would stop; second step returns
	// to the caller's frame (bp restored) and lands on the next line.
	seq := []struct{ ip, bp uint64 }{
		{0x1010, 0x6000},
		{0x2010, 0x7000},
	}
	i := 0
	proc.onStep = func(p *fakeProc) {
		p.ip, p.bp = seq[i].ip, seq[i].bp
		i++
	}

	ctrl := New(proc, sampleInfo(), nil)
	ip, err := ctrl.Next()

	require.NoError(t, err)
	assert.Equal(t, uint64(0x2010), ip)
}

func TestStackTraceWalksFramePointerChainToMain(t *testing.T) {
	proc := newFakeProc()
	proc.ip = 0x1005
	proc.bp = 0x7f00

	// Frame at 0x7f00: saved BP -> 0x7f40, return address -> main's body.
	proc.putWord(0x7f00, 0x7f40)
	proc.putWord(0x7f08, 0x2050)

	info := sampleInfo()
	ctrl := New(proc, info, nil)

	frames, err := ctrl.StackTrace(10)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, uint64(0x1005), frames[0])
	assert.Equal(t, uint64(0x2050), frames[1])
}

func TestStackTraceEmptyWithoutMain(t *testing.T) {
	proc := newFakeProc()
	ctrl := New(proc, &model.Info{}, nil)

	frames, err := ctrl.StackTrace(10)
	require.NoError(t, err)
	assert.Nil(t, frames)
}
