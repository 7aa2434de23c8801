// Package controller implements the execution controller (C6): the
// breakpoint table, source-line step/next, stack unwinding, and the
// lookup services built on top of the Info model that both the
// controller itself and the expression evaluator rely on. Every method
// here requires the traced child to be stopped, and none of them is
// goroutine-safe — the spec's concurrency model is a single cooperative
// command loop, and enforcing that with a mutex would silently hide a
// contract violation rather than surface it.
package controller

import (
	"fmt"
	"log/slog"

	"github.com/Manu343726/tcd/pkg/tcd/location"
	"github.com/Manu343726/tcd/pkg/tcd/model"
)

const breakpointTrap = 0xCC

// TracedProcess is the trace-control surface the controller drives.
// trace.Proc satisfies it implicitly; tests supply a bare fake instead of
// a real ptraced child.
type TracedProcess interface {
	location.FrameBaseReader

	SyncStatus() error
	Stopped() bool
	Exited() bool
	ReadMemory(addr uint64, out []byte) error
	WriteMemory(addr uint64, in []byte) error
	ReadIP() (uint64, error)
	SetIP(ip uint64) error
	ReadRtLoc(rtloc model.RtLoc, out []byte) error
	StepInstruction() error
	Cont() error
	Kill() error
}

// Controller drives a traced child process against its reconstructed
// debug Info: breakpoints, stepping, stack unwinding.
type Controller struct {
	Proc TracedProcess
	Info *model.Info
	Eval *location.Evaluator
	Log  *slog.Logger

	breakpoints []model.Breakpoint
}

// New builds a Controller over an already-attached traced process and its
// loaded Info. A nil logger falls back to slog.Default().
func New(proc TracedProcess, info *model.Info, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		Proc: proc,
		Info: info,
		Eval: location.NewEvaluator(proc),
		Log:  log,
	}
}

// Breakpoints returns the current breakpoint set.
func (c *Controller) Breakpoints() []model.Breakpoint {
	return c.breakpoints
}

// InsertBreakpoint saves the byte at addr, overwrites it with a software
// trap (0xCC), and adds the breakpoint to the set. addr must not already
// have a breakpoint (an address has at most one, per spec.md's data
// model); a duplicate insert is rejected rather than silently replaced.
func (c *Controller) InsertBreakpoint(addr uint64, line uint32) error {
	for _, bp := range c.breakpoints {
		if bp.Address == addr {
			return fmt.Errorf("tcd/controller: breakpoint already set at %#x", addr)
		}
	}

	var saved [1]byte
	if err := c.Proc.ReadMemory(addr, saved[:]); err != nil {
		return err
	}

	trapByte := [1]byte{breakpointTrap}
	if err := c.Proc.WriteMemory(addr, trapByte[:]); err != nil {
		return err
	}

	c.breakpoints = append(c.breakpoints, model.Breakpoint{
		Address: addr,
		Func:    c.Info.SurroundingFunction(addr),
		Line:    line,
		Saved:   saved[0],
	})
	c.Log.Debug("breakpoint inserted", "address", fmt.Sprintf("%#x", addr), "line", line)
	return nil
}

// HandleStop must be called every time SyncStatus observes a stop. If the
// stop was caused by a software trap (IP-1 matches a breakpoint's
// address), the breakpoint is consumed: removed from the set, its
// original byte restored, and the child's instruction pointer rewound
// past the trap byte. Returns true if a breakpoint was hit.
func (c *Controller) HandleStop() (bool, error) {
	if !c.Proc.Stopped() {
		return false, nil
	}

	ip, err := c.Proc.ReadIP()
	if err != nil {
		return false, err
	}
	bip := ip - 1

	idx := -1
	for i, bp := range c.breakpoints {
		if bp.Address == bip {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false, nil
	}

	bp := c.breakpoints[idx]
	c.breakpoints = append(c.breakpoints[:idx], c.breakpoints[idx+1:]...)

	if err := c.Proc.WriteMemory(bp.Address, []byte{bp.Saved}); err != nil {
		return false, err
	}
	if err := c.Proc.SetIP(bip); err != nil {
		return false, err
	}

	c.Log.Debug("breakpoint hit", "address", fmt.Sprintf("%#x", bip))
	return true, nil
}

// atLineBoundary reports whether ip lands exactly on a recorded source
// line address within its surrounding function.
func (c *Controller) atLineBoundary(ip uint64) bool {
	fn := c.Info.SurroundingFunction(ip)
	if fn == nil {
		return false
	}
	line := model.NearestLine(fn, ip)
	return line != nil && line.Address == ip
}

// Step single-instruction-steps the child until it is no longer stopped or
// the new instruction pointer lands exactly on a source line boundary.
// Returns the final instruction pointer.
func (c *Controller) Step() (uint64, error) {
	ip, err := c.Proc.ReadIP()
	if err != nil {
		return 0, err
	}

	for {
		if err := c.Proc.StepInstruction(); err != nil {
			return 0, err
		}
		if err := c.Proc.SyncStatus(); err != nil {
			return 0, err
		}
		if !c.Proc.Stopped() {
			ip, _ = c.Proc.ReadIP()
			return ip, nil
		}
		ip, err = c.Proc.ReadIP()
		if err != nil {
			return 0, err
		}
		if c.atLineBoundary(ip) {
			return ip, nil
		}
	}
}

// Next behaves like Step but additionally requires the frame-base pointer
// to be at or above its value on entry after every single step, so that
// calls into deeper frames are transparently traversed without stopping
// inside them. This is a BP-comparison rule, not call-instruction
// detection: a callee's prologue pushes BP lower on the stack (the x86-64
// stack grows down), so "deeper" frames compare as a lower BP value, and
// "at or above entry" is exactly "not inside a deeper frame".
func (c *Controller) Next() (uint64, error) {
	level, err := c.Proc.ReadBP()
	if err != nil {
		return 0, err
	}

	var ip uint64
	for {
		if err := c.Proc.StepInstruction(); err != nil {
			return 0, err
		}
		if err := c.Proc.SyncStatus(); err != nil {
			return 0, err
		}
		if !c.Proc.Stopped() {
			ip, _ = c.Proc.ReadIP()
			return ip, nil
		}

		bp, err := c.Proc.ReadBP()
		if err != nil {
			return 0, err
		}
		if bp < level {
			continue
		}

		ip, err = c.Proc.ReadIP()
		if err != nil {
			return 0, err
		}
		if c.atLineBoundary(ip) {
			return ip, nil
		}
	}
}

// maxStackDepth bounds StackTrace against a runaway/corrupted frame chain
// even when the caller passes a generous maxDepth.
const maxStackDepth = 4096

// StackTrace follows the canonical x86-64 frame-pointer chain from the
// current IP/BP, recording each frame's IP, until either the recorded IP
// falls inside `main`'s range, maxDepth is reached, or BP becomes
// unreadable. Returns addresses newest-frame-first. If Info has no `main`
// function, returns an empty list (there is no terminal frame to walk
// toward).
func (c *Controller) StackTrace(maxDepth int) ([]uint64, error) {
	main := c.Info.FunctionByName("main")
	if main == nil {
		return nil, nil
	}
	if maxDepth > maxStackDepth {
		maxDepth = maxStackDepth
	}

	ip, err := c.Proc.ReadIP()
	if err != nil {
		return nil, err
	}
	bp, err := c.Proc.ReadBP()
	if err != nil {
		return nil, err
	}

	var trace []uint64
	for len(trace) < maxDepth {
		trace = append(trace, ip)
		if ip >= main.Begin && ip < main.End {
			break
		}

		var savedBP, retAddr [8]byte
		if err := c.Proc.ReadMemory(bp, savedBP[:]); err != nil {
			break
		}
		if err := c.Proc.ReadMemory(bp+8, retAddr[:]); err != nil {
			break
		}
		bp = leUint64(savedBP[:])
		ip = leUint64(retAddr[:])
	}

	return trace, nil
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
