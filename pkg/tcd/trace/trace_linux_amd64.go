//go:build linux && amd64

// Package trace implements the trace-control primitives (C4) the
// controller composes with the Info model: synchronizing on the traced
// child's status, reading and writing its memory and instruction/frame
// pointers, single-instruction stepping, resuming and killing it. Every
// operation here is synchronous with respect to the caller's single
// control thread and assumes the child is stopped; nothing in this
// package blocks except SyncStatus, which is the sole suspension point.
package trace

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/Manu343726/tcd/pkg/tcd/model"
)

const wordSize = 8

// Proc is a traced child process, attached via PTRACE_TRACEME by the
// fork/exec sequence that starts it (the startup sequence itself is out of
// scope per spec.md §1; Proc only drives an already-traced pid).
type Proc struct {
	Pid    int
	Status unix.WaitStatus
}

// Attach wraps an already-ptraced child pid (the caller is expected to have
// forked and exec'd it with PTRACE_TRACEME, or to have attached via
// PTRACE_ATTACH) into a Proc.
func Attach(pid int) *Proc {
	return &Proc{Pid: pid}
}

// SyncStatus blocks until the child's status changes (stop, exit, or
// signal) and records it. It is the one suspension point in the whole
// system; every resume operation must be followed by a call to SyncStatus
// before any other trace primitive runs.
func (p *Proc) SyncStatus() error {
	_, err := unix.Wait4(p.Pid, &p.Status, 0, nil)
	if err != nil {
		return fmt.Errorf("tcd/trace: wait4: %w", err)
	}
	return nil
}

// Stopped reports whether the last recorded status is a stop (as opposed
// to an exit or a fatal signal).
func (p *Proc) Stopped() bool {
	return p.Status.Stopped()
}

// Exited reports whether the child has terminated, by normal exit or by a
// terminating signal.
func (p *Proc) Exited() bool {
	return p.Status.Exited() || p.Status.Signaled()
}

// wordIO is the word-at-a-time peek/poke surface ReadMemory/WriteMemory's
// masking arithmetic is written against. *Proc satisfies it implicitly;
// extracting it lets that arithmetic be unit tested against an in-memory
// fake instead of real ptrace syscalls.
type wordIO interface {
	peekWord(addr uint64) (uint64, error)
	pokeWord(addr uint64, word uint64) error
}

// ReadMemory transfers exactly len(out) bytes from the child's address
// space starting at addr, as a sequence of word-sized PTRACE_PEEKDATA
// calls with a byte-masked fixup for any trailing partial word.
func (p *Proc) ReadMemory(addr uint64, out []byte) error {
	return readMemory(p, addr, out)
}

// WriteMemory transfers exactly len(in) bytes into the child's address
// space starting at addr. A trailing partial word is written by reading
// the destination word first and masking in only the bytes being written,
// so that bytes past the end of in are left untouched.
func (p *Proc) WriteMemory(addr uint64, in []byte) error {
	return writeMemory(p, addr, in)
}

func readMemory(w wordIO, addr uint64, out []byte) error {
	i := 0
	for len(out)-i >= wordSize {
		word, err := w.peekWord(addr + uint64(i))
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(out[i:i+wordSize], word)
		i += wordSize
	}
	if i < len(out) {
		word, err := w.peekWord(addr + uint64(i))
		if err != nil {
			return err
		}
		var buf [wordSize]byte
		binary.LittleEndian.PutUint64(buf[:], word)
		copy(out[i:], buf[:len(out)-i])
	}
	return nil
}

func writeMemory(w wordIO, addr uint64, in []byte) error {
	i := 0
	for len(in)-i >= wordSize {
		word := binary.LittleEndian.Uint64(in[i : i+wordSize])
		if err := w.pokeWord(addr+uint64(i), word); err != nil {
			return err
		}
		i += wordSize
	}
	if i < len(in) {
		word, err := w.peekWord(addr + uint64(i))
		if err != nil {
			return err
		}
		var buf [wordSize]byte
		binary.LittleEndian.PutUint64(buf[:], word)
		copy(buf[:], in[i:])
		if err := w.pokeWord(addr+uint64(i), binary.LittleEndian.Uint64(buf[:])); err != nil {
			return err
		}
	}
	return nil
}

func (p *Proc) peekWord(addr uint64) (uint64, error) {
	var buf [wordSize]byte
	n, err := unix.PtracePeekData(p.Pid, uintptr(addr), buf[:])
	if err != nil {
		return 0, fmt.Errorf("tcd/trace: peekdata at %#x: %w", addr, err)
	}
	if n != wordSize {
		return 0, fmt.Errorf("tcd/trace: peekdata at %#x: short read (%d bytes)", addr, n)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (p *Proc) pokeWord(addr uint64, word uint64) error {
	var buf [wordSize]byte
	binary.LittleEndian.PutUint64(buf[:], word)
	if _, err := unix.PtracePokeData(p.Pid, uintptr(addr), buf[:]); err != nil {
		return fmt.Errorf("tcd/trace: pokedata at %#x: %w", addr, err)
	}
	return nil
}

// Registers returns the child's full register set.
func (p *Proc) Registers() (unix.PtraceRegs, error) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(p.Pid, &regs); err != nil {
		return regs, fmt.Errorf("tcd/trace: getregs: %w", err)
	}
	return regs, nil
}

// SetRegisters writes back the child's full register set.
func (p *Proc) SetRegisters(regs unix.PtraceRegs) error {
	if err := unix.PtraceSetRegs(p.Pid, &regs); err != nil {
		return fmt.Errorf("tcd/trace: setregs: %w", err)
	}
	return nil
}

// ReadIP returns the child's current instruction pointer.
func (p *Proc) ReadIP() (uint64, error) {
	regs, err := p.Registers()
	if err != nil {
		return 0, err
	}
	return regs.Rip, nil
}

// SetIP rewrites the child's instruction pointer, used when rewinding past
// a consumed software trap.
func (p *Proc) SetIP(ip uint64) error {
	regs, err := p.Registers()
	if err != nil {
		return err
	}
	regs.Rip = ip
	return p.SetRegisters(regs)
}

// ReadBP returns the child's current frame-base pointer.
func (p *Proc) ReadBP() (uint64, error) {
	regs, err := p.Registers()
	if err != nil {
		return 0, err
	}
	return regs.Rbp, nil
}

// ReadRtLoc dispatches on rtloc's region: ADDRESS reads n bytes of child
// memory; HOST_TEMP copies up to 8 bytes out of the descriptor's embedded
// value; REGISTER is a reserved extension point (spec.md §4.3, §9) and, in
// the absence of a register-file mapping for arbitrary DWARF register
// numbers, zeroes the output rather than guessing.
func (p *Proc) ReadRtLoc(rtloc model.RtLoc, out []byte) error {
	switch rtloc.Region {
	case model.RegionAddress:
		return p.ReadMemory(rtloc.Address, out)
	case model.RegionHostTemp:
		var buf [wordSize]byte
		binary.LittleEndian.PutUint64(buf[:], rtloc.Address)
		n := len(out)
		if n > wordSize {
			n = wordSize
		}
		copy(out, buf[:n])
		return nil
	case model.RegionRegister:
		for i := range out {
			out[i] = 0
		}
		return nil
	default:
		return fmt.Errorf("tcd/trace: unknown rtloc region %v", rtloc.Region)
	}
}

// StepInstruction requests a single-instruction step without blocking;
// callers must pair this with SyncStatus.
func (p *Proc) StepInstruction() error {
	if err := unix.PtraceSingleStep(p.Pid); err != nil {
		return fmt.Errorf("tcd/trace: singlestep: %w", err)
	}
	return nil
}

// Cont resumes the child without blocking; callers must pair this with
// SyncStatus.
func (p *Proc) Cont() error {
	if err := unix.PtraceCont(p.Pid, 0); err != nil {
		return fmt.Errorf("tcd/trace: cont: %w", err)
	}
	return nil
}

// Kill terminates the child.
func (p *Proc) Kill() error {
	if err := unix.Kill(p.Pid, unix.SIGKILL); err != nil {
		return fmt.Errorf("tcd/trace: kill: %w", err)
	}
	return nil
}
