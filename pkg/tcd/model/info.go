package model

// Info model
//
// Info is the immutable, in-memory reconstruction the loader builds from a
// traced binary's DWARF debug sections: an ordered set of compilation
// units, each owning its functions, its line tables and its type arena.
// Once built, Info never mutates; the controller and expression evaluator
// only ever read through it. Only the breakpoint table (owned by the
// controller, not Info) changes over a debugging session.

// Line pairs a 1-based source line number with the code address where that
// line begins. A function's Lines slice is sorted strictly by Address and
// no two entries share a Number.
type Line struct {
	Number  uint32
	Address uint64
}

// Local is a named variable or parameter belonging to a Function. Type is a
// shared, non-owning edge into the owning compilation unit's type arena; it
// may be unresolved if the loader could not match the DIE offset it was
// parsed from.
type Local struct {
	Name    string
	LocDesc LocDesc
	Type    Edge
}

// Function is a subprogram occupying the half-open PC range [Begin, End)
// within its compilation unit.
type Function struct {
	Name   string
	Begin  uint64
	End    uint64
	Lines  []Line
	Locals []Local
}

// Contains reports whether addr falls within the function's half-open PC
// range.
func (f *Function) Contains(addr uint64) bool {
	return f != nil && addr >= f.Begin && addr < f.End
}

// LocalByName returns the first local matching name, or nil.
func (f *Function) LocalByName(name string) *Local {
	for i := range f.Locals {
		if f.Locals[i].Name == name {
			return &f.Locals[i]
		}
	}
	return nil
}

// CompUnit is one translation unit's worth of debug info. [Begin, End) is
// the union range of its functions; every cross-reference from its locals
// and types refers into its own Types arena, never another CU's.
type CompUnit struct {
	Name     string
	CompDir  string
	Producer string
	Begin    uint64
	End      uint64
	Funcs    []Function
	Types    []*Type
}

// Contains reports whether addr falls within the compilation unit's
// inclusive range, matching the loader's merge of low_pc/high_pc.
func (cu *CompUnit) Contains(addr uint64) bool {
	return cu != nil && addr >= cu.Begin && addr <= cu.End
}

// Info is the ordered set of a binary's compilation units, as reconstructed
// by the loader. It is built once and is immutable thereafter.
type Info struct {
	CompUnits []CompUnit
}

// SurroundingCompUnit returns the first compilation unit whose inclusive
// range contains addr, or nil.
func (info *Info) SurroundingCompUnit(addr uint64) *CompUnit {
	for i := range info.CompUnits {
		if info.CompUnits[i].Contains(addr) {
			return &info.CompUnits[i]
		}
	}
	return nil
}

// SurroundingFunction returns the function within addr's surrounding
// compilation unit whose half-open range contains addr, or nil.
func (info *Info) SurroundingFunction(addr uint64) *Function {
	cu := info.SurroundingCompUnit(addr)
	if cu == nil {
		return nil
	}
	for i := range cu.Funcs {
		if cu.Funcs[i].Contains(addr) {
			return &cu.Funcs[i]
		}
	}
	return nil
}

// FunctionByName returns the first function matching name across all
// compilation units, or nil.
func (info *Info) FunctionByName(name string) *Function {
	for ci := range info.CompUnits {
		cu := &info.CompUnits[ci]
		for fi := range cu.Funcs {
			if cu.Funcs[fi].Name == name {
				return &cu.Funcs[fi]
			}
		}
	}
	return nil
}

// NearestLine returns the line record in f with the greatest address not
// exceeding addr, scanning in slice order and stopping at the first
// address past addr; among records sharing that greatest address, the
// last one in slice order wins. Returns nil if f has no line at or before
// addr.
func NearestLine(f *Function, addr uint64) *Line {
	var best *Line
	for i := range f.Lines {
		if f.Lines[i].Address > addr {
			break
		}
		best = &f.Lines[i]
	}
	return best
}

// Breakpoint is a single-shot software trap installed at Address. Saved is
// the original byte that was overwritten with 0xCC; it is restored when the
// breakpoint is hit.
type Breakpoint struct {
	Address uint64
	Func    *Function
	Line    uint32
	Saved   byte
}
