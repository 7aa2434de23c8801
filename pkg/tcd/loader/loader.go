// Package loader builds a model.Info by walking a binary's DWARF debug
// sections in two passes: a structural pass that records functions, locals
// and type nodes (leaving pointer/array/local type edges as placeholders
// carrying a DIE offset), and a resolution pass, run once a compilation
// unit's types are all known, that rewrites each placeholder into a
// resolved edge. The DWARF tokenizing itself is handled by the standard
// library's debug/dwarf and debug/elf packages; this package is the
// semantic reconstruction layered on top of them.
package loader

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"sort"

	"github.com/Manu343726/tcd/pkg/tcd/model"
)

// DWARF type encodings (DW_ATE_*), not exported by debug/dwarf.
const (
	ateAddress      = 0x01
	ateBoolean      = 0x02
	ateFloat        = 0x04
	ateSigned       = 0x05
	ateSignedChar   = 0x06
	ateUnsigned     = 0x07
	ateUnsignedChar = 0x08
)

// DW_TAG_lexical_block has no exported constant in debug/dwarf either; kept
// here for documentation even though the loader never descends into it (see
// loadFunction).
const tagLexicalBlock = 0x0b

// Loader extracts a model.Info from the DWARF sections of an ELF binary.
type Loader struct {
	elf  *elf.File
	data *dwarf.Data
}

// Open opens path and locates its DWARF debug sections. The returned
// Loader owns the underlying file handle; call Close when done.
func Open(path string) (*Loader, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrOpen, err)
	}
	data, err := f.DWARF()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", model.ErrInfo, err)
	}
	return &Loader{elf: f, data: data}, nil
}

// Close releases the underlying file handle.
func (l *Loader) Close() error {
	return l.elf.Close()
}

// Load walks every compilation unit in the binary and returns the
// reconstructed Info. Any non-nil error is one of the sentinels in
// model/errors.go, wrapped with context; partial results are discarded.
func (l *Loader) Load() (*model.Info, error) {
	info := &model.Info{}
	reader := l.data.Reader()

	for {
		entry, err := reader.Next()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrInfo, err)
		}
		if entry == nil {
			break
		}
		if entry.Tag != dwarf.TagCompileUnit {
			if entry.Children {
				reader.SkipChildren()
			}
			continue
		}

		cu, err := l.loadCompUnit(reader, entry)
		if err != nil {
			return nil, err
		}
		info.CompUnits = append(info.CompUnits, *cu)
	}

	return info, nil
}

// loadCompUnit loads one compilation unit: its direct children (functions
// and type DIEs), then resolves every placeholder edge created while
// loading those children, and finally its line table.
func (l *Loader) loadCompUnit(reader *dwarf.Reader, entry *dwarf.Entry) (*model.CompUnit, error) {
	cu := &model.CompUnit{}
	cu.Name, _ = entry.Val(dwarf.AttrName).(string)
	cu.CompDir, _ = entry.Val(dwarf.AttrCompDir).(string)
	cu.Producer, _ = entry.Val(dwarf.AttrProducer).(string)
	cu.Begin = valUint64(entry.Val(dwarf.AttrLowpc))
	cu.End = cu.Begin + highPCOffset(entry, cu.Begin)

	offsets := make(map[uint64]*model.Type)

	if entry.Children {
		for {
			child, err := reader.Next()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", model.ErrCompUnit, err)
			}
			if child == nil || child.Tag == 0 {
				break
			}

			switch child.Tag {
			case dwarf.TagSubprogram:
				fn, err := l.loadFunction(reader, child)
				if err != nil {
					return nil, err
				}
				cu.Funcs = append(cu.Funcs, *fn)

			case dwarf.TagBaseType:
				t, off := loadBaseType(child)
				cu.Types = append(cu.Types, t)
				offsets[off] = t
				if child.Children {
					reader.SkipChildren()
				}

			case dwarf.TagPointerType:
				t, off := loadPointerType(child)
				cu.Types = append(cu.Types, t)
				offsets[off] = t
				if child.Children {
					reader.SkipChildren()
				}

			case dwarf.TagArrayType:
				t, off := loadArrayType(child)
				cu.Types = append(cu.Types, t)
				offsets[off] = t
				if child.Children {
					reader.SkipChildren()
				}

			default:
				if child.Children {
					reader.SkipChildren()
				}
			}
		}
	}

	// The line-table walk requires functions in ascending-address order;
	// DWARF does not itself guarantee subprogram DIEs appear that way.
	sort.Slice(cu.Funcs, func(i, j int) bool { return cu.Funcs[i].Begin < cu.Funcs[j].Begin })

	for _, t := range cu.Types {
		if t.Class == model.ClassPointer || t.Class == model.ClassArray {
			resolveEdge(&t.Elem, offsets)
		}
	}
	for fi := range cu.Funcs {
		for li := range cu.Funcs[fi].Locals {
			resolveEdge(&cu.Funcs[fi].Locals[li].Type, offsets)
		}
	}

	if err := loadLines(l.data, entry, cu); err != nil {
		return nil, err
	}

	return cu, nil
}

// resolveEdge rewrites e in place from Unresolved(dieOffset) to
// Resolved(target) if a type with that DIE offset exists in offsets. A
// never-set edge (DieOffset 0, the value no real DIE can occupy since the
// CU header always precedes the first DIE) is left alone, matching the
// spec's "placeholders that fail to resolve are left as null edges".
func resolveEdge(e *model.Edge, offsets map[uint64]*model.Type) {
	if e.Resolved || e.DieOffset == 0 {
		return
	}
	if t, ok := offsets[e.DieOffset]; ok {
		*e = model.ResolvedEdge(t)
	}
}

// loadFunction loads a subprogram DIE's name and PC range, then its direct
// children: formal_parameter and variable DIEs become locals. Nested
// lexical_block children are not descended into — matching the original
// loader's behavior of only ever inspecting a subprogram's direct children.
func (l *Loader) loadFunction(reader *dwarf.Reader, entry *dwarf.Entry) (*model.Function, error) {
	fn := &model.Function{}
	fn.Name, _ = entry.Val(dwarf.AttrName).(string)
	fn.Begin = valUint64(entry.Val(dwarf.AttrLowpc))
	fn.End = fn.Begin + highPCOffset(entry, fn.Begin)

	if entry.Children {
		for {
			child, err := reader.Next()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", model.ErrFunction, err)
			}
			if child == nil || child.Tag == 0 {
				break
			}

			switch child.Tag {
			case dwarf.TagFormalParameter, dwarf.TagVariable:
				local := loadLocal(child)
				fn.Locals = append(fn.Locals, local)
				if child.Children {
					reader.SkipChildren()
				}
			default:
				if child.Children {
					reader.SkipChildren()
				}
			}
		}
	}

	return fn, nil
}

// loadLocal loads a formal_parameter/variable DIE's name, location
// expression (copied out of the DWARF section, with the loader's own
// end-of-expression sentinel byte appended) and type placeholder edge.
func loadLocal(entry *dwarf.Entry) model.Local {
	local := model.Local{}
	local.Name, _ = entry.Val(dwarf.AttrName).(string)

	if loc, ok := entry.Val(dwarf.AttrLocation).([]byte); ok {
		expr := make([]byte, len(loc)+1) // trailing byte is the zero sentinel
		copy(expr, loc)
		local.LocDesc = model.LocDesc{Expr: expr}
	}
	if off, ok := entry.Val(dwarf.AttrType).(dwarf.Offset); ok {
		local.Type = model.UnresolvedEdge(uint64(off))
	}

	return local
}

// loadBaseType loads a base_type DIE's name, byte size and DW_AT_encoding,
// mapped to the closed interpretation set.
func loadBaseType(entry *dwarf.Entry) (*model.Type, uint64) {
	t := &model.Type{Class: model.ClassBase}
	t.Name, _ = entry.Val(dwarf.AttrName).(string)
	if sz, ok := entry.Val(dwarf.AttrByteSize).(int64); ok {
		t.Size = uint32(sz)
	}
	if enc, ok := entry.Val(dwarf.AttrEncoding).(int64); ok {
		t.Interp = mapEncoding(enc)
	}
	return t, uint64(entry.Offset)
}

func mapEncoding(enc int64) model.Interpretation {
	switch enc {
	case ateAddress:
		return model.InterpAddress
	case ateSigned:
		return model.InterpSigned
	case ateUnsigned:
		return model.InterpUnsigned
	case ateSignedChar:
		return model.InterpChar
	case ateUnsignedChar:
		return model.InterpUnsignedChar
	case ateFloat:
		return model.InterpFloat
	case ateBoolean:
		return model.InterpBool
	default:
		return model.InterpSigned
	}
}

// loadPointerType loads a pointer_type DIE; its pointee is a placeholder
// edge until pass 2. Pointer size is always 8 on x86-64.
func loadPointerType(entry *dwarf.Entry) (*model.Type, uint64) {
	t := &model.Type{Class: model.ClassPointer, Size: 8}
	if off, ok := entry.Val(dwarf.AttrType).(dwarf.Offset); ok {
		t.Elem = model.UnresolvedEdge(uint64(off))
	}
	return t, uint64(entry.Offset)
}

// loadArrayType loads an array_type DIE; its element is a placeholder edge
// until pass 2. The array's own size is left 0 (unknown) — the element
// size derefIndex needs comes from the resolved element type itself.
func loadArrayType(entry *dwarf.Entry) (*model.Type, uint64) {
	t := &model.Type{Class: model.ClassArray}
	if off, ok := entry.Val(dwarf.AttrType).(dwarf.Offset); ok {
		t.Elem = model.UnresolvedEdge(uint64(off))
	}
	return t, uint64(entry.Offset)
}

// loadLines consumes the compilation unit's line number program and
// distributes entries across its (already address-sorted) functions: the
// current function advances whenever a line's address reaches or exceeds
// its End, consecutive same-number entries are deduplicated, and every
// function's first recorded entry — which describes the prologue rather
// than a meaningful source position — is discarded afterward.
func loadLines(data *dwarf.Data, cuEntry *dwarf.Entry, cu *model.CompUnit) error {
	lineReader, err := data.LineReader(cuEntry)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrLines, err)
	}
	if lineReader == nil {
		return nil
	}

	curFunc := 0
	lastNumber := uint32(0)
	var entry dwarf.LineEntry

	for curFunc < len(cu.Funcs) {
		if err := lineReader.Next(&entry); err != nil {
			break // io.EOF ends the program; any other error ends it too
		}

		for entry.Address >= cu.Funcs[curFunc].End {
			curFunc++
			if curFunc >= len(cu.Funcs) {
				break
			}
		}
		if curFunc >= len(cu.Funcs) {
			break
		}

		number := uint32(entry.Line)
		if number != lastNumber {
			f := &cu.Funcs[curFunc]
			f.Lines = append(f.Lines, model.Line{Number: number, Address: entry.Address})
		}
		lastNumber = number
	}

	for i := range cu.Funcs {
		f := &cu.Funcs[i]
		if len(f.Lines) > 0 {
			f.Lines = f.Lines[1:]
		}
	}

	return nil
}

// valUint64 extracts a uint64 out of an arbitrary DWARF attribute value,
// regardless of whether debug/dwarf decoded it as a uint64 (address class)
// or an int64 (constant class); low_pc is read this way because the
// original loader reads even compilation-unit low_pc as a raw data value.
func valUint64(v interface{}) uint64 {
	switch val := v.(type) {
	case uint64:
		return val
	case int64:
		return uint64(val)
	default:
		return 0
	}
}

// highPCOffset returns the value to add to a DIE's low_pc to obtain its
// exclusive end address. DW_AT_high_pc is either an absolute address
// (older DWARF, decoded as uint64 — in which case the offset is the
// address minus low_pc) or an offset from low_pc (DWARF4+, decoded as
// int64), which is the form spec.md documents as the expected one.
func highPCOffset(entry *dwarf.Entry, lowPC uint64) uint64 {
	switch val := entry.Val(dwarf.AttrHighpc).(type) {
	case int64:
		return uint64(val)
	case uint64:
		if val >= lowPC {
			return val - lowPC
		}
		return val
	default:
		return 0
	}
}
