package tcd

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/fatih/color"

	"github.com/Manu343726/tcd/pkg/tcd/expr"
	"github.com/Manu343726/tcd/pkg/tcd/model"
	"github.com/Manu343726/tcd/pkg/utils"
)

// printWhere reports an address, its surrounding function, and its
// nearest source line, matching the original CLI's "where" report that
// both the WHERE command and every stepping command reuse.
func (s *session) printWhere(addr uint64) error {
	line := utils.FormatUintHex(addr, 16)
	fn := s.ctrl.Info.SurroundingFunction(addr)
	if fn != nil {
		line += fmt.Sprintf(", in function '%s'", fn.Name)
		if nearest := model.NearestLine(fn, addr); nearest != nil {
			line += fmt.Sprintf(", line %d", nearest.Number)
		}
	}
	fmt.Println(line + ".")
	return nil
}

func (s *session) cmdRegisters() error {
	regs, err := s.proc.Registers()
	if err != nil {
		return err
	}
	rows := []struct {
		name  string
		value uint64
	}{
		{"rip", regs.Rip}, {"rsp", regs.Rsp}, {"rbp", regs.Rbp},
		{"rax", regs.Rax}, {"rbx", regs.Rbx}, {"rcx", regs.Rcx}, {"rdx", regs.Rdx},
		{"rsi", regs.Rsi}, {"rdi", regs.Rdi},
	}
	for _, r := range rows {
		fmt.Printf("%-4s %s\n", r.name, utils.FormatUintHex(r.value, 16))
	}
	return nil
}

func (s *session) cmdLines() error {
	fn := s.ctrl.Info.SurroundingFunction(mustIP(s))
	if fn == nil {
		return fmt.Errorf("no surrounding function")
	}
	for _, l := range fn.Lines {
		fmt.Printf("line %-5d %s\n", l.Number, utils.FormatUintHex(l.Address, 16))
	}
	if addrs := utils.Map(fn.Lines, func(l model.Line) uint64 { return l.Address }); len(addrs) > 0 {
		fmt.Printf("range: %s .. %s\n", utils.FormatUintHex(utils.Min(addrs), 16), utils.FormatUintHex(utils.Max(addrs), 16))
	}
	return nil
}

func (s *session) cmdTypes() error {
	cu := s.ctrl.Info.SurroundingCompUnit(mustIP(s))
	if cu == nil {
		return fmt.Errorf("no surrounding compilation unit")
	}
	names := utils.Map(cu.Types, func(t *model.Type) string { return typeToString(t) })
	indices := utils.Indices(len(names))
	numbered := utils.Iota(len(names), func(i int) string {
		return fmt.Sprintf("%d: %s", indices[i], names[i])
	})
	fmt.Println(utils.FormatSlice(numbered, "\n"))
	return nil
}

func (s *session) cmdLocals() error {
	fn := s.ctrl.Info.SurroundingFunction(mustIP(s))
	if fn == nil {
		return fmt.Errorf("no surrounding function")
	}
	for _, l := range fn.Locals {
		fmt.Printf("%s: %s\n", l.Name, edgeToString(l.Type))
	}
	return nil
}

func (s *session) cmdPoints() error {
	bps := s.ctrl.Breakpoints()
	if len(bps) == 0 {
		fmt.Println("no breakpoints set.")
		return nil
	}
	for _, bp := range bps {
		name := "?"
		if bp.Func != nil {
			name = bp.Func.Name
		}
		fmt.Printf("%s in '%s', line %d\n", utils.FormatUintHex(bp.Address, 16), name, bp.Line)
	}
	return nil
}

func mustIP(s *session) uint64 {
	ip, err := s.proc.ReadIP()
	if err != nil {
		return 0
	}
	return ip
}

// typeToString renders a type node the way the original CLI's typeToString
// did: base types by name, pointers prefixed with '*', arrays prefixed
// with "[]", recursively.
func typeToString(t *model.Type) string {
	if t == nil {
		return "<unresolved>"
	}
	switch t.Class {
	case model.ClassBase:
		return t.Name
	case model.ClassPointer:
		return "*" + edgeToString(t.Elem)
	case model.ClassArray:
		return "[]" + edgeToString(t.Elem)
	case model.ClassStruct:
		return "struct " + t.StructName
	default:
		return "?"
	}
}

func edgeToString(e model.Edge) string {
	if !e.Resolved {
		return fmt.Sprintf("<unresolved @%#x>", e.DieOffset)
	}
	return typeToString(e.Target)
}

// formatHexDump renders 32 bytes starting at addr as a compact hex dump,
// one "word" of hex digits per 8-byte line.
func formatHexDump(addr uint64, data []byte) string {
	out := ""
	for i := 0; i < len(data); i += 8 {
		end := i + 8
		if end > len(data) {
			end = len(data)
		}
		out += fmt.Sprintf("%s: ", utils.FormatUintHex(addr+uint64(i), 16))
		for _, b := range data[i:end] {
			out += fmt.Sprintf("%02x ", b)
		}
		out += "\n"
	}
	return out
}

// formatResult renders an expression evaluator Result the way "print"
// reports it: the resolved type, then the decoded value at its runtime
// location, generalizing cli.c's PRINT case (which dispatched by name on a
// fixed str/i32/f32 tag set) to the full type graph C7 now resolves.
func (s *session) formatResult(res expr.Result) (string, error) {
	typeName := typeToString(res.Type)
	val, err := s.decodeValue(res)
	if err != nil {
		return "", err
	}
	return color.CyanString("(%s) ", typeName) + val, nil
}

// decodeValue reads and formats the value a Result refers to, picking the
// decoding by the resolved type's class the way cli.c's PRINT case picked
// it by an explicit user-supplied tag.
func (s *session) decodeValue(res expr.Result) (string, error) {
	if res.Type == nil {
		return "<unresolved>", nil
	}
	switch res.Type.Class {
	case model.ClassPointer:
		var buf [8]byte
		if err := s.ctrl.Proc.ReadRtLoc(res.RtLoc, buf[:]); err != nil {
			return "", err
		}
		return utils.FormatUintHex(binary.LittleEndian.Uint64(buf[:]), 16), nil
	case model.ClassArray:
		return s.decodeArray(res)
	case model.ClassStruct:
		return fmt.Sprintf("<struct %s>", res.Type.StructName), nil
	default:
		return s.decodeBase(res)
	}
}

// decodeBase reads a BASE type's bytes and formats them per its
// Interpretation: signed/unsigned integers, IEEE float32/float64, char,
// and bool, mirroring cli.c's i32/f32 cases generalized across every width
// and encoding the loader can produce.
func (s *session) decodeBase(res expr.Result) (string, error) {
	size := res.Type.Size
	if size == 0 || size > 8 {
		size = 8
	}
	var buf [8]byte
	if err := s.ctrl.Proc.ReadRtLoc(res.RtLoc, buf[:size]); err != nil {
		return "", err
	}

	switch res.Type.Interp {
	case model.InterpFloat:
		if size == 4 {
			return fmt.Sprintf("%g", math.Float32frombits(binary.LittleEndian.Uint32(buf[:4]))), nil
		}
		return fmt.Sprintf("%g", math.Float64frombits(binary.LittleEndian.Uint64(buf[:8]))), nil
	case model.InterpSigned:
		return fmt.Sprintf("%d", signExtend(buf[:size])), nil
	case model.InterpChar:
		return fmt.Sprintf("%q", rune(int8(buf[0]))), nil
	case model.InterpUnsignedChar:
		return fmt.Sprintf("%q", rune(buf[0])), nil
	case model.InterpBool:
		return fmt.Sprintf("%t", buf[0] != 0), nil
	default: // InterpUnsigned, InterpAddress
		return fmt.Sprintf("%d", leUint(buf[:size])), nil
	}
}

// decodeArray special-cases char arrays as cli.c's "str" case did (printing
// the NUL-terminated string at the array's address); any other element
// type reports its location instead, since array elements are not indexed
// automatically by "print" (use the "[i]" expression suffix for that).
func (s *session) decodeArray(res expr.Result) (string, error) {
	elem := res.Type.Elem
	if elem.Resolved && elem.Target != nil &&
		(elem.Target.Interp == model.InterpChar || elem.Target.Interp == model.InterpUnsignedChar) {
		n := res.Type.Size
		if n == 0 || n > 256 {
			n = 256
		}
		buf := make([]byte, n)
		if err := s.ctrl.Proc.ReadRtLoc(res.RtLoc, buf); err != nil {
			return "", err
		}
		if i := bytes.IndexByte(buf, 0); i >= 0 {
			buf = buf[:i]
		}
		return fmt.Sprintf("%q", string(buf)), nil
	}
	return fmt.Sprintf("<array @%s>", utils.FormatUintHex(res.RtLoc.Address, 16)), nil
}

func leUint(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func signExtend(b []byte) int64 {
	v := leUint(b)
	bits := uint(len(b)) * 8
	if bits < 64 && v&(1<<(bits-1)) != 0 {
		v |= ^uint64(0) << bits
	}
	return int64(v)
}
