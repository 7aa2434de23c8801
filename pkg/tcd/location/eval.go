// Package location implements the DWARF expression interpreter (C5): a
// stack machine over 64-bit signed integers that turns a model.LocDesc
// into a model.RtLoc. It is invoked by the controller (for locals'
// location descriptors) and by the expression evaluator (for named
// references), and it is the only place DWARF opcode bytes are
// interpreted.
package location

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/exp/constraints"

	"github.com/Manu343726/tcd/pkg/tcd/model"
)

// ErrOpcode is returned when an unknown DWARF opcode is encountered or the
// stack underflows; spec.md's single evaluation failure mode (the
// register-out-of-range case is reserved and never triggered by this
// implementation, since only fbreg among the register families is
// supported).
var ErrOpcode = errors.New("tcd/location: unknown opcode or stack underflow")

// DWARF expression opcodes this evaluator supports. Constants not used by
// the minimal core (reg0..reg31, breg0..breg31) are named anyway, per
// spec.md §4.4's "reserved... documented open-question extension point".
const (
	opAddr           = 0x03
	opConst1u        = 0x08
	opConst1s        = 0x09
	opConst2u        = 0x0a
	opConst2s        = 0x0b
	opConst4u        = 0x0c
	opConst4s        = 0x0d
	opConst8u        = 0x0e
	opConst8s        = 0x0f
	opConstu         = 0x10
	opConsts         = 0x11
	opDup            = 0x12
	opDrop           = 0x13
	opOver           = 0x14
	opSwap           = 0x16
	opAbs            = 0x19
	opAnd            = 0x1a
	opDiv            = 0x1b
	opMinus          = 0x1c
	opMod            = 0x1d
	opMul            = 0x1e
	opNeg            = 0x1f
	opNot            = 0x20
	opOr             = 0x21
	opPlus           = 0x22
	opPlusUconst     = 0x23
	opXor            = 0x27
	opBra            = 0x28
	opEq             = 0x29
	opGe             = 0x2a
	opGt             = 0x2b
	opLe             = 0x2c
	opLt             = 0x2d
	opNe             = 0x2e
	opSkip           = 0x2f
	opLit0           = 0x30
	opLit31          = 0x4f
	opReg0           = 0x50
	opReg31          = 0x6f
	opBreg0          = 0x70
	opBreg31         = 0x8f
	opFbreg          = 0x91
	opPushObjectAddr = 0x97
)

// stack is the explicit int64 stack the DWARF expression machine operates
// over, generic over any signed integer width so the same small type can
// be reused wherever the rest of the codebase needs a minimal LIFO (see
// pkg/utils' own use of golang.org/x/exp/constraints for generic helpers).
type stack[T constraints.Signed] struct {
	data []T
}

func (s *stack[T]) push(v T) {
	s.data = append(s.data, v)
}

func (s *stack[T]) pop() (T, error) {
	if len(s.data) == 0 {
		var zero T
		return zero, ErrOpcode
	}
	v := s.data[len(s.data)-1]
	s.data = s.data[:len(s.data)-1]
	return v, nil
}

func (s *stack[T]) peek() (T, error) {
	if len(s.data) == 0 {
		var zero T
		return zero, ErrOpcode
	}
	return s.data[len(s.data)-1], nil
}

func (s *stack[T]) peekAt(depthFromTop int) (T, error) {
	i := len(s.data) - 1 - depthFromTop
	if i < 0 {
		var zero T
		return zero, ErrOpcode
	}
	return s.data[i], nil
}

// FrameBaseReader is the one capability the evaluator needs from a traced
// process: reading its current frame-base pointer, for DW_OP_fbreg.
// trace.Proc satisfies this implicitly; tests can supply a bare fake
// without pulling in real ptrace syscalls.
type FrameBaseReader interface {
	ReadBP() (uint64, error)
}

// Evaluator interprets LocDesc byte strings against a live traced process,
// reading its frame-base pointer for DW_OP_fbreg.
type Evaluator struct {
	Proc FrameBaseReader
}

// NewEvaluator builds an Evaluator bound to a traced process.
func NewEvaluator(proc FrameBaseReader) *Evaluator {
	return &Evaluator{Proc: proc}
}

// Interpret walks desc's byte string as a stack machine and returns the
// resulting runtime location. Evaluation stops as soon as the next byte is
// the loader-appended zero sentinel; the stack top at that point becomes
// the result address, with region ADDRESS. An unknown opcode or a stack
// underflow aborts evaluation with ErrOpcode.
func (e *Evaluator) Interpret(desc model.LocDesc) (model.RtLoc, error) {
	expr := desc.Expr
	if len(expr) == 0 {
		return model.RtLoc{}, fmt.Errorf("%w: empty location expression", ErrOpcode)
	}

	var s stack[int64]
	cur := 0

	for {
		if cur >= len(expr) {
			return model.RtLoc{}, fmt.Errorf("%w: expression ran past its end", ErrOpcode)
		}
		op := expr[cur]
		cur++

		switch {
		case op == opAddr:
			s.push(int64(binary.LittleEndian.Uint64(expr[cur:])))
			cur += 8

		case op >= opLit0 && op <= opLit31:
			s.push(int64(op - opLit0))

		case op == opFbreg:
			bp, err := e.Proc.ReadBP()
			if err != nil {
				return model.RtLoc{}, err
			}
			offset, n := decodeSLEB128(expr[cur:])
			cur += n
			s.push(int64(bp) + offset)

		case op == opConst1u:
			s.push(int64(expr[cur]))
			cur++
		case op == opConst1s:
			s.push(int64(int8(expr[cur])))
			cur++
		case op == opConst2u:
			s.push(int64(binary.LittleEndian.Uint16(expr[cur:])))
			cur += 2
		case op == opConst2s:
			s.push(int64(int16(binary.LittleEndian.Uint16(expr[cur:]))))
			cur += 2
		case op == opConst4u:
			s.push(int64(binary.LittleEndian.Uint32(expr[cur:])))
			cur += 4
		case op == opConst4s:
			s.push(int64(int32(binary.LittleEndian.Uint32(expr[cur:]))))
			cur += 4
		case op == opConst8u || op == opConst8s:
			s.push(int64(binary.LittleEndian.Uint64(expr[cur:])))
			cur += 8

		case op == opConstu:
			v, n := decodeULEB128(expr[cur:])
			cur += n
			s.push(int64(v))
		case op == opConsts:
			v, n := decodeSLEB128(expr[cur:])
			cur += n
			s.push(v)

		case op == opPushObjectAddr:
			s.push(int64(desc.BaseAddress))

		case op == opDup:
			top, err := s.peek()
			if err != nil {
				return model.RtLoc{}, err
			}
			s.push(top)
		case op == opDrop:
			if _, err := s.pop(); err != nil {
				return model.RtLoc{}, err
			}
		case op == opOver:
			v, err := s.peekAt(1)
			if err != nil {
				return model.RtLoc{}, err
			}
			s.push(v)
		case op == opSwap:
			n := len(s.data)
			if n < 2 {
				return model.RtLoc{}, ErrOpcode
			}
			s.data[n-1], s.data[n-2] = s.data[n-2], s.data[n-1]

		case op == opAbs:
			top, err := s.pop()
			if err != nil {
				return model.RtLoc{}, err
			}
			if top < 0 {
				top = -top
			}
			s.push(top)
		case op == opNeg:
			top, err := s.pop()
			if err != nil {
				return model.RtLoc{}, err
			}
			s.push(-top)
		case op == opNot:
			top, err := s.pop()
			if err != nil {
				return model.RtLoc{}, err
			}
			s.push(^top)

		case op == opAnd || op == opOr || op == opXor || op == opPlus ||
			op == opMinus || op == opMul || op == opDiv || op == opMod:
			if err := binop(&s, op); err != nil {
				return model.RtLoc{}, err
			}

		case op == opLe || op == opGe || op == opEq || op == opNe || op == opLt || op == opGt:
			if err := cond(&s, op); err != nil {
				return model.RtLoc{}, err
			}

		case op == opPlusUconst:
			cv, n := decodeULEB128(expr[cur:])
			cur += n
			top, err := s.pop()
			if err != nil {
				return model.RtLoc{}, err
			}
			s.push(top + int64(cv))

		case op == opSkip:
			skip := int16(binary.LittleEndian.Uint16(expr[cur:]))
			cur += 2 + int(skip)

		case op == opBra:
			flag, err := s.pop()
			if err != nil {
				return model.RtLoc{}, err
			}
			skip := int16(binary.LittleEndian.Uint16(expr[cur:]))
			if flag != 0 {
				cur += int(skip)
			}
			cur += 2

		default:
			return model.RtLoc{}, fmt.Errorf("%w: opcode %#x", ErrOpcode, op)
		}

		if cur < len(expr) && expr[cur] == 0 {
			top, err := s.peek()
			if err != nil {
				return model.RtLoc{}, err
			}
			return model.RtLoc{Address: uint64(top), Region: model.RegionAddress}, nil
		}
	}
}

// binop implements the two-operand arithmetic/logical family with the
// "b op a" ordering spec.md documents: a (first popped) is the value that
// was on top of the stack, b (second popped) is beneath it.
func binop(s *stack[int64], op byte) error {
	a, err := s.pop()
	if err != nil {
		return err
	}
	b, err := s.pop()
	if err != nil {
		return err
	}
	switch op {
	case opAnd:
		s.push(b & a)
	case opOr:
		s.push(b | a)
	case opXor:
		s.push(b ^ a)
	case opPlus:
		s.push(b + a)
	case opMinus:
		s.push(b - a)
	case opMul:
		s.push(b * a)
	case opDiv:
		if a == 0 {
			return fmt.Errorf("%w: division by zero", ErrOpcode)
		}
		s.push(b / a)
	case opMod:
		if a == 0 {
			return fmt.Errorf("%w: division by zero", ErrOpcode)
		}
		s.push(b % a)
	}
	return nil
}

// cond implements the comparison family, same b-op-a ordering as binop,
// pushing 1 or 0.
func cond(s *stack[int64], op byte) error {
	a, err := s.pop()
	if err != nil {
		return err
	}
	b, err := s.pop()
	if err != nil {
		return err
	}
	var result bool
	switch op {
	case opLe:
		result = b <= a
	case opGe:
		result = b >= a
	case opEq:
		result = b == a
	case opNe:
		result = b != a
	case opLt:
		result = b < a
	case opGt:
		result = b > a
	}
	if result {
		s.push(1)
	} else {
		s.push(0)
	}
	return nil
}

// decodeULEB128 decodes an unsigned LEB128 value starting at data[0] and
// returns the value along with the number of bytes consumed.
func decodeULEB128(data []byte) (uint64, int) {
	var result uint64
	var shift uint
	n := 0
	for n < len(data) {
		b := data[n]
		n++
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	return result, n
}

// decodeSLEB128 decodes a signed LEB128 value starting at data[0] and
// returns the value along with the number of bytes consumed.
func decodeSLEB128(data []byte) (int64, int) {
	var result int64
	var shift uint
	n := 0
	var b byte
	for n < len(data) {
		b = data[n]
		n++
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, n
}
