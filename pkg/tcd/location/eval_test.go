package location

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Manu343726/tcd/pkg/tcd/model"
)

func mustInterpret(t *testing.T, expr ...byte) model.RtLoc {
	t.Helper()
	e := NewEvaluator(nil)
	rtloc, err := e.Interpret(model.LocDesc{Expr: append(expr, 0)})
	require.NoError(t, err)
	return rtloc
}

func TestInterpretAddrLiteral(t *testing.T) {
	rtloc := mustInterpret(t, opAddr, 0x00, 0x10, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00)
	assert.Equal(t, model.RtLoc{Address: 0x1000, Region: model.RegionAddress}, rtloc)
}

func TestInterpretLiteralOpcodes(t *testing.T) {
	rtloc := mustInterpret(t, opLit0+7)
	assert.Equal(t, uint64(7), rtloc.Address)
}

func TestInterpretPlusOrdering(t *testing.T) {
	// push 10, push 3, plus -> 13 regardless of which operand is "a" or "b"
	// since plus is commutative; subtraction below pins down the ordering.
	rtloc := mustInterpret(t, opLit0+10, opLit0+3, opPlus)
	assert.Equal(t, uint64(13), rtloc.Address)
}

func TestInterpretMinusUsesBMinusAOrdering(t *testing.T) {
	// first push is b (10), second push is a (3); result must be b - a = 7,
	// i.e. the *first-pushed* value minus the *second-pushed* (top-of-stack)
	// value — the "b op a" rule documented on binop.
	rtloc := mustInterpret(t, opLit0+10, opLit0+3, opMinus)
	assert.Equal(t, uint64(7), rtloc.Address)
}

func TestInterpretDivByZeroFails(t *testing.T) {
	e := NewEvaluator(nil)
	_, err := e.Interpret(model.LocDesc{Expr: []byte{opLit0, opLit0, opDiv, 0}})
	assert.ErrorIs(t, err, ErrOpcode)
}

func TestInterpretDupAndSwap(t *testing.T) {
	rtloc := mustInterpret(t, opLit0+5, opDup, opPlus)
	assert.Equal(t, uint64(10), rtloc.Address)

	// push 3, push 10, swap -> [10 3], minus -> 10 - 3 = 7 (unswapped it
	// would be 3 - 10).
	rtloc = mustInterpret(t, opLit0+3, opLit0+10, opSwap, opMinus)
	assert.Equal(t, uint64(7), rtloc.Address)
}

func TestInterpretUnknownOpcodeFails(t *testing.T) {
	e := NewEvaluator(nil)
	_, err := e.Interpret(model.LocDesc{Expr: []byte{0xff, 0}})
	assert.ErrorIs(t, err, ErrOpcode)
}

func TestInterpretEmptyExpressionFails(t *testing.T) {
	e := NewEvaluator(nil)
	_, err := e.Interpret(model.LocDesc{})
	assert.Error(t, err)
}

func TestInterpretConstuAndPlusUconst(t *testing.T) {
	rtloc := mustInterpret(t, opConstu, 0x10, opPlusUconst, 0x05)
	assert.Equal(t, uint64(0x15), rtloc.Address)
}

func TestInterpretSkipAndBra(t *testing.T) {
	// push 1 (true), bra skips 1 byte forward over a poison literal,
	// landing on lit(9).
	expr := []byte{opLit0 + 1, opBra, 0x01, 0x00, opLit0 + 0xf /* skipped */, opLit0 + 9, 0}
	e := NewEvaluator(nil)
	rtloc, err := e.Interpret(model.LocDesc{Expr: expr})
	require.NoError(t, err)
	assert.Equal(t, uint64(9), rtloc.Address)
}

func TestDecodeULEB128(t *testing.T) {
	v, n := decodeULEB128([]byte{0xe5, 0x8e, 0x26})
	assert.Equal(t, uint64(624485), v)
	assert.Equal(t, 3, n)
}

func TestDecodeSLEB128Negative(t *testing.T) {
	v, n := decodeSLEB128([]byte{0x9b, 0xf1, 0x59})
	assert.Equal(t, int64(-624485), v)
	assert.Equal(t, 3, n)
}
