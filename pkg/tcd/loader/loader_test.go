package loader

import (
	"debug/dwarf"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Manu343726/tcd/pkg/tcd/model"
)

func TestResolveEdgeRewritesMatchingOffset(t *testing.T) {
	target := model.NewBase("int", 4, model.InterpSigned)
	offsets := map[uint64]*model.Type{0x42: target}

	edge := model.UnresolvedEdge(0x42)
	resolveEdge(&edge, offsets)

	assert.True(t, edge.Resolved)
	assert.Same(t, target, edge.Target)
}

func TestResolveEdgeLeavesUnknownOffsetUnresolved(t *testing.T) {
	offsets := map[uint64]*model.Type{0x42: model.NewBase("int", 4, model.InterpSigned)}

	edge := model.UnresolvedEdge(0x99)
	resolveEdge(&edge, offsets)

	assert.False(t, edge.Resolved)
	assert.Equal(t, uint64(0x99), edge.DieOffset)
}

func TestResolveEdgeTreatsZeroOffsetAsNeverSet(t *testing.T) {
	offsets := map[uint64]*model.Type{0: model.NewBase("bogus", 0, model.InterpSigned)}

	edge := model.UnresolvedEdge(0)
	resolveEdge(&edge, offsets)

	assert.False(t, edge.Resolved)
}

func TestResolveEdgeIsNoOpOnAlreadyResolvedEdge(t *testing.T) {
	original := model.NewBase("int", 4, model.InterpSigned)
	edge := model.ResolvedEdge(original)

	resolveEdge(&edge, map[uint64]*model.Type{})

	assert.Same(t, original, edge.Target)
}

func TestValUint64HandlesBothAttributeForms(t *testing.T) {
	assert.Equal(t, uint64(0x1000), valUint64(uint64(0x1000)))
	assert.Equal(t, uint64(0x1000), valUint64(int64(0x1000)))
	assert.Equal(t, uint64(0), valUint64("unexpected"))
}

func TestMapEncodingCoversAllKnownEncodings(t *testing.T) {
	cases := map[int64]model.Interpretation{
		ateAddress:      model.InterpAddress,
		ateBoolean:      model.InterpBool,
		ateFloat:        model.InterpFloat,
		ateSigned:       model.InterpSigned,
		ateSignedChar:   model.InterpChar,
		ateUnsigned:     model.InterpUnsigned,
		ateUnsignedChar: model.InterpUnsignedChar,
	}
	for enc, want := range cases {
		assert.Equal(t, want, mapEncoding(enc))
	}
	assert.Equal(t, model.InterpSigned, mapEncoding(0x99), "unknown encodings default to signed")
}

func TestHighPCOffsetDwarf4StyleIsAlreadyAnOffset(t *testing.T) {
	entry := &dwarf.Entry{
		Field: []dwarf.Field{{Attr: dwarf.AttrHighpc, Val: int64(0x100)}},
	}
	assert.Equal(t, uint64(0x100), highPCOffset(entry, 0x1000))
}

func TestHighPCOffsetOlderDwarfStyleIsAnAbsoluteAddress(t *testing.T) {
	entry := &dwarf.Entry{
		Field: []dwarf.Field{{Attr: dwarf.AttrHighpc, Val: uint64(0x1100)}},
	}
	assert.Equal(t, uint64(0x100), highPCOffset(entry, 0x1000))
}
