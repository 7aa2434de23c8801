package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneBaseType(t *testing.T) {
	base := NewBase("int", 4, InterpSigned)
	clone := base.Clone()

	require.NotSame(t, base, clone)
	assert.True(t, base.DeepEqual(clone))
}

func TestClonePointerRecursesIntoEdge(t *testing.T) {
	pointee := NewBase("char", 1, InterpChar)
	ptr := NewPointer(ResolvedEdge(pointee))

	clone := ptr.Clone()

	require.NotSame(t, ptr, clone)
	require.NotSame(t, pointee, clone.Elem.Target)
	assert.True(t, ptr.DeepEqual(clone))
}

func TestCloneUnresolvedEdgeKeepsDieOffset(t *testing.T) {
	ptr := NewPointer(UnresolvedEdge(0x1234))
	clone := ptr.Clone()

	assert.False(t, clone.Elem.Resolved)
	assert.Equal(t, uint64(0x1234), clone.Elem.DieOffset)
}

func TestCloneNilIsNilSafe(t *testing.T) {
	var t1 *Type
	assert.Nil(t, t1.Clone())
}

func TestCloneStructIsShallow(t *testing.T) {
	s := NewStruct("point")
	clone := s.Clone()

	assert.Equal(t, "point", clone.StructName)
	assert.True(t, s.DeepEqual(clone))
}

func TestDeepEqualDiffersOnClass(t *testing.T) {
	base := NewBase("int", 4, InterpSigned)
	ptr := NewPointer(ResolvedEdge(base))

	assert.False(t, base.DeepEqual(ptr))
}

func TestDeepEqualUnresolvedComparesByOffset(t *testing.T) {
	a := NewPointer(UnresolvedEdge(10))
	b := NewPointer(UnresolvedEdge(10))
	c := NewPointer(UnresolvedEdge(20))

	assert.True(t, a.DeepEqual(b))
	assert.False(t, a.DeepEqual(c))
}

func TestArrayElementSizeComesFromResolvedElement(t *testing.T) {
	elem := NewBase("int", 4, InterpSigned)
	arr := NewArray(ResolvedEdge(elem), 0)

	require.True(t, arr.Elem.Resolved)
	assert.Equal(t, uint32(4), arr.Elem.Target.Size)
}
