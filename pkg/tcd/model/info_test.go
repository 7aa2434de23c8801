package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleInfo() *Info {
	return &Info{
		CompUnits: []CompUnit{
			{
				Name: "main.c", Begin: 0x1000, End: 0x2000,
				Funcs: []Function{
					{
						Name: "helper", Begin: 0x1000, End: 0x1100,
						Lines: []Line{{Number: 1, Address: 0x1000}, {Number: 2, Address: 0x1010}, {Number: 3, Address: 0x1020}},
						Locals: []Local{
							{Name: "x", Type: UnresolvedEdge(1)},
						},
					},
					{
						Name: "main", Begin: 0x1100, End: 0x1200,
						Lines: []Line{{Number: 10, Address: 0x1100}},
					},
				},
			},
		},
	}
}

func TestSurroundingCompUnitAndFunction(t *testing.T) {
	info := sampleInfo()

	cu := info.SurroundingCompUnit(0x1050)
	require.NotNil(t, cu)
	assert.Equal(t, "main.c", cu.Name)

	fn := info.SurroundingFunction(0x1050)
	require.NotNil(t, fn)
	assert.Equal(t, "helper", fn.Name)

	assert.Nil(t, info.SurroundingFunction(0x5000))
}

func TestCompUnitContainsIsInclusiveAtEnd(t *testing.T) {
	cu := CompUnit{Begin: 0x1000, End: 0x2000}
	assert.True(t, cu.Contains(0x2000))
	assert.False(t, cu.Contains(0x2001))
}

func TestFunctionContainsIsExclusiveAtEnd(t *testing.T) {
	fn := Function{Begin: 0x1000, End: 0x1100}
	assert.True(t, fn.Contains(0x1000))
	assert.False(t, fn.Contains(0x1100))
}

func TestFunctionByName(t *testing.T) {
	info := sampleInfo()
	fn := info.FunctionByName("main")
	require.NotNil(t, fn)
	assert.Equal(t, uint64(0x1100), fn.Begin)

	assert.Nil(t, info.FunctionByName("nonexistent"))
}

func TestLocalByName(t *testing.T) {
	info := sampleInfo()
	fn := info.FunctionByName("helper")
	local := fn.LocalByName("x")
	require.NotNil(t, local)
	assert.Nil(t, fn.LocalByName("y"))
}

func TestNearestLinePicksGreatestAddressNotExceeding(t *testing.T) {
	info := sampleInfo()
	fn := info.FunctionByName("helper")

	line := NearestLine(fn, 0x1015)
	require.NotNil(t, line)
	assert.Equal(t, uint32(2), line.Number)

	assert.Nil(t, NearestLine(fn, 0x0f00))
}
