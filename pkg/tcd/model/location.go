package model

// Region is the closed tag of an RtLoc: where a computed datum actually
// lives once a location description has been evaluated.
type Region int

const (
	// RegionAddress means Address is a 64-bit virtual address in the traced
	// process's memory.
	RegionAddress Region = iota
	// RegionRegister means Address identifies a register number; register
	// reads are a reserved extension point (see pkg/tcd/trace).
	RegionRegister
	// RegionHostTemp means the value is embedded directly in Address: used
	// for literals and evaluator-computed intermediates that never touch
	// the traced process's memory.
	RegionHostTemp
)

func (r Region) String() string {
	switch r {
	case RegionAddress:
		return "address"
	case RegionRegister:
		return "register"
	case RegionHostTemp:
		return "host-temp"
	default:
		return "unknown"
	}
}

// RtLoc is a runtime location: the result of evaluating a LocDesc, or of
// evaluating an expression over the current frame.
type RtLoc struct {
	Address uint64
	Region  Region
}

// LocDesc is an immutable DWARF expression (location description). Expr is
// copied out of the DWARF section at load time so its lifetime does not
// depend on the debug/dwarf reader that produced it. BaseAddress seeds
// DW_OP_push_object_address; it is 0 when not applicable.
type LocDesc struct {
	Expr        []byte
	BaseAddress uint64
}
