package model

// Type graph support.
//
// A Type is a tagged node describing the static type of a local variable or
// an expression result. Four classes exist: BASE, POINTER, ARRAY and STRUCT.
// Pointer and array nodes hold an Edge to another Type node; the edge is
// either Unresolved (still carrying the DWARF DIE offset it was parsed from)
// or Resolved (carrying a live pointer into the owning compilation unit's
// type arena). The loader's pass 2 rewrites every edge from Unresolved to
// Resolved once all of a CU's types are known; an edge that never resolves
// stays Unresolved forever and must be treated as a missing type by callers,
// never dereferenced.
//
// Edges are shared, non-owning references: many locals and many pointer/
// array nodes may point at the same underlying Type. Cloning (used by the
// expression evaluator, which must hand callers an owned result because
// address-of synthesizes brand new nodes) walks the graph and produces a
// fully detached copy.

// Class is the closed set of type node tags.
type Class int

const (
	ClassBase Class = iota
	ClassPointer
	ClassArray
	ClassStruct
)

func (c Class) String() string {
	switch c {
	case ClassBase:
		return "base"
	case ClassPointer:
		return "pointer"
	case ClassArray:
		return "array"
	case ClassStruct:
		return "struct"
	default:
		return "unknown"
	}
}

// Interpretation is the closed set of scalar interpretations a BASE type
// may carry, mirroring the DWARF DW_ATE_* encodings the loader maps into it.
type Interpretation int

const (
	InterpAddress Interpretation = iota
	InterpSigned
	InterpUnsigned
	InterpChar
	InterpUnsignedChar
	InterpFloat
	InterpBool
)

// Edge is a pointee/element reference that is either still waiting for
// pass-2 resolution (Unresolved, carrying the DWARF DIE offset it was
// parsed from) or already pointing at a live node in the same compilation
// unit's type arena (Resolved).
type Edge struct {
	Resolved   bool
	DieOffset  uint64 // valid when !Resolved
	Target     *Type  // valid when Resolved; nil otherwise
}

// UnresolvedEdge builds a placeholder edge carrying a DIE offset to be
// rewritten by the loader's second pass.
func UnresolvedEdge(dieOffset uint64) Edge {
	return Edge{Resolved: false, DieOffset: dieOffset}
}

// ResolvedEdge builds an edge that already points at its target node.
func ResolvedEdge(target *Type) Edge {
	return Edge{Resolved: true, Target: target}
}

// Type is a node in a compilation unit's type graph.
type Type struct {
	Class Class

	// BASE fields.
	Name   string
	Size   uint32
	Interp Interpretation

	// POINTER/ARRAY: edge to the pointee/element type. Size for POINTER is
	// always 8; for ARRAY it is the array's own size and may be 0 if
	// unknown (the element size used by derefIndex comes from Elem's own
	// Size once resolved, not from this field).
	Elem Edge

	// STRUCT fields (fields are deliberately not modeled, per spec).
	StructName string
}

// NewBase constructs a BASE type node.
func NewBase(name string, size uint32, interp Interpretation) *Type {
	return &Type{Class: ClassBase, Name: name, Size: size, Interp: interp}
}

// NewPointer constructs a POINTER type node with the given pointee edge.
func NewPointer(to Edge) *Type {
	return &Type{Class: ClassPointer, Size: 8, Elem: to}
}

// NewArray constructs an ARRAY type node with the given element edge and
// own size (0 if unknown).
func NewArray(of Edge, size uint32) *Type {
	return &Type{Class: ClassArray, Elem: of, Size: size}
}

// NewStruct constructs a STRUCT type node; fields are not modeled.
func NewStruct(name string) *Type {
	return &Type{Class: ClassStruct, StructName: name}
}

// Clone produces a fully detached, owned copy of t. BASE nodes copy their
// name; POINTER and ARRAY nodes recursively clone their edge (an
// unresolved edge clones as itself, carrying the same DIE offset); STRUCT
// nodes are shallow-cloned (there is nothing beneath them to copy). A nil
// receiver clones to nil, so cloning a missing/unresolved type is safe.
func (t *Type) Clone() *Type {
	if t == nil {
		return nil
	}
	out := &Type{Class: t.Class}
	switch t.Class {
	case ClassBase:
		out.Name = t.Name
		out.Size = t.Size
		out.Interp = t.Interp
	case ClassPointer, ClassArray:
		out.Elem = t.Elem.clone()
		out.Size = t.Size
	case ClassStruct:
		out.StructName = t.StructName
	}
	return out
}

func (e Edge) clone() Edge {
	if !e.Resolved {
		return e
	}
	return ResolvedEdge(e.Target.Clone())
}

// DeepEqual reports whether two type graphs describe the same shape,
// following resolved edges; unresolved edges compare by DIE offset.
func (t *Type) DeepEqual(other *Type) bool {
	if t == nil || other == nil {
		return t == other
	}
	if t.Class != other.Class {
		return false
	}
	switch t.Class {
	case ClassBase:
		return t.Name == other.Name && t.Size == other.Size && t.Interp == other.Interp
	case ClassPointer, ClassArray:
		if t.Size != other.Size {
			return false
		}
		if t.Elem.Resolved != other.Elem.Resolved {
			return false
		}
		if !t.Elem.Resolved {
			return t.Elem.DieOffset == other.Elem.DieOffset
		}
		return t.Elem.Target.DeepEqual(other.Elem.Target)
	case ClassStruct:
		return t.StructName == other.StructName
	default:
		return false
	}
}
