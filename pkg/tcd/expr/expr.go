// Package expr implements the typed expression evaluator (C7): a
// recursive-descent parser for a small C-like grammar that resolves
// identifiers against the current stack frame's locals and applies
// indexing, dereference and address-of, producing both a type and a
// runtime location for each subexpression. It composes the type graph
// (C1), the Info model (C2), the location evaluator (C5) and the
// controller's lookup services (C6).
package expr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/Manu343726/tcd/pkg/tcd/controller"
	"github.com/Manu343726/tcd/pkg/tcd/model"
)

// Errors mirror spec.md's three expression failure modes.
var (
	ErrUnknownIdentifier = errors.New("tcd/expr: unknown identifier")
	ErrParse             = errors.New("tcd/expr: parse failure")
	ErrTypeMismatch      = errors.New("tcd/expr: type mismatch")
)

// Result is the {type, rtloc} pair every subexpression resolves to. Type is
// an owned, detached subgraph (see model.Type.Clone) that the caller may
// discard once done; it is never a shared reference into Info's type
// arena.
type Result struct {
	Type  *model.Type
	RtLoc model.RtLoc
}

// Evaluator parses and evaluates expressions against a Controller's live
// traced process and currently-stopped instruction pointer.
type Evaluator struct {
	Ctrl *controller.Controller
}

// New builds an Evaluator bound to a controller.
func New(ctrl *controller.Controller) *Evaluator {
	return &Evaluator{Ctrl: ctrl}
}

// parser holds the cursor over the input text; every parse* method advances
// it in place and reports failure as an error rather than a sentinel
// return, unlike the original's mixed -1/0/1 convention (see parseSuffix
// below, which keeps the three-way "present | absent | malformed" shape
// since the grammar genuinely needs it).
type parser struct {
	e   *Evaluator
	src string
	pos int
}

// Parse evaluates a single expression in text against the process's
// current frame and returns its type and runtime location.
func (e *Evaluator) Parse(text string) (Result, error) {
	p := &parser{e: e, src: text}
	res, err := p.parseExpr()
	if err != nil {
		return Result{}, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return Result{}, fmt.Errorf("%w: trailing input %q", ErrParse, p.src[p.pos:])
	}
	return res, nil
}

func (p *parser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\n' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func isSymbolBeg(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isSymbol(c byte) bool {
	return isSymbolBeg(c) || (c >= '0' && c <= '9')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// expr ::= prefix
func (p *parser) parseExpr() (Result, error) {
	return p.parsePrefix()
}

// prefix ::= '*' prefix | '&' prefix | primary
func (p *parser) parsePrefix() (Result, error) {
	p.skipSpace()
	switch p.peek() {
	case '*':
		p.pos++
		operand, err := p.parsePrefix()
		if err != nil {
			return Result{}, err
		}
		return p.deref(operand)
	case '&':
		p.pos++
		operand, err := p.parsePrefix()
		if err != nil {
			return Result{}, err
		}
		return p.addressOf(operand)
	default:
		return p.parsePrimary()
	}
}

// primary ::= '(' expr ')' | symbol | number, followed by zero or more
// '[' expr ']' suffixes.
func (p *parser) parsePrimary() (Result, error) {
	p.skipSpace()
	var res Result
	var err error

	switch {
	case p.peek() == '(':
		p.pos++
		res, err = p.parseExpr()
		if err != nil {
			return Result{}, err
		}
		p.skipSpace()
		if p.peek() != ')' {
			return Result{}, fmt.Errorf("%w: expected ')'", ErrParse)
		}
		p.pos++
	case isSymbolBeg(p.peek()):
		res, err = p.parseSymbol()
		if err != nil {
			return Result{}, err
		}
	case isDigit(p.peek()):
		res, err = p.parseNumber()
		if err != nil {
			return Result{}, err
		}
	default:
		return Result{}, fmt.Errorf("%w: unexpected character %q", ErrParse, string(p.peek()))
	}

	for {
		applied, ok, err := p.parseSuffix(res)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return res, nil
		}
		res = applied
	}
}

// symbol looks up an identifier among the locals of the function
// surrounding the current instruction pointer.
func (p *parser) parseSymbol() (Result, error) {
	start := p.pos
	for p.pos < len(p.src) && isSymbol(p.src[p.pos]) {
		p.pos++
	}
	name := p.src[start:p.pos]

	ip, err := p.e.Ctrl.Proc.ReadIP()
	if err != nil {
		return Result{}, err
	}
	fn := p.e.Ctrl.Info.SurroundingFunction(ip)
	if fn == nil {
		return Result{}, fmt.Errorf("%w: %s (no surrounding function)", ErrUnknownIdentifier, name)
	}
	local := fn.LocalByName(name)
	if local == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownIdentifier, name)
	}

	rtloc, err := p.e.Ctrl.Eval.Interpret(local.LocDesc)
	if err != nil {
		return Result{}, err
	}

	return Result{Type: resolvedType(local.Type).Clone(), RtLoc: rtloc}, nil
}

// number parses an integer or decimal literal into a host-side temporary,
// matching the original's "long long"/"double" synthetic types.
func (p *parser) parseNumber() (Result, error) {
	start := p.pos
	for p.pos < len(p.src) && isDigit(p.src[p.pos]) {
		p.pos++
	}
	if p.peek() == '.' {
		p.pos++
		for p.pos < len(p.src) && isDigit(p.src[p.pos]) {
			p.pos++
		}
		var f float64
		if _, err := fmt.Sscanf(p.src[start:p.pos], "%g", &f); err != nil {
			return Result{}, fmt.Errorf("%w: malformed number %q", ErrParse, p.src[start:p.pos])
		}
		return Result{
			Type:  model.NewBase("double", 8, model.InterpFloat),
			RtLoc: model.RtLoc{Address: math.Float64bits(f), Region: model.RegionHostTemp},
		}, nil
	}

	var n int64
	for _, c := range p.src[start:p.pos] {
		n = n*10 + int64(c-'0')
	}
	return Result{
		Type:  model.NewBase("long long", 8, model.InterpSigned),
		RtLoc: model.RtLoc{Address: uint64(n), Region: model.RegionHostTemp},
	}, nil
}

// parseSuffix consumes a single '[' expr ']' suffix if present. Returns
// (result, true, nil) on a successfully applied suffix, (zero, false, nil)
// when no suffix is present (the caller stops looping), and an error on a
// malformed suffix — mirroring the original's three-way 0/1/-1 return.
func (p *parser) parseSuffix(base Result) (Result, bool, error) {
	p.skipSpace()
	if p.peek() != '[' {
		return Result{}, false, nil
	}
	p.pos++

	idx, err := p.parseExpr()
	if err != nil {
		return Result{}, false, err
	}
	p.skipSpace()
	if p.peek() != ']' {
		return Result{}, false, fmt.Errorf("%w: expected ']'", ErrParse)
	}
	p.pos++

	if idx.Type == nil || idx.Type.Class != model.ClassBase ||
		(idx.Type.Interp != model.InterpSigned && idx.Type.Interp != model.InterpUnsigned) {
		return Result{}, false, fmt.Errorf("%w: array index must be a signed or unsigned integer", ErrTypeMismatch)
	}

	var buf [8]byte
	if err := p.e.Ctrl.Proc.ReadRtLoc(idx.RtLoc, buf[:idx.Type.Size]); err != nil {
		return Result{}, false, err
	}
	index := int64(binary.LittleEndian.Uint64(buf[:]))

	res, err := p.derefIndex(base, index)
	if err != nil {
		return Result{}, false, err
	}
	return res, true, nil
}

// deref implements prefix '*': requires a POINTER operand, reads the
// pointer's own value to find the address it holds, and yields the
// pointee's type at that address.
func (p *parser) deref(operand Result) (Result, error) {
	if operand.Type == nil || operand.Type.Class != model.ClassPointer {
		return Result{}, fmt.Errorf("%w: dereference of non-pointer", ErrTypeMismatch)
	}

	var buf [8]byte
	if err := p.e.Ctrl.Proc.ReadRtLoc(operand.RtLoc, buf[:]); err != nil {
		return Result{}, err
	}
	addr := binary.LittleEndian.Uint64(buf[:])

	return Result{
		Type:  resolvedType(operand.Type.Elem).Clone(),
		RtLoc: model.RtLoc{Address: addr, Region: model.RegionAddress},
	}, nil
}

// derefIndex implements 'a[i]': addr(a) + i*elementSize, where elementSize
// is the array's resolved element type's own Size (arrays carry no
// separate element-size field — see model.Type's Elem documentation).
func (p *parser) derefIndex(base Result, index int64) (Result, error) {
	if base.Type == nil || base.Type.Class != model.ClassArray {
		return Result{}, fmt.Errorf("%w: index of non-array", ErrTypeMismatch)
	}
	if base.RtLoc.Region != model.RegionAddress {
		return Result{}, fmt.Errorf("%w: index of non-addressable array", ErrTypeMismatch)
	}

	elem := resolvedType(base.Type.Elem)
	elemSize := int64(0)
	if elem != nil {
		elemSize = int64(elem.Size)
	}

	return Result{
		Type:  elem.Clone(),
		RtLoc: model.RtLoc{Address: uint64(int64(base.RtLoc.Address) + index*elemSize), Region: model.RegionAddress},
	}, nil
}

// addressOf implements prefix '&': requires the operand to be addressable
// (region ADDRESS) and synthesizes a brand-new POINTER type node wrapping
// it.
func (p *parser) addressOf(operand Result) (Result, error) {
	if operand.RtLoc.Region != model.RegionAddress {
		return Result{}, fmt.Errorf("%w: address-of non-addressable expression", ErrTypeMismatch)
	}
	ptr := model.NewPointer(model.ResolvedEdge(operand.Type))
	return Result{
		Type:  ptr,
		RtLoc: model.RtLoc{Address: operand.RtLoc.Address, Region: model.RegionHostTemp},
	}, nil
}

// FreeType releases a Result's owned type graph. Go's garbage collector
// reclaims the graph once it is unreachable, so this is a no-op.
func FreeType(t *model.Type) {}

// resolvedType follows an edge to its target, or nil if unresolved.
func resolvedType(e model.Edge) *model.Type {
	if !e.Resolved {
		return nil
	}
	return e.Target
}
