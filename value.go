package munin

import "math"

// Kind classifies the shape of a Ref in O(1): either it carries a raw
// IEEE-754 number, or it points at one of the seven heap object types.
type Kind uint8

const (
	KindNil Kind = iota
	KindNumber
	KindString
	KindVector
	KindHash
	KindCode
	KindFunction
	KindCCode
	KindGhost
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindVector:
		return "vector"
	case KindHash:
		return "hash"
	case KindCode:
		return "code"
	case KindFunction:
		return "function"
	case KindCCode:
		return "ccode"
	case KindGhost:
		return "ghost"
	default:
		return "unknown"
	}
}

// gcHeader is embedded in every heap object. It carries the type tag
// the GC needs to dispatch type-specific cleanup on sweep, the mark
// bit, and whether the slot is currently handed out by its pool.
type gcHeader struct {
	kind      Kind
	marked    bool
	allocated bool
}

// heapObject is implemented by every pointer-shaped payload a Ref can
// carry. children returns the Refs reachable directly from this
// object, which is all the GC's mark phase needs: it never inspects a
// heap object's fields itself.
type heapObject interface {
	header() *gcHeader
	children() []Ref
}

// Ref is the tagged reference described by the data model: a value is
// either number-shaped or pointer-shaped, distinguishable in O(1), with
// numeric comparisons retaining raw double semantics and pointer
// equality of pointer-shaped Refs reducing to identity of the
// underlying heap object. This is the discriminated-union scheme the
// spec allows as an alternative to NaN-boxing.
type Ref struct {
	kind Kind
	num  float64
	obj  heapObject
}

// Nil is the singleton nil value.
var Nil = Ref{kind: KindNil}

// Number wraps a raw float64, including signed zero, Inf and NaN,
// round-tripping it without alteration. The VM transmits NaN freely;
// rejecting it is a policy of individual stdlib functions (see
// stdlib/mathlib), not of the value model.
func Number(f float64) Ref { return Ref{kind: KindNumber, num: f} }

func (r Ref) Kind() Kind      { return r.kind }
func (r Ref) IsNil() bool     { return r.kind == KindNil }
func (r Ref) IsNumber() bool  { return r.kind == KindNumber }
func (r Ref) IsPointer() bool { return r.kind != KindNil && r.kind != KindNumber }

// Float returns the numeric payload; callers must check IsNumber first.
func (r Ref) Float() float64 { return r.num }

// Truthy implements the language's truthiness rule: nil and the
// number 0 (positive or negative zero) are false, everything else,
// including NaN, is true.
func (r Ref) Truthy() bool {
	switch r.kind {
	case KindNil:
		return false
	case KindNumber:
		return r.num != 0
	default:
		return true
	}
}

// Equal implements value equality: numbers compare by IEEE value
// (so NaN != NaN, and -0.0 == 0.0), strings additionally fall back to
// byte-wise comparison when the two pointers differ, everything else
// compares by heap-object pointer identity.
func (r Ref) Equal(o Ref) bool {
	if r.kind == KindNumber && o.kind == KindNumber {
		return r.num == o.num
	}
	if r.kind != o.kind {
		return false
	}
	switch r.kind {
	case KindNil:
		return true
	case KindString:
		a, b := r.obj.(*stringObj), o.obj.(*stringObj)
		if a == b {
			return true
		}
		return stringBytesEqual(a, b)
	default:
		return r.obj == o.obj
	}
}

// hashValue computes the table hash used by both the standalone Hash
// container and activation records. Numbers mix the two 32-bit halves
// of the bit pattern, with -0 folded to +0 first so it hashes
// identically to +0.
func hashValue(r Ref) uint32 {
	switch r.kind {
	case KindNumber:
		return hashNumber(r.num)
	case KindString:
		return r.obj.(*stringObj).hashCode()
	default:
		return hashPointer(r.obj)
	}
}

func hashNumber(f float64) uint32 {
	if f == 0 {
		f = 0 // normalizes -0.0 to +0.0
	}
	bits := math.Float64bits(f)
	hi := uint32(bits >> 32)
	lo := uint32(bits)
	return mix32(hi ^ mix32(lo))
}

func mix32(x uint32) uint32 {
	x ^= x >> 16
	x *= 0x7feb352d
	x ^= x >> 15
	x *= 0x846ca68b
	x ^= x >> 16
	return x
}

func hashPointer(o heapObject) uint32 {
	// The heap never relocates objects, so the object's own identity
	// pointer (taken via objectIdentity) is stable for the lifetime of
	// the value; collisions just mean two distinct objects share a
	// probe start, handled normally by the table.
	p := objectIdentity(o)
	return mix32(uint32(p)) ^ mix32(uint32(p>>32))
}

func (k Kind) isHeapObject() bool {
	switch k {
	case KindString, KindVector, KindHash, KindCode, KindFunction, KindCCode, KindGhost:
		return true
	default:
		return false
	}
}
