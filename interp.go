package munin

import "strconv"

// Run invokes fn as a top-level call: pushes its frame, dispatches
// bytecode until that frame (and anything it calls) returns, and
// hands back either the returned value or the error that unwound it.
func Run(ctx *Context, fn Ref, args []Ref) (Ref, error) {
	return ctx.Call(fn, Nil, args)
}

// Call invokes a callable Ref with an explicit receiver. CFunc values
// are just a direct Go call; Function values get a fresh activation
// record pushed onto ctx's frame stack and run through the dispatch
// loop until control returns to the depth Call started at.
func (ctx *Context) Call(fn Ref, self Ref, args []Ref) (Ref, error) {
	switch fn.Kind() {
	case KindCCode:
		cc := fn.obj.(*ccodeObj)
		return cc.fn(ctx, self, args)
	case KindFunction:
		fo := fn.obj.(*functionObj)
		locals, err := ctx.bindArgs(fo, args)
		if err != nil {
			return Nil, err
		}
		base := ctx.opTop
		if !ctx.pushFrame(fn, fo.code, locals, base) {
			return Nil, &RuntimeError{Message: "call stack overflow", Trace: ctx.traceback()}
		}
		return ctx.runLoop(ctx.frameTop - 1)
	default:
		return Nil, &RuntimeError{Message: "value is not callable: " + fn.Kind().String(), Trace: ctx.traceback()}
	}
}

// bindArgs builds the locals Hash for one call, matching positional
// arguments to argd.positional, filling argd.optional from either the
// supplied argument or its default constant, and collecting any
// remainder into argd.rest as a Vector.
func (ctx *Context) bindArgs(fo *functionObj, args []Ref) (*hashObj, error) {
	argd := fo.code.args
	min, max := argd.minArity(), argd.maxArity()
	if len(args) < min || (max >= 0 && len(args) > max) {
		return nil, &RuntimeError{Message: "wrong number of arguments", Trace: ctx.traceback()}
	}
	locals := ctx.newHash()
	i := 0
	for _, name := range argd.positional {
		sym := ctx.rt.intern(ctx, []byte(name))
		locals.symbolSet(ctx, sym, args[i])
		i++
	}
	for _, opt := range argd.optional {
		var v Ref
		if i < len(args) {
			v = args[i]
			i++
		} else {
			v = fo.code.consts[opt.defaultIdx]
		}
		sym := ctx.rt.intern(ctx, []byte(opt.name))
		locals.symbolSet(ctx, sym, v)
	}
	if argd.rest != "" {
		rest := ctx.newVectorRef(args[i:]...)
		sym := ctx.rt.intern(ctx, []byte(argd.rest))
		locals.symbolSet(ctx, sym, rest)
	}
	return locals, nil
}

// resolveLocal implements LOCAL's lookup order: current frame, then
// the one outer scope Hash the running function captured, then the
// process global namespace. Scopes enclosing the captured one are not
// searched. A miss in all three returns false.
func (ctx *Context) resolveLocal(f *callFrame, sym *stringObj) (Ref, bool) {
	if v, ok := f.locals.symbolGet(sym); ok {
		return v, true
	}
	fn, isFn := f.fn.obj.(*functionObj)
	for isFn && fn.outer != nil {
		if v, ok := fn.outer.symbolGet(sym); ok {
			return v, true
		}
		// An outer scope is a plain locals Hash with no link to the
		// scope around it, so the walk stops after this one level.
		break
	}
	if ctx.rt.builtins != nil {
		if v, ok := ctx.rt.builtins.symbolGet(sym); ok {
			return v, true
		}
	}
	return Nil, false
}

// assignLocal implements SETLOCAL: write through to wherever sym is
// already bound (current frame, then the captured outer scope),
// falling back to defining it fresh in the current frame — the usual
// rule that makes mutable closures (counters, accumulators) work.
func (ctx *Context) assignLocal(f *callFrame, sym *stringObj, val Ref) {
	if _, ok := f.locals.symbolGet(sym); ok {
		f.locals.symbolSet(ctx, sym, val)
		return
	}
	if fn, isFn := f.fn.obj.(*functionObj); isFn && fn.outer != nil {
		if _, ok := fn.outer.symbolGet(sym); ok {
			fn.outer.symbolSet(ctx, sym, val)
			return
		}
	}
	f.locals.symbolSet(ctx, sym, val)
}

func containerLen(r Ref) int {
	switch r.Kind() {
	case KindVector:
		return r.obj.(*vectorObj).Len()
	case KindHash:
		return r.obj.(*hashObj).Size()
	}
	return 0
}

// hashSnapshotKeys lists a Hash's live keys in index-table order (the
// order of their probe slots, not insertion order). It walks the whole
// index table; eachIterState calls it once when a loop over the Hash
// starts and reuses the result for the rest of that loop.
func hashSnapshotKeys(h *hashObj) []Ref {
	keys := make([]Ref, 0, h.Size())
	for _, idx := range h.index {
		if idx < 0 {
			continue
		}
		keys = append(keys, h.entries[idx].key)
	}
	return keys
}

// containerAt returns the (key, value) pair at iteration position i:
// for a Vector, key is the numeric index; for a Hash, key is the
// actual key Ref and the snapshot in keys fixes iteration order for
// this one EACH sequence.
func containerAt(r Ref, i int, keys []Ref) (key, val Ref, ok bool) {
	switch r.Kind() {
	case KindVector:
		v, ok := r.obj.(*vectorObj).At(i)
		return Number(float64(i)), v, ok
	case KindHash:
		if i < 0 || i >= len(keys) {
			return Nil, Nil, false
		}
		k := keys[i]
		v, _ := r.obj.(*hashObj).Get(k)
		return k, v, true
	}
	return Nil, Nil, false
}

func refToDisplayString(r Ref) string {
	switch r.Kind() {
	case KindNil:
		return "nil"
	case KindNumber:
		return strconv.FormatFloat(r.Float(), 'g', -1, 64)
	case KindString:
		return r.obj.(*stringObj).String()
	default:
		return r.Kind().String()
	}
}

func wrongType(ctx *Context, op string) error {
	return &RuntimeError{Message: "wrong operand kind for " + op, Trace: ctx.traceback()}
}

// eachIterState is per-EACH-sequence memoized key order for Hash
// collections, keyed by the collection object's identity so nested or
// sibling loops over different hashes don't collide.
type eachIterState struct {
	keys map[heapObject][]Ref
}

func newEachIterState() *eachIterState { return &eachIterState{keys: make(map[heapObject][]Ref)} }

func (s *eachIterState) keysFor(r Ref) []Ref {
	h := r.obj.(*hashObj)
	if ks, ok := s.keys[h]; ok {
		return ks
	}
	ks := hashSnapshotKeys(h)
	s.keys[h] = ks
	return ks
}

// runLoop dispatches bytecode for ctx's current frame and everything
// it calls, until control returns to stopDepth (the frame depth Call
// started at). Frame-pushing opcodes (FCALL/MCALL into a Function)
// simply let the loop continue reading the new top frame; RETURN pops
// one and, once frameTop reaches stopDepth, returns to the caller.
func (ctx *Context) runLoop(stopDepth int) (Ref, error) {
	iter := newEachIterState()
	for {
		if err := ctx.rt.safepoint(ctx); err != nil {
			return Nil, err
		}
		f := ctx.currentFrame()
		op := opcode(f.code.ops[f.ip])
		operand := func(k int) int { return int(f.code.ops[f.ip+1+k]) }
		advance := 1 + opWidth(op)
		ctx.traceInstr(f, op, operand)

		switch op {
		case opNop:

		case opNot:
			v := ctx.popOperand()
			if v.Truthy() {
				ctx.pushOperand(Number(0))
			} else {
				ctx.pushOperand(Number(1))
			}
		case opNeg:
			v := ctx.popOperand()
			if !v.IsNumber() {
				return Nil, wrongType(ctx, "unary -")
			}
			ctx.pushOperand(Number(-v.Float()))
		case opBitNeg:
			v := ctx.popOperand()
			if !v.IsNumber() {
				return Nil, wrongType(ctx, "unary ~")
			}
			ctx.pushOperand(Number(float64(^int64(v.Float()))))

		case opMul, opPlus, opMinus, opDiv, opBitAnd, opBitOr, opBitXor:
			b := ctx.popOperand()
			a := ctx.popOperand()
			if !a.IsNumber() || !b.IsNumber() {
				return Nil, wrongType(ctx, "arithmetic")
			}
			var r float64
			switch op {
			case opMul:
				r = a.Float() * b.Float()
			case opPlus:
				r = a.Float() + b.Float()
			case opMinus:
				r = a.Float() - b.Float()
			case opDiv:
				if b.Float() == 0 {
					return Nil, &RuntimeError{Message: "division by zero", Trace: ctx.traceback()}
				}
				r = a.Float() / b.Float()
			case opBitAnd:
				r = float64(int64(a.Float()) & int64(b.Float()))
			case opBitOr:
				r = float64(int64(a.Float()) | int64(b.Float()))
			case opBitXor:
				r = float64(int64(a.Float()) ^ int64(b.Float()))
			}
			ctx.pushOperand(Number(r))

		case opCat:
			b := ctx.popOperand()
			a := ctx.popOperand()
			s := refToDisplayString(a) + refToDisplayString(b)
			ctx.pushOperand(ctx.newStringRef([]byte(s)))

		case opLt, opLte, opGt, opGte:
			b := ctx.popOperand()
			a := ctx.popOperand()
			if !a.IsNumber() || !b.IsNumber() {
				return Nil, wrongType(ctx, "comparison")
			}
			var r bool
			switch op {
			case opLt:
				r = a.Float() < b.Float()
			case opLte:
				r = a.Float() <= b.Float()
			case opGt:
				r = a.Float() > b.Float()
			case opGte:
				r = a.Float() >= b.Float()
			}
			ctx.pushOperand(boolRef(r))

		case opEq:
			b := ctx.popOperand()
			a := ctx.popOperand()
			ctx.pushOperand(boolRef(a.Equal(b)))

		case opEach:
			target := operand(0)
			idx := int(ctx.operand[ctx.opTop-2].Float())
			coll := ctx.operand[ctx.opTop-1]
			length := containerLen(coll)
			var keys []Ref
			if coll.Kind() == KindHash {
				if idx == 0 {
					delete(iter.keys, coll.obj)
				}
				keys = iter.keysFor(coll)
				length = len(keys)
			}
			if idx >= length {
				ctx.opTop -= 2
				f.ip = target
				continue
			}
			ctx.operand[ctx.opTop-2] = Number(float64(idx + 1))
			key, val, ok := containerAt(coll, idx, keys)
			if !ok {
				ctx.opTop -= 2
				f.ip = target
				continue
			}
			ctx.pushOperand(key)
			ctx.pushOperand(val)

		case opJmp, opJmpLoop, opBreak, opBreak2, opJifEnd:
			f.ip = operand(0)
			continue

		case opJifNot:
			v := ctx.popOperand()
			if !v.Truthy() {
				f.ip = operand(0)
				continue
			}
		case opJifNotPop:
			if !ctx.peekOperand().Truthy() {
				f.ip = operand(0)
				continue
			}
		case opJifTrue:
			if ctx.peekOperand().Truthy() {
				f.ip = operand(0)
				continue
			}

		case opFcall, opMcall:
			argc := operand(0)
			if argc == callVariadicSentinel {
				start := ctx.popMark()
				argc = ctx.opTop - int(start.Float())
			}
			args := make([]Ref, argc)
			copy(args, ctx.operand[ctx.opTop-argc:ctx.opTop])
			ctx.opTop -= argc
			fn := ctx.popOperand()
			var self Ref
			if op == opMcall {
				self = ctx.popOperand()
			}
			if fn.Kind() == KindFunction {
				fo := fn.obj.(*functionObj)
				ctx.traceCall(fo.code.name, argc)
				locals, err := ctx.bindArgs(fo, args)
				if err != nil {
					return Nil, err
				}
				if !ctx.pushFrame(fn, fo.code, locals, ctx.opTop) {
					return Nil, &RuntimeError{Message: "call stack overflow", Trace: ctx.traceback()}
				}
				f.ip += advance
				continue
			}
			if fn.Kind() == KindCCode {
				cc := fn.obj.(*ccodeObj)
				res, err := cc.fn(ctx, self, args)
				if err != nil {
					return Nil, err
				}
				ctx.pushOperand(res)
				f.ip += advance
				continue
			}
			return Nil, &RuntimeError{Message: "value is not callable: " + fn.Kind().String(), Trace: ctx.traceback()}

		case opFcallH, opMcallH:
			return Nil, &RuntimeError{Message: "named-argument calls are not supported", Trace: ctx.traceback()}

		case opReturn:
			retVal := Nil
			if ctx.opTop > f.base {
				retVal = ctx.popOperand()
			}
			ctx.opTop = f.base
			ctx.popFrame()
			if ctx.frameTop <= stopDepth {
				return retVal, nil
			}
			ctx.pushOperand(retVal)
			continue

		case opPushConst:
			ctx.pushOperand(f.code.consts[operand(0)])
		case opPushOne:
			ctx.pushOperand(Number(1))
		case opPushZero:
			ctx.pushOperand(Number(0))
		case opPushNil:
			ctx.pushOperand(Nil)
		case opPushEnd:
		case opPop:
			ctx.popOperand()
		case opDup:
			ctx.pushOperand(ctx.peekOperand())
		case opDup2:
			a := ctx.operand[ctx.opTop-2]
			b := ctx.operand[ctx.opTop-1]
			ctx.pushOperand(a)
			ctx.pushOperand(b)
		case opXchg:
			a := ctx.operand[ctx.opTop-2]
			b := ctx.operand[ctx.opTop-1]
			ctx.operand[ctx.opTop-2] = b
			ctx.operand[ctx.opTop-1] = a
		case opXchg2:
			a := ctx.operand[ctx.opTop-4]
			b := ctx.operand[ctx.opTop-3]
			c := ctx.operand[ctx.opTop-2]
			d := ctx.operand[ctx.opTop-1]
			ctx.operand[ctx.opTop-4] = c
			ctx.operand[ctx.opTop-3] = d
			ctx.operand[ctx.opTop-2] = a
			ctx.operand[ctx.opTop-1] = b

		case opNewVec:
			ctx.pushOperand(ctx.newVectorRef())
		case opVAppend:
			v := ctx.popOperand()
			vec := ctx.peekOperand().obj.(*vectorObj)
			vec.Append(v)
		case opNewHash:
			ctx.pushOperand(ctx.newHashRef())
		case opHAppend:
			v := ctx.popOperand()
			k := ctx.popOperand()
			h := ctx.peekOperand().obj.(*hashObj)
			h.Set(ctx, k, v)
		case opInsert:
			v := ctx.popOperand()
			idx := ctx.popOperand()
			c := ctx.popOperand()
			if err := containerInsert(ctx, c, idx, v); err != nil {
				return Nil, err
			}
			ctx.pushOperand(v)
		case opExtract:
			k := ctx.popOperand()
			c := ctx.popOperand()
			v, err := containerExtract(ctx, c, k)
			if err != nil {
				return Nil, err
			}
			ctx.pushOperand(v)
		case opIndex:
			idx := ctx.popOperand()
			c := ctx.popOperand()
			v, err := containerIndex(ctx, c, idx)
			if err != nil {
				return Nil, err
			}
			ctx.pushOperand(v)
		case opSlice, opSlice2:
			return Nil, &RuntimeError{Message: "slicing is not supported", Trace: ctx.traceback()}
		case opUnpack:
			vecRef := ctx.popOperand()
			if vecRef.Kind() != KindVector {
				return Nil, wrongType(ctx, "spread argument")
			}
			vec := vecRef.obj.(*vectorObj)
			for i := 0; i < vec.Len(); i++ {
				item, _ := vec.At(i)
				ctx.pushOperand(item)
			}

		case opMember:
			sym := f.code.consts[operand(0)].obj.(*stringObj)
			obj := ctx.popOperand()
			v, err := ctx.getMember(obj, sym)
			if err != nil {
				return Nil, err
			}
			ctx.pushOperand(v)
		case opSetMember:
			sym := f.code.consts[operand(0)].obj.(*stringObj)
			v := ctx.popOperand()
			obj := ctx.popOperand()
			if err := ctx.setMember(obj, sym, v); err != nil {
				return Nil, err
			}
			ctx.pushOperand(v)
		case opLocal:
			sym := f.code.consts[operand(0)].obj.(*stringObj)
			v, ok := ctx.resolveLocal(f, sym)
			if !ok {
				return Nil, &RuntimeError{Message: "undefined symbol: " + sym.String(), Trace: ctx.traceback()}
			}
			ctx.pushOperand(v)
		case opSetLocal:
			sym := f.code.consts[operand(0)].obj.(*stringObj)
			ctx.assignLocal(f, sym, ctx.peekOperand())
		case opSetSym:
			sym := f.code.consts[operand(0)].obj.(*stringObj)
			f.locals.symbolSet(ctx, sym, ctx.peekOperand())

		case opMark:
			ctx.pushMark(Number(float64(ctx.opTop)))
		case opUnmark:
			ctx.popMark()

		case opMakeFunc:
			code := f.code.consts[operand(0)].obj.(*codeObj)
			ctx.pushOperand(ctx.newFunction(code, f.locals))

		case opHalt:
			return Nil, nil

		default:
			return Nil, &FatalError{Message: "unimplemented opcode " + op.String()}
		}

		f.ip += advance
	}
}

func boolRef(b bool) Ref {
	if b {
		return Number(1)
	}
	return Number(0)
}

func containerIndex(ctx *Context, c, idx Ref) (Ref, error) {
	switch c.Kind() {
	case KindVector:
		if !idx.IsNumber() {
			return Nil, wrongType(ctx, "index")
		}
		v, ok := c.obj.(*vectorObj).At(int(idx.Float()))
		if !ok {
			return Nil, &RuntimeError{Message: "index out of range", Trace: ctx.traceback()}
		}
		return v, nil
	case KindHash:
		v, ok := c.obj.(*hashObj).Get(idx)
		if !ok {
			return Nil, nil
		}
		return v, nil
	default:
		return Nil, wrongType(ctx, "index")
	}
}

func containerInsert(ctx *Context, c, idx, v Ref) error {
	switch c.Kind() {
	case KindVector:
		if !idx.IsNumber() {
			return wrongType(ctx, "index assignment")
		}
		vec := c.obj.(*vectorObj)
		i := int(idx.Float())
		if i == vec.Len() {
			vec.Append(v)
			return nil
		}
		if !vec.Set(i, v) {
			return &RuntimeError{Message: "index out of range", Trace: ctx.traceback()}
		}
		return nil
	case KindHash:
		c.obj.(*hashObj).Set(ctx, idx, v)
		return nil
	default:
		return wrongType(ctx, "index assignment")
	}
}

func containerExtract(ctx *Context, c, k Ref) (Ref, error) {
	if c.Kind() != KindHash {
		return Nil, wrongType(ctx, "extract")
	}
	h := c.obj.(*hashObj)
	v, ok := h.Get(k)
	if !ok {
		return Nil, nil
	}
	h.Delete(ctx, k)
	return v, nil
}

// getMember resolves `.member` reads. Hash and Ghost values defer to
// their own storage; Vector/Hash/String additionally expose a handful
// of built-in computed members (`length`) that are not, and never
// were, stored keys.
func (ctx *Context) getMember(obj Ref, sym *stringObj) (Ref, error) {
	if sym.String() == "length" {
		switch obj.Kind() {
		case KindVector:
			return Number(float64(obj.obj.(*vectorObj).Len())), nil
		case KindHash:
			return Number(float64(obj.obj.(*hashObj).Size())), nil
		case KindString:
			return Number(float64(len(obj.obj.(*stringObj).bytes()))), nil
		}
	}
	switch obj.Kind() {
	case KindHash:
		v, ok := obj.obj.(*hashObj).symbolGet(sym)
		if !ok {
			return Nil, nil
		}
		return v, nil
	case KindGhost:
		g := obj.obj.(*ghostObj)
		if g.typ.Get == nil {
			return Nil, &RuntimeError{Message: "ghost type " + g.typ.Name + " has no member access", Trace: ctx.traceback()}
		}
		v, ok := g.typ.Get(g.handle, sym.String())
		if !ok {
			return Nil, nil
		}
		return v, nil
	default:
		return Nil, &RuntimeError{Message: "cannot read member of " + obj.Kind().String(), Trace: ctx.traceback()}
	}
}

func (ctx *Context) setMember(obj Ref, sym *stringObj, v Ref) error {
	switch obj.Kind() {
	case KindHash:
		obj.obj.(*hashObj).symbolSet(ctx, sym, v)
		return nil
	case KindGhost:
		g := obj.obj.(*ghostObj)
		if g.typ.Set == nil {
			return &RuntimeError{Message: "ghost type " + g.typ.Name + " has no member assignment", Trace: ctx.traceback()}
		}
		if !g.typ.Set(g.handle, sym.String(), v) {
			return &RuntimeError{Message: "ghost type " + g.typ.Name + " rejected member assignment", Trace: ctx.traceback()}
		}
		return nil
	default:
		return &RuntimeError{Message: "cannot set member of " + obj.Kind().String(), Trace: ctx.traceback()}
	}
}
