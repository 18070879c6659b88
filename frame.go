package munin

// callFrame is one activation record on a Context's frame stack: the
// Function being run, the locals Hash its body reads and writes
// through, the instruction pointer into its Code's opcode stream, and
// the operand-stack height the frame started at so RETURN knows how
// much to unwind.
type callFrame struct {
	fn     Ref // KindFunction
	code   *codeObj
	locals *hashObj
	ip     int
	base   int // ctx.operand[:base] belongs to the caller
}

// pushFrame installs a new call frame, returning false if doing so
// would exceed the context's fixed frame-stack bound — the caller
// turns that into a RuntimeError ("stack overflow") rather than
// growing the slice, since an unbounded Go call stack defeats the
// whole point of a bounded VM frame stack.
func (ctx *Context) pushFrame(fn Ref, code *codeObj, locals *hashObj, base int) bool {
	if ctx.frameTop >= len(ctx.frames) {
		return false
	}
	ctx.frames[ctx.frameTop] = callFrame{fn: fn, code: code, locals: locals, base: base}
	ctx.frameTop++
	return true
}

func (ctx *Context) popFrame() callFrame {
	ctx.frameTop--
	return ctx.frames[ctx.frameTop]
}

func (ctx *Context) currentFrame() *callFrame {
	return &ctx.frames[ctx.frameTop-1]
}

// pushOperand and popOperand are the VM's data-stack primitives.
// pushOperand reports overflow the same way pushFrame does, so the
// interpreter can raise a catchable RuntimeError instead of panicking
// on a malicious or buggy pathological recursion.
func (ctx *Context) pushOperand(r Ref) bool {
	if ctx.opTop >= len(ctx.operand) {
		return false
	}
	ctx.operand[ctx.opTop] = r
	ctx.opTop++
	return true
}

func (ctx *Context) popOperand() Ref {
	ctx.opTop--
	r := ctx.operand[ctx.opTop]
	ctx.operand[ctx.opTop] = Nil
	return r
}

func (ctx *Context) peekOperand() Ref {
	return ctx.operand[ctx.opTop-1]
}

func (ctx *Context) pushMark(r Ref) bool {
	if ctx.markTop >= len(ctx.mark) {
		return false
	}
	ctx.mark[ctx.markTop] = r
	ctx.markTop++
	return true
}

func (ctx *Context) popMark() Ref {
	ctx.markTop--
	r := ctx.mark[ctx.markTop]
	ctx.mark[ctx.markTop] = Nil
	return r
}

// Traceback walks the live frame stack from innermost to outermost,
// the order every TraceEntry consumer (RuntimeError, ScriptError,
// the `disasm`/`run` CLI) expects. CFunc implementations use this to
// attach a call stack to errors they raise.
func (ctx *Context) Traceback() []TraceEntry {
	return ctx.traceback()
}

func (ctx *Context) traceback() []TraceEntry {
	trace := make([]TraceEntry, 0, ctx.frameTop)
	for i := ctx.frameTop - 1; i >= 0; i-- {
		f := &ctx.frames[i]
		name := f.code.name
		if name == "" {
			name = "<anonymous>"
		}
		trace = append(trace, TraceEntry{
			Name: name,
			File: f.code.file,
			Line: f.code.lineFor(f.ip),
		})
	}
	return trace
}
