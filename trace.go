package munin

// traceInstr writes one disassembly-style line for the instruction
// about to execute, gated on the "vm.trace" config flag. Called from
// the dispatch loop's hot path, so the flag check happens before any
// formatting work.
func (ctx *Context) traceInstr(f *callFrame, op opcode, operand func(int) int) {
	if !ctx.rt.cfg.GetBool("vm.trace") {
		return
	}
	width := opWidth(op)
	switch width {
	case 0:
		ctx.rt.log.Printf("trace %s:%d  %04d %s", f.code.file, f.code.lineFor(f.ip), f.ip, op)
	default:
		ops := make([]int, width)
		for i := range ops {
			ops[i] = operand(i)
		}
		ctx.rt.log.Printf("trace %s:%d  %04d %s %v", f.code.file, f.code.lineFor(f.ip), f.ip, op, ops)
	}
}

// traceCall logs a function/host-call boundary crossing, the other
// place a host embedding an interactive debugger wants a hook besides
// the per-instruction trace.
func (ctx *Context) traceCall(name string, argc int) {
	if !ctx.rt.cfg.GetBool("vm.trace") {
		return
	}
	ctx.rt.log.Printf("trace call %s argc=%d depth=%d", name, argc, ctx.frameTop)
}
