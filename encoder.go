package munin

// Encode resolves every label in p to an absolute instruction offset
// and serializes the symbolic program into a codeObj's flat uint16
// stream: a first pass records where each label lands, a second pass
// emits the final words using the resolved offsets.
func Encode(ctx *Context, p *Program) *codeObj {
	offsets := make(map[int]int, 8)
	cursor := 0
	for _, ins := range p.instrs {
		if ins.lbl != nil {
			offsets[ins.lbl.id] = cursor
			continue
		}
		cursor += 1 + opWidth(ins.op)
	}

	code := ctx.newCode()
	code.file = p.file
	code.name = p.name
	code.consts = p.consts
	code.args = p.args

	ops := make([]uint16, 0, cursor)
	lines := make([]lineEntry, 0, 8)
	lastLine := -1
	for _, ins := range p.instrs {
		if ins.lbl != nil {
			continue
		}
		if ins.line != lastLine {
			lines = append(lines, lineEntry{pc: len(ops), line: ins.line})
			lastLine = ins.line
		}
		ops = append(ops, uint16(ins.op))
		for i, o := range ins.operands {
			if contains(ins.labels, i) {
				ops = append(ops, uint16(offsets[o]))
			} else {
				ops = append(ops, uint16(o))
			}
		}
	}
	code.ops = ops
	code.lines = lines
	return code
}
