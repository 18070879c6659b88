package munin

import "fmt"

// callVariadicSentinel marks FCALL/MCALL's argc operand as "count is
// not known at compile time": the interpreter recovers it from the
// mark stack entry MARK pushed just before the argument run.
const callVariadicSentinel = 0xFFFF

// loopFrame is the compile-time record of one enclosing loop: its
// optional `tag:` label and the (not yet placed) labels break/continue
// jump to. for and while push one of these onto a compile-time stack
// tracking the break and continue targets.
type loopFrame struct {
	label    string
	breakLbl *label
	contLbl  *label
}

// compiler walks a token tree and emits a symbolic Program, one per
// function literal (the top-level program is itself compiled as a
// parameterless function body). ctx is needed to intern symbol
// constants and allocate string constants through the runtime's
// normal allocation path.
type compiler struct {
	ctx   *Context
	tr    *tree
	lines *LineIndex
	prog  *Program
	loops []loopFrame
}

func newCompiler(ctx *Context, tr *tree, file, name string) *compiler {
	return &compiler{
		ctx:   ctx,
		tr:    tr,
		lines: NewLineIndex(tr.input),
		prog:  newProgram(file, name),
	}
}

// Codegen lowers a parsed token tree into a symbolic Program for its
// top-level statements, treating them as the body of an implicit
// parameterless function.
func Codegen(ctx *Context, tr *tree, root nodeID, file, name string) (*Program, error) {
	c := newCompiler(ctx, tr, file, name)
	if err := c.compileBlock(root); err != nil {
		return nil, err
	}
	c.emit(0, opPushNil)
	c.emit(0, opReturn)
	return c.prog, nil
}

func (c *compiler) node(id nodeID) *treeNode { return &c.tr.nodes[id] }
func (c *compiler) line(id nodeID) int       { return int(c.lines.LocationAt(c.node(id).span.Start).Line) }

func (c *compiler) emit(line int, op opcode, operands ...int) { c.prog.emit(line, op, operands...) }

func (c *compiler) errorf(id nodeID, format string, args ...any) error {
	return &CodegenError{Message: fmt.Sprintf(format, args...), Span: c.lines.Span(c.node(id).span)}
}

// symConst interns name and appends it to the constants table,
// letting LOCAL/SETLOCAL/MEMBER/... opcodes reference it by index
// while giving the runtime the fast pointer-identity symbol lookup
// path for free.
func (c *compiler) symConst(name []byte) int {
	return c.prog.addConst(c.ctx.rt.internRef(c.ctx, name))
}

func (c *compiler) compileBlock(id nodeID) error {
	for _, child := range c.tr.Children(id) {
		if err := c.compileStmt(child); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) compileStmt(id nodeID) error {
	n := c.node(id)
	line := c.line(id)
	switch n.kind {
	case nkExprStmt:
		if err := c.compileExpr(n.a); err != nil {
			return err
		}
		c.emit(line, opPop)
		return nil

	case nkVarDecl:
		if n.a != noNode {
			if err := c.compileExpr(n.a); err != nil {
				return err
			}
		} else {
			c.emit(line, opPushNil)
		}
		c.emit(line, opSetSym, c.symConst(n.str))
		c.emit(line, opPop)
		return nil

	case nkBlock:
		return c.compileBlock(id)

	case nkIf:
		return c.compileIf(id)
	case nkWhile:
		return c.compileWhile(id)
	case nkFor:
		return c.compileFor(id)
	case nkForeach:
		return c.compileForeach(id, false)
	case nkForindex:
		return c.compileForeach(id, true)

	case nkReturn:
		if n.a != noNode {
			if err := c.compileExpr(n.a); err != nil {
				return err
			}
		} else {
			c.emit(line, opPushNil)
		}
		c.emit(line, opReturn)
		return nil

	case nkBreak, nkContinue:
		lf, err := c.findLoop(id, n.label)
		if err != nil {
			return err
		}
		if n.kind == nkBreak {
			c.prog.emitJump(line, opBreak, lf.breakLbl)
		} else {
			c.prog.emitJump(line, opBreak2, lf.contLbl)
		}
		return nil

	default:
		if err := c.compileExpr(id); err != nil {
			return err
		}
		c.emit(line, opPop)
		return nil
	}
}

func (c *compiler) findLoop(id nodeID, label string) (*loopFrame, error) {
	if label == "" {
		if len(c.loops) == 0 {
			return nil, c.errorf(id, "break/continue outside a loop")
		}
		return &c.loops[len(c.loops)-1], nil
	}
	for i := len(c.loops) - 1; i >= 0; i-- {
		if c.loops[i].label == label {
			return &c.loops[i], nil
		}
	}
	return nil, c.errorf(id, "no enclosing loop tagged %q", label)
}

func (c *compiler) compileIf(id nodeID) error {
	n := c.node(id)
	line := c.line(id)
	if err := c.compileExpr(n.a); err != nil {
		return err
	}
	elseLbl := c.prog.newLabel()
	c.prog.emitJump(line, opJifNot, elseLbl)
	if err := c.compileBraceStmt(n.b); err != nil {
		return err
	}
	if n.c == noNode {
		c.prog.placeLabel(elseLbl)
		return nil
	}
	endLbl := c.prog.newLabel()
	c.prog.emitJump(line, opJifEnd, endLbl)
	c.prog.placeLabel(elseLbl)
	if err := c.compileBraceStmt(n.c); err != nil {
		return err
	}
	c.prog.placeLabel(endLbl)
	return nil
}

// compileBraceStmt compiles a node that is always a nkBlock produced
// by parseBraceBlock (if/while/for/.../func bodies).
func (c *compiler) compileBraceStmt(id nodeID) error {
	return c.compileBlock(id)
}

func (c *compiler) compileWhile(id nodeID) error {
	n := c.node(id)
	line := c.line(id)
	condLbl := c.prog.newLabel()
	breakLbl := c.prog.newLabel()
	c.prog.placeLabel(condLbl)
	if err := c.compileExpr(n.a); err != nil {
		return err
	}
	c.prog.emitJump(line, opJifNot, breakLbl)
	c.loops = append(c.loops, loopFrame{label: n.label, breakLbl: breakLbl, contLbl: condLbl})
	if err := c.compileBraceStmt(n.b); err != nil {
		return err
	}
	c.loops = c.loops[:len(c.loops)-1]
	c.prog.emitJump(line, opJmpLoop, condLbl)
	c.prog.placeLabel(breakLbl)
	return nil
}

func (c *compiler) compileFor(id nodeID) error {
	n := c.node(id)
	line := c.line(id)
	kids := c.tr.Children(id)
	initN, condN, stepN, body := kids[0], kids[1], kids[2], kids[3]

	if initN != noNode {
		if c.tr.Kind(initN) == nkVarDecl {
			if err := c.compileStmt(initN); err != nil {
				return err
			}
		} else {
			if err := c.compileExpr(initN); err != nil {
				return err
			}
			c.emit(line, opPop)
		}
	}

	condLbl := c.prog.newLabel()
	stepLbl := c.prog.newLabel()
	breakLbl := c.prog.newLabel()
	c.prog.placeLabel(condLbl)
	if condN != noNode {
		if err := c.compileExpr(condN); err != nil {
			return err
		}
		c.prog.emitJump(line, opJifNot, breakLbl)
	}
	c.loops = append(c.loops, loopFrame{label: n.label, breakLbl: breakLbl, contLbl: stepLbl})
	if err := c.compileBraceStmt(body); err != nil {
		return err
	}
	c.loops = c.loops[:len(c.loops)-1]
	c.prog.placeLabel(stepLbl)
	if stepN != noNode {
		if err := c.compileExpr(stepN); err != nil {
			return err
		}
		c.emit(line, opPop)
	}
	c.prog.emitJump(line, opJmpLoop, condLbl)
	c.prog.placeLabel(breakLbl)
	return nil
}

// compileForeach lowers both `foreach` and `forindex` onto the single
// EACH primitive: the operand stack carries a persistent [index,
// collection] window across iterations, and EACH yields both
// the current key (index for a Vector, key Ref for a Hash) and the
// current element value each time it does not exhaust the collection.
// byIndex selects which of the two the loop variable binds to.
func (c *compiler) compileForeach(id nodeID, byIndex bool) error {
	n := c.node(id)
	line := c.line(id)
	c.emit(line, opPushZero)
	if err := c.compileExpr(n.a); err != nil {
		return err
	}
	loopLbl := c.prog.newLabel()
	breakLbl := c.prog.newLabel()
	c.prog.placeLabel(loopLbl)
	c.prog.emitJump(line, opEach, breakLbl)
	// stack: [..., index, collection, key, value]
	if byIndex {
		c.emit(line, opPop) // discard value
		c.emit(line, opSetSym, c.symConst(n.str))
		c.emit(line, opPop)
	} else {
		c.emit(line, opXchg) // [..., index, collection, value, key]
		c.emit(line, opPop)  // discard key -> [..., index, collection, value]
		c.emit(line, opSetSym, c.symConst(n.str))
		c.emit(line, opPop)
	}
	c.loops = append(c.loops, loopFrame{label: n.label, breakLbl: breakLbl, contLbl: loopLbl})
	if err := c.compileBraceStmt(n.b); err != nil {
		return err
	}
	c.loops = c.loops[:len(c.loops)-1]
	c.prog.emitJump(line, opJmpLoop, loopLbl)
	c.prog.placeLabel(breakLbl)
	return nil
}

// compileExpr lowers an expression node, leaving exactly one value on
// the operand stack.
func (c *compiler) compileExpr(id nodeID) error {
	n := c.node(id)
	line := c.line(id)
	switch n.kind {
	case nkNumber:
		switch n.num {
		case 0:
			c.emit(line, opPushZero)
		case 1:
			c.emit(line, opPushOne)
		default:
			c.emit(line, opPushConst, c.prog.addConst(Number(n.num)))
		}
		return nil
	case nkString:
		c.emit(line, opPushConst, c.prog.addConst(c.ctx.newStringRef(n.str)))
		return nil
	case nkNil:
		c.emit(line, opPushNil)
		return nil
	case nkTrue:
		c.emit(line, opPushOne)
		return nil
	case nkFalse:
		c.emit(line, opPushZero)
		return nil
	case nkIdent:
		c.emit(line, opLocal, c.symConst(n.str))
		return nil
	case nkEllipsis:
		return c.errorf(id, "'...' is only valid as a call argument or rest parameter")

	case nkUnary:
		return c.compileUnary(id)
	case nkBinary:
		return c.compileBinary(id)
	case nkAssign:
		return c.compileAssign(id)
	case nkTernary:
		return c.compileTernary(id)
	case nkCoalesce:
		return c.compileCoalesce(n.a, n.b, line)

	case nkCall:
		return c.compileCall(id, n.a, false)
	case nkMethodCall:
		return c.compileCall(id, n.a, true)
	case nkIndex:
		if err := c.compileExpr(n.a); err != nil {
			return err
		}
		if err := c.compileExpr(n.b); err != nil {
			return err
		}
		c.emit(line, opIndex)
		return nil
	case nkMember:
		if err := c.compileExpr(n.a); err != nil {
			return err
		}
		c.emit(line, opMember, c.symConst(n.str))
		return nil
	case nkCondMember:
		return c.compileCondMember(id)

	case nkVector:
		c.emit(line, opNewVec)
		for _, item := range c.tr.Children(id) {
			if err := c.compileExpr(item); err != nil {
				return err
			}
			c.emit(line, opVAppend)
		}
		return nil
	case nkHashLit:
		c.emit(line, opNewHash)
		kids := c.tr.Children(id)
		for i := 0; i+1 < len(kids); i += 2 {
			if err := c.compileExpr(kids[i]); err != nil {
				return err
			}
			if err := c.compileExpr(kids[i+1]); err != nil {
				return err
			}
			c.emit(line, opHAppend)
		}
		return nil

	case nkFunc:
		return c.compileFuncLit(id)

	default:
		return c.errorf(id, "cannot compile node of kind %s as an expression", n.kind)
	}
}

func (c *compiler) compileUnary(id nodeID) error {
	n := c.node(id)
	line := c.line(id)
	if err := c.compileExpr(n.a); err != nil {
		return err
	}
	switch n.op {
	case tkNot:
		c.emit(line, opNot)
	case tkMinus:
		c.emit(line, opNeg)
	case tkTilde:
		c.emit(line, opBitNeg)
	case tkQMark:
		// Prefix `?`: truthiness probe, normalizing to the canonical
		// 0/1 boolean encoding (same result shape as comparisons).
		c.emit(line, opNot)
		c.emit(line, opNot)
	default:
		return c.errorf(id, "unsupported unary operator")
	}
	return nil
}

var arithOp = map[tokenKind]opcode{
	tkStar: opMul, tkSlash: opDiv, tkTilde: opCat, tkPlus: opPlus, tkMinus: opMinus,
	tkLt: opLt, tkLte: opLte, tkGt: opGt, tkGte: opGte,
	tkAmp: opBitAnd, tkCaret: opBitXor, tkPipe: opBitOr,
}

func (c *compiler) compileBinary(id nodeID) error {
	n := c.node(id)
	line := c.line(id)
	switch n.op {
	case tkAnd:
		if err := c.compileExpr(n.a); err != nil {
			return err
		}
		endLbl := c.prog.newLabel()
		c.prog.emitJump(line, opJifNotPop, endLbl)
		c.emit(line, opPop)
		if err := c.compileExpr(n.b); err != nil {
			return err
		}
		c.prog.placeLabel(endLbl)
		return nil
	case tkOr:
		if err := c.compileExpr(n.a); err != nil {
			return err
		}
		endLbl := c.prog.newLabel()
		c.prog.emitJump(line, opJifTrue, endLbl)
		c.emit(line, opPop)
		if err := c.compileExpr(n.b); err != nil {
			return err
		}
		c.prog.placeLabel(endLbl)
		return nil
	case tkEq, tkNeq:
		if err := c.compileExpr(n.a); err != nil {
			return err
		}
		if err := c.compileExpr(n.b); err != nil {
			return err
		}
		c.emit(line, opEq)
		if n.op == tkNeq {
			c.emit(line, opNot)
		}
		return nil
	}
	op, ok := arithOp[n.op]
	if !ok {
		return c.errorf(id, "unsupported binary operator")
	}
	if err := c.compileExpr(n.a); err != nil {
		return err
	}
	if err := c.compileExpr(n.b); err != nil {
		return err
	}
	c.emit(line, op)
	return nil
}

func (c *compiler) compileTernary(id nodeID) error {
	n := c.node(id)
	line := c.line(id)
	if err := c.compileExpr(n.a); err != nil {
		return err
	}
	elseLbl := c.prog.newLabel()
	endLbl := c.prog.newLabel()
	c.prog.emitJump(line, opJifNot, elseLbl)
	if err := c.compileExpr(n.b); err != nil {
		return err
	}
	c.prog.emitJump(line, opJifEnd, endLbl)
	c.prog.placeLabel(elseLbl)
	if err := c.compileExpr(n.c); err != nil {
		return err
	}
	c.prog.placeLabel(endLbl)
	return nil
}

// compileCoalesce implements `a ?? b`: a's value if a is not nil,
// otherwise b, without evaluating b unless needed.
func (c *compiler) compileCoalesce(aID, bID nodeID, line int) error {
	if err := c.compileExpr(aID); err != nil {
		return err
	}
	c.emit(line, opDup)
	c.emit(line, opPushNil)
	c.emit(line, opEq)
	notNilLbl := c.prog.newLabel()
	c.prog.emitJump(line, opJifNot, notNilLbl)
	c.emit(line, opPop)
	if err := c.compileExpr(bID); err != nil {
		return err
	}
	endLbl := c.prog.newLabel()
	c.prog.emitJump(line, opJifEnd, endLbl)
	c.prog.placeLabel(notNilLbl)
	c.prog.placeLabel(endLbl)
	return nil
}

func (c *compiler) compileCondMember(id nodeID) error {
	n := c.node(id)
	line := c.line(id)
	if err := c.compileExpr(n.a); err != nil {
		return err
	}
	c.emit(line, opDup)
	c.emit(line, opPushNil)
	c.emit(line, opEq)
	notNilLbl := c.prog.newLabel()
	c.prog.emitJump(line, opJifNot, notNilLbl)
	c.emit(line, opPop)
	c.emit(line, opPushNil)
	endLbl := c.prog.newLabel()
	c.prog.emitJump(line, opJifEnd, endLbl)
	c.prog.placeLabel(notNilLbl)
	c.emit(line, opMember, c.symConst(n.str))
	c.prog.placeLabel(endLbl)
	return nil
}

var compoundOp = map[tokenKind]opcode{
	tkPlusEq: opPlus, tkMinusEq: opMinus, tkStarEq: opMul, tkSlashEq: opDiv,
	tkTildeEq: opCat, tkAmpEq: opBitAnd, tkPipeEq: opBitOr, tkCaretEq: opBitXor,
}

// compileAssign lowers `target = rhs`, `target op= rhs` and
// `target ??= rhs` against the three lvalue shapes the grammar
// allows: a bare identifier, a member `a.b` and an index `a[i]`;
// a?.member is excluded. ??= on a member or
// index target is treated the same as plain assignment — a documented
// simplification (see the grounding ledger) rather than a
// read-modify-write against the container.
func (c *compiler) compileAssign(id nodeID) error {
	n := c.node(id)
	line := c.line(id)
	target := n.a
	rhs := n.b

	switch c.tr.Kind(target) {
	case nkIdent:
		sym := c.symConst(c.node(target).str)
		if n.op == tkQQEq {
			c.emit(line, opLocal, sym)
			if err := c.compileCoalesceRHS(rhs, line); err != nil {
				return err
			}
			c.emit(line, opSetLocal, sym)
			return nil
		}
		if op, ok := compoundOp[n.op]; ok {
			c.emit(line, opLocal, sym)
			if err := c.compileExpr(rhs); err != nil {
				return err
			}
			c.emit(line, op)
			c.emit(line, opSetLocal, sym)
			return nil
		}
		if err := c.compileExpr(rhs); err != nil {
			return err
		}
		c.emit(line, opSetLocal, sym)
		return nil

	case nkMember:
		mn := c.node(target)
		sym := c.symConst(mn.str)
		if err := c.compileExpr(mn.a); err != nil {
			return err
		}
		c.emit(line, opDup)
		if op, ok := compoundOp[n.op]; ok {
			c.emit(line, opMember, sym)
			if err := c.compileExpr(rhs); err != nil {
				return err
			}
			c.emit(line, op)
			c.emit(line, opSetMember, sym)
			return nil
		}
		if err := c.compileExpr(rhs); err != nil {
			return err
		}
		c.emit(line, opSetMember, sym)
		c.emit(line, opXchg)
		c.emit(line, opPop)
		return nil

	case nkIndex:
		in := c.node(target)
		if err := c.compileExpr(in.a); err != nil {
			return err
		}
		if err := c.compileExpr(in.b); err != nil {
			return err
		}
		c.emit(line, opDup2)
		if op, ok := compoundOp[n.op]; ok {
			c.emit(line, opIndex)
			if err := c.compileExpr(rhs); err != nil {
				return err
			}
			c.emit(line, op)
			c.emit(line, opInsert)
			return nil
		}
		if err := c.compileExpr(rhs); err != nil {
			return err
		}
		c.emit(line, opInsert)
		c.emit(line, opXchg)
		c.emit(line, opPop)
		c.emit(line, opXchg)
		c.emit(line, opPop)
		return nil

	default:
		return c.errorf(target, "invalid assignment target")
	}
}

// compileCoalesceRHS compiles the right-hand side of `x ??= rhs` given
// the current value of x already sitting on the stack.
func (c *compiler) compileCoalesceRHS(rhs nodeID, line int) error {
	c.emit(line, opDup)
	c.emit(line, opPushNil)
	c.emit(line, opEq)
	notNilLbl := c.prog.newLabel()
	c.prog.emitJump(line, opJifNot, notNilLbl)
	c.emit(line, opPop)
	if err := c.compileExpr(rhs); err != nil {
		return err
	}
	endLbl := c.prog.newLabel()
	c.prog.emitJump(line, opJifEnd, endLbl)
	c.prog.placeLabel(notNilLbl)
	c.prog.placeLabel(endLbl)
	return nil
}

// compileCall lowers a call/method-call node. Spread arguments
// (`...expr`) force the variadic calling convention: a MARK records
// the operand-stack height before any argument is pushed and the
// FCALL/MCALL operand becomes callVariadicSentinel so the interpreter
// recovers argc from the mark stack instead of the instruction stream.
func (c *compiler) compileCall(id, calleeID nodeID, isMethod bool) error {
	line := c.line(id)
	variadic := false
	for _, a := range c.tr.Children(id) {
		if c.tr.Kind(a) == nkEllipsis {
			variadic = true
			break
		}
	}

	if isMethod {
		mn := c.node(calleeID)
		if err := c.compileExpr(mn.a); err != nil {
			return err
		}
		c.emit(line, opDup)
		c.emit(line, opMember, c.symConst(mn.str))
	} else {
		if err := c.compileExpr(calleeID); err != nil {
			return err
		}
	}

	args := c.tr.Children(id)
	if variadic {
		c.emit(line, opMark)
		for _, a := range args {
			an := c.node(a)
			if an.kind == nkEllipsis {
				if err := c.compileExpr(an.a); err != nil {
					return err
				}
				c.emit(line, opUnpack, 0)
			} else {
				if err := c.compileExpr(a); err != nil {
					return err
				}
			}
		}
		op := opFcall
		if isMethod {
			op = opMcall
		}
		c.emit(line, op, callVariadicSentinel)
		return nil
	}

	for _, a := range args {
		if err := c.compileExpr(a); err != nil {
			return err
		}
	}
	op := opFcall
	if isMethod {
		op = opMcall
	}
	c.emit(line, op, len(args))
	return nil
}

// compileFuncLit compiles the function body as its own Program, then
// emits MAKEFUNC so the enclosing frame's locals become the runtime
// closure's outer scope, captured at the point the literal is
// evaluated.
func (c *compiler) compileFuncLit(id nodeID) error {
	n := c.node(id)
	line := c.line(id)

	sub := newCompiler(c.ctx, c.tr, c.prog.file, "<anonymous>")
	var args argDescriptor
	for _, p := range c.tr.Children(id) {
		pn := c.node(p)
		switch pn.kind {
		case nkIdent:
			args.positional = append(args.positional, string(pn.str))
		case nkAssign:
			defRef, err := c.literalConst(pn.a)
			if err != nil {
				return err
			}
			args.optional = append(args.optional, optionalArg{name: pn.str2(), defaultIdx: sub.prog.addConst(defRef)})
		case nkEllipsis:
			args.rest = string(pn.str)
		}
	}
	sub.prog.args = args
	if err := sub.compileBlock(n.b); err != nil {
		return err
	}
	sub.emit(0, opPushNil)
	sub.emit(0, opReturn)

	code := Encode(c.ctx, sub.prog)
	idx := c.prog.addConst(Ref{kind: KindCode, obj: code})
	c.emit(line, opMakeFunc, idx)
	return nil
}

// str2 exists only because optionalArg.name is assigned from a param
// node whose str field holds the parameter name directly (it is not a
// string literal node, just a raw identifier byte slice).
func (n *treeNode) str2() string { return string(n.str) }

func (c *compiler) literalConst(id nodeID) (Ref, error) {
	n := c.node(id)
	switch n.kind {
	case nkNumber:
		return Number(n.num), nil
	case nkString:
		return c.ctx.newStringRef(n.str), nil
	case nkNil:
		return Nil, nil
	case nkTrue:
		return Number(1), nil
	case nkFalse:
		return Number(0), nil
	default:
		return Nil, c.errorf(id, "default argument value must be a literal")
	}
}
