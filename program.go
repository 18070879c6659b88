package munin

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/munin-lang/munin/asciiterm"
)

// label is a symbolic jump target the code generator assigns before
// it knows the final instruction offset; Encode resolves every label
// to an absolute offset in the first of its two passes over the
// symbolic stream.
type label struct{ id int }

// symInstr is one symbolic instruction: an opcode plus operands that
// are either raw 16-bit immediates or labels still awaiting
// resolution.
type symInstr struct {
	op       opcode
	operands []int // resolved-or-raw values
	labels   []int // indices into operands that hold a label id, not a literal
	lbl      *label // non-nil when this entry is itself a label placement
	line     int
}

// Program is the code generator's symbolic output: an instruction
// list that still carries jump labels (each instruction with its
// source line) and a deduplicated constants pool.
type Program struct {
	file    string
	name    string
	instrs  []symInstr
	consts  []Ref
	args    argDescriptor
	nextLbl int
}

func newProgram(file, name string) *Program {
	return &Program{file: file, name: name}
}

func (p *Program) newLabel() *label {
	p.nextLbl++
	return &label{id: p.nextLbl}
}

func (p *Program) placeLabel(l *label) {
	p.instrs = append(p.instrs, symInstr{lbl: l})
}

func (p *Program) emit(line int, op opcode, operands ...int) {
	p.instrs = append(p.instrs, symInstr{op: op, operands: operands, line: line})
}

func (p *Program) emitJump(line int, op opcode, target *label) {
	p.instrs = append(p.instrs, symInstr{op: op, operands: []int{target.id}, labels: []int{0}, line: line})
}

// addConst appends v to the constants table, deduplicating by
// Ref.Equal against existing entries: the table only ever grows, and
// never discards a constant once two or more instructions reference
// its index.
func (p *Program) addConst(v Ref) int {
	for i, c := range p.consts {
		if c.Equal(v) {
			return i
		}
	}
	p.consts = append(p.consts, v)
	return len(p.consts) - 1
}

// PrettyString renders the symbolic program as human-readable
// assembly, used by `munin disasm` and tests.
func (p *Program) PrettyString() string {
	return p.prettyString(func(s string, _ asmToken) string { return s })
}

func (p *Program) HighlightPrettyString() string {
	return p.prettyString(func(s string, tok asmToken) string {
		return asmTheme[tok] + s + asmTheme[asmNone]
	})
}

type asmToken int

const (
	asmNone asmToken = iota
	asmComment
	asmLabelTok
	asmLiteral
	asmOperator
)

var asmTheme = map[asmToken]string{
	asmNone:     asciiterm.Reset,
	asmComment:  asciiterm.DefaultTheme.Comment,
	asmLabelTok: asciiterm.DefaultTheme.Label,
	asmLiteral:  asciiterm.DefaultTheme.Literal,
	asmOperator: asciiterm.DefaultTheme.Operator,
}

func (p *Program) prettyString(format func(string, asmToken) string) string {
	var s strings.Builder
	index := 0
	for _, ins := range p.instrs {
		if ins.lbl != nil {
			s.WriteString(format(fmt.Sprintf("l%d:\n", ins.lbl.id), asmLabelTok))
			continue
		}
		s.WriteString(format(fmt.Sprintf("%06d  ", index), asmComment))
		s.WriteString(format(ins.op.String(), asmOperator))
		for i, o := range ins.operands {
			if contains(ins.labels, i) {
				s.WriteString(format(fmt.Sprintf(" l%d", o), asmLabelTok))
			} else if ins.op == opPushConst && i == 0 && o < len(p.consts) {
				s.WriteString(format(" "+strconv.Itoa(o)+" ;"+constString(p.consts[o]), asmLiteral))
			} else {
				s.WriteString(format(" "+strconv.Itoa(o), asmLiteral))
			}
		}
		s.WriteString("\n")
		index += 1 + opWidth(ins.op)
	}
	return s.String()
}

func contains(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func constString(r Ref) string {
	switch r.kind {
	case KindNumber:
		return strconv.FormatFloat(r.Float(), 'g', -1, 64)
	case KindString:
		return r.obj.(*stringObj).String()
	default:
		return r.kind.String()
	}
}
