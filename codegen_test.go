package munin

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodegen_ProducesRunnableProgram(t *testing.T) {
	_, ctx := newTestContext(t)

	tr, root, err := Parse("<test>", []byte("return 1 + 2;"))
	require.NoError(t, err)

	prog, err := Codegen(ctx, tr, root, "<test>", "<toplevel>")
	require.NoError(t, err)
	assert.NotEmpty(t, prog.instrs)

	code := Encode(ctx, prog)
	assert.NotEmpty(t, code.ops)
}

func TestProgram_PrettyStringContainsOpcodes(t *testing.T) {
	_, ctx := newTestContext(t)

	tr, root, err := Parse("<test>", []byte("var x = 1; return x;"))
	require.NoError(t, err)

	prog, err := Codegen(ctx, tr, root, "<test>", "<toplevel>")
	require.NoError(t, err)

	out := prog.PrettyString()
	assert.True(t, strings.Contains(out, "PUSHCONST") || strings.Contains(out, "RETURN"),
		"disassembly should mention at least one recognizable opcode:\n%s", out)
}

func TestCodegen_BreakOutsideLoopErrors(t *testing.T) {
	_, ctx := newTestContext(t)

	tr, root, err := Parse("<test>", []byte("break;"))
	require.NoError(t, err)

	_, err = Codegen(ctx, tr, root, "<test>", "<toplevel>")
	require.Error(t, err)
	var cerr *CodegenError
	assert.ErrorAs(t, err, &cerr)
}
