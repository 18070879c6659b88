package munin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestContext builds a Runtime+Context pair and registers cleanup
// that releases the context before closing the runtime: Close panics
// if any context is still bound, so release must run first.
func newTestContext(t *testing.T) (*Runtime, *Context) {
	t.Helper()
	rt := NewRuntime(NewConfig())
	ctx := rt.NewContext()
	t.Cleanup(func() {
		rt.Release(ctx)
		rt.Close()
	})
	return rt, ctx
}

func evalString(t *testing.T, src string) Ref {
	t.Helper()
	rt, ctx := newTestContext(t)
	ns := rt.DefaultNamespace(ctx)
	v, err := Eval(ctx, "<test>", []byte(src), ns)
	require.NoError(t, err)
	return v
}

func TestEval_Arithmetic(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want float64
	}{
		{"addition", "return 1 + 2;", 3},
		{"precedence", "return 2 + 3 * 4;", 14},
		{"parens", "return (2 + 3) * 4;", 20},
		{"unary minus", "return -5 + 2;", -3},
		{"comparison true", "return 3 < 4;", 1},
		{"comparison false", "return 3 > 4;", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := evalString(t, tt.src)
			require.True(t, v.IsNumber())
			assert.Equal(t, tt.want, v.Float())
		})
	}
}

func TestEval_Variables(t *testing.T) {
	v := evalString(t, `
		var x = 10;
		var y = 20;
		return x + y;
	`)
	require.True(t, v.IsNumber())
	assert.Equal(t, float64(30), v.Float())
}

func TestEval_IfElse(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want float64
	}{
		{"then branch", "var x = 1; if (x) { return 10; } else { return 20; }", 10},
		{"else branch", "var x = 0; if (x) { return 10; } else { return 20; }", 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := evalString(t, tt.src)
			assert.Equal(t, tt.want, v.Float())
		})
	}
}

func TestEval_WhileLoop(t *testing.T) {
	v := evalString(t, `
		var i = 0;
		var sum = 0;
		while (i < 5) {
			sum = sum + i;
			i = i + 1;
		}
		return sum;
	`)
	assert.Equal(t, float64(0+1+2+3+4), v.Float())
}

func TestEval_FunctionCallAndClosure(t *testing.T) {
	v := evalString(t, `
		var makeAdder = func(n) {
			return func(x) { return x + n; };
		};
		var add5 = makeAdder(5);
		return add5(10);
	`)
	assert.Equal(t, float64(15), v.Float())
}

func TestEval_Vector(t *testing.T) {
	v := evalString(t, `
		var v = [1, 2, 3];
		return v[0] + v[1] + v[2];
	`)
	assert.Equal(t, float64(6), v.Float())
}

func TestEval_Hash(t *testing.T) {
	v := evalString(t, `
		var h = {"a": 1, "b": 2};
		return h["a"] + h["b"];
	`)
	assert.Equal(t, float64(3), v.Float())
}

func TestEval_Truthy(t *testing.T) {
	assert.False(t, Nil.Truthy())
	assert.False(t, Number(0).Truthy())
	assert.False(t, Number(-0.0).Truthy())
	assert.True(t, Number(1).Truthy())
}

func TestEval_DivisionByZero(t *testing.T) {
	rt, ctx := newTestContext(t)
	ns := rt.DefaultNamespace(ctx)
	_, err := Eval(ctx, "<test>", []byte("return 1 / 0;"), ns)
	// DIV checks for a zero divisor and raises a RuntimeError instead of
	// producing the IEEE +Inf result.
	assert.Error(t, err)
	var rerr *RuntimeError
	assert.ErrorAs(t, err, &rerr)
}

func TestEval_UndefinedSymbol(t *testing.T) {
	rt, ctx := newTestContext(t)
	ns := rt.DefaultNamespace(ctx)
	_, err := Eval(ctx, "<test>", []byte("return undefinedThing;"), ns)
	require.Error(t, err)
}

func TestEval_ParseError(t *testing.T) {
	rt, ctx := newTestContext(t)
	ns := rt.DefaultNamespace(ctx)
	_, err := Eval(ctx, "<test>", []byte("var x = ;"), ns)
	require.Error(t, err)
	var perr *ParseError
	assert.ErrorAs(t, err, &perr)
}

func TestBindFunc(t *testing.T) {
	rt, ctx := newTestContext(t)
	ns := rt.DefaultNamespace(ctx)
	ctx.BindFunc(ns, "double", func(ctx *Context, self Ref, args []Ref) (Ref, error) {
		return Number(args[0].Float() * 2), nil
	})
	v, err := Eval(ctx, "<test>", []byte("return double(21);"), ns)
	require.NoError(t, err)
	assert.Equal(t, float64(42), v.Float())
}

func TestDisplay(t *testing.T) {
	assert.Equal(t, "nil", Display(Nil))
	assert.Equal(t, "3", Display(Number(3)))
}
