package mathlib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/munin-lang/munin"
)

// newTestEnv builds a Runtime+Context with mathlib installed and
// registers cleanup that releases the context before closing the
// runtime: Close panics if any context is still bound.
func newTestEnv(t *testing.T) (*munin.Runtime, *munin.Context, *munin.Namespace) {
	t.Helper()
	rt := munin.NewRuntime(munin.NewConfig())
	ctx := rt.NewContext()
	ns := rt.DefaultNamespace(ctx)
	Install(ctx, ns)
	t.Cleanup(func() {
		rt.Release(ctx)
		rt.Close()
	})
	return rt, ctx, ns
}

func evalNumber(t *testing.T, src string) float64 {
	t.Helper()
	_, ctx, ns := newTestEnv(t)
	v, err := munin.Eval(ctx, "<test>", []byte(src), ns)
	require.NoError(t, err)
	require.True(t, v.IsNumber())
	return v.Float()
}

func TestMathlib_UnaryFunctions(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want float64
	}{
		{"sqrt", "return sqrt(16);", 4},
		{"abs", "return abs(-3);", 3},
		{"floor", "return floor(3.7);", 3},
		{"ceil", "return ceil(3.2);", 4},
		{"round", "return round(3.5);", 4},
		{"ln", "return ln(e);", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, evalNumber(t, tt.src), 1e-9)
		})
	}
}

func TestMathlib_BinaryFunctions(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want float64
	}{
		{"pow", "return pow(2, 10);", 1024},
		{"min", "return min(3, 7);", 3},
		{"max", "return max(3, 7);", 7},
		{"mod", "return mod(7, 3);", 1},
		{"atan2", "return atan2(0, 1);", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, evalNumber(t, tt.src), 1e-9)
		})
	}
}

func TestMathlib_Clamp(t *testing.T) {
	assert.Equal(t, float64(3), evalNumber(t, "return clamp(5, 3, 10);"))
	assert.Equal(t, float64(2), evalNumber(t, "return clamp(5, 3, 2);"))
}

func TestMathlib_Constants(t *testing.T) {
	assert.InDelta(t, 3.14159265358979323846, evalNumber(t, "return pi;"), 1e-9)
	assert.InDelta(t, 2.7182818284590452354, evalNumber(t, "return e;"), 1e-9)
}

func TestMathlib_Periodic(t *testing.T) {
	assert.Equal(t, float64(1), evalNumber(t, "return periodic(0, 3, 7);"))
	assert.Equal(t, float64(2), evalNumber(t, "return periodic(0, 3, -1);"))
}

func TestMathlib_PeriodicEmptyRangeErrors(t *testing.T) {
	_, ctx, ns := newTestEnv(t)
	_, err := munin.Eval(ctx, "<test>", []byte("return periodic(1, 1, 5);"), ns)
	require.Error(t, err)
	var rerr *munin.RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.NotEmpty(t, munin.Traceback(err))
}

func TestMathlib_SqrtOfNegativeRejectsNaN(t *testing.T) {
	_, ctx, ns := newTestEnv(t)
	_, err := munin.Eval(ctx, "<test>", []byte("return sqrt(-1);"), ns)
	require.Error(t, err)
}
