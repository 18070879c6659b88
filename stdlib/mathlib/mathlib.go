// Package mathlib is a CCode-backed standard-library module: a small
// set of host-native functions bound into a script namespace Hash
// through (*munin.Context).BindFunc, exercising the embedding surface's CFunc
// ABI (args in, one Ref or error out) end to end.
package mathlib

import (
	"math"

	"github.com/munin-lang/munin"
)

// Install binds every function in this module into namespace: the
// original sin/cos/exp/ln/sqrt/atan2/floor/ceil/mod/clamp/periodic set
// plus pi/e constants, extended with abs/round/pow/min/max.
func Install(ctx *munin.Context, namespace *munin.Namespace) {
	ctx.BindFunc(namespace, "sin", unary(math.Sin))
	ctx.BindFunc(namespace, "cos", unary(math.Cos))
	ctx.BindFunc(namespace, "exp", unary(math.Exp))
	ctx.BindFunc(namespace, "ln", unary(math.Log))
	ctx.BindFunc(namespace, "sqrt", unary(math.Sqrt))
	ctx.BindFunc(namespace, "atan2", binary(math.Atan2))
	ctx.BindFunc(namespace, "floor", unary(math.Floor))
	ctx.BindFunc(namespace, "ceil", unary(math.Ceil))
	ctx.BindFunc(namespace, "mod", binary(math.Mod))
	ctx.BindFunc(namespace, "clamp", clamp)
	ctx.BindFunc(namespace, "periodic", periodic)
	ctx.Bind(namespace, "pi", munin.Number(3.14159265358979323846))
	ctx.Bind(namespace, "e", munin.Number(2.7182818284590452354))

	ctx.BindFunc(namespace, "abs", unary(math.Abs))
	ctx.BindFunc(namespace, "round", unary(math.Round))
	ctx.BindFunc(namespace, "pow", binary(math.Pow))
	ctx.BindFunc(namespace, "min", binary(math.Min))
	ctx.BindFunc(namespace, "max", binary(math.Max))
}

func argNumber(ctx *munin.Context, args []munin.Ref, i int) (float64, error) {
	if i >= len(args) || !args[i].IsNumber() {
		return 0, &munin.RuntimeError{Message: "mathlib: expected a number argument", Trace: ctx.Traceback()}
	}
	v := args[i].Float()
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &munin.RuntimeError{Message: "mathlib: NaN/Inf arguments are rejected", Trace: ctx.Traceback()}
	}
	return v, nil
}

func checkResult(ctx *munin.Context, v float64) (munin.Ref, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return munin.Nil, &munin.RuntimeError{Message: "mathlib: operation produced NaN/Inf", Trace: ctx.Traceback()}
	}
	return munin.Number(v), nil
}

func unary(f func(float64) float64) munin.CFunc {
	return func(ctx *munin.Context, self munin.Ref, args []munin.Ref) (munin.Ref, error) {
		a, err := argNumber(ctx, args, 0)
		if err != nil {
			return munin.Nil, err
		}
		return checkResult(ctx, f(a))
	}
}

func binary(f func(a, b float64) float64) munin.CFunc {
	return func(ctx *munin.Context, self munin.Ref, args []munin.Ref) (munin.Ref, error) {
		a, err := argNumber(ctx, args, 0)
		if err != nil {
			return munin.Nil, err
		}
		b, err := argNumber(ctx, args, 1)
		if err != nil {
			return munin.Nil, err
		}
		return checkResult(ctx, f(a, b))
	}
}

// clamp(a, b, x) folds b down to a if b exceeds a, then folds the
// result down to x if it exceeds x: the net effect is min(a, b, x).
func clamp(ctx *munin.Context, self munin.Ref, args []munin.Ref) (munin.Ref, error) {
	a, err := argNumber(ctx, args, 0)
	if err != nil {
		return munin.Nil, err
	}
	b, err := argNumber(ctx, args, 1)
	if err != nil {
		return munin.Nil, err
	}
	x, err := argNumber(ctx, args, 2)
	if err != nil {
		return munin.Nil, err
	}
	if a < b {
		b = a
	}
	if b > x {
		b = x
	}
	return checkResult(ctx, b)
}

// periodic(min, max, value) wraps value into the range from min to
// max. The wrap itself lands in [min, max); the roundoff guards below
// clamp onto either end, so a result equal to max is possible.
func periodic(ctx *munin.Context, self munin.Ref, args []munin.Ref) (munin.Ref, error) {
	min, err := argNumber(ctx, args, 0)
	if err != nil {
		return munin.Nil, err
	}
	max, err := argNumber(ctx, args, 1)
	if err != nil {
		return munin.Nil, err
	}
	x, err := argNumber(ctx, args, 2)
	if err != nil {
		return munin.Nil, err
	}
	rng := max - min
	if rng == 0 {
		return munin.Nil, &munin.RuntimeError{Message: "mathlib: periodic with an empty range", Trace: ctx.Traceback()}
	}
	x -= rng * math.Floor((x-min)/rng)
	// roundoff guards: the subtraction above can land exactly on or
	// just past a boundary.
	if x <= min {
		x = min
	}
	if max <= x {
		x = max
	}
	return checkResult(ctx, x)
}
