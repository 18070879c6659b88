package munin

// Namespace is a symbol table a script runs against: the global scope
// for a top-level Eval, or the outer scope a host binds functions and
// values into before handing it to Compile/Eval. It is a plain Hash,
// exported under this name so host packages (stdlib modules, cmd/munin)
// can hold one without reaching into package internals.
type Namespace = hashObj

// Compile turns src into a runnable unit bound to a Runtime: parse,
// codegen, encode, one call each.
func Compile(ctx *Context, file string, src []byte) (*codeObj, error) {
	tr, root, err := Parse(file, src)
	if err != nil {
		return nil, err
	}
	prog, err := Codegen(ctx, tr, root, file, "<toplevel>")
	if err != nil {
		return nil, err
	}
	return Encode(ctx, prog), nil
}

// Eval compiles and immediately runs src in a fresh top-level call
// against the given namespace Hash, the embedding surface's one-shot
// convenience entry point.
func Eval(ctx *Context, file string, src []byte, namespace *Namespace) (Ref, error) {
	code, err := Compile(ctx, file, src)
	if err != nil {
		return Nil, err
	}
	fn := ctx.newFunction(code, namespace)
	return Run(ctx, fn, nil)
}

// Bind installs name=value into a namespace Hash, the mechanism the
// host uses to expose CCode functions and ghost values to script code.
func (ctx *Context) Bind(namespace *Namespace, name string, value Ref) {
	sym := ctx.rt.intern(ctx, []byte(name))
	namespace.symbolSet(ctx, sym, value)
}

// BindFunc is a convenience wrapper over Bind for host-native
// functions, wrapping fn in a CCode value first.
func (ctx *Context) BindFunc(namespace *Namespace, name string, fn CFunc) {
	ctx.Bind(namespace, name, ctx.newCCode(name, fn))
}

// DefaultNamespace returns the runtime's shared builtins Hash,
// creating it on first use. Scripts evaluated against it (or against a
// child namespace chained to it through MAKEFUNC's outer capture) see
// every symbol ever bound here.
func (rt *Runtime) DefaultNamespace(ctx *Context) *Namespace {
	if rt.builtins == nil {
		rt.builtins = ctx.newHash()
	}
	return rt.builtins
}

// Display renders a Ref as a human-readable string, the same
// conversion the `~` concatenation operator uses internally.
func Display(r Ref) string {
	return refToDisplayString(r)
}

// Traceback extracts a human-readable call stack from any error this
// package raises, or nil if none is attached.
func Traceback(err error) []TraceEntry {
	switch e := err.(type) {
	case *RuntimeError:
		return e.Trace
	case *ScriptError:
		return e.Trace
	}
	return nil
}
