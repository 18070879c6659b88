package munin

import (
	"log"
	"sync"
)

// Runtime holds every piece of process-wide state explicitly rather
// than as package-level globals: the symbol table, the seven type
// pools, the host-pinned save slots, the well-known globals
// (me/arg/parents), and the GC coordination state. A process may hold
// more than one, each fully independent.
type Runtime struct {
	cfg *Config
	log *log.Logger

	mu         sync.RWMutex // guards symbols, allocCount, needGC, deadBlocks
	contextsMu sync.RWMutex // guards contexts (separate lock: walked by GC roots without blocking allocators)

	symbols *symbolTable

	strings   *pool[stringObj, *stringObj]
	vectors   *pool[vectorObj, *vectorObj]
	hashes    *pool[hashObj, *hashObj]
	codes     *pool[codeObj, *codeObj]
	functions *pool[functionObj, *functionObj]
	ccodes    *pool[ccodeObj, *ccodeObj]
	ghosts    *pool[ghostObj, *ghostObj]

	allocCount int
	needGC     bool
	deadBlocks []any
	bn         *bottleneck

	contexts []*Context
	freeCtx  []*Context

	saveSlots []Ref // host-pinned values, kept alive across GC independent of any context

	globalMe      Ref
	globalArg     Ref
	globalParents Ref

	ghostTypes map[string]*GhostType
	builtins   *hashObj // the namespace hash handed to top-level Bind calls by default
}

// NewRuntime performs the runtime's explicit initialization: it is an
// error (by construction, not a possibility the host needs to guard
// against) to use any other part of this package before calling it.
func NewRuntime(cfg *Config) *Runtime {
	if cfg == nil {
		cfg = NewConfig()
	}
	rt := &Runtime{
		cfg:     cfg,
		log:     log.Default(),
		symbols: newSymbolTable(),

		strings:   newPool[stringObj](64),
		vectors:   newPool[vectorObj](64),
		hashes:    newPool[hashObj](64),
		codes:     newPool[codeObj](32),
		functions: newPool[functionObj](64),
		ccodes:    newPool[ccodeObj](32),
		ghosts:    newPool[ghostObj](32),

		bn:         newBottleneck(),
		ghostTypes: make(map[string]*GhostType),
		globalMe:   Nil,
		globalArg:  Nil,
	}
	return rt
}

// SetLogger lets the embedder redirect the runtime's log output (the
// vm.trace instruction and call trace, see trace.go) away from the
// default log.Default(); the logger is an injectable collaborator rather than
// a package global.
func (rt *Runtime) SetLogger(l *log.Logger) { rt.log = l }

// Close tears the runtime down. It is a programming error to call it
// while any context is still outstanding, so — consistent with how
// assignType/checkType surface programmer errors elsewhere in this
// package — Close panics in that case rather than leaking or
// double-freeing pool memory.
func (rt *Runtime) Close() {
	rt.contextsMu.Lock()
	defer rt.contextsMu.Unlock()
	if len(rt.contexts) > 0 {
		panic("munin: Runtime.Close called with contexts still bound")
	}
}

// Context is the per-thread interpreter state: the fixed-capacity
// operand/frame/mark stacks, the temps scratch array, and the saved
// error handle a runtime error long-jumps to. A context is bound to at
// most one host thread at a time; the embedder is responsible for not
// sharing one across goroutines concurrently.
type Context struct {
	rt *Runtime

	operand []Ref
	opTop   int

	frames   []callFrame
	frameTop int

	mark    []Ref
	markTop int

	temps []Ref

	errorValue Ref
	lastError  error

	// parent links a sub-context spawned reentrantly from a CCode
	// callback (see SubContext) back to the context it was created
	// under; childOf is not set anywhere. GC reaches every context,
	// sub-contexts included, through rt.contexts.
	childOf *Context
	parent  *Context
}

// NewContext allocates and binds a new per-thread context, sizing its
// stacks from the configured bounds (by default 512 operands, 128
// frames and 256 mark-stack slots).
func (rt *Runtime) NewContext() *Context {
	rt.contextsMu.Lock()
	defer rt.contextsMu.Unlock()

	if n := len(rt.freeCtx); n > 0 {
		ctx := rt.freeCtx[n-1]
		rt.freeCtx = rt.freeCtx[:n-1]
		rt.contexts = append(rt.contexts, ctx)
		return ctx
	}

	ctx := &Context{
		rt:      rt,
		operand: make([]Ref, rt.cfg.GetInt("vm.stack_depth")),
		frames:  make([]callFrame, rt.cfg.GetInt("vm.frame_depth")),
		mark:    make([]Ref, rt.cfg.GetInt("vm.mark_depth")),
		temps:   make([]Ref, 4),
	}
	rt.contexts = append(rt.contexts, ctx)
	return ctx
}

// Release returns ctx to the runtime's free-list; it is reused by a
// later NewContext rather than destroyed until runtime teardown.
func (rt *Runtime) Release(ctx *Context) {
	rt.contextsMu.Lock()
	defer rt.contextsMu.Unlock()
	for i, c := range rt.contexts {
		if c == ctx {
			rt.contexts = append(rt.contexts[:i], rt.contexts[i+1:]...)
			break
		}
	}
	ctx.opTop = 0
	ctx.frameTop = 0
	ctx.markTop = 0
	ctx.errorValue = Nil
	ctx.lastError = nil
	for i := range ctx.temps {
		ctx.temps[i] = Nil
	}
	rt.freeCtx = append(rt.freeCtx, ctx)
}

// SubContext creates a new context linked under ctx, for the case
// where a host invokes the VM reentrantly from a CCode callback: the
// sub-call runs in its own context, linked under the current one so
// GC can still find it.
func (ctx *Context) SubContext() *Context {
	child := ctx.rt.NewContext()
	child.parent = ctx
	return child
}

// PinSave adds v to the process-wide save vector, keeping it reachable
// across GC cycles until the embedder releases it with Unpin. This is
// the embedding surface's mechanism for host-pinned values that must
// outlive any single context.
func (rt *Runtime) PinSave(v Ref) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.saveSlots = append(rt.saveSlots, v)
	return len(rt.saveSlots) - 1
}

func (rt *Runtime) Unpin(slot int) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if slot < 0 || slot >= len(rt.saveSlots) {
		return
	}
	rt.saveSlots[slot] = Nil
}

// RegisterGhostType installs a ghost type descriptor, making it
// available to ctx.newGhost under its Name.
func (rt *Runtime) RegisterGhostType(t *GhostType) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.ghostTypes[t.Name] = t
}

func (rt *Runtime) GhostType(name string) (*GhostType, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	t, ok := rt.ghostTypes[name]
	return t, ok
}
