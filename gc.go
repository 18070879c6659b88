package munin

import "sync"

// gcState is the collector's working state for a single cycle: a mark
// stack bounded by the fixed markStackBound constant, plus the tallies
// surfaced to the host and to tests.
type gcState struct {
	worklist []Ref
	freed    int
}

// markStackBound prevents runaway recursion on pathological cyclic
// graphs; the mark phase uses an explicit worklist instead of Go
// call-stack recursion, so this is a capacity guard rather than a
// depth-of-recursion guard.
const markStackBound = 1 << 16

func (g *gcState) push(r Ref) error {
	if !r.IsPointer() {
		return nil
	}
	if len(g.worklist) >= markStackBound {
		return &FatalError{Message: "mark stack overflow"}
	}
	g.worklist = append(g.worklist, r)
	return nil
}

// collect runs one stop-the-world mark/sweep cycle. The caller (the
// bottleneck protocol below) guarantees it executes with every other
// context quiesced at a safepoint, so no locking is needed inside.
func (rt *Runtime) collect() (int, error) {
	g := &gcState{worklist: make([]Ref, 0, 256)}

	// Roots: per-context stacks ...
	rt.contextsMu.Lock()
	contexts := append([]*Context(nil), rt.contexts...)
	rt.contextsMu.Unlock()

	for _, ctx := range contexts {
		for _, r := range ctx.operand[:ctx.opTop] {
			if err := g.push(r); err != nil {
				return 0, err
			}
		}
		for i := 0; i < ctx.frameTop; i++ {
			f := &ctx.frames[i]
			if err := g.push(f.fn); err != nil {
				return 0, err
			}
			if f.locals != nil {
				if err := g.push(Ref{kind: KindHash, obj: f.locals}); err != nil {
					return 0, err
				}
			}
		}
		for _, r := range ctx.mark[:ctx.markTop] {
			if err := g.push(r); err != nil {
				return 0, err
			}
		}
		for _, r := range ctx.temps {
			if err := g.push(r); err != nil {
				return 0, err
			}
		}
		if err := g.push(ctx.errorValue); err != nil {
			return 0, err
		}
	}

	// ... and process-wide roots: the symbol table, the save slots,
	// and the well-known globals.
	rt.mu.RLock()
	for _, s := range rt.symbols.byBytes {
		if err := g.push(Ref{kind: KindString, obj: s}); err != nil {
			rt.mu.RUnlock()
			return 0, err
		}
	}
	rt.mu.RUnlock()

	for _, r := range rt.saveSlots {
		if err := g.push(r); err != nil {
			return 0, err
		}
	}
	for _, r := range []Ref{rt.globalMe, rt.globalArg, rt.globalParents} {
		if err := g.push(r); err != nil {
			return 0, err
		}
	}

	// Mark: depth-first via an explicit worklist, substituting for
	// recursive marking so cyclic/deep graphs can't blow the Go stack.
	for len(g.worklist) > 0 {
		n := len(g.worklist) - 1
		r := g.worklist[n]
		g.worklist = g.worklist[:n]

		h := r.obj.header()
		if h.marked {
			continue
		}
		h.marked = true
		for _, child := range r.obj.children() {
			if err := g.push(child); err != nil {
				return 0, err
			}
		}
	}

	// Sweep: each pool walks its own blocks.
	g.freed += rt.strings.sweep(stringCleanup)
	g.freed += rt.vectors.sweep(vectorCleanup)
	g.freed += rt.hashes.sweep(hashCleanup)
	g.freed += rt.codes.sweep(codeCleanup)
	g.freed += rt.functions.sweep(functionCleanup)
	g.freed += rt.ccodes.sweep(ccodeCleanup)
	g.freed += rt.ghosts.sweep(ghostCleanup)

	rt.mu.Lock()
	for _, buf := range rt.deadBlocks {
		_ = buf // already unreferenced; this just drops the slice header
	}
	rt.deadBlocks = rt.deadBlocks[:0]
	rt.allocCount = 0
	rt.needGC = false
	rt.mu.Unlock()

	return g.freed, nil
}

func (rt *Runtime) deferFree(buf any) {
	rt.mu.Lock()
	rt.deadBlocks = append(rt.deadBlocks, buf)
	rt.mu.Unlock()
}

// bottleneck is the safepoint rendezvous protocol: every context
// entering a safepoint checks needGC; if set, it joins the wait, and
// the last arriver runs GC alone before releasing everyone else.
// sync.Mutex + sync.Cond gives the same "last arriver runs it, then
// wakes every waiter" shape a counting semaphore would, with
// Cond.Broadcast standing in for posting N times.
type bottleneck struct {
	mu         sync.Mutex
	cond       *sync.Cond
	waitCount  int
	generation int
	lastErr    error
}

func newBottleneck() *bottleneck {
	b := &bottleneck{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// safepoint is called by runLoop between bytecode instructions; that
// is its only call site, so embedding-API entry points and CCode
// callbacks do not pass through it. Every context that observes needGC
// joins the
// rendezvous; when waitCount reaches the number of live contexts, the
// last arriver runs the collection alone and a generation bump
// releases everyone else.
func (rt *Runtime) safepoint(ctx *Context) error {
	rt.mu.RLock()
	needGC := rt.needGC
	rt.mu.RUnlock()
	if !needGC {
		return nil
	}

	b := rt.bn
	b.mu.Lock()
	rt.contextsMu.RLock()
	n := len(rt.contexts)
	rt.contextsMu.RUnlock()

	myGen := b.generation
	b.waitCount++
	if b.waitCount < n {
		for b.generation == myGen {
			b.cond.Wait()
		}
		err := b.lastErr
		b.mu.Unlock()
		return err
	}

	// Last arriver: run the collection alone, excluded from every
	// other context by construction (they are all blocked above).
	b.mu.Unlock()
	_, err := rt.collect()
	b.mu.Lock()
	b.lastErr = err
	b.waitCount = 0
	b.generation++
	b.cond.Broadcast()
	b.mu.Unlock()
	return err
}

// bumpAlloc counts one heap allocation; once the runtime-wide count
// reaches the gc.threshold setting it flips needGC so the next
// safepoint triggers a collection. The allocation paths do not call
// it, so allocating never sets needGC by itself.
func (rt *Runtime) bumpAlloc() {
	rt.mu.Lock()
	rt.allocCount++
	if rt.allocCount >= rt.cfg.GetInt("gc.threshold") {
		rt.needGC = true
	}
	rt.mu.Unlock()
}
