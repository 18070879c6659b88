package munin

// hashEntry is one (key, value) slot inside a hashObj's entries array.
type hashEntry struct {
	key   Ref
	value Ref
}

const (
	hashEmpty     int32 = -1
	hashTombstone int32 = -2
)

// hashObj is the Hash heap object and the open-addressed table
// backing it: a header (size, log2 capacity, next-free-entry index)
// followed conceptually by an entries array of capacity 2^lgsz and an
// index table of capacity 2^(lgsz+1). We keep entries and index as two
// separate Go slices rather than one raw block — slices already give
// bounds-checked, non-moving backing arrays, so there's no benefit to
// a single combined allocation here.
type hashObj struct {
	hdr     gcHeader
	lgsz    uint8
	next    int32
	size    int32
	entries []hashEntry
	index   []int32
}

func (h *hashObj) header() *gcHeader { return &h.hdr }

func (h *hashObj) children() []Ref {
	refs := make([]Ref, 0, h.next*2)
	for i := int32(0); i < h.next; i++ {
		e := &h.entries[i]
		if e.key.IsPointer() {
			refs = append(refs, e.key)
		}
		if e.value.IsPointer() {
			refs = append(refs, e.value)
		}
	}
	return refs
}

func (h *hashObj) cap() int32   { return int32(1) << h.lgsz }
func (h *hashObj) idxCap() int32 { return int32(1) << (h.lgsz + 1) }
func (h *hashObj) Size() int    { return int(h.size) }

const initialHashLgsz = 2 // capacity 4, index capacity 8

func initHash(h *hashObj) {
	h.lgsz = initialHashLgsz
	h.entries = make([]hashEntry, h.cap())
	h.index = make([]int32, h.idxCap())
	for i := range h.index {
		h.index[i] = hashEmpty
	}
}

// probe returns the index-table slot holding key's entry index if
// present, or the slot where it should be inserted (the first empty
// or tombstone slot encountered) together with ok=false.
func (h *hashObj) probe(key Ref, hash uint32) (slot int32, entryIdx int32, found bool) {
	idxBits := uint(h.lgsz) + 1
	mask := h.idxCap() - 1
	slot = int32(hash>>(32-idxBits)) & mask
	step := int32(2*hash+1) & mask
	if step == 0 {
		step = 1
	}
	firstTombstone := int32(-1)
	for {
		idx := h.index[slot]
		switch {
		case idx == hashEmpty:
			if firstTombstone >= 0 {
				return firstTombstone, -1, false
			}
			return slot, -1, false
		case idx == hashTombstone:
			if firstTombstone < 0 {
				firstTombstone = slot
			}
		default:
			if refEqualForHash(h.entries[idx].key, key) {
				return slot, idx, true
			}
		}
		slot = (slot + step) & mask
	}
}

func refEqualForHash(a, b Ref) bool { return a.Equal(b) }

// Get implements the `H[k]` read.
func (h *hashObj) Get(key Ref) (Ref, bool) {
	if h.entries == nil {
		return Nil, false
	}
	slot, _, found := h.probe(key, hashValue(key))
	if !found {
		return Nil, false
	}
	return h.entries[h.index[slot]].value, true
}

// Set implements `H[k] = v`, growing the table first if the next
// insertion would overflow the entries array.
func (h *hashObj) Set(ctx *Context, key, val Ref) {
	if h.entries == nil {
		initHash(h)
	}
	hash := hashValue(key)
	slot, _, found := h.probe(key, hash)
	if found {
		h.entries[h.index[slot]].value = val
		return
	}
	if h.next >= h.cap() {
		h.grow(ctx)
		slot, _, _ = h.probe(key, hash)
	}
	// This should be unreachable post-resize, but insertion bails out
	// silently rather than writing past the entries array if it ever is.
	if h.next >= int32(len(h.entries)) {
		return
	}
	idx := h.next
	h.entries[idx] = hashEntry{key: key, value: val}
	h.next++
	h.index[slot] = idx
	h.size++
}

// Delete implements `delete H[k]`, tombstoning the index slot and
// shrinking the table if occupancy drops below half the capacity
// (size < 2^(lgsz-1)) while the table is above its initial size.
func (h *hashObj) Delete(ctx *Context, key Ref) bool {
	if h.entries == nil {
		return false
	}
	slot, _, found := h.probe(key, hashValue(key))
	if !found {
		return false
	}
	h.index[slot] = hashTombstone
	h.size--
	if h.lgsz > initialHashLgsz && h.size < (1<<(h.lgsz-1)) {
		h.shrink(ctx)
	}
	return true
}

// symbolGet is the fast local-lookup path: when the key is known to be
// an interned symbol, pointer-equality on the string object suffices
// and the hash is read from the symbol's cached field, skipping byte
// comparison entirely.
func (h *hashObj) symbolGet(sym *stringObj) (Ref, bool) {
	if h.entries == nil {
		return Nil, false
	}
	hash := sym.hashCode()
	idxBits := uint(h.lgsz) + 1
	mask := h.idxCap() - 1
	slot := int32(hash>>(32-idxBits)) & mask
	step := int32(2*hash+1) & mask
	if step == 0 {
		step = 1
	}
	for {
		idx := h.index[slot]
		if idx == hashEmpty {
			return Nil, false
		}
		if idx >= 0 {
			e := &h.entries[idx]
			if e.key.kind == KindString && e.key.obj.(*stringObj) == sym {
				return e.value, true
			}
		}
		slot = (slot + step) & mask
	}
}

func (h *hashObj) symbolSet(ctx *Context, sym *stringObj, val Ref) {
	h.Set(ctx, Ref{kind: KindString, obj: sym}, val)
}

// grow rebuilds the table at the smallest capacity, plus one headroom
// step, that covers the current size.
func (h *hashObj) grow(ctx *Context) {
	newLgsz := h.lgsz
	for (int32(1) << newLgsz) <= h.size {
		newLgsz++
	}
	newLgsz++ // headroom so the freshly grown table isn't immediately full
	h.rebuild(ctx, newLgsz)
}

func (h *hashObj) shrink(ctx *Context) {
	newLgsz := h.lgsz
	for newLgsz > initialHashLgsz && (int32(1)<<(newLgsz-1)) > h.size*2 {
		newLgsz--
	}
	h.rebuild(ctx, newLgsz)
}

// rebuild replaces the entries/index arrays with freshly sized ones,
// re-inserting every live entry. The old arrays are handed to the
// runtime's deferred-free queue instead of being dropped in place: a
// reader that started a probe against the old index table before this
// rebuild ran (possible across a safepoint boundary between
// instructions, even though the global lock prevents true concurrent
// mutation) still sees a complete, internally consistent array rather
// than one freed out from under it.
func (h *hashObj) rebuild(ctx *Context, newLgsz uint8) {
	old := h
	oldEntries, oldIndex, oldNext := h.entries, h.index, h.next

	h.lgsz = newLgsz
	h.entries = make([]hashEntry, h.cap())
	h.index = make([]int32, h.idxCap())
	for i := range h.index {
		h.index[i] = hashEmpty
	}
	h.next = 0

	live := make([]bool, oldNext)
	for _, idx := range oldIndex {
		if idx >= 0 {
			live[idx] = true
		}
	}
	for i := int32(0); i < oldNext; i++ {
		if !live[i] {
			continue
		}
		e := oldEntries[i]
		hash := hashValue(e.key)
		slot, _, _ := h.probe(e.key, hash)
		h.entries[h.next] = e
		h.index[slot] = h.next
		h.next++
	}

	ctx.rt.deferFree(oldEntries)
	ctx.rt.deferFree(oldIndex)
	_ = old
}

func (ctx *Context) newHash() *hashObj {
	return ctx.rt.hashes.alloc(KindHash)
}

func (ctx *Context) newHashRef() Ref {
	return Ref{kind: KindHash, obj: ctx.newHash()}
}

func hashCleanup(h *hashObj) {
	h.entries = nil
	h.index = nil
	h.next = 0
	h.size = 0
	h.lgsz = 0
}
