package munin

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash_SetGetDelete(t *testing.T) {
	_, ctx := newTestContext(t)

	h := ctx.newHash()
	key := ctx.newStringRef([]byte("a"))
	h.Set(ctx, key, Number(42))

	v, ok := h.Get(key)
	require.True(t, ok)
	assert.Equal(t, float64(42), v.Float())

	ok = h.Delete(ctx, key)
	assert.True(t, ok)

	_, ok = h.Get(key)
	assert.False(t, ok)
}

func TestHash_GetMissing(t *testing.T) {
	_, ctx := newTestContext(t)

	h := ctx.newHash()
	_, ok := h.Get(Number(1))
	assert.False(t, ok)
}

func TestHash_GrowPreservesAllEntries(t *testing.T) {
	_, ctx := newTestContext(t)

	h := ctx.newHash()
	const n = 200
	for i := 0; i < n; i++ {
		h.Set(ctx, Number(float64(i)), ctx.newStringRef([]byte(fmt.Sprintf("v%d", i))))
	}
	assert.Equal(t, n, h.Size())
	for i := 0; i < n; i++ {
		v, ok := h.Get(Number(float64(i)))
		require.True(t, ok, "missing key %d after grow", i)
		assert.Equal(t, fmt.Sprintf("v%d", i), v.obj.(*stringObj).String())
	}
}

func TestHash_ShrinkAfterManyDeletes(t *testing.T) {
	_, ctx := newTestContext(t)

	h := ctx.newHash()
	const n = 64
	for i := 0; i < n; i++ {
		h.Set(ctx, Number(float64(i)), Number(float64(i)))
	}
	for i := 0; i < n-2; i++ {
		h.Delete(ctx, Number(float64(i)))
	}
	assert.Equal(t, 2, h.Size())
	for i := n - 2; i < n; i++ {
		v, ok := h.Get(Number(float64(i)))
		require.True(t, ok)
		assert.Equal(t, float64(i), v.Float())
	}
}

func TestHash_OverwriteExistingKey(t *testing.T) {
	_, ctx := newTestContext(t)

	h := ctx.newHash()
	key := Number(7)
	h.Set(ctx, key, Number(1))
	h.Set(ctx, key, Number(2))
	assert.Equal(t, 1, h.Size())
	v, ok := h.Get(key)
	require.True(t, ok)
	assert.Equal(t, float64(2), v.Float())
}

func TestHash_SymbolFastPath(t *testing.T) {
	_, ctx := newTestContext(t)

	h := ctx.newHash()
	sym := ctx.rt.intern(ctx, []byte("name"))
	h.symbolSet(ctx, sym, Number(99))

	v, ok := h.symbolGet(sym)
	require.True(t, ok)
	assert.Equal(t, float64(99), v.Float())
}
