package munin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGC_CollectFreesUnreachableVectors(t *testing.T) {
	rt, ctx := newTestContext(t)

	// Allocate vectors but keep no Ref to any of them reachable from a
	// context stack, symbol table, or save slot.
	for i := 0; i < 64; i++ {
		_ = ctx.newVector()
	}

	freed, err := rt.collect()
	require.NoError(t, err)
	assert.Equal(t, 64, freed)
}

func TestGC_CollectKeepsReachableVector(t *testing.T) {
	rt, ctx := newTestContext(t)

	v := ctx.newVectorRef(Number(1), Number(2))
	slot := rt.PinSave(v)
	defer rt.Unpin(slot)

	for i := 0; i < 16; i++ {
		_ = ctx.newVector()
	}

	freed, err := rt.collect()
	require.NoError(t, err)
	assert.Equal(t, 16, freed)

	vo := v.obj.(*vectorObj)
	assert.Equal(t, 2, vo.Len())
}

func TestGC_CollectIsIdempotentOnEmptyHeap(t *testing.T) {
	rt, _ := newTestContext(t)

	freed, err := rt.collect()
	require.NoError(t, err)
	assert.Equal(t, 0, freed)

	freed, err = rt.collect()
	require.NoError(t, err)
	assert.Equal(t, 0, freed)
}
