package munin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntime_SubContextLinksParent(t *testing.T) {
	rt, ctx := newTestContext(t)

	child := ctx.SubContext()
	defer rt.Release(child)

	assert.Equal(t, ctx, child.parent)
}

func TestRuntime_PinSaveKeepsValueAlive(t *testing.T) {
	rt, ctx := newTestContext(t)

	v := ctx.newVectorRef(Number(1))
	slot := rt.PinSave(v)

	for i := 0; i < 8; i++ {
		_ = ctx.newVector()
	}
	_, err := rt.collect()
	require.NoError(t, err)

	assert.Equal(t, 1, v.obj.(*vectorObj).Len())
	rt.Unpin(slot)
}

func TestRuntime_UnpinOutOfRangeIsNoop(t *testing.T) {
	rt, _ := newTestContext(t)
	assert.NotPanics(t, func() { rt.Unpin(999) })
}

func TestRuntime_RegisterAndLookupGhostType(t *testing.T) {
	rt, _ := newTestContext(t)

	gt := &GhostType{Name: "fileHandle"}
	rt.RegisterGhostType(gt)

	got, ok := rt.GhostType("fileHandle")
	require.True(t, ok)
	assert.Equal(t, gt, got)

	_, ok = rt.GhostType("missing")
	assert.False(t, ok)
}

func TestRuntime_ReleaseAndReuseContext(t *testing.T) {
	rt := NewRuntime(NewConfig())

	ctx := rt.NewContext()
	ctx.opTop = 3
	rt.Release(ctx)

	ctx2 := rt.NewContext()
	assert.Equal(t, 0, ctx2.opTop)
}
