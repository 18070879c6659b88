package munin

import "reflect"

// objectIdentity returns the stable heap address backing a heapObject.
// Every concrete implementation is a pointer type (*stringObj,
// *vectorObj, ...) allocated from a non-moving pool, so its address is
// a valid identity for the object's entire lifetime.
func objectIdentity(o heapObject) uintptr {
	if o == nil {
		return 0
	}
	return reflect.ValueOf(o).Pointer()
}
