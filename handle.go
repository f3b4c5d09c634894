package mpx

import (
	"fmt"

	"github.com/mpxgo/mpx/internal/mpirt"
)

// infoOwner wraps an info handle together with the freeable flag that
// governs release. A freeable owner created this handle and must release
// it; a non-freeable owner adopted it from outside and must never release
// it.
type infoOwner struct {
	rt       mpirt.Runtime
	h        mpirt.InfoHandle
	freeable bool
}

// newOwner mints a fresh empty, freeable info object.
func newOwner(rt mpirt.Runtime) infoOwner {
	h, err := rt.InfoCreate()
	if err != nil {
		panic(fmt.Sprintf("mpx: info create: %v", err))
	}
	return infoOwner{rt: rt, h: h, freeable: true}
}

// adoptOwner wraps an externally created handle. Adopting the null
// sentinel as freeable is a contract violation: the null handle must never
// be released.
func adoptOwner(rt mpirt.Runtime, h mpirt.InfoHandle, freeable bool) infoOwner {
	if h.None() {
		panic("mpx: adoption of the zero info handle")
	}
	if freeable && h == rt.InfoNull() {
		panic("mpx: adoption of the null info sentinel as freeable")
	}
	return infoOwner{rt: rt, h: h, freeable: freeable}
}

// dup deep-duplicates the owned object. The duplicate is always freeable,
// regardless of the source's flag.
func (o *infoOwner) dup() infoOwner {
	h, err := o.rt.InfoDup(o.h)
	if err != nil {
		panic(fmt.Sprintf("mpx: info dup: %v", err))
	}
	return infoOwner{rt: o.rt, h: h, freeable: true}
}

// moveOut transfers the handle to the returned owner and resets o to a
// fresh empty, freeable default. The moved-from owner stays valid.
func (o *infoOwner) moveOut() infoOwner {
	out := *o
	*o = newOwner(o.rt)
	return out
}

// release frees the handle iff the owner is freeable. Idempotent: the
// handle is zeroed after the first call and later calls are no-ops.
func (o *infoOwner) release() {
	if o.h.None() {
		return
	}
	if o.freeable {
		if err := o.rt.InfoFree(o.h); err != nil {
			panic(fmt.Sprintf("mpx: info free: %v", err))
		}
	}
	o.h = 0
}

// swap exchanges handle and flag with other.
func (o *infoOwner) swap(other *infoOwner) {
	*o, *other = *other, *o
}
