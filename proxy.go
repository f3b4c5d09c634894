package mpx

import (
	"fmt"

	"github.com/mpxgo/mpx/internal/mpirt"
)

// Proxy is a short-lived reference to one map entry, disambiguating read
// from write: Set stores unconditionally, Get materializes the current
// value and inserts the single-space placeholder when the key is absent.
//
// A proxy does not own the handle and must not outlive the originating
// map. Using a proxy after the map has moved or been freed is a contract
// violation; the proxy detects it by comparing the handle it captured at
// creation against the map's current one.
type Proxy struct {
	m   *InfoMap
	h   mpirt.InfoHandle
	key string
}

// Set stores value under the proxy's key.
func (p Proxy) Set(value string) {
	p.checkUsable()
	p.m.checkValue(value)
	p.m.set(p.key, value)
}

// Get returns the value under the proxy's key. When the key is absent it
// first inserts the single-space placeholder, so Get is idempotent for
// presence and stable for subsequent reads.
func (p Proxy) Get() string {
	p.checkUsable()
	_, ok, err := p.m.owner.rt.InfoValueLen(p.h, p.key)
	if err != nil {
		panic(fmt.Sprintf("mpx: info value length: %v", err))
	}
	if !ok {
		p.m.set(p.key, " ")
		return " "
	}
	v, _ := p.m.get(p.key)
	return v
}

// Key returns the key the proxy refers to.
func (p Proxy) Key() string { return p.key }

// String composes with Get so proxies print as their value.
func (p Proxy) String() string { return p.Get() }

func (p Proxy) checkUsable() {
	if p.m == nil {
		panic("mpx: use of zero Proxy")
	}
	p.m.checkUsable()
	if p.h != p.m.owner.h {
		panic("mpx: Proxy used after its map was moved or freed")
	}
}
