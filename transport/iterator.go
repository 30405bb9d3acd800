package transport

import "sync"

// AddressIterator walks the configured endpoint list in round-robin order.
// Single writer: the transport during its reconnect loop.
type AddressIterator struct {
	mu        sync.Mutex
	endpoints []Endpoint
	pos       int
}

func NewAddressIterator(endpoints []Endpoint) *AddressIterator {
	if len(endpoints) == 0 {
		panic("address iterator needs at least one endpoint")
	}
	eps := make([]Endpoint, len(endpoints))
	copy(eps, endpoints)
	return &AddressIterator{endpoints: eps}
}

// Current returns the active endpoint without advancing.
func (it *AddressIterator) Current() Endpoint {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.endpoints[it.pos]
}

// Next advances and returns the new current endpoint.
func (it *AddressIterator) Next() Endpoint {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.pos = (it.pos + 1) % len(it.endpoints)
	return it.endpoints[it.pos]
}

func (it *AddressIterator) Len() int {
	it.mu.Lock()
	defer it.mu.Unlock()
	return len(it.endpoints)
}
