package pollrpc

import (
	"sync"
)

// IDPool hands out correlation ids for outstanding calls.
//
// Ids start at 1; 0 is reserved for pings. Returned ids are reused in the order
// they were returned before new ids are minted. The zero IDPool is ready to use
// and safe for concurrent use.
type IDPool struct {
	lent map[uint32]struct{}
	free []uint32
	next uint32
	mu   sync.Mutex
}

// Get returns an id that is not currently outstanding.
func (p *IDPool) Get() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lent == nil {
		p.lent = make(map[uint32]struct{})
	}

	var id uint32

	if len(p.free) > 0 {
		id = p.free[0]
		p.free = p.free[1:]
	} else {
		p.next++
		id = p.next
	}

	p.lent[id] = struct{}{}

	return id
}

// Put returns id to the pool. Returning an id that is not outstanding is a no-op.
func (p *IDPool) Put(id uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.lent[id]; !ok {
		return
	}

	delete(p.lent, id)
	p.free = append(p.free, id)
}

// Outstanding returns the number of ids handed out and not yet returned.
func (p *IDPool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.lent)
}
