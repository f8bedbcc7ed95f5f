package encoding

import "sync"

// contentsPool recycles rectangle content buffers by size class, avoiding a
// fresh allocation per rectangle at update-pump rates over a full-screen
// framebuffer (spec.md §9). Grounded on the teacher's imagePool in
// internal/remote/desktop/pool.go, generalized from a single fixed
// resolution to size classes since rectangle dimensions vary request to
// request.
type contentsPool struct {
	classes sync.Map // size class (int) -> *sync.Pool
}

var defaultPool = &contentsPool{}

func sizeClass(n int) int {
	c := 256
	for c < n {
		c *= 2
	}
	return c
}

// Get returns a buffer of at least n bytes, sliced to exactly n.
func (p *contentsPool) Get(n int) []byte {
	class := sizeClass(n)
	v, _ := p.classes.LoadOrStore(class, &sync.Pool{
		New: func() any { return make([]byte, class) },
	})
	pool := v.(*sync.Pool)
	buf := pool.Get().([]byte)
	return buf[:n]
}

// Put returns a buffer obtained from Get back to its size class's pool.
func (p *contentsPool) Put(buf []byte) {
	class := cap(buf)
	v, ok := p.classes.Load(class)
	if !ok {
		return
	}
	v.(*sync.Pool).Put(buf[:class])
}

// GetContents and PutContents expose the package-default pool.
func GetContents(n int) []byte { return defaultPool.Get(n) }
func PutContents(buf []byte)   { defaultPool.Put(buf) }
