package buffer

// Ring is a single-producer/single-consumer circular buffer over a pooled
// byte array with zero-copy peek/advance/consume. Not safe for concurrent
// use by design — C1's decoder owns one Ring per connection.
type Ring struct {
	pool *Pool
	buf  []byte
	r, w int // read/write cursors, mod len(buf)
	size int // number of unread bytes
}

// NewRing allocates a Ring backed by a buffer of the given initial capacity.
func NewRing(pool *Pool, capacity int) *Ring {
	if pool == nil {
		pool = Default
	}
	return &Ring{pool: pool, buf: pool.Acquire(capacity)}
}

// Len returns the number of unread bytes currently buffered.
func (r *Ring) Len() int { return r.size }

// Cap returns the current backing capacity.
func (r *Ring) Cap() int { return len(r.buf) }

// Grow doubles (at least) the backing array up to maxCapacity, copying
// unread bytes into the new array. No-op if already >= maxCapacity and full.
func (r *Ring) Grow(maxCapacity int) bool {
	if len(r.buf) >= maxCapacity {
		return false
	}
	newCap := len(r.buf) * 2
	if newCap > maxCapacity {
		newCap = maxCapacity
	}
	if newCap <= len(r.buf) {
		return false
	}
	nb := r.pool.Acquire(newCap)
	n := r.size
	dst := nb[:0]
	for i := 0; i < n; i++ {
		dst = append(dst, r.buf[(r.r+i)%len(r.buf)])
	}
	old := r.buf
	r.buf = nb
	r.r = 0
	r.w = n
	r.pool.Release(old)
	return true
}

// Write appends p to the ring, growing up to maxCapacity if necessary.
// Returns false if there isn't room even after growing to maxCapacity.
func (r *Ring) Write(p []byte, maxCapacity int) bool {
	for r.size+len(p) > len(r.buf) {
		if !r.Grow(maxCapacity) {
			return r.size+len(p) <= len(r.buf)
		}
	}
	for _, b := range p {
		r.buf[r.w] = b
		r.w = (r.w + 1) % len(r.buf)
	}
	r.size += len(p)
	return true
}

// PeekBytes copies len(dst) bytes starting at offset from the unread region
// into dst, handling wrap-around transparently. Returns false if
// offset+len(dst) exceeds the unread region.
func (r *Ring) PeekBytes(offset int, dst []byte) bool {
	if offset+len(dst) > r.size {
		return false
	}
	start := (r.r + offset) % len(r.buf)
	for i := range dst {
		dst[i] = r.buf[(start+i)%len(r.buf)]
	}
	return true
}

// Advance drops n unread bytes from the front without copying them out.
func (r *Ring) Advance(n int) {
	if n > r.size {
		n = r.size
	}
	r.r = (r.r + n) % len(r.buf)
	r.size -= n
}

// Close releases the backing array. The Ring must not be used afterwards.
func (r *Ring) Close() {
	if r.buf != nil {
		r.pool.Release(r.buf)
		r.buf = nil
	}
}
