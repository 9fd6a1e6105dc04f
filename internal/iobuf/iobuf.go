// Package iobuf implements the fixed-capacity buffer the proxy uses for
// both auth-phase upstream reads and relay-phase forwarding. It mirrors
// nginx's pos/last/start/end buffer discipline (see
// ngx_mail_proxy_read_response and ngx_mail_proxy_handler) with Go slices:
// pos marks the first unconsumed byte, last marks one past the last byte
// written, and cap(data) is the fixed size carved out at session setup.
package iobuf

// Buffer is a single fixed-size byte buffer with a read cursor (pos) and
// a write cursor (last). It never reallocates.
type Buffer struct {
	data []byte
	pos  int
	last int
}

// New allocates a Buffer with the given capacity. size must match
// config.buffer_size for the owning session.
func New(size int) *Buffer {
	return &Buffer{data: make([]byte, size)}
}

// Unread returns the bytes accumulated since the last Reset, i.e.
// data[pos:last].
func (b *Buffer) Unread() []byte {
	return b.data[b.pos:b.last]
}

// Free returns the writable tail, data[last:cap], for a recv() call.
func (b *Buffer) Free() []byte {
	return b.data[b.last:]
}

// Grow records that n bytes were just written into the tail returned by
// Free.
func (b *Buffer) Grow(n int) {
	b.last += n
}

// Consume advances pos by n bytes, resetting both cursors to the start
// once fully drained (invariant 2 in spec.md §3: pos == last == start
// after a full drain).
func (b *Buffer) Consume(n int) {
	b.pos += n
	if b.pos == b.last {
		b.pos = 0
		b.last = 0
	}
}

// Reset discards any unread bytes and rewinds both cursors to the
// start. Called after a response has been fully classified.
func (b *Buffer) Reset() {
	b.pos = 0
	b.last = 0
}

// Full reports whether the buffer has no room left for more writes.
func (b *Buffer) Full() bool {
	return b.last == len(b.data)
}

// Empty reports whether every written byte has been consumed.
func (b *Buffer) Empty() bool {
	return b.pos == b.last
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int {
	return b.last - b.pos
}
