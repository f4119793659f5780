// Package ringbuffer implements a fixed-capacity, single-producer/
// single-consumer circular byte queue whose read and write sides expose
// scatter/gather views (up to two contiguous slices) suitable for vectored
// socket I/O without linearizing the wrapped data first.
package ringbuffer

// RingBuffer is a fixed-capacity FIFO of bytes. read_pos and write_pos wrap
// within the backing storage; rd_avail and wr_avail always sum to cap.
type RingBuffer struct {
	buf      []byte
	readPos  int
	writePos int
	rdAvail  int
	wrAvail  int
}

// New creates a ring buffer of nominal length length, optionally preloaded
// with init[:initlen]. When the preload is no larger than length it is
// stored within a buffer of exactly length bytes; a preload larger than
// length extends the backing storage to initlen+length so a full length
// bytes of free space remains after the preload.
func New(length int, init []byte, initlen int) *RingBuffer {
	if initlen > len(init) {
		initlen = len(init)
	}
	capacity := length
	if initlen > length {
		capacity = initlen + length
	}

	r := &RingBuffer{
		buf:      make([]byte, capacity),
		readPos:  0,
		writePos: initlen,
		rdAvail:  initlen,
		wrAvail:  capacity - initlen,
	}
	if initlen > 0 {
		copy(r.buf, init[:initlen])
	}
	return r
}

// Cap returns the backing storage size.
func (r *RingBuffer) Cap() int { return len(r.buf) }

// Close releases the backing storage. A RingBuffer is not used again
// after Close.
func (r *RingBuffer) Close() {
	r.buf = nil
	r.rdAvail, r.wrAvail = 0, 0
}

// CanRead reports whether any bytes are available to read.
func (r *RingBuffer) CanRead() bool { return r.rdAvail > 0 }

// CanWrite reports whether any free space is available to write into.
func (r *RingBuffer) CanWrite() bool { return r.wrAvail > 0 }

// ReadAvail returns the number of bytes currently readable.
func (r *RingBuffer) ReadAvail() int { return r.rdAvail }

// WriteAvail returns the number of bytes of free space currently writable.
func (r *RingBuffer) WriteAvail() int { return r.wrAvail }

// ReadView returns 1 or 2 slices describing the currently readable bytes, in
// order, totaling exactly ReadAvail() bytes. The first slice begins at
// read_pos; a second slice, starting at offset 0, is returned only when the
// readable span wraps past the end of the backing storage.
func (r *RingBuffer) ReadView() [][]byte {
	tail := len(r.buf) - r.readPos
	p1 := min(r.rdAvail, tail)

	views := make([][]byte, 0, 2)
	views = append(views, r.buf[r.readPos:r.readPos+p1])
	if rest := r.rdAvail - p1; rest > 0 {
		views = append(views, r.buf[0:rest])
	}
	return views
}

// WriteView returns 1 or 2 slices describing the currently writable bytes,
// in order, totaling exactly WriteAvail() bytes. Symmetric with ReadView.
func (r *RingBuffer) WriteView() [][]byte {
	tail := len(r.buf) - r.writePos
	p1 := min(r.wrAvail, tail)

	views := make([][]byte, 0, 2)
	views = append(views, r.buf[r.writePos:r.writePos+p1])
	if rest := r.wrAvail - p1; rest > 0 {
		views = append(views, r.buf[0:rest])
	}
	return views
}

// AdvanceRead advances read_pos by n (mod cap), moving n bytes of capacity
// from the readable half to the writable half. The caller guarantees
// 0 <= n <= ReadAvail().
func (r *RingBuffer) AdvanceRead(n int) {
	tail := len(r.buf) - r.readPos
	if n >= tail {
		r.readPos = n - tail
	} else {
		r.readPos += n
	}
	r.rdAvail -= n
	r.wrAvail += n
}

// AdvanceWrite advances write_pos by n (mod cap), moving n bytes of capacity
// from the writable half to the readable half. The caller guarantees
// 0 <= n <= WriteAvail().
func (r *RingBuffer) AdvanceWrite(n int) {
	tail := len(r.buf) - r.writePos
	if n >= tail {
		r.writePos = n - tail
	} else {
		r.writePos += n
	}
	r.wrAvail -= n
	r.rdAvail += n
}
