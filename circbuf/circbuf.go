// Package circbuf provides the fixed-capacity, modulo-addressed byte
// storage that backs both the UART transmit ring and the console
// line-discipline buffer.
package circbuf

// Buf_t is fixed-capacity byte storage addressed modulo its capacity.
// It holds no cursors itself: the UART ring needs two
// (write_pos/read_pos) and the console buffer three
// (read_idx/write_idx/edit_idx), so each owner keeps and advances its
// own, indexing into a Buf_t the same way.
type Buf_t struct {
	data []byte
}

// New returns a zeroed buffer of the given capacity.
func New(size int) *Buf_t {
	return &Buf_t{data: make([]byte, size)}
}

// Cap returns the buffer's capacity.
func (b *Buf_t) Cap() int {
	return len(b.data)
}

// At returns the byte at cursor i modulo the buffer's capacity.
func (b *Buf_t) At(i int) byte {
	return b.data[i%len(b.data)]
}

// Set stores v at cursor i modulo the buffer's capacity.
func (b *Buf_t) Set(i int, v byte) {
	b.data[i%len(b.data)] = v
}
