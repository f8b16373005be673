package codec

import (
	"encoding/binary"
	"fmt"
)

// writer appends little-endian values to a buffer that may not grow past
// limit. The first overflow is sticky; later writes are ignored.
type writer struct {
	buf   []byte
	limit int
	err   error
}

func newWriter(limit int) *writer {
	capHint := limit
	if capHint > 512 {
		capHint = 512
	}
	return &writer{buf: make([]byte, 0, capHint), limit: limit}
}

func (w *writer) reserve(n int) bool {
	if w.err != nil {
		return false
	}
	if len(w.buf)+n > w.limit {
		w.err = fmt.Errorf("%w: need %d bytes, limit %d", ErrBufferOverflow, len(w.buf)+n, w.limit)
		return false
	}
	return true
}

func (w *writer) u8(v uint8) {
	if w.reserve(1) {
		w.buf = append(w.buf, v)
	}
}

func (w *writer) u16(v uint16) {
	if w.reserve(2) {
		w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
	}
}

func (w *writer) u32(v uint32) {
	if w.reserve(4) {
		w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
	}
}

func (w *writer) u64(v uint64) {
	if w.reserve(8) {
		w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
	}
}

func (w *writer) i64(v int64) { w.u64(uint64(v)) }

func (w *writer) skip(n int) {
	if w.reserve(n) {
		w.buf = append(w.buf, make([]byte, n)...)
	}
}

// str writes a string as u32 length, bytes, NUL and padding to 4 bytes.
func (w *writer) str(s string) {
	w.u32(uint32(len(s)))
	if !w.reserve(len(s) + 1) {
		return
	}
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
	w.skip(pad4(len(s) + 1))
}

func (w *writer) u16s(v []uint16) {
	w.u32(uint32(len(v)))
	for _, x := range v {
		w.u16(x)
	}
	w.skip(pad4(2 * len(v)))
}

func (w *writer) u32s(v []uint32) {
	w.u32(uint32(len(v)))
	for _, x := range v {
		w.u32(x)
	}
}

func (w *writer) u64s(v []uint64) {
	w.u32(uint32(len(v)))
	for _, x := range v {
		w.u64(x)
	}
}

// putU32At overwrites a previously written u32.
func (w *writer) putU32At(pos int, v uint32) {
	if w.err != nil || pos+4 > len(w.buf) {
		return
	}
	binary.LittleEndian.PutUint32(w.buf[pos:], v)
}

func (w *writer) bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf, nil
}

// reader consumes little-endian values. Running past the end is sticky and
// reported once through err.
type reader struct {
	buf []byte
	off int
	err error
}

func newReader(b []byte) *reader {
	return &reader{buf: b}
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, r.off, len(r.buf))
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *reader) u64() uint64 {
	if b := r.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (r *reader) i64() int64 { return int64(r.u64()) }

func (r *reader) skip(n int) { r.take(n) }

func (r *reader) str() string {
	n := int(r.u32())
	if r.err != nil {
		return ""
	}
	b := r.take(n + 1)
	if b == nil {
		return ""
	}
	if b[n] != 0 {
		r.err = fmt.Errorf("%w: string not NUL terminated", ErrCorrupt)
		return ""
	}
	r.skip(pad4(n + 1))
	return string(b[:n])
}

// count reads a vector length and bounds it by the remaining bytes.
func (r *reader) count(elemSize int) int {
	n := int(r.u32())
	if r.err != nil {
		return 0
	}
	if n*elemSize > len(r.buf)-r.off {
		r.err = fmt.Errorf("%w: vector of %d elements exceeds record", ErrCorrupt, n)
		return 0
	}
	return n
}

func (r *reader) u16s() []uint16 {
	n := r.count(2)
	if n == 0 {
		return nil
	}
	out := make([]uint16, n)
	for i := range out {
		out[i] = r.u16()
	}
	r.skip(pad4(2 * n))
	return out
}

func (r *reader) u32s() []uint32 {
	n := r.count(4)
	if n == 0 {
		return nil
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = r.u32()
	}
	return out
}

func (r *reader) u64s() []uint64 {
	n := r.count(8)
	if n == 0 {
		return nil
	}
	out := make([]uint64, n)
	for i := range out {
		out[i] = r.u64()
	}
	return out
}

func pad4(n int) int {
	return (4 - n%4) % 4
}
