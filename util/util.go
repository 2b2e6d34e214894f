// Package util contains small generic helpers used across the kernel core:
// integer rounding and fixed-width byte-at-offset encode/decode, the kind
// of plumbing every struct-to/from-byte-slice packer in this module needs.
package util

import "unsafe"

// Int is satisfied by all built-in integer types.
type Int interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Min returns the smaller of a and b.
func Min[T Int](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max[T Int](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// Rounddown aligns v down to the nearest multiple of b.
func Rounddown[T Int](v, b T) T {
	return v - (v % b)
}

// Roundup aligns v up to the nearest multiple of b.
func Roundup[T Int](v, b T) T {
	return Rounddown(v+b-1, b)
}

// Readn reads n little-endian bytes from a starting at off and returns the
// value. It panics if the requested region is out of bounds or the size is
// unsupported.
func Readn(a []uint8, n int, off int) int {
	if off < 0 || off+n > len(a) {
		panic("Readn out of bounds")
	}
	p := unsafe.Pointer(&a[off])
	var ret int
	switch n {
	case 8:
		ret = *(*int)(p)
	case 4:
		ret = int(*(*uint32)(p))
	case 2:
		ret = int(*(*uint16)(p))
	case 1:
		ret = int(*(*uint8)(p))
	default:
		panic("unsupported size")
	}
	return ret
}

// Writen writes val using sz little-endian bytes into a starting at off. It
// panics if the destination is out of bounds or the size is unsupported.
func Writen(a []uint8, sz int, off int, val int) {
	if off < 0 || off+sz > len(a) {
		panic("Writen out of bounds")
	}
	p := unsafe.Pointer(&a[off])
	switch sz {
	case 8:
		*(*int)(p) = val
	case 4:
		*(*uint32)(p) = uint32(val)
	case 2:
		*(*uint16)(p) = uint16(val)
	case 1:
		*(*uint8)(p) = uint8(val)
	default:
		panic("unsupported size")
	}
}

// ReadBE32 reads a big-endian 32-bit value from a starting at off. fw_cfg
// and the FDT blob are the only big-endian-encoded inputs this kernel
// parses, so this lives next to the little-endian helpers above rather
// than pulling in encoding/binary for two call sites.
func ReadBE32(a []uint8, off int) uint32 {
	if off < 0 || off+4 > len(a) {
		panic("ReadBE32 out of bounds")
	}
	return uint32(a[off])<<24 | uint32(a[off+1])<<16 | uint32(a[off+2])<<8 | uint32(a[off+3])
}

// ReadBE64 reads a big-endian 64-bit value from a starting at off.
func ReadBE64(a []uint8, off int) uint64 {
	if off < 0 || off+8 > len(a) {
		panic("ReadBE64 out of bounds")
	}
	hi := uint64(ReadBE32(a, off))
	lo := uint64(ReadBE32(a, off+4))
	return hi<<32 | lo
}

// WriteBE32 writes a big-endian 32-bit value into a starting at off.
func WriteBE32(a []uint8, off int, val uint32) {
	if off < 0 || off+4 > len(a) {
		panic("WriteBE32 out of bounds")
	}
	a[off] = uint8(val >> 24)
	a[off+1] = uint8(val >> 16)
	a[off+2] = uint8(val >> 8)
	a[off+3] = uint8(val)
}
