// Package fdt parses the subset of a flattened device tree (the blob
// QEMU hands a RISC-V kernel in a1 at boot) the boot path needs: summing
// /memory@X reg regions to find the top of physical memory, and counting
// /cpus/cpu@N nodes. It is deliberately minimal: no overlays, no
// phandles, no interrupt maps, no #address-cells/#size-cells lookup
// (QEMU virt's default of 2/2 cells is assumed). Everything beyond the
// memory/CPU fields belongs to the platform layer outside this module.
package fdt

import (
	"strings"

	"github.com/ekureina/rv6-riscv-ekureina/defs"
	"github.com/ekureina/rv6-riscv-ekureina/physmem"
	"github.com/ekureina/rv6-riscv-ekureina/util"
	"github.com/ekureina/rv6-riscv-ekureina/vm"
)

const magic uint32 = 0xd00dfeed

// Structure-block token values (big-endian uint32 in the blob).
const (
	tokenBeginNode uint32 = 1
	tokenEndNode   uint32 = 2
	tokenProp      uint32 = 3
	tokenNop       uint32 = 4
	tokenEnd       uint32 = 9
)

// addrCells/sizeCells are QEMU virt's fixed #address-cells/#size-cells for
// the root and /memory nodes (both 2, i.e. 64-bit values), assumed rather
// than looked up, per this package's stated scope.
const (
	addrCells = 2
	sizeCells = 2
	regEntry  = (addrCells + sizeCells) * 4
)

// Info_t is the subset of the device tree the boot path needs.
type Info_t struct {
	MemoryBytes uint64 // sum of every /memory@X node's reg region sizes
	CPUCount    int    // number of /cpus/cpu@N nodes
}

// ReservedTopBytes is the size of the region the boot path sets aside at
// the top of memory: the trampoline page, its guard, and a stack plus
// guard page per hart.
func (i Info_t) ReservedTopBytes() uint64 {
	return uint64(physmem.PageSize) * uint64(2+2*i.CPUCount)
}

// UsableStop computes physical_address_stop for the page allocator's pool
// given the RAM base address: the end of RAM less the reserved top region,
// additionally capped so the window never reaches the part of the address
// space the reservation occupies below the Sv39 limit.
func (i Info_t) UsableStop(base uint64) uint64 {
	reserved := i.ReservedTopBytes()
	stop := base + i.MemoryBytes - reserved
	if cap_ := uint64(vm.MaxVA) - reserved; stop > cap_ {
		stop = cap_
	}
	return stop
}

// Parse walks blob's structure block and extracts Info_t. Returns -EINVAL
// if blob isn't a validly-headed FDT blob or the structure block is
// malformed.
func Parse(blob []byte) (Info_t, defs.Err_t) {
	if len(blob) < 40 {
		return Info_t{}, -defs.EINVAL
	}
	if util.ReadBE32(blob, 0) != magic {
		return Info_t{}, -defs.EINVAL
	}
	offStruct := int(util.ReadBE32(blob, 8))
	offStrings := int(util.ReadBE32(blob, 12))

	var info Info_t
	var path []string
	pos := offStruct

	for {
		if pos+4 > len(blob) {
			return Info_t{}, -defs.EINVAL
		}
		tok := util.ReadBE32(blob, pos)
		pos += 4

		switch tok {
		case tokenBeginNode:
			name, n, err := readCString(blob, pos)
			if err != 0 {
				return Info_t{}, err
			}
			pos += align4(n)
			path = append(path, name)
			if len(path) >= 2 && path[len(path)-2] == "cpus" && strings.HasPrefix(name, "cpu@") {
				info.CPUCount++
			}

		case tokenEndNode:
			if len(path) == 0 {
				return Info_t{}, -defs.EINVAL
			}
			path = path[:len(path)-1]

		case tokenProp:
			if pos+8 > len(blob) {
				return Info_t{}, -defs.EINVAL
			}
			propLen := int(util.ReadBE32(blob, pos))
			nameOff := int(util.ReadBE32(blob, pos+4))
			pos += 8
			if pos+propLen > len(blob) {
				return Info_t{}, -defs.EINVAL
			}
			data := blob[pos : pos+propLen]
			pos += align4(propLen)

			propName, _, err := readCString(blob, offStrings+nameOff)
			if err != 0 {
				return Info_t{}, err
			}
			if propName == "reg" && len(path) > 0 && strings.HasPrefix(path[len(path)-1], "memory@") {
				info.MemoryBytes += sumRegSizes(data)
			}

		case tokenNop:

		case tokenEnd:
			return info, 0

		default:
			return Info_t{}, -defs.EINVAL
		}
	}
}

// sumRegSizes adds up the size field of every (address, size) cell pair in
// a memory node's reg property.
func sumRegSizes(data []byte) uint64 {
	var total uint64
	for off := 0; off+regEntry <= len(data); off += regEntry {
		total += util.ReadBE64(data, off+addrCells*4)
	}
	return total
}

// readCString reads a NUL-terminated string starting at off, returning the
// string and its length including the NUL.
func readCString(blob []byte, off int) (string, int, defs.Err_t) {
	if off < 0 || off >= len(blob) {
		return "", 0, -defs.EINVAL
	}
	end := off
	for end < len(blob) && blob[end] != 0 {
		end++
	}
	if end >= len(blob) {
		return "", 0, -defs.EINVAL
	}
	return string(blob[off:end]), end - off + 1, 0
}

func align4(n int) int {
	return int(util.Roundup(uint(n), 4))
}
