package fdt

import "testing"

func be32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func be64(v uint64) []byte {
	return append(be32(uint32(v>>32)), be32(uint32(v))...)
}

func cstr(s string) []byte {
	b := append([]byte(s), 0)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

// buildBlob assembles a minimal FDT: a root node containing one
// memory@80000000 node (reg = 0x80000000, 0x8000000 = 128MiB) and a cpus
// node with two cpu@N children.
func buildBlob(t *testing.T) []byte {
	t.Helper()

	var strtab []byte
	regOff := len(strtab)
	strtab = append(strtab, cstr("reg")...)

	var st []byte
	appendBeginNode := func(name string) { st = append(st, be32(tokenBeginNode)...); st = append(st, cstr(name)...) }
	appendEndNode := func() { st = append(st, be32(tokenEndNode)...) }

	appendBeginNode("")
	appendBeginNode("memory@80000000")
	regData := append(be64(0x80000000), be64(0x8000000)...)
	st = append(st, be32(tokenProp)...)
	st = append(st, be32(uint32(len(regData)))...)
	st = append(st, be32(uint32(regOff))...)
	st = append(st, regData...)
	appendEndNode()
	appendBeginNode("cpus")
	appendBeginNode("cpu@0")
	appendEndNode()
	appendBeginNode("cpu@1")
	appendEndNode()
	appendEndNode()
	appendEndNode()
	st = append(st, be32(tokenEnd)...)

	const headerLen = 40
	offStruct := headerLen
	offStrings := offStruct + len(st)

	blob := make([]byte, 0, offStrings+len(strtab))
	blob = append(blob, be32(magic)...)
	blob = append(blob, be32(uint32(offStrings+len(strtab)))...) // totalsize
	blob = append(blob, be32(uint32(offStruct))...)              // off_dt_struct
	blob = append(blob, be32(uint32(offStrings))...)             // off_dt_strings
	blob = append(blob, be32(0)...)                              // off_mem_rsvmap (unused)
	blob = append(blob, be32(17)...)                              // version
	blob = append(blob, be32(16)...)                              // last_comp_version
	blob = append(blob, be32(0)...)                               // boot_cpuid_phys
	blob = append(blob, be32(uint32(len(strtab)))...)             // size_dt_strings
	blob = append(blob, be32(uint32(len(st)))...)                 // size_dt_struct
	blob = append(blob, st...)
	blob = append(blob, strtab...)
	return blob
}

func TestParseSumsMemoryAndCountsCPUs(t *testing.T) {
	info, err := Parse(buildBlob(t))
	if err != 0 {
		t.Fatalf("Parse failed: %d", err)
	}
	if info.MemoryBytes != 0x8000000 {
		t.Fatalf("MemoryBytes = %#x, want %#x", info.MemoryBytes, 0x8000000)
	}
	if info.CPUCount != 2 {
		t.Fatalf("CPUCount = %d, want 2", info.CPUCount)
	}
}

func TestReservedTopAndUsableStop(t *testing.T) {
	info, err := Parse(buildBlob(t))
	if err != 0 {
		t.Fatalf("Parse failed: %d", err)
	}
	// 2 CPUs: trampoline + guard + (stack + guard) per hart = 6 pages.
	if got := info.ReservedTopBytes(); got != 6*4096 {
		t.Fatalf("ReservedTopBytes = %d, want %d", got, 6*4096)
	}
	const base = 0x80000000
	want := uint64(base) + info.MemoryBytes - info.ReservedTopBytes()
	if got := info.UsableStop(base); got != want {
		t.Fatalf("UsableStop = %#x, want %#x", got, want)
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	blob := buildBlob(t)
	blob[0] = 0
	if _, err := Parse(blob); err != -3 {
		t.Fatalf("Parse of bad magic = %d, want -EINVAL", err)
	}
}

func TestParseRejectsTruncatedBlob(t *testing.T) {
	if _, err := Parse([]byte{1, 2, 3}); err == 0 {
		t.Fatalf("Parse of a truncated blob should fail")
	}
}
