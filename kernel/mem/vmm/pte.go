package vmm

import "teachos/kernel/mem/pmm"

// entryFlags are the low three bits shared by page-directory and page-table
// entries on 32-bit x86.
type entryFlags uint32

const (
	flagPresent entryFlags = 1 << 0
	flagRW      entryFlags = 1 << 1
	flagUser    entryFlags = 1 << 2

	flagMask = entryFlags(0xfff)
)

// pageEntry is a single 32-bit page-directory or page-table entry: bits 0-11
// hold flags, bits 12-31 hold a physical frame number shifted into a frame
// address.
type pageEntry uint32

// notPresentRW is the encoding the fault handler and PT constructor use to
// initialize an entry that has no frame yet: not present, read/write,
// supervisor.
const notPresentRW = pageEntry(flagRW)

func (e pageEntry) present() bool {
	return entryFlags(e)&flagPresent != 0
}

func (e pageEntry) frame() pmm.Frame {
	return pmm.FrameFromAddress(uintptr(e &^ pageEntry(flagMask)))
}

func newPageEntry(f pmm.Frame, flags entryFlags) pageEntry {
	return pageEntry(f.Address()) | pageEntry(flags)
}
