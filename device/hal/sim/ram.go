package sim

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ardnew/samusb/device/reg"
	"github.com/ardnew/samusb/pkg"
)

// DefaultRAMBase is the bus address of the first byte of simulated SRAM.
const DefaultRAMBase uint32 = 0x20000000

// RAM is a simulated SRAM arena. Buffers carved from it have stable 32-bit
// bus addresses, which the simulated DMA engine resolves back to bytes.
// RAM implements hal.Memory.
type RAM struct {
	mutex sync.Mutex
	base  uint32
	mem   []byte
	next  int
}

// NewRAM returns an arena of size bytes mapped at DefaultRAMBase.
func NewRAM(size int) *RAM {
	return &RAM{base: DefaultRAMBase, mem: make([]byte, size)}
}

// Alloc carves n bytes, word aligned, from the arena.
func (r *RAM) Alloc(n int) ([]byte, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	off := (r.next + reg.DMAAlign - 1) &^ (reg.DMAAlign - 1)
	if n < 0 || off+n > len(r.mem) {
		return nil, fmt.Errorf("sim: alloc %d bytes: %w", n, pkg.ErrBufferTooSmall)
	}
	r.next = off + n
	return r.mem[off : off+n : off+n], nil
}

// Address returns the bus address of buf[0]. buf must lie inside the arena.
func (r *RAM) Address(buf []byte) (uint32, error) {
	if len(buf) == 0 {
		return 0, fmt.Errorf("sim: address of empty buffer: %w", pkg.ErrBufferTooSmall)
	}
	start := uintptr(unsafe.Pointer(unsafe.SliceData(r.mem)))
	p := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	if p < start || p+uintptr(len(buf)) > start+uintptr(len(r.mem)) {
		return 0, fmt.Errorf("sim: buffer outside RAM: %w", pkg.ErrInvalidAddress)
	}
	return r.base + uint32(p-start), nil
}

// Slice returns the n bytes at bus address addr.
func (r *RAM) Slice(addr uint32, n int) ([]byte, error) {
	if addr < r.base || n < 0 || int(addr-r.base)+n > len(r.mem) {
		return nil, fmt.Errorf("sim: access 0x%08X+%d: %w", addr, n, pkg.ErrInvalidAddress)
	}
	off := int(addr - r.base)
	return r.mem[off : off+n : off+n], nil
}
