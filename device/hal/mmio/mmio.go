//go:build tinygo

// Package mmio implements the hal interfaces with volatile memory-mapped
// accesses for TinyGo builds on SAM D/L parts.
package mmio

import (
	"errors"
	"runtime/interrupt"
	"runtime/volatile"
	"unsafe"

	"github.com/ardnew/samusb/device/reg"
)

// Peripheral base addresses.
const (
	USB0     uintptr = 0x41005000 // SAMD21, SAML21
	USBD51   uintptr = 0x41000000 // SAMD51, SAME5x
	sramBase uintptr = 0x20000000
	sramEnd  uintptr = 0x20040000
)

// Bus accesses one USB peripheral instance.
type Bus struct {
	base uintptr
}

// New returns a Bus for the peripheral at base.
func New(base uintptr) *Bus {
	return &Bus{base: base}
}

func (b *Bus) reg8(offset uintptr) *volatile.Register8 {
	return (*volatile.Register8)(unsafe.Pointer(b.base + offset))
}

func (b *Bus) reg16(offset uintptr) *volatile.Register16 {
	return (*volatile.Register16)(unsafe.Pointer(b.base + offset))
}

func (b *Bus) reg32(offset uintptr) *volatile.Register32 {
	return (*volatile.Register32)(unsafe.Pointer(b.base + offset))
}

func (b *Bus) Read8(offset uintptr) uint8 { return b.reg8(offset).Get() }
func (b *Bus) Read16(offset uintptr) uint16 { return b.reg16(offset).Get() }
func (b *Bus) Read32(offset uintptr) uint32 { return b.reg32(offset).Get() }
func (b *Bus) Write8(offset uintptr, v uint8) { b.reg8(offset).Set(v) }
func (b *Bus) Write16(offset uintptr, v uint16) { b.reg16(offset).Set(v) }
func (b *Bus) Write32(offset uintptr, v uint32) { b.reg32(offset).Set(v) }

var (
	errEmpty     = errors.New("mmio: empty buffer")
	errNotInSRAM = errors.New("mmio: buffer outside SRAM")
)

// RAM maps buffers to their physical address. The DMA engine can only
// reach SRAM, so flash-resident data is rejected.
type RAM struct{}

// Address implements hal.Memory.
func (RAM) Address(buf []byte) (uint32, error) {
	if len(buf) == 0 {
		return 0, errEmpty
	}
	p := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	if p < sramBase || p+uintptr(len(buf)) > sramEnd {
		return 0, errNotInSRAM
	}
	return uint32(p), nil
}

// Interrupts masks every interrupt for the duration of a critical section.
type Interrupts struct{}

// Enter implements hal.Critical.
func (Interrupts) Enter() uintptr { return uintptr(interrupt.Disable()) }

// Exit implements hal.Critical.
func (Interrupts) Exit(state uintptr) { interrupt.Restore(interrupt.State(state)) }

// DescriptorMemory is a statically allocated, word-aligned descriptor table
// region for every endpoint the peripheral implements.
var DescriptorMemory struct {
	_   [0]uint32
	Buf [reg.MaxEndpoints * reg.DescEndpointSize]byte
}
