package hal

import (
	"sync"
)

// Speed represents the USB connection speed.
type Speed uint8

// USB speed constants (USB 2.0 Specification).
const (
	SpeedUnknown Speed = iota // Not connected or unknown
	SpeedLow                  // Low Speed (1.5 Mbit/s)
	SpeedFull                 // Full Speed (12 Mbit/s)
	SpeedHigh                 // High Speed (480 Mbit/s)
)

// String returns a human-readable speed name.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed"
	case SpeedFull:
		return "Full Speed"
	case SpeedHigh:
		return "High Speed"
	default:
		return "Unknown"
	}
}

// Bus is the register window of one USB peripheral instance. Offsets are
// relative to the peripheral base address. Implementations perform exactly
// one access of the stated width per call; no caching, no read-modify-write.
type Bus interface {
	Read8(offset uintptr) uint8
	Read16(offset uintptr) uint16
	Read32(offset uintptr) uint32
	Write8(offset uintptr, v uint8)
	Write16(offset uintptr, v uint16)
	Write32(offset uintptr, v uint32)
}

// Memory maps software buffers to the 32-bit addresses the peripheral DMA
// engine uses. On the target this is the buffer's physical address; the
// simulator hands out addresses from its own RAM arena.
type Memory interface {
	// Address returns the bus address of buf[0]. It fails if buf is empty
	// or does not live in DMA-reachable memory.
	Address(buf []byte) (uint32, error)
}

// Critical masks the peripheral interrupt around multi-register sequences.
// Enter returns a token that must be handed back to the matching Exit.
type Critical interface {
	Enter() uintptr
	Exit(state uintptr)
}

// MutexCritical is a Critical backed by a mutex, for hosted builds where
// the dispatcher runs on an ordinary goroutine.
type MutexCritical struct {
	mutex sync.Mutex
}

// Enter locks the section.
func (c *MutexCritical) Enter() uintptr {
	c.mutex.Lock()
	return 0
}

// Exit unlocks the section.
func (c *MutexCritical) Exit(uintptr) {
	c.mutex.Unlock()
}

// SetupPacket represents a USB SETUP packet.
// This is a fixed-size, zero-allocation structure for SETUP transactions.
type SetupPacket struct {
	RequestType uint8  // Request characteristics
	Request     uint8  // Specific request
	Value       uint16 // Request-specific value
	Index       uint16 // Request-specific index
	Length      uint16 // Number of bytes to transfer
}

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = 8

// ParseSetupPacket parses raw bytes into a SetupPacket.
// Returns false if data is too short.
func ParseSetupPacket(data []byte, out *SetupPacket) bool {
	if len(data) < SetupPacketSize {
		return false
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = uint16(data[2]) | uint16(data[3])<<8
	out.Index = uint16(data[4]) | uint16(data[5])<<8
	out.Length = uint16(data[6]) | uint16(data[7])<<8
	return true
}

// Bytes returns the wire encoding of s.
func (s *SetupPacket) Bytes() [SetupPacketSize]byte {
	return [SetupPacketSize]byte{
		s.RequestType,
		s.Request,
		byte(s.Value), byte(s.Value >> 8),
		byte(s.Index), byte(s.Index >> 8),
		byte(s.Length), byte(s.Length >> 8),
	}
}

// IsIn reports whether the data stage, if any, runs device-to-host.
func (s *SetupPacket) IsIn() bool {
	return s.RequestType&0x80 != 0
}
