// Package hal defines the hardware boundary of the SAM USB device engine.
//
// The engine never dereferences peripheral addresses itself. It reaches the
// hardware through three small interfaces:
//
//   - [Bus]: 8/16/32-bit accesses to the USB register window
//   - [Memory]: translation of software buffers to DMA bus addresses
//   - [Critical]: masking of the USB interrupt around arming sequences
//
// Two implementations ship with the module. [github.com/ardnew/samusb/device/hal/sim]
// emulates the register file and the host side of the wire for tests and
// the simulator. [github.com/ardnew/samusb/device/hal/mmio] performs
// volatile accesses on TinyGo targets.
//
// # Example
//
//	bus := mmio.New(mmio.USB0)
//	ctrl := device.New(bus, mmio.RAM{}, device.Config{
//	    Critical: mmio.Interrupts{},
//	})
package hal
