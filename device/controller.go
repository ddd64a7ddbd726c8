package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ardnew/samusb/device/descriptor"
	"github.com/ardnew/samusb/device/hal"
	"github.com/ardnew/samusb/device/reg"
	"github.com/ardnew/samusb/pkg"
)

// Default configuration values.
const (
	DefaultSyncTimeout  = 10 * time.Millisecond
	DefaultMaxEndpoints = reg.MaxEndpoints
)

// deviceInts is the set of device interrupts the controller services.
const deviceInts = reg.IntSUSPEND | reg.IntSOF | reg.IntEORST | reg.IntWAKEUP |
	reg.IntEORSM | reg.IntUPRSM | reg.IntRAMACER | reg.IntLPMNYET | reg.IntLPMSUSP

// Config configures a Controller. The zero value is usable except for
// ControlBuffer, which endpoint 0 requires.
type Config struct {
	// MaxEndpoints is the number of endpoints managed, 1 to 8.
	MaxEndpoints int

	// PadCal is written to PADCAL before the peripheral is enabled. The
	// target loads it from the NVM software calibration area.
	PadCal reg.PadCal

	// SyncTimeout bounds every SYNCBUSY wait.
	SyncTimeout time.Duration

	// ControlBuffer is where hardware writes SETUP packets for a control
	// endpoint. It must hold at least one max packet of endpoint 0 and live
	// in DMA-reachable memory.
	ControlBuffer []byte

	// Critical masks the USB interrupt. Defaults to a mutex.
	Critical hal.Critical

	// LPM selects the link power management handshake.
	LPM reg.LPMHandshake

	// RunStandby keeps the peripheral clocked in standby sleep.
	RunStandby bool
}

func (c Config) withDefaults() Config {
	if c.MaxEndpoints <= 0 || c.MaxEndpoints > reg.MaxEndpoints {
		c.MaxEndpoints = DefaultMaxEndpoints
	}
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = DefaultSyncTimeout
	}
	if c.Critical == nil {
		c.Critical = &hal.MutexCritical{}
	}
	return c
}

// Controller drives one SAM D/L USB peripheral in device mode. All methods
// are safe to call from any goroutine; Dispatch must only be called from
// one context at a time, the interrupt handler or a single goroutine
// standing in for it. Dispatch may allocate (log records, error values),
// so on TinyGo, where the heap is off limits inside an interrupt, poll it
// from the main loop.
type Controller struct {
	bus   hal.Bus
	mem   hal.Memory
	crit  hal.Critical
	cfg   Config
	table *descriptor.Table

	initialized bool
	dev         Device
	ctrlb       reg.CtrlB
	ctrlAddr    uint32
	eps         [reg.MaxEndpoints]endpoint
	ep0         ep0Config

	intEnabled reg.Int
	epEnabled  [reg.MaxEndpoints]reg.EPInt

	// Event callbacks
	mutex                sync.RWMutex
	onSetup              func(ep uint8, setup [8]byte)
	onTransferComplete   func(ep uint8, bank reg.Bank, n int)
	onTransferError      func(ep uint8, bank reg.Bank, err error)
	onStall              func(ep uint8, bank reg.Bank)
	onDeviceStateChanged func(state State)
	onFatalFault         func(err error)
}

// New returns a controller for the peripheral behind bus. The peripheral is
// untouched until Initialize.
func New(bus hal.Bus, mem hal.Memory, cfg Config) *Controller {
	cfg = cfg.withDefaults()
	return &Controller{
		bus:  bus,
		mem:  mem,
		crit: cfg.Critical,
		cfg:  cfg,
	}
}

// Config returns the effective configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// Initialize resets the peripheral and brings it up in device mode, still
// detached from the bus. table is the descriptor table the DMA engine will
// use; it must cover every managed endpoint.
func (c *Controller) Initialize(ctx context.Context, table *descriptor.Table) error {
	if table == nil || table.Endpoints() < c.cfg.MaxEndpoints {
		return &pkg.ConfigurationError{Err: pkg.ErrBufferTooSmall}
	}
	descAddr, err := c.mem.Address(table.Bytes())
	if err != nil {
		return &pkg.ConfigurationError{Err: err}
	}
	if descAddr%reg.DMAAlign != 0 {
		return &pkg.ConfigurationError{Err: pkg.ErrUnaligned}
	}

	s := c.crit.Enter()
	prev := c.dev.State
	c.initialized = false
	c.dev = Device{}
	c.ep0 = ep0Config{}
	c.eps = [reg.MaxEndpoints]endpoint{}
	c.epEnabled = [reg.MaxEndpoints]reg.EPInt{}
	c.table = table
	err = c.bringUp(ctx, descAddr)
	c.initialized = err == nil
	c.crit.Exit(s)

	if err != nil {
		pkg.LogError(pkg.ComponentController, "initialization failed", "error", err)
		return err
	}
	if prev != StateOff {
		c.emit(event{kind: eventState, state: StateOff})
	}
	pkg.LogInfo(pkg.ComponentController, "initialized",
		"endpoints", c.cfg.MaxEndpoints,
		"descadd", fmt.Sprintf("0x%08X", descAddr))
	return nil
}

// bringUp performs the register sequence of Initialize. Called inside the
// critical section.
func (c *Controller) bringUp(ctx context.Context, descAddr uint32) error {
	c.bus.Write8(reg.OffsetCTRLA, uint8(reg.CtrlASWRST))
	if err := c.waitSync(ctx, reg.SyncBusySWRST); err != nil {
		return err
	}

	for n := range c.cfg.MaxEndpoints {
		if err := c.table.Reset(uint8(n)); err != nil {
			return err
		}
	}
	c.bus.Write16(reg.OffsetPADCAL, uint16(c.cfg.PadCal))
	c.bus.Write32(reg.OffsetDESCADD, descAddr)

	ctrla := reg.CtrlAENABLE
	if c.cfg.RunStandby {
		ctrla |= reg.CtrlARUNSTBY
	}
	c.bus.Write8(reg.OffsetCTRLA, uint8(ctrla))
	if err := c.waitSync(ctx, reg.SyncBusyENABLE); err != nil {
		return err
	}

	if err := c.writeCtrlB(ctx, reg.CtrlBDETACH.WithSpeed(reg.SpeedConfFull).WithLPM(c.cfg.LPM)); err != nil {
		return err
	}

	c.bus.Write16(reg.OffsetINTENCLR, uint16(^reg.Int(0)))
	c.bus.Write16(reg.OffsetINTFLAG, uint16(^reg.Int(0)))
	c.bus.Write16(reg.OffsetINTENSET, uint16(deviceInts))
	c.intEnabled = deviceInts
	return nil
}

// Reset re-runs Initialize with the current descriptor table. It is the
// recovery path after a fatal fault; endpoint 0 must be configured again.
func (c *Controller) Reset(ctx context.Context) error {
	s := c.crit.Enter()
	table := c.table
	c.crit.Exit(s)
	if table == nil {
		return pkg.ErrNotEnabled
	}
	return c.Initialize(ctx, table)
}

// Close disables the peripheral. Every lease is dropped.
func (c *Controller) Close() error {
	s := c.crit.Enter()
	if !c.initialized {
		c.crit.Exit(s)
		return nil
	}
	c.bus.Write16(reg.OffsetINTENCLR, uint16(^reg.Int(0)))
	c.intEnabled = 0
	for n := range c.cfg.MaxEndpoints {
		c.disable(uint8(n))
	}
	c.bus.Write8(reg.OffsetCTRLA, 0)
	err := c.waitSync(c.syncContext(), reg.SyncBusyENABLE)
	c.initialized = false
	ev, changed := c.setState(StateOff)
	c.crit.Exit(s)

	if changed {
		c.emit(ev)
	}
	pkg.LogInfo(pkg.ComponentController, "closed")
	return err
}

// syncContext is the parent context for waits that have no caller context.
func (c *Controller) syncContext() context.Context {
	return context.Background()
}

// waitSync spins until the SYNCBUSY bits in mask clear, bounded by
// Config.SyncTimeout and ctx. The loop does not allocate.
func (c *Controller) waitSync(ctx context.Context, mask reg.SyncBusy) error {
	deadline := time.Now().Add(c.cfg.SyncTimeout)
	for {
		busy := reg.SyncBusy(c.bus.Read8(reg.OffsetSYNCBUSY)) & mask
		if busy == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("SYNCBUSY 0x%02X after %v: %w", uint8(busy), c.cfg.SyncTimeout, pkg.ErrSyncTimeout)
		}
	}
}

// writeCtrlB writes CTRLB and waits for it to synchronize. The cached
// value is updated only once the write has landed.
func (c *Controller) writeCtrlB(ctx context.Context, v reg.CtrlB) error {
	c.bus.Write16(reg.OffsetCTRLB, uint16(v))
	if err := c.waitSync(ctx, reg.SyncBusyAll); err != nil {
		return err
	}
	c.ctrlb = v
	return nil
}

// SetOnSetup sets the callback for SETUP packets received on a control
// endpoint.
func (c *Controller) SetOnSetup(fn func(ep uint8, setup [8]byte)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.onSetup = fn
}

// SetOnTransferComplete sets the callback for a bank reaching Complete. n
// is the number of bytes transferred.
func (c *Controller) SetOnTransferComplete(fn func(ep uint8, bank reg.Bank, n int)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.onTransferComplete = fn
}

// SetOnTransferError sets the callback for a failed transfer. err is a
// *pkg.TransferError.
func (c *Controller) SetOnTransferError(fn func(ep uint8, bank reg.Bank, err error)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.onTransferError = fn
}

// SetOnStall sets the callback for a STALL handshake sent to the host.
func (c *Controller) SetOnStall(fn func(ep uint8, bank reg.Bank)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.onStall = fn
}

// SetOnDeviceStateChanged sets the callback for FSM transitions.
func (c *Controller) SetOnDeviceStateChanged(fn func(state State)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.onDeviceStateChanged = fn
}

// SetOnFatalFault sets the callback for faults that need Reset.
func (c *Controller) SetOnFatalFault(fn func(err error)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.onFatalFault = fn
}
