package device

import (
	"github.com/ardnew/samusb/device/hal"
	"github.com/ardnew/samusb/device/reg"
	"github.com/ardnew/samusb/pkg"
)

// Device is the last-observed state of the device side of the link. It is
// created when the peripheral is enabled and cleared by software reset.
type Device struct {
	State          State
	Address        uint8
	AddressEnabled bool
	Speed          hal.Speed
	Frame          uint16
	FrameCRCError  bool
}

// setState records a new FSM state. Called inside the critical section; the
// returned event is delivered after it is left.
func (c *Controller) setState(newState State) (event, bool) {
	oldState := c.dev.State
	if oldState == newState {
		return event{}, false
	}
	c.dev.State = newState

	pkg.LogDebug(pkg.ComponentFSM, "device state changed",
		"from", oldState.String(),
		"to", newState.String())
	return event{kind: eventState, state: newState}, true
}

func speedOf(s reg.SpeedConf) hal.Speed {
	switch s {
	case reg.SpeedConfFull:
		return hal.SpeedFull
	case reg.SpeedConfLow:
		return hal.SpeedLow
	}
	return hal.SpeedUnknown
}

// Device returns a snapshot of the device state.
func (c *Controller) Device() Device {
	s := c.crit.Enter()
	defer c.crit.Exit(s)
	return c.dev
}

// State returns the current FSM state.
func (c *Controller) State() State {
	s := c.crit.Enter()
	defer c.crit.Exit(s)
	return c.dev.State
}

// Address returns the device address and whether it is enabled.
func (c *Controller) Address() (uint8, bool) {
	s := c.crit.Enter()
	defer c.crit.Exit(s)
	return c.dev.Address, c.dev.AddressEnabled
}

// Speed returns the speed observed at the last bus reset.
func (c *Controller) Speed() hal.Speed {
	s := c.crit.Enter()
	defer c.crit.Exit(s)
	return c.dev.Speed
}

// FrameNumber returns the frame number of the last start-of-frame. The
// error is [pkg.ErrFrameCRC] when that frame number failed its CRC.
func (c *Controller) FrameNumber() (uint16, error) {
	s := c.crit.Enter()
	defer c.crit.Exit(s)
	if c.dev.FrameCRCError {
		return c.dev.Frame, pkg.ErrFrameCRC
	}
	return c.dev.Frame, nil
}

// SetAddress programs the device address assigned by the host and enables
// address matching.
func (c *Controller) SetAddress(addr uint8) error {
	dadd, ok := reg.NewDAdd(addr)
	if !ok {
		return &pkg.ConfigurationError{Err: pkg.ErrInvalidAddress}
	}

	s := c.crit.Enter()
	defer c.crit.Exit(s)

	if !c.initialized {
		return pkg.ErrNotEnabled
	}
	c.bus.Write8(reg.OffsetDADD, uint8(dadd))
	if err := c.waitSync(c.syncContext(), reg.SyncBusyAll); err != nil {
		return err
	}
	c.dev.Address = addr
	c.dev.AddressEnabled = true

	pkg.LogDebug(pkg.ComponentFSM, "address set", "address", addr)
	return nil
}

// Attach connects the pull-up so the host sees the device.
func (c *Controller) Attach() error {
	s := c.crit.Enter()
	defer c.crit.Exit(s)

	if !c.initialized {
		return pkg.ErrNotEnabled
	}
	if err := c.writeCtrlB(c.syncContext(), c.ctrlb&^reg.CtrlBDETACH); err != nil {
		return err
	}
	pkg.LogInfo(pkg.ComponentFSM, "attached")
	return nil
}

// Detach disconnects the pull-up. The FSM returns to Off.
func (c *Controller) Detach() error {
	s := c.crit.Enter()
	if !c.initialized {
		c.crit.Exit(s)
		return pkg.ErrNotEnabled
	}
	if err := c.writeCtrlB(c.syncContext(), c.ctrlb|reg.CtrlBDETACH); err != nil {
		c.crit.Exit(s)
		return err
	}
	ev, changed := c.setState(StateOff)
	c.crit.Exit(s)

	pkg.LogInfo(pkg.ComponentFSM, "detached")
	if changed {
		c.emit(ev)
	}
	return nil
}

// RemoteWakeup asks the peripheral to signal upstream resume. The device
// must be suspended or asleep; the transition to UpstreamResume is
// reported when the peripheral raises UPRSM.
func (c *Controller) RemoteWakeup() error {
	s := c.crit.Enter()
	defer c.crit.Exit(s)

	if !c.initialized {
		return pkg.ErrNotEnabled
	}
	if c.dev.State != StateSuspend && c.dev.State != StateSleep {
		return pkg.ErrNotSuspended
	}
	// UPRSM is a strobe; the cached CTRLB never carries it.
	c.bus.Write16(reg.OffsetCTRLB, uint16(c.ctrlb|reg.CtrlBUPRSM))
	if err := c.waitSync(c.syncContext(), reg.SyncBusyAll); err != nil {
		return err
	}
	pkg.LogDebug(pkg.ComponentFSM, "remote wakeup requested")
	return nil
}
