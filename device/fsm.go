package device

import (
	"fmt"

	"github.com/ardnew/samusb/device/reg"
	"github.com/ardnew/samusb/pkg"
)

// State is the device-side link state reported by FSMSTATUS.
type State uint8

// Device link states.
const (
	StateOff              State = iota // Powered off, disconnected or disabled
	StateOn                            // Idle or active
	StateSuspend                       // Bus suspended
	StateSleep                         // LPM L1 sleep
	StateDownstreamResume              // Host is resuming the bus
	StateUpstreamResume                // Device is signalling remote wakeup
	StateReset                         // Bus reset in progress
)

var stateNames = [...]string{
	StateOff:              "Off",
	StateOn:               "On",
	StateSuspend:          "Suspend",
	StateSleep:            "Sleep",
	StateDownstreamResume: "DownstreamResume",
	StateUpstreamResume:   "UpstreamResume",
	StateReset:            "Reset",
}

// String returns a human-readable state name.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// ParseState returns the state named by s, as produced by String.
func ParseState(s string) (State, bool) {
	for st, name := range stateNames {
		if name == s {
			return State(st), true
		}
	}
	return 0, false
}

// stateFromFSM decodes FSMSTATUS. ok is false for any value other than the
// seven one-hot codes.
func stateFromFSM(v reg.FSMStatus) (State, bool) {
	switch v {
	case reg.FSMOff:
		return StateOff, true
	case reg.FSMOn:
		return StateOn, true
	case reg.FSMSuspend:
		return StateSuspend, true
	case reg.FSMSleep:
		return StateSleep, true
	case reg.FSMDnResume:
		return StateDownstreamResume, true
	case reg.FSMUpResume:
		return StateUpstreamResume, true
	case reg.FSMReset:
		return StateReset, true
	}
	return 0, false
}

// flagState returns the state a device interrupt flag moves the FSM to.
// EORST is absent: it moves to On only after bus-reset handling.
func flagState(flag reg.Int) (State, bool) {
	switch flag {
	case reg.IntSUSPEND:
		return StateSuspend, true
	case reg.IntWAKEUP:
		return StateDownstreamResume, true
	case reg.IntEORSM:
		return StateOn, true
	case reg.IntUPRSM:
		return StateUpstreamResume, true
	case reg.IntLPMSUSP:
		return StateSleep, true
	}
	return 0, false
}

// handleDevice services one device interrupt flag. Called inside the
// critical section; the returned event is delivered after it is left.
func (c *Controller) handleDevice(flag reg.Int) (event, bool) {
	switch flag {
	case reg.IntRAMACER:
		return c.onRAMAccessError(), true

	case reg.IntEORST:
		return c.onReset()

	case reg.IntSOF:
		f := reg.FNum(c.bus.Read16(reg.OffsetFNUM))
		c.dev.Frame = f.Frame()
		c.dev.FrameCRCError = f.CRCError()
		return event{}, false

	case reg.IntLPMNYET:
		pkg.LogDebug(pkg.ComponentFSM, "LPM transaction answered NYET",
			"lpm", c.table.ExtReg(0).Variable())
		return event{}, false
	}

	if st, ok := flagState(flag); ok {
		return c.setState(st)
	}
	return event{}, false
}

// onReset handles end of bus reset. The device address is cleared and
// every endpoint disabled before endpoint 0 is brought back, and all of it
// happens before the transition to On is published.
func (c *Controller) onReset() (event, bool) {
	pkg.LogInfo(pkg.ComponentFSM, "bus reset")

	c.bus.Write8(reg.OffsetDADD, 0)
	if err := c.waitSync(c.syncContext(), reg.SyncBusyAll); err != nil {
		pkg.LogError(pkg.ComponentFSM, "address clear did not synchronize", "error", err)
		return event{kind: eventFatal, err: err}, true
	}
	c.dev.Address = 0
	c.dev.AddressEnabled = false

	for n := 0; n < c.cfg.MaxEndpoints; n++ {
		c.disable(uint8(n))
	}
	if c.ep0.valid {
		if err := c.configure(0, c.ep0.cfg, c.ep0.maxPacketSize); err != nil {
			pkg.LogError(pkg.ComponentFSM, "endpoint 0 reconfigure failed", "error", err)
			return event{kind: eventFatal, err: err}, true
		}
	}

	c.dev.Speed = speedOf(reg.Status(c.bus.Read8(reg.OffsetSTATUS)).Speed())
	return c.setState(StateOn)
}

// reconcile re-reads FSMSTATUS after device flags have been serviced.
func (c *Controller) reconcile() (event, bool) {
	raw := reg.FSMStatus(c.bus.Read8(reg.OffsetFSMSTATUS))
	st, ok := stateFromFSM(raw)
	if !ok {
		pkg.LogError(pkg.ComponentFSM, "undefined FSMSTATUS", "value", uint8(raw))
		return event{kind: eventFatal, err: &pkg.ProtocolFault{Status: uint8(raw)}}, true
	}
	return c.setState(st)
}

// Poll samples FSMSTATUS and moves the FSM to the state it reports. It
// returns the resulting state and whether it changed. An FSMSTATUS value
// outside the defined codes yields a [pkg.ProtocolFault]; the connection is
// unusable until [Controller.Reset].
func (c *Controller) Poll() (State, bool, error) {
	s := c.crit.Enter()
	if !c.initialized {
		c.crit.Exit(s)
		return StateOff, false, pkg.ErrNotEnabled
	}
	raw := reg.FSMStatus(c.bus.Read8(reg.OffsetFSMSTATUS))
	st, ok := stateFromFSM(raw)
	if !ok {
		cur := c.dev.State
		c.crit.Exit(s)
		return cur, false, &pkg.ProtocolFault{Status: uint8(raw)}
	}
	ev, changed := c.setState(st)
	c.crit.Exit(s)

	if changed {
		c.emit(ev)
	}
	return st, changed, nil
}
