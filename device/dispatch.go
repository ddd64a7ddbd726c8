package device

import (
	"github.com/ardnew/samusb/device/reg"
	"github.com/ardnew/samusb/pkg"
)

type eventKind uint8

const (
	eventSetup eventKind = iota + 1
	eventComplete
	eventError
	eventStall
	eventState
	eventFatal
)

// event is a callback invocation queued by a handler running inside the
// critical section.
type event struct {
	kind  eventKind
	ep    uint8
	bank  reg.Bank
	n     int
	setup [8]byte
	state State
	err   error
}

// emit delivers ev to its callback. Never called inside the critical
// section, so a callback may submit, drain or stall.
func (c *Controller) emit(ev event) {
	c.mutex.RLock()
	onSetup := c.onSetup
	onComplete := c.onTransferComplete
	onError := c.onTransferError
	onStall := c.onStall
	onState := c.onDeviceStateChanged
	onFatal := c.onFatalFault
	c.mutex.RUnlock()

	switch ev.kind {
	case eventSetup:
		if onSetup != nil {
			onSetup(ev.ep, ev.setup)
		}
	case eventComplete:
		if onComplete != nil {
			onComplete(ev.ep, ev.bank, ev.n)
		}
	case eventError:
		if onError != nil {
			onError(ev.ep, ev.bank, ev.err)
		}
	case eventStall:
		if onStall != nil {
			onStall(ev.ep, ev.bank)
		}
	case eventState:
		if onState != nil {
			onState(ev.state)
		}
	case eventFatal:
		pkg.LogError(pkg.ComponentDispatch, "fatal fault", "error", ev.err)
		if onFatal != nil {
			onFatal(ev.err)
		}
	}
}

// Dispatch services every pending interrupt flag once and returns the
// number of flags handled. It is the body of the USB interrupt handler.
//
// Device flags are read once and handled in [reg.IntOrder], then the FSM
// is reconciled with FSMSTATUS. Endpoints with a pending flag are visited
// in ascending order, each flag word read once and handled in
// [reg.EPIntOrder]. Every flag is cleared after its handler runs and before
// its callback is delivered.
func (c *Controller) Dispatch() int {
	s := c.crit.Enter()
	if !c.initialized {
		c.crit.Exit(s)
		return 0
	}
	flags := reg.Int(c.bus.Read16(reg.OffsetINTFLAG)) & c.intEnabled
	c.crit.Exit(s)

	handled := 0
	for _, bit := range reg.IntOrder {
		if flags&bit == 0 {
			continue
		}
		s := c.crit.Enter()
		ev, ok := c.handleDevice(bit)
		c.bus.Write16(reg.OffsetINTFLAG, uint16(bit))
		c.crit.Exit(s)

		handled++
		if ok {
			c.emit(ev)
		}
	}
	if flags != 0 {
		s := c.crit.Enter()
		ev, ok := c.reconcile()
		c.crit.Exit(s)
		if ok {
			c.emit(ev)
		}
	}

	s = c.crit.Enter()
	summary := reg.EPIntSummary(c.bus.Read16(reg.OffsetEPINTSMRY))
	c.crit.Exit(s)

	for n := range c.cfg.MaxEndpoints {
		if summary.Has(uint8(n)) {
			handled += c.dispatchEndpoint(uint8(n))
		}
	}

	if handled > 0 {
		pkg.LogDebug(pkg.ComponentDispatch, "interrupt serviced",
			"device", flags.String(),
			"summary", uint16(summary),
			"handled", handled)
	}
	return handled
}

func (c *Controller) dispatchEndpoint(n uint8) int {
	s := c.crit.Enter()
	flags := reg.EPInt(c.bus.Read8(reg.EP(n, reg.OffsetEPINTFLAG))) & c.epEnabled[n]
	c.crit.Exit(s)

	handled := 0
	for _, bit := range reg.EPIntOrder {
		if flags&bit == 0 {
			continue
		}
		s := c.crit.Enter()
		ev, ok := c.handleEndpoint(n, bit)
		c.bus.Write8(reg.EP(n, reg.OffsetEPINTFLAG), uint8(bit))
		c.crit.Exit(s)

		handled++
		if ok {
			c.emit(ev)
		}
	}
	return handled
}

// handleEndpoint services one endpoint flag. Called inside the critical
// section.
func (c *Controller) handleEndpoint(n uint8, flag reg.EPInt) (event, bool) {
	bank := flag.Bank()
	switch flag {
	case reg.EPIntRXSTP:
		return c.onRXSTP(n)
	case reg.EPIntTRCPT0, reg.EPIntTRCPT1:
		return c.onBankComplete(n, bank)
	case reg.EPIntTRFAIL0, reg.EPIntTRFAIL1:
		return c.onBankFail(n, bank)
	case reg.EPIntSTALL0, reg.EPIntSTALL1:
		pkg.LogDebug(pkg.ComponentDispatch, "stall sent", "ep", n, "bank", bank)
		return event{kind: eventStall, ep: n, bank: bank}, true
	}
	return event{}, false
}

// onRXSTP handles a received SETUP. A SETUP aborts whatever the control
// endpoint was doing: both banks return to Idle, stalls are withdrawn and
// the data stage starts at DATA1.
func (c *Controller) onRXSTP(n uint8) (event, bool) {
	e := &c.eps[n]
	if !e.control() {
		pkg.LogWarn(pkg.ComponentDispatch, "SETUP on non-control endpoint", "ep", n)
		return event{}, false
	}

	src := c.cfg.ControlBuffer
	if lease := e.banks[reg.Bank0].lease; lease != nil {
		src = lease
	}
	ev := event{kind: eventSetup, ep: n}
	copy(ev.setup[:], src)

	c.bus.Write8(reg.EP(n, reg.OffsetEPSTATUSCLR), uint8(reg.EPStatusSTALLRQ0|reg.EPStatusSTALLRQ1|reg.EPStatusBK1RDY))
	c.bus.Write8(reg.EP(n, reg.OffsetEPSTATUSSET), uint8(reg.EPStatusDTGLOUT|reg.EPStatusDTGLIN))
	c.idle(n, reg.Bank0)
	c.idle(n, reg.Bank1)
	e.toggle = [2]uint8{1, 1}

	pkg.LogDebug(pkg.ComponentDispatch, "SETUP received", "ep", n, "setup", ev.setup[:])
	return ev, true
}

// onRAMAccessError handles RAMACER. The peripheral cannot say which
// descriptor it failed on, so every endpoint with a bank in hardware
// custody is halted.
func (c *Controller) onRAMAccessError() event {
	var halted uint16
	for n := range c.cfg.MaxEndpoints {
		if !c.eps[n].armed() {
			continue
		}
		c.disable(uint8(n))
		c.eps[n].faulted = true
		halted |= 1 << n
	}
	return event{kind: eventFatal, err: &pkg.DescriptorFault{Endpoints: halted}}
}
