package sim

import (
	"fmt"

	"github.com/ardnew/samusb/device/descriptor"
	"github.com/ardnew/samusb/device/hal"
	"github.com/ardnew/samusb/device/reg"
	"github.com/ardnew/samusb/pkg"
)

// online reports whether the host can see the device.
func (p *Peripheral) online() error {
	if !p.ctrla.Enabled() || p.ctrla&reg.CtrlASWRST != 0 {
		return fmt.Errorf("sim: %w", pkg.ErrNotEnabled)
	}
	if p.ctrlb&reg.CtrlBDETACH != 0 {
		return fmt.Errorf("sim: detached: %w", pkg.ErrNotEnabled)
	}
	return nil
}

// Attached reports whether the peripheral is enabled with its pull-up
// connected.
func (p *Peripheral) Attached() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.online() == nil
}

func (p *Peripheral) device(flag reg.Int, fsm reg.FSMStatus, what string) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if err := p.online(); err != nil {
		return err
	}
	p.intflag |= flag
	if fsm != 0 {
		p.fsm = fsm
	}
	if flag == reg.IntEORST {
		p.status = reg.Status(reg.SpeedConfFull) | reg.Status(reg.LineJ)<<6
	}
	pkg.LogDebug(pkg.ComponentSim, what)
	return nil
}

// BusReset drives a bus reset to completion: FSMSTATUS reads ON at full
// speed and EORST is latched. Device address and endpoint configuration
// are left for software to reinitialize.
func (p *Peripheral) BusReset() error {
	return p.device(reg.IntEORST, reg.FSMOn, "bus reset")
}

// Suspend idles the bus long enough to suspend the device.
func (p *Peripheral) Suspend() error {
	return p.device(reg.IntSUSPEND, reg.FSMSuspend, "suspend")
}

// Wakeup signals downstream resume activity on a suspended bus.
func (p *Peripheral) Wakeup() error {
	return p.device(reg.IntWAKEUP, reg.FSMDnResume, "wakeup")
}

// EndResume completes a resume sequence.
func (p *Peripheral) EndResume() error {
	return p.device(reg.IntEORSM, reg.FSMOn, "end of resume")
}

// LPMSuspend accepts an LPM transaction that puts the link to sleep.
func (p *Peripheral) LPMSuspend() error {
	return p.device(reg.IntLPMSUSP, reg.FSMSleep, "LPM suspend")
}

// LPMNyet answers an LPM transaction with NYET. The FSM does not move.
func (p *Peripheral) LPMNyet() error {
	return p.device(reg.IntLPMNYET, 0, "LPM NYET")
}

// SOF sends a start-of-frame token.
func (p *Peripheral) SOF(frame uint16, crcErr bool) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if err := p.online(); err != nil {
		return err
	}
	p.fnum = reg.NewFNum(frame, crcErr)
	p.intflag |= reg.IntSOF
	return nil
}

// RAMAccessError latches RAMACER as if a DMA access had failed.
func (p *Peripheral) RAMAccessError() {
	p.mutex.Lock()
	p.intflag |= reg.IntRAMACER
	p.mutex.Unlock()
	pkg.LogDebug(pkg.ComponentSim, "RAM access error")
}

// ForceFSM overwrites FSMSTATUS, including with values the hardware never
// produces.
func (p *Peripheral) ForceFSM(v uint8) {
	p.mutex.Lock()
	p.fsm = reg.FSMStatus(v)
	p.mutex.Unlock()
}

// dma resolves the descriptor table and the endpoint block for ep. A table
// outside RAM raises RAMACER.
func (p *Peripheral) dma(ep uint8) (*endpoint, *descriptor.Table, error) {
	if err := p.online(); err != nil {
		return nil, nil, err
	}
	if int(ep) >= reg.MaxEndpoints {
		return nil, nil, fmt.Errorf("sim: ep%d: %w", ep, pkg.ErrInvalidEndpoint)
	}
	e := &p.ep[ep]
	if !e.cfg.Enabled() {
		return nil, nil, fmt.Errorf("sim: ep%d: %w", ep, pkg.ErrEndpointDisabled)
	}
	mem, err := p.ram.Slice(p.descadd, descriptor.Size(int(ep)+1))
	if err != nil {
		p.intflag |= reg.IntRAMACER
		return nil, nil, fmt.Errorf("sim: descriptor table: %w", err)
	}
	t, err := descriptor.New(mem)
	if err != nil {
		return nil, nil, err
	}
	return e, t, nil
}

// buffer resolves n bytes at the address programmed in a bank. A bad
// address raises RAMACER.
func (p *Peripheral) buffer(t *descriptor.Table, ep uint8, bank reg.Bank, n int) ([]byte, error) {
	buf, err := p.ram.Slice(t.Address(ep, bank), n)
	if err != nil {
		p.intflag |= reg.IntRAMACER
		return nil, fmt.Errorf("sim: ep%d bank%d: %w", ep, bank, err)
	}
	return buf, nil
}

// Setup delivers a SETUP packet to control endpoint ep. SETUP is accepted
// regardless of bank 0 ownership or stall state.
func (p *Peripheral) Setup(ep uint8, pkt hal.SetupPacket) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	e, t, err := p.dma(ep)
	if err != nil {
		return err
	}
	if e.cfg.Type0() != reg.EPTypeControl {
		return fmt.Errorf("sim: ep%d is %v: %w", ep, e.cfg.Type0(), pkg.ErrInvalidType)
	}
	buf, err := p.buffer(t, ep, reg.Bank0, hal.SetupPacketSize)
	if err != nil {
		return err
	}
	raw := pkt.Bytes()
	copy(buf, raw[:])
	if err := t.SetByteCount(ep, reg.Bank0, hal.SetupPacketSize); err != nil {
		return err
	}
	e.status |= reg.EPStatusBK0RDY
	e.intflag |= reg.EPIntRXSTP
	pkg.LogDebug(pkg.ComponentSim, "SETUP", "ep", ep, "request", pkt.Request)
	return nil
}

// Out sends data to OUT endpoint ep as one transfer. It returns the bank
// that received it. A stalled bank answers ErrStall and a bank still owned
// by software answers ErrNAK; neither consumes data.
func (p *Peripheral) Out(ep uint8, data []byte) (reg.Bank, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	e, t, err := p.dma(ep)
	if err != nil {
		return 0, err
	}
	bank, ok := e.cfg.OutBank(e.status)
	if !ok {
		return 0, fmt.Errorf("sim: ep%d: %w", ep, pkg.ErrWrongDirection)
	}
	if e.status.Stalled(bank) {
		e.intflag |= reg.StallSent(bank)
		return bank, pkg.ErrStall
	}
	if e.status.Ready(bank) {
		return bank, pkg.ErrNAK
	}

	pck := t.PacketSize(ep, bank)
	limit := int(pck.Size().Bytes())
	if m := pck.MultiPacketSize(); m > 0 {
		limit = int(m)
	}
	if len(data) > limit {
		_ = t.SetStatus(ep, bank, reg.StatusBKERRORFLOW)
		e.intflag |= reg.TransferFail(bank)
		return bank, pkg.ErrErrorFlow
	}
	buf, err := p.buffer(t, ep, bank, len(data))
	if err != nil {
		return bank, err
	}
	copy(buf, data)
	if err := t.SetByteCount(ep, bank, len(data)); err != nil {
		return bank, err
	}

	e.status |= reg.BankReady(bank)
	e.intflag |= reg.TransferComplete(bank)
	p.advance(e, bank, false)
	pkg.LogDebug(pkg.ComponentSim, "OUT", "ep", ep, "bank", bank, "len", len(data))
	return bank, nil
}

// In requests data from IN endpoint ep and returns the armed payload. An
// isochronous endpoint with nothing armed reports an underflow through
// TRFAIL.
func (p *Peripheral) In(ep uint8) ([]byte, reg.Bank, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	e, t, err := p.dma(ep)
	if err != nil {
		return nil, 0, err
	}
	bank, ok := e.cfg.InBank(e.status)
	if !ok {
		return nil, 0, fmt.Errorf("sim: ep%d: %w", ep, pkg.ErrWrongDirection)
	}
	if e.status.Stalled(bank) {
		e.intflag |= reg.StallSent(bank)
		return nil, bank, pkg.ErrStall
	}
	if !e.status.Ready(bank) {
		if e.cfg.Kind(bank) == reg.EPTypeIsochronous {
			_ = t.SetStatus(ep, bank, reg.StatusBKERRORFLOW)
			e.intflag |= reg.TransferFail(bank)
			return nil, bank, pkg.ErrErrorFlow
		}
		return nil, bank, pkg.ErrNAK
	}

	n := int(t.PacketSize(ep, bank).ByteCount())
	buf, err := p.buffer(t, ep, bank, n)
	if err != nil {
		return nil, bank, err
	}
	data := make([]byte, n)
	copy(data, buf)

	e.status &^= reg.BankReady(bank)
	e.intflag |= reg.TransferComplete(bank)
	p.advance(e, bank, true)
	pkg.LogDebug(pkg.ComponentSim, "IN", "ep", ep, "bank", bank, "len", n)
	return data, bank, nil
}

// advance updates toggle and current bank after a completed transaction.
func (p *Peripheral) advance(e *endpoint, bank reg.Bank, in bool) {
	if e.cfg.Kind(bank) != reg.EPTypeIsochronous {
		e.status ^= reg.DataToggle(in)
	}
	if e.cfg.DualBank() {
		e.status ^= reg.EPStatusCURBK
	}
}

// Fail corrupts the next transaction on a bank: STATUS_BK records a CRC
// error or, when crc is false, an overflow/underflow, and TRFAIL is
// latched. Bank ownership is unchanged.
func (p *Peripheral) Fail(ep uint8, bank reg.Bank, crc bool) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	e, t, err := p.dma(ep)
	if err != nil {
		return err
	}
	st := reg.StatusBKERRORFLOW
	if crc {
		st = reg.StatusBKCRCERR
	}
	if err := t.SetStatus(ep, bank, st); err != nil {
		return err
	}
	e.intflag |= reg.TransferFail(bank)
	pkg.LogDebug(pkg.ComponentSim, "transfer fail", "ep", ep, "bank", bank, "crc", crc)
	return nil
}

// Raise latches endpoint interrupt flags without moving data, as a stale
// or spurious event would.
func (p *Peripheral) Raise(ep uint8, flags reg.EPInt) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if int(ep) < reg.MaxEndpoints {
		p.ep[ep].intflag |= flags & reg.EPIntAll
	}
}
