package device

import (
	"fmt"

	"github.com/ardnew/samusb/device/reg"
	"github.com/ardnew/samusb/pkg"
)

// BankState is the custody state of one endpoint bank.
type BankState uint8

// Bank states.
const (
	BankIdle     BankState = iota // Software owns the bank; nothing armed
	BankArmed                     // Hardware owns the bank and its buffer
	BankComplete                  // Transfer finished; payload awaits Drain
	BankStalled                   // Bank answers STALL
)

func (s BankState) String() string {
	switch s {
	case BankIdle:
		return "Idle"
	case BankArmed:
		return "Armed"
	case BankComplete:
		return "Complete"
	case BankStalled:
		return "Stalled"
	default:
		return fmt.Sprintf("BankState(%d)", uint8(s))
	}
}

// bankSlot tracks custody of one hardware bank. lease is the buffer handed
// to hardware while Armed, retained while Complete until Drain returns it.
type bankSlot struct {
	state  BankState
	lease  []byte
	length int
}

// SubmitOut hands buf to hardware to receive the next OUT transfer on a
// bank. buf must hold at least one max packet; a longer buffer is armed as
// a multi-packet transfer of whole packets. The bank must be Idle.
func (c *Controller) SubmitOut(ep uint8, bank reg.Bank, buf []byte) error {
	s := c.crit.Enter()
	defer c.crit.Exit(s)

	e, err := c.bankFor(ep, bank)
	if err != nil {
		return err
	}
	if e.cfg.In(bank) {
		return &pkg.ConfigurationError{Endpoint: ep, Bank: uint8(bank), Err: pkg.ErrWrongDirection}
	}
	b := &e.banks[bank]
	if b.state != BankIdle {
		return fmt.Errorf("ep%d bank%d %v: %w", ep, bank, b.state, pkg.ErrBankBusy)
	}
	mps := int(e.maxPacketSize)
	if len(buf) < mps {
		return &pkg.ConfigurationError{Endpoint: ep, Bank: uint8(bank), Err: pkg.ErrBufferTooSmall}
	}
	addr, err := c.mem.Address(buf)
	if err != nil {
		return &pkg.ConfigurationError{Endpoint: ep, Bank: uint8(bank), Err: err}
	}
	if err := c.table.Configure(ep, bank, addr, e.maxPacketSize, false); err != nil {
		return err
	}
	if multi := min(len(buf), reg.MaxMultiPacketLen) / mps * mps; multi > mps {
		if err := c.table.SetMultiPacketSize(ep, bank, multi); err != nil {
			return err
		}
	}

	b.state = BankArmed
	b.lease = buf
	b.length = 0
	c.bus.Write8(reg.EP(ep, reg.OffsetEPSTATUSCLR), uint8(reg.BankReady(bank)))

	pkg.LogDebug(pkg.ComponentBank, "OUT armed", "ep", ep, "bank", bank, "len", len(buf))
	return nil
}

// SubmitIn hands the first length bytes of buf to hardware for the next IN
// transfer on a bank. With zlp set and length a non-zero multiple of the
// max packet size, hardware terminates the transfer with a zero-length
// packet. The bank must be Idle.
func (c *Controller) SubmitIn(ep uint8, bank reg.Bank, buf []byte, length int, zlp bool) error {
	s := c.crit.Enter()
	defer c.crit.Exit(s)

	e, err := c.bankFor(ep, bank)
	if err != nil {
		return err
	}
	if !e.cfg.In(bank) {
		return &pkg.ConfigurationError{Endpoint: ep, Bank: uint8(bank), Err: pkg.ErrWrongDirection}
	}
	b := &e.banks[bank]
	if b.state != BankIdle {
		return fmt.Errorf("ep%d bank%d %v: %w", ep, bank, b.state, pkg.ErrBankBusy)
	}
	if length < 0 || length > len(buf) {
		return &pkg.ConfigurationError{Endpoint: ep, Bank: uint8(bank), Err: pkg.ErrBufferTooSmall}
	}
	if length > reg.MaxByteCount {
		return &pkg.ConfigurationError{Endpoint: ep, Bank: uint8(bank), Err: pkg.ErrInvalidSize}
	}
	if len(buf) == 0 {
		// A bare zero-length packet still needs a valid DMA address.
		buf = c.cfg.ControlBuffer
		if len(buf) == 0 {
			return &pkg.ConfigurationError{Endpoint: ep, Bank: uint8(bank), Err: pkg.ErrBufferTooSmall}
		}
	}
	addr, err := c.mem.Address(buf)
	if err != nil {
		return &pkg.ConfigurationError{Endpoint: ep, Bank: uint8(bank), Err: err}
	}
	mps := int(e.maxPacketSize)
	autoZLP := zlp && length > 0 && length%mps == 0
	if err := c.table.Configure(ep, bank, addr, e.maxPacketSize, autoZLP); err != nil {
		return err
	}
	if err := c.table.SetByteCount(ep, bank, length); err != nil {
		return err
	}

	b.state = BankArmed
	b.lease = buf
	b.length = length
	c.bus.Write8(reg.EP(ep, reg.OffsetEPSTATUSSET), uint8(reg.BankReady(bank)))

	pkg.LogDebug(pkg.ComponentBank, "IN armed", "ep", ep, "bank", bank, "len", length, "autoZLP", autoZLP)
	return nil
}

// Drain returns custody of a Complete bank to software. The result is the
// armed buffer trimmed to the bytes transferred.
func (c *Controller) Drain(ep uint8, bank reg.Bank) ([]byte, error) {
	s := c.crit.Enter()
	defer c.crit.Exit(s)

	e, err := c.bankFor(ep, bank)
	if err != nil {
		return nil, err
	}
	b := &e.banks[bank]
	if b.state != BankComplete {
		return nil, fmt.Errorf("ep%d bank%d %v: %w", ep, bank, b.state, pkg.ErrNotComplete)
	}
	data := b.lease[:b.length]
	c.idle(ep, bank)
	return data, nil
}

// SetStall requests or withdraws a STALL handshake on a bank. Only an Idle
// bank can be stalled; clearing a stall returns the bank to Idle and resets
// its data toggle to DATA0.
func (c *Controller) SetStall(ep uint8, bank reg.Bank, enabled bool) error {
	s := c.crit.Enter()
	defer c.crit.Exit(s)

	e, err := c.bankFor(ep, bank)
	if err != nil {
		return err
	}
	b := &e.banks[bank]
	switch {
	case enabled && b.state == BankStalled, !enabled && b.state == BankIdle:
		return nil
	case enabled && b.state == BankIdle:
		c.bus.Write8(reg.EP(ep, reg.OffsetEPSTATUSSET), uint8(reg.StallRequest(bank)))
		b.state = BankStalled
		pkg.LogDebug(pkg.ComponentBank, "stalled", "ep", ep, "bank", bank)
		return nil
	case !enabled && b.state == BankStalled:
		in := e.cfg.In(bank)
		c.bus.Write8(reg.EP(ep, reg.OffsetEPSTATUSCLR), uint8(reg.StallRequest(bank)|reg.DataToggle(in)))
		e.toggle[direction(in)] = 0
		b.state = BankIdle
		pkg.LogDebug(pkg.ComponentBank, "stall cleared", "ep", ep, "bank", bank)
		return nil
	}
	return fmt.Errorf("ep%d bank%d %v: %w", ep, bank, b.state, pkg.ErrBankBusy)
}

// idle returns a bank to Idle and drops its lease. Bank 0 of a control
// endpoint is pointed back at the SETUP buffer so the next SETUP lands
// there.
func (c *Controller) idle(ep uint8, bank reg.Bank) {
	e := &c.eps[ep]
	e.banks[bank] = bankSlot{}
	if bank == reg.Bank0 && e.control() {
		if err := c.table.Configure(ep, reg.Bank0, c.ctrlAddr, e.maxPacketSize, false); err != nil {
			pkg.LogError(pkg.ComponentBank, "SETUP buffer restore failed", "ep", ep, "error", err)
		}
	}
}

// onBankComplete handles TRCPT for a bank.
func (c *Controller) onBankComplete(ep uint8, bank reg.Bank) (event, bool) {
	e := &c.eps[ep]
	b := &e.banks[bank]
	if b.state != BankArmed {
		pkg.LogWarn(pkg.ComponentBank, "completion rejected",
			"ep", ep, "bank", bank, "state", b.state.String(),
			"error", pkg.ErrUnexpectedCompletion)
		return event{}, false
	}

	in := e.cfg.In(bank)
	n := b.length
	if !in {
		res, err := c.table.ReadTransferResult(ep, bank)
		if err != nil {
			return event{kind: eventFatal, err: err}, true
		}
		n = min(int(res.ByteCount), len(b.lease))
	}
	b.state = BankComplete
	b.length = n

	if e.cfg.Kind(bank) != reg.EPTypeIsochronous {
		e.toggle[direction(in)] ^= 1
	}
	if e.cfg.DualBank() {
		e.current = bank.Other()
	}

	pkg.LogDebug(pkg.ComponentBank, "transfer complete", "ep", ep, "bank", bank, "len", n)
	return event{kind: eventComplete, ep: ep, bank: bank, n: n}, true
}

// onBankFail handles TRFAIL for a bank. An armed bank returns to software
// with its lease discarded. The engine never resubmits.
func (c *Controller) onBankFail(ep uint8, bank reg.Bank) (event, bool) {
	e := &c.eps[ep]
	b := &e.banks[bank]

	res, err := c.table.ReadTransferResult(ep, bank)
	if err != nil {
		return event{kind: eventFatal, err: err}, true
	}
	cause := res.Err()
	if cause == nil {
		cause = pkg.ErrErrorFlow
	}
	_ = c.table.ClearStatus(ep, bank)

	if b.state == BankArmed {
		if e.cfg.In(bank) {
			c.bus.Write8(reg.EP(ep, reg.OffsetEPSTATUSCLR), uint8(reg.BankReady(bank)))
		} else {
			c.bus.Write8(reg.EP(ep, reg.OffsetEPSTATUSSET), uint8(reg.BankReady(bank)))
		}
		c.idle(ep, bank)
	}

	terr := &pkg.TransferError{
		Endpoint:  ep,
		Bank:      uint8(bank),
		Err:       cause,
		Retryable: e.cfg.Kind(bank) != reg.EPTypeIsochronous,
	}
	pkg.LogWarn(pkg.ComponentBank, "transfer failed", "ep", ep, "bank", bank, "error", terr)
	return event{kind: eventError, ep: ep, bank: bank, err: terr}, true
}
