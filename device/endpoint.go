package device

import (
	"github.com/ardnew/samusb/device/reg"
	"github.com/ardnew/samusb/pkg"
)

// Data toggle directions.
const (
	dirOut = 0
	dirIn  = 1
)

func direction(in bool) int {
	if in {
		return dirIn
	}
	return dirOut
}

// endpoint is the runtime state of one endpoint.
type endpoint struct {
	cfg           reg.EPCfg
	maxPacketSize uint16
	banks         [2]bankSlot
	toggle        [2]uint8 // indexed by direction
	current       reg.Bank
	faulted       bool
}

func (e *endpoint) control() bool {
	return e.cfg.Type0() == reg.EPTypeControl
}

// armed reports whether hardware holds either bank.
func (e *endpoint) armed() bool {
	return e.banks[0].state == BankArmed || e.banks[1].state == BankArmed
}

// ep0Config remembers how the stack configured endpoint 0 so bus reset can
// restore it.
type ep0Config struct {
	valid         bool
	cfg           reg.EPCfg
	maxPacketSize uint16
}

// EndpointStatus is a snapshot of one endpoint.
type EndpointStatus struct {
	Config        reg.EPCfg
	MaxPacketSize uint16
	Banks         [2]BankState
	Lengths       [2]int
	Toggles       [2]uint8 // OUT, IN
	CurrentBank   reg.Bank
	Faulted       bool
}

// validate checks an endpoint type pair against the peripheral's rules.
func validate(n uint8, type0, type1 reg.EPType, maxPacketSize uint16) error {
	cfgErr := func(err error) error {
		return &pkg.ConfigurationError{Endpoint: n, Err: err}
	}
	if type0 > reg.EPTypeDualBank || type1 > reg.EPTypeDualBank {
		return cfgErr(pkg.ErrInvalidType)
	}
	if type0 == reg.EPTypeDisabled && type1 == reg.EPTypeDisabled {
		return cfgErr(pkg.ErrInvalidType)
	}
	if (type0 == reg.EPTypeControl) != (type1 == reg.EPTypeControl) {
		return cfgErr(pkg.ErrInvalidType)
	}
	if type0 == reg.EPTypeControl && n != 0 {
		return cfgErr(pkg.ErrNotSupported)
	}
	switch {
	case type0 == reg.EPTypeDualBank && type1 == reg.EPTypeDualBank:
		return cfgErr(pkg.ErrInvalidType)
	case type0 == reg.EPTypeDualBank && (type1 == reg.EPTypeDisabled || type1 == reg.EPTypeControl),
		type1 == reg.EPTypeDualBank && (type0 == reg.EPTypeDisabled || type0 == reg.EPTypeControl):
		return cfgErr(pkg.ErrInvalidType)
	}

	if _, ok := reg.SizeCodeFor(maxPacketSize); !ok {
		return cfgErr(pkg.ErrInvalidSize)
	}
	if maxPacketSize > 64 {
		cfg := reg.NewEPCfg(type0, type1)
		for _, b := range [...]reg.Bank{reg.Bank0, reg.Bank1} {
			if cfg.Type(b) != reg.EPTypeDisabled && cfg.Kind(b) != reg.EPTypeIsochronous {
				return cfgErr(pkg.ErrInvalidSize)
			}
		}
	}
	return nil
}

// ConfigureEndpoint enables endpoint n with a type per bank. Any transfer in
// progress on n is discarded. Control endpoints receive SETUP packets in
// Config.ControlBuffer and are only supported as endpoint 0.
func (c *Controller) ConfigureEndpoint(n uint8, type0, type1 reg.EPType, maxPacketSize uint16) error {
	if err := validate(n, type0, type1, maxPacketSize); err != nil {
		return err
	}

	s := c.crit.Enter()
	defer c.crit.Exit(s)

	if err := c.checkEndpoint(n); err != nil {
		return err
	}
	cfg := reg.NewEPCfg(type0, type1)
	if err := c.configure(n, cfg, maxPacketSize); err != nil {
		return err
	}
	if n == 0 {
		c.ep0 = ep0Config{valid: true, cfg: cfg, maxPacketSize: maxPacketSize}
	}
	return nil
}

// DisableEndpoint disables endpoint n. Every bank returns to Idle and
// partial results are discarded.
func (c *Controller) DisableEndpoint(n uint8) error {
	s := c.crit.Enter()
	defer c.crit.Exit(s)

	if err := c.checkEndpoint(n); err != nil {
		return err
	}
	c.disable(n)
	if n == 0 {
		c.ep0 = ep0Config{}
	}
	pkg.LogDebug(pkg.ComponentController, "endpoint disabled", "ep", n)
	return nil
}

func (c *Controller) checkEndpoint(n uint8) error {
	if !c.initialized {
		return pkg.ErrNotEnabled
	}
	if int(n) >= c.cfg.MaxEndpoints {
		return &pkg.ConfigurationError{Endpoint: n, Err: pkg.ErrInvalidEndpoint}
	}
	return nil
}

// bankFor validates an endpoint/bank pair for a custody operation.
func (c *Controller) bankFor(n uint8, bank reg.Bank) (*endpoint, error) {
	if err := c.checkEndpoint(n); err != nil {
		return nil, err
	}
	if bank > reg.Bank1 {
		return nil, &pkg.ConfigurationError{Endpoint: n, Bank: uint8(bank), Err: pkg.ErrInvalidBank}
	}
	e := &c.eps[n]
	if e.faulted {
		return nil, &pkg.ConfigurationError{Endpoint: n, Bank: uint8(bank), Err: pkg.ErrDescriptorFault}
	}
	if e.cfg.Type(bank) == reg.EPTypeDisabled {
		return nil, &pkg.ConfigurationError{Endpoint: n, Bank: uint8(bank), Err: pkg.ErrEndpointDisabled}
	}
	return e, nil
}

// configure programs endpoint n from scratch. Called inside the critical
// section.
func (c *Controller) configure(n uint8, cfg reg.EPCfg, maxPacketSize uint16) error {
	c.disable(n)
	if err := c.table.Reset(n); err != nil {
		return err
	}

	var (
		set  reg.EPStatus
		mask reg.EPInt
	)
	for _, b := range [...]reg.Bank{reg.Bank0, reg.Bank1} {
		if cfg.Type(b) == reg.EPTypeDisabled {
			continue
		}
		if err := c.table.SetPacketSize(n, b, maxPacketSize); err != nil {
			return err
		}
		// Software owns every bank to start with. For an OUT bank that
		// means BKnRDY set, so the host is NAKed until SubmitOut.
		if !cfg.In(b) {
			set |= reg.BankReady(b)
		}
		mask |= reg.TransferComplete(b) | reg.TransferFail(b) | reg.StallSent(b)
	}

	e := &c.eps[n]
	if cfg.Type0() == reg.EPTypeControl {
		if len(c.cfg.ControlBuffer) < int(maxPacketSize) {
			return &pkg.ConfigurationError{Endpoint: n, Err: pkg.ErrBufferTooSmall}
		}
		addr, err := c.mem.Address(c.cfg.ControlBuffer)
		if err != nil {
			return &pkg.ConfigurationError{Endpoint: n, Err: err}
		}
		if err := c.table.Configure(n, reg.Bank0, addr, maxPacketSize, false); err != nil {
			return err
		}
		c.ctrlAddr = addr
		mask |= reg.EPIntRXSTP
	}

	e.cfg = cfg
	e.maxPacketSize = maxPacketSize

	ep := func(r uintptr) uintptr { return reg.EP(n, r) }
	c.bus.Write8(ep(reg.OffsetEPSTATUSCLR), uint8(reg.EPStatusBK0RDY|reg.EPStatusBK1RDY|
		reg.EPStatusSTALLRQ0|reg.EPStatusSTALLRQ1|
		reg.EPStatusDTGLOUT|reg.EPStatusDTGLIN|reg.EPStatusCURBK))
	if set != 0 {
		c.bus.Write8(ep(reg.OffsetEPSTATUSSET), uint8(set))
	}
	c.bus.Write8(ep(reg.OffsetEPINTFLAG), uint8(reg.EPIntAll))
	c.bus.Write8(ep(reg.OffsetEPINTENSET), uint8(mask))
	c.bus.Write8(ep(reg.OffsetEPCFG), uint8(cfg))
	c.epEnabled[n] = mask

	pkg.LogDebug(pkg.ComponentController, "endpoint configured",
		"ep", n,
		"type0", cfg.Type0().String(),
		"type1", cfg.Type1().String(),
		"maxPacketSize", maxPacketSize)
	return nil
}

// disable turns endpoint n off and forgets every lease. Called inside the
// critical section.
func (c *Controller) disable(n uint8) {
	c.bus.Write8(reg.EP(n, reg.OffsetEPCFG), 0)
	c.bus.Write8(reg.EP(n, reg.OffsetEPINTENCLR), uint8(reg.EPIntAll))
	c.bus.Write8(reg.EP(n, reg.OffsetEPINTFLAG), uint8(reg.EPIntAll))
	c.bus.Write8(reg.EP(n, reg.OffsetEPSTATUSCLR), uint8(reg.EPStatusSTALLRQ0|reg.EPStatusSTALLRQ1))
	c.eps[n] = endpoint{}
	c.epEnabled[n] = 0
}

// BankState returns the custody state of a bank. Invalid indices read as
// Idle.
func (c *Controller) BankState(ep uint8, bank reg.Bank) BankState {
	s := c.crit.Enter()
	defer c.crit.Exit(s)
	if int(ep) >= c.cfg.MaxEndpoints || bank > reg.Bank1 {
		return BankIdle
	}
	return c.eps[ep].banks[bank].state
}

// DataToggle returns the software data toggle (0 or 1) for the direction
// bank carries.
func (c *Controller) DataToggle(ep uint8, bank reg.Bank) uint8 {
	s := c.crit.Enter()
	defer c.crit.Exit(s)
	if int(ep) >= c.cfg.MaxEndpoints || bank > reg.Bank1 {
		return 0
	}
	e := &c.eps[ep]
	return e.toggle[direction(e.cfg.In(bank))]
}

// CurrentBank returns the bank a dual-bank endpoint will use next. It is
// always Bank0 for single-bank endpoints.
func (c *Controller) CurrentBank(ep uint8) reg.Bank {
	s := c.crit.Enter()
	defer c.crit.Exit(s)
	if int(ep) >= c.cfg.MaxEndpoints {
		return reg.Bank0
	}
	return c.eps[ep].current
}

// Endpoint returns a snapshot of endpoint n.
func (c *Controller) Endpoint(n uint8) (EndpointStatus, bool) {
	s := c.crit.Enter()
	defer c.crit.Exit(s)
	if int(n) >= c.cfg.MaxEndpoints {
		return EndpointStatus{}, false
	}
	e := &c.eps[n]
	st := EndpointStatus{
		Config:        e.cfg,
		MaxPacketSize: e.maxPacketSize,
		Toggles:       e.toggle,
		CurrentBank:   e.current,
		Faulted:       e.faulted,
	}
	for b := range e.banks {
		st.Banks[b] = e.banks[b].state
		st.Lengths[b] = e.banks[b].length
	}
	return st, true
}

// Endpoints returns the number of endpoints the controller manages.
func (c *Controller) Endpoints() int { return c.cfg.MaxEndpoints }
