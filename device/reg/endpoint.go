package reg

import "fmt"

// Bank selects one of the two hardware buffer banks of an endpoint.
type Bank uint8

// Bank indices. Bank 0 is OUT-capable and bank 1 IN-capable unless the
// endpoint is configured dual-bank.
const (
	Bank0 Bank = 0
	Bank1 Bank = 1
)

// Other returns the opposite bank.
func (b Bank) Other() Bank { return b ^ 1 }

// EPType is an EPCFG.EPTYPEn value. Its meaning depends on the bank: the
// dual-bank code on EPTYPE0 makes bank 0 a second IN bank, and on EPTYPE1
// makes bank 1 a second OUT bank.
type EPType uint8

// EPTYPE values.
const (
	EPTypeDisabled    EPType = 0
	EPTypeControl     EPType = 1 // CTRLOUT on bank 0, CTRLIN on bank 1
	EPTypeIsochronous EPType = 2
	EPTypeBulk        EPType = 3
	EPTypeInterrupt   EPType = 4
	EPTypeDualBank    EPType = 5 // DBIN on bank 0, DBOUT on bank 1
)

func (t EPType) String() string {
	switch t {
	case EPTypeDisabled:
		return "disabled"
	case EPTypeControl:
		return "control"
	case EPTypeIsochronous:
		return "isochronous"
	case EPTypeBulk:
		return "bulk"
	case EPTypeInterrupt:
		return "interrupt"
	case EPTypeDualBank:
		return "dual-bank"
	default:
		return fmt.Sprintf("EPType(%d)", uint8(t))
	}
}

// ParseEPType returns the type named by s, as produced by String.
func ParseEPType(s string) (EPType, bool) {
	for t := EPTypeDisabled; t <= EPTypeDualBank; t++ {
		if t.String() == s {
			return t, true
		}
	}
	return 0, false
}

// EPCfg is the Endpoint Configuration register.
type EPCfg uint8

// NewEPCfg packs the per-bank type pair.
func NewEPCfg(type0, type1 EPType) EPCfg {
	return EPCfg(type0&0x7) | EPCfg(type1&0x7)<<4
}

// Type0 returns EPTYPE0 (bank 0).
func (c EPCfg) Type0() EPType { return EPType(c & 0x7) }

// Type1 returns EPTYPE1 (bank 1).
func (c EPCfg) Type1() EPType { return EPType(c>>4) & 0x7 }

// Type returns the type configured for bank.
func (c EPCfg) Type(bank Bank) EPType {
	if bank == Bank1 {
		return c.Type1()
	}
	return c.Type0()
}

// EPStatus holds endpoint status bits, shared by EPSTATUS, EPSTATUSCLR and
// EPSTATUSSET.
type EPStatus uint8

// Endpoint status bits.
const (
	EPStatusDTGLOUT  EPStatus = 1 << 0 // Data toggle OUT
	EPStatusDTGLIN   EPStatus = 1 << 1 // Data toggle IN
	EPStatusCURBK    EPStatus = 1 << 2 // Current bank
	EPStatusSTALLRQ0 EPStatus = 1 << 4 // Stall request bank 0
	EPStatusSTALLRQ1 EPStatus = 1 << 5 // Stall request bank 1
	EPStatusBK0RDY   EPStatus = 1 << 6 // Bank 0 ready
	EPStatusBK1RDY   EPStatus = 1 << 7 // Bank 1 ready
)

// BankReady returns the BKnRDY bit for bank.
func BankReady(bank Bank) EPStatus { return EPStatusBK0RDY << (bank & 1) }

// StallRequest returns the STALLRQn bit for bank.
func StallRequest(bank Bank) EPStatus { return EPStatusSTALLRQ0 << (bank & 1) }

// DataToggle returns the toggle bit for a direction.
func DataToggle(in bool) EPStatus {
	if in {
		return EPStatusDTGLIN
	}
	return EPStatusDTGLOUT
}

// Ready reports whether BKnRDY is set for bank.
func (s EPStatus) Ready(bank Bank) bool { return s&BankReady(bank) != 0 }

// Stalled reports whether STALLRQn is set for bank.
func (s EPStatus) Stalled(bank Bank) bool { return s&StallRequest(bank) != 0 }

// CurrentBank returns the bank selected by CURBK.
func (s EPStatus) CurrentBank() Bank {
	if s&EPStatusCURBK != 0 {
		return Bank1
	}
	return Bank0
}

// Enabled reports whether any bank is configured.
func (c EPCfg) Enabled() bool { return c.Type0() != EPTypeDisabled || c.Type1() != EPTypeDisabled }

// DualBank reports whether the endpoint pairs both banks in one direction.
func (c EPCfg) DualBank() bool {
	return c.Type0() == EPTypeDualBank || c.Type1() == EPTypeDualBank
}

// In reports whether bank carries device-to-host traffic. Bank 0 is OUT and
// bank 1 is IN, unless the dual-bank code on a bank's own type moves it to
// the other direction.
func (c EPCfg) In(bank Bank) bool {
	if bank == Bank0 {
		return c.Type0() == EPTypeDualBank
	}
	return c.Type1() != EPTypeDualBank
}

// Kind returns the transfer type governing bank. A dual-bank bank takes the
// type of its partner.
func (c EPCfg) Kind(bank Bank) EPType {
	t := c.Type(bank)
	if t == EPTypeDualBank {
		return c.Type(bank.Other())
	}
	return t
}

// OutBank returns the bank the next OUT transaction lands in, given the
// current status. ok is false when no bank accepts OUT traffic.
func (c EPCfg) OutBank(s EPStatus) (bank Bank, ok bool) {
	switch {
	case c.Type1() == EPTypeDualBank:
		return s.CurrentBank(), c.Type0() != EPTypeDisabled
	case c.Type0() != EPTypeDisabled && c.Type0() != EPTypeDualBank:
		return Bank0, true
	}
	return Bank0, false
}

// InBank returns the bank the next IN transaction is served from, given the
// current status. ok is false when no bank serves IN traffic.
func (c EPCfg) InBank(s EPStatus) (bank Bank, ok bool) {
	switch {
	case c.Type0() == EPTypeDualBank:
		return s.CurrentBank(), c.Type1() != EPTypeDisabled
	case c.Type1() != EPTypeDisabled && c.Type1() != EPTypeDualBank:
		return Bank1, true
	}
	return Bank1, false
}
