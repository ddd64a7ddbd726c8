package reg

import "fmt"

// CtrlA is the Control A register.
type CtrlA uint8

// CTRLA bits.
const (
	CtrlASWRST   CtrlA = 1 << 0 // Software reset
	CtrlAENABLE  CtrlA = 1 << 1 // Enable
	CtrlARUNSTBY CtrlA = 1 << 2 // Run in standby
	CtrlAMODE    CtrlA = 1 << 7 // Operating mode: 0 = device, 1 = host
)

// Enabled reports whether ENABLE is set.
func (c CtrlA) Enabled() bool { return c&CtrlAENABLE != 0 }

// HostMode reports whether MODE selects host operation.
func (c CtrlA) HostMode() bool { return c&CtrlAMODE != 0 }

// SyncBusy is the Synchronization Busy register.
type SyncBusy uint8

// SYNCBUSY bits.
const (
	SyncBusySWRST  SyncBusy = 1 << 0 // Software reset synchronizing
	SyncBusyENABLE SyncBusy = 1 << 1 // Enable synchronizing
	SyncBusyAll             = SyncBusySWRST | SyncBusyENABLE
)

// QOSCtrl is the QOS Control register.
type QOSCtrl uint8

const (
	qosCQOSShift = 0
	qosDQOSShift = 2
	qosMask      = 0x3
)

// CQOS returns the configuration quality of service.
func (q QOSCtrl) CQOS() uint8 { return uint8(q>>qosCQOSShift) & qosMask }

// DQOS returns the data quality of service.
func (q QOSCtrl) DQOS() uint8 { return uint8(q>>qosDQOSShift) & qosMask }

// WithCQOS returns q with CQOS replaced. ok is false if n exceeds 2 bits.
func (q QOSCtrl) WithCQOS(n uint8) (QOSCtrl, bool) {
	q = q&^(qosMask<<qosCQOSShift) | QOSCtrl(n&qosMask)<<qosCQOSShift
	return q, n <= qosMask
}

// WithDQOS returns q with DQOS replaced. ok is false if n exceeds 2 bits.
func (q QOSCtrl) WithDQOS(n uint8) (QOSCtrl, bool) {
	q = q&^(qosMask<<qosDQOSShift) | QOSCtrl(n&qosMask)<<qosDQOSShift
	return q, n <= qosMask
}

// FSMStatus is the Finite State Machine Status register. Exactly one bit is
// set in every defined state.
type FSMStatus uint8

// FSMSTATUS values.
const (
	FSMOff      FSMStatus = 0x01 // Powered-off, disconnected or disabled
	FSMOn       FSMStatus = 0x02 // Idle and Active
	FSMSuspend  FSMStatus = 0x04 // Suspend
	FSMSleep    FSMStatus = 0x08 // LPM sleep
	FSMDnResume FSMStatus = 0x10 // Downstream resume
	FSMUpResume FSMStatus = 0x20 // Upstream resume
	FSMReset    FSMStatus = 0x40 // USB lines reset

	FSMMask FSMStatus = 0x7F
)

// Valid reports whether s is one of the seven defined states.
func (s FSMStatus) Valid() bool {
	switch s {
	case FSMOff, FSMOn, FSMSuspend, FSMSleep, FSMDnResume, FSMUpResume, FSMReset:
		return true
	}
	return false
}

func (s FSMStatus) String() string {
	switch s {
	case FSMOff:
		return "OFF"
	case FSMOn:
		return "ON"
	case FSMSuspend:
		return "SUSPEND"
	case FSMSleep:
		return "SLEEP"
	case FSMDnResume:
		return "DNRESUME"
	case FSMUpResume:
		return "UPRESUME"
	case FSMReset:
		return "RESET"
	default:
		return fmt.Sprintf("FSM(0x%02X)", uint8(s))
	}
}

// PadCal is the Pad Calibration register.
type PadCal uint16

const (
	padTranspShift = 0
	padTranspMask  = 0x1F
	padTransnShift = 6
	padTransnMask  = 0x1F
	padTrimShift   = 12
	padTrimMask    = 0x7
)

// NewPadCal packs the three trim fields. It returns an error naming the
// first field that does not fit.
func NewPadCal(transp, transn, trim uint8) (PadCal, error) {
	switch {
	case transp > padTranspMask:
		return 0, fmt.Errorf("PADCAL.TRANSP %d exceeds %d", transp, padTranspMask)
	case transn > padTransnMask:
		return 0, fmt.Errorf("PADCAL.TRANSN %d exceeds %d", transn, padTransnMask)
	case trim > padTrimMask:
		return 0, fmt.Errorf("PADCAL.TRIM %d exceeds %d", trim, padTrimMask)
	}
	return PadCal(transp)<<padTranspShift |
		PadCal(transn)<<padTransnShift |
		PadCal(trim)<<padTrimShift, nil
}

// Transp returns the P-side output driver impedance trim.
func (p PadCal) Transp() uint8 { return uint8(p>>padTranspShift) & padTranspMask }

// Transn returns the N-side output driver impedance trim.
func (p PadCal) Transn() uint8 { return uint8(p>>padTransnShift) & padTransnMask }

// Trim returns the DP/DM trim.
func (p PadCal) Trim() uint8 { return uint8(p>>padTrimShift) & padTrimMask }

// CtrlB is the device Control B register.
type CtrlB uint16

// CTRLB bits.
const (
	CtrlBDETACH CtrlB = 1 << 0 // Detach
	CtrlBUPRSM  CtrlB = 1 << 1 // Upstream resume
	CtrlBNREPLY CtrlB = 1 << 4 // No reply except SETUP
	CtrlBGNAK   CtrlB = 1 << 9 // Global NAK
)

// SpeedConf is the CTRLB.SPDCONF field.
type SpeedConf uint8

// SPDCONF values.
const (
	SpeedConfLow  SpeedConf = 0
	SpeedConfFull SpeedConf = 1
)

// LPMHandshake is the CTRLB.LPMHDSK field.
type LPMHandshake uint8

// LPMHDSK values.
const (
	LPMNone LPMHandshake = 0 // LPM not supported
	LPMAck  LPMHandshake = 1
	LPMNyet LPMHandshake = 2
)

const (
	ctrlbSpdShift = 2
	ctrlbSpdMask  = 0x3
	ctrlbLPMShift = 10
	ctrlbLPMMask  = 0x3
)

// Speed returns the configured speed.
func (c CtrlB) Speed() SpeedConf { return SpeedConf(c>>ctrlbSpdShift) & ctrlbSpdMask }

// WithSpeed returns c with SPDCONF replaced.
func (c CtrlB) WithSpeed(s SpeedConf) CtrlB {
	return c&^(ctrlbSpdMask<<ctrlbSpdShift) | CtrlB(s&ctrlbSpdMask)<<ctrlbSpdShift
}

// LPM returns the link power management handshake.
func (c CtrlB) LPM() LPMHandshake { return LPMHandshake(c>>ctrlbLPMShift) & ctrlbLPMMask }

// WithLPM returns c with LPMHDSK replaced.
func (c CtrlB) WithLPM(h LPMHandshake) CtrlB {
	return c&^(ctrlbLPMMask<<ctrlbLPMShift) | CtrlB(h&ctrlbLPMMask)<<ctrlbLPMShift
}

// DAdd is the Device Address register.
type DAdd uint8

// DADD fields.
const (
	DAddMask  DAdd = 0x7F
	DAddADDEN DAdd = 1 << 7 // Address enable
)

// NewDAdd returns an enabled address value. ok is false when addr does not
// fit in 7 bits.
func NewDAdd(addr uint8) (DAdd, bool) {
	return DAdd(addr)&DAddMask | DAddADDEN, addr <= uint8(DAddMask)
}

// Address returns the 7-bit device address.
func (d DAdd) Address() uint8 { return uint8(d & DAddMask) }

// Enabled reports whether ADDEN is set.
func (d DAdd) Enabled() bool { return d&DAddADDEN != 0 }

// Status is the device Status register.
type Status uint8

// LineState is the STATUS.LINESTATE field.
type LineState uint8

// LINESTATE values.
const (
	LineSE0 LineState = 0 // SE0 / reset
	LineJ   LineState = 1 // LS-J or FS-K
	LineK   LineState = 2 // LS-K or FS-J
)

// Speed returns the negotiated speed.
func (s Status) Speed() SpeedConf { return SpeedConf(s & 0x3) }

// LineState returns the USB line state.
func (s Status) LineState() LineState { return LineState(s>>6) & 0x3 }

// FNum is the device Frame Number register.
type FNum uint16

// FNUM fields.
const (
	FNumFNCERR FNum = 1 << 15 // Frame number CRC error
)

// MicroFrame returns the micro-frame number.
func (f FNum) MicroFrame() uint8 { return uint8(f & 0x7) }

// Frame returns the 11-bit frame number.
func (f FNum) Frame() uint16 { return uint16(f>>3) & 0x7FF }

// CRCError reports whether the last frame number had a CRC error.
func (f FNum) CRCError() bool { return f&FNumFNCERR != 0 }

// NewFNum packs a frame number for the simulated peripheral.
func NewFNum(frame uint16, crcErr bool) FNum {
	f := FNum(frame&0x7FF) << 3
	if crcErr {
		f |= FNumFNCERR
	}
	return f
}
