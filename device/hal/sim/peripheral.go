package sim

import (
	"sync"

	"github.com/ardnew/samusb/device/reg"
	"github.com/ardnew/samusb/pkg"
)

// DefaultSyncLatency is the number of SYNCBUSY reads a synchronized write
// stays busy for.
const DefaultSyncLatency = 2

// Access records one register access.
type Access struct {
	Write  bool
	Offset uintptr
	Width  int // bits
	Value  uint32
}

// Register is one entry of a register dump.
type Register struct {
	Name   string
	Offset uintptr
	Width  int
	Value  uint32
}

type endpoint struct {
	cfg     reg.EPCfg
	status  reg.EPStatus
	intflag reg.EPInt
	inten   reg.EPInt
}

// Peripheral emulates the register file of a SAM D/L USB peripheral in
// device mode, plus the DMA engine that moves packets between the wire and
// descriptor-addressed RAM. It implements hal.Bus.
//
// Host-side traffic is injected with the methods in host.go. Every
// injection latches interrupt flags exactly as the hardware would; the
// device side observes them only through register reads.
type Peripheral struct {
	mutex sync.Mutex
	ram   *RAM

	ctrla    reg.CtrlA
	syncbusy reg.SyncBusy
	qosctrl  reg.QOSCtrl
	ctrlb    reg.CtrlB
	dadd     reg.DAdd
	status   reg.Status
	fsm      reg.FSMStatus
	fnum     reg.FNum
	inten    reg.Int
	intflag  reg.Int
	descadd  uint32
	padcal   reg.PadCal
	ep       [reg.MaxEndpoints]endpoint

	syncLatency int
	syncPending int
	stuck       bool

	trace func(Access)
}

// New returns a peripheral in its reset state whose DMA engine reaches
// ram.
func New(ram *RAM) *Peripheral {
	p := &Peripheral{ram: ram, syncLatency: DefaultSyncLatency}
	p.reset()
	return p
}

func (p *Peripheral) reset() {
	p.ctrla = 0
	p.syncbusy = 0
	p.qosctrl = 0x0F
	p.ctrlb = reg.CtrlBDETACH
	p.dadd = 0
	p.status = 0
	p.fsm = reg.FSMOff
	p.fnum = 0
	p.inten = 0
	p.intflag = 0
	p.descadd = 0
	p.padcal = 0
	p.ep = [reg.MaxEndpoints]endpoint{}
	p.syncPending = 0
}

// SetSyncLatency sets how many SYNCBUSY reads a synchronized write takes.
func (p *Peripheral) SetSyncLatency(reads int) {
	p.mutex.Lock()
	p.syncLatency = reads
	p.mutex.Unlock()
}

// SetStuck makes SYNCBUSY never clear, modelling a peripheral whose clock
// domain has stopped.
func (p *Peripheral) SetStuck(stuck bool) {
	p.mutex.Lock()
	p.stuck = stuck
	p.mutex.Unlock()
}

// SetTrace installs a callback observing every bus access. It is invoked
// with the peripheral lock held and must not call back into p.
func (p *Peripheral) SetTrace(fn func(Access)) {
	p.mutex.Lock()
	p.trace = fn
	p.mutex.Unlock()
}

// Read8 implements hal.Bus.
func (p *Peripheral) Read8(offset uintptr) uint8 { return uint8(p.read(offset, 8)) }

// Read16 implements hal.Bus.
func (p *Peripheral) Read16(offset uintptr) uint16 { return uint16(p.read(offset, 16)) }

// Read32 implements hal.Bus.
func (p *Peripheral) Read32(offset uintptr) uint32 { return p.read(offset, 32) }

// Write8 implements hal.Bus.
func (p *Peripheral) Write8(offset uintptr, v uint8) { p.write(offset, 8, uint32(v)) }

// Write16 implements hal.Bus.
func (p *Peripheral) Write16(offset uintptr, v uint16) { p.write(offset, 16, uint32(v)) }

// Write32 implements hal.Bus.
func (p *Peripheral) Write32(offset uintptr, v uint32) { p.write(offset, 32, v) }

func (p *Peripheral) read(offset uintptr, width int) uint32 {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if offset == reg.OffsetSYNCBUSY {
		p.stepSync()
	}
	v := p.load(offset)
	if p.trace != nil {
		p.trace(Access{Offset: offset, Width: width, Value: v})
	}
	return v
}

// stepSync advances an in-flight synchronization by one read.
func (p *Peripheral) stepSync() {
	if p.syncbusy == 0 || p.stuck {
		return
	}
	if p.syncPending > 0 {
		p.syncPending--
	}
	if p.syncPending == 0 {
		if p.syncbusy&reg.SyncBusySWRST != 0 {
			p.ctrla &^= reg.CtrlASWRST
		}
		p.syncbusy = 0
	}
}

// load returns a register value without side effects.
func (p *Peripheral) load(offset uintptr) uint32 {
	switch offset {
	case reg.OffsetCTRLA:
		return uint32(p.ctrla)
	case reg.OffsetSYNCBUSY:
		return uint32(p.syncbusy)
	case reg.OffsetQOSCTRL:
		return uint32(p.qosctrl)
	case reg.OffsetCTRLB:
		return uint32(p.ctrlb)
	case reg.OffsetDADD:
		return uint32(p.dadd)
	case reg.OffsetSTATUS:
		return uint32(p.status)
	case reg.OffsetFSMSTATUS:
		return uint32(p.fsm)
	case reg.OffsetFNUM:
		return uint32(p.fnum)
	case reg.OffsetINTENCLR, reg.OffsetINTENSET:
		return uint32(p.inten)
	case reg.OffsetINTFLAG:
		return uint32(p.intflag)
	case reg.OffsetEPINTSMRY:
		return uint32(p.summary())
	case reg.OffsetDESCADD:
		return p.descadd
	case reg.OffsetPADCAL:
		return uint32(p.padcal)
	}

	e, r, ok := p.epRegister(offset)
	if !ok {
		pkg.LogWarn(pkg.ComponentSim, "read of unmapped offset", "offset", offset)
		return 0
	}
	switch r {
	case reg.OffsetEPCFG:
		return uint32(e.cfg)
	case reg.OffsetEPSTATUS:
		return uint32(e.status)
	case reg.OffsetEPINTFLAG:
		return uint32(e.intflag)
	case reg.OffsetEPINTENCLR, reg.OffsetEPINTENSET:
		return uint32(e.inten)
	}
	// EPSTATUSCLR and EPSTATUSSET read as zero.
	return 0
}

func (p *Peripheral) write(offset uintptr, width int, v uint32) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.trace != nil {
		p.trace(Access{Write: true, Offset: offset, Width: width, Value: v})
	}

	switch offset {
	case reg.OffsetCTRLA:
		p.writeCtrlA(reg.CtrlA(v))
		return
	case reg.OffsetSYNCBUSY, reg.OffsetSTATUS, reg.OffsetFSMSTATUS,
		reg.OffsetFNUM, reg.OffsetEPINTSMRY:
		pkg.LogWarn(pkg.ComponentSim, "write to read-only register", "reg", reg.Name(offset))
		return
	}

	// Everything past CTRLA is locked while a software reset synchronizes.
	if p.syncbusy&reg.SyncBusySWRST != 0 {
		pkg.LogWarn(pkg.ComponentSim, "write during SWRST ignored", "reg", reg.Name(offset))
		return
	}

	switch offset {
	case reg.OffsetQOSCTRL:
		p.qosctrl = reg.QOSCtrl(v)
	case reg.OffsetCTRLB:
		p.writeCtrlB(reg.CtrlB(v))
	case reg.OffsetDADD:
		p.dadd = reg.DAdd(v)
	case reg.OffsetINTENCLR:
		p.inten &^= reg.Int(v)
	case reg.OffsetINTENSET:
		p.inten |= reg.Int(v)
	case reg.OffsetINTFLAG:
		p.intflag &^= reg.Int(v)
	case reg.OffsetDESCADD:
		p.descadd = v
	case reg.OffsetPADCAL:
		p.padcal = reg.PadCal(v)
	default:
		p.writeEndpoint(offset, uint8(v))
	}
}

func (p *Peripheral) writeCtrlA(v reg.CtrlA) {
	if v&reg.CtrlASWRST != 0 {
		p.reset()
		p.ctrla = reg.CtrlASWRST
		p.startSync(reg.SyncBusySWRST)
		pkg.LogDebug(pkg.ComponentSim, "software reset")
		return
	}
	if p.syncbusy != 0 {
		pkg.LogWarn(pkg.ComponentSim, "CTRLA write while synchronizing ignored")
		return
	}
	if v.Enabled() != p.ctrla.Enabled() {
		p.startSync(reg.SyncBusyENABLE)
	}
	p.ctrla = v
	if !v.Enabled() {
		p.fsm = reg.FSMOff
	}
}

func (p *Peripheral) startSync(bits reg.SyncBusy) {
	p.syncbusy |= bits
	p.syncPending = p.syncLatency
	if p.syncPending == 0 && !p.stuck {
		p.stepSync()
	}
}

func (p *Peripheral) writeCtrlB(v reg.CtrlB) {
	wasDetached := p.ctrlb&reg.CtrlBDETACH != 0
	if v&reg.CtrlBUPRSM != 0 {
		// Hardware clears UPRSM once the resume signalling has gone out.
		v &^= reg.CtrlBUPRSM
		if p.ctrla.Enabled() && (p.fsm == reg.FSMSuspend || p.fsm == reg.FSMSleep) {
			p.fsm = reg.FSMUpResume
			p.intflag |= reg.IntUPRSM
		}
	}
	p.ctrlb = v
	if detached := v&reg.CtrlBDETACH != 0; detached != wasDetached {
		if detached {
			p.fsm = reg.FSMOff
		}
		pkg.LogDebug(pkg.ComponentSim, "pull-up changed", "attached", !detached)
	}
}

func (p *Peripheral) epRegister(offset uintptr) (*endpoint, uintptr, bool) {
	if offset < reg.EndpointBase || offset >= reg.WindowSize {
		return nil, 0, false
	}
	rel := offset - reg.EndpointBase
	r := rel % reg.EndpointStride
	if r > reg.OffsetEPINTENSET || r == 0x01 || r == 0x02 || r == 0x03 {
		return nil, 0, false
	}
	return &p.ep[rel/reg.EndpointStride], r, true
}

func (p *Peripheral) writeEndpoint(offset uintptr, v uint8) {
	e, r, ok := p.epRegister(offset)
	if !ok {
		pkg.LogWarn(pkg.ComponentSim, "write to unmapped offset", "offset", offset)
		return
	}
	switch r {
	case reg.OffsetEPCFG:
		e.cfg = reg.EPCfg(v)
	case reg.OffsetEPSTATUSCLR:
		e.status &^= reg.EPStatus(v)
	case reg.OffsetEPSTATUSSET:
		e.status |= reg.EPStatus(v)
	case reg.OffsetEPSTATUS:
		pkg.LogWarn(pkg.ComponentSim, "write to read-only register", "reg", reg.Name(offset))
	case reg.OffsetEPINTFLAG:
		e.intflag &^= reg.EPInt(v)
	case reg.OffsetEPINTENCLR:
		e.inten &^= reg.EPInt(v)
	case reg.OffsetEPINTENSET:
		e.inten |= reg.EPInt(v)
	}
}

func (p *Peripheral) summary() reg.EPIntSummary {
	var s reg.EPIntSummary
	for n := range p.ep {
		if p.ep[n].intflag&p.ep[n].inten != 0 {
			s |= 1 << n
		}
	}
	return s
}

// Pending reports whether the interrupt line is asserted.
func (p *Peripheral) Pending() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.intflag&p.inten != 0 || p.summary() != 0
}

// Dump returns the common registers followed by the register blocks of the
// first endpoints endpoints. Reading a dump has no side effects.
func (p *Peripheral) Dump(endpoints int) []Register {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	endpoints = min(max(endpoints, 0), reg.MaxEndpoints)
	var out []Register
	for _, l := range reg.Map {
		if l.Offset >= reg.EndpointBase {
			break
		}
		out = append(out, Register{l.Name, l.Offset, l.Width, p.load(l.Offset)})
	}
	for n := 0; n < endpoints; n++ {
		for _, r := range []uintptr{
			reg.OffsetEPCFG, reg.OffsetEPSTATUS, reg.OffsetEPINTFLAG, reg.OffsetEPINTENSET,
		} {
			off := reg.EP(uint8(n), r)
			out = append(out, Register{reg.Name(off), off, 8, p.load(off)})
		}
	}
	return out
}
