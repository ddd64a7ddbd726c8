package reg

// Common register offsets relative to the USB peripheral base.
const (
	OffsetCTRLA     uintptr = 0x0000 // Control A
	OffsetSYNCBUSY  uintptr = 0x0002 // Synchronization Busy
	OffsetQOSCTRL   uintptr = 0x0003 // QOS Control
	OffsetCTRLB     uintptr = 0x0008 // Control B
	OffsetDADD      uintptr = 0x000A // Device Address
	OffsetSTATUS    uintptr = 0x000C // Status
	OffsetFSMSTATUS uintptr = 0x000D // Finite State Machine Status
	OffsetFNUM      uintptr = 0x0010 // Device Frame Number
	OffsetINTENCLR  uintptr = 0x0014 // Device Interrupt Enable Clear
	OffsetINTENSET  uintptr = 0x0018 // Device Interrupt Enable Set
	OffsetINTFLAG   uintptr = 0x001C // Device Interrupt Flag
	OffsetEPINTSMRY uintptr = 0x0020 // Endpoint Interrupt Summary
	OffsetDESCADD   uintptr = 0x0024 // Descriptor Address
	OffsetPADCAL    uintptr = 0x0028 // Pad Calibration
)

// Endpoint register offsets relative to the endpoint n block.
const (
	OffsetEPCFG       uintptr = 0x00 // Endpoint Configuration
	OffsetEPSTATUSCLR uintptr = 0x04 // Endpoint Status Clear
	OffsetEPSTATUSSET uintptr = 0x05 // Endpoint Status Set
	OffsetEPSTATUS    uintptr = 0x06 // Endpoint Status
	OffsetEPINTFLAG   uintptr = 0x07 // Endpoint Interrupt Flag
	OffsetEPINTENCLR  uintptr = 0x08 // Endpoint Interrupt Enable Clear
	OffsetEPINTENSET  uintptr = 0x09 // Endpoint Interrupt Enable Set
)

// Endpoint register block layout.
const (
	EndpointBase   uintptr = 0x0100
	EndpointStride uintptr = 0x20
)

// MaxEndpoints is the number of endpoint register blocks on the SAM D/L
// USB peripheral.
const MaxEndpoints = 8

// WindowSize is the span of the register window in bytes.
const WindowSize = EndpointBase + MaxEndpoints*EndpointStride

// EP returns the peripheral-relative offset of an endpoint register.
func EP(n uint8, offset uintptr) uintptr {
	return EndpointBase + uintptr(n)*EndpointStride + offset
}

// Name returns the register mnemonic at a peripheral-relative offset, or ""
// when nothing is mapped there.
func Name(offset uintptr) string {
	switch offset {
	case OffsetCTRLA:
		return "CTRLA"
	case OffsetSYNCBUSY:
		return "SYNCBUSY"
	case OffsetQOSCTRL:
		return "QOSCTRL"
	case OffsetCTRLB:
		return "CTRLB"
	case OffsetDADD:
		return "DADD"
	case OffsetSTATUS:
		return "STATUS"
	case OffsetFSMSTATUS:
		return "FSMSTATUS"
	case OffsetFNUM:
		return "FNUM"
	case OffsetINTENCLR:
		return "INTENCLR"
	case OffsetINTENSET:
		return "INTENSET"
	case OffsetINTFLAG:
		return "INTFLAG"
	case OffsetEPINTSMRY:
		return "EPINTSMRY"
	case OffsetDESCADD:
		return "DESCADD"
	case OffsetPADCAL:
		return "PADCAL"
	}
	if offset < EndpointBase || offset >= WindowSize {
		return ""
	}
	n := (offset - EndpointBase) / EndpointStride
	var name string
	switch (offset - EndpointBase) % EndpointStride {
	case OffsetEPCFG:
		name = "EPCFG"
	case OffsetEPSTATUSCLR:
		name = "EPSTATUSCLR"
	case OffsetEPSTATUSSET:
		name = "EPSTATUSSET"
	case OffsetEPSTATUS:
		name = "EPSTATUS"
	case OffsetEPINTFLAG:
		name = "EPINTFLAG"
	case OffsetEPINTENCLR:
		name = "EPINTENCLR"
	case OffsetEPINTENSET:
		name = "EPINTENSET"
	default:
		return ""
	}
	return name + string(rune('0'+n))
}

// Layout describes one entry of the register map.
type Layout struct {
	Name   string
	Offset uintptr
	Width  int // bits
}

// Map lists the common and device registers in offset order, followed by
// the register block of endpoint 0.
var Map = []Layout{
	{"CTRLA", OffsetCTRLA, 8},
	{"SYNCBUSY", OffsetSYNCBUSY, 8},
	{"QOSCTRL", OffsetQOSCTRL, 8},
	{"CTRLB", OffsetCTRLB, 16},
	{"DADD", OffsetDADD, 8},
	{"STATUS", OffsetSTATUS, 8},
	{"FSMSTATUS", OffsetFSMSTATUS, 8},
	{"FNUM", OffsetFNUM, 16},
	{"INTENCLR", OffsetINTENCLR, 16},
	{"INTENSET", OffsetINTENSET, 16},
	{"INTFLAG", OffsetINTFLAG, 16},
	{"EPINTSMRY", OffsetEPINTSMRY, 16},
	{"DESCADD", OffsetDESCADD, 32},
	{"PADCAL", OffsetPADCAL, 16},
	{"EPCFG0", EP(0, OffsetEPCFG), 8},
	{"EPSTATUSCLR0", EP(0, OffsetEPSTATUSCLR), 8},
	{"EPSTATUSSET0", EP(0, OffsetEPSTATUSSET), 8},
	{"EPSTATUS0", EP(0, OffsetEPSTATUS), 8},
	{"EPINTFLAG0", EP(0, OffsetEPINTFLAG), 8},
	{"EPINTENCLR0", EP(0, OffsetEPINTENCLR), 8},
	{"EPINTENSET0", EP(0, OffsetEPINTENSET), 8},
}
