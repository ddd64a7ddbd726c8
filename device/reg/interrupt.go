package reg

import "strings"

// Int holds device interrupt bits, shared by INTENCLR, INTENSET and INTFLAG.
type Int uint16

// Device interrupt bits.
const (
	IntSUSPEND Int = 1 << 0 // Suspend
	IntSOF     Int = 1 << 2 // Start of frame
	IntEORST   Int = 1 << 3 // End of reset
	IntWAKEUP  Int = 1 << 4 // Wake-up
	IntEORSM   Int = 1 << 5 // End of resume
	IntUPRSM   Int = 1 << 6 // Upstream resume
	IntRAMACER Int = 1 << 7 // RAM access error
	IntLPMNYET Int = 1 << 8 // Link power management not yet
	IntLPMSUSP Int = 1 << 9 // Link power management suspend
)

// IntOrder is the fixed service order for device interrupt flags. A RAM
// access error outranks everything; a bus reset supersedes the power events
// latched with it.
var IntOrder = [...]Int{
	IntRAMACER,
	IntEORST,
	IntWAKEUP,
	IntEORSM,
	IntUPRSM,
	IntSUSPEND,
	IntLPMSUSP,
	IntLPMNYET,
	IntSOF,
}

// Has reports whether every bit of mask is set.
func (i Int) Has(mask Int) bool { return i&mask == mask }

func (i Int) String() string {
	if i == 0 {
		return "0"
	}
	var names []string
	for _, bit := range IntOrder {
		if i&bit != 0 {
			names = append(names, bit.name())
		}
	}
	return strings.Join(names, "|")
}

func (i Int) name() string {
	switch i {
	case IntSUSPEND:
		return "SUSPEND"
	case IntSOF:
		return "SOF"
	case IntEORST:
		return "EORST"
	case IntWAKEUP:
		return "WAKEUP"
	case IntEORSM:
		return "EORSM"
	case IntUPRSM:
		return "UPRSM"
	case IntRAMACER:
		return "RAMACER"
	case IntLPMNYET:
		return "LPMNYET"
	case IntLPMSUSP:
		return "LPMSUSP"
	}
	return "?"
}

// EPIntSummary is the Endpoint Interrupt Summary register.
type EPIntSummary uint16

// Has reports whether endpoint n has a pending enabled interrupt.
func (s EPIntSummary) Has(n uint8) bool { return s&(1<<n) != 0 }

// EPInt holds endpoint interrupt bits, shared by EPINTFLAG, EPINTENCLR and
// EPINTENSET.
type EPInt uint8

// Endpoint interrupt bits.
const (
	EPIntTRCPT0  EPInt = 1 << 0 // Transfer complete bank 0
	EPIntTRCPT1  EPInt = 1 << 1 // Transfer complete bank 1
	EPIntTRFAIL0 EPInt = 1 << 2 // Transfer fail bank 0
	EPIntTRFAIL1 EPInt = 1 << 3 // Transfer fail bank 1
	EPIntRXSTP   EPInt = 1 << 4 // Received SETUP
	EPIntSTALL0  EPInt = 1 << 5 // Stall sent bank 0
	EPIntSTALL1  EPInt = 1 << 6 // Stall sent bank 1

	EPIntAll EPInt = 0x7F
)

// EPIntOrder is the fixed service order for endpoint interrupt flags. A new
// SETUP supersedes any completion latched alongside it.
var EPIntOrder = [...]EPInt{
	EPIntRXSTP,
	EPIntTRCPT0,
	EPIntTRCPT1,
	EPIntTRFAIL0,
	EPIntTRFAIL1,
	EPIntSTALL0,
	EPIntSTALL1,
}

// TransferComplete returns the TRCPT bit for bank.
func TransferComplete(bank Bank) EPInt { return EPIntTRCPT0 << (bank & 1) }

// TransferFail returns the TRFAIL bit for bank.
func TransferFail(bank Bank) EPInt { return EPIntTRFAIL0 << (bank & 1) }

// StallSent returns the STALL bit for bank.
func StallSent(bank Bank) EPInt { return EPIntSTALL0 << (bank & 1) }

// Bank returns the bank a per-bank flag refers to. RXSTP belongs to bank 0.
func (e EPInt) Bank() Bank {
	if e&(EPIntTRCPT1|EPIntTRFAIL1|EPIntSTALL1) != 0 {
		return Bank1
	}
	return Bank0
}

func (e EPInt) String() string {
	if e == 0 {
		return "0"
	}
	var names []string
	for _, bit := range EPIntOrder {
		if e&bit != 0 {
			names = append(names, bit.name())
		}
	}
	return strings.Join(names, "|")
}

func (e EPInt) name() string {
	switch e {
	case EPIntTRCPT0:
		return "TRCPT0"
	case EPIntTRCPT1:
		return "TRCPT1"
	case EPIntTRFAIL0:
		return "TRFAIL0"
	case EPIntTRFAIL1:
		return "TRFAIL1"
	case EPIntRXSTP:
		return "RXSTP"
	case EPIntSTALL0:
		return "STALL0"
	case EPIntSTALL1:
		return "STALL1"
	}
	return "?"
}
