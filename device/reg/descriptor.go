package reg

// Endpoint descriptor bank layout in system RAM. Each bank is 16 bytes;
// bank 1 follows bank 0.
const (
	DescADDR     = 0x00 // Data buffer address (u32)
	DescPCKSIZE  = 0x04 // Packet size (u32)
	DescEXTREG   = 0x08 // Extended register, bank 0 only (u16)
	DescSTATUSBK = 0x0A // Status bank (u8)

	DescBankSize     = 0x10
	DescEndpointSize = 2 * DescBankSize
)

// DMAAlign is the buffer alignment required by the peripheral DMA.
const DMAAlign = 4

// SizeCode is the PCKSIZE.SIZE field.
type SizeCode uint8

// SIZE values. Codes above Size64 are valid for isochronous endpoints only.
const (
	Size8    SizeCode = 0
	Size16   SizeCode = 1
	Size32   SizeCode = 2
	Size64   SizeCode = 3
	Size128  SizeCode = 4
	Size256  SizeCode = 5
	Size512  SizeCode = 6
	Size1023 SizeCode = 7
)

var sizeBytes = [8]uint16{8, 16, 32, 64, 128, 256, 512, 1023}

// Bytes returns the buffer size encoded by s.
func (s SizeCode) Bytes() uint16 { return sizeBytes[s&0x7] }

// SizeCodeFor returns the code for an exact max packet size. Sizes that are
// not one of the eight encodable values are rejected.
func SizeCodeFor(maxPacketSize uint16) (SizeCode, bool) {
	for code, n := range sizeBytes {
		if n == maxPacketSize {
			return SizeCode(code), true
		}
	}
	return 0, false
}

// PckSize is the descriptor PCKSIZE word.
type PckSize uint32

const (
	pckByteCountMask  = 0x3FFF
	pckMultiShift     = 14
	pckMultiMask      = 0x3FFF
	pckSizeShift      = 28
	pckSizeMask       = 0x7
	pckAutoZLP        = 1 << 31
	MaxByteCount      = pckByteCountMask
	MaxMultiPacketLen = pckMultiMask
)

// ByteCount returns BYTE_COUNT.
func (p PckSize) ByteCount() uint16 { return uint16(p & pckByteCountMask) }

// MultiPacketSize returns MULTI_PACKET_SIZE.
func (p PckSize) MultiPacketSize() uint16 { return uint16(p>>pckMultiShift) & pckMultiMask }

// Size returns the SIZE code.
func (p PckSize) Size() SizeCode { return SizeCode(p>>pckSizeShift) & pckSizeMask }

// AutoZLP reports whether AUTO_ZLP is set.
func (p PckSize) AutoZLP() bool { return p&pckAutoZLP != 0 }

// WithByteCount returns p with BYTE_COUNT replaced. ok is false if n does
// not fit in 14 bits.
func (p PckSize) WithByteCount(n int) (PckSize, bool) {
	return p&^pckByteCountMask | PckSize(n)&pckByteCountMask, n >= 0 && n <= pckByteCountMask
}

// WithMultiPacketSize returns p with MULTI_PACKET_SIZE replaced. ok is false
// if n does not fit in 14 bits.
func (p PckSize) WithMultiPacketSize(n int) (PckSize, bool) {
	return p&^(pckMultiMask<<pckMultiShift) | (PckSize(n)&pckMultiMask)<<pckMultiShift,
		n >= 0 && n <= pckMultiMask
}

// WithSize returns p with SIZE replaced.
func (p PckSize) WithSize(s SizeCode) PckSize {
	return p&^(pckSizeMask<<pckSizeShift) | PckSize(s&pckSizeMask)<<pckSizeShift
}

// WithAutoZLP returns p with AUTO_ZLP set or cleared.
func (p PckSize) WithAutoZLP(on bool) PckSize {
	if on {
		return p | pckAutoZLP
	}
	return p &^ pckAutoZLP
}

// ExtReg is the descriptor EXTREG half-word carrying the last LPM token.
type ExtReg uint16

// SubPID returns the token sub-PID.
func (e ExtReg) SubPID() uint8 { return uint8(e & 0xF) }

// Variable returns the 11-bit LPM attribute field.
func (e ExtReg) Variable() uint16 { return uint16(e>>4) & 0x7FF }

// StatusBK is the descriptor STATUS_BK byte.
type StatusBK uint8

// STATUS_BK bits.
const (
	StatusBKCRCERR    StatusBK = 1 << 0 // CRC error
	StatusBKERRORFLOW StatusBK = 1 << 1 // Underflow or overflow
)

// CRCError reports whether CRCERR is set.
func (s StatusBK) CRCError() bool { return s&StatusBKCRCERR != 0 }

// ErrorFlow reports whether ERRORFLOW is set.
func (s StatusBK) ErrorFlow() bool { return s&StatusBKERRORFLOW != 0 }
