// Package descriptor manages the endpoint descriptor table shared between
// software and the SAM USB peripheral.
//
// Each endpoint owns two 16-byte banks laid out little endian:
//
//	0x00  ADDR       u32  buffer bus address, word aligned
//	0x04  PCKSIZE    u32  byte count, multi-packet size, SIZE, AUTO_ZLP
//	0x08  EXTREG     u16  LPM token (bank 0 only)
//	0x0A  STATUS_BK  u8   CRC error, error flow
//
// Software writes ADDR and PCKSIZE before handing a bank to hardware and
// reads the result only after the completion interrupt. The table never
// serves as a completion indicator.
package descriptor
