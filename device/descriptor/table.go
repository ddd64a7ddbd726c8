package descriptor

import (
	"encoding/binary"

	"github.com/ardnew/samusb/device/reg"
	"github.com/ardnew/samusb/pkg"
)

// Size returns the number of bytes a table for n endpoints occupies.
func Size(endpoints int) int {
	return endpoints * reg.DescEndpointSize
}

// Table is the endpoint descriptor table the peripheral reads through
// DESCADD. It wraps caller-provided memory; the caller is responsible for
// placing that memory where the DMA engine can reach it.
//
// Table does no locking. The controller serializes access.
type Table struct {
	mem []byte
	n   int
}

// New wraps mem as a descriptor table. mem must hold at least one endpoint
// and a whole number of endpoint entries.
func New(mem []byte) (*Table, error) {
	if len(mem) < reg.DescEndpointSize || len(mem)%reg.DescEndpointSize != 0 {
		return nil, &pkg.ConfigurationError{Err: pkg.ErrBufferTooSmall}
	}
	return &Table{mem: mem, n: len(mem) / reg.DescEndpointSize}, nil
}

// Endpoints returns the number of endpoint entries.
func (t *Table) Endpoints() int { return t.n }

// Bytes returns the backing memory.
func (t *Table) Bytes() []byte { return t.mem }

func (t *Table) bank(ep uint8, bank reg.Bank) ([]byte, error) {
	if int(ep) >= t.n {
		return nil, &pkg.ConfigurationError{Endpoint: ep, Bank: uint8(bank), Err: pkg.ErrInvalidEndpoint}
	}
	if bank > reg.Bank1 {
		return nil, &pkg.ConfigurationError{Endpoint: ep, Bank: uint8(bank), Err: pkg.ErrInvalidBank}
	}
	off := int(ep)*reg.DescEndpointSize + int(bank)*reg.DescBankSize
	return t.mem[off : off+reg.DescBankSize], nil
}

// Reset zeroes both banks of ep.
func (t *Table) Reset(ep uint8) error {
	if _, err := t.bank(ep, reg.Bank0); err != nil {
		return err
	}
	off := int(ep) * reg.DescEndpointSize
	clear(t.mem[off : off+reg.DescEndpointSize])
	return nil
}

// Configure points a bank at a buffer and sets its packet size. The byte
// count and multi-packet size are cleared.
func (t *Table) Configure(ep uint8, bank reg.Bank, address uint32, maxPacketSize uint16, autoZLP bool) error {
	b, err := t.bank(ep, bank)
	if err != nil {
		return err
	}
	code, ok := reg.SizeCodeFor(maxPacketSize)
	if !ok {
		return &pkg.ConfigurationError{Endpoint: ep, Bank: uint8(bank), Err: pkg.ErrInvalidSize}
	}
	if address == 0 || address%reg.DMAAlign != 0 {
		return &pkg.ConfigurationError{Endpoint: ep, Bank: uint8(bank), Err: pkg.ErrUnaligned}
	}

	pck := reg.PckSize(0).WithSize(code).WithAutoZLP(autoZLP)
	binary.LittleEndian.PutUint32(b[reg.DescADDR:], address)
	binary.LittleEndian.PutUint32(b[reg.DescPCKSIZE:], uint32(pck))

	pkg.LogDebug(pkg.ComponentDescriptor, "bank configured",
		"ep", ep, "bank", bank, "addr", address, "size", maxPacketSize, "autoZLP", autoZLP)
	return nil
}

// SetPacketSize writes the SIZE code of a bank without touching its
// address.
func (t *Table) SetPacketSize(ep uint8, bank reg.Bank, maxPacketSize uint16) error {
	b, err := t.bank(ep, bank)
	if err != nil {
		return err
	}
	code, ok := reg.SizeCodeFor(maxPacketSize)
	if !ok {
		return &pkg.ConfigurationError{Endpoint: ep, Bank: uint8(bank), Err: pkg.ErrInvalidSize}
	}
	pck := reg.PckSize(binary.LittleEndian.Uint32(b[reg.DescPCKSIZE:])).WithSize(code)
	binary.LittleEndian.PutUint32(b[reg.DescPCKSIZE:], uint32(pck))
	return nil
}

func (t *Table) updatePckSize(ep uint8, bank reg.Bank, f func(reg.PckSize) (reg.PckSize, bool)) error {
	b, err := t.bank(ep, bank)
	if err != nil {
		return err
	}
	pck, ok := f(reg.PckSize(binary.LittleEndian.Uint32(b[reg.DescPCKSIZE:])))
	if !ok {
		return &pkg.ConfigurationError{Endpoint: ep, Bank: uint8(bank), Err: pkg.ErrInvalidSize}
	}
	binary.LittleEndian.PutUint32(b[reg.DescPCKSIZE:], uint32(pck))
	return nil
}

// SetByteCount writes BYTE_COUNT.
func (t *Table) SetByteCount(ep uint8, bank reg.Bank, n int) error {
	return t.updatePckSize(ep, bank, func(p reg.PckSize) (reg.PckSize, bool) {
		return p.WithByteCount(n)
	})
}

// SetMultiPacketSize writes MULTI_PACKET_SIZE.
func (t *Table) SetMultiPacketSize(ep uint8, bank reg.Bank, n int) error {
	return t.updatePckSize(ep, bank, func(p reg.PckSize) (reg.PckSize, bool) {
		return p.WithMultiPacketSize(n)
	})
}

// SetAutoZLP sets or clears AUTO_ZLP.
func (t *Table) SetAutoZLP(ep uint8, bank reg.Bank, on bool) error {
	return t.updatePckSize(ep, bank, func(p reg.PckSize) (reg.PckSize, bool) {
		return p.WithAutoZLP(on), true
	})
}

// Address returns the buffer address of a bank, or 0 for invalid indices.
func (t *Table) Address(ep uint8, bank reg.Bank) uint32 {
	b, err := t.bank(ep, bank)
	if err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b[reg.DescADDR:])
}

// PacketSize returns the raw PCKSIZE word of a bank, or 0 for invalid
// indices.
func (t *Table) PacketSize(ep uint8, bank reg.Bank) reg.PckSize {
	b, err := t.bank(ep, bank)
	if err != nil {
		return 0
	}
	return reg.PckSize(binary.LittleEndian.Uint32(b[reg.DescPCKSIZE:]))
}

// Status returns STATUS_BK of a bank, or 0 for invalid indices.
func (t *Table) Status(ep uint8, bank reg.Bank) reg.StatusBK {
	b, err := t.bank(ep, bank)
	if err != nil {
		return 0
	}
	return reg.StatusBK(b[reg.DescSTATUSBK])
}

// SetStatus writes STATUS_BK. Only the peripheral sets these bits; the
// simulator uses this to report link errors.
func (t *Table) SetStatus(ep uint8, bank reg.Bank, s reg.StatusBK) error {
	b, err := t.bank(ep, bank)
	if err != nil {
		return err
	}
	b[reg.DescSTATUSBK] = byte(s)
	return nil
}

// ClearStatus zeroes STATUS_BK.
func (t *Table) ClearStatus(ep uint8, bank reg.Bank) error {
	return t.SetStatus(ep, bank, 0)
}

// ExtReg returns the last LPM token captured in bank 0 of ep.
func (t *Table) ExtReg(ep uint8) reg.ExtReg {
	b, err := t.bank(ep, reg.Bank0)
	if err != nil {
		return 0
	}
	return reg.ExtReg(binary.LittleEndian.Uint16(b[reg.DescEXTREG:]))
}

// Result is the outcome of a finished transfer on one bank.
type Result struct {
	ByteCount       uint16
	MultiPacketSize uint16
	CRCError        bool
	ErrorFlow       bool
}

// Err returns the link error recorded in the result, CRC first.
func (r Result) Err() error {
	switch {
	case r.CRCError:
		return pkg.ErrCRC
	case r.ErrorFlow:
		return pkg.ErrErrorFlow
	}
	return nil
}

// ReadTransferResult returns the counts and error flags of a bank. Call it
// only after the dispatcher has observed TRCPT or TRFAIL for the bank; the
// fields are not meaningful while hardware owns the bank.
func (t *Table) ReadTransferResult(ep uint8, bank reg.Bank) (Result, error) {
	b, err := t.bank(ep, bank)
	if err != nil {
		return Result{}, err
	}
	pck := reg.PckSize(binary.LittleEndian.Uint32(b[reg.DescPCKSIZE:]))
	st := reg.StatusBK(b[reg.DescSTATUSBK])
	return Result{
		ByteCount:       pck.ByteCount(),
		MultiPacketSize: pck.MultiPacketSize(),
		CRCError:        st.CRCError(),
		ErrorFlow:       st.ErrorFlow(),
	}, nil
}
