package reg

import "testing"

func TestEP(t *testing.T) {
	tests := []struct {
		n      uint8
		offset uintptr
		want   uintptr
	}{
		{0, OffsetEPCFG, 0x100},
		{0, OffsetEPINTFLAG, 0x107},
		{1, OffsetEPSTATUS, 0x126},
		{3, OffsetEPSTATUSSET, 0x165},
		{7, OffsetEPINTENSET, 0x1E9},
	}
	for _, tt := range tests {
		if got := EP(tt.n, tt.offset); got != tt.want {
			t.Errorf("EP(%d, 0x%X) = 0x%X, want 0x%X", tt.n, tt.offset, got, tt.want)
		}
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		offset uintptr
		want   string
	}{
		{OffsetCTRLA, "CTRLA"},
		{OffsetFSMSTATUS, "FSMSTATUS"},
		{OffsetPADCAL, "PADCAL"},
		{EP(0, OffsetEPCFG), "EPCFG0"},
		{EP(5, OffsetEPINTFLAG), "EPINTFLAG5"},
		{0x0001, ""},
		{EP(2, 0x0A), ""},
		{WindowSize, ""},
	}
	for _, tt := range tests {
		if got := Name(tt.offset); got != tt.want {
			t.Errorf("Name(0x%X) = %q, want %q", tt.offset, got, tt.want)
		}
	}
}

func TestMapOrdered(t *testing.T) {
	for i := 1; i < len(Map); i++ {
		if Map[i].Offset <= Map[i-1].Offset {
			t.Errorf("Map[%d] %s at 0x%X not after %s", i, Map[i].Name, Map[i].Offset, Map[i-1].Name)
		}
		if Name(Map[i].Offset) != Map[i].Name {
			t.Errorf("Name(Map[%d].Offset) = %q, want %q", i, Name(Map[i].Offset), Map[i].Name)
		}
	}
}

func TestFSMStatusValid(t *testing.T) {
	valid := 0
	for v := 0; v < 256; v++ {
		if FSMStatus(v).Valid() {
			valid++
		}
	}
	if valid != 7 {
		t.Errorf("valid FSMSTATUS codes = %d, want 7", valid)
	}
	for _, s := range []FSMStatus{0x00, 0x03, 0x80, 0x41} {
		if s.Valid() {
			t.Errorf("FSMStatus(0x%02X).Valid() = true, want false", uint8(s))
		}
	}
}

func TestPadCal(t *testing.T) {
	p, err := NewPadCal(0x1F, 0x05, 0x7)
	if err != nil {
		t.Fatalf("NewPadCal() error = %v", err)
	}
	if p.Transp() != 0x1F || p.Transn() != 0x05 || p.Trim() != 0x7 {
		t.Errorf("PadCal fields = %d/%d/%d, want 31/5/7", p.Transp(), p.Transn(), p.Trim())
	}
	if _, err := NewPadCal(0x20, 0, 0); err == nil {
		t.Error("NewPadCal(TRANSP=32) should fail")
	}
	if _, err := NewPadCal(0, 0, 8); err == nil {
		t.Error("NewPadCal(TRIM=8) should fail")
	}
}

func TestCtrlBFields(t *testing.T) {
	c := CtrlBDETACH.WithSpeed(SpeedConfFull).WithLPM(LPMNyet)
	if c.Speed() != SpeedConfFull {
		t.Errorf("Speed() = %d, want %d", c.Speed(), SpeedConfFull)
	}
	if c.LPM() != LPMNyet {
		t.Errorf("LPM() = %d, want %d", c.LPM(), LPMNyet)
	}
	if c&CtrlBDETACH == 0 {
		t.Error("DETACH lost by field setters")
	}
	c = c.WithSpeed(SpeedConfLow)
	if c.Speed() != SpeedConfLow || c.LPM() != LPMNyet {
		t.Errorf("WithSpeed clobbered neighbours: 0x%04X", uint16(c))
	}
}

func TestDAdd(t *testing.T) {
	d, ok := NewDAdd(0x05)
	if !ok || d.Address() != 0x05 || !d.Enabled() {
		t.Errorf("NewDAdd(5) = 0x%02X, %v", uint8(d), ok)
	}
	if _, ok := NewDAdd(0x80); ok {
		t.Error("NewDAdd(0x80) ok = true, want false")
	}
}

func TestQOSCtrl(t *testing.T) {
	q, ok := QOSCtrl(0).WithCQOS(2)
	if !ok {
		t.Fatal("WithCQOS(2) rejected")
	}
	q, ok = q.WithDQOS(3)
	if !ok || q.CQOS() != 2 || q.DQOS() != 3 {
		t.Errorf("QOSCtrl = 0x%02X", uint8(q))
	}
	if _, ok := q.WithDQOS(4); ok {
		t.Error("WithDQOS(4) ok = true, want false")
	}
}

func TestFNum(t *testing.T) {
	f := NewFNum(0x7FF, true)
	if f.Frame() != 0x7FF || !f.CRCError() || f.MicroFrame() != 0 {
		t.Errorf("FNum = 0x%04X", uint16(f))
	}
	if NewFNum(0x801, false).Frame() != 1 {
		t.Error("NewFNum should wrap at 11 bits")
	}
}

func TestEPCfg(t *testing.T) {
	c := NewEPCfg(EPTypeDualBank, EPTypeBulk)
	if c.Type0() != EPTypeDualBank || c.Type1() != EPTypeBulk {
		t.Errorf("EPCfg types = %v/%v", c.Type0(), c.Type1())
	}
	if c.Type(Bank1) != EPTypeBulk {
		t.Errorf("Type(Bank1) = %v, want bulk", c.Type(Bank1))
	}
	if uint8(c) != 0x35 {
		t.Errorf("EPCfg = 0x%02X, want 0x35", uint8(c))
	}
}

func TestParseEPType(t *testing.T) {
	for ty := EPTypeDisabled; ty <= EPTypeDualBank; ty++ {
		got, ok := ParseEPType(ty.String())
		if !ok || got != ty {
			t.Errorf("ParseEPType(%q) = %v, %v", ty.String(), got, ok)
		}
	}
	if _, ok := ParseEPType("ctrl"); ok {
		t.Error(`ParseEPType("ctrl") ok = true`)
	}
}

func TestEPStatusBankBits(t *testing.T) {
	if BankReady(Bank0) != EPStatusBK0RDY || BankReady(Bank1) != EPStatusBK1RDY {
		t.Error("BankReady mapping wrong")
	}
	if StallRequest(Bank1) != EPStatusSTALLRQ1 {
		t.Error("StallRequest(Bank1) mapping wrong")
	}
	s := EPStatusCURBK | EPStatusSTALLRQ0 | EPStatusBK1RDY
	if s.CurrentBank() != Bank1 || !s.Stalled(Bank0) || s.Stalled(Bank1) || !s.Ready(Bank1) {
		t.Errorf("EPStatus 0x%02X decoded wrong", uint8(s))
	}
}

func TestEPIntBank(t *testing.T) {
	tests := []struct {
		flag EPInt
		want Bank
	}{
		{EPIntTRCPT0, Bank0},
		{EPIntTRCPT1, Bank1},
		{EPIntTRFAIL1, Bank1},
		{EPIntRXSTP, Bank0},
		{EPIntSTALL1, Bank1},
	}
	for _, tt := range tests {
		if got := tt.flag.Bank(); got != tt.want {
			t.Errorf("%v.Bank() = %d, want %d", tt.flag, got, tt.want)
		}
	}
	if TransferFail(Bank1) != EPIntTRFAIL1 || StallSent(Bank0) != EPIntSTALL0 {
		t.Error("per-bank flag helpers wrong")
	}
}

func TestIntString(t *testing.T) {
	if got := (IntEORST | IntRAMACER).String(); got != "RAMACER|EORST" {
		t.Errorf("String() = %q, want RAMACER|EORST", got)
	}
	if got := (EPIntTRCPT0 | EPIntRXSTP).String(); got != "RXSTP|TRCPT0" {
		t.Errorf("String() = %q, want RXSTP|TRCPT0", got)
	}
}

func TestSizeCodeFor(t *testing.T) {
	for code, n := range []uint16{8, 16, 32, 64, 128, 256, 512, 1023} {
		got, ok := SizeCodeFor(n)
		if !ok || got != SizeCode(code) || got.Bytes() != n {
			t.Errorf("SizeCodeFor(%d) = %d, %v", n, got, ok)
		}
	}
	for _, n := range []uint16{0, 7, 9, 63, 65, 1024} {
		if _, ok := SizeCodeFor(n); ok {
			t.Errorf("SizeCodeFor(%d) ok = true, want false", n)
		}
	}
}

func TestPckSize(t *testing.T) {
	p, ok := PckSize(0).WithSize(Size64).WithAutoZLP(true).WithByteCount(64)
	if !ok {
		t.Fatal("WithByteCount(64) rejected")
	}
	p, ok = p.WithMultiPacketSize(512)
	if !ok {
		t.Fatal("WithMultiPacketSize(512) rejected")
	}
	if p.ByteCount() != 64 || p.MultiPacketSize() != 512 || p.Size() != Size64 || !p.AutoZLP() {
		t.Errorf("PckSize 0x%08X decoded wrong", uint32(p))
	}
	if _, ok := p.WithByteCount(MaxByteCount + 1); ok {
		t.Error("WithByteCount(overflow) ok = true")
	}
	if p.WithAutoZLP(false).AutoZLP() {
		t.Error("WithAutoZLP(false) left bit set")
	}
}

func TestStatusBKAndExtReg(t *testing.T) {
	s := StatusBKERRORFLOW
	if s.CRCError() || !s.ErrorFlow() {
		t.Errorf("StatusBK 0x%02X decoded wrong", uint8(s))
	}
	e := ExtReg(0x7FF<<4 | 0x3)
	if e.SubPID() != 3 || e.Variable() != 0x7FF {
		t.Errorf("ExtReg 0x%04X decoded wrong", uint16(e))
	}
}

func TestEPCfgDirections(t *testing.T) {
	tests := []struct {
		name            string
		cfg             EPCfg
		in0, in1        bool
		kind0, kind1    EPType
		outOK, inOK     bool
		outBank, inBank Bank
	}{
		{"control", NewEPCfg(EPTypeControl, EPTypeControl), false, true, EPTypeControl, EPTypeControl, true, true, Bank0, Bank1},
		{"bulk out only", NewEPCfg(EPTypeBulk, EPTypeDisabled), false, true, EPTypeBulk, EPTypeDisabled, true, false, Bank0, Bank1},
		{"dual in", NewEPCfg(EPTypeDualBank, EPTypeBulk), true, true, EPTypeBulk, EPTypeBulk, false, true, Bank0, Bank1},
		{"dual out iso", NewEPCfg(EPTypeIsochronous, EPTypeDualBank), false, false, EPTypeIsochronous, EPTypeIsochronous, true, false, Bank1, Bank1},
	}
	status := EPStatusCURBK
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.cfg.In(Bank0) != tt.in0 || tt.cfg.In(Bank1) != tt.in1 {
				t.Errorf("In() = %v/%v, want %v/%v", tt.cfg.In(Bank0), tt.cfg.In(Bank1), tt.in0, tt.in1)
			}
			if tt.cfg.Kind(Bank0) != tt.kind0 || tt.cfg.Kind(Bank1) != tt.kind1 {
				t.Errorf("Kind() = %v/%v, want %v/%v", tt.cfg.Kind(Bank0), tt.cfg.Kind(Bank1), tt.kind0, tt.kind1)
			}
			if b, ok := tt.cfg.OutBank(status); ok != tt.outOK || (ok && b != tt.outBank) {
				t.Errorf("OutBank() = %d, %v, want %d, %v", b, ok, tt.outBank, tt.outOK)
			}
			if b, ok := tt.cfg.InBank(status); ok != tt.inOK || (ok && b != tt.inBank) {
				t.Errorf("InBank() = %d, %v, want %d, %v", b, ok, tt.inBank, tt.inOK)
			}
		})
	}
}
