package render

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/ardnew/samusb/device"
	"github.com/ardnew/samusb/device/hal"
	"github.com/ardnew/samusb/device/hal/sim"
	"github.com/ardnew/samusb/device/reg"
	"github.com/ardnew/samusb/internal/scenario"
)

func contains(t *testing.T, out string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(out, w) {
			t.Errorf("output missing %q:\n%s", w, out)
		}
	}
}

func TestPrinterNotTTY(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf)
	if p.TTY() {
		t.Error("TTY() = true for a buffer")
	}
	if err := p.Events([]scenario.Event{{Step: 1, Kind: scenario.KindState, EP: -1, Bank: -1, Detail: "On"}}); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "\x1b[") {
		t.Errorf("escape sequences written to a non-terminal:\n%q", buf.String())
	}
}

func TestEvents(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf)
	err := p.Events([]scenario.Event{
		{Step: 1, Kind: scenario.KindState, EP: -1, Bank: -1, Detail: "On"},
		{Step: 4, Kind: scenario.KindComplete, EP: 2, Bank: 1, Detail: "n=64"},
	})
	if err != nil {
		t.Fatal(err)
	}
	contains(t, buf.String(), "step", "event", "detail", "state", "On", "complete", "n=64")

	buf.Reset()
	if err := p.Events(nil); err != nil {
		t.Fatal(err)
	}
	contains(t, buf.String(), "no events")
}

func TestEndpoints(t *testing.T) {
	var buf bytes.Buffer
	rows := []scenario.EndpointRow{
		{Number: 0, EndpointStatus: device.EndpointStatus{
			Config:        reg.NewEPCfg(reg.EPTypeControl, reg.EPTypeControl),
			MaxPacketSize: 64,
		}},
		{Number: 3, EndpointStatus: device.EndpointStatus{
			Config:        reg.NewEPCfg(reg.EPTypeIsochronous, reg.EPTypeDualBank),
			MaxPacketSize: 1023,
			Banks:         [2]device.BankState{device.BankArmed, device.BankComplete},
			Lengths:       [2]int{0, 188},
			CurrentBank:   reg.Bank1,
			Faulted:       true,
		}},
	}
	if err := New(&buf).Endpoints(rows); err != nil {
		t.Fatal(err)
	}
	contains(t, buf.String(), "control", "isochronous", "dual-bank", "1023", "Armed", "Complete", "0/188", "halted")
}

func TestRegisters(t *testing.T) {
	var buf bytes.Buffer
	p := sim.New(sim.NewRAM(64))
	if err := New(&buf).Registers(p.Dump(1)); err != nil {
		t.Fatal(err)
	}
	contains(t, buf.String(), "CTRLB", "0x008", "0x0001", "EPCFG0", "0x100", "QOSCTRL", "0x0F")
}

func TestLayout(t *testing.T) {
	var buf bytes.Buffer
	if err := New(&buf).Layout(2); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	contains(t, out, "PADCAL", "0x028", "EPINTENSET1", "0x129")
	if strings.Contains(out, "EPCFG2") {
		t.Error("Layout(2) printed endpoint 2")
	}
}

func TestSummary(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf)
	dev := device.Device{State: device.StateOn, Address: 5, AddressEnabled: true, Speed: hal.SpeedFull, Frame: 12}
	if err := p.Summary("cdc", dev, nil); err != nil {
		t.Fatal(err)
	}
	contains(t, buf.String(), "cdc", "On", "address 5", "frame 12", "PASS")

	buf.Reset()
	if err := p.Summary("cdc", device.Device{}, errors.New("boom")); err != nil {
		t.Fatal(err)
	}
	contains(t, buf.String(), "Off", "address -", "FAIL")
}
