package device

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ardnew/samusb/device/descriptor"
	"github.com/ardnew/samusb/device/hal"
	"github.com/ardnew/samusb/device/hal/sim"
	"github.com/ardnew/samusb/device/reg"
	"github.com/ardnew/samusb/pkg"
)

// harness wires a Controller to a simulated peripheral and records every
// callback as a line of text.
type harness struct {
	t      *testing.T
	ram    *sim.RAM
	p      *sim.Peripheral
	table  *descriptor.Table
	ctrl   *Controller
	events []string
}

func alloc(t *testing.T, ram *sim.RAM, n int) []byte {
	t.Helper()
	buf, err := ram.Alloc(n)
	if err != nil {
		t.Fatalf("Alloc(%d) error = %v", n, err)
	}
	return buf
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	return newHarnessControl(t, cfg, 64)
}

// newHarnessControl is newHarness with a control buffer of ctrlSize bytes
// carved from the simulated RAM.
func newHarnessControl(t *testing.T, cfg Config, ctrlSize int) *harness {
	t.Helper()
	ram := sim.NewRAM(32 << 10)
	h := &harness{t: t, ram: ram, p: sim.New(ram)}

	tbl, err := descriptor.New(alloc(t, ram, descriptor.Size(reg.MaxEndpoints)))
	if err != nil {
		t.Fatal(err)
	}
	h.table = tbl
	cfg.ControlBuffer = alloc(t, ram, ctrlSize)
	h.ctrl = New(h.p, ram, cfg)
	if err := h.ctrl.Initialize(context.Background(), tbl); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	h.record()
	return h
}

func (h *harness) record() {
	add := func(format string, args ...any) {
		h.events = append(h.events, fmt.Sprintf(format, args...))
	}
	h.ctrl.SetOnSetup(func(ep uint8, setup [8]byte) {
		add("setup ep%d %x", ep, setup[:])
	})
	h.ctrl.SetOnTransferComplete(func(ep uint8, bank reg.Bank, n int) {
		add("complete ep%d bank%d n=%d", ep, bank, n)
	})
	h.ctrl.SetOnTransferError(func(ep uint8, bank reg.Bank, err error) {
		var te *pkg.TransferError
		if errors.As(err, &te) {
			add("error ep%d bank%d %v retryable=%t", ep, bank, te.Err, te.Retryable)
			return
		}
		add("error ep%d bank%d %v", ep, bank, err)
	})
	h.ctrl.SetOnStall(func(ep uint8, bank reg.Bank) {
		add("stall ep%d bank%d", ep, bank)
	})
	h.ctrl.SetOnDeviceStateChanged(func(s State) {
		add("state %v", s)
	})
	h.ctrl.SetOnFatalFault(func(err error) {
		add("fatal %v", err)
	})
}

// online configures endpoint 0, attaches and completes a bus reset.
func (h *harness) online() {
	h.t.Helper()
	if err := h.ctrl.ConfigureEndpoint(0, reg.EPTypeControl, reg.EPTypeControl, 64); err != nil {
		h.t.Fatalf("ConfigureEndpoint(0) error = %v", err)
	}
	if err := h.ctrl.Attach(); err != nil {
		h.t.Fatal(err)
	}
	if err := h.p.BusReset(); err != nil {
		h.t.Fatal(err)
	}
	h.dispatch(1)
	h.expect("state On")
}

func (h *harness) configure(n uint8, type0, type1 reg.EPType, mps uint16) {
	h.t.Helper()
	if err := h.ctrl.ConfigureEndpoint(n, type0, type1, mps); err != nil {
		h.t.Fatalf("ConfigureEndpoint(%d, %v, %v, %d) error = %v", n, type0, type1, mps, err)
	}
}

func (h *harness) dispatch(want int) {
	h.t.Helper()
	if got := h.ctrl.Dispatch(); got != want {
		h.t.Errorf("Dispatch() = %d, want %d", got, want)
	}
}

// expect compares and resets the recorded events.
func (h *harness) expect(want ...string) {
	h.t.Helper()
	if diff := cmp.Diff(want, h.events); diff != "" {
		h.t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	h.events = nil
}

func (h *harness) epStatus(n uint8) reg.EPStatus {
	return reg.EPStatus(h.p.Read8(reg.EP(n, reg.OffsetEPSTATUS)))
}

func TestConfigDefaults(t *testing.T) {
	c := New(nil, nil, Config{MaxEndpoints: 20})
	cfg := c.Config()
	if cfg.MaxEndpoints != reg.MaxEndpoints {
		t.Errorf("MaxEndpoints = %d, want %d", cfg.MaxEndpoints, reg.MaxEndpoints)
	}
	if cfg.SyncTimeout != DefaultSyncTimeout {
		t.Errorf("SyncTimeout = %v, want %v", cfg.SyncTimeout, DefaultSyncTimeout)
	}
	if cfg.Critical == nil {
		t.Error("Critical not defaulted")
	}
	if c.Endpoints() != reg.MaxEndpoints {
		t.Errorf("Endpoints() = %d", c.Endpoints())
	}
}

func TestInitialize(t *testing.T) {
	padcal, err := reg.NewPadCal(29, 5, 3)
	if err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, Config{PadCal: padcal, LPM: reg.LPMAck})

	descAddr, _ := h.ram.Address(h.table.Bytes())
	ctrlb := reg.CtrlB(h.p.Read16(reg.OffsetCTRLB))

	tests := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"CTRLA", uint32(h.p.Read8(reg.OffsetCTRLA)), uint32(reg.CtrlAENABLE)},
		{"PADCAL", uint32(h.p.Read16(reg.OffsetPADCAL)), uint32(padcal)},
		{"DESCADD", h.p.Read32(reg.OffsetDESCADD), descAddr},
		{"INTENSET", uint32(h.p.Read16(reg.OffsetINTENSET)), uint32(deviceInts)},
		{"CTRLB.DETACH", uint32(ctrlb & reg.CtrlBDETACH), uint32(reg.CtrlBDETACH)},
		{"CTRLB.SPDCONF", uint32(ctrlb.Speed()), uint32(reg.SpeedConfFull)},
		{"CTRLB.LPMHDSK", uint32(ctrlb.LPM()), uint32(reg.LPMAck)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = 0x%X, want 0x%X", tt.name, tt.got, tt.want)
			}
		})
	}

	if s := h.ctrl.State(); s != StateOff {
		t.Errorf("State() = %v, want Off", s)
	}
	if h.p.Attached() {
		t.Error("peripheral attached before Attach")
	}
}

func TestInitializeErrors(t *testing.T) {
	ram := sim.NewRAM(4096)
	p := sim.New(ram)
	c := New(p, ram, Config{})

	small, err := descriptor.New(alloc(t, ram, descriptor.Size(2)))
	if err != nil {
		t.Fatal(err)
	}
	var cfgErr *pkg.ConfigurationError
	if err := c.Initialize(context.Background(), small); !errors.As(err, &cfgErr) {
		t.Errorf("Initialize(2-endpoint table) error = %v, want ConfigurationError", err)
	}
	if err := c.Initialize(context.Background(), nil); !errors.Is(err, pkg.ErrBufferTooSmall) {
		t.Errorf("Initialize(nil) error = %v, want ErrBufferTooSmall", err)
	}

	foreign, _ := descriptor.New(make([]byte, descriptor.Size(reg.MaxEndpoints)))
	if err := c.Initialize(context.Background(), foreign); !errors.Is(err, pkg.ErrInvalidAddress) {
		t.Errorf("Initialize(foreign table) error = %v, want ErrInvalidAddress", err)
	}
}

func TestInitializeSyncTimeout(t *testing.T) {
	ram := sim.NewRAM(4096)
	p := sim.New(ram)
	p.SetStuck(true)
	tbl, _ := descriptor.New(alloc(t, ram, descriptor.Size(reg.MaxEndpoints)))

	c := New(p, ram, Config{SyncTimeout: time.Millisecond})
	start := time.Now()
	err := c.Initialize(context.Background(), tbl)
	if !errors.Is(err, pkg.ErrSyncTimeout) {
		t.Fatalf("Initialize() error = %v, want ErrSyncTimeout", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("sync wait took %v", time.Since(start))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Initialize(ctx, tbl); !errors.Is(err, context.Canceled) {
		t.Errorf("Initialize(canceled) error = %v, want context.Canceled", err)
	}

	if err := c.SubmitOut(0, reg.Bank0, make([]byte, 64)); !errors.Is(err, pkg.ErrNotEnabled) {
		t.Errorf("SubmitOut after failed Initialize error = %v, want ErrNotEnabled", err)
	}
}

func TestWaitSyncDoesNotAllocate(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	allocs := testing.AllocsPerRun(100, func() {
		if err := h.ctrl.waitSync(ctx, reg.SyncBusyAll); err != nil {
			t.Fatal(err)
		}
	})
	if allocs != 0 {
		t.Errorf("waitSync allocated %v times per call", allocs)
	}
}

func TestNotInitialized(t *testing.T) {
	c := New(sim.New(sim.NewRAM(64)), sim.NewRAM(64), Config{})
	tests := []struct {
		name string
		err  error
	}{
		{"ConfigureEndpoint", c.ConfigureEndpoint(0, reg.EPTypeControl, reg.EPTypeControl, 64)},
		{"DisableEndpoint", c.DisableEndpoint(0)},
		{"SetAddress", c.SetAddress(1)},
		{"Attach", c.Attach()},
		{"Detach", c.Detach()},
		{"RemoteWakeup", c.RemoteWakeup()},
		{"SetStall", c.SetStall(0, reg.Bank0, true)},
		{"Reset", c.Reset(context.Background())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, pkg.ErrNotEnabled) {
				t.Errorf("%s error = %v, want ErrNotEnabled", tt.name, tt.err)
			}
		})
	}
	if _, _, err := c.Poll(); !errors.Is(err, pkg.ErrNotEnabled) {
		t.Errorf("Poll error = %v, want ErrNotEnabled", err)
	}
	if n := c.Dispatch(); n != 0 {
		t.Errorf("Dispatch() = %d, want 0", n)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestCloseAndReset(t *testing.T) {
	h := newHarness(t, Config{})
	h.online()
	h.configure(1, reg.EPTypeBulk, reg.EPTypeDisabled, 64)
	if err := h.ctrl.SubmitOut(1, reg.Bank0, alloc(t, h.ram, 64)); err != nil {
		t.Fatal(err)
	}

	if err := h.ctrl.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	h.expect("state Off")
	if v := h.p.Read8(reg.OffsetCTRLA); v != 0 {
		t.Errorf("CTRLA after Close = 0x%02X, want 0", v)
	}
	if s := h.ctrl.BankState(1, reg.Bank0); s != BankIdle {
		t.Errorf("BankState after Close = %v, want Idle", s)
	}
	if err := h.ctrl.SubmitOut(1, reg.Bank0, alloc(t, h.ram, 64)); !errors.Is(err, pkg.ErrNotEnabled) {
		t.Errorf("SubmitOut after Close error = %v, want ErrNotEnabled", err)
	}

	if err := h.ctrl.Reset(context.Background()); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if v := reg.CtrlA(h.p.Read8(reg.OffsetCTRLA)); !v.Enabled() {
		t.Error("peripheral not enabled after Reset")
	}
	if cfg := h.p.Read8(reg.EP(0, reg.OffsetEPCFG)); cfg != 0 {
		t.Errorf("EPCFG0 after Reset = 0x%02X, want 0", cfg)
	}
	h.expect()
}

func TestResetAfterFault(t *testing.T) {
	h := newHarness(t, Config{})
	h.online()

	h.p.ForceFSM(0x03)
	if err := h.p.SOF(1, false); err != nil {
		t.Fatal(err)
	}
	h.dispatch(1)
	h.expect("fatal fsm status 0x03: protocol fault")

	if err := h.ctrl.Reset(context.Background()); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	h.expect("state Off")
	h.online()
}

func TestMutexCriticalIsDefault(t *testing.T) {
	h := newHarness(t, Config{})
	if _, ok := h.ctrl.crit.(*hal.MutexCritical); !ok {
		t.Errorf("crit = %T, want *hal.MutexCritical", h.ctrl.crit)
	}
}
