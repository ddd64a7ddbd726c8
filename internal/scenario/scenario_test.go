package scenario

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/samber/lo"

	"github.com/ardnew/samusb/device"
	"github.com/ardnew/samusb/device/reg"
	"github.com/ardnew/samusb/pkg"
)

const bulkConfig = `
name = "bulk"
max_endpoints = 3

[[endpoint]]
number = 0
type0 = "control"
type1 = "control"
max_packet_size = 64

[[endpoint]]
number = 1
type0 = "bulk"
type1 = "bulk"
max_packet_size = 64
`

func mustConfig(t *testing.T, data string) Config {
	t.Helper()
	cfg, err := ParseConfig(data)
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	return cfg
}

func mustScript(t *testing.T, data string) Script {
	t.Helper()
	s, err := ParseScript([]byte(data))
	if err != nil {
		t.Fatalf("ParseScript() error = %v", err)
	}
	return s
}

func newRunner(t *testing.T, cfg Config) *Runner {
	t.Helper()
	r, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// log returns the events recorded from step onward, one string each.
func log(r *Runner, step int) []string {
	return lo.FilterMap(r.Events(), func(e Event, _ int) (string, bool) {
		return e.String(), e.Step >= step
	})
}

func TestParseConfigDefaults(t *testing.T) {
	cfg := mustConfig(t, `name = "bare"`)
	if cfg.MaxEndpoints != device.DefaultMaxEndpoints ||
		cfg.SyncTimeout != device.DefaultSyncTimeout ||
		cfg.RAMSize != DefaultRAMSize ||
		cfg.ControlBuffer != DefaultControlBuffer {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	d, err := cfg.Device()
	if err != nil || d.LPM != reg.LPMNone {
		t.Errorf("Device() = %+v, %v", d, err)
	}
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig("testdata/cdc.toml")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Name != "cdc-acm" || cfg.MaxEndpoints != 4 || cfg.SyncTimeout != 5*time.Millisecond {
		t.Errorf("LoadConfig() = %+v", cfg)
	}
	ep, ok := cfg.Endpoint(1)
	if !ok {
		t.Fatal("endpoint 1 missing")
	}
	t0, t1, err := ep.Types()
	if err != nil || t0 != reg.EPTypeDisabled || t1 != reg.EPTypeInterrupt {
		t.Errorf("endpoint 1 types = %v, %v, %v", t0, t1, err)
	}
	d, err := cfg.Device()
	if err != nil {
		t.Fatal(err)
	}
	if d.LPM != reg.LPMAck || d.PadCal.Transp() != 29 || d.PadCal.Transn() != 5 || d.PadCal.Trim() != 3 {
		t.Errorf("Device() = %+v", d)
	}
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"unknown key", "colour = 1", "unknown keys colour"},
		{"syntax", "name = ", ""},
		{"lpm", `lpm = "maybe"`, "lpm"},
		{"endpoints", "max_endpoints = 9", "max_endpoints"},
		{"padcal", "[padcal]\ntransp = 40", "padcal"},
		{"type", "[[endpoint]]\nnumber = 1\ntype0 = \"fast\"", "unknown type"},
		{"duplicate", "[[endpoint]]\nnumber = 1\n[[endpoint]]\nnumber = 1", "configured twice"},
		{"beyond max", "max_endpoints = 2\n[[endpoint]]\nnumber = 2", "beyond max_endpoints"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig(tt.data)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("ParseConfig() error = %v, want ErrInvalidConfig", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("ParseConfig() error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestParseScriptErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown op", "steps:\n  - op: teleport"},
		{"unknown field", "steps:\n  - op: reset\n    colour: red"},
		{"bad hex", "steps:\n  - op: out\n    data: \"0g\""},
		{"odd hex", "steps:\n  - op: in\n    expect: \"012\""},
		{"bank", "steps:\n  - op: drain\n    bank: 2"},
		{"error name", "steps:\n  - op: out\n    error: melted"},
		{"state", "steps:\n  - op: expect-state\n    state: Configured"},
		{"configure type", "steps:\n  - op: configure\n    ep: 1\n    type0: fast"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseScript([]byte(tt.data)); !errors.Is(err, ErrInvalidStep) {
				t.Errorf("ParseScript() error = %v, want ErrInvalidStep", err)
			}
		})
	}
}

func TestOpsAndErrorNames(t *testing.T) {
	if len(lo.FindDuplicates(Ops())) > 0 {
		t.Error("duplicate op names")
	}
	names := ErrorNames()
	if !lo.Contains(names, "nak") || !lo.Contains(names, "busy") {
		t.Errorf("ErrorNames() = %v", names)
	}
}

func TestRunEnumerate(t *testing.T) {
	cfg, err := LoadConfig("testdata/cdc.toml")
	if err != nil {
		t.Fatal(err)
	}
	s, err := LoadScript("testdata/enumerate.yaml")
	if err != nil {
		t.Fatal(err)
	}
	r := newRunner(t, cfg)
	if err := r.Run(context.Background(), s); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{
		"state On",
		"setup ep0 bank0 type=0x80 req=0x06 value=0x0100 index=0 length=8",
		"host-in ep0 bank1 12 01 00 02 02 00 00 40",
		"complete ep0 bank1 n=8",
		"drain ep0 bank1 12 01 00 02 02 00 00 40",
		"host-out ep0 bank0",
		"complete ep0 bank0 n=0",
		"drain ep0 bank0",
		"setup ep0 bank0 type=0x00 req=0x05 value=0x0005 index=0 length=0",
		"host-in ep0 bank1",
		"complete ep0 bank1 n=0",
		"host-out ep2 bank0 68 65 6c 6c 6f",
		"complete ep2 bank0 n=5",
		"drain ep2 bank0 68 65 6c 6c 6f",
		"host-in ep2 bank1 68 65 6c 6c 6f",
		"complete ep2 bank1 n=5",
		"state Suspend",
		"state UpstreamResume",
		"state On",
	}
	if diff := cmp.Diff(want, log(r, 1)); diff != "" {
		t.Errorf("event log mismatch (-want +got):\n%s", diff)
	}
	if v := r.Peripheral().Read8(reg.OffsetDADD); v != 0x85 {
		t.Errorf("DADD = 0x%02X, want 0x85", v)
	}

	rows := r.Endpoints()
	if got := lo.Map(rows, func(e EndpointRow, _ int) uint8 { return e.Number }); !cmp.Equal(got, []uint8{0, 1, 2}) {
		t.Errorf("Endpoints() numbers = %v", got)
	}
	if rows[2].Toggles != [2]uint8{1, 1} {
		t.Errorf("ep2 toggles = %v, want [1 1]", rows[2].Toggles)
	}
	if regs := r.Registers(); len(regs) == 0 {
		t.Error("Registers() empty")
	}
}

func TestRunExpectedErrors(t *testing.T) {
	r := newRunner(t, mustConfig(t, bulkConfig))
	s := mustScript(t, `
steps:
  - op: reset
  - op: submit-out
    ep: 1
  - op: submit-out
    ep: 1
    error: busy
  - op: stall
    ep: 1
    bank: 1
  - op: in
    ep: 1
    error: stall
  - op: unstall
    ep: 1
    bank: 1
  - op: in
    ep: 1
    error: nak
  - op: drain
    ep: 1
    error: not-complete
  - op: submit-in
    ep: 1
    bank: 0
    data: "00"
    error: wrong-direction
  - op: address
    address: 200
    error: invalid-address
  - op: remote-wakeup
    error: not-suspended
`)
	if err := r.Run(context.Background(), s); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if diff := cmp.Diff([]string{"stall ep1 bank1"}, log(r, 2)); diff != "" {
		t.Errorf("event log mismatch (-want +got):\n%s", diff)
	}
	if st := r.Controller().BankState(1, reg.Bank0); st != device.BankArmed {
		t.Errorf("ep1 bank0 = %v, want Armed", st)
	}
}

func TestRunMismatch(t *testing.T) {
	tests := []struct {
		name string
		data string
		step int
		want error
	}{
		{"state", "steps:\n  - op: reset\n  - op: expect-state\n    state: Suspend", 2, ErrMismatch},
		{"missing error", "steps:\n  - op: reset\n  - op: submit-out\n    ep: 1\n    error: busy", 2, ErrMismatch},
		{"payload", "steps:\n  - op: reset\n  - op: submit-in\n    ep: 1\n    bank: 1\n    data: \"01\"\n  - op: in\n    ep: 1\n    expect: \"02\"", 3, ErrMismatch},
		{"unexpected error", "steps:\n  - op: reset\n  - op: in\n    ep: 1", 2, pkg.ErrNAK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRunner(t, mustConfig(t, bulkConfig))
			err := r.Run(context.Background(), mustScript(t, tt.data))
			var se *StepError
			if !errors.As(err, &se) || se.Step != tt.step || !errors.Is(err, tt.want) {
				t.Errorf("Run() error = %v, want step %d failing with %v", err, tt.step, tt.want)
			}
		})
	}
}

func TestRunAutoDrain(t *testing.T) {
	cfg := mustConfig(t, bulkConfig)
	cfg.AutoDrain = true
	r := newRunner(t, cfg)
	s := mustScript(t, `
steps:
  - op: reset
  - op: submit-out
    ep: 1
  - op: out
    ep: 1
    data: "01 02 03"
  - op: submit-out
    ep: 1
`)
	if err := r.Run(context.Background(), s); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := []string{
		"host-out ep1 bank0 01 02 03",
		"complete ep1 bank0 n=3",
		"drain ep1 bank0 01 02 03",
	}
	if diff := cmp.Diff(want, log(r, 2)); diff != "" {
		t.Errorf("event log mismatch (-want +got):\n%s", diff)
	}
}

func TestRunTransferFailure(t *testing.T) {
	r := newRunner(t, mustConfig(t, bulkConfig))
	s := mustScript(t, `
steps:
  - op: reset
  - op: submit-out
    ep: 1
  - op: fail
    ep: 1
    crc: true
  - op: submit-out
    ep: 1
`)
	if err := r.Run(context.Background(), s); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	events := log(r, 3)
	if len(events) != 1 || !strings.HasPrefix(events[0], "error ep1 bank0 ") || !strings.HasSuffix(events[0], "retryable=true") {
		t.Errorf("event log = %q", events)
	}
}

func TestRunFaultAndReinit(t *testing.T) {
	r := newRunner(t, mustConfig(t, bulkConfig))
	s := mustScript(t, `
steps:
  - op: reset
  - op: submit-out
    ep: 1
  - op: ramacer
  - op: submit-out
    ep: 1
    error: descriptor-fault
  - op: force-fsm
    status: 0x03
    error: protocol-fault
  - op: reinit
  - op: reset
  - op: submit-out
    ep: 1
  - op: expect-state
    state: On
`)
	if err := r.Run(context.Background(), s); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := []string{
		"fatal endpoints 0x0002 halted: descriptor fault",
		"state Off",
		"state On",
	}
	if diff := cmp.Diff(want, log(r, 3)); diff != "" {
		t.Errorf("event log mismatch (-want +got):\n%s", diff)
	}
}

func TestResetRestoresEndpoints(t *testing.T) {
	r := newRunner(t, mustConfig(t, bulkConfig))
	s := mustScript(t, `
steps:
  - op: reset
  - op: submit-out
    ep: 1
  - op: reset
  - op: submit-out
    ep: 1
  - op: out
    ep: 1
    data: "aa"
`)
	if err := r.Run(context.Background(), s); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got := lo.Map(r.Endpoints(), func(e EndpointRow, _ int) uint8 { return e.Number })
	if !cmp.Equal(got, []uint8{0, 1}) {
		t.Errorf("Endpoints() numbers = %v, want [0 1]", got)
	}
	if st := r.Controller().BankState(1, reg.Bank0); st != device.BankComplete {
		t.Errorf("ep1 bank0 = %v, want Complete", st)
	}
	if v := r.Peripheral().Read8(reg.OffsetDADD); v != 0 {
		t.Errorf("DADD = 0x%02X, want 0", v)
	}
}

func TestRunCanceled(t *testing.T) {
	r := newRunner(t, mustConfig(t, bulkConfig))
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Run(ctx, mustScript(t, "steps:\n  - op: reset")); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestNewRejectsSmallRAM(t *testing.T) {
	cfg := mustConfig(t, bulkConfig)
	cfg.RAMSize = 64
	if _, err := New(cfg); !errors.Is(err, pkg.ErrBufferTooSmall) {
		t.Errorf("New() error = %v, want ErrBufferTooSmall", err)
	}
}
