package scenario

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/ardnew/samusb/device"
	"github.com/ardnew/samusb/device/descriptor"
	"github.com/ardnew/samusb/device/hal"
	"github.com/ardnew/samusb/device/hal/sim"
	"github.com/ardnew/samusb/device/reg"
	"github.com/ardnew/samusb/pkg"
)

// maxDispatch bounds the interrupt service loop after one step.
const maxDispatch = 16

// ErrMismatch reports a step whose outcome differs from what it expects.
var ErrMismatch = errors.New("mismatch")

// StepError wraps the failure of one script step.
type StepError struct {
	Step int
	Op   Op
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Step, e.Op, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// EventKind classifies a recorded event.
type EventKind string

// Event kinds. Controller callbacks produce the first six; the rest record
// payloads moved by steps.
const (
	KindSetup    EventKind = "setup"
	KindComplete EventKind = "complete"
	KindError    EventKind = "error"
	KindStall    EventKind = "stall"
	KindState    EventKind = "state"
	KindFatal    EventKind = "fatal"
	KindDrain    EventKind = "drain"
	KindHostIn   EventKind = "host-in"
	KindHostOut  EventKind = "host-out"
)

// Event is one line of the event log. EP and Bank are -1 when the event is
// not tied to an endpoint or bank.
type Event struct {
	Step   int
	Kind   EventKind
	EP     int
	Bank   int
	Detail string
}

func (e Event) String() string {
	s := string(e.Kind)
	if e.EP >= 0 {
		s += fmt.Sprintf(" ep%d", e.EP)
	}
	if e.Bank >= 0 {
		s += fmt.Sprintf(" bank%d", e.Bank)
	}
	if e.Detail != "" {
		s += " " + e.Detail
	}
	return s
}

// EndpointRow is the runtime state of one configured endpoint.
type EndpointRow struct {
	Number uint8
	device.EndpointStatus
}

type bufKey struct {
	ep   uint8
	bank reg.Bank
}

// Runner replays scripts against a controller driving a simulated
// peripheral. It stands in for both the USB host and the firmware stack
// sitting on top of the controller.
type Runner struct {
	cfg     Config
	ram     *sim.RAM
	periph  *sim.Peripheral
	table   *descriptor.Table
	ctrl    *device.Controller
	started bool

	step    int
	events  []Event
	buffers map[bufKey][]byte
}

// New builds the simulated device described by cfg. Nothing is touched
// until Start.
func New(cfg Config) (*Runner, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dcfg, err := cfg.Device()
	if err != nil {
		return nil, err
	}

	ram := sim.NewRAM(cfg.RAMSize)
	periph := sim.New(ram)
	periph.SetSyncLatency(cfg.SyncLatency)

	mem, err := ram.Alloc(descriptor.Size(cfg.MaxEndpoints))
	if err != nil {
		return nil, err
	}
	table, err := descriptor.New(mem)
	if err != nil {
		return nil, err
	}
	if dcfg.ControlBuffer, err = ram.Alloc(cfg.ControlBuffer); err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:     cfg,
		ram:     ram,
		periph:  periph,
		table:   table,
		ctrl:    device.New(periph, ram, dcfg),
		buffers: make(map[bufKey][]byte),
	}
	r.hook()
	return r, nil
}

// Config returns the effective configuration.
func (r *Runner) Config() Config { return r.cfg }

// Controller returns the controller under test.
func (r *Runner) Controller() *device.Controller { return r.ctrl }

// Peripheral returns the simulated peripheral.
func (r *Runner) Peripheral() *sim.Peripheral { return r.periph }

// Events returns the events recorded so far.
func (r *Runner) Events() []Event { return r.events }

// Registers returns a dump of the peripheral registers for every managed
// endpoint.
func (r *Runner) Registers() []sim.Register {
	return r.periph.Dump(r.ctrl.Endpoints())
}

// Endpoints returns the state of every enabled endpoint.
func (r *Runner) Endpoints() []EndpointRow {
	return lo.FilterMap(lo.Range(r.ctrl.Endpoints()), func(n int, _ int) (EndpointRow, bool) {
		st, ok := r.ctrl.Endpoint(uint8(n))
		if !ok || !st.Config.Enabled() {
			return EndpointRow{}, false
		}
		return EndpointRow{Number: uint8(n), EndpointStatus: st}, true
	})
}

func (r *Runner) record(kind EventKind, ep, bank int, detail string) {
	r.events = append(r.events, Event{Step: r.step, Kind: kind, EP: ep, Bank: bank, Detail: detail})
}

func (r *Runner) hook() {
	r.ctrl.SetOnSetup(func(ep uint8, setup [8]byte) {
		var pkt hal.SetupPacket
		hal.ParseSetupPacket(setup[:], &pkt)
		r.record(KindSetup, int(ep), 0, fmt.Sprintf("type=0x%02X req=0x%02X value=0x%04X index=%d length=%d",
			pkt.RequestType, pkt.Request, pkt.Value, pkt.Index, pkt.Length))
	})
	r.ctrl.SetOnTransferComplete(func(ep uint8, bank reg.Bank, n int) {
		r.record(KindComplete, int(ep), int(bank), fmt.Sprintf("n=%d", n))
		if r.cfg.AutoDrain {
			if data, err := r.ctrl.Drain(ep, bank); err == nil {
				r.record(KindDrain, int(ep), int(bank), fmt.Sprintf("% x", data))
			}
		}
	})
	r.ctrl.SetOnTransferError(func(ep uint8, bank reg.Bank, err error) {
		var te *pkg.TransferError
		retry := errors.As(err, &te) && te.Retryable
		r.record(KindError, int(ep), int(bank), fmt.Sprintf("%v retryable=%t", err, retry))
	})
	r.ctrl.SetOnStall(func(ep uint8, bank reg.Bank) {
		r.record(KindStall, int(ep), int(bank), "")
	})
	r.ctrl.SetOnDeviceStateChanged(func(state device.State) {
		r.record(KindState, -1, -1, state.String())
	})
	r.ctrl.SetOnFatalFault(func(err error) {
		r.record(KindFatal, -1, -1, err.Error())
	})
}

// Start initializes the controller, configures the endpoints named in the
// configuration and attaches to the bus.
func (r *Runner) Start(ctx context.Context) error {
	if err := r.ctrl.Initialize(ctx, r.table); err != nil {
		return err
	}
	if err := r.configure(); err != nil {
		return err
	}
	if err := r.ctrl.Attach(); err != nil {
		return err
	}
	r.started = true
	pkg.LogInfo(pkg.ComponentScenario, "device started", "name", r.cfg.Name, "endpoints", len(r.cfg.Endpoints))
	return nil
}

func (r *Runner) configure() error {
	for _, e := range r.cfg.Endpoints {
		t0, t1, err := e.Types()
		if err != nil {
			return err
		}
		if err := r.ctrl.ConfigureEndpoint(e.Number, t0, t1, e.MaxPacketSize); err != nil {
			return err
		}
	}
	return nil
}

// reconfigure restores the configured endpoints after a bus reset left only
// endpoint 0 enabled, as firmware does once the host selects a
// configuration. Nothing happens if the reset ended in a fatal fault.
func (r *Runner) reconfigure() error {
	if r.ctrl.State() != device.StateOn {
		return nil
	}
	for _, e := range r.cfg.Endpoints {
		if e.Number == 0 {
			continue
		}
		t0, t1, err := e.Types()
		if err != nil {
			return err
		}
		if err := r.ctrl.ConfigureEndpoint(e.Number, t0, t1, e.MaxPacketSize); err != nil {
			return err
		}
	}
	return nil
}

// Close shuts the controller down.
func (r *Runner) Close() error {
	r.started = false
	return r.ctrl.Close()
}

// Run replays every step of s, starting the device first if needed. It
// stops at the first step that fails or does not match its expectation.
func (r *Runner) Run(ctx context.Context, s Script) error {
	if !r.started {
		if err := r.Start(ctx); err != nil {
			return err
		}
	}
	for i, st := range s.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.step = i + 1
		pkg.LogDebug(pkg.ComponentScenario, "step", "n", r.step, "op", st.Op, "ep", st.EP)
		if err := st.matchError(r.exec(ctx, st)); err != nil {
			return &StepError{Step: r.step, Op: st.Op, Err: err}
		}
	}
	return nil
}

// dispatch services the interrupt line until it drops, as the NVIC would
// re-enter the handler while flags stay pending.
func (r *Runner) dispatch() int {
	total := 0
	for i := 0; i < maxDispatch && r.periph.Pending(); i++ {
		total += r.ctrl.Dispatch()
	}
	return total
}

// host runs a host-side injection and services the resulting interrupt.
func (r *Runner) host(fn func() error) error {
	if err := fn(); err != nil {
		return err
	}
	r.dispatch()
	return nil
}

func (r *Runner) exec(ctx context.Context, st Step) error {
	switch st.Op {
	case OpReset:
		if err := r.host(r.periph.BusReset); err != nil {
			return err
		}
		return r.reconfigure()
	case OpSuspend:
		return r.host(r.periph.Suspend)
	case OpWakeup:
		return r.host(r.periph.Wakeup)
	case OpResume:
		return r.host(r.periph.EndResume)
	case OpLPMSleep:
		return r.host(r.periph.LPMSuspend)
	case OpLPMNyet:
		return r.host(r.periph.LPMNyet)
	case OpSOF:
		return r.host(func() error { return r.periph.SOF(st.Frame, st.CRC) })
	case OpRAMAccess:
		r.periph.RAMAccessError()
		r.dispatch()
		return nil
	case OpForceFSM:
		r.periph.ForceFSM(st.Status)
		_, _, err := r.ctrl.Poll()
		return err
	case OpSetup:
		pkt := hal.SetupPacket{
			RequestType: st.RequestType,
			Request:     st.Request,
			Value:       st.Value,
			Index:       st.Index,
			Length:      st.Length,
		}
		return r.host(func() error { return r.periph.Setup(st.EP, pkt) })
	case OpOut:
		return r.hostOut(st)
	case OpIn:
		return r.hostIn(st)
	case OpFail:
		return r.host(func() error { return r.periph.Fail(st.EP, st.bank(), st.CRC) })

	case OpSubmitOut:
		n := st.Size
		if n == 0 {
			n = r.maxPacketSize(st.EP)
		}
		buf, err := r.buffer(st.EP, st.bank(), n)
		if err != nil {
			return err
		}
		return r.ctrl.SubmitOut(st.EP, st.bank(), buf)
	case OpSubmitIn:
		return r.submitIn(st)
	case OpStall, OpUnstall:
		return r.ctrl.SetStall(st.EP, st.bank(), st.Op == OpStall)
	case OpAddress:
		return r.ctrl.SetAddress(st.Address)
	case OpDrain:
		data, err := r.ctrl.Drain(st.EP, st.bank())
		if err != nil {
			return err
		}
		r.record(KindDrain, int(st.EP), int(st.Bank), fmt.Sprintf("% x", data))
		return compare(st, data)
	case OpAttach:
		return r.ctrl.Attach()
	case OpDetach:
		return r.ctrl.Detach()
	case OpRemoteWakeup:
		return r.host(r.ctrl.RemoteWakeup)
	case OpConfigure:
		t0, t1, err := Endpoint{Number: st.EP, Type0: st.Type0, Type1: st.Type1}.Types()
		if err != nil {
			return err
		}
		return r.ctrl.ConfigureEndpoint(st.EP, t0, t1, st.MaxPacketSize)
	case OpDisable:
		return r.ctrl.DisableEndpoint(st.EP)
	case OpReinit:
		if err := r.ctrl.Reset(ctx); err != nil {
			return err
		}
		if err := r.configure(); err != nil {
			return err
		}
		return r.ctrl.Attach()
	case OpExpectState:
		want, _ := device.ParseState(st.State)
		if got := r.ctrl.State(); got != want {
			return fmt.Errorf("%w: state %v, want %v", ErrMismatch, got, want)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown op %q", ErrInvalidStep, st.Op)
}

func (r *Runner) hostOut(st Step) error {
	data, err := st.payload()
	if err != nil {
		return err
	}
	bank, err := r.periph.Out(st.EP, data)
	if err != nil {
		r.dispatch()
		return err
	}
	r.record(KindHostOut, int(st.EP), int(bank), fmt.Sprintf("% x", data))
	r.dispatch()
	return nil
}

func (r *Runner) hostIn(st Step) error {
	data, bank, err := r.periph.In(st.EP)
	if err != nil {
		r.dispatch()
		return err
	}
	r.record(KindHostIn, int(st.EP), int(bank), fmt.Sprintf("% x", data))
	r.dispatch()
	return compare(st, data)
}

func (r *Runner) submitIn(st Step) error {
	data, err := st.payload()
	if err != nil {
		return err
	}
	if len(data) == 0 && st.Size == 0 {
		return r.ctrl.SubmitIn(st.EP, st.bank(), nil, 0, st.ZLP)
	}
	buf, err := r.buffer(st.EP, st.bank(), max(len(data), st.Size))
	if err != nil {
		return err
	}
	copy(buf, data)
	return r.ctrl.SubmitIn(st.EP, st.bank(), buf, len(data), st.ZLP)
}

// buffer returns n bytes of DMA-reachable memory for a bank. A bank's
// previous buffer is reused once the controller has released it.
func (r *Runner) buffer(ep uint8, bank reg.Bank, n int) ([]byte, error) {
	k := bufKey{ep, bank}
	if buf, ok := r.buffers[k]; ok && cap(buf) >= n && r.ctrl.BankState(ep, bank) == device.BankIdle {
		return buf[:n], nil
	}
	buf, err := r.ram.Alloc(n)
	if err != nil {
		return nil, err
	}
	r.buffers[k] = buf
	return buf, nil
}

func (r *Runner) maxPacketSize(ep uint8) int {
	if st, ok := r.ctrl.Endpoint(ep); ok && st.MaxPacketSize > 0 {
		return int(st.MaxPacketSize)
	}
	return DefaultControlBuffer
}

func compare(st Step, got []byte) error {
	want, err := st.expected()
	if err != nil || want == nil {
		return err
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("%w: payload % x, want % x", ErrMismatch, got, want)
	}
	return nil
}
