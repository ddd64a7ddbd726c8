package scenario

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v2"

	"github.com/ardnew/samusb/device"
	"github.com/ardnew/samusb/device/reg"
	"github.com/ardnew/samusb/pkg"
)

// ErrInvalidStep is wrapped by every script validation error.
var ErrInvalidStep = errors.New("invalid step")

// Op names a script step.
type Op string

// Host-side steps inject bus traffic through the simulated peripheral.
// Firmware-side steps call the controller the way a USB stack would.
const (
	OpReset     Op = "reset"
	OpSetup     Op = "setup"
	OpOut       Op = "out"
	OpIn        Op = "in"
	OpFail      Op = "fail"
	OpSuspend   Op = "suspend"
	OpWakeup    Op = "wakeup"
	OpResume    Op = "resume"
	OpLPMSleep  Op = "lpm-suspend"
	OpLPMNyet   Op = "lpm-nyet"
	OpSOF       Op = "sof"
	OpRAMAccess Op = "ramacer"
	OpForceFSM  Op = "force-fsm"

	OpSubmitOut    Op = "submit-out"
	OpSubmitIn     Op = "submit-in"
	OpStall        Op = "stall"
	OpUnstall      Op = "unstall"
	OpAddress      Op = "address"
	OpDrain        Op = "drain"
	OpAttach       Op = "attach"
	OpDetach       Op = "detach"
	OpRemoteWakeup Op = "remote-wakeup"
	OpConfigure    Op = "configure"
	OpDisable      Op = "disable"
	OpReinit       Op = "reinit"
	OpExpectState  Op = "expect-state"
)

var ops = []Op{
	OpReset, OpSetup, OpOut, OpIn, OpFail, OpSuspend, OpWakeup, OpResume,
	OpLPMSleep, OpLPMNyet, OpSOF, OpRAMAccess, OpForceFSM,
	OpSubmitOut, OpSubmitIn, OpStall, OpUnstall, OpAddress, OpDrain,
	OpAttach, OpDetach, OpRemoteWakeup, OpConfigure, OpDisable, OpReinit,
	OpExpectState,
}

// Ops returns every step name in declaration order.
func Ops() []Op { return slices.Clone(ops) }

// errorNames maps the names a step may expect to the sentinel matched with
// errors.Is.
var errorNames = map[string]error{
	"nak":              pkg.ErrNAK,
	"stall":            pkg.ErrStall,
	"busy":             pkg.ErrBankBusy,
	"not-complete":     pkg.ErrNotComplete,
	"error-flow":       pkg.ErrErrorFlow,
	"crc":              pkg.ErrCRC,
	"wrong-direction":  pkg.ErrWrongDirection,
	"invalid-size":     pkg.ErrInvalidSize,
	"invalid-type":     pkg.ErrInvalidType,
	"invalid-endpoint": pkg.ErrInvalidEndpoint,
	"invalid-bank":     pkg.ErrInvalidBank,
	"invalid-address":  pkg.ErrInvalidAddress,
	"buffer-too-small": pkg.ErrBufferTooSmall,
	"not-supported":    pkg.ErrNotSupported,
	"disabled":         pkg.ErrEndpointDisabled,
	"not-enabled":      pkg.ErrNotEnabled,
	"not-suspended":    pkg.ErrNotSuspended,
	"descriptor-fault": pkg.ErrDescriptorFault,
	"protocol-fault":   pkg.ErrProtocolFault,
	"unexpected":       pkg.ErrUnexpectedCompletion,
}

// Script is a named sequence of steps.
type Script struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Step is one scripted action. Which fields apply depends on Op.
type Step struct {
	Op   Op    `yaml:"op"`
	EP   uint8 `yaml:"ep"`
	Bank uint8 `yaml:"bank"`

	// Data is a hex payload ("01 02 ff"): sent by out, armed by submit-in.
	Data string `yaml:"data"`
	// Expect is the hex payload in or drain must produce.
	Expect *string `yaml:"expect"`
	// Size is the submit-out buffer size, or the submit-in buffer size
	// when larger than Data. Zero means one max packet.
	Size int  `yaml:"size"`
	ZLP  bool `yaml:"zlp"`
	CRC  bool `yaml:"crc"`

	Frame   uint16 `yaml:"frame"`
	Address uint8  `yaml:"address"`
	Status  uint8  `yaml:"status"`
	State   string `yaml:"state"`

	// SETUP fields.
	RequestType uint8  `yaml:"request_type"`
	Request     uint8  `yaml:"request"`
	Value       uint16 `yaml:"value"`
	Index       uint16 `yaml:"index"`
	Length      uint16 `yaml:"length"`

	// configure fields.
	Type0         string `yaml:"type0"`
	Type1         string `yaml:"type1"`
	MaxPacketSize uint16 `yaml:"max_packet_size"`

	// Error names the error the step must fail with, from ErrorNames.
	Error string `yaml:"error"`
}

// ErrorNames returns the names a step's error field accepts, sorted.
func ErrorNames() []string {
	return slices.Sorted(slices.Values(lo.Keys(errorNames)))
}

// ParseScript decodes a YAML script. Unknown fields are errors.
func ParseScript(data []byte) (Script, error) {
	var s Script
	if err := yaml.UnmarshalStrict(data, &s); err != nil {
		return Script{}, fmt.Errorf("%w: %w", ErrInvalidStep, err)
	}
	if err := s.Validate(); err != nil {
		return Script{}, err
	}
	return s, nil
}

// LoadScript reads and validates the YAML script at path.
func LoadScript(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, err
	}
	return ParseScript(data)
}

// Validate checks step names, payload encodings and expected error names.
func (s Script) Validate() error {
	for i, st := range s.Steps {
		if err := st.validate(); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

func (s Step) validate() error {
	if !lo.Contains(ops, s.Op) {
		return fmt.Errorf("%w: unknown op %q", ErrInvalidStep, s.Op)
	}
	if s.Bank > 1 {
		return fmt.Errorf("%w: %s: bank %d", ErrInvalidStep, s.Op, s.Bank)
	}
	if _, err := s.payload(); err != nil {
		return err
	}
	if _, err := s.expected(); err != nil {
		return err
	}
	if s.Error != "" {
		if _, ok := errorNames[s.Error]; !ok {
			return fmt.Errorf("%w: %s: unknown error %q", ErrInvalidStep, s.Op, s.Error)
		}
	}
	switch s.Op {
	case OpExpectState:
		if _, ok := device.ParseState(s.State); !ok {
			return fmt.Errorf("%w: %s: unknown state %q", ErrInvalidStep, s.Op, s.State)
		}
	case OpConfigure:
		e := Endpoint{Number: s.EP, Type0: s.Type0, Type1: s.Type1, MaxPacketSize: s.MaxPacketSize}
		if _, _, err := e.Types(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidStep, err)
		}
	}
	return nil
}

func (s Step) bank() reg.Bank { return reg.Bank(s.Bank) }

func (s Step) payload() ([]byte, error) {
	return decodeHex(s.Op, "data", s.Data)
}

// expected returns nil when the step checks no payload.
func (s Step) expected() ([]byte, error) {
	if s.Expect == nil {
		return nil, nil
	}
	b, err := decodeHex(s.Op, "expect", *s.Expect)
	if err != nil {
		return nil, err
	}
	if b == nil {
		b = []byte{}
	}
	return b, nil
}

func decodeHex(op Op, field, s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s: %w", ErrInvalidStep, op, field, err)
	}
	return b, nil
}

// matchError reports whether err is what the step expects.
func (s Step) matchError(err error) error {
	if s.Error == "" {
		return err
	}
	want := errorNames[s.Error]
	if !errors.Is(err, want) {
		return fmt.Errorf("%w: got %v, want %s", ErrMismatch, err, s.Error)
	}
	return nil
}
