package scenario

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/samber/lo"

	"github.com/ardnew/samusb/device"
	"github.com/ardnew/samusb/device/hal/sim"
	"github.com/ardnew/samusb/device/reg"
)

// Simulator defaults.
const (
	DefaultRAMSize       = 32 * 1024
	DefaultControlBuffer = 64
)

// ErrInvalidConfig is wrapped by every configuration validation error.
var ErrInvalidConfig = errors.New("invalid config")

// Config describes a simulated device: controller options and the endpoint
// set configured before the script runs.
type Config struct {
	Name          string        `toml:"name"`
	MaxEndpoints  int           `toml:"max_endpoints"`
	SyncTimeout   time.Duration `toml:"sync_timeout"`
	SyncLatency   int           `toml:"sync_latency"`
	RAMSize       int           `toml:"ram_size"`
	ControlBuffer int           `toml:"control_buffer"`
	LPM           string        `toml:"lpm"`
	RunStandby    bool          `toml:"run_standby"`
	AutoDrain     bool          `toml:"auto_drain"`
	PadCal        PadCal        `toml:"padcal"`
	Endpoints     []Endpoint    `toml:"endpoint"`
}

// PadCal holds the pad calibration fields, normally read from the NVM
// software calibration row.
type PadCal struct {
	Transp uint8 `toml:"transp"`
	Transn uint8 `toml:"transn"`
	Trim   uint8 `toml:"trim"`
}

// Endpoint is one [[endpoint]] table.
type Endpoint struct {
	Number        uint8  `toml:"number"`
	Type0         string `toml:"type0"`
	Type1         string `toml:"type1"`
	MaxPacketSize uint16 `toml:"max_packet_size"`
}

// Types returns the parsed EPTYPE pair. An empty name means disabled.
func (e Endpoint) Types() (reg.EPType, reg.EPType, error) {
	parse := func(s string) (reg.EPType, error) {
		if s == "" {
			return reg.EPTypeDisabled, nil
		}
		t, ok := reg.ParseEPType(strings.ToLower(s))
		if !ok {
			return 0, fmt.Errorf("%w: endpoint %d: unknown type %q", ErrInvalidConfig, e.Number, s)
		}
		return t, nil
	}
	t0, err := parse(e.Type0)
	if err != nil {
		return 0, 0, err
	}
	t1, err := parse(e.Type1)
	if err != nil {
		return 0, 0, err
	}
	return t0, t1, nil
}

var lpmModes = map[string]reg.LPMHandshake{
	"":     reg.LPMNone,
	"none": reg.LPMNone,
	"ack":  reg.LPMAck,
	"nyet": reg.LPMNyet,
}

// ParseConfig decodes a TOML device description. Unknown keys are errors.
func ParseConfig(data string) (Config, error) {
	var cfg Config
	md, err := toml.Decode(data, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return finish(cfg, md)
}

// LoadConfig reads and validates the TOML file at path.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return finish(cfg, md)
}

func finish(cfg Config, md toml.MetaData) (Config, error) {
	if keys := md.Undecoded(); len(keys) > 0 {
		names := lo.Map(keys, func(k toml.Key, _ int) string { return k.String() })
		return Config{}, fmt.Errorf("%w: unknown keys %s", ErrInvalidConfig, strings.Join(names, ", "))
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) withDefaults() Config {
	if c.MaxEndpoints == 0 {
		c.MaxEndpoints = device.DefaultMaxEndpoints
	}
	if c.SyncTimeout == 0 {
		c.SyncTimeout = device.DefaultSyncTimeout
	}
	if c.SyncLatency == 0 {
		c.SyncLatency = sim.DefaultSyncLatency
	}
	if c.RAMSize == 0 {
		c.RAMSize = DefaultRAMSize
	}
	if c.ControlBuffer == 0 {
		c.ControlBuffer = DefaultControlBuffer
	}
	return c
}

// Validate checks everything that can be checked without a controller.
// Endpoint type pairs and packet sizes are left to ConfigureEndpoint so
// the simulator reports them exactly as firmware would see them.
func (c Config) Validate() error {
	if c.MaxEndpoints < 1 || c.MaxEndpoints > reg.MaxEndpoints {
		return fmt.Errorf("%w: max_endpoints %d out of range 1..%d", ErrInvalidConfig, c.MaxEndpoints, reg.MaxEndpoints)
	}
	if c.SyncTimeout < 0 || c.SyncLatency < 0 || c.RAMSize < 0 || c.ControlBuffer < 0 {
		return fmt.Errorf("%w: negative value", ErrInvalidConfig)
	}
	if _, ok := lpmModes[strings.ToLower(c.LPM)]; !ok {
		return fmt.Errorf("%w: lpm %q (want one of %s)", ErrInvalidConfig, c.LPM,
			strings.Join(slices.Sorted(slices.Values(lo.Without(lo.Keys(lpmModes), ""))), ", "))
	}
	if _, err := reg.NewPadCal(c.PadCal.Transp, c.PadCal.Transn, c.PadCal.Trim); err != nil {
		return fmt.Errorf("%w: padcal: %w", ErrInvalidConfig, err)
	}
	if dups := lo.FindDuplicatesBy(c.Endpoints, func(e Endpoint) uint8 { return e.Number }); len(dups) > 0 {
		return fmt.Errorf("%w: endpoint %d configured twice", ErrInvalidConfig, dups[0].Number)
	}
	for _, e := range c.Endpoints {
		if int(e.Number) >= c.MaxEndpoints {
			return fmt.Errorf("%w: endpoint %d beyond max_endpoints %d", ErrInvalidConfig, e.Number, c.MaxEndpoints)
		}
		if _, _, err := e.Types(); err != nil {
			return err
		}
	}
	return nil
}

// Endpoint returns the configured endpoint numbered n.
func (c Config) Endpoint(n uint8) (Endpoint, bool) {
	return lo.Find(c.Endpoints, func(e Endpoint) bool { return e.Number == n })
}

// Device returns the controller configuration. The control buffer is
// allocated by the runner.
func (c Config) Device() (device.Config, error) {
	pad, err := reg.NewPadCal(c.PadCal.Transp, c.PadCal.Transn, c.PadCal.Trim)
	if err != nil {
		return device.Config{}, fmt.Errorf("%w: padcal: %w", ErrInvalidConfig, err)
	}
	return device.Config{
		MaxEndpoints: c.MaxEndpoints,
		PadCal:       pad,
		SyncTimeout:  c.SyncTimeout,
		LPM:          lpmModes[strings.ToLower(c.LPM)],
		RunStandby:   c.RunStandby,
	}, nil
}
