// Package config loads the fattree configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/glennswest/fattree/pkg/controller"
	"github.com/glennswest/fattree/pkg/emulation"
	"github.com/glennswest/fattree/pkg/fabric"
)

// EnvPath names the environment variable that points at the config file.
const EnvPath = "FATTREE_CONFIG"

// Config is the fattree configuration. Zero values fall back to defaults.
type Config struct {
	// Topology
	K         int      `yaml:"k"`
	MaxK      int      `yaml:"maxK"`
	Bandwidth int      `yaml:"bandwidthMbps"`
	Delay     Duration `yaml:"delay"` // e.g. "1ms"

	// Controller. Timeouts are whole seconds; 0 keeps the entry forever.
	IdleTimeout  *int     `yaml:"idleTimeoutSeconds"`
	HardTimeout  *int     `yaml:"hardTimeoutSeconds"`
	TickInterval Duration `yaml:"tickInterval"`
	QueueDepth   int      `yaml:"queueDepth"`

	// Emulation
	STP      *bool `yaml:"stp"`
	HopLimit int   `yaml:"hopLimit"`

	// Outer surfaces
	APIAddr string `yaml:"apiAddr"` // e.g. ":8080"
	Format  string `yaml:"format"`  // description format, "yaml" or "json"
}

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// UnmarshalYAML accepts "1ms", "30s" and the like.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Defaults returns the configuration used when no file is given.
func Defaults() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.K == 0 {
		c.K = 4
	}
	if c.MaxK == 0 {
		c.MaxK = fabric.DefaultMaxK
	}
	if c.Bandwidth == 0 {
		c.Bandwidth = fabric.DefaultBandwidth
	}
	if c.Delay == 0 {
		c.Delay = Duration(fabric.DefaultDelay)
	}
	if c.IdleTimeout == nil {
		c.IdleTimeout = intPtr(10)
	}
	if c.HardTimeout == nil {
		c.HardTimeout = intPtr(30)
	}
	if c.TickInterval == 0 {
		c.TickInterval = Duration(time.Second)
	}
	if c.QueueDepth == 0 {
		c.QueueDepth = 1024
	}
	if c.STP == nil {
		stp := true
		c.STP = &stp
	}
	if c.HopLimit == 0 {
		c.HopLimit = 64
	}
	if c.APIAddr == "" {
		c.APIAddr = ":8080"
	}
	if c.Format == "" {
		c.Format = string(fabric.FormatYAML)
	}
}

func intPtr(v int) *int { return &v }

// Load reads path, or the file named by FATTREE_CONFIG when path is empty.
// With neither set it returns Defaults.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv(EnvPath)
	}
	if path == "" {
		return Defaults(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML, fills defaults and validates.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges. k itself is checked by the topology builder so the
// error carries the builder's reason.
func (c Config) Validate() error {
	var errs []error
	if c.MaxK < 0 {
		errs = append(errs, fmt.Errorf("maxK must not be negative, got %d", c.MaxK))
	}
	if c.Bandwidth < 0 {
		errs = append(errs, fmt.Errorf("bandwidthMbps must not be negative, got %d", c.Bandwidth))
	}
	if c.Delay < 0 {
		errs = append(errs, fmt.Errorf("delay must not be negative, got %s", time.Duration(c.Delay)))
	}
	if c.IdleTimeout != nil && (*c.IdleTimeout < 0 || *c.IdleTimeout > 0xffff) {
		errs = append(errs, fmt.Errorf("idleTimeoutSeconds must be in 0..65535, got %d", *c.IdleTimeout))
	}
	if c.HardTimeout != nil && (*c.HardTimeout < 0 || *c.HardTimeout > 0xffff) {
		errs = append(errs, fmt.Errorf("hardTimeoutSeconds must be in 0..65535, got %d", *c.HardTimeout))
	}
	if c.TickInterval < 0 {
		errs = append(errs, fmt.Errorf("tickInterval must not be negative, got %s", time.Duration(c.TickInterval)))
	}
	if c.QueueDepth < 0 {
		errs = append(errs, fmt.Errorf("queueDepth must not be negative, got %d", c.QueueDepth))
	}
	switch fabric.Format(c.Format) {
	case fabric.FormatYAML, fabric.FormatJSON, "":
	default:
		errs = append(errs, fmt.Errorf("format must be yaml or json, got %q", c.Format))
	}
	return errors.Join(errs...)
}

// BuildOpts returns the topology builder options.
func (c Config) BuildOpts() fabric.BuildOpts {
	return fabric.BuildOpts{
		MaxK:      c.MaxK,
		Bandwidth: c.Bandwidth,
		Delay:     time.Duration(c.Delay),
	}
}

// ControllerOpts returns the controller options. A configured timeout of 0
// means no timeout, which the controller spells as a negative duration.
func (c Config) ControllerOpts() controller.Opts {
	return controller.Opts{
		IdleTimeout:  timeout(c.IdleTimeout),
		HardTimeout:  timeout(c.HardTimeout),
		TickInterval: time.Duration(c.TickInterval),
		QueueDepth:   c.QueueDepth,
	}
}

func timeout(secs *int) time.Duration {
	if secs == nil {
		return 0
	}
	if *secs == 0 {
		return -1
	}
	return time.Duration(*secs) * time.Second
}

// EmulationOpts returns the emulated fabric options.
func (c Config) EmulationOpts() emulation.Opts {
	return emulation.Opts{
		DisableSTP: c.STP != nil && !*c.STP,
		HopLimit:   c.HopLimit,
	}
}
