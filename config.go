package adcmt

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that yaml can decode, from either a Go
// duration string ("3s", "150ms") or integer nanoseconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var ns int64
	if err := value.Decode(&ns); err == nil {
		*d = Duration(ns)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("%w: duration must be a string or integer nanoseconds", ErrInvalidParameter)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%w: bad duration %q", ErrInvalidParameter, s)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config holds everything needed to open and drive one multimeter.
// The framing bytes and timing constants default to values observed
// against real hardware but stay configurable, since firmware
// revisions may differ.
type Config struct {
	// USB identity of the instrument.
	VendorID  uint16 `yaml:"vendor_id"`
	ProductID uint16 `yaml:"product_id"`

	// Serial restricts Open to a specific unit when several are
	// attached. Empty matches the first device found.
	Serial string `yaml:"serial"`

	// Timeout bounds each command exchange.
	Timeout Duration `yaml:"timeout"`

	// MaxTimeouts is the number of consecutive exchange timeouts
	// tolerated before the engine faults.
	MaxTimeouts int `yaml:"max_timeouts"`

	// MaxFrameLen caps buffered bytes while waiting for a terminator.
	MaxFrameLen int `yaml:"max_frame_len"`

	// ReadBufferSize is the size of each bulk-in read.
	ReadBufferSize int `yaml:"read_buffer_size"`

	// Framing bytes.
	CommandTerminator  string `yaml:"command_terminator"`
	ResponseTerminator string `yaml:"response_terminator"`
	StatusPrefix       string `yaml:"status_prefix"`

	// Device timing.
	InitSettleDelay Duration `yaml:"init_settle_delay"`
	PostWriteDelay  Duration `yaml:"post_write_delay"`
	ReadSetupDelay  Duration `yaml:"read_setup_delay"`

	// Logger receives engine debug output. Defaults to the standard
	// logrus logger.
	Logger logrus.FieldLogger `yaml:"-"`
}

// DefaultConfig returns a Config with the 7351A/E+03 defaults.
func DefaultConfig() *Config {
	return &Config{
		VendorID:           DefaultVendorID,
		ProductID:          DefaultProductID,
		Timeout:            Duration(DefaultTimeout),
		MaxTimeouts:        DefaultMaxTimeouts,
		MaxFrameLen:        DefaultMaxFrameLen,
		ReadBufferSize:     DefaultReadBufferSize,
		CommandTerminator:  string(DefaultCommandTerminator),
		ResponseTerminator: string(DefaultResponseTerminator),
		StatusPrefix:       DefaultStatusPrefix,
		InitSettleDelay:    Duration(DefaultInitSettleDelay),
		PostWriteDelay:     Duration(DefaultPostWriteDelay),
		ReadSetupDelay:     Duration(DefaultReadSetupDelay),
	}
}

// LoadConfig reads a yaml config file, filling unset fields with
// defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize fills zero fields with defaults and validates the rest.
func (c *Config) normalize() error {
	def := DefaultConfig()
	if c.VendorID == 0 {
		c.VendorID = def.VendorID
	}
	if c.ProductID == 0 {
		c.ProductID = def.ProductID
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.MaxTimeouts <= 0 {
		c.MaxTimeouts = def.MaxTimeouts
	}
	if c.MaxFrameLen <= 0 {
		c.MaxFrameLen = def.MaxFrameLen
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = def.ReadBufferSize
	}
	if c.CommandTerminator == "" {
		c.CommandTerminator = def.CommandTerminator
	}
	if c.ResponseTerminator == "" {
		c.ResponseTerminator = def.ResponseTerminator
	}
	if c.StatusPrefix == "" {
		c.StatusPrefix = def.StatusPrefix
	}
	if c.InitSettleDelay <= 0 {
		c.InitSettleDelay = def.InitSettleDelay
	}
	if c.PostWriteDelay < 0 {
		c.PostWriteDelay = def.PostWriteDelay
	}
	if c.ReadSetupDelay < 0 {
		c.ReadSetupDelay = def.ReadSetupDelay
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c.validate()
}

func (c *Config) validate() error {
	if c.MaxFrameLen < HeaderSize {
		return fmt.Errorf("%w: max_frame_len %d below header size", ErrInvalidParameter, c.MaxFrameLen)
	}
	if c.ReadBufferSize < HeaderSize {
		return fmt.Errorf("%w: read_buffer_size %d below header size", ErrInvalidParameter, c.ReadBufferSize)
	}
	return nil
}
