// Package config holds the options of one compilation and loads them from YAML.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/x448/float16"
	yaml "gopkg.in/yaml.v3"
)

// Platforms accepted by Config.Platform.
const (
	PlatformMyriad2 = "myriad2"
	PlatformMyriadX = "myriadx"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Config configures a compilation.
type Config struct {
	// IgnoreUnknownLayers lowers operators without a rule to None stages instead of
	// failing the compilation.
	IgnoreUnknownLayers bool `yaml:"ignoreUnknownLayers"`

	// InputScale and InputBias are applied to every network input: scale*x + bias.
	InputScale float32 `yaml:"inputScale"`
	InputBias  float32 `yaml:"inputBias"`

	// CustomLayers is the path of a custom layer YAML file. It cannot be combined
	// with rules passed to the front end directly.
	CustomLayers string `yaml:"customLayers,omitempty"`

	// DisableConvertStages skips the numeric-format conversion pass. FP32 network
	// inputs and outputs are then stored as FP16.
	DisableConvertStages bool `yaml:"disableConvertStages"`

	// Debug options: lower everything, or the listed operator types, to None stages.
	SkipAllLayers  bool     `yaml:"skipAllLayers"`
	SkipLayerTypes []string `yaml:"skipLayerTypes,omitempty"`

	Platform string `yaml:"platform"`
	LogLevel string `yaml:"logLevel"`
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		InputScale: 1,
		InputBias:  0,
		Platform:   PlatformMyriadX,
		LogLevel:   "info",
	}
}

// Load reads a YAML configuration file on top of Default.
func Load(path string) (Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(buf)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(buf []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges. Scale and bias must be finite and representable in
// half precision since conversion stages carry them as FP16.
func (c Config) Validate() error {
	for _, v := range []struct {
		name  string
		value float32
	}{
		{"inputScale", c.InputScale},
		{"inputBias", c.InputBias},
	} {
		f := float64(v.value)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: %s must be finite", ErrInvalid, v.name)
		}
		if float16.PrecisionFromfloat32(v.value) == float16.PrecisionOverflow {
			return fmt.Errorf("%w: %s %g overflows FP16", ErrInvalid, v.name, v.value)
		}
	}
	if c.InputScale == 0 {
		return fmt.Errorf("%w: inputScale must not be zero", ErrInvalid)
	}

	switch c.Platform {
	case PlatformMyriad2, PlatformMyriadX:
	default:
		return fmt.Errorf("%w: unknown platform %q", ErrInvalid, c.Platform)
	}
	return nil
}

// SkipsLayer reports whether the debug options lower opType to a None stage.
func (c Config) SkipsLayer(opType string) bool {
	if c.SkipAllLayers {
		return true
	}
	for _, t := range c.SkipLayerTypes {
		if strings.EqualFold(strings.TrimSpace(t), opType) {
			return true
		}
	}
	return false
}

// HasScaleOrBias reports whether inputs need an affine adjustment.
func (c Config) HasScaleOrBias() bool {
	return c.InputScale != 1 || c.InputBias != 0
}
