// Package config defines the JSON configuration of the motor controller.
package config

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/motorctl/board"
	"go.viam.com/motorctl/logging"
	"go.viam.com/motorctl/motor"
	"go.viam.com/motorctl/preset"
	"go.viam.com/motorctl/safety"
)

// Config describes how the controller is wired and where it keeps its data.
type Config struct {
	ConfigFilePath string `json:"-"`

	Slots           []SlotConfig                  `json:"slots,omitempty"`
	EstopPin        int                           `json:"estop_pin"`
	StatusLEDPin    int                           `json:"status_led_pin"`
	EstopDebounceMs int                           `json:"estop_debounce_ms"`
	DataDir         string                        `json:"data_dir,omitempty"`
	PresetDir       string                        `json:"preset_dir"`
	LogConfig       []logging.LoggerPatternConfig `json:"log,omitempty"`
	LogFile         string                        `json:"log_file,omitempty"`
	Debug           bool                          `json:"debug,omitempty"`
}

// SlotConfig configures one motor slot at startup.
type SlotConfig struct {
	Slot int `json:"slot"`
	// Type is a motor type code. When unset the slot keeps its stored type.
	Type *int `json:"type,omitempty"`
	// Pins overrides individual pins using the same keys as a configure request.
	Pins map[string]interface{} `json:"pins,omitempty"`
}

// Default returns the configuration of the reference board.
func Default() Config {
	return Config{
		EstopPin:        int(safety.DefaultEstopPin),
		StatusLEDPin:    int(safety.DefaultLEDPin),
		EstopDebounceMs: int(safety.DefaultDebounce / time.Millisecond),
		PresetDir:       preset.DefaultDir,
	}
}

// EstopDebounce returns the emergency stop debounce window.
func (c *Config) EstopDebounce() time.Duration {
	return time.Duration(c.EstopDebounceMs) * time.Millisecond
}

// SafetyConfig returns the safety monitor settings described by c.
func (c *Config) SafetyConfig() safety.Config {
	return safety.Config{
		EstopPin: board.PinNumber(c.EstopPin),
		LEDPin:   board.PinNumber(c.StatusLEDPin),
		Debounce: c.EstopDebounce(),
	}
}

// Validate returns the first problem found in c.
func (c *Config) Validate(path string) error {
	if err := validatePin(c.EstopPin); err != nil {
		return utils.NewConfigValidationError(joinPath(path, "estop_pin"), err)
	}
	if err := validatePin(c.StatusLEDPin); err != nil {
		return utils.NewConfigValidationError(joinPath(path, "status_led_pin"), err)
	}
	if c.EstopPin == c.StatusLEDPin && c.EstopPin != int(board.NoPin) {
		return utils.NewConfigValidationError(path, errors.Errorf("estop_pin and status_led_pin are both %d", c.EstopPin))
	}
	if c.EstopDebounceMs < 0 {
		return utils.NewConfigValidationError(joinPath(path, "estop_debounce_ms"), errors.New("must not be negative"))
	}
	if c.PresetDir == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "preset_dir")
	}

	seen := map[int]bool{}
	for idx, slot := range c.Slots {
		slotPath := joinPath(path, fmt.Sprintf("slots.%d", idx))
		if err := slot.Validate(slotPath); err != nil {
			return err
		}
		if seen[slot.Slot] {
			return utils.NewConfigValidationError(slotPath, errors.Errorf("slot %d configured twice", slot.Slot))
		}
		seen[slot.Slot] = true
	}

	for idx, lpc := range c.LogConfig {
		logPath := joinPath(path, fmt.Sprintf("log.%d", idx))
		if !logging.ValidatePattern(lpc.Pattern) {
			return utils.NewConfigValidationError(logPath, errors.Errorf("invalid logger pattern %q", lpc.Pattern))
		}
		if _, err := logging.LevelFromString(lpc.Level); err != nil {
			return utils.NewConfigValidationError(logPath, err)
		}
	}
	return nil
}

// Validate checks the slot index and type code.
func (sc *SlotConfig) Validate(path string) error {
	if !motor.ValidSlot(sc.Slot) {
		return utils.NewConfigValidationError(path, motor.NewInvalidSlotError(sc.Slot))
	}
	if sc.Type != nil {
		if _, err := motor.TypeFromCode(*sc.Type); err != nil {
			return utils.NewConfigValidationError(path, err)
		}
	}
	return nil
}

func validatePin(pin int) error {
	if pin < 0 || pin > int(board.NoPin) {
		return errors.Errorf("pin %d out of range", pin)
	}
	return nil
}

func joinPath(path, field string) string {
	if path == "" {
		return field
	}
	return path + "." + field
}
