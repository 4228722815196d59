package logging

import (
	"strings"
	"testing"

	"go.viam.com/test"
)

func verifySetLevels(registry *Registry, expectedMatches map[string]string) bool {
	for name, level := range expectedMatches {
		logger, ok := registry.LoggerNamed(name)
		if !ok || !strings.EqualFold(level, logger.GetLevel().String()) {
			return false
		}
	}
	return true
}

func createTestRegistry(loggerNames []string) *Registry {
	registry := NewRegistry(INFO)
	for _, name := range loggerNames {
		registry.Register(NewBlankLogger(name))
	}
	return registry
}

func TestValidatePattern(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pattern string
		isValid bool
	}{
		{"motorctl.registry", true},
		{"motorctl.registry.*", true},
		{"motorctl.*.slot0", true},
		{"*.safety", true},
		{"*", true},

		{"motorctl..registry", false},
		{"motorctl.registry.", false},
		{".motorctl.registry", false},
		{"motorctl.registry.**", false},
		{"_.motorctl", false},
		{"motorctl.-", false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.pattern, func(t *testing.T) {
			t.Parallel()
			test.That(t, ValidatePattern(tc.pattern), test.ShouldEqual, tc.isValid)
		})
	}
}

func TestUpdateLoggerRegistry(t *testing.T) {
	tests := []struct {
		loggerConfig    []LoggerPatternConfig
		loggerNames     []string
		expectedMatches map[string]string
	}{
		{
			loggerConfig: []LoggerPatternConfig{{Pattern: "motorctl.registry", Level: "WARN"}},
			loggerNames:  []string{"motorctl.registry", "motorctl.registry.slot0", "motorctl.safety"},
			expectedMatches: map[string]string{
				"motorctl.registry":       "WARN",
				"motorctl.registry.slot0": "INFO",
				"motorctl.safety":         "INFO",
			},
		},
		{
			loggerConfig: []LoggerPatternConfig{{Pattern: "motorctl.*", Level: "DEBUG"}},
			loggerNames:  []string{"motorctl.registry", "motorctl.preset.sequencer"},
			expectedMatches: map[string]string{
				"motorctl.registry":         "DEBUG",
				"motorctl.preset.sequencer": "DEBUG",
			},
		},
		{
			loggerConfig: []LoggerPatternConfig{
				{Pattern: "motorctl.*", Level: "DEBUG"},
				{Pattern: "motorctl.tasks", Level: "ERROR"},
			},
			loggerNames: []string{"motorctl.tasks", "motorctl.safety"},
			expectedMatches: map[string]string{
				"motorctl.tasks":  "ERROR",
				"motorctl.safety": "DEBUG",
			},
		},
		{
			loggerConfig: []LoggerPatternConfig{{Pattern: "motorctl..bad", Level: "DEBUG"}},
			loggerNames:  []string{"motorctl.safety"},
			expectedMatches: map[string]string{
				"motorctl.safety": "INFO",
			},
		},
	}

	for _, tc := range tests {
		registry := createTestRegistry(tc.loggerNames)
		err := registry.UpdateConfig(tc.loggerConfig, NewBlankLogger("error"))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, verifySetLevels(registry, tc.expectedMatches), test.ShouldBeTrue)
	}
}

func TestRegisterAfterConfig(t *testing.T) {
	registry := NewRegistry(INFO)
	err := registry.UpdateConfig([]LoggerPatternConfig{{Pattern: "*.safety", Level: "error"}}, NewBlankLogger("error"))
	test.That(t, err, test.ShouldBeNil)

	logger := registry.Register(NewBlankLogger("motorctl.safety"))
	test.That(t, logger.GetLevel(), test.ShouldEqual, ERROR)

	again := registry.Register(NewBlankLogger("motorctl.safety"))
	test.That(t, again, test.ShouldEqual, logger)
}
