package safety

import "time"

// State is the safety state of the controller.
type State uint8

// State codes are reported as is.
const (
	StateNormal State = iota
	StateEstopActive
	StateLimitReached
	StateOvercurrent
	StateFault
)

var stateNames = [...]string{
	StateNormal:       "Normal",
	StateEstopActive:  "E-Stop Active",
	StateLimitReached: "Limit Reached",
	StateOvercurrent:  "Overcurrent",
	StateFault:        "Fault",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// Pattern is how the status LED shows a state.
type Pattern int

// The LED patterns.
const (
	PatternOff Pattern = iota
	PatternBlinkFast
	PatternBlinkSlow
	PatternSolid
)

const (
	fastBlinkPeriod = 100 * time.Millisecond
	slowBlinkPeriod = 500 * time.Millisecond
)

// LEDPattern returns the pattern showing s.
func LEDPattern(s State) Pattern {
	switch s {
	case StateNormal:
		return PatternOff
	case StateEstopActive:
		return PatternBlinkFast
	case StateLimitReached, StateOvercurrent:
		return PatternBlinkSlow
	case StateFault:
		return PatternSolid
	default:
		return PatternSolid
	}
}

// LEDLevel returns the LED level for s at now. Blinking patterns toggle every period.
func LEDLevel(s State, now time.Time) bool {
	var period time.Duration
	switch LEDPattern(s) {
	case PatternOff:
		return false
	case PatternSolid:
		return true
	case PatternBlinkFast:
		period = fastBlinkPeriod
	case PatternBlinkSlow:
		period = slowBlinkPeriod
	}
	return (now.UnixMilli()/period.Milliseconds())%2 == 1
}
