package motor

import "math"

// Limits is an optional position window. Disabled limits contain every position.
type Limits struct {
	enabled bool
	min     int32
	max     int32
}

// NewLimits returns disabled limits.
func NewLimits() *Limits {
	return &Limits{min: math.MinInt32, max: math.MaxInt32}
}

// Set enables the window [min, max]. Swapped bounds are reordered.
func (l *Limits) Set(min, max int32) {
	if min > max {
		min, max = max, min
	}
	l.enabled = true
	l.min = min
	l.max = max
}

// Clear disables the window.
func (l *Limits) Clear() {
	l.enabled = false
	l.min = math.MinInt32
	l.max = math.MaxInt32
}

// Enabled reports whether the window is active.
func (l *Limits) Enabled() bool {
	return l.enabled
}

// Bounds returns the window; the full int32 range when disabled.
func (l *Limits) Bounds() (min, max int32) {
	return l.min, l.max
}

// Contains reports whether pos is inside the window.
func (l *Limits) Contains(pos int32) bool {
	if !l.enabled {
		return true
	}
	return pos >= l.min && pos <= l.max
}

// Clamp moves pos into the window.
func (l *Limits) Clamp(pos int32) int32 {
	if !l.enabled {
		return pos
	}
	if pos < l.min {
		return l.min
	}
	if pos > l.max {
		return l.max
	}
	return pos
}
