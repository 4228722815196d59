package motor

// maxErrorLength bounds the error string kept by a driver.
const maxErrorLength = 63

// Base holds the bookkeeping every driver carries. Drivers embed it.
type Base struct {
	slot         int
	motorType    Type
	enabled      bool
	limits       *Limits
	currentLimit float64
	lastError    string
}

// NewBase returns the base of a disabled driver in slot with no limits.
func NewBase(slot int, motorType Type) Base {
	return Base{
		slot:         slot,
		motorType:    motorType,
		limits:       NewLimits(),
		currentLimit: DefaultCurrentLimit,
	}
}

// Slot returns the slot the driver was built for.
func (b *Base) Slot() int { return b.slot }

// Type returns the driver type.
func (b *Base) Type() Type { return b.motorType }

// IsEnabled reports the enabled flag.
func (b *Base) IsEnabled() bool { return b.enabled }

// SetEnabled records whether the driver is enabled.
func (b *Base) SetEnabled(enabled bool) { b.enabled = enabled }

// Limits returns the driver's position window.
func (b *Base) Limits() *Limits { return b.limits }

// CurrentLimit returns the informational current limit in amps.
func (b *Base) CurrentLimit() float64 { return b.currentLimit }

// SetCurrentLimit records the current limit. It is not enforced by any driver.
func (b *Base) SetCurrentLimit(amps float64) { b.currentLimit = amps }

// LastError returns the last recorded runtime fault, empty if none.
func (b *Base) LastError() string { return b.lastError }

// HasError reports whether a fault is recorded.
func (b *Base) HasError() bool { return b.lastError != "" }

// ClearError forgets the recorded fault.
func (b *Base) ClearError() { b.lastError = "" }

// SetError records a runtime fault, truncated to a short message.
func (b *Base) SetError(msg string) {
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength]
	}
	b.lastError = msg
}

// BaseStatus fills the fields of a Status common to all drivers.
func (b *Base) BaseStatus(moving bool, position int32, speed float64) Status {
	return Status{
		Slot:     b.slot,
		Type:     b.motorType,
		TypeName: b.motorType.String(),
		Enabled:  b.enabled,
		Moving:   moving,
		Position: position,
		Speed:    speed,
		Error:    b.lastError,
	}
}
