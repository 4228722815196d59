package motor

import "go.viam.com/motorctl/board"

// PinAssignment is the four pins wired to a slot. Their meaning depends on the driver: H-bridge
// legs and enable for DC motors, signal for servos, step/dir/enable for step/dir steppers and
// the four coil inputs for 4-phase steppers.
type PinAssignment struct {
	Primary   board.PinNumber `json:"pinA"`
	Secondary board.PinNumber `json:"pinB"`
	Enable    board.PinNumber `json:"pinEn"`
	Extra     board.PinNumber `json:"pinEx"`
}

// NoPins is an assignment with every pin unused.
var NoPins = PinAssignment{board.NoPin, board.NoPin, board.NoPin, board.NoPin}

// DefaultPins are the board wiring of each slot.
var DefaultPins = [MaxSlots]PinAssignment{
	{Primary: 25, Secondary: 26, Enable: 27, Extra: 2},
	{Primary: 14, Secondary: 12, Enable: 13, Extra: 5},
	{Primary: 32, Secondary: 33, Enable: 15, Extra: 18},
	{Primary: 16, Secondary: 17, Enable: 4, Extra: 19},
}

// All returns the pins in Primary, Secondary, Enable, Extra order.
func (p PinAssignment) All() [4]board.PinNumber {
	return [4]board.PinNumber{p.Primary, p.Secondary, p.Enable, p.Extra}
}
