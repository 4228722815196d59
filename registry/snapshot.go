package registry

import (
	"github.com/samber/lo"

	"go.viam.com/motorctl/motor"
)

// SlotSnapshot is the externally reported state of one slot.
type SlotSnapshot struct {
	Slot       int                 `json:"slot"`
	Configured bool                `json:"configured"`
	Type       motor.Type          `json:"type"`
	TypeName   string              `json:"typeName"`
	Pins       motor.PinAssignment `json:"pins"`
	Motor      *motor.Status       `json:"motor,omitempty"`
}

// Snapshot is the externally reported state of every slot.
type Snapshot struct {
	Slots           []SlotSnapshot `json:"slots"`
	ConfiguredCount int            `json:"configuredCount"`
}

// SnapshotAll reports every slot.
func (r *Registry) SnapshotAll() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Slots: lo.Map(r.slots[:], func(_ slot, i int) SlotSnapshot {
			return r.slotSnapshotLocked(i)
		}),
		ConfiguredCount: r.configuredCountLocked(),
	}
}

// SlotSnapshot reports one slot.
func (r *Registry) SlotSnapshot(slot int) (SlotSnapshot, error) {
	if !motor.ValidSlot(slot) {
		return SlotSnapshot{}, motor.NewInvalidSlotError(slot)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slotSnapshotLocked(slot), nil
}

func (r *Registry) slotSnapshotLocked(i int) SlotSnapshot {
	s := r.slots[i]
	snap := SlotSnapshot{
		Slot:       i,
		Configured: s.driver != nil,
		Type:       s.typ,
		TypeName:   s.typ.String(),
		Pins:       s.pins,
	}
	if s.driver != nil {
		st := s.driver.Status()
		snap.Motor = &st
	}
	return snap
}

// ReadState returns one command per configured slot that would put the motor back into its
// current state: the angle of a servo, the position of a stepper, the speed of a DC motor.
func (r *Registry) ReadState() []motor.CommandRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []motor.CommandRequest
	for i, s := range r.slots {
		if s.driver == nil {
			continue
		}
		req := motor.CommandRequest{Slot: uint8(i)}
		switch s.typ.Family() {
		case motor.FamilyServo:
			req.Command = motor.CommandSetAngle
			req.Value = s.driver.Position()
		case motor.FamilyStepDir, motor.FamilyUnipolar:
			req.Command = motor.CommandSetPosition
			req.Value = s.driver.Position()
		case motor.FamilyDC, motor.FamilyNone:
			req.Command = motor.CommandSetSpeed
			req.Value = int32(s.driver.Speed())
		}
		out = append(out, req)
	}
	return out
}
