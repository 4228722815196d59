package registry

import (
	"context"

	"go.viam.com/motorctl/motor"
	"go.viam.com/motorctl/motor/dc"
	"go.viam.com/motorctl/motor/servo"
	"go.viam.com/motorctl/motor/stepdir"
	"go.viam.com/motorctl/motor/unipolar"
)

// SendCommand runs one command against the driver in req.Slot. A command that does not apply
// to the driver's family fails with motor.ErrUnsupportedCommand and changes nothing.
func (r *Registry) SendCommand(ctx context.Context, req motor.CommandRequest) error {
	slot := int(req.Slot)
	if !motor.ValidSlot(slot) {
		return motor.NewInvalidSlotError(slot)
	}
	if !req.Command.Valid() {
		return motor.NewUnknownCommandError(req.Command.String())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &r.slots[slot]
	if s.driver == nil {
		return motor.NewNotConfiguredError(slot)
	}
	if r.gate != nil {
		if err := r.gate(req); err != nil {
			return err
		}
	}
	if req.Command == motor.CommandStop {
		return s.driver.Stop(ctx)
	}

	switch d := s.driver.(type) {
	case *dc.Motor:
		return dispatchDC(ctx, d, req)
	case *servo.Motor:
		return dispatchServo(ctx, d, req)
	case *stepdir.Motor:
		return dispatchStepDir(ctx, d, req)
	case *unipolar.Motor:
		return dispatchUnipolar(d, req)
	default:
		return motor.NewUnsupportedCommandError(req.Command, s.typ)
	}
}

func dispatchDC(ctx context.Context, m *dc.Motor, req motor.CommandRequest) error {
	switch req.Command {
	case motor.CommandSetSpeed:
		m.SetSpeed(int(req.Value))
	case motor.CommandBrake:
		return m.Brake(ctx)
	case motor.CommandCoast:
		return m.Coast(ctx)
	default:
		return motor.NewUnsupportedCommandError(req.Command, m.Type())
	}
	return nil
}

func dispatchServo(ctx context.Context, m *servo.Motor, req motor.CommandRequest) error {
	switch req.Command {
	case motor.CommandSetAngle:
		if req.Duration > 0 {
			return m.SetAngleSmooth(ctx, int(req.Value), req.Duration)
		}
		return m.SetAngle(ctx, int(req.Value))
	case motor.CommandEnable:
		return m.Attach(ctx)
	case motor.CommandDisable:
		return m.Detach(ctx)
	case motor.CommandHome:
		return m.SetAngle(ctx, servo.CenterAngle)
	default:
		return motor.NewUnsupportedCommandError(req.Command, m.Type())
	}
}

func dispatchStepDir(ctx context.Context, m *stepdir.Motor, req motor.CommandRequest) error {
	switch req.Command {
	case motor.CommandSetSpeed:
		m.SetSpeed(float64(req.Value))
	case motor.CommandSetPosition:
		m.MoveTo(req.Value)
	case motor.CommandMoveRelative:
		m.MoveRelative(req.Value)
	case motor.CommandEnable:
		return m.Enable(ctx)
	case motor.CommandDisable:
		return m.Disable(ctx)
	case motor.CommandHome:
		m.MoveTo(0)
	default:
		return motor.NewUnsupportedCommandError(req.Command, m.Type())
	}
	return nil
}

func dispatchUnipolar(m *unipolar.Motor, req motor.CommandRequest) error {
	switch req.Command {
	case motor.CommandSetSpeed:
		m.SetSpeedSteps(float64(req.Value))
	case motor.CommandSetPosition:
		m.MoveTo(req.Value)
	case motor.CommandMoveRelative:
		m.MoveRelative(req.Value)
	case motor.CommandHome:
		m.MoveTo(0)
	default:
		return motor.NewUnsupportedCommandError(req.Command, m.Type())
	}
	return nil
}
