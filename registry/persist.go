package registry

import (
	"context"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/motorctl/board"
	"go.viam.com/motorctl/motor"
	"go.viam.com/motorctl/storage/kv"
)

// Namespace is the key/value namespace holding the slot configuration.
const Namespace = "motors"

// ErrNoStore is returned by SaveConfig and LoadConfig on a registry built without a store.
var ErrNoStore = errors.New("registry has no configuration store")

// pinOverrides are the pin keys accepted by ConfigureSlotFromJSON. The driver specific aliases
// are applied after the generic keys.
type pinOverrides struct {
	PinA      *int `json:"pinA"`
	PinB      *int `json:"pinB"`
	PinEn     *int `json:"pinEn"`
	PinEx     *int `json:"pinEx"`
	StepPin   *int `json:"stepPin"`
	DirPin    *int `json:"dirPin"`
	EnablePin *int `json:"enablePin"`
	Pin       *int `json:"pin"`
	In1       *int `json:"in1"`
	In2       *int `json:"in2"`
	In3       *int `json:"in3"`
	In4       *int `json:"in4"`
}

// ConfigureSlotFromJSON configures slot starting from its current pins with the pin keys of a
// decoded JSON object applied on top. Unknown keys are ignored.
func (r *Registry) ConfigureSlotFromJSON(ctx context.Context, slot int, t motor.Type, overrides map[string]interface{}) error {
	if !motor.ValidSlot(slot) {
		return motor.NewInvalidSlotError(slot)
	}
	var o pinOverrides
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &o,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(overrides); err != nil {
		return errors.Wrapf(err, "bad pin configuration for slot %d", slot)
	}

	pins, err := r.Pins(slot)
	if err != nil {
		return err
	}
	for _, ov := range []struct {
		v   *int
		dst *board.PinNumber
	}{
		{o.PinA, &pins.Primary},
		{o.PinB, &pins.Secondary},
		{o.PinEn, &pins.Enable},
		{o.PinEx, &pins.Extra},
		{o.StepPin, &pins.Primary},
		{o.DirPin, &pins.Secondary},
		{o.EnablePin, &pins.Enable},
		{o.Pin, &pins.Primary},
		{o.In1, &pins.Primary},
		{o.In2, &pins.Secondary},
		{o.In3, &pins.Enable},
		{o.In4, &pins.Extra},
	} {
		if ov.v == nil {
			continue
		}
		if *ov.v < 0 || *ov.v > int(board.NoPin) {
			return errors.Errorf("pin %d out of range for slot %d", *ov.v, slot)
		}
		*ov.dst = board.PinNumber(*ov.v)
	}
	return r.ConfigureSlot(ctx, slot, t, pins)
}

func slotKey(name string, slot int) string {
	return fmt.Sprintf("%s%d", name, slot)
}

// SaveConfig writes the type and pins of every slot to the store.
func (r *Registry) SaveConfig() error {
	if r.store == nil {
		return ErrNoStore
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	for i, s := range r.slots {
		err = multierr.Combine(err, kv.PutUint8(r.store, Namespace, slotKey("type", i), uint8(s.typ)))
		for j, p := range s.pins.All() {
			err = multierr.Combine(err, kv.PutUint8(r.store, Namespace, slotKey(pinKeys[j], i), uint8(p)))
		}
	}
	if err != nil {
		return errors.Wrap(err, "cannot save motor configuration")
	}
	r.logger.Info("motor configuration saved")
	return nil
}

var pinKeys = [4]string{"pinA", "pinB", "pinEn", "pinEx"}

// LoadConfig restores the pins of every slot from the store, falling back to the board
// defaults, and reconfigures every slot whose stored type is not TypeNone. A slot that fails
// to load does not keep the others from loading.
func (r *Registry) LoadConfig(ctx context.Context) error {
	if r.store == nil {
		return ErrNoStore
	}
	var errs error
	for i := 0; i < motor.MaxSlots; i++ {
		if err := r.loadSlot(ctx, i); err != nil {
			errs = multierr.Combine(errs, errors.Wrapf(err, "slot %d", i))
		}
	}
	r.logger.Infow("motor configuration loaded", "configured", r.ConfiguredCount())
	return errs
}

func (r *Registry) loadSlot(ctx context.Context, slot int) error {
	code, err := kv.GetUint8(r.store, Namespace, slotKey("type", slot), uint8(motor.TypeNone))
	if err != nil {
		return err
	}
	t, err := motor.TypeFromCode(int(code))
	if err != nil {
		return err
	}
	defaults := motor.DefaultPins[slot].All()
	var pins [4]board.PinNumber
	for j := range pins {
		v, err := kv.GetUint8(r.store, Namespace, slotKey(pinKeys[j], slot), uint8(defaults[j]))
		if err != nil {
			return err
		}
		pins[j] = board.PinNumber(v)
	}
	assignment := motor.PinAssignment{Primary: pins[0], Secondary: pins[1], Enable: pins[2], Extra: pins[3]}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t == motor.TypeNone {
		r.slots[slot].pins = assignment
		return nil
	}
	return r.configureLocked(ctx, slot, t, assignment)
}
