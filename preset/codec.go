package preset

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/motorctl/motor"
)

type document struct {
	Name      string         `json:"name"`
	StepCount int            `json:"stepCount"`
	Loop      bool           `json:"loop"`
	Steps     []stepDocument `json:"steps"`
}

type stepDocument struct {
	DelayAfter   uint16                 `json:"delayAfter"`
	CommandCount int                    `json:"commandCount"`
	Commands     []motor.CommandRequest `json:"commands"`
}

// userDocument is a preset as supplied through the API, where fields may be missing.
type userDocument struct {
	Name  *string `json:"name"`
	Loop  bool    `json:"loop"`
	Steps []struct {
		DelayAfter *uint16                `json:"delayAfter"`
		Commands   []motor.CommandRequest `json:"commands"`
	} `json:"steps"`
}

// Encode renders p as a stored preset document.
func Encode(p Preset) ([]byte, error) {
	doc := document{
		Name:      p.Name,
		StepCount: len(p.Steps),
		Loop:      p.Loop,
		Steps: lo.Map(p.Steps, func(s Step, _ int) stepDocument {
			return stepDocument{
				DelayAfter:   s.DelayAfter,
				CommandCount: len(s.Commands),
				Commands:     lo.Ternary(s.Commands == nil, []motor.CommandRequest{}, s.Commands),
			}
		}),
	}
	return json.Marshal(doc)
}

// Decode parses a stored preset document. A document without a name takes fallbackName. Steps
// and commands beyond the capacities are dropped; the stored counts are ignored.
func Decode(data []byte, fallbackName string) (Preset, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Preset{}, errors.Wrap(err, "cannot parse preset")
	}
	p := Preset{
		Name: lo.Ternary(doc.Name == "", fallbackName, doc.Name),
		Loop: doc.Loop,
		Steps: lo.Map(doc.Steps, func(s stepDocument, _ int) Step {
			return Step{DelayAfter: s.DelayAfter, Commands: s.Commands}
		}),
	}
	p.Truncate()
	return p, nil
}

// FromUserDocument parses a preset supplied through the API. A missing name is DefaultName and
// a step without a delay waits DefaultStepDelay.
func FromUserDocument(data []byte) (Preset, error) {
	var doc userDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return Preset{}, errors.Wrap(err, "invalid preset format")
	}
	p := Preset{Name: DefaultName, Loop: doc.Loop}
	if doc.Name != nil {
		p.Name = *doc.Name
	}
	for _, s := range doc.Steps {
		step := Step{DelayAfter: DefaultStepDelay, Commands: s.Commands}
		if s.DelayAfter != nil {
			step.DelayAfter = *s.DelayAfter
		}
		if !p.AddStep(step) {
			break
		}
	}
	return p, nil
}
