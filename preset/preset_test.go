package preset

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gopkg.in/src-d/go-billy.v4/memfs"
	"gopkg.in/src-d/go-billy.v4/util"

	"go.viam.com/motorctl/logging"
	"go.viam.com/motorctl/motor"
)

func samplePreset() Preset {
	return Preset{
		Name: "wave",
		Loop: true,
		Steps: []Step{
			{DelayAfter: 250, Commands: []motor.CommandRequest{
				{Slot: 1, Command: motor.CommandSetAngle, Value: 30, Duration: 200},
				{Slot: 2, Command: motor.CommandSetPosition, Value: -400},
			}},
			{DelayAfter: 0, Commands: []motor.CommandRequest{}},
			{DelayAfter: 1000, Commands: []motor.CommandRequest{{Slot: 0, Command: motor.CommandSetSpeed, Value: 180}}},
		},
	}
}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"wave", "Pick and Place", "v1.2", "a_b-c", strings.Repeat("x", MaxNameLength)} {
		test.That(t, ValidateName(name), test.ShouldBeNil)
	}
	for _, name := range []string{"", ".", "..", "../etc", "a/b", "semi;colon", strings.Repeat("x", MaxNameLength+1)} {
		err := ValidateName(name)
		test.That(t, errors.Is(err, ErrInvalidName), test.ShouldBeTrue)
	}
}

func TestEncodeDecode(t *testing.T) {
	p := samplePreset()
	data, err := Encode(p)
	test.That(t, err, test.ShouldBeNil)

	var raw map[string]interface{}
	test.That(t, json.Unmarshal(data, &raw), test.ShouldBeNil)
	test.That(t, raw["stepCount"], test.ShouldEqual, 3)
	steps := raw["steps"].([]interface{})
	test.That(t, steps[0].(map[string]interface{})["commandCount"], test.ShouldEqual, 2)
	test.That(t, steps[1].(map[string]interface{})["commands"], test.ShouldResemble, []interface{}{})

	decoded, err := Decode(data, "ignored")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cmp.Diff(p, decoded), test.ShouldBeEmpty)

	_, err = Decode([]byte("{nope"), "x")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDecodeTruncates(t *testing.T) {
	var sb strings.Builder
	sb.WriteString(`{"stepCount":999,"steps":[`)
	for i := 0; i < MaxSteps+6; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`{"delayAfter":10,"commandCount":6,"commands":[`)
		for j := 0; j < 6; j++ {
			if j > 0 {
				sb.WriteString(",")
			}
			fmt.Fprintf(&sb, `{"slot":%d,"command":1,"value":%d}`, j%motor.MaxSlots, j)
		}
		sb.WriteString("]}")
	}
	sb.WriteString("]}")

	p, err := Decode([]byte(sb.String()), "fallback")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Name, test.ShouldEqual, "fallback")
	test.That(t, p.Steps, test.ShouldHaveLength, MaxSteps)
	test.That(t, p.Steps[MaxSteps-1].Commands, test.ShouldHaveLength, MaxCommandsPerStep)
	test.That(t, p.Steps[0].Commands[3].Value, test.ShouldEqual, 3)
}

func TestFromUserDocument(t *testing.T) {
	p, err := FromUserDocument([]byte(`{"steps":[{"commands":[{"slot":0,"command":1,"value":50}]},{"delayAfter":0}]}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Name, test.ShouldEqual, DefaultName)
	test.That(t, p.Loop, test.ShouldBeFalse)
	test.That(t, p.Steps, test.ShouldHaveLength, 2)
	test.That(t, p.Steps[0].DelayAfter, test.ShouldEqual, DefaultStepDelay)
	test.That(t, p.Steps[1].DelayAfter, test.ShouldEqual, 0)
	test.That(t, p.Steps[1].Commands, test.ShouldBeEmpty)

	_, err = FromUserDocument([]byte(`[1,2]`))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestAddStep(t *testing.T) {
	var p Preset
	cmds := make([]motor.CommandRequest, 6)
	test.That(t, p.AddStep(Step{Commands: cmds}), test.ShouldBeTrue)
	test.That(t, p.Steps[0].Commands, test.ShouldHaveLength, MaxCommandsPerStep)

	// the step keeps its own copy of the commands
	cmds[0].Value = 99
	test.That(t, p.Steps[0].Commands[0].Value, test.ShouldEqual, 0)

	for len(p.Steps) < MaxSteps {
		test.That(t, p.AddStep(Step{}), test.ShouldBeTrue)
	}
	test.That(t, p.AddStep(Step{}), test.ShouldBeFalse)
	test.That(t, p.Steps, test.ShouldHaveLength, MaxSteps)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(memfs.New(), "", logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return s
}

func TestStore(t *testing.T) {
	s := newTestStore(t)

	names, err := s.List()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, names, test.ShouldBeEmpty)
	test.That(t, s.Exists("wave"), test.ShouldBeFalse)

	p := samplePreset()
	test.That(t, s.Save(p), test.ShouldBeNil)
	other := samplePreset()
	other.Name = "alpha"
	other.Loop = false
	test.That(t, s.Save(other), test.ShouldBeNil)

	names, err = s.List()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, names, test.ShouldResemble, []string{"alpha", "wave"})
	count, err := s.Count()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, count, test.ShouldEqual, 2)
	test.That(t, s.Exists("wave"), test.ShouldBeTrue)

	loaded, err := s.Load("wave")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cmp.Diff(p, loaded), test.ShouldBeEmpty)

	// saving over a name replaces the preset
	p.Loop = false
	test.That(t, s.Save(p), test.ShouldBeNil)
	loaded, err = s.Load("wave")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loaded.Loop, test.ShouldBeFalse)

	test.That(t, s.Delete("wave"), test.ShouldBeNil)
	_, err = s.Load("wave")
	test.That(t, errors.Is(err, ErrNotFound), test.ShouldBeTrue)
	test.That(t, errors.Is(s.Delete("wave"), ErrNotFound), test.ShouldBeTrue)

	test.That(t, errors.Is(s.Save(Preset{Name: "../x"}), ErrInvalidName), test.ShouldBeTrue)
	_, err = s.Load("a/b")
	test.That(t, errors.Is(err, ErrInvalidName), test.ShouldBeTrue)
}

func TestStoreIgnoresForeignFiles(t *testing.T) {
	fs := memfs.New()
	s, err := NewStore(fs, "/data/presets", logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, util.WriteFile(fs, "/data/presets/notes.txt", []byte("hi"), 0o644), test.ShouldBeNil)
	test.That(t, fs.MkdirAll("/data/presets/sub.json", 0o755), test.ShouldBeNil)
	test.That(t, util.WriteFile(fs, "/data/presets/broken.json", []byte("{"), 0o644), test.ShouldBeNil)

	names, err := s.List()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, names, test.ShouldResemble, []string{"broken"})
	_, err = s.Load("broken")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrNotFound), test.ShouldBeFalse)
}
