package kv

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
	"gopkg.in/src-d/go-billy.v4/memfs"
	"gopkg.in/src-d/go-billy.v4/util"
)

func TestFileStore(t *testing.T) {
	fs := memfs.New()
	s, err := NewFileStore(fs, "/data")
	test.That(t, err, test.ShouldBeNil)

	_, err = s.Get("motors", "type0")
	test.That(t, errors.Is(err, ErrNotFound), test.ShouldBeTrue)

	test.That(t, s.Put("motors", "type0", "3"), test.ShouldBeNil)
	test.That(t, s.Put("motors", "pinA0", "25"), test.ShouldBeNil)
	test.That(t, s.Put("wifi", "ssid", "shop"), test.ShouldBeNil)

	v, err := s.Get("motors", "type0")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, "3")

	keys, err := s.Keys("motors")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, keys, test.ShouldResemble, []string{"pinA0", "type0"})

	// a second store on the same filesystem sees the persisted values
	s2, err := NewFileStore(fs, "/data")
	test.That(t, err, test.ShouldBeNil)
	v, err = s2.Get("wifi", "ssid")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, "shop")

	test.That(t, s2.Delete("motors", "type0"), test.ShouldBeNil)
	test.That(t, s2.Delete("motors", "missing"), test.ShouldBeNil)
	s3, err := NewFileStore(fs, "/data")
	test.That(t, err, test.ShouldBeNil)
	_, err = s3.Get("motors", "type0")
	test.That(t, errors.Is(err, ErrNotFound), test.ShouldBeTrue)
}

func TestUint8Helpers(t *testing.T) {
	s, err := NewFileStore(memfs.New(), "/")
	test.That(t, err, test.ShouldBeNil)

	v, err := GetUint8(s, "motors", "pinB1", 12)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 12)

	test.That(t, PutUint8(s, "motors", "pinB1", 33), test.ShouldBeNil)
	v, err = GetUint8(s, "motors", "pinB1", 12)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 33)

	test.That(t, s.Put("motors", "pinB1", "nope"), test.ShouldBeNil)
	_, err = GetUint8(s, "motors", "pinB1", 12)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCorruptNamespace(t *testing.T) {
	fs := memfs.New()
	test.That(t, util.WriteFile(fs, "/data/motors.json", []byte("{not json"), 0o644), test.ShouldBeNil)
	s, err := NewFileStore(fs, "/data")
	test.That(t, err, test.ShouldBeNil)
	_, err = s.Get("motors", "type0")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "corrupt")
}
