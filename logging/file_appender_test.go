package logging

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestFileAppender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "motorctl.log")
	appender := NewFileAppender(path)

	logger := NewBlankLogger("motorctl")
	logger.SetLevel(INFO)
	logger.AddAppender(appender)
	logger.Sublogger("registry").Infow("slot configured", "slot", 1)
	logger.Debug("not written")
	test.That(t, appender.Close(), test.ShouldBeNil)

	data, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldContainSubstring, "motorctl.registry")
	test.That(t, string(data), test.ShouldContainSubstring, "slot configured")
	test.That(t, string(data), test.ShouldContainSubstring, `{"slot":1}`)
	test.That(t, string(data), test.ShouldNotContainSubstring, "not written")
}
