// Package testing switches the process into test mode when imported by a
// test binary. Binaries that honour app.InTestMode skip their listeners and
// background workers.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("MIND_TEST_MODE", "1")
	})
}

func init() {
	ensureTestMode()
}

// TestMain can be re-exported by packages that want an explicit entry point.
func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
