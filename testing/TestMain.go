// Package testing switches the ledger binaries into test mode when imported for
// side effects, so their main functions return before touching Postgres or Redis.
package testing

import (
	"os"
	"sync"
)

// ModeEnv is read by app.InTestMode; keep the two names in sync.
const ModeEnv = "LEDGER_TEST_MODE"

var once sync.Once

// Enable sets the test mode flag for this process.
func Enable() {
	once.Do(func() {
		_ = os.Setenv(ModeEnv, "1")
	})
}

func init() {
	Enable()
}
