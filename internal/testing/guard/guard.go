// Package guard switches the process into test mode. Import it for side
// effects from tests that build binaries or call app entry points.
package guard

import (
	"os"

	"github.com/odyssey-erp/odyssey-mfg/internal/app"
)

func init() {
	if os.Getenv(app.TestModeEnv) == "" {
		_ = os.Setenv(app.TestModeEnv, "1")
	}
	// app may have cached the flag during its own init.
	app.RefreshTestMode()
}
