// Package testing puts the process in test mode without importing app, so
// domain packages can use it from their own tests.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

var testEnv = map[string]string{
	"ODYSSEY_TEST_MODE": "1",
	"APP_ENV":           "test",
	"LOG_FORMAT":        "text",
}

func ensureTestMode() {
	once.Do(func() {
		for key, value := range testEnv {
			if os.Getenv(key) == "" {
				_ = os.Setenv(key, value)
			}
		}
	})
}

func init() {
	ensureTestMode()
}

// TestMain is usable as a package TestMain by packages that want the same
// environment explicitly.
func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
