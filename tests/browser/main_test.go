package browser

import (
	"os"
	"testing"
)

// TestMain stops the shared browser and twin after all tests complete.
func TestMain(m *testing.M) {
	code := m.Run()
	cleanupSharedBrowserTestEnv()
	os.Exit(code)
}
