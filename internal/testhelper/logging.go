// Package testhelper silences logging in tests. Blank-import it from a test
// package; set SILQ_TEST_LOG to keep log output.
package testhelper

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
)

// LogEnv enables log output in tests when set to any value.
const LogEnv = "SILQ_TEST_LOG"

func init() {
	if testing.Testing() && os.Getenv(LogEnv) == "" {
		zerolog.SetGlobalLevel(zerolog.Disabled)
	}
}

// TempFile writes content to a file in a per-test directory and returns its path.
func TempFile(t testing.TB, name, content string) string {
	t.Helper()
	path := t.TempDir() + string(os.PathSeparator) + name
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}
