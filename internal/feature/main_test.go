package feature

import (
	"os"
	"testing"

	_ "github.com/lacquerai/silhouette/internal/testhelper"
)

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
