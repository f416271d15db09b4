package cli

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lacquerai/silhouette/internal/style"
	_ "github.com/lacquerai/silhouette/internal/testhelper"
)

const ansi = "[\u001B\u009B][[\\]()#;?]*(?:(?:(?:[a-zA-Z\\d]*(?:;[a-zA-Z\\d]*)*)?\u0007)|(?:(?:\\d{1,4}(?:;\\d{0,4})*)?[\\dA-PRZcf-ntqry=><~]))"

var (
	// use the rewrite-golden flag to rewrite the golden files
	rewriteGolden = flag.Bool("rewrite-golden", false, "rewrite the golden files")

	re     = regexp.MustCompile(ansi)
	timeRe = regexp.MustCompile(`\(\d+\.?\d*[a-zA-Z]+\)`) // matches patterns like (6.81s), (123ms), etc.
)

func TestMain(m *testing.M) {
	flag.Parse()

	// keep the user's config file and update cache out of the tests
	home, err := os.MkdirTemp("", "silq_cli_test_*")
	if err != nil {
		panic(err)
	}
	os.Setenv("HOME", home)
	os.Setenv(style.TestEnv, "true")

	code := m.Run()
	os.RemoveAll(home)
	os.Exit(code)
}

// executeCommand runs the root command with args and returns what it wrote to
// stdout and stderr. Every flag is reset to its default afterwards.
func executeCommand(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	t.Cleanup(func() { resetFlags(rootCmd) })

	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)
	rootCmd.SetOut(outBuf)
	rootCmd.SetErr(errBuf)
	rootCmd.SetArgs(args)

	err = rootCmd.Execute()
	return outBuf.String(), errBuf.String(), err
}

// resetFlags restores every flag of cmd and its children to its default.
// pflag keeps parsed values on the flag set, so commands shared between tests
// would otherwise see the flags of earlier runs.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// normalize strips colours and durations from command output.
func normalize(s string) string {
	return timeRe.ReplaceAllString(re.ReplaceAllString(s, ""), "(TIME)")
}

// testDirectory derives testdata/<kind>/<case> from the calling test name,
// e.g. Test_TwoClusters in run_test.go maps to testdata/run/two_clusters.
func testDirectory(t *testing.T, kind string) string {
	t.Helper()

	pc, _, _, _ := runtime.Caller(2)
	funcName := runtime.FuncForPC(pc).Name()
	if idx := strings.LastIndex(funcName, "."); idx != -1 {
		funcName = funcName[idx+1:]
	}
	funcName = strings.TrimPrefix(funcName, "Test_")

	return filepath.Join("testdata", kind, camelToSnake(funcName))
}

func assertGoldenFile(t *testing.T, directory string, stdout, stderr string) {
	t.Helper()

	goldenFile := filepath.Join(directory, "golden.txt")
	golden, err := os.ReadFile(goldenFile)

	actual := normalize(stdout) + "\nSTDERR:\n" + normalize(stderr)

	if os.IsNotExist(err) {
		golden = []byte(actual)
		err = os.WriteFile(goldenFile, golden, 0644)
		require.NoError(t, err)
	} else {
		require.NoError(t, err)
	}

	if *rewriteGolden {
		_ = os.WriteFile(goldenFile, []byte(actual), 0644)
		return
	}

	if !assert.Equal(t, string(golden), actual) {
		t.Logf("golden file %s differs, run with -rewrite-golden to update it", goldenFile)
	}
}

// camelToSnake converts a camelCase string to snake_case
func camelToSnake(s string) string {
	if len(s) == 0 {
		return s
	}

	var result []rune
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			result = append(result, '_')
		}
		result = append(result, r)
	}

	return strings.ToLower(string(result))
}
