package cli

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lacquerai/silhouette/internal/distance"
	"github.com/lacquerai/silhouette/internal/store"
	"github.com/lacquerai/silhouette/internal/style"
)

// Build-time variables (set by goreleaser or build scripts)
var (
	Version   = "dev"
	Commit    = "unknown"
	Date      = "unknown"
	BuiltBy   = "unknown"
	GoVersion = runtime.Version()
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  `Display version information for silq, including build details and the model file format it reads and writes.`,
	Example: `
  silq version               # Show the version
  silq version --verbose     # Show build details
  silq version --output json # Show version info as JSON`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		showVersion(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// VersionInfo represents version information
type VersionInfo struct {
	Version       string   `json:"version" yaml:"version"`
	Commit        string   `json:"commit" yaml:"commit"`
	Date          string   `json:"date" yaml:"date"`
	BuiltBy       string   `json:"built_by" yaml:"built_by"`
	GoVersion     string   `json:"go_version" yaml:"go_version"`
	Platform      string   `json:"platform" yaml:"platform"`
	ModelFormat   string   `json:"model_format" yaml:"model_format"`
	StringMethods []string `json:"string_methods" yaml:"string_methods"`
}

func currentVersionInfo() VersionInfo {
	info := VersionInfo{
		Version:     Version,
		Commit:      Commit,
		Date:        Date,
		BuiltBy:     BuiltBy,
		GoVersion:   GoVersion,
		Platform:    fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		ModelFormat: store.FormatVersion,
	}
	for _, m := range distance.Methods() {
		info.StringMethods = append(info.StringMethods, m.String())
	}
	return info
}

func showVersion(w io.Writer) {
	versionInfo := currentVersionInfo()

	switch outputFormatFlag() {
	case "json":
		style.PrintJSON(w, versionInfo)
	case "yaml":
		style.PrintYAML(w, versionInfo)
	default:
		printText(w, versionInfo, viper.GetBool("verbose"))
	}
}

func printText(w io.Writer, info VersionInfo, verbose bool) {
	fmt.Fprintln(w, info.Version)
	if !verbose {
		return
	}

	fmt.Fprintf(w, "  Commit:       %s\n", info.Commit)
	fmt.Fprintf(w, "  Built:        %s by %s\n", info.Date, info.BuiltBy)
	fmt.Fprintf(w, "  Go:           %s %s\n", info.GoVersion, info.Platform)
	fmt.Fprintf(w, "  Model format: %s\n", info.ModelFormat)
}
