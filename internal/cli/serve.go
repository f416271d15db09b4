package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lacquerai/silhouette/internal/execcontext"
	"github.com/lacquerai/silhouette/internal/server"
	"github.com/lacquerai/silhouette/internal/style"
)

var (
	// Serve command flags
	servePort        int
	serveHost        string
	serveConcurrency int
	serveTimeout     time.Duration
	serveDataDir     string
	serveRetention   time.Duration
	serveMetrics     bool
	serveCORS        bool
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for silhouette analyses",
	Long: `Start an HTTP server that runs silhouette analyses via REST API.

The server provides:
- REST API for submitting datasets and reading results
- WebSocket streaming for real-time progress updates
- Prometheus metrics endpoint
- Concurrent analyses bounded by --concurrency

Datasets are posted inline. Files are only read from --data-dir.`,
	Example: `
  silq serve                                   # Inline datasets on localhost:8080
  silq serve --data-dir ./data                 # Also analyse files from ./data
  silq serve --port 9000 --host 0.0.0.0        # Custom host and port
  silq serve --concurrency 10 --method lcs     # 10 concurrent analyses, LCS by default`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runCtx := execcontext.New(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		return startServer(cmd, runCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	defaults := server.DefaultConfig()

	// Server configuration
	serveCmd.Flags().IntVarP(&servePort, "port", "p", defaults.Port, "server port")
	serveCmd.Flags().StringVar(&serveHost, "host", defaults.Host, "server host")
	serveCmd.Flags().IntVar(&serveConcurrency, "concurrency", defaults.Concurrency, "maximum concurrent analyses")
	serveCmd.Flags().DurationVar(&serveTimeout, "timeout", defaults.Timeout, "analysis timeout (0 disables it)")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "", "directory datasets may be read from by name")
	serveCmd.Flags().DurationVar(&serveRetention, "retention", defaults.Retention, "how long finished analyses stay queryable (0 keeps them)")

	// Features
	serveCmd.Flags().BoolVar(&serveMetrics, "metrics", defaults.EnableMetrics, "enable Prometheus metrics endpoint")
	serveCmd.Flags().BoolVar(&serveCORS, "cors", defaults.EnableCORS, "enable CORS headers")

	// default settings of every analysis
	addAnalysisFlags(serveCmd)
}

func startServer(cmd *cobra.Command, runCtx execcontext.RunContext) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if vr := settings.Validate(); vr.HasErrors() {
		printValidationErrors(runCtx, vr)
		return vr.ToError()
	}

	cfg := server.DefaultConfig()
	cfg.Host = serveHost
	cfg.Port = servePort
	cfg.Concurrency = serveConcurrency
	cfg.Timeout = serveTimeout
	cfg.DataDir = serveDataDir
	cfg.Retention = serveRetention
	cfg.EnableMetrics = serveMetrics
	cfg.EnableCORS = serveCORS
	cfg.Settings = settings

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if !viper.GetBool("quiet") {
		w := runCtx.StdOut
		style.Success(w, fmt.Sprintf("silq server starting at http://%s", srv.GetAddr()))
		fmt.Fprintf(w, "   API:      http://%s/api/v1/analyses\n", srv.GetAddr())
		if serveMetrics {
			fmt.Fprintf(w, "   Metrics:  http://%s/metrics\n", srv.GetAddr())
		}
		if serveDataDir != "" {
			fmt.Fprintf(w, "   Datasets: %s\n", style.FormatFilePath(serveDataDir))
		}
	}

	if err := srv.StartWithGracefulShutdown(runCtx.Context); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
