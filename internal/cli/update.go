package cli

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/minio/selfupdate"
	"github.com/spf13/cobra"

	"github.com/lacquerai/silhouette/internal/style"
)

const (
	updateCacheDir  = ".silq"
	updateCacheFile = ".silq/update_cache.json"
	cacheExpiry     = 2 * time.Hour
	checksumsAsset  = "checksums.txt"
)

// githubAPIURL is a variable so tests can point it at a local server.
var githubAPIURL = "https://api.github.com/repos/lacquerai/silhouette/releases/latest"

var updateClient = &http.Client{Timeout: 30 * time.Second}

type UpdateInfo struct {
	LastChecked   time.Time `json:"last_checked"`
	LatestVersion string    `json:"latest_version"`
	CurrentIsOld  bool      `json:"current_is_old"`
	DownloadURL   string    `json:"download_url"`
	ChecksumURL   string    `json:"checksum_url,omitempty"`
	AssetName     string    `json:"asset_name,omitempty"`
}

type GitHubRelease struct {
	TagName string `json:"tag_name"`
	Assets  []struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
	} `json:"assets"`
}

// updateCmd represents the update command
var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update silq to the latest version",
	Long: `Update silq to the latest version available on GitHub.

This command:
- Checks for the latest release on GitHub
- Downloads the appropriate binary for your platform
- Verifies it against the release checksums when available
- Replaces the current binary, rolling back on failure`,
	Example: `
  silq update              # Update to latest version
  silq update --check      # Only check for updates without updating
  silq update --force      # Force update even if already on latest version`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		checkOnly, _ := cmd.Flags().GetBool("check")
		force, _ := cmd.Flags().GetBool("force")

		if checkOnly {
			if checkForUpdate(cmd, true) == nil {
				return fmt.Errorf("failed to check for updates")
			}
			return nil
		}

		return performUpdate(cmd, force)
	},
}

func init() {
	rootCmd.AddCommand(updateCmd)

	updateCmd.Flags().Bool("check", false, "only check for updates without updating")
	updateCmd.Flags().Bool("force", false, "force update even if already on latest version")
}

func printUpdateStatus(cmd *cobra.Command, info *UpdateInfo) {
	if info.CurrentIsOld {
		fmt.Fprintf(cmd.OutOrStdout(), "%s A newer version (%s) is available!\n", style.InfoIcon(), info.LatestVersion)
		fmt.Fprintf(cmd.OutOrStdout(), "Run 'silq update' to upgrade.\n")
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%s You are running the latest version (%s)\n", style.SuccessIcon(), Version)
	}
}

// checkForUpdate checks if a newer version is available
func checkForUpdate(cmd *cobra.Command, verbose bool) *UpdateInfo {
	updateInfo := loadUpdateCache()

	if updateInfo != nil && time.Since(updateInfo.LastChecked) < cacheExpiry {
		if verbose {
			printUpdateStatus(cmd, updateInfo)
		}
		return updateInfo
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	release, err := fetchLatestRelease(ctx)
	if err != nil {
		if verbose {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s Failed to check for updates: %s\n", style.ErrorIcon(), err)
		}
		return nil
	}

	updateInfo = &UpdateInfo{
		LastChecked:   time.Now(),
		LatestVersion: release.TagName,
		CurrentIsOld:  isOutdated(Version, release.TagName),
	}
	updateInfo.AssetName, updateInfo.DownloadURL, updateInfo.ChecksumURL = pickAsset(release)
	if updateInfo.DownloadURL == "" {
		if verbose {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s No binary found for platform %s/%s\n", style.ErrorIcon(), runtime.GOOS, runtime.GOARCH)
		}
		return nil
	}

	saveUpdateCache(updateInfo)

	if verbose {
		printUpdateStatus(cmd, updateInfo)
	}
	return updateInfo
}

// isOutdated reports whether latest is newer than current. Development builds
// are never reported as outdated.
func isOutdated(current, latest string) bool {
	currentVersion := normalizeVersion(current)
	latestVersion := normalizeVersion(latest)

	currentSemver, err1 := semver.NewVersion(currentVersion)
	latestSemver, err2 := semver.NewVersion(latestVersion)
	if err1 == nil && err2 == nil {
		return currentSemver.LessThan(latestSemver)
	}

	return currentVersion != latestVersion && current != "dev"
}

// performUpdate downloads and installs the latest version
func performUpdate(cmd *cobra.Command, force bool) error {
	updateInfo := checkForUpdate(cmd, false)
	if updateInfo == nil {
		return fmt.Errorf("failed to check for updates")
	}

	if !updateInfo.CurrentIsOld && !force {
		fmt.Fprintf(cmd.OutOrStdout(), "%s You are already running the latest version (%s)\n", style.SuccessIcon(), Version)
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s Downloading silq %s...\n", style.InfoIcon(), updateInfo.LatestVersion)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	opts := selfupdate.Options{}
	if updateInfo.ChecksumURL != "" {
		sum, err := fetchChecksum(ctx, updateInfo.ChecksumURL, updateInfo.AssetName)
		if err != nil {
			return fmt.Errorf("failed to fetch checksum: %w", err)
		}
		opts.Checksum = sum
	}

	if err := applyUpdate(ctx, updateInfo.DownloadURL, opts); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s Successfully updated to silq %s!\n", style.SuccessIcon(), updateInfo.LatestVersion)
	return nil
}

func httpGet(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := updateClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s returned status %d", url, resp.StatusCode)
	}
	return resp, nil
}

// fetchLatestRelease gets the latest release from the GitHub API
func fetchLatestRelease(ctx context.Context) (*GitHubRelease, error) {
	resp, err := httpGet(ctx, githubAPIURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch release info: %w", err)
	}
	defer resp.Body.Close()

	var release GitHubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("failed to decode release info: %w", err)
	}
	return &release, nil
}

// pickAsset finds the binary of the current platform and the checksum file
func pickAsset(release *GitHubRelease) (name, downloadURL, checksumURL string) {
	assetName := fmt.Sprintf("silq_%s_%s", runtime.GOOS, runtime.GOARCH)
	if runtime.GOOS == "windows" {
		assetName += ".exe"
	}

	for _, asset := range release.Assets {
		switch {
		case asset.Name == checksumsAsset:
			checksumURL = asset.BrowserDownloadURL
		case downloadURL == "" && strings.Contains(asset.Name, assetName):
			name, downloadURL = asset.Name, asset.BrowserDownloadURL
		}
	}
	return name, downloadURL, checksumURL
}

// fetchChecksum reads the SHA-256 of asset from a "<hex>  <name>" checksum file
func fetchChecksum(ctx context.Context, url, asset string) ([]byte, error) {
	resp, err := httpGet(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return parseChecksum(resp.Body, asset)
}

func parseChecksum(r io.Reader, asset string) ([]byte, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 2 && fields[1] == asset {
			return hex.DecodeString(fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("no checksum for %s", asset)
}

// applyUpdate streams the new binary into place. A failed replacement is
// rolled back by selfupdate; a failed rollback leaves the old binary as .old.
func applyUpdate(ctx context.Context, url string, opts selfupdate.Options) error {
	resp, err := httpGet(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to download update: %w", err)
	}
	defer resp.Body.Close()

	if err := selfupdate.Apply(resp.Body, opts); err != nil {
		if rerr := selfupdate.RollbackError(err); rerr != nil {
			return fmt.Errorf("failed to replace binary and to roll back: %w", rerr)
		}
		return fmt.Errorf("failed to replace binary: %w", err)
	}
	return nil
}

// normalizeVersion removes 'v' prefix from version strings
func normalizeVersion(version string) string {
	return strings.TrimPrefix(version, "v")
}

// loadUpdateCache loads cached update information
func loadUpdateCache() *UpdateInfo {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(homeDir, updateCacheFile))
	if err != nil {
		return nil
	}

	var updateInfo UpdateInfo
	if err := json.Unmarshal(data, &updateInfo); err != nil {
		return nil
	}

	return &updateInfo
}

// saveUpdateCache saves update information to cache
func saveUpdateCache(updateInfo *UpdateInfo) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return
	}

	if err := os.MkdirAll(filepath.Join(homeDir, updateCacheDir), 0755); err != nil {
		return
	}

	data, err := json.MarshalIndent(updateInfo, "", "  ")
	if err != nil {
		return
	}

	_ = os.WriteFile(filepath.Join(homeDir, updateCacheFile), data, 0644)
}

// ShouldShowUpdateNotification returns the cached update info when it is fresh
// and reports a newer release. It never touches the network.
func ShouldShowUpdateNotification() *UpdateInfo {
	updateInfo := loadUpdateCache()

	if updateInfo == nil || time.Since(updateInfo.LastChecked) > cacheExpiry {
		return nil
	}

	if updateInfo.CurrentIsOld {
		return updateInfo
	}

	return nil
}
