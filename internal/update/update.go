// Package update provides version checking and self-update for the
// ralph binary, backed by GitHub releases.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creativeprojects/go-selfupdate"
)

const (
	repoOwner     = "zakelfassi"
	repoName      = "Ralph-Kit"
	checkInterval = 24 * time.Hour
)

// updateCache stores the last update check result so the periodic
// check hits GitHub at most once per day.
type updateCache struct {
	LastCheck       time.Time `json:"last_check"`
	LatestVersion   string    `json:"latest_version,omitempty"`
	UpdateAvailable bool      `json:"update_available"`
}

func cachePath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "ralph", "update-cache.json")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "ralph", "update-cache.json")
}

func loadCache() *updateCache {
	path := cachePath()
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var cache updateCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil
	}
	return &cache
}

func saveCache(cache *updateCache) {
	path := cachePath()
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return
	}
	data, err := json.Marshal(cache)
	if err != nil {
		return
	}
	_ = os.WriteFile(path, data, 0644)
}

// Release describes an available release.
type Release struct {
	Version    string
	ReleaseURL string
}

// isDev reports whether this is an unreleased build that must never
// self-update.
func isDev(version string) bool {
	v := strings.TrimPrefix(version, "v")
	return v == "dev" || v == ""
}

// CheckForUpdate queries GitHub for the latest release and reports
// whether it is newer than currentVersion.
func CheckForUpdate(ctx context.Context, currentVersion string) (*Release, bool, error) {
	if isDev(currentVersion) {
		return nil, false, nil
	}

	updater, err := newUpdater()
	if err != nil {
		return nil, false, err
	}

	latest, found, err := updater.DetectLatest(ctx, selfupdate.NewRepositorySlug(repoOwner, repoName))
	if err != nil {
		return nil, false, fmt.Errorf("detect latest version: %w", err)
	}
	if !found {
		return nil, false, nil
	}

	release := &Release{
		Version:    latest.Version(),
		ReleaseURL: latest.ReleaseNotes,
	}
	current := strings.TrimPrefix(currentVersion, "v")
	return release, latest.GreaterThan(current), nil
}

// Update downloads the latest release and replaces the running binary.
func Update(ctx context.Context, currentVersion string) error {
	if isDev(currentVersion) {
		return fmt.Errorf("cannot update dev builds")
	}

	updater, err := newUpdater()
	if err != nil {
		return err
	}

	latest, found, err := updater.DetectLatest(ctx, selfupdate.NewRepositorySlug(repoOwner, repoName))
	if err != nil {
		return fmt.Errorf("detect latest version: %w", err)
	}
	if !found {
		return fmt.Errorf("no releases found")
	}

	current := strings.TrimPrefix(currentVersion, "v")
	if !latest.GreaterThan(current) {
		return fmt.Errorf("already at latest version (%s)", currentVersion)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	if err := updater.UpdateTo(ctx, latest, exe); err != nil {
		return fmt.Errorf("apply update: %w", err)
	}
	return nil
}

func newUpdater() (*selfupdate.Updater, error) {
	source, err := selfupdate.NewGitHubSource(selfupdate.GitHubConfig{})
	if err != nil {
		return nil, fmt.Errorf("create GitHub source: %w", err)
	}
	updater, err := selfupdate.NewUpdater(selfupdate.Config{Source: source})
	if err != nil {
		return nil, fmt.Errorf("create updater: %w", err)
	}
	return updater, nil
}

// CheckPeriodically checks for updates at most once per checkInterval,
// returning a one-line notice when a newer release exists. Designed to
// run at the start of common commands; failures stay silent.
func CheckPeriodically(currentVersion string) string {
	if isDev(currentVersion) {
		return ""
	}
	current := strings.TrimPrefix(currentVersion, "v")

	if cache := loadCache(); cache != nil && time.Since(cache.LastCheck) < checkInterval {
		// A stale "update available" can outlive the upgrade itself, so
		// re-verify against the running version.
		if cache.UpdateAvailable && cache.LatestVersion != "" &&
			isNewerVersion(strings.TrimPrefix(cache.LatestVersion, "v"), current) {
			return formatUpdateNotice(currentVersion, cache.LatestVersion)
		}
		return ""
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	release, hasUpdate, err := CheckForUpdate(ctx, currentVersion)

	newCache := &updateCache{
		LastCheck:       time.Now(),
		UpdateAvailable: hasUpdate && err == nil,
	}
	if release != nil {
		newCache.LatestVersion = release.Version
	}
	saveCache(newCache)

	if err != nil || !hasUpdate {
		return ""
	}
	return formatUpdateNotice(currentVersion, release.Version)
}

// isNewerVersion compares dotted numeric versions; a is newer than b.
func isNewerVersion(a, b string) bool {
	parse := func(v string) (int, int, int) {
		v = strings.TrimPrefix(v, "v")
		parts := strings.Split(v, ".")
		var major, minor, patch int
		if len(parts) >= 1 {
			_, _ = fmt.Sscanf(parts[0], "%d", &major)
		}
		if len(parts) >= 2 {
			_, _ = fmt.Sscanf(parts[1], "%d", &minor)
		}
		if len(parts) >= 3 {
			_, _ = fmt.Sscanf(parts[2], "%d", &patch)
		}
		return major, minor, patch
	}

	aMajor, aMinor, aPatch := parse(a)
	bMajor, bMinor, bPatch := parse(b)
	if aMajor != bMajor {
		return aMajor > bMajor
	}
	if aMinor != bMinor {
		return aMinor > bMinor
	}
	return aPatch > bPatch
}

func formatUpdateNotice(current, latest string) string {
	return fmt.Sprintf("Update available: %s -> %s (run: ralph upgrade)", current, latest)
}
