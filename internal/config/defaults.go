package config

import (
	"os"
	"path/filepath"

	"media-converter/internal/domain"
	"media-converter/internal/profile"
)

// appDirName is the per-user directory holding settings, config and history.
const appDirName = ".media-converter"

// AppDir returns the per-user application directory.
func AppDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, appDirName)
}

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		LastInputDir: homeDir,
		OutputDir:    filepath.Join(homeDir, "Videos", "Converted"),
		ProfileID:    string(profile.Default().ID),
		Threads:      0,
	}
}

// MergeFiles appends picked files to the current selection, keeping order
// and dropping duplicates and blank entries.
func MergeFiles(current, picked []string) []string {
	seen := make(map[string]struct{}, len(current)+len(picked))
	out := make([]string, 0, len(current)+len(picked))
	for _, list := range [][]string{current, picked} {
		for _, path := range list {
			if path == "" {
				continue
			}
			key := filepath.Clean(path)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, path)
		}
	}
	return out
}
