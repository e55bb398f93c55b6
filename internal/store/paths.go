package store

import (
	"os"
	"path/filepath"
	"runtime"
)

// appDirName is the per-user application data directory created for the
// service's database file.
const appDirName = "LMDesk"

// DefaultDataDir returns the platform-conventional per-user data
// directory for the service:
//
//	Windows: %APPDATA%\LMDesk
//	macOS:   ~/Library/Application Support/LMDesk
//	other:   $XDG_DATA_HOME/LMDesk or ~/.local/share/LMDesk
func DefaultDataDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appDirName), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "AppData", "Roaming", appDirName), nil
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", appDirName), nil
	default:
		if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
			return filepath.Join(dataHome, appDirName), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".local", "share", appDirName), nil
	}
}
