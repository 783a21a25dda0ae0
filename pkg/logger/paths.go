/* pkg/logger/paths.go */

package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"go.uber.org/zap/zapcore"
)

const logFileName = "horae.log"

// PlatformLogPaths returns fallback log paths in order of priority for the platform.
func PlatformLogPaths() []string {
	state := os.Getenv("XDG_STATE_HOME")
	if state == "" {
		if home, err := os.UserHomeDir(); err == nil {
			state = filepath.Join(home, ".local", "state")
		}
	}
	var userPath string
	if state != "" {
		userPath = filepath.Join(state, "horae", logFileName)
	}

	var paths []string
	switch runtime.GOOS {
	case "linux":
		paths = []string{"/var/log/horae/" + logFileName, userPath}
	case "darwin":
		paths = []string{userPath}
	case "windows":
		paths = []string{filepath.Join(os.Getenv("LOCALAPPDATA"), "horae", logFileName)}
	}
	paths = append(paths, filepath.Join(os.TempDir(), "horae", logFileName))

	out := paths[:0]
	for _, p := range paths {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// EnsureLogPermissions creates the log directory and file owner-only.
func EnsureLogPermissions(logFilePath string) error {
	if err := os.MkdirAll(filepath.Dir(logFilePath), 0700); err != nil {
		return err
	}
	file, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	return file.Close()
}

// GetLogFileWriter tries to create a file writer at the specified path.
func GetLogFileWriter(path string) (zapcore.WriteSyncer, error) {
	if err := EnsureLogPermissions(path); err != nil {
		return nil, fmt.Errorf("log permission error: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return zapcore.AddSync(file), nil
}

// FindWritableLogPath returns the first usable path from PlatformLogPaths.
// HORAE_LOG_FILE, when set, is the only candidate.
func FindWritableLogPath() (string, error) {
	candidates := PlatformLogPaths()
	if override := os.Getenv("HORAE_LOG_FILE"); override != "" {
		candidates = []string{override}
	}
	for _, path := range candidates {
		if err := EnsureLogPermissions(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no writable log path found")
}
