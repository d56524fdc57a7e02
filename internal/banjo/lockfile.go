package banjo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// lockFile is the JSON payload written to ${home}/.claude/ide/${port}.lock
// while running in WebSocket daemon mode. The port lives in the filename
// and is deliberately not repeated in the body.
type lockFile struct {
	PID          int      `json:"pid"`
	WorkspaceDirs []string `json:"workspaceFolders"`
	IDEName      string   `json:"ideName"`
	Transport    string   `json:"transport"`
}

// lockFileDir returns ${home}/.claude/ide, creating it if necessary.
func lockFileDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("banjo: resolve home dir: %w", err)
	}
	dir := filepath.Join(home, ".claude", "ide")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("banjo: create lockfile dir: %w", err)
	}
	return dir, nil
}

// WriteLockFile writes the daemon lockfile for the given port, recording
// the adapter's pid and the set of working directories it is serving.
// Per spec, this is only done in WebSocket daemon mode; stdio agent mode
// never calls this.
func WriteLockFile(port int, workspaceDirs []string) (string, error) {
	dir, err := lockFileDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.lock", port))

	body, err := json.Marshal(lockFile{
		PID:           os.Getpid(),
		WorkspaceDirs: workspaceDirs,
		IDEName:       "banjo",
		Transport:     "ws",
	})
	if err != nil {
		return "", fmt.Errorf("banjo: marshal lockfile: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("banjo: write lockfile: %w", err)
	}
	return path, nil
}

// RemoveLockFile removes the lockfile written by WriteLockFile. Called on
// clean daemon shutdown; a missing file is not an error.
func RemoveLockFile(port int) error {
	dir, err := lockFileDir()
	if err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.lock", port))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("banjo: remove lockfile: %w", err)
	}
	return nil
}
