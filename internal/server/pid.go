package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
)

// pidFile guards against a second daemon instance on the same host.
type pidFile struct {
	path string
}

func newPIDFile() (*pidFile, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	pidDir := filepath.Join(homeDir, ".clipd")
	if err := os.MkdirAll(pidDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create PID directory: %w", err)
	}

	return &pidFile{path: filepath.Join(pidDir, "clipd.pid")}, nil
}

// acquire refuses to start when another live daemon holds the pidfile,
// then records the current PID. A stale pidfile is overwritten.
func (p *pidFile) acquire() error {
	pid, err := p.read()
	if err != nil {
		return err
	}
	if pid != 0 && pid != os.Getpid() && isRunning(pid) {
		return fmt.Errorf("another instance is already running (pid %d)", pid)
	}
	return os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())), 0644)
}

func (p *pidFile) read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}
	return pid, nil
}

func (p *pidFile) remove() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// isRunning checks if a process with the given PID is running. On Unix
// FindProcess always succeeds, so signal 0 probes for existence.
func isRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
