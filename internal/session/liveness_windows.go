//go:build windows

package session

import "os"

// processAlive checks whether a PID exists. Windows has no signal 0, but
// FindProcess fails for dead PIDs there.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.FindProcess(pid)
	return err == nil
}
