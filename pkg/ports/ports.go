package ports

import (
	"fmt"
	"math/rand"
	"net"
)

// FindAvailablePort returns startPort if it is free, otherwise a random free
// port in [startPort, startPort+1000]. Used when launching the app server and
// the MCP endpoint for a new session.
func FindAvailablePort(startPort int) (int, error) {
	if isPortAvailable(startPort) {
		return startPort, nil
	}

	maxPort := startPort + 1000
	if maxPort > 65535 {
		maxPort = 65535
	}

	return FindAvailablePortInRange(startPort, maxPort)
}

// FindAvailablePortInRange finds an available port in the specified range.
func FindAvailablePortInRange(minPort, maxPort int) (int, error) {
	if minPort > maxPort {
		return 0, fmt.Errorf("minPort (%d) must be <= maxPort (%d)", minPort, maxPort)
	}

	const maxAttempts = 50
	for attempts := 0; attempts < maxAttempts; attempts++ {
		candidate := minPort + rand.Intn(maxPort-minPort+1)
		if isPortAvailable(candidate) {
			return candidate, nil
		}
	}

	return 0, fmt.Errorf("unable to find available port after %d attempts in range %d-%d", maxAttempts, minPort, maxPort)
}

// isPortAvailable checks if a port is available by attempting to listen on it.
func isPortAvailable(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	defer listener.Close()
	return true
}
