// Package activation picks up sockets passed in by systemd socket
// activation, so the notification server can be started on demand.
package activation

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

const (
	envPID     = "LISTEN_PID"
	envFDs     = "LISTEN_FDS"
	envFDNames = "LISTEN_FDNAMES"

	// Systemd passes file descriptors starting at fd 3
	// (0=stdin, 1=stdout, 2=stderr)
	firstFD = 3
)

// Listener returns the first socket systemd passed to this process, or nil
// when the process was not socket activated. Extra sockets are closed.
func Listener() (net.Listener, error) {
	listeners, err := Listeners()
	if err != nil || len(listeners) == 0 {
		return nil, err
	}
	for _, l := range listeners[1:] {
		_ = l.Close()
	}
	return listeners[0], nil
}

// Listeners returns every socket systemd passed to this process.
// Returns nil if no socket activation is detected or if it targets another process.
func Listeners() ([]net.Listener, error) {
	numFDs, err := inheritedFDs()
	if err != nil || numFDs == 0 {
		return nil, err
	}

	listeners := make([]net.Listener, 0, numFDs)
	for i := 0; i < numFDs; i++ {
		l, err := fileListener(firstFD+i, i)
		if err != nil {
			for _, prev := range listeners {
				_ = prev.Close()
			}
			return nil, err
		}
		listeners = append(listeners, l)
	}

	// Unset the environment variables so child processes (the build
	// command) don't inherit them
	_ = os.Unsetenv(envPID)
	_ = os.Unsetenv(envFDs)
	_ = os.Unsetenv(envFDNames)

	return listeners, nil
}

// inheritedFDs returns how many sockets were passed to this process.
func inheritedFDs() (int, error) {
	pidStr := os.Getenv(envPID)
	if pidStr == "" {
		return 0, nil
	}

	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", envPID, pidStr, err)
	}
	if pid != os.Getpid() {
		return 0, nil
	}

	fdsStr := os.Getenv(envFDs)
	if fdsStr == "" {
		return 0, nil
	}

	numFDs, err := strconv.Atoi(fdsStr)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", envFDs, fdsStr, err)
	}
	if numFDs < 1 {
		return 0, nil
	}
	return numFDs, nil
}

func fileListener(fd, index int) (net.Listener, error) {
	file := os.NewFile(uintptr(fd), fmt.Sprintf("systemd-socket-%d", index))
	if file == nil {
		return nil, fmt.Errorf("failed to create file for fd %d", fd)
	}
	// The listener holds its own dup of the descriptor
	defer func() {
		_ = file.Close()
	}()

	l, err := net.FileListener(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create listener from fd %d: %w", fd, err)
	}
	return l, nil
}
