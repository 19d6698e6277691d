package ports

import (
	"fmt"
	"net"
	"time"
)

// Probe interval between bind attempts in WaitUntilFree.
const pollInterval = 100 * time.Millisecond

// IsFree reports whether a TCP listener can currently be bound on
// 0.0.0.0:port. The probe listener is always closed before returning.
func IsFree(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return false
	}
	listener.Close()
	return true
}

// WaitUntilFree polls IsFree until the port becomes bindable or the timeout
// elapses. Process exit does not imply port release; the OS may hold the
// socket in TIME_WAIT or a descendant may still own it, so callers treat
// port liberation as the authoritative stop signal.
func WaitUntilFree(port int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if IsFree(port) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}
