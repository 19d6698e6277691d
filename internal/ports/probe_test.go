package ports

import (
	"net"
	"testing"
	"time"
)

func TestIsFree(t *testing.T) {
	listener, err := net.Listen("tcp", "0.0.0.0:0")
	if err != nil {
		t.Fatal(err)
	}
	port := listener.Addr().(*net.TCPAddr).Port

	if IsFree(port) {
		t.Errorf("Port %d reported free while a listener is bound", port)
	}

	listener.Close()

	if !WaitUntilFree(port, 2*time.Second) {
		t.Errorf("Port %d did not become free after listener close", port)
	}
	if !IsFree(port) {
		t.Errorf("Port %d still reported busy", port)
	}
}

func TestWaitUntilFreeTimeout(t *testing.T) {
	listener, err := net.Listen("tcp", "0.0.0.0:0")
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()
	port := listener.Addr().(*net.TCPAddr).Port

	start := time.Now()
	if WaitUntilFree(port, 300*time.Millisecond) {
		t.Errorf("Port %d reported free while still bound", port)
	}
	if elapsed := time.Since(start); elapsed < 300*time.Millisecond {
		t.Errorf("WaitUntilFree returned before timeout: %v", elapsed)
	}
}

func TestWaitUntilFreeEventual(t *testing.T) {
	listener, err := net.Listen("tcp", "0.0.0.0:0")
	if err != nil {
		t.Fatal(err)
	}
	port := listener.Addr().(*net.TCPAddr).Port

	go func() {
		time.Sleep(250 * time.Millisecond)
		listener.Close()
	}()

	if !WaitUntilFree(port, 3*time.Second) {
		t.Errorf("Port %d never became free", port)
	}
}
