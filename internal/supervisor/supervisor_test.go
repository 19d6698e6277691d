package supervisor

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/siegeup/node-agent/internal/logsink"
	"github.com/siegeup/node-agent/internal/state"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestSupervisor(t *testing.T) (*Supervisor, *state.Store, *logsink.Sink) {
	t.Helper()
	base := t.TempDir()
	store, err := state.NewStore(filepath.Join(base, "settings.json"))
	if err != nil {
		t.Fatal(err)
	}
	sink := logsink.NewSink(filepath.Join(base, "logs"))
	return New(store, sink, 500*time.Millisecond, 500*time.Millisecond), store, sink
}

func waitForChildGone(t *testing.T, store *state.Store, port int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := store.Child(port); !ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("Child entry for port %d never removed", port)
}

func TestBuildArgs(t *testing.T) {
	args := BuildArgs(9001, []string{"--map", "island"})
	want := []string{"-batchmode", "-nographics", "-logFile", "-", "--server-port", "9001", "--map", "island"}
	if len(args) != len(want) {
		t.Fatalf("Expected %d args, got %d: %v", len(want), len(args), args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("Arg %d: expected %q, got %q", i, want[i], args[i])
		}
	}
}

func TestSpawnRegistersChildAndLogsOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	sup, store, sink := newTestSupervisor(t)
	exe := writeScript(t, t.TempDir(), "server.x86_64", "echo booted\nexit 0\n")

	desired := state.DesiredServer{Version: "v1", Port: 39001, Run: true}
	child, err := sup.Spawn(desired, exe)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if child.PID == 0 || child.LaunchID == "" {
		t.Errorf("Child identity incomplete: %+v", child)
	}

	// The script exits immediately and the port was never bound, so the
	// observer removes the entry once it notices.
	waitForChildGone(t, store, desired.Port)

	result, err := sink.Tail(desired.Port, 0)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if !strings.Contains(result.Content, "booted") {
		t.Errorf("Child stdout not captured in log: %q", result.Content)
	}
	if store.LastError(desired.Port) != "" {
		t.Errorf("Clean exit must not record an error: %q", store.LastError(desired.Port))
	}
}

func TestSpawnFailureRecordsLastError(t *testing.T) {
	sup, store, _ := newTestSupervisor(t)

	desired := state.DesiredServer{Version: "v1", Port: 39002, Run: true}
	_, err := sup.Spawn(desired, filepath.Join(t.TempDir(), "missing.x86_64"))
	if err == nil {
		t.Fatal("Expected spawn failure for missing executable")
	}
	if store.LastError(desired.Port) == "" {
		t.Error("Spawn failure must record a last error")
	}
	if _, ok := store.Child(desired.Port); ok {
		t.Error("Failed spawn must not leave a child entry")
	}
}

func TestCrashRecordsLastError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	sup, store, _ := newTestSupervisor(t)
	exe := writeScript(t, t.TempDir(), "server.x86_64", "echo dying >&2\nexit 3\n")

	desired := state.DesiredServer{Version: "v1", Port: 39003, Run: true}
	if _, err := sup.Spawn(desired, exe); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	waitForChildGone(t, store, desired.Port)

	msg := store.LastError(desired.Port)
	if !strings.Contains(msg, "logs") {
		t.Errorf("Crash error must point at the logs, got %q", msg)
	}
}

func TestShutdownStopsRunningChild(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	sup, store, _ := newTestSupervisor(t)
	exe := writeScript(t, t.TempDir(), "server.x86_64", "sleep 60\n")

	desired := state.DesiredServer{Version: "v1", Port: 39004, Run: true}
	if _, err := sup.Spawn(desired, exe); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	if err := sup.Shutdown(desired.Port); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if _, ok := store.Child(desired.Port); ok {
		t.Error("Child entry still present after shutdown")
	}

	// Shutdown may remove the entry before the exit observer runs; once the
	// observer has had time to see the SIGTERM exit, it must still treat the
	// stop as intentional and record nothing.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if msg := store.LastError(desired.Port); msg != "" {
			t.Fatalf("Intentional stop recorded as crash: %q", msg)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestShutdownUnknownPortIsNoop(t *testing.T) {
	sup, _, _ := newTestSupervisor(t)
	if err := sup.Shutdown(39005); err != nil {
		t.Errorf("Shutdown of absent port must be a no-op, got %v", err)
	}
}
