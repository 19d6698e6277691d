package reconcile

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/siegeup/node-agent/internal/builds"
	"github.com/siegeup/node-agent/internal/logsink"
	"github.com/siegeup/node-agent/internal/state"
	"github.com/siegeup/node-agent/internal/supervisor"
)

func newTestReconciler(t *testing.T) (*Reconciler, *state.Store, *builds.Store) {
	t.Helper()
	base := t.TempDir()
	store, err := state.NewStore(filepath.Join(base, "settings.json"))
	if err != nil {
		t.Fatal(err)
	}
	buildStore, err := builds.NewStore(filepath.Join(base, "builds"))
	if err != nil {
		t.Fatal(err)
	}
	sink := logsink.NewSink(filepath.Join(base, "logs"))
	sup := supervisor.New(store, sink, 500*time.Millisecond, 500*time.Millisecond)
	return New(store, buildStore, sup, 10*time.Millisecond), store, buildStore
}

func installBuild(t *testing.T, buildStore *builds.Store, version, body string) {
	t.Helper()
	dir := filepath.Join(buildStore.Root(), version)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	script := filepath.Join(dir, "server.x86_64")
	if err := os.WriteFile(script, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatal(err)
	}
}

func TestTickSpawnsMissingServer(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	rec, store, buildStore := newTestReconciler(t)
	installBuild(t, buildStore, "v1", "sleep 60\n")

	err := store.SetDesired([]state.DesiredServer{{Name: "Server 1", Version: "v1", Port: 39101, Run: true}})
	if err != nil {
		t.Fatal(err)
	}

	rec.tick()

	child, ok := store.Child(39101)
	if !ok {
		t.Fatal("Tick did not spawn the missing server")
	}
	defer child.Process.Kill()
	if child.Version != "v1" {
		t.Errorf("Child spawned with wrong version: %q", child.Version)
	}

	// A second tick must not spawn a duplicate for the same port.
	rec.tick()
	again, _ := store.Child(39101)
	if again.LaunchID != child.LaunchID {
		t.Error("Second tick replaced a live child")
	}
}

func TestTickSkipsRunFalse(t *testing.T) {
	rec, store, buildStore := newTestReconciler(t)
	installBuild(t, buildStore, "v1", "sleep 60\n")

	err := store.SetDesired([]state.DesiredServer{{Version: "v1", Port: 39102, Run: false}})
	if err != nil {
		t.Fatal(err)
	}

	rec.tick()
	if _, ok := store.Child(39102); ok {
		t.Error("Tick spawned a server with run=false")
	}
}

func TestTickMissingExecutableSetsLastError(t *testing.T) {
	rec, store, _ := newTestReconciler(t)

	err := store.SetDesired([]state.DesiredServer{{Version: "nope", Port: 39103, Run: true}})
	if err != nil {
		t.Fatal(err)
	}

	rec.tick()
	msg := store.LastError(39103)
	if !strings.Contains(msg, "nope") {
		t.Errorf("Expected last error naming the version, got %q", msg)
	}
	if _, ok := store.Child(39103); ok {
		t.Error("Tick registered a child despite missing executable")
	}
}

func TestTickFailureOnOnePortDoesNotSkipOthers(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	rec, store, buildStore := newTestReconciler(t)
	installBuild(t, buildStore, "v2", "sleep 60\n")

	err := store.SetDesired([]state.DesiredServer{
		{Version: "missing", Port: 39104, Run: true},
		{Version: "v2", Port: 39105, Run: true},
	})
	if err != nil {
		t.Fatal(err)
	}

	rec.tick()

	if store.LastError(39104) == "" {
		t.Error("First port should have recorded a missing-executable error")
	}
	child, ok := store.Child(39105)
	if !ok {
		t.Fatal("Failure on one port skipped the next")
	}
	child.Process.Kill()
}

func TestStartStop(t *testing.T) {
	rec, _, _ := newTestReconciler(t)
	rec.Start()
	time.Sleep(30 * time.Millisecond)
	rec.Stop()
}
