package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/siegeup/node-agent/internal/logging"
	"github.com/siegeup/node-agent/internal/logsink"
	"github.com/siegeup/node-agent/internal/ports"
	"github.com/siegeup/node-agent/internal/state"
)

// envOverlay is applied on top of the parent environment for every child.
var envOverlay = []string{
	"LANG=C.UTF-8",
	"SIEGEUP_MANAGED=1",
}

// Supervisor spawns game-server children, observes their exits, and stops
// them on request. A port counts as stopped only once it is bindable again;
// process exit alone is not enough, since the OS may hold the socket or the
// child may have left descendants behind.
type Supervisor struct {
	store        *state.Store
	sink         *logsink.Sink
	gracefulWait time.Duration
	killWait     time.Duration
}

func New(store *state.Store, sink *logsink.Sink, gracefulWait, killWait time.Duration) *Supervisor {
	return &Supervisor{
		store:        store,
		sink:         sink,
		gracefulWait: gracefulWait,
		killWait:     killWait,
	}
}

// BuildArgs returns the canonical argument vector for a server child.
func BuildArgs(port int, extra []string) []string {
	args := []string{
		"-batchmode",
		"-nographics",
		"-logFile", "-",
		"--server-port", strconv.Itoa(port),
	}
	return append(args, extra...)
}

// Spawn launches the executable for a desired server, wiring stdout and
// stderr through the port's timestamped launch log, and registers the child.
// Spawn failures are recorded as the port's last error.
func (s *Supervisor) Spawn(desired state.DesiredServer, exePath string) (*state.Child, error) {
	launchLog, err := s.sink.Open(desired.Port)
	if err != nil {
		msg := fmt.Sprintf("Failed to open log for port %d: %v", desired.Port, err)
		s.store.SetLastError(desired.Port, msg)
		return nil, fmt.Errorf("failed to open launch log: %w", err)
	}

	cmd := exec.Command(exePath, BuildArgs(desired.Port, desired.Args)...)
	cmd.Dir = filepath.Dir(exePath)
	cmd.Env = append(os.Environ(), envOverlay...)
	cmd.Stdout = launchLog.Writer()
	cmd.Stderr = launchLog.Writer()

	if err := cmd.Start(); err != nil {
		launchLog.Close()
		msg := fmt.Sprintf("Failed to start %q: %v", filepath.Base(exePath), err)
		s.store.SetLastError(desired.Port, msg)
		return nil, fmt.Errorf("failed to start server process: %w", err)
	}

	child := &state.Child{
		Port:      desired.Port,
		PID:       cmd.Process.Pid,
		Version:   desired.Version,
		Args:      desired.Args,
		LaunchID:  uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Process:   cmd.Process,
	}
	s.store.PutChild(child)
	s.store.ClearLastError(desired.Port)

	logging.L().Info("server started",
		"port", desired.Port, "version", desired.Version, "pid", child.PID, "log", launchLog.Name())

	go s.observe(cmd, child, launchLog)
	return child, nil
}

// observe waits for the child to exit, closes its log, and removes the
// children entry once the port is confirmed free. An intentional shutdown
// owns its own cleanup; the observer then only closes the log.
func (s *Supervisor) observe(cmd *exec.Cmd, child *state.Child, launchLog *logsink.LaunchLog) {
	waitErr := cmd.Wait()
	if err := launchLog.Close(); err != nil {
		logging.L().Warn("failed to close launch log", "port", child.Port, "error", err)
	}

	if s.store.ChildStopping(child) {
		return
	}

	if waitErr != nil {
		msg := fmt.Sprintf("Server on port %d exited unexpectedly (%v), check logs for details", child.Port, waitErr)
		s.store.SetLastError(child.Port, msg)
		logging.L().Warn("server exited unexpectedly", "port", child.Port, "pid", child.PID, "error", waitErr)
	} else {
		logging.L().Info("server exited", "port", child.Port, "pid", child.PID)
	}

	if !ports.WaitUntilFree(child.Port, s.gracefulWait) {
		logging.L().Warn("port still bound after server exit", "port", child.Port)
	}
	s.store.RemoveChild(child.Port, child.LaunchID)
}

// Shutdown stops the child on a port: SIGTERM, bounded wait for the port to
// come free, then SIGKILL with a second bounded wait. The children entry is
// removed only once the port is free, so a replacement cannot race the old
// socket. A port still bound after SIGKILL keeps its entry and reports an
// error.
func (s *Supervisor) Shutdown(port int) error {
	child, ok := s.store.Child(port)
	if !ok {
		return nil
	}
	s.store.MarkStopping(port)

	logging.L().Info("stopping server", "port", port, "pid", child.PID)
	if err := child.Process.Signal(syscall.SIGTERM); err != nil {
		logging.L().Debug("SIGTERM delivery failed, process likely gone", "port", port, "error", err)
	}
	if ports.WaitUntilFree(port, s.gracefulWait) {
		s.store.RemoveChild(port, child.LaunchID)
		logging.L().Info("server stopped gracefully", "port", port)
		return nil
	}

	logging.L().Warn("server did not release port in time, killing", "port", port, "pid", child.PID)
	if err := child.Process.Kill(); err != nil {
		logging.L().Debug("SIGKILL delivery failed, process likely gone", "port", port, "error", err)
	}
	if ports.WaitUntilFree(port, s.killWait) {
		s.store.RemoveChild(port, child.LaunchID)
		return nil
	}

	msg := fmt.Sprintf("Port %d still bound after forced shutdown", port)
	s.store.SetLastError(port, msg)
	return fmt.Errorf("port %d did not become free after SIGKILL", port)
}

// ShutdownAll stops every live child, continuing past per-port failures.
func (s *Supervisor) ShutdownAll() {
	for _, child := range s.store.Children() {
		if err := s.Shutdown(child.Port); err != nil {
			logging.L().Error("failed to stop server", "port", child.Port, "error", err)
		}
	}
}
