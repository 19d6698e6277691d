package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/siegeup/node-agent/internal/logging"
)

// DesiredServer is one persisted entry of the desired-server set. Ports are
// unique across the set; the API facade enforces that on every update.
type DesiredServer struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Port    int      `json:"port"`
	Args    []string `json:"args"`
	Visible bool     `json:"visible"`
	Run     bool     `json:"run"`
}

// Child is a live supervised process, keyed by port. At most one exists per
// port. The entry stays in the map until the port is confirmed free, so a
// respawn can never race a lingering socket.
type Child struct {
	Port      int       `json:"port"`
	PID       int       `json:"pid"`
	Version   string    `json:"version"`
	Args      []string  `json:"args"`
	LaunchID  string    `json:"launch_id"`
	StartedAt time.Time `json:"started_at"`

	// Stopping is set by an API-driven shutdown so the exit observer does
	// not treat the exit as a crash.
	Stopping bool `json:"-"`

	Process *os.Process `json:"-"`
}

type settingsDocument struct {
	Servers []DesiredServer `json:"servers"`
}

// Store holds the persisted desired set plus the volatile runtime maps
// (children, last per-port errors). All access is mutex-guarded; the
// reconciler, the exit observers, and the API handlers share it.
type Store struct {
	path string

	mu       sync.Mutex
	servers  []DesiredServer
	children map[int]*Child
	errors   map[int]string
}

// NewStore loads (or initializes) the desired set from the settings file.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path:     path,
		servers:  []DesiredServer{},
		children: make(map[int]*Child),
		errors:   make(map[int]string),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load reads settings.json. A missing or unparsable file reinitializes the
// desired set to empty and rewrites the file.
func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s.save()
		}
		return fmt.Errorf("failed to read settings: %w", err)
	}

	var doc settingsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		logging.L().Warn("settings file unparsable, reinitializing", "path", s.path, "error", err)
		s.servers = []DesiredServer{}
		return s.save()
	}

	if doc.Servers == nil {
		doc.Servers = []DesiredServer{}
	}
	s.servers = doc.Servers
	return nil
}

// save rewrites the settings file as a whole, via temp file and rename.
func (s *Store) save() error {
	doc := settingsDocument{Servers: s.servers}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace settings: %w", err)
	}
	return nil
}

// Desired returns a copy of the desired-server set.
func (s *Store) Desired() []DesiredServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]DesiredServer, len(s.servers))
	copy(result, s.servers)
	return result
}

// DesiredByPort returns the desired entry for a port.
func (s *Store) DesiredByPort(port int) (DesiredServer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, server := range s.servers {
		if server.Port == port {
			return server, true
		}
	}
	return DesiredServer{}, false
}

// SetDesired replaces the desired set and persists it.
func (s *Store) SetDesired(servers []DesiredServer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if servers == nil {
		servers = []DesiredServer{}
	}
	s.servers = servers
	return s.save()
}

// Child returns the live child for a port.
func (s *Store) Child(port int) (*Child, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	child, ok := s.children[port]
	return child, ok
}

// PutChild registers a live child for its port.
func (s *Store) PutChild(child *Child) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.children[child.Port] = child
}

// RemoveChild deletes the child entry for a port if it still refers to the
// given launch. A stale observer from a previous launch cannot evict a
// newer child this way.
func (s *Store) RemoveChild(port int, launchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if child, ok := s.children[port]; ok && child.LaunchID == launchID {
		delete(s.children, port)
	}
}

// MarkStopping flags a child as intentionally shutting down.
func (s *Store) MarkStopping(port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if child, ok := s.children[port]; ok {
		child.Stopping = true
	}
}

// ChildStopping reads a child's stopping flag. It takes the child pointer
// rather than a port so the answer survives the entry's removal from the
// map, which a shutdown may complete before the exit observer gets to run.
func (s *Store) ChildStopping(child *Child) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return child.Stopping
}

// Children returns a snapshot of all live children.
func (s *Store) Children() []*Child {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]*Child, 0, len(s.children))
	for _, child := range s.children {
		result = append(result, child)
	}
	return result
}

// RunningVersions returns the set of build versions referenced by live
// children. Purge uses this snapshot to honor in-use builds.
func (s *Store) RunningVersions() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := make(map[string]bool, len(s.children))
	for _, child := range s.children {
		versions[child.Version] = true
	}
	return versions
}

// SetLastError records the most recent failure for a port.
func (s *Store) SetLastError(port int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors[port] = msg
}

// ClearLastError drops the recorded failure for a port.
func (s *Store) ClearLastError(port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.errors, port)
}

// LastError returns the recorded failure for a port, if any.
func (s *Store) LastError(port int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors[port]
}
