package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/siegeup/node-agent/internal/builds"
	"github.com/siegeup/node-agent/internal/hostinfo"
	"github.com/siegeup/node-agent/internal/logging"
	"github.com/siegeup/node-agent/internal/logsink"
	"github.com/siegeup/node-agent/internal/state"
	"github.com/siegeup/node-agent/internal/supervisor"
)

// ServerHandler covers the desired-set and status surface: /launch,
// /restart, /update, /status.
type ServerHandler struct {
	store      *state.Store
	builds     *builds.Store
	sink       *logsink.Sink
	supervisor *supervisor.Supervisor
	cpu        *hostinfo.CPUTracker
	updateCh   chan<- struct{}
}

func NewServerHandler(store *state.Store, buildStore *builds.Store, sink *logsink.Sink, sup *supervisor.Supervisor, cpu *hostinfo.CPUTracker, updateCh chan<- struct{}) *ServerHandler {
	return &ServerHandler{
		store:      store,
		builds:     buildStore,
		sink:       sink,
		supervisor: sup,
		cpu:        cpu,
		updateCh:   updateCh,
	}
}

// launchEntry uses pointers for the optional fields so absent and zero can
// be told apart when defaulting.
type launchEntry struct {
	Name    *string  `json:"name"`
	Version string   `json:"version"`
	Port    int      `json:"port"`
	Args    []string `json:"args"`
	Visible *bool    `json:"visible"`
	Run     *bool    `json:"run"`
}

type launchRequest struct {
	Servers []launchEntry `json:"servers"`
}

// Launch replaces the desired-server set.
// POST /launch
func (h *ServerHandler) Launch(c *gin.Context) {
	var req launchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	servers := make([]state.DesiredServer, 0, len(req.Servers))
	seen := make(map[int]bool)
	for i, entry := range req.Servers {
		if entry.Port <= 0 || entry.Port > 65535 {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid port %d", entry.Port)})
			return
		}
		if strings.TrimSpace(entry.Version) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Missing version for port %d", entry.Port)})
			return
		}
		if seen[entry.Port] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Duplicate port detected in servers array"})
			return
		}
		seen[entry.Port] = true

		args := entry.Args
		if args == nil {
			args = []string{}
		}
		server := state.DesiredServer{
			Name:    fmt.Sprintf("Server %d", i+1),
			Version: entry.Version,
			Port:    entry.Port,
			Args:    args,
			Visible: true,
			Run:     true,
		}
		if entry.Name != nil {
			server.Name = *entry.Name
		}
		if entry.Visible != nil {
			server.Visible = *entry.Visible
		}
		if entry.Run != nil {
			server.Run = *entry.Run
		}
		servers = append(servers, server)
	}

	byPort := make(map[int]state.DesiredServer, len(servers))
	for _, server := range servers {
		byPort[server.Port] = server
	}

	// Stop children whose entry disappeared or changed before persisting the
	// new set, so the next reconcile tick starts from a clean port.
	for _, existing := range h.store.Desired() {
		incoming, keep := byPort[existing.Port]
		if keep && incoming.Version == existing.Version && argsEqual(incoming.Args, existing.Args) && incoming.Run {
			continue
		}
		if _, running := h.store.Child(existing.Port); !running {
			continue
		}
		if err := h.supervisor.Shutdown(existing.Port); err != nil {
			logging.L().Error("failed to stop replaced server", "port", existing.Port, "error", err)
		}
	}

	if err := h.store.SetDesired(servers); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to persist server list"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// argsEqual treats nil and empty the same, so re-posting a server whose
// args were stored as omitted does not count as a change.
func argsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Restart stops the child on a port; the reconciler respawns it.
// POST /restart?port=P
func (h *ServerHandler) Restart(c *gin.Context) {
	port, err := strconv.Atoi(c.Query("port"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid port"})
		return
	}
	if _, ok := h.store.DesiredByPort(port); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Server not found"})
		return
	}

	if err := h.supervisor.Shutdown(port); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to stop server: %v", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Update acknowledges, then asks the main loop to stop every child and exit
// so the service manager can swap the binary and relaunch.
// POST /update
func (h *ServerHandler) Update(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
	select {
	case h.updateCh <- struct{}{}:
	default:
	}
}

type serverStatus struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Port        int      `json:"port"`
	Args        []string `json:"args"`
	Visible     bool     `json:"visible"`
	Run         bool     `json:"run"`
	PID         int      `json:"pid"`
	Running     bool     `json:"running"`
	MemoryMB    int64    `json:"memoryMB"`
	Commit      string   `json:"commit"`
	LaunchError string   `json:"launchError,omitempty"`
}

// Status returns a snapshot of the host and every desired server.
// GET /status
func (h *ServerHandler) Status(c *gin.Context) {
	totalMB, usedMB := hostinfo.Memory()

	servers := []serverStatus{}
	for _, desired := range h.store.Desired() {
		entry := serverStatus{
			Name:        desired.Name,
			Version:     desired.Version,
			Port:        desired.Port,
			Args:        desired.Args,
			Visible:     desired.Visible,
			Run:         desired.Run,
			Commit:      hostinfo.Commit(),
			LaunchError: h.store.LastError(desired.Port),
		}
		if child, ok := h.store.Child(desired.Port); ok {
			entry.PID = child.PID
			entry.Running = true
			entry.MemoryMB = hostinfo.ProcessRSSMB(child.PID)
		}
		servers = append(servers, entry)
	}

	archives, err := h.builds.List()
	if err != nil {
		logging.L().Warn("failed to list builds for status", "error", err)
		archives = []string{}
	}

	c.JSON(http.StatusOK, gin.H{
		"hostname":      hostinfo.Hostname(),
		"platform":      hostinfo.Platform(),
		"totalMemoryMB": totalMB,
		"usedMemoryMB":  usedMB,
		"cpuPercent":    h.cpu.Percent(),
		"commit":        hostinfo.Commit(),
		"servers":       servers,
		"archives":      archives,
	})
}
