package handlers

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/siegeup/node-agent/internal/builds"
	"github.com/siegeup/node-agent/internal/logging"
	"github.com/siegeup/node-agent/internal/state"
)

// BuildHandler covers build-artifact ingest and cleanup: /upload, /purge.
type BuildHandler struct {
	store  *state.Store
	builds *builds.Store
}

func NewBuildHandler(store *state.Store, buildStore *builds.Store) *BuildHandler {
	return &BuildHandler{store: store, builds: buildStore}
}

// Upload ingests a build archive into the build store.
// POST /upload (multipart, field "gameZip")
func (h *BuildHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("gameZip")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing gameZip file"})
		return
	}
	defer file.Close()

	version := strings.TrimSpace(c.PostForm("version"))
	if version == "" {
		version = versionFromFilename(header.Filename)
	}

	if err := h.builds.Ingest(file, header.Filename, version); err != nil {
		logging.L().Error("build ingest failed", "version", version, "filename", header.Filename, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Failed to ingest archive: %v", err)})
		return
	}

	logging.L().Info("build ingested", "version", version, "filename", header.Filename)
	c.JSON(http.StatusOK, gin.H{"ok": true, "version": version})
}

// Purge deletes build versions not referenced by any running child. The
// in-use set is snapshotted once, before deletion starts.
// POST /purge
func (h *BuildHandler) Purge(c *gin.Context) {
	inUse := h.store.RunningVersions()
	purged, err := h.builds.Purge(inUse)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to purge builds: %v", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "purged": purged})
}

func versionFromFilename(filename string) string {
	base := filepath.Base(filename)
	for _, suffix := range []string{".tar.gz", ".tgz", ".zip"} {
		if strings.HasSuffix(strings.ToLower(base), suffix) {
			base = base[:len(base)-len(suffix)]
			break
		}
	}
	base = strings.TrimSpace(base)
	if base == "" || base == "." {
		return fmt.Sprintf("archive_%d", time.Now().UnixMilli())
	}
	return base
}
