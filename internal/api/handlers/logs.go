package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/siegeup/node-agent/internal/logsink"
)

// LogHandler serves launch-log tails.
type LogHandler struct {
	sink *logsink.Sink
}

func NewLogHandler(sink *logsink.Sink) *LogHandler {
	return &LogHandler{sink: sink}
}

// Logs returns the tail of the index-th most recent launch log for a port.
// GET /logs/:port?index=N
func (h *LogHandler) Logs(c *gin.Context) {
	port, err := strconv.Atoi(c.Param("port"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid port"})
		return
	}

	index := 0
	if raw := c.Query("index"); raw != "" {
		index, err = strconv.Atoi(raw)
		if err != nil || index < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid index"})
			return
		}
	}

	result, err := h.sink.Tail(port, index)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Log not found"})
		return
	}
	c.JSON(http.StatusOK, result)
}
