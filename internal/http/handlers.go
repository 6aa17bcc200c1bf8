package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/termhost/internal/terminal"
)

const version = "0.3.0"

// Terminals is the subset of the terminal manager exposed over REST.
type Terminals interface {
	List() []terminal.Info
	Get(id string) (*terminal.Info, error)
	Scrollback(id string) ([]byte, error)
	Close(ctx context.Context, id string) error
	SyncActiveTerminals(ctx context.Context, activeIDs []string) terminal.SyncResult
	Count() int
}

// Connections reports connected transport clients.
type Connections interface {
	Connections() int
}

// SyncRequest is the body of POST /terminals/sync.
type SyncRequest struct {
	ActiveIDs []string `json:"active_ids"`
}

// Handlers contains all HTTP handlers
type Handlers struct {
	terminals Terminals
	conns     Connections
	started   time.Time
}

// NewHandlers creates a new handler set
func NewHandlers(terminals Terminals, conns Connections) *Handlers {
	return &Handlers{
		terminals: terminals,
		conns:     conns,
		started:   time.Now(),
	}
}

// Root handles health check
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "termhost",
		"version": version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	connections := 0
	if h.conns != nil {
		connections = h.conns.Connections()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"terminals":      h.terminals.Count(),
		"connections":    connections,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}

// ListTerminals lists all live terminals
func (h *Handlers) ListTerminals(c *gin.Context) {
	terminals := h.terminals.List()
	c.JSON(http.StatusOK, gin.H{
		"terminals": terminals,
		"count":     len(terminals),
	})
}

// GetTerminal returns one terminal
func (h *Handlers) GetTerminal(c *gin.Context) {
	termID := c.Param("id")
	if err := terminal.ValidateID(termID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	info, err := h.terminals.Get(termID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// Scrollback returns the retained output of a terminal
func (h *Handlers) Scrollback(c *gin.Context) {
	termID := c.Param("id")
	if err := terminal.ValidateID(termID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	data, err := h.terminals.Scrollback(termID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
}

// CloseTerminal terminates a terminal and its backing session
func (h *Handlers) CloseTerminal(c *gin.Context) {
	termID := c.Param("id")
	if err := terminal.ValidateID(termID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.terminals.Close(c.Request.Context(), termID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"terminal_id": termID,
	})
}

// SyncTerminals prunes backing sessions not listed as active
func (h *Handlers) SyncTerminals(c *gin.Context) {
	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	for _, termID := range req.ActiveIDs {
		if err := terminal.ValidateID(termID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	result := h.terminals.SyncActiveTerminals(c.Request.Context(), req.ActiveIDs)
	c.JSON(http.StatusOK, result)
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, terminal.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
