package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/veracity-ops/veracity/internal/api/http/dto"
	"github.com/veracity-ops/veracity/internal/inventory"
)

type ServersHandler struct {
	inventoryService *inventory.Service
}

func NewServersHandler(inventoryService *inventory.Service) *ServersHandler {
	return &ServersHandler{inventoryService: inventoryService}
}

// ListServers returns the inventory
// GET /api/v1/servers
func (h *ServersHandler) ListServers(c *gin.Context) {
	servers, err := h.inventoryService.List(c.Request.Context())
	if err != nil {
		slog.Error("Failed to list servers", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list servers"})
		return
	}

	responses := make([]dto.ServerResponse, len(servers))
	for i, srv := range servers {
		responses[i] = toServerResponse(&srv)
	}

	c.JSON(http.StatusOK, dto.ListServersResponse{
		Servers: responses,
		Count:   len(responses),
	})
}

// GetServer returns one inventory record
// GET /api/v1/servers/:id
func (h *ServersHandler) GetServer(c *gin.Context) {
	srv, err := h.inventoryService.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, inventory.ErrServerNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "server not found"})
		case errors.Is(err, inventory.ErrInvalidID):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid server ID"})
		default:
			slog.Error("Failed to get server", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}

	c.JSON(http.StatusOK, toServerResponse(srv))
}

func toServerResponse(srv *inventory.Server) dto.ServerResponse {
	return dto.ServerResponse{
		ID:             srv.ID,
		TargetID:       srv.TargetID,
		IPAddress:      srv.IPAddress,
		OSName:         srv.OSName,
		OSVersion:      srv.OSVersion,
		LastDeployedAt: srv.LastDeployedAt,
		Notes:          srv.Notes,
		CreatedAt:      srv.CreatedAt,
	}
}
