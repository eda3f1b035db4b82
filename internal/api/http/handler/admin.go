package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/veracity-ops/veracity/internal/api/http/dto"
	"github.com/veracity-ops/veracity/internal/users"
)

// OrphanSweeper triggers one reconciliation sweep of the transient document
// store. Satisfied by *orphan.Sweeper.
type OrphanSweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type AdminHandler struct {
	userService *users.Service
	sweeper     OrphanSweeper
}

func NewAdminHandler(userService *users.Service, sweeper OrphanSweeper) *AdminHandler {
	return &AdminHandler{
		userService: userService,
		sweeper:     sweeper,
	}
}

// ListUsers returns all accounts
// GET /api/v1/admin/users
func (h *AdminHandler) ListUsers(c *gin.Context) {
	userList, err := h.userService.List(c.Request.Context())
	if err != nil {
		slog.Error("Failed to list users", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list users"})
		return
	}

	responses := make([]dto.UserResponse, len(userList))
	for i, u := range userList {
		responses[i] = dto.UserResponse{
			ID:        u.ID,
			Username:  u.Username,
			Role:      u.Role,
			CreatedAt: u.CreatedAt.Format(time.RFC3339),
		}
	}

	c.JSON(http.StatusOK, dto.ListUsersResponse{Users: responses, Count: len(responses)})
}

// CreateUser provisions an account with an explicit role. Self-registration
// always yields the user role; admin accounts come from here.
// POST /api/v1/admin/users
func (h *AdminHandler) CreateUser(c *gin.Context) {
	var req dto.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.userService.Create(c.Request.Context(), req.Username, req.Password, req.Role)
	if err != nil {
		if errors.Is(err, users.ErrUsernameExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "username already exists"})
			return
		}
		slog.Error("Failed to create user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}

	c.JSON(http.StatusCreated, dto.UserResponse{
		ID:        user.ID,
		Username:  user.Username,
		Role:      user.Role,
		CreatedAt: user.CreatedAt.Format(time.RFC3339),
	})
}

// DeleteUser removes an account
// DELETE /api/v1/admin/users/:id
func (h *AdminHandler) DeleteUser(c *gin.Context) {
	if err := h.userService.Delete(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		slog.Error("Failed to delete user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete user"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "user deleted"})
}

// SweepOrphans runs an immediate orphan sweep instead of waiting for the
// next scheduled one.
// POST /api/v1/admin/orphans/sweep
func (h *AdminHandler) SweepOrphans(c *gin.Context) {
	removed, err := h.sweeper.Sweep(c.Request.Context())
	if err != nil {
		slog.Error("Manual orphan sweep failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "sweep failed"})
		return
	}

	c.JSON(http.StatusOK, dto.SweepResponse{Removed: removed})
}
