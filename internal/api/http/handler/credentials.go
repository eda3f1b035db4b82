package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/veracity-ops/veracity/internal/api/http/dto"
	"github.com/veracity-ops/veracity/internal/credentials"
)

type CredentialsHandler struct {
	credService *credentials.Service
}

func NewCredentialsHandler(credService *credentials.Service) *CredentialsHandler {
	return &CredentialsHandler{credService: credService}
}

// CreateCredential stores a new encrypted credential
// POST /api/v1/credentials
func (h *CredentialsHandler) CreateCredential(c *gin.Context) {
	var req dto.CreateCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cred, err := h.credService.Create(c.Request.Context(), credentials.CreateParams{
		Name:         req.Name,
		EndpointURL:  req.EndpointURL,
		EndpointPort: req.EndpointPort,
		Secret:       req.Secret,
		Notes:        req.Notes,
	})
	if err != nil {
		if errors.Is(err, credentials.ErrNameTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "credential name already exists"})
			return
		}
		slog.Error("Failed to create credential", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create credential"})
		return
	}

	c.JSON(http.StatusCreated, toCredentialResponse(cred))
}

// ListCredentials returns all credentials with masked secrets
// GET /api/v1/credentials
func (h *CredentialsHandler) ListCredentials(c *gin.Context) {
	creds, err := h.credService.List(c.Request.Context())
	if err != nil {
		slog.Error("Failed to list credentials", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list credentials"})
		return
	}

	responses := make([]dto.CredentialResponse, len(creds))
	for i := range creds {
		responses[i] = toCredentialResponse(&creds[i])
	}

	c.JSON(http.StatusOK, dto.ListCredentialsResponse{
		Credentials: responses,
		Count:       len(responses),
	})
}

// GetCredential returns one credential with a masked secret
// GET /api/v1/credentials/:id
func (h *CredentialsHandler) GetCredential(c *gin.Context) {
	cred, err := h.credService.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondCredentialError(c, err)
		return
	}

	c.JSON(http.StatusOK, toCredentialResponse(cred))
}

// UpdateCredential replaces endpoint, notes and optionally the secret
// PUT /api/v1/credentials/:id
func (h *CredentialsHandler) UpdateCredential(c *gin.Context) {
	var req dto.UpdateCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cred, err := h.credService.Update(c.Request.Context(), c.Param("id"), credentials.UpdateParams{
		EndpointURL:  req.EndpointURL,
		EndpointPort: req.EndpointPort,
		Secret:       req.Secret,
		Notes:        req.Notes,
	})
	if err != nil {
		respondCredentialError(c, err)
		return
	}

	c.JSON(http.StatusOK, toCredentialResponse(cred))
}

// SetEnabled toggles a credential
// POST /api/v1/credentials/:id/enabled
func (h *CredentialsHandler) SetEnabled(c *gin.Context) {
	var req dto.SetEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.credService.SetEnabled(c.Request.Context(), c.Param("id"), *req.Enabled); err != nil {
		respondCredentialError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "credential updated"})
}

// DeleteCredential removes the record; already-deployed state on remote
// targets is not retracted.
// DELETE /api/v1/credentials/:id
func (h *CredentialsHandler) DeleteCredential(c *gin.Context) {
	if err := h.credService.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondCredentialError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "credential deleted"})
}

func respondCredentialError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, credentials.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "credential not found"})
	case errors.Is(err, credentials.ErrInvalidID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid credential ID"})
	default:
		slog.Error("Credential operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func toCredentialResponse(cred *credentials.Credential) dto.CredentialResponse {
	return dto.CredentialResponse{
		ID:            cred.ID,
		Name:          cred.Name,
		EndpointURL:   cred.EndpointURL,
		EndpointPort:  cred.EndpointPort,
		SecretPreview: credentials.MaskSecret(cred.Secret),
		Enabled:       cred.Enabled,
		UsageCount:    cred.UsageCount,
		LastUsedAt:    cred.LastUsedAt,
		Notes:         cred.Notes,
		CreatedAt:     cred.CreatedAt,
		UpdatedAt:     cred.UpdatedAt,
	}
}
