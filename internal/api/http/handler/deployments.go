package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/veracity-ops/veracity/internal/api/http/dto"
	"github.com/veracity-ops/veracity/internal/credentials"
	"github.com/veracity-ops/veracity/internal/deploy"
)

// DeploymentRunner runs one orchestration. Satisfied by *deploy.Orchestrator.
type DeploymentRunner interface {
	Run(ctx context.Context, cred *credentials.Credential, targets []string, plan deploy.Plan, params map[string]string) (deploy.Summary, error)
}

// CredentialGetter loads the credential to deploy. Satisfied by
// *credentials.Service.
type CredentialGetter interface {
	GetByID(ctx context.Context, id string) (*credentials.Credential, error)
}

type DeploymentsHandler struct {
	runner DeploymentRunner
	creds  CredentialGetter
}

func NewDeploymentsHandler(runner DeploymentRunner, creds CredentialGetter) *DeploymentsHandler {
	return &DeploymentsHandler{
		runner: runner,
		creds:  creds,
	}
}

// Deploy runs the credential deployment workflow against a set of targets.
// Partial success is reported as 200 with per-target results; a run where no
// pillar document could be written at all is an outright failure.
// POST /api/v1/credentials/:id/deploy
func (h *DeploymentsHandler) Deploy(c *gin.Context) {
	var req dto.DeployRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	plan, ok := deploy.PlanFor(req.Purpose)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown deployment purpose"})
		return
	}

	cred, err := h.creds.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondCredentialError(c, err)
		return
	}

	summary, err := h.runner.Run(c.Request.Context(), cred, req.Targets, plan, req.Params)
	if err != nil {
		if errors.Is(err, credentials.ErrDisabled) {
			c.JSON(http.StatusConflict, gin.H{"error": "credential is disabled"})
			return
		}
		slog.Error("Deployment run failed to start", "error", err, "credential_id", cred.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to run deployment"})
		return
	}

	resp := toDeployResponse(summary)
	if !summary.AnyWritten() {
		c.JSON(http.StatusBadGateway, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func toDeployResponse(summary deploy.Summary) dto.DeployResponse {
	results := make(map[string]dto.TargetResultResponse, len(summary.Results))
	for target, res := range summary.Results {
		results[target] = dto.TargetResultResponse{
			Success:   res.Success,
			Output:    res.Output,
			Error:     res.Error,
			CleanupOK: res.CleanupOK,
		}
	}
	return dto.DeployResponse{
		Purpose:   summary.Purpose,
		Succeeded: len(summary.Succeeded()),
		Failed:    len(summary.Failed()),
		Results:   results,
	}
}
