package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veracity-ops/veracity/internal/api/http/dto"
	"github.com/veracity-ops/veracity/internal/credentials"
	"github.com/veracity-ops/veracity/internal/deploy"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRunner struct {
	summary deploy.Summary
	err     error

	gotTargets []string
	gotPlan    deploy.Plan
}

func (f *fakeRunner) Run(_ context.Context, _ *credentials.Credential, targets []string, plan deploy.Plan, _ map[string]string) (deploy.Summary, error) {
	f.gotTargets = targets
	f.gotPlan = plan
	return f.summary, f.err
}

type fakeCreds struct {
	cred *credentials.Credential
	err  error
}

func (f *fakeCreds) GetByID(context.Context, string) (*credentials.Credential, error) {
	return f.cred, f.err
}

func setupDeployRouter(h *DeploymentsHandler) *gin.Engine {
	r := gin.New()
	r.POST("/api/v1/credentials/:id/deploy", h.Deploy)
	return r
}

func deployRequest(t *testing.T, r *gin.Engine, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req, _ := http.NewRequest("POST", "/api/v1/credentials/cred-1/deploy", bytes.NewBuffer(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func enabledCredential() *credentials.Credential {
	return &credentials.Credential{ID: "cred-1", Name: "office-vpn", Enabled: true}
}

func TestDeployPartialSuccess(t *testing.T) {
	runner := &fakeRunner{summary: deploy.Summary{
		Purpose: "vpn_setup",
		Results: map[string]deploy.TargetResult{
			"web-01": {Target: "web-01", Written: true, Success: true, CleanupOK: true},
			"db-02":  {Target: "db-02", Written: true, Error: "refresh pillar: no ack", CleanupOK: true},
		},
	}}
	h := NewDeploymentsHandler(runner, &fakeCreds{cred: enabledCredential()})
	r := setupDeployRouter(h)

	w := deployRequest(t, r, dto.DeployRequest{
		Purpose: "vpn_setup",
		Targets: []string{"web-01", "db-02"},
	})

	assert.Equal(t, http.StatusOK, w.Code)

	var resp dto.DeployResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Succeeded)
	assert.Equal(t, 1, resp.Failed)
	assert.True(t, resp.Results["web-01"].Success)
	assert.Contains(t, resp.Results["db-02"].Error, "no ack")

	assert.Equal(t, []string{"web-01", "db-02"}, runner.gotTargets)
	assert.Equal(t, "netbird", runner.gotPlan.Routine)
}

func TestDeployNothingWrittenIsOutrightFailure(t *testing.T) {
	runner := &fakeRunner{summary: deploy.Summary{
		Purpose: "vpn_setup",
		Results: map[string]deploy.TargetResult{
			"web-01": {Target: "web-01", Error: "write pillar: disk full", CleanupOK: true},
		},
	}}
	h := NewDeploymentsHandler(runner, &fakeCreds{cred: enabledCredential()})
	r := setupDeployRouter(h)

	w := deployRequest(t, r, dto.DeployRequest{
		Purpose: "vpn_setup",
		Targets: []string{"web-01"},
	})

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestDeployUnknownPurpose(t *testing.T) {
	h := NewDeploymentsHandler(&fakeRunner{}, &fakeCreds{cred: enabledCredential()})
	r := setupDeployRouter(h)

	w := deployRequest(t, r, dto.DeployRequest{
		Purpose: "reformat_disks",
		Targets: []string{"web-01"},
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeployMissingTargets(t *testing.T) {
	h := NewDeploymentsHandler(&fakeRunner{}, &fakeCreds{cred: enabledCredential()})
	r := setupDeployRouter(h)

	w := deployRequest(t, r, dto.DeployRequest{Purpose: "vpn_setup"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeployCredentialNotFound(t *testing.T) {
	h := NewDeploymentsHandler(&fakeRunner{}, &fakeCreds{err: credentials.ErrNotFound})
	r := setupDeployRouter(h)

	w := deployRequest(t, r, dto.DeployRequest{
		Purpose: "vpn_setup",
		Targets: []string{"web-01"},
	})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeployDisabledCredential(t *testing.T) {
	h := NewDeploymentsHandler(&fakeRunner{err: credentials.ErrDisabled}, &fakeCreds{cred: enabledCredential()})
	r := setupDeployRouter(h)

	w := deployRequest(t, r, dto.DeployRequest{
		Purpose: "vpn_setup",
		Targets: []string{"web-01"},
	})

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDeployResponseNeverLeaksSecret(t *testing.T) {
	cred := enabledCredential()
	cred.Secret = "nb_super_secret_key"

	runner := &fakeRunner{summary: deploy.Summary{
		Purpose: "vpn_setup",
		Results: map[string]deploy.TargetResult{
			"web-01": {Target: "web-01", Written: true, Success: true, Output: "states applied", CleanupOK: true},
		},
	}}
	h := NewDeploymentsHandler(runner, &fakeCreds{cred: cred})
	r := setupDeployRouter(h)

	w := deployRequest(t, r, dto.DeployRequest{
		Purpose: "vpn_setup",
		Targets: []string{"web-01"},
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "nb_super_secret_key")
}
