// Package deploy implements the secure credential deployment workflow: a
// transient pillar document is written for one target, the target refreshes
// its pillar, a state routine that reads the secret from the pillar is
// applied, and the document is deleted again no matter how the attempt ended.
package deploy

import (
	"context"
	"time"

	"github.com/veracity-ops/veracity/internal/credentials"
	"github.com/veracity-ops/veracity/internal/salt"
)

// PillarClient is the configuration-management control plane the workflow
// drives. *salt.Client satisfies it; tests use a recording fake.
type PillarClient interface {
	WriteScopedDoc(ctx context.Context, target, scope string, doc map[string]string) error
	RefreshPillar(ctx context.Context, target string) error
	ApplyRoutine(ctx context.Context, target, routine string, timeout time.Duration) salt.CommandResult
	DeleteScopedDoc(ctx context.Context, target, scope string) error
}

// Registrar upserts inventory records for targets that were deployed to.
// Registration is best-effort; its errors never change a deployment outcome.
type Registrar interface {
	RegisterTargets(ctx context.Context, targets []string) error
}

// Notifier emits a user-facing summary after a run. Failures are swallowed.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// Plan describes one deployment purpose: which pillar scope the secret is
// written under, which routine consumes it, how long the apply may take, and
// how the flat key-value document is built from the credential and per-run
// parameters.
type Plan struct {
	Purpose  string
	Scope    string
	Routine  string
	Timeout  time.Duration
	BuildDoc func(cred *credentials.Credential, params map[string]string) map[string]string
}

// VPNSetupPlan installs a VPN agent on the target. The setup key reaches the
// routine exclusively through the refreshed pillar.
func VPNSetupPlan() Plan {
	return Plan{
		Purpose: "vpn_setup",
		Scope:   "vpn_setup",
		Routine: "netbird",
		Timeout: salt.DefaultApplyTimeout,
		BuildDoc: func(cred *credentials.Credential, _ map[string]string) map[string]string {
			return map[string]string{
				"management_url": cred.EndpointURL,
				"setup_key":      cred.Secret,
			}
		},
	}
}

// VMCommandPlan executes a VM lifecycle command against a virtualization API
// from the target, with the API token delivered via pillar.
func VMCommandPlan() Plan {
	return Plan{
		Purpose: "vm_command",
		Scope:   "vm_command",
		Routine: "proxmox",
		Timeout: salt.DefaultApplyTimeout,
		BuildDoc: func(cred *credentials.Credential, params map[string]string) map[string]string {
			return map[string]string{
				"api_url":  cred.EndpointURL,
				"username": params["username"],
				"token":    cred.Secret,
				"command":  params["command"],
				"node":     params["node"],
				"vmid":     params["vmid"],
				"vm_type":  params["vm_type"],
			}
		},
	}
}

// PlanFor resolves a purpose name to its plan.
func PlanFor(purpose string) (Plan, bool) {
	switch purpose {
	case "vpn_setup":
		return VPNSetupPlan(), true
	case "vm_command":
		return VMCommandPlan(), true
	}
	return Plan{}, false
}
