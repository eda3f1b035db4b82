package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/veracity-ops/veracity/internal/credentials"
)

// UsageMarker records that a credential was used by a run. Satisfied by
// *credentials.Service.
type UsageMarker interface {
	MarkUsed(ctx context.Context, id string) error
}

// Orchestrator sequences write -> refresh -> apply -> cleanup per target and
// aggregates per-target results. Failures are captured as result data; no
// error crosses the per-target boundary.
type Orchestrator struct {
	client    PillarClient
	usage     UsageMarker
	registrar Registrar
	notifier  Notifier

	// Serializes concurrent runs hitting the same (target, scope) document.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewOrchestrator(client PillarClient, usage UsageMarker, registrar Registrar, notifier Notifier) *Orchestrator {
	return &Orchestrator{
		client:    client,
		usage:     usage,
		registrar: registrar,
		notifier:  notifier,
		locks:     make(map[string]*sync.Mutex),
	}
}

// Run deploys one credential to a set of targets following the plan. Targets
// are processed sequentially; each target's failure is isolated in its own
// result. The credential's usage metadata is marked exactly once per run if
// at least one target succeeded.
func (o *Orchestrator) Run(ctx context.Context, cred *credentials.Credential, targets []string, plan Plan, params map[string]string) (Summary, error) {
	if !cred.Enabled {
		return Summary{}, credentials.ErrDisabled
	}
	if len(targets) == 0 {
		return Summary{}, fmt.Errorf("no targets given")
	}

	doc := plan.BuildDoc(cred, params)

	summary := Summary{
		Purpose: plan.Purpose,
		Results: make(map[string]TargetResult, len(targets)),
	}

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			summary.Results[target] = TargetResult{
				Target:    target,
				Error:     fmt.Sprintf("run canceled before target was attempted: %v", err),
				CleanupOK: true,
			}
			continue
		}
		summary.Results[target] = o.deployOne(ctx, target, plan, doc)
	}

	if summary.AnySuccess() {
		if err := o.usage.MarkUsed(context.WithoutCancel(ctx), cred.ID); err != nil {
			slog.Error("Failed to mark credential usage", "credential_id", cred.ID, "error", err)
		}
	}

	o.sideEffects(ctx, cred, summary)

	slog.Info("Deployment run finished",
		"purpose", plan.Purpose,
		"credential_id", cred.ID,
		"succeeded", len(summary.Succeeded()),
		"failed", len(summary.Failed()))

	return summary, nil
}

// deployOne runs the per-target state machine. Once the pillar document is
// written it is deleted exactly once regardless of how the attempt ends;
// panics are converted to failure results at this boundary.
func (o *Orchestrator) deployOne(ctx context.Context, target string, plan Plan, doc map[string]string) (res TargetResult) {
	res = TargetResult{Target: target, CleanupOK: true}

	unlock := o.lock(target, plan.Scope)
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic during deployment attempt", "target", target, "panic", r)
			res.Success = false
			res.Error = fmt.Sprintf("unexpected error: %v", r)
		}
	}()

	if err := o.client.WriteScopedDoc(ctx, target, plan.Scope, doc); err != nil {
		// Nothing was written, so there is nothing to clean up.
		res.Error = fmt.Sprintf("write pillar: %v", err)
		return res
	}
	res.Written = true

	// The transient document now exists on the master. This defer is the
	// single cleanup point for the success, failure and panic paths.
	defer func() {
		res.CleanupOK = o.cleanup(ctx, target, plan.Scope)
	}()

	if err := o.client.RefreshPillar(ctx, target); err != nil {
		res.Error = fmt.Sprintf("refresh pillar: %v", err)
		return res
	}

	cmd := o.client.ApplyRoutine(ctx, target, plan.Routine, plan.Timeout)
	res.Success = cmd.Success
	res.Output = cmd.Output
	res.Error = cmd.Error
	return res
}

// cleanup deletes the transient document. Failures are logged and recorded on
// the result, never escalated: a leftover transient secret is an operator
// concern, not a user-facing deployment error.
func (o *Orchestrator) cleanup(ctx context.Context, target, scope string) bool {
	if err := o.client.DeleteScopedDoc(context.WithoutCancel(ctx), target, scope); err != nil {
		slog.Warn("Failed to delete transient pillar document",
			"target", target, "scope", scope, "error", err)
		return false
	}
	return true
}

// sideEffects runs inventory registration and notification after a run. Both
// are best-effort and must not change the reported outcome.
func (o *Orchestrator) sideEffects(ctx context.Context, cred *credentials.Credential, summary Summary) {
	ctx = context.WithoutCancel(ctx)

	if succeeded := summary.Succeeded(); o.registrar != nil && len(succeeded) > 0 {
		if err := o.registrar.RegisterTargets(ctx, succeeded); err != nil {
			slog.Warn("Inventory registration failed", "error", err)
		}
	}

	if o.notifier != nil {
		title := fmt.Sprintf("Deployment: %s", summary.Purpose)
		message := fmt.Sprintf("%s deployed to %d of %d targets",
			cred.Name, len(summary.Succeeded()), len(summary.Results))
		if failed := summary.Failed(); len(failed) > 0 {
			message += fmt.Sprintf(" (failed: %v)", failed)
		}
		if err := o.notifier.Notify(ctx, title, message); err != nil {
			slog.Warn("Notification dispatch failed", "error", err)
		}
	}
}

// lock serializes attempts against the same (target, scope) document. Entries
// are kept for the process lifetime; the key space is bounded by the number
// of targets times purposes.
func (o *Orchestrator) lock(target, scope string) func() {
	key := target + "/" + scope

	o.mu.Lock()
	m, ok := o.locks[key]
	if !ok {
		m = &sync.Mutex{}
		o.locks[key] = m
	}
	o.mu.Unlock()

	m.Lock()
	return m.Unlock
}
