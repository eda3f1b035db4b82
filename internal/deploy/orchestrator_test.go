package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veracity-ops/veracity/internal/credentials"
	"github.com/veracity-ops/veracity/internal/salt"
)

type call struct {
	Op      string
	Target  string
	Scope   string
	Routine string
	Timeout time.Duration
}

// fakeClient records every call in order and keeps a document store so
// idempotency can be asserted.
type fakeClient struct {
	mu         sync.Mutex
	calls      []call
	docs       map[string]map[string]string
	writeErr   map[string]error
	refreshErr map[string]error
	deleteErr  map[string]error
	applyRes   map[string]salt.CommandResult
	applyPanic bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		docs:       make(map[string]map[string]string),
		writeErr:   make(map[string]error),
		refreshErr: make(map[string]error),
		deleteErr:  make(map[string]error),
		applyRes:   make(map[string]salt.CommandResult),
	}
}

func (f *fakeClient) record(c call) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *fakeClient) WriteScopedDoc(_ context.Context, target, scope string, doc map[string]string) error {
	f.record(call{Op: "write", Target: target, Scope: scope})
	if err := f.writeErr[target]; err != nil {
		return err
	}
	f.mu.Lock()
	f.docs[target+"/"+scope] = doc
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) RefreshPillar(_ context.Context, target string) error {
	f.record(call{Op: "refresh", Target: target})
	return f.refreshErr[target]
}

func (f *fakeClient) ApplyRoutine(_ context.Context, target, routine string, timeout time.Duration) salt.CommandResult {
	f.record(call{Op: "apply", Target: target, Routine: routine, Timeout: timeout})
	if f.applyPanic {
		panic("apply blew up")
	}
	if res, ok := f.applyRes[target]; ok {
		return res
	}
	return salt.CommandResult{Success: true, Output: "applied"}
}

func (f *fakeClient) DeleteScopedDoc(_ context.Context, target, scope string) error {
	f.record(call{Op: "delete", Target: target, Scope: scope})
	if err := f.deleteErr[target]; err != nil {
		return err
	}
	f.mu.Lock()
	delete(f.docs, target+"/"+scope)
	f.mu.Unlock()
	return nil
}

// opsFor returns the ordered op names for one target.
func (f *fakeClient) opsFor(target string) []string {
	var ops []string
	for _, c := range f.calls {
		if c.Target == target {
			ops = append(ops, c.Op)
		}
	}
	return ops
}

func (f *fakeClient) countOp(target, op string) int {
	n := 0
	for _, c := range f.calls {
		if c.Target == target && c.Op == op {
			n++
		}
	}
	return n
}

type fakeUsage struct {
	mu    sync.Mutex
	count int
	err   error
}

func (u *fakeUsage) MarkUsed(context.Context, string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.count++
	return u.err
}

type fakeRegistrar struct {
	targets []string
	err     error
}

func (r *fakeRegistrar) RegisterTargets(_ context.Context, targets []string) error {
	r.targets = append(r.targets, targets...)
	return r.err
}

type fakeNotifier struct {
	titles   []string
	messages []string
	err      error
}

func (n *fakeNotifier) Notify(_ context.Context, title, message string) error {
	n.titles = append(n.titles, title)
	n.messages = append(n.messages, message)
	return n.err
}

func testCredential() *credentials.Credential {
	return &credentials.Credential{
		ID:          "5f8b2c47-0000-4000-8000-000000000001",
		Name:        "office-vpn",
		EndpointURL: "https://vpn.example.com",
		Secret:      "nb_plaintext_setup_key",
		Enabled:     true,
	}
}

func TestRunHappyPath(t *testing.T) {
	client := newFakeClient()
	usage := &fakeUsage{}
	o := NewOrchestrator(client, usage, nil, nil)

	summary, err := o.Run(context.Background(), testCredential(), []string{"web-01"}, VPNSetupPlan(), nil)
	require.NoError(t, err)

	res := summary.Results["web-01"]
	assert.True(t, res.Success)
	assert.True(t, res.CleanupOK)
	assert.Equal(t, "applied", res.Output)

	assert.Equal(t, []string{"write", "refresh", "apply", "delete"}, client.opsFor("web-01"))
	assert.Equal(t, 1, usage.count)
	assert.Empty(t, client.docs, "transient document must be gone after the run")
}

func TestRunWriteFailureSkipsCleanup(t *testing.T) {
	client := newFakeClient()
	client.writeErr["web-01"] = errors.New("permission denied")
	usage := &fakeUsage{}
	o := NewOrchestrator(client, usage, nil, nil)

	summary, err := o.Run(context.Background(), testCredential(), []string{"web-01"}, VPNSetupPlan(), nil)
	require.NoError(t, err)

	res := summary.Results["web-01"]
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "permission denied")
	assert.True(t, res.CleanupOK)

	// Nothing was written, so nothing is deleted.
	assert.Equal(t, []string{"write"}, client.opsFor("web-01"))
	assert.Equal(t, 0, usage.count)
}

func TestRunRefreshFailureCleansUpAndSkipsApply(t *testing.T) {
	client := newFakeClient()
	client.refreshErr["web-01"] = errors.New("minion not responding")
	o := NewOrchestrator(client, &fakeUsage{}, nil, nil)

	summary, err := o.Run(context.Background(), testCredential(), []string{"web-01"}, VPNSetupPlan(), nil)
	require.NoError(t, err)

	res := summary.Results["web-01"]
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "minion not responding")

	// Apply must never run against stale pillar data; cleanup still happens.
	assert.Equal(t, []string{"write", "refresh", "delete"}, client.opsFor("web-01"))
	assert.Equal(t, 1, client.countOp("web-01", "delete"))
}

func TestRunApplyFailureStillCleansUp(t *testing.T) {
	client := newFakeClient()
	client.applyRes["web-01"] = salt.CommandResult{Output: "partial", Error: "exit code 1"}
	o := NewOrchestrator(client, &fakeUsage{}, nil, nil)

	summary, err := o.Run(context.Background(), testCredential(), []string{"web-01"}, VPNSetupPlan(), nil)
	require.NoError(t, err)

	res := summary.Results["web-01"]
	assert.False(t, res.Success)
	assert.Equal(t, "exit code 1", res.Error)
	assert.Equal(t, "partial", res.Output)
	assert.Equal(t, 1, client.countOp("web-01", "delete"))
}

func TestRunApplyTimeoutIsAFailureResult(t *testing.T) {
	client := newFakeClient()
	client.applyRes["web-01"] = salt.CommandResult{Error: salt.ErrNoResponse.Error()}
	o := NewOrchestrator(client, &fakeUsage{}, nil, nil)

	summary, err := o.Run(context.Background(), testCredential(), []string{"web-01"}, VPNSetupPlan(), nil)
	require.NoError(t, err)

	res := summary.Results["web-01"]
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, 1, client.countOp("web-01", "delete"))
}

func TestRunPanicConvertedToFailure(t *testing.T) {
	client := newFakeClient()
	client.applyPanic = true
	usage := &fakeUsage{}
	o := NewOrchestrator(client, usage, nil, nil)

	summary, err := o.Run(context.Background(), testCredential(), []string{"web-01"}, VPNSetupPlan(), nil)
	require.NoError(t, err)

	res := summary.Results["web-01"]
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "apply blew up")

	// Cleanup still ran exactly once on the panic path.
	assert.Equal(t, 1, client.countOp("web-01", "delete"))
	assert.Equal(t, 0, usage.count)
}

func TestRunPartialSuccessAggregation(t *testing.T) {
	client := newFakeClient()
	client.refreshErr["db-02"] = errors.New("no ack")
	usage := &fakeUsage{}
	o := NewOrchestrator(client, usage, nil, nil)

	targets := []string{"web-01", "db-02", "cache-03"}
	summary, err := o.Run(context.Background(), testCredential(), targets, VPNSetupPlan(), nil)
	require.NoError(t, err)

	assert.True(t, summary.Results["web-01"].Success)
	assert.False(t, summary.Results["db-02"].Success)
	assert.True(t, summary.Results["cache-03"].Success)

	assert.ElementsMatch(t, []string{"web-01", "cache-03"}, summary.Succeeded())
	assert.ElementsMatch(t, []string{"db-02"}, summary.Failed())

	// Once per run, not once per successful target.
	assert.Equal(t, 1, usage.count)
}

func TestRunNoSuccessSkipsUsage(t *testing.T) {
	client := newFakeClient()
	client.writeErr["web-01"] = errors.New("disk full")
	usage := &fakeUsage{}
	o := NewOrchestrator(client, usage, nil, nil)

	summary, err := o.Run(context.Background(), testCredential(), []string{"web-01"}, VPNSetupPlan(), nil)
	require.NoError(t, err)

	assert.False(t, summary.AnySuccess())
	assert.Equal(t, 0, usage.count)
}

func TestRunDisabledCredential(t *testing.T) {
	client := newFakeClient()
	o := NewOrchestrator(client, &fakeUsage{}, nil, nil)

	cred := testCredential()
	cred.Enabled = false

	_, err := o.Run(context.Background(), cred, []string{"web-01"}, VPNSetupPlan(), nil)
	assert.ErrorIs(t, err, credentials.ErrDisabled)
	assert.Empty(t, client.calls)
}

func TestRunNoTargets(t *testing.T) {
	o := NewOrchestrator(newFakeClient(), &fakeUsage{}, nil, nil)

	_, err := o.Run(context.Background(), testCredential(), nil, VPNSetupPlan(), nil)
	assert.Error(t, err)
}

func TestRunIdempotentWrite(t *testing.T) {
	client := newFakeClient()
	client.deleteErr["web-01"] = errors.New("keep the doc around") // keep doc to observe overwrite
	o := NewOrchestrator(client, &fakeUsage{}, nil, nil)

	cred := testCredential()
	_, err := o.Run(context.Background(), cred, []string{"web-01"}, VPNSetupPlan(), nil)
	require.NoError(t, err)

	cred.Secret = "nb_rotated_key"
	_, err = o.Run(context.Background(), cred, []string{"web-01"}, VPNSetupPlan(), nil)
	require.NoError(t, err)

	// One logical document, holding the latest data.
	require.Len(t, client.docs, 1)
	assert.Equal(t, "nb_rotated_key", client.docs["web-01/vpn_setup"]["setup_key"])
}

func TestRunCleanupFailureIsRecordedNotEscalated(t *testing.T) {
	client := newFakeClient()
	client.deleteErr["web-01"] = errors.New("file locked")
	o := NewOrchestrator(client, &fakeUsage{}, nil, nil)

	summary, err := o.Run(context.Background(), testCredential(), []string{"web-01"}, VPNSetupPlan(), nil)
	require.NoError(t, err)

	res := summary.Results["web-01"]
	assert.True(t, res.Success, "cleanup failure must not fail the deployment")
	assert.False(t, res.CleanupOK)
}

func TestRunSecretNeverInApplyArguments(t *testing.T) {
	client := newFakeClient()
	o := NewOrchestrator(client, &fakeUsage{}, nil, nil)

	cred := testCredential()
	_, err := o.Run(context.Background(), cred, []string{"web-01"}, VPNSetupPlan(), nil)
	require.NoError(t, err)

	for _, c := range client.calls {
		if c.Op != "apply" {
			continue
		}
		serialized, err := json.Marshal(c)
		require.NoError(t, err)
		assert.NotContains(t, string(serialized), cred.Secret)
	}
}

func TestRunSideEffects(t *testing.T) {
	client := newFakeClient()
	client.refreshErr["db-02"] = errors.New("no ack")
	registrar := &fakeRegistrar{err: errors.New("inventory down")}
	notifier := &fakeNotifier{err: errors.New("gotify down")}
	o := NewOrchestrator(client, &fakeUsage{}, registrar, notifier)

	summary, err := o.Run(context.Background(), testCredential(), []string{"web-01", "db-02"}, VPNSetupPlan(), nil)
	require.NoError(t, err)

	// Only succeeded targets are registered; collaborator errors are swallowed.
	assert.ElementsMatch(t, []string{"web-01"}, registrar.targets)
	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "1 of 2 targets")
	assert.True(t, summary.Results["web-01"].Success)
}

func TestRunCanceledContextStopsNewTargets(t *testing.T) {
	client := newFakeClient()
	o := NewOrchestrator(client, &fakeUsage{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := o.Run(ctx, testCredential(), []string{"web-01", "db-02"}, VPNSetupPlan(), nil)
	require.NoError(t, err)

	for _, target := range []string{"web-01", "db-02"} {
		res := summary.Results[target]
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "canceled")
	}
	assert.Empty(t, client.calls)
}

func TestRunVMCommandPlanDocument(t *testing.T) {
	client := newFakeClient()
	client.deleteErr["hv-01"] = errors.New("keep the doc around")
	o := NewOrchestrator(client, &fakeUsage{}, nil, nil)

	cred := testCredential()
	cred.EndpointURL = "https://pve.example.com:8006"
	cred.Secret = "pve-api-token"

	params := map[string]string{
		"username": "root@pam",
		"command":  "start",
		"node":     "pve1",
		"vmid":     "104",
		"vm_type":  "qemu",
	}
	_, err := o.Run(context.Background(), cred, []string{"hv-01"}, VMCommandPlan(), params)
	require.NoError(t, err)

	doc := client.docs["hv-01/vm_command"]
	require.NotNil(t, doc)
	assert.Equal(t, "https://pve.example.com:8006", doc["api_url"])
	assert.Equal(t, "pve-api-token", doc["token"])
	assert.Equal(t, "start", doc["command"])
	assert.Equal(t, "104", doc["vmid"])
}

func TestRunConcurrentSameTargetSerializes(t *testing.T) {
	client := newFakeClient()
	o := NewOrchestrator(client, &fakeUsage{}, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = o.Run(context.Background(), testCredential(), []string{"web-01"}, VPNSetupPlan(), nil)
		}()
	}
	wg.Wait()

	// Serialized attempts never interleave: every write is followed by its
	// own refresh, apply and delete before the next write starts.
	ops := client.opsFor("web-01")
	require.Len(t, ops, 8*4)
	for i := 0; i < len(ops); i += 4 {
		assert.Equal(t, []string{"write", "refresh", "apply", "delete"}, ops[i:i+4],
			fmt.Sprintf("attempt %d interleaved", i/4))
	}
}

func TestPlanFor(t *testing.T) {
	plan, ok := PlanFor("vpn_setup")
	require.True(t, ok)
	assert.Equal(t, "netbird", plan.Routine)
	assert.Equal(t, 300*time.Second, plan.Timeout)

	plan, ok = PlanFor("vm_command")
	require.True(t, ok)
	assert.Equal(t, "proxmox", plan.Routine)

	_, ok = PlanFor("unknown")
	assert.False(t, ok)
}
