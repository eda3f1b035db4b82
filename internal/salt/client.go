// Package salt implements an HTTP client for a Salt API control plane. It
// covers the four operations the deployment workflow needs: writing a
// transient pillar document on the master, refreshing a minion's pillar,
// applying a state routine, and deleting the transient document again. A
// listing call supports the orphan sweep.
package salt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultApplyTimeout accommodates package download, install and agent
	// bring-up for credential-bearing routines.
	DefaultApplyTimeout = 300 * time.Second

	defaultPillarRoot = "/srv/pillar/transient"
)

var (
	ErrAuthFailed    = errors.New("salt api authentication failed")
	ErrNoResponse    = errors.New("no response from target")
	ErrInvalidName   = errors.New("target and scope must match [A-Za-z0-9._-]+")
	ErrRefreshFailed = errors.New("target did not acknowledge pillar refresh")
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

type Config struct {
	URL        string `mapstructure:"url"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	EAuth      string `mapstructure:"eauth"`
	PillarRoot string `mapstructure:"pillar_root"`
}

// CommandResult is the outcome of a routine applied on a target. A timeout or
// an unreachable target is reported here as Success=false, never as an error
// value escaping the call.
type CommandResult struct {
	Success bool
	Output  string
	Error   string
}

// ScopedDoc identifies one transient pillar document on the master.
type ScopedDoc struct {
	Target  string
	Scope   string
	Path    string
	ModTime time.Time
}

type Client struct {
	cfg        Config
	httpClient *http.Client

	mu    sync.Mutex
	token string
}

func NewClient(cfg Config) *Client {
	if cfg.EAuth == "" {
		cfg.EAuth = "pam"
	}
	if cfg.PillarRoot == "" {
		cfg.PillarRoot = defaultPillarRoot
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			// Individual calls carry their own deadline via context; this is
			// a hard upper bound against a wedged master.
			Timeout: DefaultApplyTimeout + 30*time.Second,
		},
	}
}

// WriteScopedDoc renders the document as YAML and writes it on the master at
// a path derived from (target, scope). Writing twice overwrites.
func (c *Client) WriteScopedDoc(ctx context.Context, target, scope string, doc map[string]string) error {
	docPath, err := c.scopedPath(target, scope)
	if err != nil {
		return err
	}

	content, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("render pillar document: %w", err)
	}

	_, err = c.run(ctx, lowstate{
		"client": "runner",
		"fun":    "salt.cmd",
		"kwarg": map[string]any{
			"fun":  "file.write",
			"path": docPath,
			"args": []string{string(content)},
		},
	})
	if err != nil {
		return fmt.Errorf("write pillar document: %w", err)
	}

	slog.Debug("Pillar document written", "target", target, "scope", scope)
	return nil
}

// RefreshPillar instructs the target to re-fetch its pillar data. The apply
// step must not run unless this succeeds.
func (c *Client) RefreshPillar(ctx context.Context, target string) error {
	if !nameRe.MatchString(target) {
		return ErrInvalidName
	}

	ret, err := c.run(ctx, lowstate{
		"client":  "local",
		"tgt":     target,
		"fun":     "saltutil.refresh_pillar",
		"timeout": 30,
	})
	if err != nil {
		return fmt.Errorf("refresh pillar: %w", err)
	}

	var acked bool
	raw, ok := ret[target]
	if ok {
		_ = json.Unmarshal(raw, &acked)
	}
	if !acked {
		return fmt.Errorf("%w: %s", ErrRefreshFailed, target)
	}
	return nil
}

// ApplyRoutine runs a named state routine on the target. The routine reads
// its secret inputs from the refreshed pillar; no secret material travels in
// this call.
func (c *Client) ApplyRoutine(ctx context.Context, target, routine string, timeout time.Duration) CommandResult {
	if !nameRe.MatchString(target) {
		return CommandResult{Error: ErrInvalidName.Error()}
	}
	if timeout <= 0 {
		timeout = DefaultApplyTimeout
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout+10*time.Second)
	defer cancel()

	ret, err := c.run(callCtx, lowstate{
		"client":  "local",
		"tgt":     target,
		"fun":     "state.apply",
		"arg":     []string{routine},
		"timeout": int(timeout.Seconds()),
	})
	if err != nil {
		return CommandResult{Error: err.Error()}
	}

	raw, ok := ret[target]
	if !ok {
		return CommandResult{Error: ErrNoResponse.Error()}
	}
	return parseStateReturn(raw)
}

// DeleteScopedDoc removes the transient document from the master.
func (c *Client) DeleteScopedDoc(ctx context.Context, target, scope string) error {
	docPath, err := c.scopedPath(target, scope)
	if err != nil {
		return err
	}

	_, err = c.run(ctx, lowstate{
		"client": "runner",
		"fun":    "salt.cmd",
		"kwarg": map[string]any{
			"fun":  "file.remove",
			"path": docPath,
		},
	})
	if err != nil {
		return fmt.Errorf("delete pillar document: %w", err)
	}

	slog.Debug("Pillar document deleted", "target", target, "scope", scope)
	return nil
}

// ListScopedDocs enumerates all transient pillar documents under the pillar
// root together with their modification times.
func (c *Client) ListScopedDocs(ctx context.Context) ([]ScopedDoc, error) {
	body, err := c.runRaw(ctx, lowstate{
		"client": "runner",
		"fun":    "salt.cmd",
		"kwarg": map[string]any{
			"fun":   "file.find",
			"path":  c.cfg.PillarRoot,
			"name":  "*.sls",
			"print": "path,mtime",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("list pillar documents: %w", err)
	}

	var resp struct {
		Return [][][]any `json:"return"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse find response: %w", err)
	}
	if len(resp.Return) == 0 {
		return nil, nil
	}

	var docs []ScopedDoc
	for _, entry := range resp.Return[0] {
		if len(entry) < 2 {
			continue
		}
		docPath, ok := entry[0].(string)
		if !ok {
			continue
		}
		mtime, ok := entry[1].(float64)
		if !ok {
			continue
		}

		rel := strings.TrimPrefix(docPath, c.cfg.PillarRoot+"/")
		parts := strings.SplitN(rel, "/", 2)
		if len(parts) != 2 {
			continue
		}
		docs = append(docs, ScopedDoc{
			Target:  parts[0],
			Scope:   strings.TrimSuffix(parts[1], ".sls"),
			Path:    docPath,
			ModTime: time.Unix(int64(mtime), 0),
		})
	}
	return docs, nil
}

func (c *Client) scopedPath(target, scope string) (string, error) {
	if !nameRe.MatchString(target) || !nameRe.MatchString(scope) {
		return "", ErrInvalidName
	}
	return path.Join(c.cfg.PillarRoot, target, scope+".sls"), nil
}

type lowstate map[string]any

// run posts a single lowstate to the API and returns the first return
// element as a map keyed by minion ID (local client) or function result
// (runner client under the empty key).
func (c *Client) run(ctx context.Context, ls lowstate) (map[string]json.RawMessage, error) {
	body, err := c.runRaw(ctx, ls)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Return []map[string]json.RawMessage `json:"return"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		// Runner returns are not always keyed maps; tolerate them.
		return nil, nil
	}
	if len(resp.Return) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	return resp.Return[0], nil
}

func (c *Client) runRaw(ctx context.Context, ls lowstate) ([]byte, error) {
	body, status, err := c.post(ctx, ls)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		// Token expired; log in once more and retry.
		if err := c.login(ctx); err != nil {
			return nil, err
		}
		body, status, err = c.post(ctx, ls)
		if err != nil {
			return nil, err
		}
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("salt api returned status %d: %s", status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func (c *Client) post(ctx context.Context, ls lowstate) ([]byte, int, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, 0, err
	}

	payload, err := json.Marshal([]lowstate{ls})
	if err != nil {
		return nil, 0, fmt.Errorf("marshal lowstate: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Auth-Token", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("salt api request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read salt api response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}
	if err := c.login(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, nil
}

func (c *Client) login(ctx context.Context) error {
	payload, _ := json.Marshal(map[string]string{
		"username": c.cfg.Username,
		"password": c.cfg.Password,
		"eauth":    c.cfg.EAuth,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/login", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("salt api login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrAuthFailed, resp.StatusCode)
	}

	var loginResp struct {
		Return []struct {
			Token string `json:"token"`
		} `json:"return"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return fmt.Errorf("parse login response: %w", err)
	}
	if len(loginResp.Return) == 0 || loginResp.Return[0].Token == "" {
		return ErrAuthFailed
	}

	c.mu.Lock()
	c.token = loginResp.Return[0].Token
	c.mu.Unlock()

	slog.Debug("Salt API login succeeded", "url", c.cfg.URL)
	return nil
}

// parseStateReturn interprets a state.apply return for one minion. A map of
// state results with every "result" true is success; a list of strings is the
// master reporting an error (bad routine name, render failure); anything else
// is surfaced verbatim as a failure.
func parseStateReturn(raw json.RawMessage) CommandResult {
	var states map[string]struct {
		Result  *bool  `json:"result"`
		Comment string `json:"comment"`
	}
	if err := json.Unmarshal(raw, &states); err == nil {
		var failures []string
		for name, st := range states {
			if st.Result == nil || !*st.Result {
				failures = append(failures, fmt.Sprintf("%s: %s", name, st.Comment))
			}
		}
		if len(failures) > 0 {
			return CommandResult{Output: string(raw), Error: strings.Join(failures, "; ")}
		}
		return CommandResult{Success: true, Output: string(raw)}
	}

	var errs []string
	if err := json.Unmarshal(raw, &errs); err == nil {
		return CommandResult{Error: strings.Join(errs, "; ")}
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil && !b {
		return CommandResult{Error: ErrNoResponse.Error()}
	}

	return CommandResult{Output: string(raw), Error: "unrecognized state return"}
}
