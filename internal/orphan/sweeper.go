// Package orphan periodically reconciles the transient pillar store. A
// deployment attempt deletes its own document, but a swallowed cleanup
// failure or a crashed process can leave a secret behind on the master; the
// sweeper finds documents older than a TTL and removes them.
package orphan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/veracity-ops/veracity/internal/salt"
)

const (
	DefaultScanInterval = 1 * time.Hour
	DefaultTTL          = 30 * time.Minute
)

// DocStore is the subset of the configuration-management client the sweeper
// needs. *salt.Client satisfies it.
type DocStore interface {
	ListScopedDocs(ctx context.Context) ([]salt.ScopedDoc, error)
	DeleteScopedDoc(ctx context.Context, target, scope string) error
}

type Sweeper struct {
	store    DocStore
	interval time.Duration
	ttl      time.Duration
}

func NewSweeper(store DocStore, interval, ttl time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Sweeper{store: store, interval: interval, ttl: ttl}
}

// Start runs the sweep loop until the context is cancelled. An initial sweep
// runs immediately so a restart picks up documents orphaned by a crash.
func (s *Sweeper) Start(ctx context.Context) {
	slog.Info("Starting orphan sweeper", "interval", s.interval, "ttl", s.ttl)

	if _, err := s.Sweep(ctx); err != nil {
		slog.Warn("Orphan sweep failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Orphan sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				slog.Warn("Orphan sweep failed", "error", err)
			}
		}
	}
}

// Sweep deletes every transient document older than the TTL and returns how
// many were removed. Individual delete failures are logged and skipped; the
// next sweep retries them.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	docs, err := s.store.ListScopedDocs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list transient documents: %w", err)
	}

	cutoff := time.Now().Add(-s.ttl)
	removed := 0
	for _, doc := range docs {
		if doc.ModTime.After(cutoff) {
			continue
		}
		if err := s.store.DeleteScopedDoc(ctx, doc.Target, doc.Scope); err != nil {
			slog.Warn("Failed to remove orphaned pillar document",
				"target", doc.Target, "scope", doc.Scope, "error", err)
			continue
		}
		slog.Warn("Removed orphaned pillar document",
			"target", doc.Target, "scope", doc.Scope, "age", time.Since(doc.ModTime).Round(time.Second))
		removed++
	}
	return removed, nil
}
