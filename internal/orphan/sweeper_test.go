package orphan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veracity-ops/veracity/internal/salt"
)

type fakeStore struct {
	docs      []salt.ScopedDoc
	deleted   []string
	listErr   error
	deleteErr map[string]error
}

func (f *fakeStore) ListScopedDocs(context.Context) ([]salt.ScopedDoc, error) {
	return f.docs, f.listErr
}

func (f *fakeStore) DeleteScopedDoc(_ context.Context, target, scope string) error {
	key := target + "/" + scope
	if err := f.deleteErr[key]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, key)
	return nil
}

func TestSweepRemovesOnlyExpiredDocs(t *testing.T) {
	store := &fakeStore{
		docs: []salt.ScopedDoc{
			{Target: "web-01", Scope: "vpn_setup", ModTime: time.Now().Add(-2 * time.Hour)},
			{Target: "db-02", Scope: "vpn_setup", ModTime: time.Now().Add(-1 * time.Minute)},
		},
	}
	s := NewSweeper(store, time.Hour, 30*time.Minute)

	removed, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{"web-01/vpn_setup"}, store.deleted)
}

func TestSweepEmptyStore(t *testing.T) {
	s := NewSweeper(&fakeStore{}, time.Hour, 30*time.Minute)

	removed, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestSweepListError(t *testing.T) {
	store := &fakeStore{listErr: errors.New("master unreachable")}
	s := NewSweeper(store, time.Hour, 30*time.Minute)

	_, err := s.Sweep(context.Background())
	assert.Error(t, err)
}

func TestSweepContinuesPastDeleteFailures(t *testing.T) {
	old := time.Now().Add(-2 * time.Hour)
	store := &fakeStore{
		docs: []salt.ScopedDoc{
			{Target: "web-01", Scope: "vpn_setup", ModTime: old},
			{Target: "db-02", Scope: "vm_command", ModTime: old},
		},
		deleteErr: map[string]error{"web-01/vpn_setup": errors.New("locked")},
	}
	s := NewSweeper(store, time.Hour, 30*time.Minute)

	removed, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{"db-02/vm_command"}, store.deleted)
}

func TestStartStopsOnContextCancel(t *testing.T) {
	store := &fakeStore{}
	s := NewSweeper(store, 10*time.Millisecond, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after context cancellation")
	}
}
