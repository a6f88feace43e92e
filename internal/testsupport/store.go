package testsupport

import (
	"context"
	"testing"
	"time"

	"loom/internal/config"
	"loom/internal/pipeline"
	"loom/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewPipeline creates and persists a fresh pipeline state for tests.
func NewPipeline(t testing.TB, st *store.Store, projectID string) *pipeline.State {
	t.Helper()

	state := pipeline.NewState(projectID, time.Now())
	if err := st.Create(context.Background(), state); err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return state
}
