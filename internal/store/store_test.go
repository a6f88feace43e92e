package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"loom/internal/engine"
	"loom/internal/phase"
	"loom/internal/pipeline"
	"loom/internal/store"
	"loom/internal/testsupport"
)

func TestCreateAndLoadRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	created := testsupport.NewPipeline(t, st, "proj-1")

	loaded, warnings, err := st.Load(ctx, "proj-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("fresh pipeline produced warnings: %v", warnings)
	}
	if loaded.ProjectID != created.ProjectID || loaded.Version != created.Version {
		t.Fatalf("loaded %s@%d, created %s@%d", loaded.ProjectID, loaded.Version, created.ProjectID, created.Version)
	}
	if loaded.CurrentPhase != phase.Brainstorm {
		t.Fatalf("current phase %s", loaded.CurrentPhase)
	}
	if len(loaded.Phases) != phase.Count {
		t.Fatalf("expected %d phases, got %d", phase.Count, len(loaded.Phases))
	}
}

func TestLoadMissingPipeline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	_, _, err := st.Load(context.Background(), "no-such-project")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSavePersistsTransition(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	state := testsupport.NewPipeline(t, st, "proj-1")

	next, audit, err := engine.Transition(state, pipeline.Event{
		Type:        pipeline.EventAdvance,
		Phase:       phase.Brainstorm,
		BaseVersion: state.Version,
		Outputs:     []string{phase.ArtifactSpec},
	}, time.Now())
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := st.Save(ctx, next, state.Version, audit); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, _, err := st.Load(ctx, "proj-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Version != 2 {
		t.Fatalf("version %d after save", loaded.Version)
	}
	rec := loaded.Record(phase.Brainstorm)
	if rec.Status != pipeline.StatusCompleted {
		t.Fatalf("brainstorm status %s", rec.Status)
	}
	if rec.OutputVersion(phase.ArtifactSpec) != 1 {
		t.Fatalf("spec.md logical version %d", rec.OutputVersion(phase.ArtifactSpec))
	}
	if rec.CompletedAt == nil {
		t.Fatal("completion timestamp lost in round trip")
	}

	events, err := st.History(ctx, "proj-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	if events[0].Type != pipeline.EventAdvance || events[0].Phase != phase.Brainstorm {
		t.Fatalf("unexpected event %+v", events[0])
	}
}

func TestSaveRejectsStaleBase(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	state := testsupport.NewPipeline(t, st, "proj-1")

	// Two writers race from the same loaded version. The first wins.
	first, auditA, err := engine.Transition(state, pipeline.Event{
		Type:        pipeline.EventAdvance,
		Phase:       phase.Brainstorm,
		BaseVersion: state.Version,
		Outputs:     []string{phase.ArtifactSpec},
	}, time.Now())
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := st.Save(ctx, first, state.Version, auditA); err != nil {
		t.Fatalf("first save: %v", err)
	}

	second := state.Clone()
	second.Version = state.Version + 1
	if err := st.Save(ctx, second, state.Version); !errors.Is(err, store.ErrStaleWrite) {
		t.Fatalf("expected ErrStaleWrite, got %v", err)
	}

	// The losing write must not have touched the record.
	loaded, _, err := st.Load(ctx, "proj-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Record(phase.Brainstorm).Status != pipeline.StatusCompleted {
		t.Fatal("stale write clobbered the winning state")
	}
}

func TestSaveMissingPipeline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ghost := pipeline.NewState("ghost", time.Now())
	if err := st.Save(context.Background(), ghost, 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResetPreservesHistory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	state := testsupport.NewPipeline(t, st, "proj-1")
	next, audit, err := engine.Transition(state, pipeline.Event{
		Type:        pipeline.EventAdvance,
		Phase:       phase.Brainstorm,
		BaseVersion: state.Version,
		Outputs:     []string{phase.ArtifactSpec},
	}, time.Now())
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := st.Save(ctx, next, state.Version, audit); err != nil {
		t.Fatalf("Save: %v", err)
	}

	fresh := pipeline.NewState("proj-2", time.Now())
	if err := st.Reset(ctx, "proj-1", fresh); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	// The fresh pipeline is active and pristine.
	active, err := st.ActiveProject(ctx)
	if err != nil {
		t.Fatalf("ActiveProject: %v", err)
	}
	if active != "proj-2" {
		t.Fatalf("active project %s", active)
	}
	loaded, _, err := st.Load(ctx, "proj-2")
	if err != nil {
		t.Fatalf("Load fresh: %v", err)
	}
	if loaded.Version != 1 || loaded.CurrentPhase != phase.Brainstorm {
		t.Fatalf("fresh pipeline %d/%s", loaded.Version, loaded.CurrentPhase)
	}

	// The retired pipeline and its audit trail survive.
	retired, _, err := st.Load(ctx, "proj-1")
	if err != nil {
		t.Fatalf("Load retired: %v", err)
	}
	if retired.Record(phase.Brainstorm).Status != pipeline.StatusCompleted {
		t.Fatal("retired pipeline lost its progress record")
	}
	events, err := st.History(ctx, "proj-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("retired history lost, got %d events", len(events))
	}
}

func TestResetUnknownProject(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	fresh := pipeline.NewState("proj-2", time.Now())
	if err := st.Reset(context.Background(), "no-such", fresh); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestActiveProjectWhenEmpty(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	if _, err := st.ActiveProject(context.Background()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestList(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewPipeline(t, st, "proj-1")
	fresh := pipeline.NewState("proj-2", time.Now())
	if err := st.Reset(ctx, "proj-1", fresh); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	summaries, err := st.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 pipelines, got %d", len(summaries))
	}
	activeCount := 0
	for _, summary := range summaries {
		if summary.Active {
			activeCount++
			if summary.ProjectID != "proj-2" {
				t.Fatalf("active pipeline %s", summary.ProjectID)
			}
		}
	}
	if activeCount != 1 {
		t.Fatalf("expected exactly one active pipeline, got %d", activeCount)
	}
}

func TestCheckHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	testsupport.NewPipeline(t, st, "proj-1")

	health, err := st.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.IntegrityCheck {
		t.Fatal("integrity check failed on a fresh database")
	}
	if health.Pipelines != 1 {
		t.Fatalf("pipeline count %d", health.Pipelines)
	}
}
