package adapter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/stridelab/traincore/api"
)

type FileStoreTestSuite struct {
	suite.Suite
	store *FileStore
}

func (s *FileStoreTestSuite) SetupTest() {
	store, err := NewFileStore(filepath.Join(s.T().TempDir(), "session", "snapshot.json"))
	s.Require().Nil(err)
	s.store = store
}

func (s *FileStoreTestSuite) TestRoundTrip() {
	bg := time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC)
	in := &api.Snapshot{
		ProgramID:        "p1",
		CurrentStepIndex: 1,
		RemainingMs:      42_500,
		TotalElapsedMs:   90_000,
		StepStartTime:    bg.Add(-30 * time.Second),
		PausedDurationMs: 5_000,
		StepResults: []api.StepResult{
			{
				StepID:      "warmup",
				CompletedAt: bg.Add(-time.Minute),
				Metrics:     map[string]float64{"duration_ms": 60_000},
			},
		},
		BackgroundedAt: &bg,
	}
	s.Require().Nil(s.store.Save(context.Background(), in))

	out, err := s.store.Load(context.Background())
	s.Require().Nil(err)
	s.Require().NotNil(out)
	s.Require().Equal(in.ProgramID, out.ProgramID)
	s.Require().Equal(in.CurrentStepIndex, out.CurrentStepIndex)
	s.Require().Equal(in.RemainingMs, out.RemainingMs)
	s.Require().Equal(in.TotalElapsedMs, out.TotalElapsedMs)
	s.Require().True(out.StepStartTime.Equal(in.StepStartTime))
	s.Require().Equal(in.PausedDurationMs, out.PausedDurationMs)
	s.Require().Len(out.StepResults, 1)
	s.Require().Equal("warmup", out.StepResults[0].StepID)
	s.Require().True(out.StepResults[0].CompletedAt.Equal(in.StepResults[0].CompletedAt))
	s.Require().Equal(in.StepResults[0].Metrics, out.StepResults[0].Metrics)
	s.Require().NotNil(out.BackgroundedAt)
	s.Require().True(out.BackgroundedAt.Equal(bg))
}

func (s *FileStoreTestSuite) TestBackgroundedAtOmittedWhenUnset() {
	in := &api.Snapshot{
		ProgramID:     "p1",
		RemainingMs:   1_000,
		StepStartTime: time.Now().UTC(),
		StepResults:   []api.StepResult{},
	}
	s.Require().Nil(s.store.Save(context.Background(), in))

	raw, err := os.ReadFile(s.store.Path())
	s.Require().Nil(err)
	s.Require().NotContains(string(raw), "backgrounded_at")

	out, err := s.store.Load(context.Background())
	s.Require().Nil(err)
	s.Require().Nil(out.BackgroundedAt)
}

func (s *FileStoreTestSuite) TestLoadAbsentReturnsNil() {
	out, err := s.store.Load(context.Background())
	s.Require().Nil(err)
	s.Require().Nil(out)
}

func (s *FileStoreTestSuite) TestSaveOverwritesPriorSnapshot() {
	ctx := context.Background()
	s.Require().Nil(s.store.Save(ctx, &api.Snapshot{
		ProgramID:     "old",
		StepStartTime: time.Now(),
		StepResults:   []api.StepResult{},
	}))
	s.Require().Nil(s.store.Save(ctx, &api.Snapshot{
		ProgramID:     "new",
		StepStartTime: time.Now(),
		StepResults:   []api.StepResult{},
	}))

	out, err := s.store.Load(ctx)
	s.Require().Nil(err)
	s.Require().Equal("new", out.ProgramID)
}

func (s *FileStoreTestSuite) TestClearIdempotent() {
	ctx := context.Background()
	s.Require().Nil(s.store.Clear(ctx))
	s.Require().Nil(s.store.Save(ctx, &api.Snapshot{
		ProgramID:     "p1",
		StepStartTime: time.Now(),
		StepResults:   []api.StepResult{},
	}))
	s.Require().Nil(s.store.Clear(ctx))
	s.Require().Nil(s.store.Clear(ctx))

	out, err := s.store.Load(ctx)
	s.Require().Nil(err)
	s.Require().Nil(out)
}

func (s *FileStoreTestSuite) TestCorruptedFileSurfacesError() {
	s.Require().Nil(os.WriteFile(s.store.Path(), []byte("{not json"), 0o644))
	out, err := s.store.Load(context.Background())
	s.Require().NotNil(err)
	s.Require().Nil(out)
}

func (s *FileStoreTestSuite) TestNilSnapshotRejected() {
	s.Require().NotNil(s.store.Save(context.Background(), nil))
}

func (s *FileStoreTestSuite) TestEmptyPathRejected() {
	store, err := NewFileStore("")
	s.Require().NotNil(err)
	s.Require().Nil(store)
}

func TestFileStoreTestSuite(t *testing.T) {
	suite.Run(t, new(FileStoreTestSuite))
}

func TestMemoryStoreIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	out, err := store.Load(ctx)
	if err != nil || out != nil {
		t.Fatalf("empty store: got (%v, %v)", out, err)
	}

	in := &api.Snapshot{
		ProgramID:     "p1",
		RemainingMs:   10_000,
		StepStartTime: time.Now(),
		StepResults:   []api.StepResult{{StepID: "warmup"}},
	}
	if err := store.Save(ctx, in); err != nil {
		t.Fatal(err)
	}
	// mutations after Save must not leak into the stored copy
	in.ProgramID = "mutated"
	in.StepResults[0].StepID = "mutated"

	out, err = store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if out.ProgramID != "p1" || out.StepResults[0].StepID != "warmup" {
		t.Fatalf("stored snapshot aliased caller memory: %+v", out)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	out, _ = store.Load(ctx)
	if out != nil {
		t.Fatalf("expected nil after clear, got %+v", out)
	}
}
