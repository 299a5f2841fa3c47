package models

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reel.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	s := NewStore(db)
	require.NoError(t, s.AutoMigrate())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleProject() *Project {
	return &Project{
		ID:          "p1",
		UserID:      "u1",
		Title:       "Beach day",
		StyleID:     "pixar",
		AspectRatio: "9:16",
		Characters: []Character{
			{ID: "c2", Position: 1, Name: "Rex", SourceImageRef: "https://img/rex.png"},
			{ID: "c1", Position: 0, Name: "Ana", SourceImageRef: "https://img/ana.png"},
		},
		Scenes: []Scene{
			{ID: "s2", Position: 1, Prompt: "swim", DurationSeconds: 5},
			{ID: "s1", Position: 0, Prompt: "run", DurationSeconds: 5, ReferencedCharacterIDs: StringList{"c1", "c2"}},
		},
	}
}

func TestCreateAndGetProjectOrdersChildren(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateProject(ctx, sampleProject()))

	p, err := s.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, ProjectStatusCreated, p.Status)
	require.Len(t, p.Characters, 2)
	assert.Equal(t, "Ana", p.Characters[0].Name)
	assert.Equal(t, StyleStatusIdle, p.Characters[0].StyleStatus)
	require.Len(t, p.Scenes, 2)
	assert.Equal(t, "s1", p.Scenes[0].ID)
	assert.Equal(t, StringList{"c1", "c2"}, p.Scenes[0].ReferencedCharacterIDs)
	assert.Equal(t, SceneStatusPending, p.Scenes[1].Status)
}

func TestGetProjectNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetProject(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveCharacterRejectsStyledWithoutUpload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateProject(ctx, sampleProject()))

	c := &Character{ID: "c1", ProjectID: "p1", StyledURL: "https://styled"}
	assert.Error(t, s.SaveCharacter(ctx, c))
}

func TestSaveSceneRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateProject(ctx, sampleProject()))

	p, err := s.GetProject(ctx, "p1")
	require.NoError(t, err)
	sc := &p.Scenes[0]
	sc.SetImage("https://store/s1.png")
	require.NoError(t, sc.SetVideo("https://store/s1.mp4"))
	require.NoError(t, s.SaveScene(ctx, sc))

	p, err = s.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "https://store/s1.mp4", p.Scenes[0].VideoURL)
	assert.Equal(t, SceneStatusVideoReady, p.Scenes[0].Status)
}

func TestDebitIsAtomicAndRecordsEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bal, err := s.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal)

	bal, err = s.Credit(ctx, "u1", 100, "top-up")
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal)

	bal, ok, err := s.Debit(ctx, "u1", "r1", 30, "image-generation")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(70), bal)

	bal, ok, err = s.Debit(ctx, "u1", "r1", 75, "video-generation")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(70), bal)

	entries, err := s.ListLedgerEntries(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(-30), entries[1].Amount)
	assert.Equal(t, "r1", entries[1].RunID)
	assert.Equal(t, int64(70), entries[1].BalanceAfter)
}

func TestDebitUnknownUserIsInsufficient(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Debit(context.Background(), "nobody", "r1", 10, "image-generation")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDebitZeroSucceedsWithoutAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	bal, ok, err := s.Debit(ctx, "nobody", "r1", 0, "image-generation")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(0), bal)

	entries, err := s.ListLedgerEntries(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRun(ctx, &Run{ID: "r1", ProjectID: "p1", UserID: "u1", Mode: RunModeFull}))

	started, err := s.MarkRunStarted(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, started)
	started, err = s.MarkRunStarted(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, started, "a processing run is not started twice")
	require.NoError(t, s.UpdateRunProgress(ctx, "r1", "ComposingSceneImages", 1, 2, 40))

	r, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusProcessing, r.Status)
	assert.Equal(t, 40.0, r.Percentage)
	assert.NotNil(t, r.StartedAt)

	result := RunResult{VideoURLs: []string{"a.mp4"}, PlaylistURL: "pl.json"}
	require.NoError(t, s.FinishRun(ctx, "r1", RunStatusFinished, "Complete", "", result))

	// progress after a terminal status is ignored
	require.NoError(t, s.UpdateRunProgress(ctx, "r1", "AnimatingScenes", 1, 2, 50))

	r, err = s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, r.Terminal())
	assert.Equal(t, "Complete", r.Stage)
	assert.Equal(t, result.VideoURLs, r.Result.VideoURLs)
	assert.Equal(t, "pl.json", r.Result.PlaylistURL)
}

func TestMarkRunStartedKeepsCancelledRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRun(ctx, &Run{ID: "r1", ProjectID: "p1", UserID: "u1", Mode: RunModeFull}))
	require.NoError(t, s.FinishRun(ctx, "r1", RunStatusCancelled, "", "cancelled before start", RunResult{}))

	started, err := s.MarkRunStarted(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, started)

	r, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusCancelled, r.Status)
	assert.Nil(t, r.StartedAt)
}

func TestGenerationRecordRename(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := &GenerationRecord{
		ID:         "g1",
		UserID:     "u1",
		Style:      "pixar",
		Name:       "Pixar - 15/10/2026",
		Scenes:     SceneSummaries{{Prompt: "run", Duration: 5, ImageURL: "i.png"}},
		Characters: CharacterSummaries{{Name: "Ana"}},
		VideoURLs:  StringList{"v.mp4"},
	}
	id, err := s.SaveGenerationRecord(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, "g1", id)

	require.NoError(t, s.RenameGenerationRecord(ctx, "g1", "Summer"))
	got, err := s.GetGenerationRecord(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "Summer", got.Name)
	assert.Equal(t, 5, got.Scenes[0].Duration)
	assert.Equal(t, StringList{"v.mp4"}, got.VideoURLs)

	require.NoError(t, s.RenameGenerationRecord(ctx, "g1", "Summer"), "same name is not a missing record")

	assert.ErrorIs(t, s.RenameGenerationRecord(ctx, "nope", "x"), ErrNotFound)
}
