package repos

import (
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/storyforge/draftsync/internal/models"
)

func setupTestRepo(t *testing.T) *DraftRepo {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	// One connection keeps every query on the same in-memory database.
	db.SetMaxOpenConns(1)

	if err := EnsureSchema(db); err != nil {
		t.Fatal(err)
	}
	return NewDraftRepo(db)
}

func TestCreateAssignsID(t *testing.T) {
	repo := setupTestRepo(t)

	draft, err := repo.Create("session:abc", models.CreateDraftRequest{
		TrackID:    "origin",
		TrackTitle: "Origin Story",
		Answers:    map[string]string{},
	})
	if err != nil {
		t.Fatal(err)
	}
	if draft.ID < 1 {
		t.Fatalf("expected server-assigned id, got %d", draft.ID)
	}
	if draft.CurrentQuestionIndex != 0 {
		t.Fatalf("expected index 0, got %d", draft.CurrentQuestionIndex)
	}
	if draft.UpdatedAt.Before(draft.CreatedAt) {
		t.Fatal("updatedAt must be >= createdAt")
	}
}

func TestPartialUpdateMergesAnswers(t *testing.T) {
	repo := setupTestRepo(t)
	owner := "session:abc"

	draft, err := repo.Create(owner, models.CreateDraftRequest{
		TrackID:    "origin",
		TrackTitle: "Origin Story",
		Answers:    map[string]string{"q0": "first"},
	})
	if err != nil {
		t.Fatal(err)
	}

	index := 1
	updated, err := repo.Update(owner, draft.ID, models.UpdateDraftRequest{
		Answers:              map[string]string{"q1": "I moved here in 2010"},
		CurrentQuestionIndex: &index,
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.ID != draft.ID {
		t.Fatalf("id changed: %d vs %d", updated.ID, draft.ID)
	}
	if updated.CurrentQuestionIndex != 1 {
		t.Fatalf("expected index 1, got %d", updated.CurrentQuestionIndex)
	}
	if updated.Answers["q0"] != "first" || updated.Answers["q1"] != "I moved here in 2010" {
		t.Fatalf("answers not merged: %v", updated.Answers)
	}
}

func TestUpdateOmittedFieldsRetainValues(t *testing.T) {
	repo := setupTestRepo(t)
	owner := "session:abc"

	index := 3
	draft, err := repo.Create(owner, models.CreateDraftRequest{
		TrackID:              "origin",
		TrackTitle:           "Origin Story",
		Answers:              map[string]string{"q0": "kept"},
		CurrentQuestionIndex: index,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Update with no index: the prior value stays.
	updated, err := repo.Update(owner, draft.ID, models.UpdateDraftRequest{
		Answers: map[string]string{"q1": "new"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.CurrentQuestionIndex != 3 {
		t.Fatalf("omitted index should be retained, got %d", updated.CurrentQuestionIndex)
	}
	if updated.Answers["q0"] != "kept" {
		t.Fatal("omitted answers should be retained")
	}
}

func TestOwnerScoping(t *testing.T) {
	repo := setupTestRepo(t)

	draft, err := repo.Create("session:alice", models.CreateDraftRequest{
		TrackID:    "origin",
		TrackTitle: "Origin Story",
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := repo.GetByID("session:bob", draft.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other owner should see not found, got %v", err)
	}
	if err := repo.Delete("session:bob", draft.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other owner should not delete, got %v", err)
	}

	drafts, err := repo.ListByOwner("session:bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(drafts) != 0 {
		t.Fatalf("other owner should see no drafts, got %d", len(drafts))
	}
}

func TestDeleteMissingDraft(t *testing.T) {
	repo := setupTestRepo(t)

	if err := repo.Delete("session:abc", 12345); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListOrder(t *testing.T) {
	repo := setupTestRepo(t)
	owner := "session:abc"

	first, err := repo.Create(owner, models.CreateDraftRequest{TrackID: "a", TrackTitle: "A"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Create(owner, models.CreateDraftRequest{TrackID: "b", TrackTitle: "B"}); err != nil {
		t.Fatal(err)
	}

	// Touch the first draft so it becomes the most recently updated.
	index := 2
	if _, err := repo.Update(owner, first.ID, models.UpdateDraftRequest{CurrentQuestionIndex: &index}); err != nil {
		t.Fatal(err)
	}

	drafts, err := repo.ListByOwner(owner)
	if err != nil {
		t.Fatal(err)
	}
	if len(drafts) != 2 {
		t.Fatalf("expected 2 drafts, got %d", len(drafts))
	}
	if drafts[0].ID != first.ID {
		t.Fatalf("most recently updated draft should come first, got %d", drafts[0].ID)
	}
}

func TestProgressRoundTrip(t *testing.T) {
	repo := setupTestRepo(t)
	owner := "user:u1"

	empty, err := repo.GetProgress(owner)
	if err != nil {
		t.Fatal(err)
	}
	if empty.CompletedStories != 0 || empty.XP != 0 || len(empty.BadgeIDs) != 0 {
		t.Fatalf("expected zero progress, got %+v", empty)
	}

	if err := repo.PutProgress(owner, models.StoryProgress{
		CompletedStories: 2,
		XP:               150,
		BadgeIDs:         []string{"first_story"},
	}); err != nil {
		t.Fatal(err)
	}

	stored, err := repo.GetProgress(owner)
	if err != nil {
		t.Fatal(err)
	}
	if stored.CompletedStories != 2 || stored.XP != 150 {
		t.Fatalf("unexpected progress %+v", stored)
	}
	if len(stored.BadgeIDs) != 1 || stored.BadgeIDs[0] != "first_story" {
		t.Fatalf("unexpected badges %v", stored.BadgeIDs)
	}
}
