// internal/repos/draft_repo.go
package repos

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/storyforge/draftsync/internal/models"
)

// ErrNotFound marks lookups for drafts absent under the owner key.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS drafts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	owner_key TEXT NOT NULL,
	track_id TEXT NOT NULL,
	track_title TEXT NOT NULL,
	answers TEXT NOT NULL DEFAULT '{}',
	current_question_index INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_drafts_owner ON drafts(owner_key, updated_at);

CREATE TABLE IF NOT EXISTS story_progress (
	owner_key TEXT PRIMARY KEY,
	completed_stories INTEGER NOT NULL DEFAULT 0,
	xp INTEGER NOT NULL DEFAULT 0,
	badge_ids TEXT NOT NULL DEFAULT '[]',
	updated_at DATETIME NOT NULL
);
`

// DraftRepo is the authoritative draft store. Every operation is
// scoped by the caller's owner key; a draft under another key is
// indistinguishable from a missing one.
type DraftRepo struct {
	db *sql.DB
}

// NewDraftRepo wraps an open database handle.
func NewDraftRepo(db *sql.DB) *DraftRepo {
	return &DraftRepo{db: db}
}

// EnsureSchema creates the tables when they do not exist yet.
func EnsureSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// ListByOwner returns the owner's drafts, most recently updated first.
func (r *DraftRepo) ListByOwner(ownerKey string) ([]models.ServerDraft, error) {
	rows, err := r.db.Query(`
		SELECT id, track_id, track_title, answers, current_question_index, created_at, updated_at
		FROM drafts
		WHERE owner_key = ?
		ORDER BY updated_at DESC
	`, ownerKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	drafts := make([]models.ServerDraft, 0)
	for rows.Next() {
		draft, err := scanDraftFromRows(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, *draft)
	}
	return drafts, rows.Err()
}

// GetByID returns the owner's draft with the given id.
func (r *DraftRepo) GetByID(ownerKey string, id int64) (*models.ServerDraft, error) {
	row := r.db.QueryRow(`
		SELECT id, track_id, track_title, answers, current_question_index, created_at, updated_at
		FROM drafts
		WHERE owner_key = ? AND id = ?
	`, ownerKey, id)
	return scanDraft(row)
}

// Create inserts a new draft and returns it with the server-assigned id.
func (r *DraftRepo) Create(ownerKey string, req models.CreateDraftRequest) (*models.ServerDraft, error) {
	answers := req.Answers
	if answers == nil {
		answers = make(map[string]string)
	}
	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return nil, fmt.Errorf("serialize answers: %w", err)
	}

	now := time.Now().UTC()
	res, err := r.db.Exec(`
		INSERT INTO drafts (owner_key, track_id, track_title, answers, current_question_index, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ownerKey, req.TrackID, req.TrackTitle, string(answersJSON), req.CurrentQuestionIndex, now, now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &models.ServerDraft{
		ID:                   id,
		TrackID:              req.TrackID,
		TrackTitle:           req.TrackTitle,
		CurrentQuestionIndex: req.CurrentQuestionIndex,
		Answers:              answers,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}

// Update applies a partial update: only supplied fields change,
// omitted fields retain their prior values. Answers merge key by key.
func (r *DraftRepo) Update(ownerKey string, id int64, req models.UpdateDraftRequest) (*models.ServerDraft, error) {
	draft, err := r.GetByID(ownerKey, id)
	if err != nil {
		return nil, err
	}

	if req.Answers != nil {
		if draft.Answers == nil {
			draft.Answers = make(map[string]string)
		}
		for questionID, answer := range req.Answers {
			draft.Answers[questionID] = answer
		}
	}
	if req.CurrentQuestionIndex != nil {
		draft.CurrentQuestionIndex = *req.CurrentQuestionIndex
	}
	draft.UpdatedAt = time.Now().UTC()

	answersJSON, err := json.Marshal(draft.Answers)
	if err != nil {
		return nil, fmt.Errorf("serialize answers: %w", err)
	}
	_, err = r.db.Exec(`
		UPDATE drafts
		SET answers = ?, current_question_index = ?, updated_at = ?
		WHERE owner_key = ? AND id = ?
	`, string(answersJSON), draft.CurrentQuestionIndex, draft.UpdatedAt, ownerKey, id)
	if err != nil {
		return nil, err
	}
	return draft, nil
}

// Delete removes the owner's draft. Missing drafts report ErrNotFound.
func (r *DraftRepo) Delete(ownerKey string, id int64) error {
	res, err := r.db.Exec(`DELETE FROM drafts WHERE owner_key = ? AND id = ?`, ownerKey, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetProgress returns the stored gamification shape for the owner, a
// zero value when none was recorded yet.
func (r *DraftRepo) GetProgress(ownerKey string) (*models.StoryProgress, error) {
	row := r.db.QueryRow(`
		SELECT completed_stories, xp, badge_ids, updated_at
		FROM story_progress WHERE owner_key = ?
	`, ownerKey)

	progress := &models.StoryProgress{OwnerKey: ownerKey, BadgeIDs: []string{}}
	var badgeJSON string
	err := row.Scan(&progress.CompletedStories, &progress.XP, &badgeJSON, &progress.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return progress, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(badgeJSON), &progress.BadgeIDs); err != nil {
		progress.BadgeIDs = []string{}
	}
	return progress, nil
}

// PutProgress stores the shape the external scorer computed.
func (r *DraftRepo) PutProgress(ownerKey string, progress models.StoryProgress) error {
	badgeIDs := progress.BadgeIDs
	if badgeIDs == nil {
		badgeIDs = []string{}
	}
	badgeJSON, err := json.Marshal(badgeIDs)
	if err != nil {
		return fmt.Errorf("serialize badge ids: %w", err)
	}
	_, err = r.db.Exec(`
		INSERT INTO story_progress (owner_key, completed_stories, xp, badge_ids, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(owner_key) DO UPDATE SET
			completed_stories = excluded.completed_stories,
			xp = excluded.xp,
			badge_ids = excluded.badge_ids,
			updated_at = excluded.updated_at
	`, ownerKey, progress.CompletedStories, progress.XP, string(badgeJSON), time.Now().UTC())
	return err
}

func scanDraft(row *sql.Row) (*models.ServerDraft, error) {
	var (
		draft       models.ServerDraft
		answersJSON string
	)
	err := row.Scan(&draft.ID, &draft.TrackID, &draft.TrackTitle, &answersJSON,
		&draft.CurrentQuestionIndex, &draft.CreatedAt, &draft.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(answersJSON), &draft.Answers); err != nil {
		draft.Answers = make(map[string]string)
	}
	return &draft, nil
}

func scanDraftFromRows(rows *sql.Rows) (*models.ServerDraft, error) {
	var (
		draft       models.ServerDraft
		answersJSON string
	)
	err := rows.Scan(&draft.ID, &draft.TrackID, &draft.TrackTitle, &answersJSON,
		&draft.CurrentQuestionIndex, &draft.CreatedAt, &draft.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(answersJSON), &draft.Answers); err != nil {
		draft.Answers = make(map[string]string)
	}
	return &draft, nil
}
