// internal/services/draft_flow.go
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/storyforge/draftsync/internal/errors"
	"github.com/storyforge/draftsync/internal/identity"
	"github.com/storyforge/draftsync/internal/models"
	"github.com/storyforge/draftsync/internal/utils"
)

// FlowState is the lifecycle state of one story-creation flow.
type FlowState string

const (
	// StateClean means no in-progress draft.
	StateClean FlowState = "clean"
	// StateRecoveryOffered means a prior unsaved draft was found on
	// entry and the user has not chosen yet.
	StateRecoveryOffered FlowState = "recovery_offered"
	// StateDrafting means a draft is tracked and autosave is active.
	StateDrafting FlowState = "drafting"
	// StateSaving means an autosave write is in flight.
	StateSaving FlowState = "saving"
	// StateSaveFailed means the last tick failed in both stores. The
	// write is retried on the next edit, not abandoned.
	StateSaveFailed FlowState = "save_failed"
)

// IndicatorState drives the persistent, non-blocking save indicator.
type IndicatorState string

const (
	IndicatorNotSaved   IndicatorState = "not_saved"
	IndicatorSaved      IndicatorState = "saved"
	IndicatorSaveFailed IndicatorState = "save_failed"
)

// SaveIndicator is what the UI renders: not yet saved, saved some
// relative time ago, or save failed.
type SaveIndicator struct {
	State   IndicatorState
	SavedAt time.Time
}

// LeaveChoice is the decision forced by the unsaved-work guard.
type LeaveChoice string

const (
	LeaveSaveDraft LeaveChoice = "save_draft"
	LeaveDiscard   LeaveChoice = "discard"
	LeaveContinue  LeaveChoice = "continue"
)

// RemoteDrafts is the server draft store as the flow sees it.
type RemoteDrafts interface {
	ListDrafts(ctx context.Context) ([]models.ServerDraft, error)
	CreateDraft(ctx context.Context, req models.CreateDraftRequest) (*models.ServerDraft, error)
	UpdateDraft(ctx context.Context, id int64, req models.UpdateDraftRequest) (*models.ServerDraft, error)
	DeleteDraft(ctx context.Context, id int64) error
}

// DefaultAutosaveDebounce settles idle typing before a save fires.
// Autosave never runs per keystroke.
const DefaultAutosaveDebounce = 2 * time.Second

// DraftFlow orchestrates one story-creation flow: autosave, recovery
// detection, and the resolution between resuming, discarding, and
// continuing. The local store is written first and is authoritative
// for the indicator; the server write is best-effort.
type DraftFlow struct {
	cache    *DraftCache
	remote   RemoteDrafts
	resolver *identity.Resolver
	log      *utils.Logger

	// saveMu serializes save ticks so an overlapping tick observes the
	// server id the previous one linked instead of creating a second
	// server draft.
	saveMu sync.Mutex

	mu          sync.Mutex
	state       FlowState
	draft       *models.Draft
	offered     []models.Draft
	lastSavedAt time.Time
	everSaved   bool

	debounce time.Duration
	timer    *time.Timer
	now      func() time.Time
}

// NewDraftFlow creates a controller in the Clean state.
func NewDraftFlow(cache *DraftCache, remote RemoteDrafts, resolver *identity.Resolver) *DraftFlow {
	return &DraftFlow{
		cache:    cache,
		remote:   remote,
		resolver: resolver,
		log:      utils.GetLogger(),
		state:    StateClean,
		debounce: DefaultAutosaveDebounce,
		now:      time.Now,
	}
}

// SetDebounce overrides the autosave settle window.
func (f *DraftFlow) SetDebounce(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.debounce = d
}

// State reports the current lifecycle state.
func (f *DraftFlow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// ActiveDraft returns a copy of the draft being edited, if any.
func (f *DraftFlow) ActiveDraft() (models.Draft, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.draft == nil {
		return models.Draft{}, false
	}
	return *f.draft, true
}

// Enter runs on flow entry: local drafts that made it past at least
// one completed step are offered for recovery. Below that threshold a
// draft carries nothing worth interrupting the user for.
func (f *DraftFlow) Enter() []models.Draft {
	drafts := f.cache.List()

	relevant := make([]models.Draft, 0, len(drafts))
	for _, d := range drafts {
		if d.CurrentQuestionIndex >= 1 {
			relevant = append(relevant, d)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(relevant) > 0 {
		f.state = StateRecoveryOffered
		f.offered = relevant
	} else {
		f.state = StateClean
		f.offered = nil
	}
	return relevant
}

// Offered returns the drafts awaiting a recovery decision.
func (f *DraftFlow) Offered() []models.Draft {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Draft, len(f.offered))
	copy(out, f.offered)
	return out
}

// Resume loads the chosen draft's answers and step index into the
// active flow.
func (f *DraftFlow) Resume(id string) error {
	draft, ok := f.cache.Get(id)
	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("draft %s not found", id), nil)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.draft = draft
	f.offered = nil
	f.state = StateDrafting
	f.lastSavedAt = draft.LastSavedAt
	f.everSaved = true
	return nil
}

// Discard removes the offered draft from both stores and returns the
// flow to Clean so a fresh draft can start. A server-side failure is
// logged, not fatal: the local copy is gone and the stray server row
// surfaces on the next list.
func (f *DraftFlow) Discard(ctx context.Context, id string) error {
	draft, ok := f.cache.Get(id)
	f.cache.Delete(id)

	if ok && draft.ServerID != 0 {
		if err := f.remote.DeleteDraft(ctx, draft.ServerID); err != nil && !apperrors.IsNotFoundError(err) {
			f.log.Warnf("discard: server draft %d not removed: %v", draft.ServerID, err)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.offered = removeOffered(f.offered, id)
	// Only a resolved recovery offer resets the flow; discarding a
	// stray id must not touch an active drafting session.
	if f.state == StateRecoveryOffered && len(f.offered) == 0 {
		f.state = StateClean
		f.draft = nil
	}
	return nil
}

// Start begins drafting a track. The draft is not persisted until the
// first autosave fires; a user who never answers anything leaves no
// trace.
func (f *DraftFlow) Start(trackID, trackTitle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateDrafting || f.state == StateSaving {
		return fmt.Errorf("flow already drafting")
	}
	f.draft = NewDraft(trackID, trackTitle)
	f.offered = nil
	f.state = StateDrafting
	f.everSaved = false
	return nil
}

// SetAnswer records an answer and schedules a debounced autosave.
func (f *DraftFlow) SetAnswer(questionID, answer string) error {
	f.mu.Lock()
	if f.draft == nil {
		f.mu.Unlock()
		return fmt.Errorf("no active draft")
	}
	if f.draft.Answers == nil {
		f.draft.Answers = make(map[string]string)
	}
	f.draft.Answers[questionID] = answer
	f.scheduleAutosaveLocked()
	f.mu.Unlock()
	return nil
}

// Advance moves to the next step and saves immediately; step
// transitions never wait out the debounce.
func (f *DraftFlow) Advance(ctx context.Context) error {
	f.mu.Lock()
	if f.draft == nil {
		f.mu.Unlock()
		return fmt.Errorf("no active draft")
	}
	f.draft.CurrentQuestionIndex++
	f.mu.Unlock()
	return f.SaveNow(ctx)
}

// scheduleAutosaveLocked arms the debounce timer. Callers hold f.mu.
func (f *DraftFlow) scheduleAutosaveLocked() {
	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(f.debounce, func() {
		if err := f.SaveNow(context.Background()); err != nil {
			f.log.Warnf("autosave: %v", err)
		}
	})
}

// SaveNow runs one autosave tick. The local write goes first and
// decides the indicator; the server write is best-effort. Only when
// both fail in the same tick does the flow enter SaveFailed.
func (f *DraftFlow) SaveNow(ctx context.Context) error {
	// One tick at a time. A debounced tick still in the server create
	// when an explicit save fires must finish and link its id first, so
	// the later tick takes the update path instead of creating a second
	// server draft.
	f.saveMu.Lock()
	defer f.saveMu.Unlock()

	f.mu.Lock()
	// An explicit save supersedes any armed debounce tick.
	f.cancelTimerLocked()
	if f.draft == nil {
		f.mu.Unlock()
		return fmt.Errorf("no active draft")
	}
	f.state = StateSaving
	draftCopy := *f.draft
	epoch := f.resolver.Epoch()
	f.mu.Unlock()

	localOK := f.cache.Save(&draftCopy)

	serverOK := false
	serverID := draftCopy.ServerID
	if serverID == 0 {
		created, err := f.remote.CreateDraft(ctx, models.CreateDraftRequest{
			TrackID:              draftCopy.TrackID,
			TrackTitle:           draftCopy.TrackTitle,
			Answers:              draftCopy.Answers,
			CurrentQuestionIndex: draftCopy.CurrentQuestionIndex,
		})
		switch {
		case err != nil:
			f.log.Warnf("autosave: server create failed: %v", err)
		case !f.resolver.StillCurrent(epoch):
			// Identity flipped while the write was in flight. The
			// draft now lives under the old owner key; forget it
			// rather than linking it into the new identity's flow.
			f.log.Infof("autosave: dropping server draft %d created under a stale identity", created.ID)
		default:
			serverID = created.ID
			serverOK = true
		}
	} else {
		_, err := f.remote.UpdateDraft(ctx, serverID, models.UpdateDraftRequest{
			Answers:              draftCopy.Answers,
			CurrentQuestionIndex: &draftCopy.CurrentQuestionIndex,
		})
		if err != nil {
			f.log.Warnf("autosave: server update failed: %v", err)
		} else {
			serverOK = f.resolver.StillCurrent(epoch)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.draft == nil {
		// Flow ended while the write was in flight.
		return nil
	}

	if serverOK && f.draft.ServerID == 0 {
		f.draft.ServerID = serverID
		linked := *f.draft
		f.cache.Save(&linked)
		f.draft.LastSavedAt = linked.LastSavedAt
	} else if localOK {
		f.draft.CreatedAt = draftCopy.CreatedAt
		f.draft.LastSavedAt = draftCopy.LastSavedAt
	}

	if !localOK && !serverOK {
		f.state = StateSaveFailed
		return apperrors.NewStorageError("draft not saved in either store", nil)
	}

	f.state = StateDrafting
	f.lastSavedAt = f.now()
	f.everSaved = true
	return nil
}

// Indicator reports the save status the UI renders. It never blocks
// and never auto-dismisses a failure.
func (f *DraftFlow) Indicator() SaveIndicator {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case f.state == StateSaveFailed:
		return SaveIndicator{State: IndicatorSaveFailed}
	case f.everSaved:
		return SaveIndicator{State: IndicatorSaved, SavedAt: f.lastSavedAt}
	default:
		return SaveIndicator{State: IndicatorNotSaved}
	}
}

// RequiresLeaveDecision reports whether leaving now would trip the
// unsaved-work guard: an active draft with at least one completed step
// must not be silently lost.
func (f *DraftFlow) RequiresLeaveDecision() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case StateDrafting, StateSaving, StateSaveFailed:
		return f.draft != nil && f.draft.CurrentQuestionIndex >= 1
	default:
		return false
	}
}

// Leave resolves the unsaved-work guard with an explicit choice.
func (f *DraftFlow) Leave(ctx context.Context, choice LeaveChoice) error {
	switch choice {
	case LeaveContinue:
		return nil
	case LeaveSaveDraft:
		if err := f.SaveNow(ctx); err != nil {
			return err
		}
		f.mu.Lock()
		f.cancelTimerLocked()
		f.draft = nil
		f.state = StateClean
		f.mu.Unlock()
		return nil
	case LeaveDiscard:
		f.mu.Lock()
		draft := f.draft
		f.cancelTimerLocked()
		f.draft = nil
		f.state = StateClean
		f.mu.Unlock()
		if draft != nil {
			f.cache.Delete(draft.ID)
			if draft.ServerID != 0 {
				if err := f.remote.DeleteDraft(ctx, draft.ServerID); err != nil && !apperrors.IsNotFoundError(err) {
					f.log.Warnf("leave: server draft %d not removed: %v", draft.ServerID, err)
				}
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown leave choice %q", choice)
	}
}

// Promote finishes the flow after the draft became a story. Both
// stores drop the draft; a server-side failure blocks completion
// because silently losing a finished story is unacceptable.
func (f *DraftFlow) Promote(ctx context.Context) error {
	f.mu.Lock()
	if f.draft == nil {
		f.mu.Unlock()
		return fmt.Errorf("no active draft")
	}
	draft := *f.draft
	f.mu.Unlock()

	if draft.ServerID != 0 {
		if err := f.remote.DeleteDraft(ctx, draft.ServerID); err != nil && !apperrors.IsNotFoundError(err) {
			return apperrors.WrapError(err, "story saved but draft cleanup failed", apperrors.ErrorTypeFetch)
		}
	}
	f.cache.Delete(draft.ID)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelTimerLocked()
	f.draft = nil
	f.state = StateClean
	return nil
}

func (f *DraftFlow) cancelTimerLocked() {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}

func removeOffered(offered []models.Draft, id string) []models.Draft {
	out := offered[:0]
	for _, d := range offered {
		if d.ID != id {
			out = append(out, d)
		}
	}
	return out
}
