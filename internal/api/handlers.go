// internal/api/handlers.go
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/storyforge/draftsync/internal/models"
	"github.com/storyforge/draftsync/internal/repos"
	"github.com/storyforge/draftsync/internal/utils"
)

// Handler serves the draft API. Every operation is scoped by the owner
// key the identity middleware resolved.
type Handler struct {
	repo *repos.DraftRepo
	hub  *EventHub
	log  *utils.Logger
}

// NewHandler creates the API handler.
func NewHandler(repo *repos.DraftRepo, hub *EventHub) *Handler {
	return &Handler{
		repo: repo,
		hub:  hub,
		log:  utils.GetLogger(),
	}
}

// ListDrafts returns the caller's drafts, most recently updated first.
func (h *Handler) ListDrafts(c *gin.Context) {
	ownerKey := OwnerKeyFromContext(c)
	drafts, err := h.repo.ListByOwner(ownerKey)
	if err != nil {
		h.log.Errorf("list drafts: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list drafts"})
		return
	}
	c.JSON(http.StatusOK, drafts)
}

// CreateDraft stores a new draft and returns it with the
// server-assigned id.
func (h *Handler) CreateDraft(c *gin.Context) {
	ownerKey := OwnerKeyFromContext(c)

	var req models.CreateDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}
	if reason := validateCreate(req); reason != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": reason})
		return
	}

	draft, err := h.repo.Create(ownerKey, req)
	if err != nil {
		h.log.Errorf("create draft: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create draft"})
		return
	}

	h.hub.Broadcast(ownerKey, DraftEvent{Type: EventDraftSaved, DraftID: draft.ID, UpdatedAt: draft.UpdatedAt})
	c.JSON(http.StatusCreated, draft)
}

// UpdateDraft applies a partial update; omitted fields keep their
// prior values.
func (h *Handler) UpdateDraft(c *gin.Context) {
	ownerKey := OwnerKeyFromContext(c)

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid draft id"})
		return
	}

	var req models.UpdateDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}
	if req.CurrentQuestionIndex != nil && *req.CurrentQuestionIndex < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "currentQuestionIndex must not be negative"})
		return
	}

	draft, err := h.repo.Update(ownerKey, id, req)
	if err != nil {
		if errors.Is(err, repos.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "draft not found"})
			return
		}
		h.log.Errorf("update draft %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update draft"})
		return
	}

	h.hub.Broadcast(ownerKey, DraftEvent{Type: EventDraftSaved, DraftID: draft.ID, UpdatedAt: draft.UpdatedAt})
	c.JSON(http.StatusOK, draft)
}

// DeleteDraft removes the caller's draft.
func (h *Handler) DeleteDraft(c *gin.Context) {
	ownerKey := OwnerKeyFromContext(c)

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid draft id"})
		return
	}

	if err := h.repo.Delete(ownerKey, id); err != nil {
		if errors.Is(err, repos.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "draft not found"})
			return
		}
		h.log.Errorf("delete draft %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete draft"})
		return
	}

	h.hub.Broadcast(ownerKey, DraftEvent{Type: EventDraftDeleted, DraftID: id, UpdatedAt: time.Now().UTC()})
	c.Status(http.StatusNoContent)
}

// GetProgress returns the gamification storage shape for the caller.
func (h *Handler) GetProgress(c *gin.Context) {
	ownerKey := OwnerKeyFromContext(c)
	progress, err := h.repo.GetProgress(ownerKey)
	if err != nil {
		h.log.Errorf("get progress: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read progress"})
		return
	}
	c.JSON(http.StatusOK, progress)
}

// PutProgress stores the shape the external scorer computed. No
// scoring happens here.
func (h *Handler) PutProgress(c *gin.Context) {
	ownerKey := OwnerKeyFromContext(c)

	var progress models.StoryProgress
	if err := c.ShouldBindJSON(&progress); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}
	if progress.CompletedStories < 0 || progress.XP < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "progress values must not be negative"})
		return
	}

	if err := h.repo.PutProgress(ownerKey, progress); err != nil {
		h.log.Errorf("put progress: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store progress"})
		return
	}
	c.Status(http.StatusNoContent)
}

func validateCreate(req models.CreateDraftRequest) string {
	if req.TrackID == "" {
		return "trackId is required"
	}
	if req.TrackTitle == "" {
		return "trackTitle is required"
	}
	if req.CurrentQuestionIndex < 0 {
		return "currentQuestionIndex must not be negative"
	}
	return ""
}
