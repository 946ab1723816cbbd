// internal/models/draft.go
package models

import "time"

// Draft is the device-local shape of an in-progress story session.
// The identifier is opaque and immutable once created. ServerID links
// the local entry to its server-side counterpart when one exists, so
// discard and promotion can clear both stores.
type Draft struct {
	ID                   string            `json:"id"`
	TrackID              string            `json:"trackId"`
	TrackTitle           string            `json:"trackTitle"`
	CurrentQuestionIndex int               `json:"currentQuestionIndex"`
	Answers              map[string]string `json:"answers"`
	ServerID             int64             `json:"serverId,omitempty"`
	CreatedAt            time.Time         `json:"createdAt"`
	LastSavedAt          time.Time         `json:"lastSavedAt"`
}

// ServerDraft is the authoritative shape stored behind /api/drafts.
// The owner is implicit in the request identity and never serialized.
type ServerDraft struct {
	ID                   int64             `json:"id"`
	TrackID              string            `json:"trackId"`
	TrackTitle           string            `json:"trackTitle"`
	CurrentQuestionIndex int               `json:"currentQuestionIndex"`
	Answers              map[string]string `json:"answers"`
	CreatedAt            time.Time         `json:"createdAt"`
	UpdatedAt            time.Time         `json:"updatedAt"`
}

// CreateDraftRequest is the POST /api/drafts payload.
type CreateDraftRequest struct {
	TrackID              string            `json:"trackId"`
	TrackTitle           string            `json:"trackTitle"`
	Answers              map[string]string `json:"answers"`
	CurrentQuestionIndex int               `json:"currentQuestionIndex"`
}

// UpdateDraftRequest is the PUT /api/drafts/:id payload. Nil fields are
// omitted from the update; the server keeps their prior values.
type UpdateDraftRequest struct {
	Answers              map[string]string `json:"answers,omitempty"`
	CurrentQuestionIndex *int              `json:"currentQuestionIndex,omitempty"`
}
