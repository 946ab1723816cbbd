// internal/models/progress.go
package models

import "time"

// StoryProgress is the storage shape the gamification layer reads after
// a draft is promoted to a finished story. The scoring itself happens
// outside this service; we only persist what it consumes.
type StoryProgress struct {
	OwnerKey         string    `json:"-"`
	CompletedStories int       `json:"completedStories"`
	XP               int       `json:"xp"`
	BadgeIDs         []string  `json:"badgeIds"`
	UpdatedAt        time.Time `json:"updatedAt"`
}
