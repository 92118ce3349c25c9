package store

import (
	"errors"
	"strings"
	"time"
)

// DefaultCreator is recorded as the submitter when a request omits createdBy.
const DefaultCreator = "anonymous"

var (
	ErrNotFound   = errors.New("request not found")
	ErrOutOfRange = errors.New("comment index out of range")
	ErrValidation = errors.New("invalid request")
)

// Request is a single mod request together with its comment thread.
type Request struct {
	ID            string    `json:"id" bson:"-"`
	GameName      string    `json:"gameName" bson:"gameName"`
	LatestVersion string    `json:"latestVersion" bson:"latestVersion"`
	Details       string    `json:"details" bson:"details"`
	IconURL       string    `json:"iconUrl" bson:"iconUrl"`
	CreatedBy     string    `json:"createdBy" bson:"createdBy"`
	Comments      Ledger    `json:"comments" bson:"comments"`
	Timestamp     time.Time `json:"timestamp" bson:"timestamp"`
	LastActivity  time.Time `json:"lastActivity" bson:"lastActivity"`
}

type Comment struct {
	UserID    string    `json:"userId" bson:"userId"`
	Comment   string    `json:"comment" bson:"comment"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// Draft carries the fields a caller may supply when creating a request.
type Draft struct {
	GameName      string
	LatestVersion string
	Details       string
	IconURL       string
	CreatedBy     string
}

// Patch is a partial metadata update. Nil fields keep their stored value.
type Patch struct {
	GameName      *string
	LatestVersion *string
	Details       *string
	IconURL       *string
}

func (p Patch) apply(item *Request) {
	if p.GameName != nil {
		item.GameName = *p.GameName
	}
	if p.LatestVersion != nil {
		item.LatestVersion = *p.LatestVersion
	}
	if p.Details != nil {
		item.Details = *p.Details
	}
	if p.IconURL != nil {
		item.IconURL = *p.IconURL
	}
}

func validateDraft(draft Draft) error {
	if strings.TrimSpace(draft.GameName) == "" {
		return ErrValidation
	}
	return nil
}

func validatePatch(patch Patch) error {
	if patch.GameName != nil && strings.TrimSpace(*patch.GameName) == "" {
		return ErrValidation
	}
	return nil
}

func creatorOrDefault(createdBy string) string {
	if createdBy == "" {
		return DefaultCreator
	}
	return createdBy
}

// nextActivity returns now, or prev advanced by step when the clock has not
// moved past prev. It keeps lastActivity strictly increasing per record.
func nextActivity(prev, now time.Time, step time.Duration) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(step)
}
