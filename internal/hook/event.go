// Package hook receives push webhooks: it verifies their signature, decodes
// the event and runs the commit it names on a bounded pool of workers,
// one job at a time per repository.
package hook

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrPayload is returned for push events that cannot be processed.
var ErrPayload = errors.New("invalid push payload")

// PushEvent is the subset of a push webhook payload that is used.
type PushEvent struct {
	Ref string `json:"ref"`
	// After is the pushed head. Deprecated: HeadCommit.ID is authoritative;
	// After is only read when head_commit is absent.
	After      string      `json:"after"`
	Deleted    bool        `json:"deleted"`
	Repository Repository  `json:"repository"`
	HeadCommit *HeadCommit `json:"head_commit"`
}

// Repository identifies the pushed repository.
type Repository struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	CloneURL string `json:"clone_url"`
}

// HeadCommit is the commit the push moved the ref to.
type HeadCommit struct {
	ID string `json:"id"`
}

// CommitID returns the commit to process.
func (e *PushEvent) CommitID() string {
	if e.HeadCommit != nil && e.HeadCommit.ID != "" {
		return e.HeadCommit.ID
	}
	return e.After
}

// ParsePushEvent decodes and validates a push payload. Branch deletions
// decode successfully with Deleted set and may carry no commit.
func ParsePushEvent(body []byte) (*PushEvent, error) {
	var ev PushEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayload, err)
	}
	if ev.Repository.CloneURL == "" {
		return nil, fmt.Errorf("%w: repository.clone_url is missing", ErrPayload)
	}
	if !ev.Deleted && ev.CommitID() == "" {
		return nil, fmt.Errorf("%w: head_commit.id is missing", ErrPayload)
	}
	return &ev, nil
}
