package models

import "chatkit/pkg/errs"

// ThreadKind distinguishes the conversation container variants.
type ThreadKind string

const (
	ThreadDirect ThreadKind = "direct"
	ThreadGroup  ThreadKind = "group"
	// ThreadStory is a broadcast-story distribution list.
	ThreadStory ThreadKind = "story"
)

// DisappearingMessagesConfiguration is the per-thread disappearing-message
// setting. It is replaced wholesale on update, never partially mutated;
// Version increases on every change so concurrent updates can be ordered.
type DisappearingMessagesConfiguration struct {
	Enabled      bool   `json:"enabled"`
	TimerSeconds uint32 `json:"timer_seconds,omitempty"`
	Version      uint32 `json:"version"`
	// AppliedTS is the wall clock at which this configuration took effect.
	// Version ties are broken on it, so unrelated thread activity cannot
	// shadow a concurrent configuration update.
	AppliedTS int64 `json:"applied_ts,omitempty"`
}

// Active reports whether messages created under this configuration
// should carry an expiration deadline.
func (c DisappearingMessagesConfiguration) Active() bool {
	return c.Enabled && c.TimerSeconds > 0
}

// Newer reports whether c supersedes other. Higher version wins; a tie is
// broken by the caller using wall-clock order.
func (c DisappearingMessagesConfiguration) Newer(other DisappearingMessagesConfiguration) bool {
	return c.Version > other.Version
}

// Thread is a conversation container owning an ordered set of interactions.
type Thread struct {
	ID   string     `json:"id"`
	Kind ThreadKind `json:"kind"`
	// Participants holds non-local participant ids. A direct thread has
	// exactly one; a group thread's set is never empty while active.
	Participants []string `json:"participants,omitempty"`
	// GroupID is the external group identity for group threads.
	GroupID string `json:"group_id,omitempty"`
	// StoryID is the distribution-list identity for broadcast-story threads.
	StoryID string `json:"story_id,omitempty"`
	Name    string `json:"name,omitempty"`

	CreatedTS         int64 `json:"created_ts,omitempty"`
	UpdatedTS         int64 `json:"updated_ts,omitempty"`
	LastInteractionTS int64 `json:"last_interaction_ts,omitempty"`

	// LastSortKey is the highest sort key ever assigned in this thread.
	// Sort keys are never reused, even after deletion.
	LastSortKey uint64 `json:"last_sort_key,omitempty"`

	Muted       bool `json:"muted,omitempty"`
	Archived    bool `json:"archived,omitempty"`
	UnreadCount int  `json:"unread_count,omitempty"`

	Disappearing DisappearingMessagesConfiguration `json:"disappearing"`
}

// Validate enforces the structural invariants of a thread record.
func (t *Thread) Validate() error {
	if t.ID == "" {
		return errs.Validation("thread id is required")
	}
	switch t.Kind {
	case ThreadDirect:
		if len(t.Participants) != 1 {
			return errs.Validation("direct thread %s must have exactly one participant, has %d", t.ID, len(t.Participants))
		}
	case ThreadGroup:
		if len(t.Participants) == 0 {
			return errs.Validation("group thread %s has an empty participant set", t.ID)
		}
	case ThreadStory:
		// story threads may have an empty recipient list until shared
	default:
		return errs.Validation("thread %s has unknown kind %q", t.ID, string(t.Kind))
	}
	return nil
}
