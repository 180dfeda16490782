package drafts

import "github.com/Andrlu75/healtCoach-sub000/models"

type EventKind string

const (
	// EventProcessing: a change was sent and the draft shows a processing state.
	EventProcessing EventKind = "draft.processing"
	EventUpdated    EventKind = "draft.updated"
	EventFailed     EventKind = "draft.failed"
	EventConfirmed  EventKind = "draft.confirmed"
	EventCancelled  EventKind = "draft.cancelled"
)

// Event reports a draft lifecycle change to observers such as the realtime hub.
type Event struct {
	Kind    EventKind     `json:"kind"`
	Owner   uint          `json:"-"`
	DraftID string        `json:"draft_id"`
	Draft   *models.Draft `json:"draft,omitempty"`
	Err     string        `json:"error,omitempty"`
}
