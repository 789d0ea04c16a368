package models

import "time"

// EventCategory classifies workflow events pushed to stream subscribers.
type EventCategory string

const (
	EventStage EventCategory = "stage"
	EventInfo  EventCategory = "info"
	EventTTS   EventCategory = "tts"
)

// WorkflowEvent is the wire object broadcast to workflow stream
// subscribers; one event per push frame.
type WorkflowEvent struct {
	EventID    string         `json:"eventId"`
	WorkflowID string         `json:"workflowId"`
	Category   EventCategory  `json:"category"`
	StageID    string         `json:"stageId,omitempty"`
	Status     string         `json:"status,omitempty"`
	Message    string         `json:"message"`
	Timestamp  time.Time      `json:"timestamp"`
	Meta       map[string]any `json:"meta,omitempty"`
}
