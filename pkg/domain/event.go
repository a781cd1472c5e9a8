package domain

import "time"

// EventType identifies a job lifecycle event.
type EventType string

const (
	EventJobSubmitted     EventType = "job.submitted"
	EventJobStatusChanged EventType = "job.status_changed"
	EventJobCancelled     EventType = "job.cancelled"
	EventUnitStarted      EventType = "unit.started"
	EventUnitCompleted    EventType = "unit.completed"
	EventUnitFailed       EventType = "unit.failed"
	EventUnitRetrying     EventType = "unit.retrying"
	EventScriptEdited     EventType = "script.edited"
)

// TopicJobs is the event bus topic all job events are published on.
const TopicJobs = "job.events"

// Event is a job lifecycle notification.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	JobID     string                 `json:"job_id"`
	Slide     int                    `json:"slide"`
	Stage     Stage                  `json:"stage,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
