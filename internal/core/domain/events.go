package domain

import "time"

// EventTopic names a notification event emitted by the core. Delivery is
// best-effort: a dropped event never fails the state transition behind it.
type EventTopic string

const (
	EventJobCreated  EventTopic = "job.created"
	EventJobStatus   EventTopic = "job.status"
	EventJobProgress EventTopic = "job.progress"
	EventJobDeleted  EventTopic = "job.deleted"
	EventJobError    EventTopic = "job.error"
	EventJobAssigned EventTopic = "job.assigned"

	EventWorkerRegistered  EventTopic = "worker.registered"
	EventWorkerStatus      EventTopic = "worker.status"
	EventWorkerLoad        EventTopic = "worker.load"
	EventWorkerDeactivated EventTopic = "worker.deactivated"
)

// Event carries one notification: the entity it concerns plus a small
// new-value payload.
type Event struct {
	Topic     EventTopic     `json:"topic"`
	EntityID  string         `json:"entity_id"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
