package scheduler

import (
	"encoding/json"

	"leadflow_backend/internal/responses"

	"github.com/hibiken/asynq"
)

const (
	TaskCheckTriggers = "automation.triggers.check"
	TaskDrainQueue    = "automation.queue.drain"
	TaskSequenceTick  = "sequences.tick"
	TaskTrackEvent    = "responses.event.track"
)

// TrackEventPayload carries one inbound engagement event.
type TrackEventPayload struct {
	Params responses.TrackParams `json:"params"`
}

func NewTrackEventTask(payload TrackEventPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTrackEvent, data), nil
}

func ParseTrackEventPayload(task *asynq.Task) (TrackEventPayload, error) {
	var payload TrackEventPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return TrackEventPayload{}, err
	}
	return payload, nil
}

// periodicTasks have no payload; the handler reads all state from the store.
func newPeriodicTask(name string) *asynq.Task {
	return asynq.NewTask(name, nil)
}
