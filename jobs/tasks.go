package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSchemaConverge re-runs table provisioning for every entity type.
	TaskSchemaConverge = "schema:converge"
	// TaskSessionsExpire revokes sessions older than the configured TTL.
	TaskSessionsExpire = "sessions:expire"
)

// SchemaConvergePayload limits convergence to some entity types. Empty
// means all.
type SchemaConvergePayload struct {
	Types []string `json:"types,omitempty"`
}

// SessionsExpirePayload overrides the worker's TTL when positive.
type SessionsExpirePayload struct {
	TTL time.Duration `json:"ttl,omitempty"`
}

// NewSchemaConvergeTask builds a schema:converge task.
func NewSchemaConvergeTask(types ...string) (*asynq.Task, error) {
	body, err := json.Marshal(SchemaConvergePayload{Types: types})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSchemaConverge, body, asynq.Queue(QueueDefault)), nil
}

// NewSessionsExpireTask builds a sessions:expire task.
func NewSessionsExpireTask(ttl time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(SessionsExpirePayload{TTL: ttl})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionsExpire, body, asynq.Queue(QueueDefault)), nil
}
