package natshandler

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/ohowland/gridflow/internal/pkg/config"
	"github.com/ohowland/gridflow/internal/pkg/msg"
	"gotest.tools/v3/assert"
)

func TestSubjectScopedToRun(t *testing.T) {
	pid, err := uuid.NewUUID()
	assert.NilError(t, err)
	assert.Equal(t, subjectFor(pid), "gridflow.run."+pid.String())
}

func TestNewSubscribesToProgress(t *testing.T) {
	runPID, err := uuid.NewUUID()
	assert.NilError(t, err)
	ps := msg.NewPublisher(runPID)

	h, err := New(config.Stream{Server: "nats://localhost:4222"}, ps)
	assert.NilError(t, err)

	type event struct {
		Task  string `json:"task"`
		State string `json:"state"`
	}
	ps.Publish(msg.Progress, event{Task: "solve", State: "running"})

	m := <-h.inbox
	assert.Equal(t, m.Topic(), msg.Progress)

	data, err := json.Marshal(m.Payload())
	assert.NilError(t, err)
	assert.Equal(t, string(data), `{"task":"solve","state":"running"}`)
}
