package hmi

import (
	"testing"

	"github.com/gdamore/tcell"
	"github.com/google/uuid"
	"github.com/ohowland/gridflow/internal/pkg/msg"
	"github.com/ohowland/gridflow/internal/pkg/pipeline"
	"gotest.tools/v3/assert"
)

func testMonitor(t *testing.T) *Monitor {
	t.Helper()
	runPID, err := uuid.NewUUID()
	assert.NilError(t, err)
	m, err := New(msg.NewPublisher(runPID))
	assert.NilError(t, err)
	return m
}

func TestHandleBuildsTaskRows(t *testing.T) {
	m := testMonitor(t)

	m.handle(pipeline.Event{Task: "load", State: pipeline.StateDone, Detail: "4 buses", Scenario: "de-transmission"})
	m.handle(pipeline.Event{Task: "solve", State: pipeline.StateRunning})

	assert.Equal(t, m.table.GetCell(0, 0).Text, "TASK")
	assert.Equal(t, m.table.GetCell(1, 0).Text, "load")
	assert.Equal(t, m.table.GetCell(1, 1).Text, pipeline.StateDone)
	assert.Equal(t, m.table.GetCell(1, 2).Text, "4 buses")
	assert.Equal(t, m.table.GetCell(2, 0).Text, "solve")
	assert.Equal(t, m.table.GetCell(2, 1).Text, pipeline.StateRunning)
}

func TestHandleKeepsFirstSeenOrder(t *testing.T) {
	m := testMonitor(t)

	m.handle(pipeline.Event{Task: "load", State: pipeline.StatePending})
	m.handle(pipeline.Event{Task: "solve", State: pipeline.StatePending})
	m.handle(pipeline.Event{Task: "load", State: pipeline.StateDone})

	assert.Equal(t, m.table.GetCell(1, 0).Text, "load", "a state change must not reorder rows")
	assert.Equal(t, m.table.GetCell(1, 1).Text, pipeline.StateDone)
	assert.Equal(t, m.table.GetCell(2, 0).Text, "solve")
}

func TestStateColors(t *testing.T) {
	assert.Equal(t, stateColor(pipeline.StateRunning), tcell.ColorYellow)
	assert.Equal(t, stateColor(pipeline.StateDone), tcell.ColorGreen)
	assert.Equal(t, stateColor(pipeline.StateFailed), tcell.ColorRed)
	assert.Equal(t, stateColor(pipeline.StateSkipped), tcell.ColorGray)
	assert.Equal(t, stateColor(pipeline.StatePending), tcell.ColorWhite)
}
