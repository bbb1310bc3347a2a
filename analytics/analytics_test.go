package analytics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCollector struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (c *recordingCollector) Collect(event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return c.err
}

func (c *recordingCollector) types() []EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []EventType
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	first := &recordingCollector{}
	failing := &recordingCollector{err: errors.New("boom")}
	d := NewEventDispatcher(16, failing, first)
	d.Start()

	d.Emit(NewEvent(WORKFLOW_STARTED, "r1", "wf", "", nil))
	d.Emit(NewEvent(STEP_STARTED, "r1", "wf", "a", nil))
	d.Emit(NewEvent(STEP_COMPLETED, "r1", "wf", "a", map[string]any{"durationMs": 3}))
	d.Emit(NewEvent(WORKFLOW_COMPLETED, "r1", "wf", "", nil))
	require.NoError(t, d.Stop())

	expected := []EventType{WORKFLOW_STARTED, STEP_STARTED, STEP_COMPLETED, WORKFLOW_COMPLETED}
	assert.Equal(t, expected, first.types())
	assert.Equal(t, expected, failing.types())
	assert.Zero(t, d.Dropped())
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	c := &recordingCollector{}
	d := NewEventDispatcher(2, c)

	// not started, so nothing drains the queue
	d.Emit(NewEvent(STEP_STARTED, "r1", "wf", "a", nil))
	d.Emit(NewEvent(STEP_STARTED, "r1", "wf", "b", nil))
	d.Emit(NewEvent(STEP_STARTED, "r1", "wf", "c", nil))
	assert.Equal(t, int64(1), d.Dropped())

	d.Start()
	require.NoError(t, d.Stop())
	assert.Len(t, c.types(), 2)
}

func TestNewEventAssignsIdentity(t *testing.T) {
	e1 := NewEvent(APPROVAL_REQUESTED, "r1", "wf", "approve", nil)
	e2 := NewEvent(APPROVAL_REQUESTED, "r1", "wf", "approve", nil)
	assert.NotEmpty(t, e1.Id)
	assert.NotEqual(t, e1.Id, e2.Id)
	assert.False(t, e1.Timestamp.IsZero())
}

func TestLogFileDataCollector(t *testing.T) {
	file := filepath.Join(t.TempDir(), "audit.log")
	c, err := NewLogFileDataCollector(file)
	require.NoError(t, err)

	require.NoError(t, c.Collect(NewEvent(WORKFLOW_PAUSED, "run-42", "deploy", "approve", map[string]any{"token": "x"})))
	_ = c.Close()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	line := string(data)
	assert.True(t, strings.Contains(line, `"msg":"workflow.paused"`))
	assert.True(t, strings.Contains(line, `"runId":"run-42"`))
	assert.True(t, strings.Contains(line, `"stepId":"approve"`))
}

func TestMetricsCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsCollector(reg)

	require.NoError(t, m.Collect(NewEvent(WORKFLOW_STARTED, "r1", "wf", "", nil)))
	require.NoError(t, m.Collect(NewEvent(STEP_COMPLETED, "r1", "wf", "a", map[string]any{"durationMs": int64(250)})))
	require.NoError(t, m.Collect(NewEvent(APPROVAL_REQUESTED, "r1", "wf", "b", nil)))
	require.NoError(t, m.Collect(NewEvent(APPROVAL_RECEIVED, "r1", "wf", "b", map[string]any{"approved": true})))
	require.NoError(t, m.Collect(NewEvent(WORKFLOW_COMPLETED, "r1", "wf", "", nil)))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues(string(WORKFLOW_STARTED))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsFinishedTotal.WithLabelValues("wf", "completed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PendingApprovals))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ApprovalsAnswered.WithLabelValues("true")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StepDuration))
}
