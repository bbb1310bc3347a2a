package analytics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/stepflow/logger"
	"github.com/mohitkumar/stepflow/util"
	"go.uber.org/zap"
)

type EventType string

const WORKFLOW_STARTED EventType = "workflow.started"
const WORKFLOW_COMPLETED EventType = "workflow.completed"
const WORKFLOW_FAILED EventType = "workflow.failed"
const WORKFLOW_PAUSED EventType = "workflow.paused"
const WORKFLOW_RESUMED EventType = "workflow.resumed"
const WORKFLOW_CANCELLED EventType = "workflow.cancelled"
const STEP_STARTED EventType = "step.started"
const STEP_COMPLETED EventType = "step.completed"
const STEP_FAILED EventType = "step.failed"
const STEP_SKIPPED EventType = "step.skipped"
const APPROVAL_REQUESTED EventType = "approval.requested"
const APPROVAL_RECEIVED EventType = "approval.received"

type Event struct {
	Id         string         `json:"id"`
	Type       EventType      `json:"type"`
	RunId      string         `json:"runId"`
	WorkflowId string         `json:"workflowId"`
	StepId     string         `json:"stepId,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

func NewEvent(eventType EventType, runId string, workflowId string, stepId string, data map[string]any) Event {
	return Event{
		Id:         uuid.NewString(),
		Type:       eventType,
		RunId:      runId,
		WorkflowId: workflowId,
		StepId:     stepId,
		Data:       data,
		Timestamp:  time.Now().UTC(),
	}
}

// EventSink receives lifecycle events. Emit must not block the caller and
// nothing in the engine depends on delivery.
type EventSink interface {
	Emit(event Event)
}

type DataCollector interface {
	Collect(event Event) error
}

type NopSink struct{}

func (NopSink) Emit(event Event) {}

var _ EventSink = new(EventDispatcher)

// EventDispatcher queues events on a bounded channel and fans them out to
// its collectors on a worker goroutine. Events are dropped when the queue
// is full.
type EventDispatcher struct {
	worker     *util.Worker
	collectors []DataCollector
	wg         sync.WaitGroup
	dropped    atomic.Int64
}

func NewEventDispatcher(capacity int, collectors ...DataCollector) *EventDispatcher {
	d := &EventDispatcher{collectors: collectors}
	d.worker = util.NewWorker("event-dispatcher", &d.wg, d.handle, capacity)
	return d
}

func (d *EventDispatcher) handle(job util.Job) error {
	event := job.(Event)
	for _, c := range d.collectors {
		if err := c.Collect(event); err != nil {
			logger.Error("error collecting event", zap.String("type", string(event.Type)), zap.String("runId", event.RunId), zap.Error(err))
		}
	}
	return nil
}

func (d *EventDispatcher) Start() {
	d.worker.Start()
}

// Stop flushes queued events and waits for the worker to exit.
func (d *EventDispatcher) Stop() error {
	d.worker.Stop()
	d.wg.Wait()
	return nil
}

func (d *EventDispatcher) Emit(event Event) {
	if !d.worker.Offer(event) {
		d.dropped.Add(1)
		logger.Warn("event queue full, dropping event", zap.String("type", string(event.Type)), zap.String("runId", event.RunId))
	}
}

func (d *EventDispatcher) Dropped() int64 {
	return d.dropped.Load()
}
