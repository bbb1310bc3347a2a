package util

import (
	"sync"

	"github.com/mohitkumar/stepflow/logger"
	"go.uber.org/zap"
)

type Job any

// Worker drains a bounded channel on one goroutine. Offer never blocks, so
// producers are not slowed down by a slow handler.
type Worker struct {
	name     string
	capacity int
	stop     chan struct{}
	stopOnce sync.Once
	wg       *sync.WaitGroup
	handler  func(Job) error
	jobChan  chan Job
}

func NewWorker(name string, wg *sync.WaitGroup, handler func(Job) error, capacity int) *Worker {
	if capacity <= 0 {
		capacity = 1
	}
	return &Worker{
		jobChan:  make(chan Job, capacity),
		name:     name,
		capacity: capacity,
		wg:       wg,
		stop:     make(chan struct{}),
		handler:  handler,
	}
}

func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case job := <-w.jobChan:
				w.handle(job)
			case <-w.stop:
				w.drain()
				logger.Info("stopping worker", zap.String("worker", w.name))
				return
			}
		}
	}()
}

func (w *Worker) handle(job Job) {
	if err := w.handler(job); err != nil {
		logger.Error("error in handling job in worker", zap.String("worker", w.name), zap.Any("job", job), zap.Error(err))
	}
}

func (w *Worker) drain() {
	for {
		select {
		case job := <-w.jobChan:
			w.handle(job)
		default:
			return
		}
	}
}

// Offer enqueues job and reports false when the queue is full.
func (w *Worker) Offer(job Job) bool {
	select {
	case w.jobChan <- job:
		return true
	default:
		return false
	}
}

func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
}
