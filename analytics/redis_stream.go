package analytics

import (
	"context"
	"encoding/json"
	"time"

	rd "github.com/go-redis/redis/v9"
)

var _ DataCollector = new(RedisStreamCollector)

// RedisStreamCollector publishes events to a capped Redis stream, where
// notification services can consume them.
type RedisStreamCollector struct {
	client  rd.UniversalClient
	stream  string
	maxLen  int64
	timeout time.Duration
}

func NewRedisStreamCollector(client rd.UniversalClient, stream string, maxLen int64) *RedisStreamCollector {
	return &RedisStreamCollector{
		client:  client,
		stream:  stream,
		maxLen:  maxLen,
		timeout: 2 * time.Second,
	}
}

func (rc *RedisStreamCollector) Collect(event Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), rc.timeout)
	defer cancel()
	return rc.client.XAdd(ctx, &rd.XAddArgs{
		Stream: rc.stream,
		MaxLen: rc.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":         event.Id,
			"type":       string(event.Type),
			"runId":      event.RunId,
			"workflowId": event.WorkflowId,
			"stepId":     event.StepId,
			"data":       string(data),
			"timestamp":  event.Timestamp.Format(time.RFC3339Nano),
		},
	}).Err()
}
