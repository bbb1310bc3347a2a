package engine

import (
	"context"
	"sync"
	"time"

	"github.com/mohitkumar/stepflow/logger"
	"github.com/mohitkumar/stepflow/util"
	"go.uber.org/zap"
)

const sweepBatchSize = 100

// NewExpirySweeper periodically rejects approvals that expired without an answer.
func NewExpirySweeper(e *Engine, interval time.Duration, wg *sync.WaitGroup) *util.TickWorker {
	return util.NewTickWorker("approval-expiry-sweeper", interval, func() {
		// the deadline bounds the lookup, ProcessExpiredApprovals detaches the runs it drives
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()
		n, err := e.ProcessExpiredApprovals(ctx, sweepBatchSize)
		if err != nil {
			logger.Error("error sweeping expired approvals", zap.Error(err))
			return
		}
		if n > 0 {
			logger.Info("expired approvals resolved", zap.Int("count", n))
		}
	}, wg)
}
