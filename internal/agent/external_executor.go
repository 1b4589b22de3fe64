package agent

import (
	"context"

	"arena/internal/logger"
)

// ExternalExecutor 只记录决策，由外部执行引擎下单后通过 POST /api/executions 回报成交。
type ExternalExecutor struct{}

func (ExternalExecutor) Execute(_ context.Context, req ExecutionRequest) error {
	for _, d := range req.Decisions {
		logger.Infof("ExternalExecutor: account=%s trace=%s pending %s", req.Account, req.TraceID, d.Brief())
	}
	return nil
}
