package analytics

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ DataCollector = new(LogFileDataCollector)

// LogFileDataCollector appends every event as a JSON line to an audit file.
type LogFileDataCollector struct {
	fileName string
	logger   *zap.Logger
}

func NewLogFileDataCollector(fileName string) (*LogFileDataCollector, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.StacktraceKey = ""
	encoderConfig.CallerKey = ""
	fileEncoder := zapcore.NewJSONEncoder(encoderConfig)
	logFile, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(fileEncoder, zapcore.AddSync(logFile), zapcore.InfoLevel)
	return &LogFileDataCollector{
		fileName: fileName,
		logger:   zap.New(core),
	}, nil
}

func (lc *LogFileDataCollector) Collect(event Event) error {
	lc.logger.Info(string(event.Type),
		zap.String("eventId", event.Id),
		zap.String("runId", event.RunId),
		zap.String("workflowId", event.WorkflowId),
		zap.String("stepId", event.StepId),
		zap.Any("data", event.Data),
		zap.Time("at", event.Timestamp),
	)
	return nil
}

func (lc *LogFileDataCollector) Close() error {
	return lc.logger.Sync()
}
