package analytics

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogFileDataCollector struct {
	fileName string
	logger   *zap.Logger
}

func NewLogFileDataCollector(fileName string) (*LogFileDataCollector, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.StacktraceKey = ""
	fileEncoder := zapcore.NewJSONEncoder(encoderConfig)
	logFile, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	writer := zapcore.AddSync(logFile)
	core := zapcore.NewTee(zapcore.NewCore(fileEncoder, writer, zapcore.InfoLevel))
	return &LogFileDataCollector{
		fileName: fileName,
		logger:   zap.New(core),
	}, nil
}

func (lc *LogFileDataCollector) RecordStepSuccess(flowId string, conversationId string, versionId string, state string, event string, completed bool) {
	lc.logger.Info("step",
		zap.String("flow", flowId),
		zap.String("conversation", conversationId),
		zap.String("version", versionId),
		zap.String("state", state),
		zap.String("event", event),
		zap.Bool("completed", completed))
}

func (lc *LogFileDataCollector) RecordStepFailure(flowId string, conversationId string, versionId string, event string, reason string) {
	lc.logger.Info("step_failure",
		zap.String("flow", flowId),
		zap.String("conversation", conversationId),
		zap.String("version", versionId),
		zap.String("event", event),
		zap.String("reason", reason))
}
