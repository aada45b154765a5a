package analytics

type DataCollectorConfig struct {
	FileName      string
	CollectorType DataCollectorType
}

type DataCollectorType string

const LOG_FILE_DATA_COLLECTOR DataCollectorType = "LOG_FILE_DATA_COLLECTOR"

// StepDataCollector receives one record per executed conversation step. The
// audit trail is what support reads when a customer asks why the assistant
// answered the way it did.
type StepDataCollector interface {
	RecordStepSuccess(flowId string, conversationId string, versionId string, state string, event string, completed bool)
	RecordStepFailure(flowId string, conversationId string, versionId string, event string, reason string)
}

var stepCollector StepDataCollector

func InitDataCollector(config DataCollectorConfig) error {
	switch config.CollectorType {
	case LOG_FILE_DATA_COLLECTOR:
		c, err := NewLogFileDataCollector(config.FileName)
		if err != nil {
			return err
		}
		stepCollector = c
	}
	return nil
}

func RecordStepSuccess(flowId string, conversationId string, versionId string, state string, event string, completed bool) {
	if stepCollector == nil {
		return
	}
	stepCollector.RecordStepSuccess(flowId, conversationId, versionId, state, event, completed)
}

func RecordStepFailure(flowId string, conversationId string, versionId string, event string, reason string) {
	if stepCollector == nil {
		return
	}
	stepCollector.RecordStepFailure(flowId, conversationId, versionId, event, reason)
}
