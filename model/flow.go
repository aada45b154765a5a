package model

type StateType string

const STATE_TYPE_ACTION StateType = "action"
const STATE_TYPE_DECISION StateType = "decision"

// DEFAULT_SUCCESS_EVENT is raised by an action that completes without
// declaring its own event.
const DEFAULT_SUCCESS_EVENT string = "success"

// TIMEOUT_EVENT is the synthetic event an external scheduler posts when a
// state's timeout elapses. The engine treats it like any inbound event.
const TIMEOUT_EVENT string = "timeout"

type FlowDefinition struct {
	Id            string               `json:"id" yaml:"id"`
	Name          string               `json:"name" yaml:"name"`
	Version       string               `json:"version" yaml:"version"`
	InitialState  string               `json:"initialState" yaml:"initialState"`
	FinalStates   []string             `json:"finalStates" yaml:"finalStates"`
	ContextSchema string               `json:"contextSchema" yaml:"contextSchema"`
	Enabled       bool                 `json:"enabled" yaml:"enabled"`
	States        map[string]FlowState `json:"states" yaml:"states"`
}

func (fd *FlowDefinition) IsFinalState(name string) bool {
	for _, s := range fd.FinalStates {
		if s == name {
			return true
		}
	}
	return false
}

type FlowState struct {
	Type           StateType         `json:"type" yaml:"type"`
	OnEntry        []FlowAction      `json:"onEntry" yaml:"onEntry"`
	OnExit         []FlowAction      `json:"onExit" yaml:"onExit"`
	Transitions    map[string]string `json:"transitions" yaml:"transitions"`
	Conditions     []FlowCondition   `json:"conditions" yaml:"conditions"`
	TimeoutSeconds int               `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

type FlowAction struct {
	Executor       string         `json:"executor" yaml:"executor"`
	Config         map[string]any `json:"config" yaml:"config"`
	Output         string         `json:"output" yaml:"output"`
	Event          string         `json:"event" yaml:"event"`
	RetryCount     int            `json:"retryCount" yaml:"retryCount"`
	TimeoutSeconds int            `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	OnError        string         `json:"onError" yaml:"onError"`
}

type FlowCondition struct {
	Expression string `json:"expression" yaml:"expression"`
	Event      string `json:"event" yaml:"event"`
}
