package model

type EventRequest struct {
	ConversationId string         `json:"conversationId"`
	FlowId         string         `json:"flowId"`
	Channel        string         `json:"channel"`
	Event          string         `json:"event"`
	Data           map[string]any `json:"data,omitempty"`
}

type VersionWeightRequest struct {
	StableId      string `json:"stableId"`
	CanaryId      string `json:"canaryId"`
	CanaryPercent int    `json:"canaryPercent"`
}
