package model

import "time"

type RolloutStatus string

const ROLLOUT_STABLE RolloutStatus = "stable"
const ROLLOUT_CANARY RolloutStatus = "canary"
const ROLLOUT_TESTING RolloutStatus = "testing"
const ROLLOUT_DEPRECATED RolloutStatus = "deprecated"

type FlowVersionConfig struct {
	VersionId string            `json:"versionId"`
	FlowId    string            `json:"flowId"`
	Weight    int               `json:"weight"`
	Enabled   bool              `json:"enabled"`
	Status    RolloutStatus     `json:"status"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type ABTestStatus string

const AB_TEST_DRAFT ABTestStatus = "draft"
const AB_TEST_RUNNING ABTestStatus = "running"
const AB_TEST_PAUSED ABTestStatus = "paused"
const AB_TEST_COMPLETED ABTestStatus = "completed"
const AB_TEST_CANCELLED ABTestStatus = "cancelled"

type ABTestConfig struct {
	TestId          string              `json:"testId"`
	FlowId          string              `json:"flowId"`
	Versions        []FlowVersionConfig `json:"versions"`
	StartTime       *time.Time          `json:"startTime,omitempty"`
	EndTime         *time.Time          `json:"endTime,omitempty"`
	PrimaryMetric   string              `json:"primaryMetric"`
	SecondaryMetric string              `json:"secondaryMetric,omitempty"`
	MinSampleSize   int                 `json:"minSampleSize,omitempty"`
	Status          ABTestStatus        `json:"status"`
	Results         *ABTestResults      `json:"results,omitempty"`
}

type VersionResult struct {
	SampleSize     int64   `json:"sampleSize"`
	CompletionRate float64 `json:"completionRate"`
	ErrorRate      float64 `json:"errorRate"`
	AvgDurationMs  float64 `json:"avgDurationMs"`
}

type ABTestResults struct {
	Versions map[string]VersionResult `json:"versions"`
	Winner   string                   `json:"winner,omitempty"`
}
