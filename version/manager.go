package version

import (
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/parley-labs/parley/logger"
	"github.com/parley-labs/parley/metrics"
	"github.com/parley-labs/parley/model"
	c "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

var ErrVersionNotFound = errors.New("flow version not found")
var ErrTestNotFound = errors.New("ab test not found")

type versionEntry struct {
	config          model.FlowVersionConfig
	starts          int64
	completions     int64
	errors          int64
	totalDurationMs int64
}

func (e *versionEntry) result() model.VersionResult {
	res := model.VersionResult{SampleSize: e.starts}
	if e.starts > 0 {
		res.CompletionRate = float64(e.completions) / float64(e.starts)
		res.ErrorRate = float64(e.errors) / float64(e.starts)
	}
	if e.completions > 0 {
		res.AvgDurationMs = float64(e.totalDurationMs) / float64(e.completions)
	}
	return res
}

// Manager decides which definition variant a conversation runs and tracks
// per-variant outcomes. It is the only mutation point for rollout weights.
type Manager struct {
	mu            sync.RWMutex
	flows         map[string]map[string]*versionEntry
	order         map[string][]string
	byVersion     map[string]*versionEntry
	tests         map[string]*model.ABTestConfig
	assignments   *c.Cache
	rnd           *rand.Rand
	minSampleSize int
	collector     *metrics.Collector
}

func NewManager(minSampleSize int, collector *metrics.Collector) *Manager {
	return &Manager{
		flows:         make(map[string]map[string]*versionEntry),
		order:         make(map[string][]string),
		byVersion:     make(map[string]*versionEntry),
		tests:         make(map[string]*model.ABTestConfig),
		assignments:   c.New(24*time.Hour, 10*time.Minute),
		rnd:           rand.New(rand.NewSource(time.Now().UnixNano())),
		minSampleSize: minSampleSize,
		collector:     collector,
	}
}

// RegisterVersion inserts or overwrites a version within its flow's version
// group. Overwriting resets the metric counters.
func (m *Manager) RegisterVersion(flowId string, cfg model.FlowVersionConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerLocked(flowId, cfg)
}

func (m *Manager) registerLocked(flowId string, cfg model.FlowVersionConfig) {
	cfg.FlowId = flowId
	group, ok := m.flows[flowId]
	if !ok {
		group = make(map[string]*versionEntry)
		m.flows[flowId] = group
	}
	if _, exists := group[cfg.VersionId]; !exists {
		m.order[flowId] = append(m.order[flowId], cfg.VersionId)
	}
	entry := &versionEntry{config: cfg}
	group[cfg.VersionId] = entry
	m.byVersion[cfg.VersionId] = entry
}

// SelectVersion returns the sticky assignment for the pair when it exists and
// is still enabled; otherwise it performs weighted random selection over the
// enabled versions and records the choice. Returns nil when nothing is
// enabled.
func (m *Manager) SelectVersion(flowId string, conversationId string) *model.FlowVersionConfig {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := assignmentKey(flowId, conversationId)
	if assigned, ok := m.assignments.Get(key); ok {
		if entry, ok := m.flows[flowId][assigned.(string)]; ok && entry.config.Enabled {
			cfg := entry.config
			return &cfg
		}
	}

	var enabled []*versionEntry
	total := 0
	for _, versionId := range m.order[flowId] {
		entry := m.flows[flowId][versionId]
		if entry.config.Enabled {
			enabled = append(enabled, entry)
			total += entry.config.Weight
		}
	}
	if len(enabled) == 0 {
		return nil
	}

	chosen := enabled[0]
	if total > 0 && len(enabled) > 1 {
		roll := m.rnd.Intn(total)
		acc := 0
		for _, entry := range enabled {
			acc += entry.config.Weight
			if roll < acc {
				chosen = entry
				break
			}
		}
	}
	m.assignments.SetDefault(key, chosen.config.VersionId)
	cfg := chosen.config
	return &cfg
}

func assignmentKey(flowId string, conversationId string) string {
	return flowId + ":" + conversationId
}

// GetVersion returns the configuration of a registered version, or nil when
// the version id is unknown. Callers holding a durable assignment use it to
// decide whether the assigned variant is still serviceable.
func (m *Manager) GetVersion(versionId string) *model.FlowVersionConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.byVersion[versionId]
	if !ok {
		return nil
	}
	cfg := entry.config
	return &cfg
}

func (m *Manager) RecordStart(versionId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.byVersion[versionId]
	if !ok {
		return ErrVersionNotFound
	}
	entry.starts++
	if m.collector != nil {
		m.collector.VersionStarts.WithLabelValues(versionId).Inc()
	}
	return nil
}

func (m *Manager) RecordCompletion(versionId string, durationMs int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.byVersion[versionId]
	if !ok {
		return ErrVersionNotFound
	}
	entry.completions++
	entry.totalDurationMs += durationMs
	if m.collector != nil {
		m.collector.VersionDone.WithLabelValues(versionId).Inc()
	}
	return nil
}

func (m *Manager) RecordError(versionId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.byVersion[versionId]
	if !ok {
		return ErrVersionNotFound
	}
	entry.errors++
	if m.collector != nil {
		m.collector.VersionErrors.WithLabelValues(versionId).Inc()
	}
	return nil
}

func (m *Manager) Stats(versionId string) (model.VersionResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.byVersion[versionId]
	if !ok {
		return model.VersionResult{}, ErrVersionNotFound
	}
	return entry.result(), nil
}

func (m *Manager) ListVersions(flowId string) []model.FlowVersionConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.FlowVersionConfig, 0, len(m.order[flowId]))
	for _, versionId := range m.order[flowId] {
		out = append(out, m.flows[flowId][versionId].config)
	}
	return out
}

// CreateTest registers the test and its arms. Arms stay disabled until
// StartTest so a drafted experiment takes no traffic.
func (m *Manager) CreateTest(cfg model.ABTestConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg.MinSampleSize <= 0 {
		cfg.MinSampleSize = m.minSampleSize
	}
	cfg.Status = model.AB_TEST_DRAFT
	for i := range cfg.Versions {
		arm := cfg.Versions[i]
		arm.Enabled = false
		if arm.Status == "" {
			arm.Status = model.ROLLOUT_TESTING
		}
		m.registerLocked(cfg.FlowId, arm)
	}
	m.tests[cfg.TestId] = &cfg
	return nil
}

func (m *Manager) StartTest(testId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	test, ok := m.tests[testId]
	if !ok {
		return ErrTestNotFound
	}
	now := time.Now()
	test.StartTime = &now
	test.Status = model.AB_TEST_RUNNING
	for _, arm := range test.Versions {
		if entry, ok := m.flows[test.FlowId][arm.VersionId]; ok {
			entry.config.Enabled = true
		}
	}
	logger.Info("ab test started", zap.String("test", testId), zap.String("flow", test.FlowId))
	return nil
}

// StopTest stamps the end time, snapshots per-arm results, and declares a
// winner among arms that reached the minimum sample size.
func (m *Manager) StopTest(testId string, status model.ABTestStatus) (*model.ABTestResults, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	test, ok := m.tests[testId]
	if !ok {
		return nil, ErrTestNotFound
	}
	now := time.Now()
	test.EndTime = &now
	test.Status = status

	results := &model.ABTestResults{Versions: make(map[string]model.VersionResult)}
	bestRate := -1.0
	for _, arm := range test.Versions {
		entry, ok := m.flows[test.FlowId][arm.VersionId]
		if !ok {
			continue
		}
		res := entry.result()
		results.Versions[arm.VersionId] = res
		if res.SampleSize >= int64(test.MinSampleSize) && res.CompletionRate > bestRate {
			bestRate = res.CompletionRate
			results.Winner = arm.VersionId
		}
	}
	test.Results = results
	logger.Info("ab test stopped", zap.String("test", testId), zap.String("winner", results.Winner))
	return results, nil
}

func (m *Manager) GetTest(testId string) (*model.ABTestConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	test, ok := m.tests[testId]
	if !ok {
		return nil, ErrTestNotFound
	}
	cp := *test
	return &cp, nil
}

// PromoteVersion routes all new traffic to the winner and deprecates its
// siblings. Sticky assignments for the flow are invalidated so fresh
// conversations re-roll; in-flight ones keep their variant through the
// enabled check in SelectVersion.
func (m *Manager) PromoteVersion(flowId string, winnerId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	group, ok := m.flows[flowId]
	if !ok {
		return ErrVersionNotFound
	}
	winner, ok := group[winnerId]
	if !ok {
		return ErrVersionNotFound
	}
	for versionId, entry := range group {
		if versionId == winnerId {
			continue
		}
		entry.config.Weight = 0
		entry.config.Enabled = false
		entry.config.Status = model.ROLLOUT_DEPRECATED
	}
	winner.config.Weight = 100
	winner.config.Enabled = true
	winner.config.Status = model.ROLLOUT_STABLE

	prefix := flowId + ":"
	for key := range m.assignments.Items() {
		if strings.HasPrefix(key, prefix) {
			m.assignments.Delete(key)
		}
	}
	logger.Info("version promoted", zap.String("flow", flowId), zap.String("version", winnerId))
	return nil
}

// SetCanaryWeights is the two-arm canary shorthand: complementary weights and
// rollout labels in one call.
func (m *Manager) SetCanaryWeights(flowId string, stableId string, canaryId string, canaryPercent int) error {
	if canaryPercent < 0 || canaryPercent > 100 {
		return errors.New("canary percent must be within 0-100")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	group, ok := m.flows[flowId]
	if !ok {
		return ErrVersionNotFound
	}
	stable, ok := group[stableId]
	if !ok {
		return ErrVersionNotFound
	}
	canary, ok := group[canaryId]
	if !ok {
		return ErrVersionNotFound
	}
	stable.config.Weight = 100 - canaryPercent
	stable.config.Enabled = true
	stable.config.Status = model.ROLLOUT_STABLE
	canary.config.Weight = canaryPercent
	canary.config.Enabled = canaryPercent > 0
	canary.config.Status = model.ROLLOUT_CANARY
	return nil
}
