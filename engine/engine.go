package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Jeffail/gabs/v2"
	"github.com/parley-labs/parley/analytics"
	"github.com/parley-labs/parley/channel"
	"github.com/parley-labs/parley/executor"
	"github.com/parley-labs/parley/logger"
	"github.com/parley-labs/parley/metrics"
	"github.com/parley-labs/parley/model"
	"github.com/parley-labs/parley/persistence"
	"github.com/parley-labs/parley/util"
	"github.com/parley-labs/parley/validator"
	"github.com/parley-labs/parley/version"
	"go.uber.org/zap"
)

// StepResult is the outcome of one executed step.
type StepResult struct {
	ConversationId string            `json:"conversationId"`
	FlowId         string            `json:"flowId"`
	VersionId      string            `json:"versionId,omitempty"`
	State          string            `json:"state"`
	Completed      bool              `json:"completed"`
	Held           bool              `json:"held"`
	Response       *model.Response   `json:"response,omitempty"`
	Rendering      channel.Rendering `json:"rendering"`
}

type FlowEngine struct {
	store          persistence.SessionStore
	definitions    persistence.DefinitionStorage
	versions       *version.Manager
	contextCheck   *validator.ContextValidator
	actionExecutor executor.ActionExecutor
	adapter        *channel.Adapter
	collector      *metrics.Collector
	locks          *util.KeyedLock
	maxTransitions int
}

func New(
	store persistence.SessionStore,
	definitions persistence.DefinitionStorage,
	versions *version.Manager,
	contextCheck *validator.ContextValidator,
	actionExecutor executor.ActionExecutor,
	adapter *channel.Adapter,
	collector *metrics.Collector,
	lockStripes int,
	maxTransitions int,
) *FlowEngine {
	if maxTransitions <= 0 {
		maxTransitions = 25
	}
	return &FlowEngine{
		store:          store,
		definitions:    definitions,
		versions:       versions,
		contextCheck:   contextCheck,
		actionExecutor: actionExecutor,
		adapter:        adapter,
		collector:      collector,
		locks:          util.NewKeyedLock(lockStripes),
		maxTransitions: maxTransitions,
	}
}

// HandleEvent executes exactly one step for an inbound event. The new state
// is computed fully in memory and persisted only on success, so a failed step
// leaves the stored session at its pre-step value and the same event can be
// retried safely. Steps for one conversation are serialized; different
// conversations run in parallel.
func (fe *FlowEngine) HandleEvent(ctx context.Context, req model.EventRequest) (*StepResult, error) {
	fe.locks.Lock(req.ConversationId)
	defer fe.locks.Unlock(req.ConversationId)

	started := time.Now()
	result, err := fe.step(ctx, req)
	if fe.collector != nil {
		fe.collector.StepDuration.WithLabelValues(req.FlowId).Observe(time.Since(started).Seconds())
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		fe.collector.StepsTotal.WithLabelValues(req.FlowId, outcome).Inc()
	}
	if err != nil {
		logger.Error("step failed", zap.String("conversation", req.ConversationId),
			zap.String("flow", req.FlowId), zap.String("event", req.Event), zap.Error(err))
		versionId := ""
		if result != nil {
			versionId = result.VersionId
		}
		analytics.RecordStepFailure(req.FlowId, req.ConversationId, versionId, req.Event, err.Error())
		// the user never sees the raw failure
		degraded := model.Response{Text: "Something went wrong, please try again."}
		return &StepResult{
			ConversationId: req.ConversationId,
			FlowId:         req.FlowId,
			Response:       &degraded,
			Rendering:      fe.adapter.Adapt(degraded, req.Channel),
		}, err
	}
	analytics.RecordStepSuccess(req.FlowId, req.ConversationId, result.VersionId, result.State, req.Event, result.Completed)
	return result, nil
}

func (fe *FlowEngine) step(ctx context.Context, req model.EventRequest) (*StepResult, error) {
	stored, err := fe.store.Load(ctx, req.ConversationId)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		stored = model.NewSession(req.ConversationId)
	}
	session, err := cloneSession(stored)
	if err != nil {
		return nil, err
	}

	versionId := ""
	definitionId := req.FlowId
	if assigned := session.Versions[req.FlowId]; assigned != "" {
		if cfg := fe.versions.GetVersion(assigned); cfg != nil && cfg.Enabled {
			versionId = assigned
			definitionId = assigned
		}
	}
	if versionId == "" {
		if selected := fe.versions.SelectVersion(req.FlowId, req.ConversationId); selected != nil {
			versionId = selected.VersionId
			definitionId = selected.VersionId
		}
	}
	if versionId != "" {
		session.Versions[req.FlowId] = versionId
	}
	def, err := fe.definitions.GetDefinition(definitionId)
	if err != nil {
		return nil, fmt.Errorf("flow %s: %w", req.FlowId, err)
	}
	if !def.Enabled {
		return nil, fmt.Errorf("flow %s is disabled", req.FlowId)
	}

	fe.mergeEventData(def, session, req)

	run := &stepRun{engine: fe, def: def, flowId: req.FlowId, session: session}
	newConversation := session.States[req.FlowId] == ""
	if newConversation {
		session.States[req.FlowId] = def.InitialState
		if err := run.enter(ctx, def.InitialState); err != nil {
			fe.recordError(versionId)
			return nil, err
		}
	}

	if err := run.follow(ctx, req.Event); err != nil {
		fe.recordError(versionId)
		return nil, err
	}

	current := session.States[req.FlowId]
	completed := def.IsFinalState(current)

	response := run.combinedResponse()
	if text, ok := req.Data["text"].(string); ok && text != "" {
		session.AppendHistory("user", text)
	}
	if response != nil && response.Text != "" {
		session.AppendHistory("assistant", response.Text)
	}

	if err := fe.store.Save(ctx, req.ConversationId, session); err != nil {
		fe.recordError(versionId)
		return nil, err
	}

	// counters only move once the step outcome is on disk, so a failed or
	// retried first step never inflates the start count
	if newConversation && versionId != "" {
		if err := fe.versions.RecordStart(versionId); err != nil {
			logger.Warn("record start failed", zap.String("version", versionId), zap.Error(err))
		}
	}
	if completed && versionId != "" {
		durationMs := time.Since(session.CreatedAt).Milliseconds()
		if err := fe.versions.RecordCompletion(versionId, durationMs); err != nil {
			logger.Warn("record completion failed", zap.String("version", versionId), zap.Error(err))
		}
	}

	result := &StepResult{
		ConversationId: req.ConversationId,
		FlowId:         req.FlowId,
		VersionId:      versionId,
		State:          current,
		Completed:      completed,
		Held:           run.held,
	}
	if response != nil {
		result.Response = response
		result.Rendering = fe.adapter.Adapt(*response, req.Channel)
		if err := fe.enqueueRendering(ctx, req.ConversationId, result.Rendering); err != nil {
			logger.Warn("enqueue outbound message failed", zap.String("conversation", req.ConversationId), zap.Error(err))
		}
	} else {
		result.Rendering = fe.adapter.Adapt(model.Response{}, req.Channel)
	}
	return result, nil
}

// mergeEventData folds the inbound payload into working data, validated and
// sanitized against the definition's schema. Validation problems are logged
// and execution proceeds with best-effort data; blocking a live conversation
// on a schema mismatch is worse than partial data.
func (fe *FlowEngine) mergeEventData(def *model.FlowDefinition, session *model.Session, req model.EventRequest) {
	for k, v := range req.Data {
		session.Data[k] = v
	}
	if def.ContextSchema == "" || fe.contextCheck == nil {
		return
	}
	res := fe.contextCheck.Validate(def.ContextSchema, session.Data, validator.Options{Sanitize: true})
	if !res.Valid {
		logger.Warn("context validation failed, proceeding with sanitized data",
			zap.String("conversation", req.ConversationId), zap.Strings("errors", res.Errors))
	}
	if res.SanitizedData != nil {
		session.Data = res.SanitizedData
	}
}

func (fe *FlowEngine) recordError(versionId string) {
	if versionId == "" {
		return
	}
	if err := fe.versions.RecordError(versionId); err != nil {
		logger.Warn("record error failed", zap.String("version", versionId), zap.Error(err))
	}
}

func (fe *FlowEngine) enqueueRendering(ctx context.Context, conversationId string, rendering channel.Rendering) error {
	raw, err := json.Marshal(rendering)
	if err != nil {
		return err
	}
	payload := make(map[string]any)
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	return fe.store.EnqueueMessage(ctx, conversationId, payload)
}

func cloneSession(s *model.Session) (*model.Session, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var out model.Session
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out.States == nil {
		out.States = make(map[string]string)
	}
	if out.Data == nil {
		out.Data = make(map[string]any)
	}
	if out.Versions == nil {
		out.Versions = make(map[string]string)
	}
	return &out, nil
}

// stepRun accumulates the in-memory effects of one step.
type stepRun struct {
	engine  *FlowEngine
	def     *model.FlowDefinition
	flowId  string
	session *model.Session
	replies []model.Response
	held    bool
}

// follow resolves events against the current state's transition map until the
// conversation parks: an unmapped event holds the state awaiting more input.
func (sr *stepRun) follow(ctx context.Context, event string) error {
	inbound := true
	for hop := 0; event != ""; hop++ {
		if hop >= sr.engine.maxTransitions {
			return fmt.Errorf("flow %s exceeded %d transitions in one step", sr.def.Id, sr.engine.maxTransitions)
		}
		current := sr.session.States[sr.flowId]
		if sr.def.IsFinalState(current) {
			return nil
		}
		state := sr.def.States[current]
		next, ok := state.Transitions[event]
		if !ok {
			if inbound {
				sr.held = true
				if sr.engine.collector != nil {
					sr.engine.collector.UnmappedEvents.WithLabelValues(sr.def.Id, current).Inc()
				}
				logger.Debug("no transition for event, holding state",
					zap.String("flow", sr.def.Id), zap.String("state", current), zap.String("event", event))
			}
			return nil
		}
		inbound = false
		if err := sr.runActions(ctx, state.OnExit); err != nil {
			return err
		}
		sr.session.States[sr.flowId] = next
		produced, err := sr.enterAndResolve(ctx, next)
		if err != nil {
			return err
		}
		event = produced
	}
	return nil
}

// enter runs a state's entry actions and, for a freshly started conversation,
// cascades any produced event.
func (sr *stepRun) enter(ctx context.Context, name string) error {
	produced, err := sr.enterAndResolve(ctx, name)
	if err != nil {
		return err
	}
	if produced != "" {
		return sr.follow(ctx, produced)
	}
	return nil
}

// enterAndResolve runs entry actions in declared order, then evaluates
// decision conditions. It returns the event the state produced, if any.
func (sr *stepRun) enterAndResolve(ctx context.Context, name string) (string, error) {
	state, ok := sr.def.States[name]
	if !ok {
		return "", fmt.Errorf("state %q not defined in flow %s", name, sr.def.Id)
	}
	produced := ""
	for _, action := range state.OnEntry {
		event, err := sr.runAction(ctx, action)
		if err != nil {
			return "", err
		}
		if event != "" {
			produced = event
		}
	}
	if sr.def.IsFinalState(name) {
		// terminal states have no outgoing transitions
		return "", nil
	}
	if state.Type == model.STATE_TYPE_DECISION {
		event, err := evaluateConditions(state.Conditions, sr.session.Data)
		if err != nil {
			return "", err
		}
		if event != "" {
			produced = event
		}
	}
	// only events with a mapping move the machine; everything else parks
	if _, ok := state.Transitions[produced]; !ok {
		return "", nil
	}
	return produced, nil
}

func (sr *stepRun) runActions(ctx context.Context, actions []model.FlowAction) error {
	for _, action := range actions {
		if _, err := sr.runAction(ctx, action); err != nil {
			return err
		}
	}
	return nil
}

// runAction invokes the executor with retries, binds the output, and returns
// the event the action raised. An exhausted action with an onError transition
// raises that event instead of failing the step.
func (sr *stepRun) runAction(ctx context.Context, action model.FlowAction) (string, error) {
	var result *executor.Result
	var err error
	attempts := action.RetryCount + 1
	for attempt := 0; attempt < attempts; attempt++ {
		result, err = sr.invoke(ctx, action)
		if err == nil {
			break
		}
		logger.Debug("action attempt failed", zap.String("executor", action.Executor),
			zap.Int("attempt", attempt+1), zap.Error(err))
	}
	if err != nil {
		if sr.engine.collector != nil {
			sr.engine.collector.ActionFailures.WithLabelValues(action.Executor).Inc()
		}
		if action.OnError != "" {
			return action.OnError, nil
		}
		return "", fmt.Errorf("action %s failed: %w", action.Executor, err)
	}

	if result.Output != nil {
		if action.Output != "" {
			if _, err := gabs.Wrap(sr.session.Data).SetP(result.Output, action.Output); err != nil {
				return "", err
			}
		} else {
			for k, v := range result.Output {
				sr.session.Data[k] = v
			}
		}
	}
	if result.Reply != nil {
		sr.replies = append(sr.replies, *result.Reply)
	}

	event := action.Event
	if event == "" {
		event = result.Event
	}
	if event == "" {
		event = model.DEFAULT_SUCCESS_EVENT
	}
	return event, nil
}

func (sr *stepRun) invoke(ctx context.Context, action model.FlowAction) (*executor.Result, error) {
	runCtx := ctx
	if action.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(action.TimeoutSeconds)*time.Second)
		defer cancel()
	}
	return sr.engine.actionExecutor.Run(runCtx, action.Executor, action.Config, sr.session.Data)
}

// combinedResponse folds all replies produced during the step into one
// channel-neutral response.
func (sr *stepRun) combinedResponse() *model.Response {
	if len(sr.replies) == 0 {
		return nil
	}
	combined := model.Response{}
	for _, reply := range sr.replies {
		if reply.Text != "" {
			if combined.Text != "" {
				combined.Text += "\n"
			}
			combined.Text += reply.Text
		}
		combined.Buttons = append(combined.Buttons, reply.Buttons...)
		combined.Cards = append(combined.Cards, reply.Cards...)
		combined.List = append(combined.List, reply.List...)
		if combined.Media == nil {
			combined.Media = reply.Media
		}
		if reply.RequestLocation {
			combined.RequestLocation = true
		}
	}
	return &combined
}
