package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/parley-labs/parley/channel"
	"github.com/parley-labs/parley/executor"
	"github.com/parley-labs/parley/metrics"
	"github.com/parley-labs/parley/model"
	"github.com/parley-labs/parley/persistence"
	"github.com/parley-labs/parley/persistence/redis"
	"github.com/parley-labs/parley/validator"
	"github.com/parley-labs/parley/version"
	"github.com/stretchr/testify/require"
)

type testRig struct {
	engine   *FlowEngine
	store    persistence.SessionStore
	defs     persistence.DefinitionStorage
	versions *version.Manager
	registry *executor.Registry
	check    *validator.ContextValidator
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	mr := miniredis.RunT(t)
	conf := redis.Config{Addrs: []string{mr.Addr()}, Namespace: "test"}
	store := redis.NewRedisSessionStore(conf, 30*time.Minute, 5*time.Minute, time.Second)
	defs := redis.NewRedisDefinitionStorage(conf)
	collector := metrics.NewCollector("test")
	versions := version.NewManager(5, collector)
	registry := executor.NewRegistry()
	registry.Register("greet", func(ctx context.Context, config map[string]any, workingData map[string]any) (*executor.Result, error) {
		return &executor.Result{Reply: &model.Response{Text: "Welcome! What is your address?"}}, nil
	})
	registry.Register("farewell", func(ctx context.Context, config map[string]any, workingData map[string]any) (*executor.Result, error) {
		return &executor.Result{Reply: &model.Response{Text: "All set, thanks!"}}, nil
	})
	registry.Register("noop", func(ctx context.Context, config map[string]any, workingData map[string]any) (*executor.Result, error) {
		return &executor.Result{}, nil
	})
	check := validator.New()
	rig := &testRig{
		store:    store,
		defs:     defs,
		versions: versions,
		registry: registry,
		check:    check,
	}
	rig.engine = New(store, defs, versions, check, registry, channel.NewAdapter(), collector, 8, 10)
	return rig
}

func orderDefinition(id string) model.FlowDefinition {
	return model.FlowDefinition{
		Id:           id,
		Name:         "order",
		Version:      "v1",
		InitialState: "start",
		FinalStates:  []string{"done"},
		Enabled:      true,
		States: map[string]model.FlowState{
			"start": {
				Type:        model.STATE_TYPE_ACTION,
				OnEntry:     []model.FlowAction{{Executor: "greet"}},
				Transitions: map[string]string{"begin": "collect"},
			},
			"collect": {
				Type: model.STATE_TYPE_DECISION,
				Conditions: []model.FlowCondition{
					{Expression: "address != nil", Event: "has_address"},
				},
				Transitions: map[string]string{
					"provide_address": "collect",
					"has_address":     "done",
				},
			},
			"done": {
				Type:    model.STATE_TYPE_ACTION,
				OnEntry: []model.FlowAction{{Executor: "farewell"}},
			},
		},
	}
}

func TestHandleEventLifecycle(t *testing.T) {
	rig := newTestRig(t)
	require.NoError(t, rig.defs.SaveDefinition(orderDefinition("order")))
	ctx := context.Background()

	res, err := rig.engine.HandleEvent(ctx, model.EventRequest{
		ConversationId: "c1", FlowId: "order", Channel: "web", Event: "begin",
		Data: map[string]any{"text": "hi"},
	})
	require.NoError(t, err)
	require.Equal(t, "collect", res.State)
	require.False(t, res.Completed)
	require.False(t, res.Held)
	require.NotNil(t, res.Response)
	require.Equal(t, "Welcome! What is your address?", res.Response.Text)

	sess, err := rig.store.Load(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.Equal(t, "collect", sess.States["order"])

	msgs, err := rig.store.PeekMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "Welcome! What is your address?", msgs[0].Payload["text"])

	res, err = rig.engine.HandleEvent(ctx, model.EventRequest{
		ConversationId: "c1", FlowId: "order", Channel: "web", Event: "provide_address",
		Data: map[string]any{"address": "12 Main St", "text": "12 Main St"},
	})
	require.NoError(t, err)
	require.True(t, res.Completed)
	require.Equal(t, "done", res.State)
	require.Equal(t, "All set, thanks!", res.Response.Text)

	sess, err = rig.store.Load(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "done", sess.States["order"])
	require.Equal(t, "12 Main St", sess.Data["address"])
	require.Len(t, sess.History, 4)
}

func TestHoldOnUnmappedEvent(t *testing.T) {
	rig := newTestRig(t)
	require.NoError(t, rig.defs.SaveDefinition(orderDefinition("order")))
	ctx := context.Background()

	_, err := rig.engine.HandleEvent(ctx, model.EventRequest{
		ConversationId: "c1", FlowId: "order", Channel: "web", Event: "begin",
	})
	require.NoError(t, err)

	res, err := rig.engine.HandleEvent(ctx, model.EventRequest{
		ConversationId: "c1", FlowId: "order", Channel: "web", Event: "cancel_everything",
	})
	require.NoError(t, err)
	require.True(t, res.Held)
	require.Equal(t, "collect", res.State)

	sess, err := rig.store.Load(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "collect", sess.States["order"])
}

func TestActionRetrySucceeds(t *testing.T) {
	rig := newTestRig(t)
	calls := 0
	rig.registry.Register("flaky", func(ctx context.Context, config map[string]any, workingData map[string]any) (*executor.Result, error) {
		calls++
		if calls < 2 {
			return nil, errors.New("transient")
		}
		return &executor.Result{Output: map[string]any{"fetched": true}}, nil
	})
	def := orderDefinition("order")
	state := def.States["start"]
	state.OnEntry = []model.FlowAction{{Executor: "flaky", RetryCount: 2}}
	def.States["start"] = state
	require.NoError(t, rig.defs.SaveDefinition(def))

	res, err := rig.engine.HandleEvent(context.Background(), model.EventRequest{
		ConversationId: "c1", FlowId: "order", Channel: "web", Event: "begin",
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.Equal(t, "collect", res.State)

	sess, err := rig.store.Load(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, true, sess.Data["fetched"])
}

func TestActionOnErrorTransition(t *testing.T) {
	rig := newTestRig(t)
	rig.registry.Register("broken", func(ctx context.Context, config map[string]any, workingData map[string]any) (*executor.Result, error) {
		return nil, errors.New("boom")
	})
	def := model.FlowDefinition{
		Id: "pay", Name: "pay", Version: "v1", InitialState: "charge",
		FinalStates: []string{"ok", "sorry"}, Enabled: true,
		States: map[string]model.FlowState{
			"charge": {
				Type:    model.STATE_TYPE_ACTION,
				OnEntry: []model.FlowAction{{Executor: "broken", OnError: "failed"}},
				Transitions: map[string]string{
					"success": "ok",
					"failed":  "sorry",
				},
			},
			"ok":    {Type: model.STATE_TYPE_ACTION},
			"sorry": {Type: model.STATE_TYPE_ACTION, OnEntry: []model.FlowAction{{Executor: "farewell"}}},
		},
	}
	require.NoError(t, rig.defs.SaveDefinition(def))

	res, err := rig.engine.HandleEvent(context.Background(), model.EventRequest{
		ConversationId: "c1", FlowId: "pay", Channel: "web", Event: "ignored",
	})
	require.NoError(t, err)
	require.Equal(t, "sorry", res.State)
	require.True(t, res.Completed)
}

func TestStepFailureLeavesSessionUntouched(t *testing.T) {
	rig := newTestRig(t)
	rig.registry.Register("broken", func(ctx context.Context, config map[string]any, workingData map[string]any) (*executor.Result, error) {
		return nil, errors.New("boom")
	})
	def := orderDefinition("order")
	def.States["explode"] = model.FlowState{
		Type:    model.STATE_TYPE_ACTION,
		OnEntry: []model.FlowAction{{Executor: "broken"}},
	}
	collect := def.States["collect"]
	collect.Transitions["blow_up"] = "explode"
	def.States["collect"] = collect
	require.NoError(t, rig.defs.SaveDefinition(def))
	ctx := context.Background()

	_, err := rig.engine.HandleEvent(ctx, model.EventRequest{
		ConversationId: "c1", FlowId: "order", Channel: "web", Event: "begin",
	})
	require.NoError(t, err)

	res, err := rig.engine.HandleEvent(ctx, model.EventRequest{
		ConversationId: "c1", FlowId: "order", Channel: "web", Event: "blow_up",
		Data: map[string]any{"poison": true},
	})
	require.Error(t, err)
	require.NotNil(t, res)
	require.Equal(t, "Something went wrong, please try again.", res.Response.Text)
	require.NotEmpty(t, res.Rendering.Text)

	sess, err := rig.store.Load(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "collect", sess.States["order"])
	require.NotContains(t, sess.Data, "poison")
}

func TestOutputBindingPath(t *testing.T) {
	rig := newTestRig(t)
	rig.registry.Register("quote", func(ctx context.Context, config map[string]any, workingData map[string]any) (*executor.Result, error) {
		return &executor.Result{Output: map[string]any{"total": 12.5, "eta": 30}}, nil
	})
	def := orderDefinition("order")
	state := def.States["start"]
	state.OnEntry = []model.FlowAction{{Executor: "quote", Output: "order.quote"}}
	def.States["start"] = state
	require.NoError(t, rig.defs.SaveDefinition(def))

	_, err := rig.engine.HandleEvent(context.Background(), model.EventRequest{
		ConversationId: "c1", FlowId: "order", Channel: "web", Event: "begin",
	})
	require.NoError(t, err)

	sess, err := rig.store.Load(context.Background(), "c1")
	require.NoError(t, err)
	order, ok := sess.Data["order"].(map[string]any)
	require.True(t, ok)
	quote, ok := order["quote"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, 12.5, quote["total"])
}

func TestVersionedSelection(t *testing.T) {
	rig := newTestRig(t)
	require.NoError(t, rig.defs.SaveDefinition(orderDefinition("order-v2")))
	rig.versions.RegisterVersion("order", model.FlowVersionConfig{
		VersionId: "order-v2", FlowId: "order", Weight: 100, Enabled: true,
		Status: model.ROLLOUT_STABLE,
	})
	ctx := context.Background()

	res, err := rig.engine.HandleEvent(ctx, model.EventRequest{
		ConversationId: "c1", FlowId: "order", Channel: "web", Event: "begin",
	})
	require.NoError(t, err)
	require.Equal(t, "order-v2", res.VersionId)

	res, err = rig.engine.HandleEvent(ctx, model.EventRequest{
		ConversationId: "c1", FlowId: "order", Channel: "web", Event: "provide_address",
		Data: map[string]any{"address": "12 Main St"},
	})
	require.NoError(t, err)
	require.True(t, res.Completed)

	stats, err := rig.versions.Stats("order-v2")
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.SampleSize)
	require.Equal(t, 1.0, stats.CompletionRate)
}

func TestVersionAssignmentSurvivesRestart(t *testing.T) {
	rig := newTestRig(t)
	require.NoError(t, rig.defs.SaveDefinition(orderDefinition("order-v1")))
	require.NoError(t, rig.defs.SaveDefinition(orderDefinition("order-v2")))
	rig.versions.RegisterVersion("order", model.FlowVersionConfig{
		VersionId: "order-v2", FlowId: "order", Weight: 100, Enabled: true,
		Status: model.ROLLOUT_STABLE,
	})
	ctx := context.Background()

	res, err := rig.engine.HandleEvent(ctx, model.EventRequest{
		ConversationId: "c1", FlowId: "order", Channel: "web", Event: "begin",
	})
	require.NoError(t, err)
	require.Equal(t, "order-v2", res.VersionId)

	// a fresh process has an empty sticky cache and weights now favor v1, but
	// the mid-flight conversation stays on the variant recorded in its session
	restarted := version.NewManager(5, metrics.NewCollector("restart"))
	restarted.RegisterVersion("order", model.FlowVersionConfig{
		VersionId: "order-v1", FlowId: "order", Weight: 100, Enabled: true,
		Status: model.ROLLOUT_STABLE,
	})
	restarted.RegisterVersion("order", model.FlowVersionConfig{
		VersionId: "order-v2", FlowId: "order", Weight: 0, Enabled: true,
		Status: model.ROLLOUT_STABLE,
	})
	second := New(rig.store, rig.defs, restarted, rig.check, rig.registry,
		channel.NewAdapter(), metrics.NewCollector("restart"), 8, 10)

	res, err = second.HandleEvent(ctx, model.EventRequest{
		ConversationId: "c1", FlowId: "order", Channel: "web", Event: "provide_address",
		Data: map[string]any{"address": "12 Main St"},
	})
	require.NoError(t, err)
	require.Equal(t, "order-v2", res.VersionId)
	require.True(t, res.Completed)
}

func TestStartCountedAfterSuccessfulStep(t *testing.T) {
	rig := newTestRig(t)
	calls := 0
	rig.registry.Register("warmup", func(ctx context.Context, config map[string]any, workingData map[string]any) (*executor.Result, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("cold start")
		}
		return &executor.Result{Reply: &model.Response{Text: "Ready."}}, nil
	})
	def := orderDefinition("order-v2")
	state := def.States["start"]
	state.OnEntry = []model.FlowAction{{Executor: "warmup"}}
	def.States["start"] = state
	require.NoError(t, rig.defs.SaveDefinition(def))
	rig.versions.RegisterVersion("order", model.FlowVersionConfig{
		VersionId: "order-v2", FlowId: "order", Weight: 100, Enabled: true,
		Status: model.ROLLOUT_STABLE,
	})
	ctx := context.Background()

	_, err := rig.engine.HandleEvent(ctx, model.EventRequest{
		ConversationId: "c1", FlowId: "order", Channel: "web", Event: "begin",
	})
	require.Error(t, err)

	stats, err := rig.versions.Stats("order-v2")
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.SampleSize)

	res, err := rig.engine.HandleEvent(ctx, model.EventRequest{
		ConversationId: "c1", FlowId: "order", Channel: "web", Event: "begin",
	})
	require.NoError(t, err)
	require.Equal(t, "collect", res.State)

	stats, err = rig.versions.Stats("order-v2")
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.SampleSize)
}

func TestSchemaSanitizeAppliesDefaults(t *testing.T) {
	rig := newTestRig(t)
	rig.check.Register(&validator.Schema{
		Name: "order_ctx",
		Fields: map[string]validator.FieldSchema{
			"city": {Types: []string{"string"}, Default: "Lisbon"},
		},
	})
	def := orderDefinition("order")
	def.ContextSchema = "order_ctx"
	require.NoError(t, rig.defs.SaveDefinition(def))

	_, err := rig.engine.HandleEvent(context.Background(), model.EventRequest{
		ConversationId: "c1", FlowId: "order", Channel: "web", Event: "begin",
	})
	require.NoError(t, err)

	sess, err := rig.store.Load(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, "Lisbon", sess.Data["city"])
}

func TestTransitionLoopGuard(t *testing.T) {
	rig := newTestRig(t)
	def := model.FlowDefinition{
		Id: "loop", Name: "loop", Version: "v1", InitialState: "a",
		FinalStates: []string{"end"}, Enabled: true,
		States: map[string]model.FlowState{
			"a": {
				Type:        model.STATE_TYPE_ACTION,
				OnEntry:     []model.FlowAction{{Executor: "noop", Event: "go"}},
				Transitions: map[string]string{"go": "b"},
			},
			"b": {
				Type:        model.STATE_TYPE_ACTION,
				OnEntry:     []model.FlowAction{{Executor: "noop", Event: "go"}},
				Transitions: map[string]string{"go": "a"},
			},
			"end": {Type: model.STATE_TYPE_ACTION},
		},
	}
	require.NoError(t, rig.defs.SaveDefinition(def))

	_, err := rig.engine.HandleEvent(context.Background(), model.EventRequest{
		ConversationId: "c1", FlowId: "loop", Channel: "web", Event: "ignored",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "transitions in one step")
}

func TestDeterministicReplay(t *testing.T) {
	rig := newTestRig(t)
	require.NoError(t, rig.defs.SaveDefinition(orderDefinition("order")))
	ctx := context.Background()

	events := []model.EventRequest{
		{FlowId: "order", Channel: "web", Event: "begin"},
		{FlowId: "order", Channel: "web", Event: "provide_address", Data: map[string]any{"address": "12 Main St"}},
	}
	finalStates := make([]string, 0, 2)
	for _, conv := range []string{"replay-a", "replay-b"} {
		for _, ev := range events {
			ev.ConversationId = conv
			_, err := rig.engine.HandleEvent(ctx, ev)
			require.NoError(t, err)
		}
		sess, err := rig.store.Load(ctx, conv)
		require.NoError(t, err)
		finalStates = append(finalStates, sess.States["order"])
		require.Equal(t, "12 Main St", sess.Data["address"])
	}
	require.Equal(t, finalStates[0], finalStates[1])
}

func TestDisabledFlowRejected(t *testing.T) {
	rig := newTestRig(t)
	def := orderDefinition("order")
	def.Enabled = false
	require.NoError(t, rig.defs.SaveDefinition(def))

	_, err := rig.engine.HandleEvent(context.Background(), model.EventRequest{
		ConversationId: "c1", FlowId: "order", Channel: "web", Event: "begin",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "disabled")
}

func TestUnknownFlowFails(t *testing.T) {
	rig := newTestRig(t)
	_, err := rig.engine.HandleEvent(context.Background(), model.EventRequest{
		ConversationId: "c1", FlowId: "ghost", Channel: "web", Event: "begin",
	})
	require.Error(t, err)
	var nf persistence.NotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "ghost", nf.Id)
}

func TestOnErrorGeneratesNoDuplicateEnqueue(t *testing.T) {
	rig := newTestRig(t)
	require.NoError(t, rig.defs.SaveDefinition(orderDefinition("order")))
	ctx := context.Background()

	_, err := rig.engine.HandleEvent(ctx, model.EventRequest{
		ConversationId: "c1", FlowId: "order", Channel: "web", Event: "begin",
	})
	require.NoError(t, err)
	_, err = rig.engine.HandleEvent(ctx, model.EventRequest{
		ConversationId: "c1", FlowId: "order", Channel: "web", Event: "provide_address",
		Data: map[string]any{"address": "12 Main St"},
	})
	require.NoError(t, err)

	msgs, err := rig.store.PeekMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.NoError(t, rig.store.AcknowledgeMessages(ctx, "c1", 0))
	msgs, err = rig.store.PeekMessages(ctx, "c1")
	require.NoError(t, err)
	require.Empty(t, msgs)
}
