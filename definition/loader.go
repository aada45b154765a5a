package definition

import (
	"fmt"
	"strings"

	"github.com/parley-labs/parley/model"
	"gopkg.in/yaml.v3"
)

// ValidationError carries every structural problem found in one definition so
// operators can fix a file in a single round trip.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid flow definition: %s", strings.Join(e.Errors, "; "))
}

type rawDefinition struct {
	Id            string              `yaml:"id"`
	Name          string              `yaml:"name"`
	Version       string              `yaml:"version"`
	InitialState  string              `yaml:"initialState"`
	FinalStates   []string            `yaml:"finalStates"`
	ContextSchema string              `yaml:"contextSchema"`
	Enabled       *bool               `yaml:"enabled"`
	States        map[string]rawState `yaml:"states"`
}

type rawState struct {
	Type        string            `yaml:"type"`
	Actions     []rawAction       `yaml:"actions"`
	OnEntry     []rawAction       `yaml:"onEntry"`
	OnExit      []rawAction       `yaml:"onExit"`
	Transitions map[string]string `yaml:"transitions"`
	Conditions  []rawCondition    `yaml:"conditions"`
	Timeout     int               `yaml:"timeout"`
}

// rawAction accepts both the full object form and the single-line shorthand
// "executor: message text".
type rawAction struct {
	action model.FlowAction
}

func (ra *rawAction) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var line string
		if err := node.Decode(&line); err != nil {
			return err
		}
		executor, text, found := strings.Cut(line, ":")
		if !found {
			return fmt.Errorf("invalid action shorthand %q, want \"executor: text\"", line)
		}
		ra.action = model.FlowAction{
			Executor: strings.TrimSpace(executor),
			Config:   map[string]any{"text": strings.TrimSpace(text)},
		}
		return nil
	}
	return node.Decode(&ra.action)
}

// rawCondition accepts the full object form and the arrow shorthand
// "expression -> eventName".
type rawCondition struct {
	condition model.FlowCondition
}

func (rc *rawCondition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var line string
		if err := node.Decode(&line); err != nil {
			return err
		}
		expression, event, found := strings.Cut(line, "->")
		if !found {
			return fmt.Errorf("invalid condition shorthand %q, want \"expression -> event\"", line)
		}
		rc.condition = model.FlowCondition{
			Expression: strings.TrimSpace(expression),
			Event:      strings.TrimSpace(event),
		}
		return nil
	}
	return node.Decode(&rc.condition)
}

// Parse turns a YAML flow definition into its resolved model. Validation is
// purely structural; no execution, network, or storage is involved.
func Parse(raw []byte) (*model.FlowDefinition, error) {
	var rd rawDefinition
	if err := yaml.Unmarshal(raw, &rd); err != nil {
		return nil, &ValidationError{Errors: []string{err.Error()}}
	}
	def := convert(&rd)
	if errs := validate(def); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}
	return def, nil
}

func convert(rd *rawDefinition) *model.FlowDefinition {
	def := &model.FlowDefinition{
		Id:            rd.Id,
		Name:          rd.Name,
		Version:       rd.Version,
		InitialState:  rd.InitialState,
		FinalStates:   rd.FinalStates,
		ContextSchema: rd.ContextSchema,
		Enabled:       rd.Enabled == nil || *rd.Enabled,
		States:        make(map[string]model.FlowState, len(rd.States)),
	}
	for name, rs := range rd.States {
		st := model.FlowState{
			Type:           model.StateType(rs.Type),
			Transitions:    rs.Transitions,
			TimeoutSeconds: rs.Timeout,
		}
		if st.Type == "" {
			st.Type = model.STATE_TYPE_ACTION
		}
		// `actions` is an alias for `onEntry`; onEntry entries follow.
		for _, ra := range rs.Actions {
			st.OnEntry = append(st.OnEntry, ra.action)
		}
		for _, ra := range rs.OnEntry {
			st.OnEntry = append(st.OnEntry, ra.action)
		}
		for _, ra := range rs.OnExit {
			st.OnExit = append(st.OnExit, ra.action)
		}
		for _, rc := range rs.Conditions {
			st.Conditions = append(st.Conditions, rc.condition)
		}
		def.States[name] = st
	}
	return def
}

func validate(def *model.FlowDefinition) []string {
	var errs []string
	if def.Id == "" {
		errs = append(errs, "id is required")
	}
	if def.Name == "" {
		errs = append(errs, "name is required")
	}
	if len(def.States) == 0 {
		errs = append(errs, "at least one state is required")
		return errs
	}
	if def.InitialState == "" {
		errs = append(errs, "initialState is required")
	} else if _, ok := def.States[def.InitialState]; !ok {
		errs = append(errs, fmt.Sprintf("initial state %q is not defined", def.InitialState))
	}
	for _, final := range def.FinalStates {
		if _, ok := def.States[final]; !ok {
			errs = append(errs, fmt.Sprintf("final state %q is not defined", final))
		}
	}
	for name, st := range def.States {
		for event, target := range st.Transitions {
			if _, ok := def.States[target]; !ok {
				errs = append(errs, fmt.Sprintf("state %q transition %q targets undefined state %q", name, event, target))
			}
		}
		if st.Type != model.STATE_TYPE_ACTION && st.Type != model.STATE_TYPE_DECISION {
			errs = append(errs, fmt.Sprintf("state %q has unknown type %q", name, st.Type))
		}
		for i, cond := range st.Conditions {
			if cond.Expression == "" || cond.Event == "" {
				errs = append(errs, fmt.Sprintf("state %q condition %d needs an expression and an event", name, i))
			}
		}
		for i, act := range st.OnEntry {
			if act.Executor == "" {
				errs = append(errs, fmt.Sprintf("state %q entry action %d has no executor", name, i))
			}
		}
		for i, act := range st.OnExit {
			if act.Executor == "" {
				errs = append(errs, fmt.Sprintf("state %q exit action %d has no executor", name, i))
			}
		}
	}
	return errs
}
