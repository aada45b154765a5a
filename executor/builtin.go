package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"
	"github.com/parley-labs/parley/model"
	"github.com/parley-labs/parley/util"
)

// NewBuiltinRegistry returns a registry with the core capabilities wired:
// message, set, script, and prompt (backed by the domain registry).
func NewBuiltinRegistry(domains *DomainRegistry) *Registry {
	r := NewRegistry()
	r.Register("message", MessageAction)
	r.Register("set", SetAction)
	r.Register("script", ScriptAction)
	r.Register("prompt", PromptAction(domains))
	return r
}

// MessageAction turns its config into a channel-neutral reply. Config values
// support `$`-path templating against working data.
func MessageAction(ctx context.Context, config map[string]any, workingData map[string]any) (*Result, error) {
	resolved := util.ResolveParams(workingData, config)
	reply := &model.Response{}
	if text, ok := resolved["text"].(string); ok {
		reply.Text = text
	}
	if rawButtons, ok := resolved["buttons"].([]any); ok {
		for _, rb := range rawButtons {
			switch b := rb.(type) {
			case string:
				reply.Buttons = append(reply.Buttons, model.Button{Id: b, Label: b, Value: b})
			case map[string]any:
				reply.Buttons = append(reply.Buttons, model.Button{
					Id:    str(b["id"]),
					Label: str(b["label"]),
					Value: str(b["value"]),
				})
			}
		}
	}
	if mediaURL, ok := resolved["mediaUrl"].(string); ok && mediaURL != "" {
		reply.Media = &model.Media{Type: str(resolved["mediaType"]), URL: mediaURL}
	}
	if loc, ok := resolved["requestLocation"].(bool); ok {
		reply.RequestLocation = loc
	}
	return &Result{Reply: reply}, nil
}

// SetAction writes its resolved config into working data. With no output
// binding the engine merges the map at the root.
func SetAction(ctx context.Context, config map[string]any, workingData map[string]any) (*Result, error) {
	return &Result{Output: util.ResolveParams(workingData, config)}, nil
}

// ScriptAction runs a javascript snippet with `$` bound to the working data
// and returns the mutated `$` as output.
func ScriptAction(ctx context.Context, config map[string]any, workingData map[string]any) (*Result, error) {
	source, _ := config["source"].(string)
	if source == "" {
		return nil, fmt.Errorf("script action needs a source")
	}
	data, err := json.Marshal(workingData)
	if err != nil {
		return nil, err
	}
	vm := goja.New()
	if _, err := vm.RunString(fmt.Sprintf("var $ = %s;\n%s", data, source)); err != nil {
		return nil, fmt.Errorf("error executing script %w", err)
	}
	value, err := vm.RunString("$")
	if err != nil {
		return nil, fmt.Errorf("error executing script %w", err)
	}
	output, ok := value.Export().(map[string]any)
	if !ok {
		return nil, fmt.Errorf("script must leave $ as an object")
	}
	return &Result{Output: output}, nil
}

// PromptAction resolves a domain module by id and asks it to describe the
// current context. The module set is closed and resolved at startup.
func PromptAction(domains *DomainRegistry) ActionFunc {
	return func(ctx context.Context, config map[string]any, workingData map[string]any) (*Result, error) {
		moduleId, _ := config["module"].(string)
		module, err := domains.Get(moduleId)
		if err != nil {
			return nil, err
		}
		prompt := module.Describe(workingData)
		return &Result{
			Output: map[string]any{"prompt": prompt},
			Reply:  &model.Response{Text: prompt},
		}, nil
	}
}

func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
