package util

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oliveagle/jsonpath"
)

var tokenRe = regexp.MustCompile(`{(.*?)}`)

// ResolveParams copies an action config, substituting values from working
// data. A string value that is exactly a `$`-prefixed jsonpath is replaced by
// the looked-up value; `{$...}` tokens inside longer strings are replaced
// inline. Maps and lists are resolved recursively.
func ResolveParams(workingData map[string]any, params map[string]any) map[string]any {
	output := make(map[string]any, len(params))
	resolveMap(workingData, params, output)
	return output
}

func resolveMap(workingData map[string]any, params map[string]any, output map[string]any) {
	for k, v := range params {
		output[k] = resolveValue(workingData, v)
	}
}

func resolveValue(workingData map[string]any, v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		resolveMap(workingData, val, out)
		return out
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			out = append(out, resolveValue(workingData, item))
		}
		return out
	case string:
		return resolveString(workingData, val)
	default:
		return v
	}
}

func resolveString(workingData map[string]any, s string) any {
	if strings.HasPrefix(s, "$") && !strings.Contains(s, " ") {
		value, err := jsonpath.JsonPathLookup(workingData, s)
		if err != nil {
			return nil
		}
		return value
	}
	tokens := tokenRe.FindAllString(s, -1)
	for _, token := range tokens {
		path := strings.TrimSuffix(strings.TrimPrefix(token, "{"), "}")
		if !strings.HasPrefix(path, "$") {
			continue
		}
		value, err := jsonpath.JsonPathLookup(workingData, path)
		if err != nil {
			continue
		}
		s = strings.ReplaceAll(s, token, fmt.Sprintf("%v", value))
	}
	return s
}
