package validator

import (
	"fmt"
	"reflect"
	"regexp"
	"sync"

	"github.com/parley-labs/parley/logger"
	"go.uber.org/zap"
)

type FieldSchema struct {
	Types     []string               `json:"types" yaml:"types"`
	Required  bool                   `json:"required" yaml:"required"`
	Nullable  bool                   `json:"nullable" yaml:"nullable"`
	MinLength int                    `json:"minLength" yaml:"minLength"`
	MaxLength int                    `json:"maxLength" yaml:"maxLength"`
	Pattern   string                 `json:"pattern" yaml:"pattern"`
	Min       *float64               `json:"min" yaml:"min"`
	Max       *float64               `json:"max" yaml:"max"`
	Enum      []any                  `json:"enum" yaml:"enum"`
	Default   any                    `json:"default" yaml:"default"`
	Fields    map[string]FieldSchema `json:"fields" yaml:"fields"`
	Items     *FieldSchema           `json:"items" yaml:"items"`
}

type Schema struct {
	Name   string                 `json:"name" yaml:"name"`
	Fields map[string]FieldSchema `json:"fields" yaml:"fields"`
}

type Options struct {
	Strict   bool
	Sanitize bool
}

type Result struct {
	Valid         bool
	Errors        []string
	Warnings      []string
	SanitizedData map[string]any
}

// ContextValidator checks working data against registered schemas before step
// logic sees it. An unknown schema name passes data through untouched so a
// missing registration never blocks a live conversation.
type ContextValidator struct {
	mu       sync.RWMutex
	schemas  map[string]*Schema
	patterns map[string]*regexp.Regexp
}

func New() *ContextValidator {
	return &ContextValidator{
		schemas:  make(map[string]*Schema),
		patterns: make(map[string]*regexp.Regexp),
	}
}

func (cv *ContextValidator) Register(schema *Schema) {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	cv.schemas[schema.Name] = schema
}

func (cv *ContextValidator) Validate(schemaName string, data map[string]any, opts Options) *Result {
	cv.mu.RLock()
	schema, ok := cv.schemas[schemaName]
	cv.mu.RUnlock()
	if !ok {
		logger.Debug("no schema registered, passing data through", zap.String("schema", schemaName))
		return &Result{Valid: true, SanitizedData: data}
	}

	res := &Result{Valid: true}
	sanitized := data
	if opts.Sanitize {
		sanitized = make(map[string]any, len(data))
		for k, v := range data {
			sanitized[k] = v
		}
	}
	cv.validateFields(schema.Fields, data, sanitized, "", opts, res)
	res.SanitizedData = sanitized
	if len(res.Errors) > 0 {
		res.Valid = false
	}
	return res
}

func (cv *ContextValidator) validateFields(fields map[string]FieldSchema, data map[string]any, sanitized map[string]any, prefix string, opts Options, res *Result) {
	for name, fs := range fields {
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		value, present := data[name]
		if !present {
			if fs.Required {
				res.Errors = append(res.Errors, fmt.Sprintf("%s: required field missing", path))
			} else if opts.Sanitize && fs.Default != nil && sanitized != nil {
				sanitized[name] = fs.Default
			}
			continue
		}
		if value == nil {
			if !fs.Nullable {
				cv.report(res, opts, fmt.Sprintf("%s: null not allowed", path))
			}
			continue
		}
		cv.validateValue(fs, value, path, opts, res)
	}
}

func (cv *ContextValidator) validateValue(fs FieldSchema, value any, path string, opts Options, res *Result) {
	actual := typeName(value)
	if len(fs.Types) > 0 && !typeAllowed(fs.Types, actual) {
		cv.report(res, opts, fmt.Sprintf("%s: type %s not in %v", path, actual, fs.Types))
		return
	}

	switch v := value.(type) {
	case string:
		if fs.MinLength > 0 && len(v) < fs.MinLength {
			cv.report(res, opts, fmt.Sprintf("%s: shorter than %d", path, fs.MinLength))
		}
		if fs.MaxLength > 0 && len(v) > fs.MaxLength {
			cv.report(res, opts, fmt.Sprintf("%s: longer than %d", path, fs.MaxLength))
		}
		if fs.Pattern != "" {
			re := cv.pattern(fs.Pattern)
			if re != nil && !re.MatchString(v) {
				cv.report(res, opts, fmt.Sprintf("%s: does not match pattern", path))
			}
		}
	case map[string]any:
		if len(fs.Fields) > 0 {
			var nested map[string]any
			if opts.Sanitize {
				nested = v
			}
			cv.validateFields(fs.Fields, v, nested, path, opts, res)
		}
	case []any:
		if fs.Items != nil {
			for i, item := range v {
				if item == nil {
					continue
				}
				cv.validateValue(*fs.Items, item, fmt.Sprintf("%s[%d]", path, i), opts, res)
			}
		}
	}

	if num, ok := toFloat(value); ok {
		if fs.Min != nil && num < *fs.Min {
			cv.report(res, opts, fmt.Sprintf("%s: below minimum %v", path, *fs.Min))
		}
		if fs.Max != nil && num > *fs.Max {
			cv.report(res, opts, fmt.Sprintf("%s: above maximum %v", path, *fs.Max))
		}
	}

	if len(fs.Enum) > 0 {
		found := false
		for _, allowed := range fs.Enum {
			if reflect.DeepEqual(allowed, value) {
				found = true
				break
			}
		}
		if !found {
			cv.report(res, opts, fmt.Sprintf("%s: value not in enum", path))
		}
	}
}

// report records a constraint violation: an error in strict mode, a warning
// otherwise. Required-field misses bypass this and are always errors.
func (cv *ContextValidator) report(res *Result, opts Options, msg string) {
	if opts.Strict {
		res.Errors = append(res.Errors, msg)
	} else {
		res.Warnings = append(res.Warnings, msg)
	}
}

func (cv *ContextValidator) pattern(expr string) *regexp.Regexp {
	cv.mu.RLock()
	re, ok := cv.patterns[expr]
	cv.mu.RUnlock()
	if ok {
		return re
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		logger.Warn("invalid schema pattern", zap.String("pattern", expr), zap.Error(err))
		return nil
	}
	cv.mu.Lock()
	cv.patterns[expr] = re
	cv.mu.Unlock()
	return re
}

func typeAllowed(types []string, actual string) bool {
	for _, t := range types {
		if t == actual || t == "any" {
			return true
		}
		if t == "number" && actual == "integer" {
			return true
		}
	}
	return false
}

func typeName(value any) string {
	switch v := value.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int32, int64:
		return "integer"
	case float32:
		return "number"
	case float64:
		if v == float64(int64(v)) {
			return "integer"
		}
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return reflect.TypeOf(value).String()
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}
