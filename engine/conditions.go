package engine

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/parley-labs/parley/model"
)

// evaluateConditions returns the event of the first condition whose
// expression evaluates to true against the working data. Expressions see the
// working data keys as top-level variables; missing variables evaluate to nil
// rather than failing, so flows can branch on fields the user has not
// provided yet.
func evaluateConditions(conditions []model.FlowCondition, data map[string]any) (string, error) {
	for _, condition := range conditions {
		program, err := expr.Compile(condition.Expression,
			expr.Env(data),
			expr.AllowUndefinedVariables(),
		)
		if err != nil {
			return "", fmt.Errorf("condition %q: %w", condition.Expression, err)
		}
		out, err := expr.Run(program, data)
		if err != nil {
			return "", fmt.Errorf("condition %q: %w", condition.Expression, err)
		}
		if matched, ok := out.(bool); ok && matched {
			return condition.Event, nil
		}
	}
	return "", nil
}
