package definition

import (
	"testing"

	"github.com/parley-labs/parley/model"
	"github.com/stretchr/testify/require"
)

const orderFlow = `
id: order
name: Order flow
version: v1
initialState: start
finalStates:
  - done
states:
  start:
    onEntry:
      - "message: Welcome to ordering"
      - executor: classify
        output: intent
        retryCount: 2
        onError: failed
    transitions:
      begin: collect
      failed: done
  collect:
    type: decision
    conditions:
      - "address != nil -> has_address"
      - expression: cart_count > 0
        event: has_cart
    transitions:
      has_address: done
      has_cart: done
  done:
    type: action
`

func TestParse(t *testing.T) {
	def, err := Parse([]byte(orderFlow))
	require.NoError(t, err)

	require.Equal(t, "order", def.Id)
	require.Equal(t, "v1", def.Version)
	require.True(t, def.Enabled)
	require.True(t, def.IsFinalState("done"))
	require.False(t, def.IsFinalState("start"))

	start := def.States["start"]
	require.Equal(t, model.STATE_TYPE_ACTION, start.Type)
	require.Len(t, start.OnEntry, 2)
	require.Equal(t, "message", start.OnEntry[0].Executor)
	require.Equal(t, "Welcome to ordering", start.OnEntry[0].Config["text"])
	require.Equal(t, "classify", start.OnEntry[1].Executor)
	require.Equal(t, 2, start.OnEntry[1].RetryCount)
	require.Equal(t, "failed", start.OnEntry[1].OnError)

	collect := def.States["collect"]
	require.Equal(t, model.STATE_TYPE_DECISION, collect.Type)
	require.Len(t, collect.Conditions, 2)
	require.Equal(t, "address != nil", collect.Conditions[0].Expression)
	require.Equal(t, "has_address", collect.Conditions[0].Event)
	require.Equal(t, "cart_count > 0", collect.Conditions[1].Expression)
}

func TestParseRejects(t *testing.T) {
	for scenario, doc := range map[string]string{
		"missing id": `
name: n
initialState: a
states:
  a: {}
`,
		"missing name": `
id: f
initialState: a
states:
  a: {}
`,
		"empty states": `
id: f
name: n
initialState: a
`,
		"initial state absent": `
id: f
name: n
initialState: missing
states:
  a: {}
`,
		"final state absent": `
id: f
name: n
initialState: a
finalStates: [missing]
states:
  a: {}
`,
		"dangling transition": `
id: f
name: n
initialState: a
states:
  a:
    transitions:
      go: nowhere
`,
	} {
		t.Run(scenario, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			verr, ok := err.(*ValidationError)
			require.True(t, ok)
			require.NotEmpty(t, verr.Errors)
		})
	}
}

func TestValidateNamesEntryAndExitActions(t *testing.T) {
	_, err := Parse([]byte(`
id: f
name: n
initialState: a
states:
  a:
    onEntry:
      - output: greeting
    onExit:
      - output: cleanup
`))
	require.Error(t, err)
	verr, ok := err.(*ValidationError)
	require.True(t, ok)
	require.Contains(t, verr.Errors, `state "a" entry action 0 has no executor`)
	require.Contains(t, verr.Errors, `state "a" exit action 0 has no executor`)
}

func TestParseDisabledFlag(t *testing.T) {
	def, err := Parse([]byte(`
id: f
name: n
enabled: false
initialState: a
states:
  a: {}
`))
	require.NoError(t, err)
	require.False(t, def.Enabled)
}
