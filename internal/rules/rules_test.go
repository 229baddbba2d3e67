package rules

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/issueflow/internal/issue"
	"github.com/fyrsmithlabs/issueflow/internal/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCompile(t *testing.T, r Rule) *Plugin {
	t.Helper()
	p, err := Compile(r)
	require.NoError(t, err)
	return p
}

func TestCompile_Validation(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
	}{
		{"missing kind", Rule{Test: "true"}},
		{"colon in kind", Rule{Kind: "a:b", Test: "true"}},
		{"missing test", Rule{Kind: "A"}},
		{"bad test", Rule{Kind: "A", Test: "status =="}},
		{"bad set", Rule{Kind: "A", Test: "true", Set: map[string]string{"x": "1 +"}}},
		{"reserved set", Rule{Kind: "A", Test: "true", Set: map[string]string{issue.KeyCurrentPhase: `"x"`}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.rule)
			assert.ErrorIs(t, err, ErrInvalidRule)
		})
	}
}

func TestTest_ResultMapping(t *testing.T) {
	is, err := issue.New(map[string]any{
		"services": []any{"api", "db"},
		"status":   "crashed",
		"count":    int64(0),
	})
	require.NoError(t, err)

	tests := []struct {
		expr string
		want []plugin.Context
	}{
		{`nil`, nil},
		{`false`, nil},
		{`true`, []plugin.Context{"true"}},
		{`""`, nil},
		{`status`, []plugin.Context{"crashed"}},
		{`count`, nil},
		{`count + 2`, []plugin.Context{"2"}},
		{`services`, []plugin.Context{"api", "db"}},
		{`[]`, []plugin.Context{}},
		{`missing`, nil},
		{`status == "crashed" ? map(services, {# + "!"}) : nil`, []plugin.Context{"api!", "db!"}},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			p := mustCompile(t, Rule{Kind: "K", Test: tt.expr})
			got, err := p.Test(context.Background(), is)
			require.NoError(t, err)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTest_SeesReservedFields(t *testing.T) {
	is := &issue.Issue{CurrentPhase: "10-detect", Reward: 2}
	p := mustCompile(t, Rule{Kind: "K", Test: `_current_phase == "10-detect" && _reward >= 2`})

	got, err := p.Test(context.Background(), is)
	require.NoError(t, err)
	assert.Equal(t, []plugin.Context{"true"}, got)
}

func TestTest_RuntimeError(t *testing.T) {
	is := &issue.Issue{Fields: map[string]any{"n": "text"}}
	p := mustCompile(t, Rule{Kind: "K", Test: `n / 2`})

	_, err := p.Test(context.Background(), is)
	assert.Error(t, err)
}

func TestAct_SetUnsetJump(t *testing.T) {
	is, err := issue.New(map[string]any{"status": "crashed", "attempts": int64(1)})
	require.NoError(t, err)
	is.CurrentPhase = "20-fix"

	p := mustCompile(t, Rule{
		Kind:  "Restart",
		Test:  "true",
		Set:   map[string]string{"attempts": "attempts + 1", "target": "context", "action": `"restart"`},
		Unset: []string{"status"},
		Jump:  "10-detect",
	})
	require.NoError(t, p.Act(context.Background(), is, "api"))

	assert.Equal(t, "api", is.String("target"))
	assert.Equal(t, "restart", is.String("action"))
	assert.Equal(t, "2", is.String("attempts"))
	assert.False(t, is.Has("status"))
	assert.Equal(t, "10-detect", is.CurrentPhase)
}

func TestAct_EvaluatesAgainstOriginalValues(t *testing.T) {
	is, err := issue.New(map[string]any{"a": int64(1), "b": int64(10)})
	require.NoError(t, err)

	p := mustCompile(t, Rule{Kind: "Swap", Test: "true", Set: map[string]string{"a": "b", "b": "a"}})
	require.NoError(t, p.Act(context.Background(), is, "true"))

	assert.Equal(t, "10", is.String("a"))
	assert.Equal(t, "1", is.String("b"))
}

func TestAct_FailureLeavesIssueUntouched(t *testing.T) {
	is, err := issue.New(map[string]any{"name": "x"})
	require.NoError(t, err)

	p := mustCompile(t, Rule{Kind: "K", Test: "true", Set: map[string]string{"a": `"ok"`, "b": "name / 2"}, Jump: "elsewhere"})
	assert.Error(t, p.Act(context.Background(), is, "true"))
	assert.False(t, is.Has("a"))
	assert.Empty(t, is.CurrentPhase)
}

func TestDescribe(t *testing.T) {
	p := mustCompile(t, Rule{Kind: "K", Description: "does things", Test: "true"})
	assert.Equal(t, "does things", plugin.Describe(p))
}
