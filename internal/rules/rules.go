// Package rules builds plugins from declarative YAML or TOML rule files.
//
// One file describes the plugins of one phase:
//
//	phase: 20-remediate-alternative
//	rules:
//	  - kind: RestartService
//	    description: restart a crashed unit
//	    test: 'status == "crashed" ? [service] : nil'
//	    set:
//	      action: '"restart"'
//	    unset: [status]
//	    jump: 10-detect
//
// Test and set values are expr expressions (github.com/expr-lang/expr)
// evaluated over the issue fields plus _current_phase and _reward; set
// expressions also see the chosen context as `context`.
package rules

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/fyrsmithlabs/issueflow/internal/issue"
	"github.com/fyrsmithlabs/issueflow/internal/plugin"
)

// ErrInvalidRule is wrapped by every validation failure.
var ErrInvalidRule = errors.New("invalid rule")

// Rule is one declarative plugin.
type Rule struct {
	Kind        string            `yaml:"kind" toml:"kind"`
	Description string            `yaml:"description" toml:"description"`
	Test        string            `yaml:"test" toml:"test"`
	Set         map[string]string `yaml:"set" toml:"set"`
	Unset       []string          `yaml:"unset" toml:"unset"`
	Jump        string            `yaml:"jump" toml:"jump"`
}

type assignment struct {
	key     string
	program *vm.Program
}

// Plugin is a compiled Rule. It implements plugin.Plugin and
// plugin.Describer.
type Plugin struct {
	rule Rule
	test *vm.Program
	set  []assignment
}

var _ plugin.Plugin = (*Plugin)(nil)

// Compile validates r and compiles its expressions.
func Compile(r Rule) (*Plugin, error) {
	r.Kind = strings.TrimSpace(r.Kind)
	switch {
	case r.Kind == "":
		return nil, fmt.Errorf("%w: kind is required", ErrInvalidRule)
	case strings.Contains(r.Kind, ":"):
		return nil, fmt.Errorf("%w: kind %q must not contain ':'", ErrInvalidRule, r.Kind)
	case strings.TrimSpace(r.Test) == "":
		return nil, fmt.Errorf("%w: %s: test is required", ErrInvalidRule, r.Kind)
	}

	test, err := expr.Compile(r.Test, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: test: %v", ErrInvalidRule, r.Kind, err)
	}

	keys := make([]string, 0, len(r.Set))
	for k := range r.Set {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p := &Plugin{rule: r, test: test}
	for _, k := range keys {
		if k == issue.KeyCurrentPhase || k == issue.KeyReward {
			return nil, fmt.Errorf("%w: %s: set %q is reserved, use jump", ErrInvalidRule, r.Kind, k)
		}
		prog, err := expr.Compile(r.Set[k], expr.AllowUndefinedVariables())
		if err != nil {
			return nil, fmt.Errorf("%w: %s: set %s: %v", ErrInvalidRule, r.Kind, k, err)
		}
		p.set = append(p.set, assignment{key: k, program: prog})
	}
	return p, nil
}

// Kind implements plugin.Plugin.
func (p *Plugin) Kind() string { return p.rule.Kind }

// Description implements plugin.Describer.
func (p *Plugin) Description() string { return p.rule.Description }

// Test implements plugin.Plugin.
func (p *Plugin) Test(_ context.Context, is *issue.Issue) ([]plugin.Context, error) {
	out, err := expr.Run(p.test, is.Env())
	if err != nil {
		return nil, fmt.Errorf("rule %s: test: %w", p.rule.Kind, err)
	}
	return contextsFrom(out), nil
}

// Act implements plugin.Plugin. All set expressions are evaluated before any
// field is written, so a failing expression leaves the issue untouched.
func (p *Plugin) Act(_ context.Context, is *issue.Issue, pc plugin.Context) error {
	env := is.Env()
	env["context"] = string(pc)

	values := make([]any, len(p.set))
	for i, a := range p.set {
		v, err := expr.Run(a.program, env)
		if err != nil {
			return fmt.Errorf("rule %s: set %s: %w", p.rule.Kind, a.key, err)
		}
		values[i] = v
	}
	for i, a := range p.set {
		if err := is.Set(a.key, values[i]); err != nil {
			return err
		}
	}
	for _, k := range p.rule.Unset {
		is.Delete(k)
	}
	if p.rule.Jump != "" {
		is.CurrentPhase = p.rule.Jump
	}
	return nil
}

// contextsFrom maps a test result to plugin contexts. Falsy values yield
// none, true yields "true", and lists yield one context per element.
func contextsFrom(v any) []plugin.Context {
	switch t := v.(type) {
	case nil:
		return nil
	case bool:
		if t {
			return []plugin.Context{"true"}
		}
		return nil
	case string:
		if t == "" {
			return nil
		}
		return []plugin.Context{plugin.Context(t)}
	case []string:
		out := make([]plugin.Context, 0, len(t))
		for _, s := range t {
			out = append(out, plugin.Context(s))
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]plugin.Context, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			e := rv.Index(i).Interface()
			if e == nil {
				continue
			}
			out = append(out, plugin.Context(fmt.Sprint(e)))
		}
		return out
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		if rv.IsZero() {
			return nil
		}
	}
	return []plugin.Context{plugin.Context(fmt.Sprint(v))}
}
