// Package plugin defines the capability contract the phase engine drives and
// the registry that maps phase names to ordered plugin lists.
package plugin

import (
	"context"

	"github.com/fyrsmithlabs/issueflow/internal/issue"
)

// Context is a descriptive token returned by Test and handed back to Act. Its
// meaning is private to the plugin that produced it.
type Context string

// Plugin is a unit of work that may claim an issue and act on it.
//
// Test reports the contexts in which the plugin applies right now; an empty
// result means it does not apply. Test may be called many times per phase while
// other plugins mutate the issue, and must not advance workflow state.
//
// Act performs side effects on the issue, including writing
// issue.CurrentPhase to redirect the engine.
type Plugin interface {
	// Kind identifies the plugin in arbiter labels ("<kind>:<context>").
	Kind() string
	Test(ctx context.Context, is *issue.Issue) ([]Context, error)
	Act(ctx context.Context, is *issue.Issue, pc Context) error
}

// Describer is implemented by plugins that carry a human readable description.
type Describer interface {
	Description() string
}

// Describe returns the plugin description, falling back to its kind.
func Describe(p Plugin) string {
	if d, ok := p.(Describer); ok {
		if desc := d.Description(); desc != "" {
			return desc
		}
	}
	return p.Kind()
}

// TestFunc and ActFunc are the closure forms of the two plugin operations.
type (
	TestFunc func(ctx context.Context, is *issue.Issue) ([]Context, error)
	ActFunc  func(ctx context.Context, is *issue.Issue, pc Context) error
)

// Func adapts a pair of closures into a Plugin.
type Func struct {
	Name  string
	Desc  string
	TestF TestFunc
	ActF  ActFunc
}

// NewFunc builds a closure-backed plugin.
func NewFunc(kind string, test TestFunc, act ActFunc) *Func {
	return &Func{Name: kind, TestF: test, ActF: act}
}

// Kind implements Plugin.
func (f *Func) Kind() string { return f.Name }

// Description implements Describer.
func (f *Func) Description() string { return f.Desc }

// Test implements Plugin. A nil TestFunc never matches.
func (f *Func) Test(ctx context.Context, is *issue.Issue) ([]Context, error) {
	if f.TestF == nil {
		return nil, nil
	}
	return f.TestF(ctx, is)
}

// Act implements Plugin. A nil ActFunc is a no-op.
func (f *Func) Act(ctx context.Context, is *issue.Issue, pc Context) error {
	if f.ActF == nil {
		return nil
	}
	return f.ActF(ctx, is, pc)
}
