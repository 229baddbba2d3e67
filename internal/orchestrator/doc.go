// Package orchestrator is the phase execution engine.
//
// Phases are visited in lexicographic order of name. Within a phase the engine
// repeatedly asks every plugin for the contexts in which it applies, drops the
// (kind, context) pairs it already ran in this invocation, and executes the
// rest according to the policy encoded in the phase name:
//
//	10-detect                 sequential: run the last candidate, re-test
//	20-remediate-alternative  alternative: run one candidate, chosen by the Arbiter
//	30-cleanup-parallel       parallel: run every candidate, re-test
//
// After each act the engine compares issue.CurrentPhase with the running
// phase. A mismatch abandons the phase and jumps to the named phase with a
// fresh already-run set; an unknown name falls through to the next phase.
// Each phase invocation adds the reward increment to issue.Reward.
//
// Plugin test and act failures, including panics, are logged, counted and
// skipped. Only arbiter failures and context cancellation end a pass early.
//
// # Usage
//
//	reg := plugin.NewRegistry()
//	reg.MustRegister("10-detect", detector)
//	orch := orchestrator.New(reg,
//	    orchestrator.WithArbiter(arb),
//	    orchestrator.WithLogger(logger),
//	)
//	res, err := orch.Process(ctx, is)
package orchestrator
