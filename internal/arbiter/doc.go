// Package arbiter provides implementations of orchestrator.Arbiter.
//
//   - First picks the first offered label, the engine's default.
//   - HTTP asks a remote decision service and reports episode ends to it.
//   - Bandit learns in process with an epsilon-greedy policy credited with
//     each issue's final reward.
//
// New selects one from configuration.
package arbiter
