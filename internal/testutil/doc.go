// Package testutil provides shared test utilities for autocoder.
//
// # Fixtures
//
// The fixtures.go file provides sample data for testing:
//
//   - SampleSpec - a small specification document
//   - SampleBreakdownFenced, SampleBreakdownJSON, SampleBreakdownLines,
//     SampleProse - model replies for each extraction strategy and for none
//   - AuthTasks() - the three-task AUTH scenario spanning two phases
//   - CompleteReply, BlockedReply, ContinueReply - runner turn replies
//
// # Environment Helpers
//
// The env.go file provides test environment setup:
//
//   - SetupProject(t) - temp project with .autocoder/, default config and a
//     file provider
//   - SeedTasks(t, p, tasks) - creates tasks and returns their IDs
//   - NewTestLogger(t) - a debug logger writing to an inspectable buffer
//   - MustMarshalJSON, MustUnmarshalJSON, WriteTestFile
//
// # Assertions
//
// The assertions.go file provides custom test assertions:
//
//   - AssertTaskStatus(t, p, id, status)
//   - AssertCounts(t, p, done, inProgress, blocked, todo)
//   - AssertAudit(t, basePath, kind) - returns the matching audit entries
//
// # Usage
//
//	func TestSomething(t *testing.T) {
//	    basePath, cfg, provider := testutil.SetupProject(t)
//	    ids := testutil.SeedTasks(t, provider, testutil.AuthTasks())
//	    // ... run test ...
//	    testutil.AssertTaskStatus(t, provider, ids[0], state.StatusDone)
//	}
package testutil
