// Package runner implements the coding agent main loop.
//
// A session repeatedly selects the next eligible task, drives the backend
// with a context built from that task alone, runs the commands the model
// proposes through the security validator, and writes the outcome back
// through the state provider before moving on. Limits, checkpoints and stop
// requests end the session gracefully; only provider failures are fatal.
package runner
