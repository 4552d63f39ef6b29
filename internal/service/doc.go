// Package service posts a text to several services, each backed by an
// external command line program.
//
// Overview
// A Broadcaster validates the text, copies the requested services and the
// command registry, and starts one Runner per known service. Broadcast
// returns right after the commands are started. Completion is reported
// through a model.Notifier and the returned Dispatch.
//
// Runner is a thin, opinionated wrapper around os/exec:
//   - starts the process
//   - writes the text to stdin and closes it
//   - captures stdout
//   - optionally forwards stderr lines to a callback
//   - exposes a channel of Result values
//
// Data flow:
//
//	Broadcaster          parallel.Map             Runner{cmd}
//	    |                     |                       |
//	Broadcast --- jobs ------>| post() -------------->| Start()
//	    |                     |                       | exec.Start + Wait() in goroutine
//	    |                     |<------ Result --------| (process exits)
//	aggregate <-- Outcome ----|                       |
//	    |
//	Notify("Posted to x (k/n)")
//
// Invariants:
//   - Each Broadcast owns its counters in its own aggregate goroutine.
//   - Unknown services are reported and never counted in the total.
//   - Each started command produces exactly one Outcome.
//   - Canceling the Broadcast context kills the running commands.
package service
