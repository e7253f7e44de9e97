// Package bridge runs an external tool provider as a child process and speaks
// JSON-RPC 2.0 with it over newline-delimited stdin and stdout.
//
// One reader goroutine matches responses to pending calls by id and one
// writer goroutine serializes requests, so concurrent calls are pipelined.
// When the process exits every pending call fails with an IPC error and the
// next call may relaunch it.
package bridge
