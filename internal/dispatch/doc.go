// Package dispatch is the single entry point callers use to read the tool
// catalog and to run tools.
//
// A Service wraps a connector.Registry. For each call it resolves the tool,
// fetches the caller's stored credentials for the owning connector, runs the
// connector under a deadline and folds every outcome into a CallResponse.
// Nothing a connector does, including panics and hangs, escapes Call.
//
// Failure kinds reported on CallResponse.Kind:
//
//   - tool_not_found: no loaded connector serves the name
//   - execution_failed: the connector returned an error, panicked, or
//     returned a result carrying an "error" field
//   - timeout: the connector did not finish within the call timeout
//   - auth_required: the connector asked the user to connect the service
//
// Successful calls that carry a RequestID are remembered for a short window
// so a retry returns the first response instead of running the tool again.
// Failed calls are not remembered; a retry runs the tool.
package dispatch
