// Package dedupe holds recent tool call responses keyed by request ID so a
// retried call returns the first response instead of executing twice.
package dedupe
