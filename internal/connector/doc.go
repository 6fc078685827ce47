// Package connector provides the connector registry and tool routing core.
//
// # Overview
//
// A connector is a self-contained integration unit (Slack, Google Tasks, ...)
// that declares its tools in a manifest and executes them on request. The
// registry discovers connectors at startup, merges their tools into one
// catalog, and routes calls by bare or namespaced tool name.
//
// # Components
//
//   - Source: enumerates connector names and reads their manifests
//   - Factories: explicit name -> constructor table
//   - Registry: ordered, concurrently readable set of loaded connectors
//
// # Tool Names
//
// Every tool is listed twice in the catalog:
//
//	send_message         bare, first connector in registration order wins
//	slack.send_message   namespaced, always resolves to slack
//
// Namespaced names split on the first "." only. Connector names never contain
// a dot, so the split is unambiguous.
//
// # Usage
//
//	factories := connector.NewFactories()
//	integrations.RegisterAll(factories)
//
//	registry := connector.NewRegistry(source, factories, logger)
//	report := registry.LoadAll(ctx)
//
//	result, err := registry.Execute(ctx, "slack.send_message", params, auth)
package connector
